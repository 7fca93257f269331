package attack

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Target is a parsed attack target.
type Target struct {
	Raw    string `json:"raw"`
	Scheme string `json:"scheme,omitempty"`
	Host   string `json:"host"`
	Port   int    `json:"port,omitempty"`
}

// ParseTarget accepts "host", "host:port", "[v6]:port", a bare IPv6
// address or a URL ("https://host:8443/path").
func ParseTarget(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, fmt.Errorf("attack: empty target")
	}
	t := Target{Raw: raw}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Target{}, fmt.Errorf("attack: invalid target %q: %w", raw, err)
		}
		t.Scheme = strings.ToLower(u.Scheme)
		t.Host = u.Hostname()
		if p := u.Port(); p != "" {
			port, err := parsePort(p)
			if err != nil {
				return Target{}, fmt.Errorf("attack: invalid target %q: %w", raw, err)
			}
			t.Port = port
		} else {
			t.Port = schemePort(t.Scheme)
		}
	} else if host, port, err := net.SplitHostPort(s); err == nil {
		t.Host = host
		if t.Port, err = parsePort(port); err != nil {
			return Target{}, fmt.Errorf("attack: invalid target %q: %w", raw, err)
		}
	} else {
		t.Host = strings.Trim(s, "[]")
	}

	if t.Host == "" || strings.ContainsAny(t.Host, " /\\") {
		return Target{}, fmt.Errorf("attack: invalid target %q: missing host", raw)
	}
	return t, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return p, nil
}

func schemePort(scheme string) int {
	switch scheme {
	case "http":
		return 80
	case "https":
		return 443
	case "ssh":
		return 22
	case "ftp":
		return 21
	case "redis":
		return 6379
	case "mysql":
		return 3306
	case "postgres", "postgresql":
		return 5432
	case "mongodb":
		return 27017
	}
	return 0
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// URL returns a base URL for HTTP vectors, defaulting the scheme by port.
func (t Target) URL() string {
	scheme := t.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "http"
		if t.Port == 443 || t.Port == 8443 {
			scheme = "https"
		}
	}
	if (scheme == "http" && t.Port == 80) || (scheme == "https" && t.Port == 443) || t.Port == 0 {
		return scheme + "://" + hostForURL(t.Host)
	}
	return scheme + "://" + t.Addr()
}

func hostForURL(h string) string {
	if strings.Contains(h, ":") {
		return "[" + h + "]"
	}
	return h
}

func (t Target) String() string {
	if t.Port == 0 {
		return t.Host
	}
	return t.Addr()
}
