package attack

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// Resolver looks up the addresses of a host name. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Policy decides which targets may be attacked. A target is ineligible
// when its address falls in a prohibited prefix or its name matches a
// prohibited host pattern.
type Policy struct {
	prefixes []netip.Prefix
	hosts    []string
	resolver Resolver
}

// ProhibitedError explains why a target was rejected.
type ProhibitedError struct {
	Target string
	Reason string
}

func (e *ProhibitedError) Error() string {
	return fmt.Sprintf("attack: target %s is not eligible: %s", e.Target, e.Reason)
}

// NewPolicy builds a policy from CIDRs or single addresses and host
// patterns ("db.internal", "*.corp.example"). A non-nil resolver makes the
// policy check every address a host name resolves to.
func NewPolicy(prohibited, hosts []string, resolver Resolver) (*Policy, error) {
	p := &Policy{resolver: resolver}
	for _, s := range prohibited {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			pfx, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("attack: prohibited range %q: %w", s, err)
			}
			p.prefixes = append(p.prefixes, pfx.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("attack: prohibited address %q: %w", s, err)
		}
		addr = addr.Unmap().WithZone("")
		p.prefixes = append(p.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			p.hosts = append(p.hosts, h)
		}
	}
	return p, nil
}

// Check returns nil when t may be attacked, or a *ProhibitedError.
func (p *Policy) Check(ctx context.Context, t Target) error {
	if p == nil {
		return nil
	}
	host := strings.ToLower(strings.TrimSuffix(t.Host, "."))

	if addr, err := netip.ParseAddr(host); err == nil {
		return p.checkAddr(t, addr)
	}
	if strings.Contains(host, ":") {
		// Only address literals contain colons.
		return &ProhibitedError{Target: t.String(), Reason: fmt.Sprintf("malformed address %q", host)}
	}

	for _, pattern := range p.hosts {
		if hostMatches(host, pattern) {
			return &ProhibitedError{Target: t.String(), Reason: fmt.Sprintf("host matches %q", pattern)}
		}
	}

	if p.resolver == nil {
		return nil
	}
	addrs, err := p.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		// Fail closed: an unverifiable host is never attacked.
		return &ProhibitedError{Target: t.String(), Reason: fmt.Sprintf("cannot resolve %s: %v", host, err)}
	}
	for _, a := range addrs {
		if err := p.checkAddr(t, a); err != nil {
			return err
		}
	}
	return nil
}

// checkAddr ignores any zone: a prefix never contains a zoned address.
func (p *Policy) checkAddr(t Target, addr netip.Addr) error {
	addr = addr.Unmap().WithZone("")
	for _, pfx := range p.prefixes {
		if pfx.Contains(addr) {
			return &ProhibitedError{Target: t.String(), Reason: fmt.Sprintf("%s is in prohibited range %s", addr, pfx)}
		}
	}
	return nil
}

// hostMatches supports exact names and "*.suffix" wildcards.
func hostMatches(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(suffix, ".") {
		return strings.HasSuffix(host, suffix)
	}
	return false
}
