package plugins

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/severity"
	"github.com/0x6d61/warden/internal/transport"
)

// webProbe holds the HTTP client shared by the web server plugins.
type webProbe struct {
	client transport.Client
}

func newWebProbe(cfg params.Params) (webProbe, error) {
	c, err := transport.NewClient(transport.ClientOptions{
		Timeout:   cfg.Duration("timeout", 10*time.Second),
		ProxyURL:  cfg.String("proxy", ""),
		VerifyTLS: cfg.Bool("verify_tls", false),
		UserAgent: cfg.String("user_agent", ""),
		MaxRPS:    float64(cfg.Int("rate", 0)),
	})
	if err != nil {
		return webProbe{}, err
	}
	return webProbe{client: c}, nil
}

func (w webProbe) get(ctx context.Context, url string) (*transport.Response, error) {
	resp, err := w.client.Do(ctx, &transport.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, connErr(err)
	}
	return resp, nil
}

type headerCheck struct {
	name  string
	https bool // only meaningful over TLS
	fix   string
}

var securityHeaderChecks = []headerCheck{
	{name: "X-Frame-Options", fix: "Send X-Frame-Options: SAMEORIGIN to prevent clickjacking"},
	{name: "X-Content-Type-Options", fix: "Send X-Content-Type-Options: nosniff to prevent MIME sniffing"},
	{name: "Strict-Transport-Security", https: true, fix: "Enable HSTS to enforce HTTPS"},
	{name: "Content-Security-Policy", fix: "Define a Content-Security-Policy"},
}

// securityHeaders reports hardening headers missing from the front page.
func (w webProbe) securityHeaders(ctx context.Context, t attack.Target, opts params.Params) (*attack.Outcome, error) {
	resp, err := w.get(ctx, t.URL()+opts.String("path", "/"))
	if err != nil {
		return nil, err
	}

	tls := resp.TLSVersion != 0
	var (
		missing []string
		recs    []string
	)
	for _, h := range securityHeaderChecks {
		if h.https && !tls {
			continue
		}
		if resp.Headers.Get(h.name) == "" {
			missing = append(missing, h.name)
			recs = append(recs, h.fix)
		}
	}

	out := &attack.Outcome{
		Severity: severity.Info,
		Details:  "all checked security headers are present",
		Findings: map[string]any{"status": resp.StatusCode},
	}
	if tls {
		out.Findings["tls_version"] = resp.TLSVersionName()
	}
	if len(missing) == 0 {
		return out, nil
	}
	out.Positive = true
	out.Severity = severity.Low
	for _, m := range missing {
		if m != "Content-Security-Policy" {
			out.Severity = severity.Medium
		}
	}
	out.Details = "missing security headers: " + strings.Join(missing, ", ")
	out.Findings["missing_headers"] = missing
	out.Recommendations = recs
	return out, nil
}

// serverVersion matches a product token carrying a version number.
var serverVersion = regexp2.MustCompile(`(?<product>[A-Za-z][\w.-]*)/(?<version>\d+(?:\.\d+)*)`, regexp2.None)

// versionDisclosure reports version numbers leaked in response headers.
func (w webProbe) versionDisclosure(ctx context.Context, t attack.Target, opts params.Params) (*attack.Outcome, error) {
	resp, err := w.get(ctx, t.URL()+opts.String("path", "/"))
	if err != nil {
		return nil, err
	}

	leaked := map[string]any{}
	var products []string
	for _, h := range []string{"Server", "X-Powered-By", "X-AspNet-Version"} {
		v := resp.Headers.Get(h)
		if v == "" {
			continue
		}
		m, err := serverVersion.FindStringMatch(v)
		if err != nil || m == nil {
			continue
		}
		leaked[h] = v
		products = append(products, m.GroupByName("product").String()+" "+m.GroupByName("version").String())
	}

	if len(leaked) == 0 {
		return &attack.Outcome{
			Severity: severity.Info,
			Details:  "no version information in response headers",
		}, nil
	}
	return &attack.Outcome{
		Positive: true,
		Severity: severity.Low,
		Details:  "server discloses version information: " + strings.Join(products, ", "),
		Findings: map[string]any{"headers": leaked},
		Recommendations: []string{
			"Hide version numbers from response headers (server_tokens off / ServerTokens Prod)",
		},
	}, nil
}

var defaultListingPaths = []string{"/", "/icons/", "/images/", "/uploads/", "/static/", "/backup/"}

// directoryListing requests a few common paths and looks for generated
// index pages.
func (w webProbe) directoryListing(ctx context.Context, t attack.Target, opts params.Params) (*attack.Outcome, error) {
	paths := opts.StringSlice("paths", defaultListingPaths)
	var (
		listed  []string
		lastErr error
	)
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		resp, err := w.get(ctx, t.URL()+p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK && looksLikeIndex(resp.BodyString()) {
			listed = append(listed, p)
		}
	}
	if len(listed) == 0 && lastErr != nil {
		return nil, lastErr
	}
	if len(listed) == 0 {
		return &attack.Outcome{
			Severity: severity.Info,
			Details:  fmt.Sprintf("no directory listing on %d paths", len(paths)),
		}, nil
	}
	return &attack.Outcome{
		Positive:        true,
		Severity:        severity.Medium,
		Details:         "directory listing enabled on " + strings.Join(listed, ", "),
		Findings:        map[string]any{"paths": listed},
		Recommendations: []string{"Disable automatic directory indexes (Options -Indexes / autoindex off)"},
	}, nil
}

func looksLikeIndex(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "<title>index of /") ||
		strings.Contains(lower, "<h1>index of /") ||
		strings.Contains(lower, "<title>directory listing for")
}
