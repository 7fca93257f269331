package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when no User-Agent is configured.
const DefaultUserAgent = "warden"

// DefaultMaxBodyBytes bounds how much of a response body is read.
const DefaultMaxBodyBytes = 1 << 20

// Client sends HTTP probes.
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	Stats() *TransportStats
}

// TransportStats holds aggregate statistics for the transport client.
type TransportStats struct {
	TotalRequests int64
	TotalDuration time.Duration
	AvgDuration   time.Duration
}

// ClientOptions configures a DefaultClient.
type ClientOptions struct {
	Timeout time.Duration

	// ProxyURL is an optional HTTP proxy.
	ProxyURL string

	FollowRedirects bool

	// VerifyTLS enables certificate verification. Targets under test often
	// use self-signed certificates, so it is off by default.
	VerifyTLS bool

	UserAgent string

	// MaxRPS is the maximum requests per second (0 = unlimited).
	MaxRPS float64

	// MaxBodyBytes caps the bytes read per response (0 = default).
	MaxBodyBytes int64
}

// DefaultClient implements Client on net/http.
type DefaultClient struct {
	httpClient *http.Client
	opts       ClientOptions
	limiter    *rate.Limiter

	mu              sync.Mutex
	totalRequests   int64
	totalDurationNs int64
}

// NewClient creates a DefaultClient.
func NewClient(opts ClientOptions) (*DefaultClient, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !opts.VerifyTLS,
		},
		ForceAttemptHTTP2: true,
	}
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		if proxyURL.Scheme == "" || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL: missing scheme or host")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
	if !opts.FollowRedirects {
		client.CheckRedirect = noRedirect
	}

	dc := &DefaultClient{httpClient: client, opts: opts}
	if opts.MaxRPS > 0 {
		dc.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}
	return dc, nil
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

// Do sends req and reads at most MaxBodyBytes of the response body.
func (c *DefaultClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpClient := c.httpClient
	if req.FollowRedirects != nil || req.Timeout > 0 {
		cc := *c.httpClient
		if req.Timeout > 0 {
			cc.Timeout = req.Timeout
		}
		if req.FollowRedirects != nil {
			if *req.FollowRedirects {
				cc.CheckRedirect = nil
			} else {
				cc.CheckRedirect = noRedirect
			}
		}
		httpClient = &cc
	}

	start := time.Now()
	httpResp, err := httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	truncated := int64(len(data)) > c.opts.MaxBodyBytes
	if truncated {
		data = data[:c.opts.MaxBodyBytes]
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       data,
		Truncated:  truncated,
		Duration:   duration,
		URL:        httpResp.Request.URL.String(),
		Protocol:   fmt.Sprintf("HTTP/%d.%d", httpResp.ProtoMajor, httpResp.ProtoMinor),
	}
	if httpResp.TLS != nil {
		resp.TLSVersion = httpResp.TLS.Version
	}

	c.mu.Lock()
	c.totalRequests++
	c.totalDurationNs += duration.Nanoseconds()
	c.mu.Unlock()

	return resp, nil
}

// Stats returns aggregate transport statistics.
func (c *DefaultClient) Stats() *TransportStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := &TransportStats{
		TotalRequests: c.totalRequests,
		TotalDuration: time.Duration(c.totalDurationNs),
	}
	if c.totalRequests > 0 {
		stats.AvgDuration = time.Duration(c.totalDurationNs / c.totalRequests)
	}
	return stats
}
