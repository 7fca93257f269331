package transport

import (
	"crypto/tls"
	"net/http"
	"time"
)

// Response is the result of a Request. Body is truncated to the client's
// MaxBodyBytes.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Duration   time.Duration

	// URL is the final URL after any redirects.
	URL      string
	Protocol string

	// TLSVersion is zero for plain HTTP.
	TLSVersion uint16
}

// BodyString returns the response body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// TLSVersionName returns e.g. "TLS 1.2", or "" for plain HTTP.
func (r *Response) TLSVersionName() string {
	if r.TLSVersion == 0 {
		return ""
	}
	return tls.VersionName(r.TLSVersion)
}
