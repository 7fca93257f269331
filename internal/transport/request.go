// Package transport is the HTTP client used by web attack vectors.
package transport

import (
	"maps"
	"time"
)

// Request is a single HTTP probe.
type Request struct {
	// Method defaults to GET.
	Method string
	URL    string

	Headers map[string]string
	Body    string

	// FollowRedirects overrides the client setting when non-nil.
	FollowRedirects *bool

	// Timeout overrides the client timeout when positive.
	Timeout time.Duration
}

// Clone returns a deep copy of the Request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Headers != nil {
		clone.Headers = maps.Clone(r.Headers)
	}
	if r.FollowRedirects != nil {
		v := *r.FollowRedirects
		clone.FollowRedirects = &v
	}
	return &clone
}
