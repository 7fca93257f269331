package attack

import (
	"context"
	"net"
	"time"
)

// Prober checks that a target is reachable before any vector runs.
type Prober interface {
	Probe(ctx context.Context, t Target) error
}

// TCPProber opens and closes a TCP connection.
type TCPProber struct {
	Timeout time.Duration
}

// Probe implements Prober.
func (p TCPProber) Probe(ctx context.Context, t Target) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return err
	}
	return conn.Close()
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, t Target) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, t Target) error { return f(ctx, t) }
