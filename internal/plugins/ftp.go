package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/severity"
)

// FTP tests FTP servers for anonymous access and weak credentials.
type FTP struct {
	base
	timeout time.Duration
}

// NewFTP returns an uninitialised FTP plugin.
func NewFTP() *FTP {
	return &FTP{base: base{
		name: "ftp",
		caps: []string{"ftp", "file_transfer", "weak_credentials"},
	}}
}

// Initialize reads "timeout".
func (p *FTP) Initialize(cfg params.Params) error {
	if err := p.base.Initialize(cfg); err != nil {
		return err
	}
	p.timeout = cfg.Duration("timeout", 5*time.Second)
	return nil
}

// DefaultPort implements attack.Source.
func (p *FTP) DefaultPort() int { return 21 }

// Vectors implements attack.Source.
func (p *FTP) Vectors(params.Params) []attack.Vector {
	return []attack.Vector{
		attack.NewVector("anonymous-login", p.anonymous),
		attack.NewVector("weak-credentials", p.weakCredentials),
	}
}

func (p *FTP) anonymous(ctx context.Context, t attack.Target, _ params.Params) (*attack.Outcome, error) {
	ok, err := p.login(ctx, t, credential{Username: "anonymous", Password: "anonymous@example.com"})
	if err != nil {
		return nil, err
	}
	if !ok {
		return &attack.Outcome{Severity: severity.Info, Details: "anonymous login refused"}, nil
	}
	return &attack.Outcome{
		Positive: true,
		Severity: severity.High,
		Details:  fmt.Sprintf("FTP server on %s allows anonymous login", t),
		Recommendations: []string{
			"Disable anonymous FTP access",
			"Replace FTP with SFTP or FTPS",
		},
	}, nil
}

func (p *FTP) weakCredentials(ctx context.Context, t attack.Target, opts params.Params) (*attack.Outcome, error) {
	o := p.options(opts)
	return guessCredentials(ctx, t, o, credentials(o, defaultUsernames), p.login)
}

func (p *FTP) login(ctx context.Context, t attack.Target, c credential) (bool, error) {
	conn, err := ftp.Dial(t.Addr(), ftp.DialWithContext(ctx), ftp.DialWithTimeout(p.timeout))
	if err != nil {
		return false, connErr(err)
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login(c.Username, c.Password); err != nil {
		return classifyFTPError(err)
	}
	return true, nil
}

func classifyFTPError(err error) (bool, error) {
	var tp *textproto.Error
	if errors.As(err, &tp) {
		switch tp.Code {
		case ftp.StatusNotLoggedIn:
			return false, nil
		case ftp.StatusNotAvailable:
			return false, connErr(err)
		}
		return false, protoErr(err)
	}
	if networkFailure(err.Error()) {
		return false, connErr(err)
	}
	// A refusal of the USER command carries only the server's message.
	return false, nil
}
