package plugins

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/severity"
)

// userPlaceholder in a password is replaced by the username being tried.
const userPlaceholder = "%user%"

var (
	defaultUsernames = []string{"root", "admin", "user", "test"}
	defaultPasswords = []string{"", userPlaceholder, "password", "admin", "root", "123456", "qwerty"}
)

// errProtocol marks a response that shows the service is not speaking the
// expected protocol. Guessing stops at once.
var errProtocol = errors.New("protocol error")

type credential struct {
	Username string
	Password string
}

func (c credential) String() string { return c.Username + ":" + c.Password }

// credentials expands the "usernames" and "passwords" options (lists or
// comma strings) into user-major order. A nil users slice means the
// protocol authenticates with a password only.
func credentials(o params.Params, users []string) []credential {
	if users != nil {
		users = o.StringSlice("usernames", users)
	} else {
		users = []string{""}
	}
	passwords := defaultPasswords
	if o.Has("passwords") {
		passwords = o.StringSlice("passwords", nil)
	}

	seen := map[credential]bool{}
	var out []credential
	for _, u := range users {
		for _, p := range passwords {
			c := credential{Username: u, Password: strings.ReplaceAll(p, userPlaceholder, u)}
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// checkFunc tries one credential. It returns (false, nil) when the
// credential is rejected, an error wrapping attack.ErrConnection when the
// service could not be reached and errProtocol for anything unexpected.
type checkFunc func(ctx context.Context, t attack.Target, c credential) (bool, error)

// guessOptions reads the pacing options shared by every credential vector.
type guessOptions struct {
	maxAttempts   int
	rate          rate.Limit
	stopOnSuccess bool
	maxConnErrors int
}

func readGuessOptions(o params.Params) guessOptions {
	g := guessOptions{
		maxAttempts:   o.Int("max_attempts", 50),
		rate:          rate.Limit(o.Int("rate", 5)),
		stopOnSuccess: o.Bool("stop_on_success", true),
		maxConnErrors: o.Int("max_connection_errors", 3),
	}
	if g.rate <= 0 {
		g.rate = rate.Inf
	}
	if g.maxConnErrors < 1 {
		g.maxConnErrors = 1
	}
	return g
}

// guessCredentials tries creds against t, paced by a rate limiter and
// bounded by max_attempts. Consecutive connection failures abort the run
// with an error the engine may retry.
func guessCredentials(ctx context.Context, t attack.Target, o params.Params, creds []credential, check checkFunc) (*attack.Outcome, error) {
	g := readGuessOptions(o)
	if g.maxAttempts > 0 && len(creds) > g.maxAttempts {
		creds = creds[:g.maxAttempts]
	}
	limiter := rate.NewLimiter(g.rate, 1)

	var (
		valid     []string
		attempts  int
		connFails int
	)
	start := time.Now()
	for _, c := range creds {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		attempts++
		ok, err := check(ctx, t, c)
		switch {
		case err == nil:
			connFails = 0
		case errors.Is(err, attack.ErrConnection):
			connFails++
			if connFails >= g.maxConnErrors {
				return nil, fmt.Errorf("%d consecutive failures after %d attempts: %w", connFails, attempts, err)
			}
			continue
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if ok {
			valid = append(valid, c.String())
			if g.stopOnSuccess {
				break
			}
		}
	}

	out := &attack.Outcome{
		Severity: severity.Info,
		Findings: map[string]any{
			"attempts":         attempts,
			"duration_seconds": time.Since(start).Seconds(),
		},
	}
	if len(valid) == 0 {
		out.Details = fmt.Sprintf("no valid credentials among %d attempts", attempts)
		return out, nil
	}
	out.Positive = true
	out.Severity = severity.Critical
	out.Details = fmt.Sprintf("valid credentials found on %s after %d attempts", t, attempts)
	out.Findings["valid_credentials"] = valid
	out.Recommendations = []string{
		"Change the compromised passwords immediately",
		"Enforce a strong password policy",
		"Limit authentication attempts or add fail2ban-style blocking",
	}
	return out, nil
}

// connErr wraps err as a transient connection failure.
func connErr(err error) error {
	return fmt.Errorf("%w: %v", attack.ErrConnection, err)
}

// protoErr wraps err as a protocol failure.
func protoErr(err error) error {
	return fmt.Errorf("%w: %v", errProtocol, err)
}

// networkFailure reports whether msg looks like a transport-level error.
func networkFailure(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{
		"timeout",
		"connection refused",
		"no route to host",
		"network is unreachable",
		"connection reset",
		"broken pipe",
		"actively refused",
		"i/o timeout",
		"deadline exceeded",
		"eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
