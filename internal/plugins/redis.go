package plugins

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/severity"
)

// Redis tests Redis servers for missing or weak authentication.
type Redis struct {
	base
	timeout time.Duration
}

// NewRedis returns an uninitialised Redis plugin.
func NewRedis() *Redis {
	return &Redis{base: base{
		name: "redis",
		caps: []string{"redis", "database", "cache", "weak_credentials"},
	}}
}

// Initialize reads "timeout".
func (p *Redis) Initialize(cfg params.Params) error {
	if err := p.base.Initialize(cfg); err != nil {
		return err
	}
	p.timeout = cfg.Duration("timeout", 3*time.Second)
	return nil
}

// DefaultPort implements attack.Source.
func (p *Redis) DefaultPort() int { return 6379 }

// Vectors implements attack.Source.
func (p *Redis) Vectors(params.Params) []attack.Vector {
	return []attack.Vector{
		attack.NewVector("unauthenticated-access", p.unauthenticated),
		attack.NewVector("weak-password", p.weakPassword),
	}
}

func (p *Redis) client(t attack.Target, c credential) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            t.Addr(),
		Username:        c.Username,
		Password:        c.Password,
		Protocol:        2,
		DisableIdentity: true,
		DialTimeout:     p.timeout,
		ReadTimeout:     p.timeout,
		WriteTimeout:    p.timeout,
		MaxRetries:      -1,
		PoolSize:        1,
	})
}

func (p *Redis) unauthenticated(ctx context.Context, t attack.Target, _ params.Params) (*attack.Outcome, error) {
	client := p.client(t, credential{})
	defer client.Close()

	ok, err := p.ping(ctx, client)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &attack.Outcome{
			Severity: severity.Info,
			Details:  "server requires authentication",
		}, nil
	}

	findings := map[string]any{}
	if info, err := client.Info(ctx, "server").Result(); err == nil {
		for k, v := range parseRedisInfo(info) {
			if k == "redis_version" || k == "os" || k == "redis_mode" {
				findings[k] = v
			}
		}
	}
	return &attack.Outcome{
		Positive: true,
		Severity: severity.Critical,
		Details:  fmt.Sprintf("Redis on %s accepts commands without authentication", t),
		Findings: findings,
		Recommendations: []string{
			"Set requirepass or configure ACL users",
			"Bind Redis to localhost or a private interface",
			"Enable protected-mode",
		},
	}, nil
}

func (p *Redis) weakPassword(ctx context.Context, t attack.Target, opts params.Params) (*attack.Outcome, error) {
	o := p.options(opts)
	var users []string
	if o.Has("usernames") {
		users = []string{"default"}
	}
	creds := credentials(o, users)
	return guessCredentials(ctx, t, o, creds, func(ctx context.Context, t attack.Target, c credential) (bool, error) {
		if c.Password == "" {
			// An empty password is the unauthenticated-access vector.
			return false, nil
		}
		client := p.client(t, c)
		defer client.Close()
		return p.ping(ctx, client)
	})
}

// ping returns (false, nil) when the server demands other credentials.
func (p *Redis) ping(ctx context.Context, client *redis.Client) (bool, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return classifyRedisError(err)
	}
	return true, nil
}

func classifyRedisError(err error) (bool, error) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid password"),
		strings.Contains(msg, "wrongpass"),
		strings.Contains(msg, "noauth"),
		strings.Contains(msg, "authentication required"),
		strings.Contains(msg, "without any password configured"):
		return false, nil
	case networkFailure(msg),
		strings.Contains(msg, "failed to dial"),
		strings.Contains(msg, "connection pool"),
		strings.Contains(msg, "connectex"):
		return false, connErr(err)
	}
	return false, protoErr(err)
}

// parseRedisInfo parses the "key:value" lines of an INFO reply.
func parseRedisInfo(info string) map[string]string {
	out := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			out[k] = v
		}
	}
	return out
}
