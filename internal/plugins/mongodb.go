package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/severity"
)

// MongoDB tests MongoDB servers for missing or weak authentication.
type MongoDB struct {
	base
	timeout time.Duration
}

// NewMongoDB returns an uninitialised MongoDB plugin.
func NewMongoDB() *MongoDB {
	return &MongoDB{base: base{
		name: "mongodb",
		caps: []string{"mongodb", "mongo", "database", "weak_credentials"},
	}}
}

// Initialize reads "timeout".
func (p *MongoDB) Initialize(cfg params.Params) error {
	if err := p.base.Initialize(cfg); err != nil {
		return err
	}
	p.timeout = cfg.Duration("timeout", 5*time.Second)
	return nil
}

// DefaultPort implements attack.Source.
func (p *MongoDB) DefaultPort() int { return 27017 }

// Vectors implements attack.Source.
func (p *MongoDB) Vectors(params.Params) []attack.Vector {
	return []attack.Vector{
		attack.NewVector("unauthenticated-access", p.unauthenticated),
		attack.NewVector("weak-credentials", p.weakCredentials),
	}
}

func (p *MongoDB) connect(ctx context.Context, t attack.Target, c *credential) (*mongo.Client, error) {
	u := url.URL{Scheme: "mongodb", Host: t.Addr(), Path: "/"}
	if c != nil {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	opts := options.Client().
		ApplyURI(u.String()).
		SetDirect(true).
		SetConnectTimeout(p.timeout).
		SetServerSelectionTimeout(p.timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, protoErr(err)
	}
	return client, nil
}

func (p *MongoDB) unauthenticated(ctx context.Context, t attack.Target, _ params.Params) (*attack.Outcome, error) {
	client, err := p.connect(ctx, t, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	names, err := client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		if isMongoUnauthorized(err) {
			return &attack.Outcome{Severity: severity.Info, Details: "server requires authentication"}, nil
		}
		_, cerr := classifyMongoError(err)
		if cerr == nil {
			cerr = protoErr(err)
		}
		return nil, cerr
	}
	return &attack.Outcome{
		Positive: true,
		Severity: severity.Critical,
		Details:  fmt.Sprintf("MongoDB on %s lists %d databases without authentication", t, len(names)),
		Findings: map[string]any{"databases": names},
		Recommendations: []string{
			"Enable authorization (security.authorization: enabled)",
			"Bind MongoDB to localhost or a private interface",
		},
	}, nil
}

func (p *MongoDB) weakCredentials(ctx context.Context, t attack.Target, opts params.Params) (*attack.Outcome, error) {
	o := p.options(opts)
	users := []string{"admin", "root", "mongo", "test"}
	var creds []credential
	for _, c := range credentials(o, users) {
		// The driver refuses an empty password in a URI.
		if c.Password != "" {
			creds = append(creds, c)
		}
	}
	return guessCredentials(ctx, t, o, creds, func(ctx context.Context, t attack.Target, c credential) (bool, error) {
		client, err := p.connect(ctx, t, &c)
		if err != nil {
			return false, err
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return classifyMongoError(err)
		}
		return true, nil
	})
}

func isMongoUnauthorized(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == 13 || ce.Name == "Unauthorized"
	}
	return strings.Contains(err.Error(), "requires authentication")
}

func classifyMongoError(err error) (bool, error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Authentication failed"),
		strings.Contains(msg, "auth error"),
		strings.Contains(msg, "auth failed"),
		strings.Contains(msg, "sasl conversation error"):
		return false, nil
	case strings.Contains(msg, "server selection error"),
		strings.Contains(msg, "no reachable servers"),
		networkFailure(msg):
		return false, connErr(err)
	}
	return false, protoErr(err)
}
