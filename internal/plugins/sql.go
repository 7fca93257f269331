package plugins

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/params"
)

// sqlServer is the part shared by the relational database attackers:
// they differ only in how a connector is built and errors are read.
type sqlServer struct {
	base
	timeout   time.Duration
	port      int
	users     []string
	connector func(t attack.Target, c credential, timeout time.Duration) (driver.Connector, error)
	classify  func(err error) (bool, error)
}

// Initialize reads "timeout".
func (s *sqlServer) Initialize(cfg params.Params) error {
	if err := s.base.Initialize(cfg); err != nil {
		return err
	}
	s.timeout = cfg.Duration("timeout", 3*time.Second)
	return nil
}

// DefaultPort implements attack.Source.
func (s *sqlServer) DefaultPort() int { return s.port }

// Vectors implements attack.Source.
func (s *sqlServer) Vectors(params.Params) []attack.Vector {
	return []attack.Vector{attack.NewVector("weak-credentials", s.weakCredentials)}
}

func (s *sqlServer) weakCredentials(ctx context.Context, t attack.Target, opts params.Params) (*attack.Outcome, error) {
	o := s.options(opts)
	return guessCredentials(ctx, t, o, credentials(o, s.users), s.check)
}

func (s *sqlServer) check(ctx context.Context, t attack.Target, c credential) (bool, error) {
	conn, err := s.connector(t, c, s.timeout)
	if err != nil {
		return false, protoErr(err)
	}
	db := sql.OpenDB(conn)
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout+time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return s.classify(err)
	}
	return true, nil
}

// MySQL tests MySQL and MariaDB servers for weak credentials.
type MySQL struct{ sqlServer }

// NewMySQL returns an uninitialised MySQL plugin.
func NewMySQL() *MySQL {
	return &MySQL{sqlServer{
		base: base{
			name: "mysql",
			caps: []string{"mysql", "mariadb", "database", "weak_credentials"},
		},
		port:      3306,
		users:     []string{"root", "mysql", "admin", "test"},
		connector: mysqlConnector,
		classify:  classifyMySQLError,
	}}
}

func mysqlConnector(t attack.Target, c credential, timeout time.Duration) (driver.Connector, error) {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = t.Addr()
	cfg.Timeout = timeout
	cfg.ReadTimeout = timeout
	cfg.WriteTimeout = timeout
	cfg.Logger = &mysql.NopLogger{}
	return mysql.NewConnector(cfg)
}

func classifyMySQLError(err error) (bool, error) {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1044, 1045, 1698: // access denied
			return false, nil
		case 1040, 1129: // too many connections, host blocked
			return false, connErr(err)
		}
		return false, protoErr(err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") {
		return false, nil
	}
	if networkFailure(msg) || strings.Contains(msg, "bad connection") || errors.Is(err, mysql.ErrInvalidConn) {
		return false, connErr(err)
	}
	return false, protoErr(err)
}

// Postgres tests PostgreSQL servers for weak credentials.
type Postgres struct{ sqlServer }

// NewPostgres returns an uninitialised PostgreSQL plugin.
func NewPostgres() *Postgres {
	return &Postgres{sqlServer{
		base: base{
			name: "postgres",
			caps: []string{"postgres", "postgresql", "database", "weak_credentials"},
		},
		port:      5432,
		users:     []string{"postgres", "admin", "root", "test"},
		connector: postgresConnector,
		classify:  classifyPostgresError,
	}}
}

func postgresConnector(t attack.Target, c credential, timeout time.Duration) (driver.Connector, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   t.Addr(),
		Path:   "/postgres",
		RawQuery: url.Values{
			"sslmode":         {"disable"},
			"connect_timeout": {strconv.Itoa(secs)},
		}.Encode(),
	}
	return pq.NewConnector(u.String())
}

func classifyPostgresError(err error) (bool, error) {
	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "28P01", "28000": // invalid_password, invalid_authorization_specification
			return false, nil
		case "53300", "57P03": // too_many_connections, cannot_connect_now
			return false, connErr(err)
		case "3D000": // the database is missing but the login worked
			return true, nil
		}
		return false, protoErr(err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "password authentication failed") {
		return false, nil
	}
	if networkFailure(msg) || strings.Contains(msg, "no such host") {
		return false, connErr(err)
	}
	return false, protoErr(err)
}
