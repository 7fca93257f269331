package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: WARDEN_ATTACK_POOL_SIZE sets
// attack.pool_size.
const EnvPrefix = "WARDEN"

// DefaultPath returns $WARDEN_CONFIG or ~/.config/warden/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "warden.yaml"
	}
	return filepath.Join(dir, "warden", "config.yaml")
}

func defaultDataDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(dir, ".warden")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("plugins.dir", "")
	v.SetDefault("plugins.builtins", true)

	v.SetDefault("attack.pool_size", 4)
	v.SetDefault("attack.vector_timeout", 30*time.Second)
	v.SetDefault("attack.probe_timeout", 3*time.Second)
	v.SetDefault("attack.prohibited", []string{})
	v.SetDefault("attack.prohibited_hosts", []string{})
	v.SetDefault("attack.resolve_hostnames", true)
	v.SetDefault("attack.retry_attempts", 1)
	v.SetDefault("attack.retry_backoff", 500*time.Millisecond)

	v.SetDefault("fixer.command_timeout", 30*time.Second)
	v.SetDefault("fixer.backup", true)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", filepath.Join(defaultDataDir(), "history.db"))

	v.SetDefault("server.addr", "127.0.0.1:8700")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
}

// Load reads the YAML file at path over the defaults and applies WARDEN_
// environment overrides. A missing file is not an error when path is
// empty or the default path; an explicitly named missing file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if !slices.Contains([]string{"text", "json"}, c.Log.Format) {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if !slices.Contains([]string{"stderr", "stdout", "file"}, c.Log.Output) {
		return fmt.Errorf("invalid log output: %s", c.Log.Output)
	}
	if c.Log.Output == "file" && c.Log.FilePath == "" {
		return errors.New("log file path is required when output is file")
	}
	if c.Attack.PoolSize < 1 {
		return fmt.Errorf("invalid attack pool size: %d", c.Attack.PoolSize)
	}
	if c.Attack.VectorTimeout <= 0 || c.Attack.ProbeTimeout <= 0 {
		return errors.New("attack timeouts must be positive")
	}
	if !slices.Contains([]string{"debug", "release", "test"}, c.Server.Mode) {
		return fmt.Errorf("invalid server mode: %s", c.Server.Mode)
	}
	return nil
}
