// Package config loads warden's YAML configuration with viper and watches
// it for changes.
package config

import (
	"net"
	"time"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/params"
)

// Config is the whole application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Plugins PluginsConfig `mapstructure:"plugins"`
	Attack  AttackConfig  `mapstructure:"attack"`
	Fixer   FixerConfig   `mapstructure:"fixer"`
	History HistoryConfig `mapstructure:"history"`
	Server  ServerConfig  `mapstructure:"server"`
	// PluginConfig holds one opaque mapping per plugin name, passed to
	// Initialize on top of the manifest defaults.
	PluginConfig map[string]map[string]any `mapstructure:"plugin_config"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // text, json
	Output     string `mapstructure:"output"` // stderr, stdout, file
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// PluginsConfig controls plugin discovery.
type PluginsConfig struct {
	Dir      string `mapstructure:"dir"`
	Builtins bool   `mapstructure:"builtins"`
}

// AttackConfig tunes the attack engine and its eligibility policy.
type AttackConfig struct {
	PoolSize         int           `mapstructure:"pool_size"`
	VectorTimeout    time.Duration `mapstructure:"vector_timeout"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	Prohibited       []string      `mapstructure:"prohibited"`
	ProhibitedHosts  []string      `mapstructure:"prohibited_hosts"`
	ResolveHostnames bool          `mapstructure:"resolve_hostnames"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
}

// FixerConfig tunes the rule engine.
type FixerConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Backup         bool          `mapstructure:"backup"`
}

// HistoryConfig configures the task store.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PluginParams converts PluginConfig into the form the plugin manager
// takes.
func (c *Config) PluginParams() map[string]params.Params {
	out := make(map[string]params.Params, len(c.PluginConfig))
	for name, m := range c.PluginConfig {
		out[name] = params.Params(m)
	}
	return out
}

// Engine returns the attack engine tuning.
func (a AttackConfig) Engine() attack.Config {
	retry := attack.NoRetry()
	if a.RetryAttempts > 1 {
		retry = attack.DefaultRetry(a.RetryAttempts, a.RetryBackoff)
	}
	return attack.Config{
		PoolSize:      a.PoolSize,
		VectorTimeout: a.VectorTimeout,
		ProbeTimeout:  a.ProbeTimeout,
		Retry:         retry,
	}
}

// Policy builds the target eligibility policy.
func (a AttackConfig) Policy() (*attack.Policy, error) {
	var resolver attack.Resolver
	if a.ResolveHostnames {
		resolver = net.DefaultResolver
	}
	return attack.NewPolicy(a.Prohibited, a.ProhibitedHosts, resolver)
}
