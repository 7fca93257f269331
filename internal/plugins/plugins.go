// Package plugins contains the built-in fixer and attacker plugins.
package plugins

import (
	"slices"

	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/plugin"
)

// ruleTables holds the rule specs of the fixer plugins. Rules are
// compiled when a plugin is constructed, so a malformed table fails the
// factory instead of the process.
type ruleTables struct {
	openssh []fixer.RuleSpec
	nginx   []fixer.RuleSpec
	apache  []fixer.RuleSpec
}

var builtinRules = ruleTables{
	openssh: sshRuleSpecs,
	nginx:   nginxRuleSpecs,
	apache:  apacheRuleSpecs,
}

// Factories returns the compiled-in plugin table, keyed by factory name.
// Manifests refer to these keys.
func Factories() map[string]plugin.Factory {
	return factories(builtinRules)
}

func factories(rules ruleTables) map[string]plugin.Factory {
	return map[string]plugin.Factory{
		"openssh": func() (plugin.Plugin, error) {
			p, err := newOpenSSH(rules.openssh)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		"nginx": func() (plugin.Plugin, error) {
			p, err := newNginx(rules.nginx)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		"apache": func() (plugin.Plugin, error) {
			p, err := newApache(rules.apache)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		"redis":    func() (plugin.Plugin, error) { return NewRedis(), nil },
		"ftp":      func() (plugin.Plugin, error) { return NewFTP(), nil },
		"mysql":    func() (plugin.Plugin, error) { return NewMySQL(), nil },
		"postgres": func() (plugin.Plugin, error) { return NewPostgres(), nil },
		"mongodb":  func() (plugin.Plugin, error) { return NewMongoDB(), nil },
	}
}

// base carries the name, tags and configuration every plugin has.
type base struct {
	name string
	caps []string
	cfg  params.Params
}

func (b *base) Name() string           { return b.name }
func (b *base) Capabilities() []string { return slices.Clone(b.caps) }

// Initialize stores cfg. Plugins with more to set up wrap it.
func (b *base) Initialize(cfg params.Params) error {
	b.cfg = cfg.Clone()
	return nil
}

// options overlays per-attack options on the plugin configuration.
func (b *base) options(opts params.Params) params.Params {
	return params.Merge(b.cfg, opts)
}
