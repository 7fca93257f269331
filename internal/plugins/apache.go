package plugins

import (
	"fmt"
	"runtime"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/severity"
)

var apacheRuleSpecs = []fixer.RuleSpec{
	{
		ID:          "server_tokens",
		Pattern:     `^[ \t]*ServerTokens[ \t]+(?<value>\w+)`,
		Expected:    fixer.Expect("Prod"),
		Replacement: "ServerTokens Prod",
		Description: "Hide detailed server information",
		Severity:    severity.Medium,
		Required:    true,
		IgnoreCase:  true,
	},
	{
		ID:          "server_signature",
		Pattern:     `^[ \t]*ServerSignature[ \t]+(?<value>\w+)`,
		Expected:    fixer.Expect("Off"),
		Replacement: "ServerSignature Off",
		Description: "Disable server signature in error pages",
		Severity:    severity.Medium,
		Required:    true,
		IgnoreCase:  true,
	},
	{
		// Matches Options lines that enable Indexes, not "-Indexes".
		ID:          "directory_browsing",
		Pattern:     `^[ \t]*Options[ \t]+(?:.*[ \t])?\+?Indexes\b.*$`,
		Replacement: "Options -Indexes",
		Description: "Disable directory browsing",
		Severity:    severity.High,
		IgnoreCase:  true,
	},
}

// Apache hardens the Apache httpd configuration and tests Apache servers
// over HTTP.
type Apache struct {
	base
	web     webProbe
	rules   []fixer.Rule
	profile *fixer.Profile
}

// NewApache returns an uninitialised Apache plugin.
func NewApache() (*Apache, error) {
	return newApache(apacheRuleSpecs)
}

func newApache(specs []fixer.RuleSpec) (*Apache, error) {
	rules, err := fixer.CompileRules(specs)
	if err != nil {
		return nil, fmt.Errorf("apache: %w", err)
	}
	return &Apache{
		base: base{
			name: "apache",
			caps: []string{"apache", "apache2", "httpd", "http", "web", "directory_listing", "version_disclosure"},
		},
		rules: rules,
	}, nil
}

// Initialize reads "config_path", "service" and the HTTP client options.
// Red Hat style "httpd" services use httpd for the config test.
func (p *Apache) Initialize(cfg params.Params) error {
	if err := p.base.Initialize(cfg); err != nil {
		return err
	}
	web, err := newWebProbe(cfg)
	if err != nil {
		return err
	}
	p.web = web

	service := cfg.String("service", "apache2")
	test := []string{"apache2ctl", "configtest"}
	fallback := []string{"apache2ctl", "restart"}
	if service != "apache2" {
		test = []string{"httpd", "-t"}
		fallback = []string{"httpd", "-k", "restart"}
	}
	p.profile = &fixer.Profile{
		Service:         service,
		Services:        []string{"apache2", "httpd", "apache"},
		ConfigPaths:     configPaths(cfg, "apache_config_path", apacheConfigPaths()),
		Rules:           enabledRules(cfg, p.rules),
		TestCommand:     test,
		RestartCommands: restartCommands(runtime.GOOS, [][]string{fallback}),
	}
	return nil
}

func apacheConfigPaths() []string {
	return []string{
		"/etc/apache2/apache2.conf",
		"/etc/httpd/conf/httpd.conf",
		"/usr/local/apache2/conf/httpd.conf",
	}
}

// Profile implements plugin.Fixer.
func (p *Apache) Profile() *fixer.Profile { return p.profile }

// DefaultPort implements attack.Source.
func (p *Apache) DefaultPort() int { return 80 }

// Vectors implements attack.Source.
func (p *Apache) Vectors(params.Params) []attack.Vector {
	return []attack.Vector{
		attack.NewVector("version-disclosure", p.web.versionDisclosure),
		attack.NewVector("directory-listing", p.web.directoryListing),
		attack.NewVector("security-headers", p.web.securityHeaders),
	}
}
