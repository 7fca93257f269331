package plugins

import (
	"fmt"
	"runtime"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/severity"
)

var nginxRuleSpecs = []fixer.RuleSpec{
	{
		ID:          "server_tokens",
		Pattern:     `^[ \t]*server_tokens[ \t]+(?<value>on|off|build)[ \t]*;`,
		Expected:    fixer.Expect("off"),
		Replacement: "server_tokens off;",
		Description: "Hide Nginx version in headers",
		Severity:    severity.Medium,
		Required:    true,
		Blocks:      []string{"http", "server"},
	},
	{
		ID:          "x_frame_options",
		Pattern:     `^[ \t]*add_header[ \t]+X-Frame-Options[ \t]+.*;`,
		Replacement: "add_header X-Frame-Options SAMEORIGIN;",
		Description: "Set X-Frame-Options header to prevent clickjacking",
		Severity:    severity.Medium,
		Required:    true,
		Blocks:      []string{"server", "http"},
	},
	{
		ID:          "x_content_type_options",
		Pattern:     `^[ \t]*add_header[ \t]+X-Content-Type-Options[ \t]+.*;`,
		Replacement: "add_header X-Content-Type-Options nosniff;",
		Description: "Set X-Content-Type-Options header to prevent MIME sniffing",
		Severity:    severity.Medium,
		Required:    true,
		Blocks:      []string{"server", "http"},
	},
	{
		ID:          "strict_transport_security",
		Pattern:     `^[ \t]*add_header[ \t]+Strict-Transport-Security[ \t]+.*;`,
		Replacement: `add_header Strict-Transport-Security "max-age=31536000; includeSubDomains";`,
		Description: "Enable HSTS to enforce HTTPS",
		Severity:    severity.High,
		Required:    true,
		Blocks:      []string{"server", "http"},
	},
	{
		ID:          "ssl_protocols",
		Pattern:     `^[ \t]*ssl_protocols[ \t]+.*;`,
		Replacement: "ssl_protocols TLSv1.2 TLSv1.3;",
		Description: "Use only secure SSL/TLS protocols",
		Severity:    severity.High,
		Required:    true,
		Blocks:      []string{"server", "http"},
	},
	{
		ID:          "ssl_ciphers",
		Pattern:     `^[ \t]*ssl_ciphers[ \t]+.*;`,
		Replacement: "ssl_ciphers 'ECDHE-ECDSA-AES128-GCM-SHA256:ECDHE-RSA-AES128-GCM-SHA256:ECDHE-ECDSA-AES256-GCM-SHA384:ECDHE-RSA-AES256-GCM-SHA384:DHE-RSA-AES128-GCM-SHA256:DHE-RSA-AES256-GCM-SHA384';",
		Description: "Use only secure ciphers",
		Severity:    severity.High,
		Required:    true,
		Blocks:      []string{"server", "http"},
	},
	{
		ID:          "ssl_prefer_server_ciphers",
		Pattern:     `^[ \t]*ssl_prefer_server_ciphers[ \t]+(?<value>on|off)[ \t]*;`,
		Expected:    fixer.Expect("on"),
		Replacement: "ssl_prefer_server_ciphers on;",
		Description: "Prefer server ciphers over client ciphers",
		Severity:    severity.Medium,
		Required:    true,
		Blocks:      []string{"server", "http"},
	},
}

// Nginx hardens nginx.conf and tests Nginx servers over HTTP.
type Nginx struct {
	base
	web     webProbe
	rules   []fixer.Rule
	profile *fixer.Profile
}

// NewNginx returns an uninitialised Nginx plugin.
func NewNginx() (*Nginx, error) {
	return newNginx(nginxRuleSpecs)
}

func newNginx(specs []fixer.RuleSpec) (*Nginx, error) {
	rules, err := fixer.CompileRules(specs)
	if err != nil {
		return nil, fmt.Errorf("nginx: %w", err)
	}
	return &Nginx{
		base: base{
			name: "nginx",
			caps: []string{"nginx", "http", "web", "security_headers", "version_disclosure"},
		},
		rules: rules,
	}, nil
}

// Initialize reads "config_path", "service" and the HTTP client options.
func (p *Nginx) Initialize(cfg params.Params) error {
	if err := p.base.Initialize(cfg); err != nil {
		return err
	}
	web, err := newWebProbe(cfg)
	if err != nil {
		return err
	}
	p.web = web
	p.profile = &fixer.Profile{
		Service:     cfg.String("service", "nginx"),
		Services:    []string{"nginx"},
		ConfigPaths: configPaths(cfg, "nginx_config_path", nginxConfigPaths()),
		Rules:       enabledRules(cfg, p.rules),
		TestCommand: []string{"nginx", "-t"},
		RestartCommands: restartCommands(runtime.GOOS, [][]string{
			{"nginx", "-s", "reload"},
		}),
	}
	return nil
}

func nginxConfigPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{`C:\nginx\conf\nginx.conf`}
	}
	return []string{
		"/etc/nginx/nginx.conf",
		"/etc/nginx/conf.d/default.conf",
		"/usr/local/nginx/conf/nginx.conf",
		"/usr/local/etc/nginx/nginx.conf",
	}
}

// Profile implements plugin.Fixer.
func (p *Nginx) Profile() *fixer.Profile { return p.profile }

// DefaultPort implements attack.Source.
func (p *Nginx) DefaultPort() int { return 80 }

// Vectors implements attack.Source.
func (p *Nginx) Vectors(params.Params) []attack.Vector {
	return []attack.Vector{
		attack.NewVector("security-headers", p.web.securityHeaders),
		attack.NewVector("version-disclosure", p.web.versionDisclosure),
		attack.NewVector("directory-listing", p.web.directoryListing),
	}
}
