package plugins

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"golang.org/x/crypto/ssh"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/severity"
)

var sshRuleSpecs = []fixer.RuleSpec{
	{
		ID:          "disable_password_auth",
		Pattern:     `^[ \t#]*PasswordAuthentication[ \t]+(?<value>\S+)`,
		Replacement: "PasswordAuthentication no",
		Description: "Disable password authentication",
		Severity:    severity.High,
		Required:    true,
	},
	{
		ID:          "disable_root_login",
		Pattern:     `^[ \t#]*PermitRootLogin[ \t]+(?<value>\S+)`,
		Replacement: "PermitRootLogin no",
		Description: "Disable root login",
		Severity:    severity.High,
		Required:    true,
	},
	{
		ID:          "use_protocol_2",
		Pattern:     `^[ \t#]*Protocol[ \t]+(?<value>[\d,]+)`,
		Replacement: "Protocol 2",
		Description: "Use SSH protocol 2 only",
		Severity:    severity.High,
		Required:    true,
	},
	{
		ID:          "max_auth_tries",
		Pattern:     `^[ \t#]*MaxAuthTries[ \t]+(?<value>\d+)`,
		Replacement: "MaxAuthTries 3",
		Description: "Limit authentication attempts",
		Severity:    severity.Medium,
		Required:    true,
	},
	{
		ID:          "client_alive_interval",
		Pattern:     `^[ \t#]*ClientAliveInterval[ \t]+(?<value>\d+)`,
		Replacement: "ClientAliveInterval 300",
		Description: "Set client alive interval",
		Severity:    severity.Medium,
		Required:    true,
	},
	{
		ID:          "client_alive_count_max",
		Pattern:     `^[ \t#]*ClientAliveCountMax[ \t]+(?<value>\d+)`,
		Replacement: "ClientAliveCountMax 3",
		Description: "Set maximum client alive count",
		Severity:    severity.Medium,
		Required:    true,
	},
	{
		ID:          "disable_empty_passwords",
		Pattern:     `^[ \t#]*PermitEmptyPasswords[ \t]+(?<value>\S+)`,
		Replacement: "PermitEmptyPasswords no",
		Description: "Disable empty passwords",
		Severity:    severity.High,
		Required:    true,
	},
}

// sshVersion pulls the software part out of an identification string such
// as "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3".
var sshVersion = regexp2.MustCompile(`^SSH-(?<proto>[\d.]+)-(?<software>\S+)`, regexp2.None)

// OpenSSH hardens sshd_config and tests SSH servers.
type OpenSSH struct {
	base
	rules   []fixer.Rule
	profile *fixer.Profile
	timeout time.Duration
}

// NewOpenSSH returns an uninitialised OpenSSH plugin.
func NewOpenSSH() (*OpenSSH, error) {
	return newOpenSSH(sshRuleSpecs)
}

func newOpenSSH(specs []fixer.RuleSpec) (*OpenSSH, error) {
	rules, err := fixer.CompileRules(specs)
	if err != nil {
		return nil, fmt.Errorf("openssh: %w", err)
	}
	return &OpenSSH{
		base: base{
			name: "openssh",
			caps: []string{"ssh", "sshd", "openssh", "openssh-server", "ssh_weak_credentials", "port_check"},
		},
		rules: rules,
	}, nil
}

// Initialize reads "config_path", "service" and "timeout".
func (p *OpenSSH) Initialize(cfg params.Params) error {
	if err := p.base.Initialize(cfg); err != nil {
		return err
	}
	p.timeout = cfg.Duration("timeout", 5*time.Second)
	p.profile = &fixer.Profile{
		Service:         cfg.String("service", "ssh"),
		Services:        []string{"ssh", "sshd", "openssh", "openssh-server"},
		ConfigPaths:     configPaths(cfg, "ssh_config_path", sshConfigPaths()),
		Rules:           enabledRules(cfg, p.rules),
		TestCommand:     []string{"sshd", "-t"},
		RestartCommands: restartCommands(runtime.GOOS, nil),
	}
	return nil
}

// Profile implements plugin.Fixer.
func (p *OpenSSH) Profile() *fixer.Profile { return p.profile }

// DefaultPort implements attack.Source.
func (p *OpenSSH) DefaultPort() int { return 22 }

// Vectors implements attack.Source.
func (p *OpenSSH) Vectors(opts params.Params) []attack.Vector {
	return []attack.Vector{
		attack.NewVector("banner", p.banner),
		attack.NewVector("password-auth", p.passwordAuth),
		attack.NewVector("weak-credentials", p.weakCredentials),
	}
}

func sshConfigPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{`C:\ProgramData\ssh\sshd_config`}
	}
	return []string{"/etc/ssh/sshd_config", "/etc/sshd_config"}
}

// banner reads the server identification string.
func (p *OpenSSH) banner(ctx context.Context, t attack.Target, _ params.Params) (*attack.Outcome, error) {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, connErr(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(p.timeout))

	// Servers may send other lines before the identification string.
	r := bufio.NewReader(conn)
	var (
		line    string
		sawData bool
	)
	for i := 0; i < 10; i++ {
		line, err = r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "SSH-") {
			break
		}
		sawData = sawData || line != ""
		if err != nil {
			break
		}
	}
	if !strings.HasPrefix(line, "SSH-") {
		if err != nil && !sawData {
			return nil, connErr(err)
		}
		return nil, protoErr(fmt.Errorf("no SSH identification string from %s", t))
	}

	m, err := sshVersion.FindStringMatch(line)
	if err != nil || m == nil {
		return nil, protoErr(fmt.Errorf("malformed identification %q", line))
	}
	software := m.GroupByName("software").String()
	out := &attack.Outcome{
		Severity: severity.Info,
		Details:  fmt.Sprintf("server identifies as %q", line),
		Findings: map[string]any{
			"banner":   line,
			"protocol": m.GroupByName("proto").String(),
			"software": software,
		},
	}
	if strings.ContainsAny(software, "0123456789") {
		out.Positive = true
		out.Severity = severity.Low
		out.Details = fmt.Sprintf("server discloses its version: %s", software)
		out.Recommendations = []string{"Set DebianBanner no and avoid exposing version details where possible"}
	}
	if m.GroupByName("proto").String() == "1.99" || m.GroupByName("proto").String() == "1.5" {
		out.Positive = true
		out.Severity = severity.High
		out.Details += "; SSH protocol 1 is still accepted"
		out.Recommendations = append(out.Recommendations, "Set Protocol 2 in sshd_config")
	}
	return out, nil
}

// passwordAuth reports whether the server offers password or
// keyboard-interactive authentication. No credential is ever sent.
func (p *OpenSSH) passwordAuth(ctx context.Context, t attack.Target, _ params.Params) (*attack.Outcome, error) {
	var offered []string
	errProbe := errors.New("probe only")
	cfg := &ssh.ClientConfig{
		User: "warden-probe",
		Auth: []ssh.AuthMethod{
			ssh.PasswordCallback(func() (string, error) {
				offered = append(offered, "password")
				return "", errProbe
			}),
			ssh.KeyboardInteractive(func(string, string, []string, []bool) ([]string, error) {
				offered = append(offered, "keyboard-interactive")
				return nil, errProbe
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.timeout,
	}

	conn, err := p.dial(ctx, t)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	c, chans, reqs, err := ssh.NewClientConn(conn, t.Addr(), cfg)
	if err == nil {
		// The server let an unknown user in without any credential.
		go ssh.DiscardRequests(reqs)
		go rejectChannels(chans)
		c.Close()
		return &attack.Outcome{
			Positive:        true,
			Severity:        severity.Critical,
			Details:         "server accepted a login without credentials",
			Recommendations: []string{"Disable none authentication and PermitEmptyPasswords"},
		}, nil
	}
	if len(offered) == 0 && !errors.Is(err, errProbe) && !strings.Contains(err.Error(), "unable to authenticate") {
		return nil, classifySSHError(err)
	}

	if len(offered) == 0 {
		return &attack.Outcome{
			Severity: severity.Info,
			Details:  "server does not offer password authentication",
		}, nil
	}
	return &attack.Outcome{
		Positive: true,
		Severity: severity.Medium,
		Details:  fmt.Sprintf("server offers %s authentication", strings.Join(offered, " and ")),
		Findings: map[string]any{"methods": offered},
		Recommendations: []string{
			"Implement SSH key-based authentication instead of password authentication",
			"Set PasswordAuthentication no in sshd_config",
		},
	}, nil
}

// weakCredentials tries a small dictionary of username and password pairs.
func (p *OpenSSH) weakCredentials(ctx context.Context, t attack.Target, opts params.Params) (*attack.Outcome, error) {
	o := p.options(opts)
	return guessCredentials(ctx, t, o, credentials(o, defaultUsernames), p.checkPassword)
}

func (p *OpenSSH) checkPassword(ctx context.Context, t attack.Target, c credential) (bool, error) {
	conn, err := p.dial(ctx, t)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	cfg := &ssh.ClientConfig{
		User:            c.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(c.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.timeout,
	}
	client, chans, reqs, err := ssh.NewClientConn(conn, t.Addr(), cfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return false, nil
		}
		return false, classifySSHError(err)
	}
	go ssh.DiscardRequests(reqs)
	go rejectChannels(chans)
	client.Close()
	return true, nil
}

// dial opens a TCP connection bounded by ctx and the plugin timeout.
func (p *OpenSSH) dial(ctx context.Context, t attack.Target) (net.Conn, error) {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, connErr(err)
	}
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > p.timeout {
		deadline = time.Now().Add(p.timeout)
	}
	_ = conn.SetDeadline(deadline)
	return conn, nil
}

func rejectChannels(chans <-chan ssh.NewChannel) {
	for ch := range chans {
		_ = ch.Reject(ssh.Prohibited, "no channels")
	}
}

// classifySSHError maps handshake failures to connection or protocol
// errors.
func classifySSHError(err error) error {
	if networkFailure(err.Error()) || strings.Contains(err.Error(), "handshake failed") {
		return connErr(err)
	}
	return protoErr(err)
}

// configPaths puts the configured path (under "config_path" or the
// plugin's legacy key) in front of the defaults.
func configPaths(cfg params.Params, legacyKey string, defaults []string) []string {
	path := cfg.String("config_path", cfg.String(legacyKey, ""))
	if path == "" {
		return defaults
	}
	return append([]string{path}, defaults...)
}

// enabledRules drops the rule ids listed in "disabled_rules".
func enabledRules(cfg params.Params, rules []fixer.Rule) []fixer.Rule {
	disabled := cfg.StringSlice("disabled_rules", nil)
	if len(disabled) == 0 {
		return rules
	}
	out := make([]fixer.Rule, 0, len(rules))
	for _, r := range rules {
		skip := false
		for _, id := range disabled {
			if strings.EqualFold(id, r.ID()) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, r)
		}
	}
	return out
}

// restartCommands returns the service-manager chain for goos followed by
// any service-specific fallbacks.
func restartCommands(goos string, fallbacks [][]string) [][]string {
	var cmds [][]string
	switch goos {
	case "windows":
		cmds = [][]string{{"powershell", "-NoProfile", "-Command", "Restart-Service", "{service}"}}
	case "darwin":
		cmds = [][]string{{"brew", "services", "restart", "{service}"}}
	default:
		cmds = [][]string{
			{"systemctl", "restart", "{service}"},
			{"service", "{service}", "restart"},
		}
	}
	return append(cmds, fallbacks...)
}
