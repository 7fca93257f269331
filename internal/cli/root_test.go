package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// writeTestConfig writes a config that keeps logs quiet and the history
// database inside the test's temp dir.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf("log:\n  level: error\nhistory:\n  path: %s\n%s", filepath.Join(dir, "history.db"), extra)
	path := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// runJSON runs a command with --format json and decodes the result body.
func runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, _, err := run(t, append([]string{"--format", "json"}, args...)...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	var env struct {
		Tool   string          `json:"tool"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if env.Tool != "warden" {
		t.Errorf("tool = %q, want warden", env.Tool)
	}
	if err := json.Unmarshal(env.Result, v); err != nil {
		t.Fatalf("decode result %s: %v", env.Result, err)
	}
}

const sshdConfig = `# sample sshd_config
PasswordAuthentication yes
#PermitRootLogin prohibit-password
Protocol 2
MaxAuthTries 3
`

func writeSSHDConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sshd_config")
	if err := os.WriteFile(path, []byte(sshdConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

type analysis struct {
	FilePath string `json:"file_path"`
	Findings []struct {
		RuleID    string `json:"rule_id"`
		IssueType string `json:"issue_type"`
	} `json:"findings"`
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	if root.Use != "warden" {
		t.Errorf("Use = %q, want warden", root.Use)
	}
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"version", "plugins", "analyze", "fix", "restart", "find-fixer", "attack", "serve", "history"} {
		if !slices.Contains(names, want) {
			t.Errorf("subcommand %q not registered (have %v)", want, names)
		}
	}
}

func TestGlobalFlags_Defaults(t *testing.T) {
	pf := NewRootCommand().PersistentFlags()
	tests := []struct {
		flag string
		want string
	}{
		{"config", ""},
		{"plugins-dir", ""},
		{"format", "text"},
		{"output", ""},
		{"verbose", "0"},
		{"no-color", "false"},
		{"no-history", "false"},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			f := pf.Lookup(tt.flag)
			if f == nil {
				t.Fatalf("flag --%s not defined", tt.flag)
			}
			if f.DefValue != tt.want {
				t.Errorf("--%s default = %q, want %q", tt.flag, f.DefValue, tt.want)
			}
		})
	}
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "warden dev") {
		t.Errorf("output = %q", out)
	}
}

func TestPlugins(t *testing.T) {
	cfg := writeTestConfig(t, "")
	tests := []struct {
		kind string
		want []string
	}{
		{"fixer", []string{"apache", "nginx", "openssh"}},
		{"attacker", []string{"apache", "ftp", "mongodb", "mysql", "nginx", "openssh", "postgres", "redis"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			var descs []struct {
				Name string `json:"name"`
			}
			runJSON(t, &descs, "--config", cfg, "plugins", "--kind", tt.kind)
			var names []string
			for _, d := range descs {
				names = append(names, d.Name)
			}
			if !slices.Equal(names, tt.want) {
				t.Errorf("plugins = %v, want %v", names, tt.want)
			}
		})
	}

	if _, _, err := run(t, "--config", cfg, "plugins", "--kind", "bogus"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestPlugins_Text(t *testing.T) {
	cfg := writeTestConfig(t, "")
	out, _, err := run(t, "--config", cfg, "--no-color", "plugins")
	if err != nil {
		t.Fatalf("plugins: %v", err)
	}
	for _, want := range []string{"NAME", "openssh", "fixer+attacker", "builtin:redis"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestAnalyzeFixCycle(t *testing.T) {
	cfg := writeTestConfig(t, "")
	path := writeSSHDConfig(t)

	var before analysis
	runJSON(t, &before, "--config", cfg, "analyze", "openssh", "--path", path)
	if len(before.Findings) != 5 {
		t.Fatalf("findings = %+v, want 5", before.Findings)
	}

	var out struct {
		Applied    []string `json:"applied_finding_ids"`
		BackupPath string   `json:"backup_path"`
	}
	runJSON(t, &out, "--config", cfg, "fix", "openssh", "--path", path)
	if len(out.Applied) != 5 {
		t.Errorf("applied = %v, want 5 fixes", out.Applied)
	}
	backup, err := os.ReadFile(out.BackupPath)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != sshdConfig {
		t.Errorf("backup content = %q", backup)
	}

	var after analysis
	runJSON(t, &after, "--config", cfg, "analyze", "openssh", "--path", path)
	if len(after.Findings) != 0 {
		t.Errorf("findings after fix = %+v", after.Findings)
	}

	var tasks []struct {
		Kind string `json:"kind"`
	}
	runJSON(t, &tasks, "--config", cfg, "history", "list")
	if len(tasks) != 3 {
		t.Fatalf("history = %+v, want 3 tasks", tasks)
	}
	// Newest first.
	if tasks[0].Kind != "analyze" || tasks[1].Kind != "fix" {
		t.Errorf("history kinds = %+v", tasks)
	}
}

func TestFix_SelectedRuleWithoutBackup(t *testing.T) {
	cfg := writeTestConfig(t, "")
	path := writeSSHDConfig(t)

	var out struct {
		Applied    []string `json:"applied_finding_ids"`
		BackupPath string   `json:"backup_path"`
	}
	runJSON(t, &out, "--config", cfg, "fix", "openssh", "--path", path, "--rule", "disable_root_login", "--no-backup")
	if !slices.Equal(out.Applied, []string{"disable_root_login"}) {
		t.Errorf("applied = %v", out.Applied)
	}
	if out.BackupPath != "" {
		t.Errorf("backup created at %s", out.BackupPath)
	}
	matches, _ := filepath.Glob(path + ".bak.*")
	if len(matches) != 0 {
		t.Errorf("backup files = %v", matches)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "PermitRootLogin no") || !strings.Contains(string(data), "PasswordAuthentication yes") {
		t.Errorf("content = %q", data)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	cfg := writeTestConfig(t, "")
	tests := []struct {
		name string
		args []string
	}{
		{"unknown plugin", []string{"analyze", "nope"}},
		{"attacker only", []string{"analyze", "redis"}},
		{"missing file", []string{"analyze", "openssh", "--path", "/nonexistent/sshd_config"}},
		{"missing argument", []string{"analyze"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := run(t, append([]string{"--config", cfg}, tt.args...)...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFindFixer(t *testing.T) {
	cfg := writeTestConfig(t, "")
	out, _, err := run(t, "--config", cfg, "find-fixer", "sshd")
	if err != nil {
		t.Fatalf("find-fixer: %v", err)
	}
	if strings.TrimSpace(out) != "openssh" {
		t.Errorf("find-fixer sshd = %q, want openssh", out)
	}
}

type attackResult struct {
	Success  bool   `json:"success"`
	Severity string `json:"severity"`
	State    string `json:"state"`
	Vectors  []struct {
		Vector string `json:"vector"`
	} `json:"vectors"`
}

func TestAttack_ProhibitedTarget(t *testing.T) {
	cfg := writeTestConfig(t, "attack:\n  prohibited:\n    - 127.0.0.0/8\n")

	var res attackResult
	runJSON(t, &res, "--config", cfg, "attack", "redis", "127.0.0.1:6379")
	if res.State != "rejected" || res.Success || res.Severity != "info" || len(res.Vectors) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestAttack_SecurityHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>welcome</body></html>")
	}))
	defer srv.Close()
	cfg := writeTestConfig(t, "")

	var res attackResult
	runJSON(t, &res, "--config", cfg, "attack", "nginx", srv.URL, "--vectors", "security-headers")
	if res.State != "completed" || !res.Success || res.Severity != "medium" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Vectors) != 1 || res.Vectors[0].Vector != "security-headers" {
		t.Errorf("vectors = %+v", res.Vectors)
	}
}

func TestAttack_InvalidOption(t *testing.T) {
	cfg := writeTestConfig(t, "")
	if _, _, err := run(t, "--config", cfg, "attack", "redis", "127.0.0.1", "--opt", "novalue"); err == nil {
		t.Error("expected error for malformed --opt")
	}
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		raw     []string
		want    map[string]any
		wantErr bool
	}{
		{nil, map[string]any{}, false},
		{[]string{"max_attempts=5", " usernames = root,admin "}, map[string]any{"max_attempts": "5", "usernames": "root,admin"}, false},
		{[]string{"empty="}, map[string]any{"empty": ""}, false},
		{[]string{"noequals"}, nil, true},
		{[]string{"=value"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.raw, "&"), func(t *testing.T) {
			got, err := parseOptions(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestHistory_Disabled(t *testing.T) {
	cfg := writeTestConfig(t, "")
	_, _, err := run(t, "--config", cfg, "--no-history", "history", "list")
	if !errors.Is(err, errHistoryDisabled) {
		t.Errorf("err = %v, want errHistoryDisabled", err)
	}
}

func TestHistory_ShowDeletePrune(t *testing.T) {
	cfg := writeTestConfig(t, "")
	path := writeSSHDConfig(t)
	if _, _, err := run(t, "--config", cfg, "analyze", "openssh", "--path", path); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var tasks []struct {
		ID string `json:"id"`
	}
	runJSON(t, &tasks, "--config", cfg, "history", "list", "--kind", "analyze")
	if len(tasks) != 1 {
		t.Fatalf("tasks = %+v", tasks)
	}

	out, _, err := run(t, "--config", cfg, "--no-color", "history", "show", tasks[0].ID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "openssh") || !strings.Contains(out, "5 findings") {
		t.Errorf("show output:\n%s", out)
	}

	out, _, err = run(t, "--config", cfg, "history", "prune", "--older-than", "1h")
	if err != nil || !strings.Contains(out, "Pruned 0") {
		t.Errorf("prune = %q, %v", out, err)
	}

	if _, _, err := run(t, "--config", cfg, "history", "delete", tasks[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := run(t, "--config", cfg, "history", "show", tasks[0].ID); err == nil {
		t.Error("show after delete should fail")
	}
}

func TestOutputFile(t *testing.T) {
	cfg := writeTestConfig(t, "")
	outPath := filepath.Join(t.TempDir(), "plugins.json")
	stdout, _, err := run(t, "--config", cfg, "-f", "json", "-o", outPath, "plugins")
	if err != nil {
		t.Fatalf("plugins: %v", err)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want empty", stdout)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type": "plugins"`) {
		t.Errorf("output file = %s", data)
	}
}
