package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/history"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/plugin"
	"github.com/0x6d61/warden/internal/severity"
)

var demoRules = fixer.MustCompileRules([]fixer.RuleSpec{
	{
		ID:          "server_tokens",
		Pattern:     `^ServerTokens\s+(\w+)`,
		Expected:    fixer.Expect("Prod"),
		Replacement: "ServerTokens Prod",
		Description: "Hide the server version",
		Severity:    severity.Medium,
		Required:    true,
	},
	{
		ID:          "trace_enable",
		Pattern:     `^TraceEnable\s+(\w+)`,
		Expected:    fixer.Expect("Off"),
		Replacement: "TraceEnable Off",
		Description: "Disable TRACE",
		Severity:    severity.Low,
		Required:    true,
	},
})

type demoFixer struct{ profile *fixer.Profile }

func (p *demoFixer) Name() string { return "demofix" }
func (p *demoFixer) Capabilities() []string { return []string{"web"} }
func (p *demoFixer) Profile() *fixer.Profile { return p.profile }
func (p *demoFixer) Initialize(cfg params.Params) error {
	p.profile = &fixer.Profile{
		Service:         "demo",
		Services:        []string{"demo"},
		ConfigPaths:     cfg.StringSlice("config_paths", nil),
		Rules:           demoRules,
		TestCommand:     []string{"demo", "-t"},
		RestartCommands: [][]string{{"systemctl", "restart", "{service}"}},
	}
	return nil
}

type demoAttacker struct{}

func (demoAttacker) Name() string { return "demoatk" }
func (demoAttacker) Capabilities() []string { return []string{"web"} }
func (demoAttacker) Initialize(params.Params) error { return nil }
func (demoAttacker) DefaultPort() int { return 8080 }
func (demoAttacker) Vectors(params.Params) []attack.Vector {
	return []attack.Vector{
		attack.NewVector("banner", func(context.Context, attack.Target, params.Params) (*attack.Outcome, error) {
			return &attack.Outcome{Positive: true, Severity: severity.High, Details: "version disclosed"}, nil
		}),
	}
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	return nil, nil
}

type testEnv struct {
	svc    *Service
	runner *fakeRunner
	store  *history.SQLiteStore
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := plugin.NewRegistry(map[string]plugin.Factory{
		"demofix": func() (plugin.Plugin, error) { return &demoFixer{}, nil },
		"demoatk": func() (plugin.Plugin, error) { return demoAttacker{}, nil },
	}, nil)
	if err := reg.Load("", true); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := plugin.NewManager(reg)
	t.Cleanup(func() { _ = m.Close() })

	store, err := history.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	runner := &fakeRunner{}
	fx := fixer.NewEngine(fixer.WithCommandRunner(runner))
	at := attack.NewEngine(nil, attack.WithProber(attack.ProberFunc(func(context.Context, attack.Target) error { return nil })))
	return &testEnv{
		svc:    New(m, fx, at, WithHistory(store)),
		runner: runner,
		store:  store,
		dir:    t.TempDir(),
	}
}

func (e *testEnv) writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, "demo.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func (e *testEnv) tasks(t *testing.T, kind history.Kind) []*history.Summary {
	t.Helper()
	got, err := e.store.List(context.Background(), history.Filter{Kind: kind})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return got
}

func TestListPlugins(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		kind plugin.Kind
		want []string
	}{
		{plugin.KindAll, []string{"demoatk", "demofix"}},
		{plugin.KindFixer, []string{"demofix"}},
		{plugin.KindAttacker, []string{"demoatk"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			var names []string
			for _, p := range env.svc.ListPlugins(tt.kind) {
				names = append(names, p.Name)
			}
			if !slices.Equal(names, tt.want) {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeConfig(t, "ServerTokens Full\n")

	res, err := env.svc.Analyze(context.Background(), "demofix", path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(res.Findings))
	}
	if res.Findings[0].IssueType != fixer.Incorrect || *res.Findings[0].CurrentValue != "Full" {
		t.Errorf("first finding = %+v", res.Findings[0])
	}
	if res.Findings[1].IssueType != fixer.Missing {
		t.Errorf("second finding = %+v", res.Findings[1])
	}

	tasks := env.tasks(t, history.KindAnalyze)
	if len(tasks) != 1 || tasks[0].Severity != severity.Medium || tasks[0].Status != "completed" {
		t.Errorf("analyze tasks = %+v", tasks)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		plugin string
		path   string
	}{
		{"unknown plugin", "nope", ""},
		{"attacker only", "demoatk", ""},
		{"missing file", "demofix", filepath.Join(env.dir, "missing.conf")},
		{"no default path", "demofix", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Analyze(context.Background(), tt.plugin, tt.path)
			if !IsNotFound(err) {
				t.Errorf("err = %v, want a not-found error", err)
			}
		})
	}
	if got := env.tasks(t, history.KindAnalyze); len(got) != len(tests) {
		t.Errorf("recorded %d analyze tasks, want %d", len(got), len(tests))
	}
}

func TestApplyFixes_SelectedRules(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeConfig(t, "ServerTokens Full\n")

	out, err := env.svc.ApplyFixes(context.Background(), "demofix", path, []string{"server_tokens", "unknown_rule"}, false)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if !slices.Equal(out.AppliedFindingIDs, []string{"server_tokens"}) {
		t.Errorf("applied = %v", out.AppliedFindingIDs)
	}
	if !slices.Contains(out.SkippedRuleIDs, "unknown_rule") {
		t.Errorf("skipped = %v, want unknown_rule", out.SkippedRuleIDs)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); !strings.Contains(got, "ServerTokens Prod") || strings.Contains(got, "TraceEnable") {
		t.Errorf("content = %q", got)
	}
}

func TestApplyFixes_AllThenClean(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeConfig(t, "ServerTokens Full\n")

	out, err := env.svc.ApplyFixes(context.Background(), "demofix", path, nil, true)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if len(out.AppliedFindingIDs) != 2 {
		t.Errorf("applied = %v, want 2 fixes", out.AppliedFindingIDs)
	}
	backup, err := os.ReadFile(out.BackupPath)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != "ServerTokens Full\n" {
		t.Errorf("backup = %q", backup)
	}

	res, err := env.svc.Analyze(context.Background(), "demofix", path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 0 {
		t.Errorf("findings after fix = %+v", res.Findings)
	}
	if got := env.tasks(t, history.KindFix); len(got) != 1 {
		t.Errorf("recorded %d fix tasks, want 1", len(got))
	}
}

func TestRestartService(t *testing.T) {
	env := newTestEnv(t)

	ok, msg := env.svc.RestartService(context.Background(), "demofix", "")
	if !ok {
		t.Fatalf("RestartService failed: %s", msg)
	}
	want := []string{"demo -t", "systemctl restart demo"}
	if !slices.Equal(env.runner.calls, want) {
		t.Errorf("commands = %v, want %v", env.runner.calls, want)
	}

	ok, _ = env.svc.RestartService(context.Background(), "nope", "demo")
	if ok {
		t.Error("restart through an unknown plugin should fail")
	}
	tasks := env.tasks(t, history.KindRestart)
	if len(tasks) != 2 {
		t.Fatalf("recorded %d restart tasks, want 2", len(tasks))
	}
}

func TestExecuteAttack(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.ExecuteAttack(context.Background(), "demoatk", "127.0.0.1", nil)
	if err != nil {
		t.Fatalf("ExecuteAttack: %v", err)
	}
	if !res.Success || res.Severity != severity.High || res.State != attack.StateCompleted {
		t.Errorf("result = %+v", res)
	}
	if res.Target != "127.0.0.1:8080" {
		t.Errorf("Target = %q, want default port applied", res.Target)
	}

	tasks := env.tasks(t, history.KindAttack)
	if len(tasks) != 1 || tasks[0].Severity != severity.High || tasks[0].Status != string(attack.StateCompleted) {
		t.Errorf("attack tasks = %+v", tasks)
	}
	task, err := env.store.Get(context.Background(), tasks[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(task.Result) == 0 {
		t.Error("attack task has no result payload")
	}
}

func TestExecuteAttack_NotAttacker(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.ExecuteAttack(context.Background(), "demofix", "127.0.0.1", nil)
	var nf *plugin.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("err = %v, want *plugin.NotFoundError", err)
	}
}

func TestFindFixer(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		service string
		want    string
		wantErr bool
	}{
		{"demo", "demofix", false},
		{"DEMO", "demofix", false},
		{"web", "demofix", false},
		{"postgres", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			got, err := env.svc.FindFixer(context.Background(), tt.service)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FindFixer = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAutoFix(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeConfig(t, "ServerTokens Full\n")

	res, err := env.svc.AutoFix(context.Background(), "demofix", path, false, true)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if len(res.Analysis.Findings) != 2 || len(res.Fix.AppliedFindingIDs) != 2 {
		t.Errorf("analysis %d findings, applied %v", len(res.Analysis.Findings), res.Fix.AppliedFindingIDs)
	}
	if res.Restarted == nil || !*res.Restarted {
		t.Errorf("Restarted = %v, %s", res.Restarted, res.RestartMessage)
	}

	// A clean file needs neither fixes nor a restart.
	env.runner.calls = nil
	res, err = env.svc.AutoFix(context.Background(), "demofix", path, false, true)
	if err != nil {
		t.Fatalf("AutoFix: %v", err)
	}
	if res.Fix != nil || res.Restarted != nil || len(env.runner.calls) != 0 {
		t.Errorf("second AutoFix = %+v, commands %v", res, env.runner.calls)
	}
}

func TestService_WithoutHistory(t *testing.T) {
	env := newTestEnv(t)
	svc := New(env.svc.Manager(), fixer.NewEngine(), attack.NewEngine(nil))
	if svc.History() != nil {
		t.Fatal("History() should be nil")
	}
	path := env.writeConfig(t, "ServerTokens Prod\nTraceEnable Off\n")
	res, err := svc.Analyze(context.Background(), "demofix", path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 0 {
		t.Errorf("findings = %+v", res.Findings)
	}
}
