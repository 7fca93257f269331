package fixer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0x6d61/warden/internal/severity"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func apacheProfile(t *testing.T) *Profile {
	t.Helper()
	rules, err := CompileRules([]RuleSpec{
		{
			ID:          "server_tokens",
			Pattern:     `^ServerTokens\s+(\w+)`,
			Expected:    Expect("Prod"),
			Replacement: "ServerTokens Prod",
			Description: "hide server version",
			Severity:    severity.Medium,
			Required:    true,
		},
		{
			ID:          "server_signature",
			Pattern:     `^ServerSignature\s+(\w+)`,
			Expected:    Expect("Off"),
			Replacement: "ServerSignature Off",
			Description: "disable server signature",
			Severity:    severity.Low,
			Required:    true,
		},
	})
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	return &Profile{Service: "apache2", Services: []string{"apache2", "httpd"}, Rules: rules}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.conf")
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return string(data)
}

func TestAnalyze_MissingDirective(t *testing.T) {
	p := apacheProfile(t)
	path := writeFile(t, "ServerSignature Off\n")

	res, err := NewEngine().Analyze(context.Background(), p, path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(res.Findings), res.Findings)
	}
	f := res.Findings[0]
	if f.RuleID != "server_tokens" || f.IssueType != Missing {
		t.Errorf("unexpected finding %+v", f)
	}
	if f.CurrentValue != nil {
		t.Errorf("missing finding must have nil current value, got %q", *f.CurrentValue)
	}
	if f.ProposedFix != "ServerTokens Prod" {
		t.Errorf("ProposedFix = %q", f.ProposedFix)
	}
}

func TestAnalyze_IncorrectValue(t *testing.T) {
	p := apacheProfile(t)
	path := writeFile(t, "ServerTokens Full\nServerSignature On\n")

	res, err := NewEngine().Analyze(context.Background(), p, path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(res.Findings))
	}
	want := []struct {
		id      string
		current string
	}{{"server_tokens", "Full"}, {"server_signature", "On"}}
	for i, w := range want {
		f := res.Findings[i]
		if f.RuleID != w.id || f.IssueType != Incorrect {
			t.Errorf("finding[%d] = %+v", i, f)
			continue
		}
		if f.CurrentValue == nil || *f.CurrentValue != w.current {
			t.Errorf("finding[%d] current = %v, want %q", i, f.CurrentValue, w.current)
		}
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	p := apacheProfile(t)
	path := writeFile(t, "ServerTokens OS\n")
	e := NewEngine()

	first, err := e.Analyze(context.Background(), p, path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	second, err := e.Analyze(context.Background(), p, path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("analysis not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestAnalyze_ExpectedNilComparesLine(t *testing.T) {
	rules := MustCompileRules([]RuleSpec{{
		ID:          "frame_options",
		Pattern:     `^\s*add_header\s+X-Frame-Options\b.*$`,
		Replacement: `add_header X-Frame-Options "SAMEORIGIN" always;`,
		Severity:    severity.Medium,
		Required:    true,
	}})
	p := &Profile{Rules: rules}

	ok := writeFile(t, "    add_header X-Frame-Options \"SAMEORIGIN\" always;\n")
	res, err := NewEngine().Analyze(context.Background(), p, ok)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 0 {
		t.Errorf("expected no finding, got %+v", res.Findings)
	}

	bad := writeFile(t, "add_header X-Frame-Options \"ALLOW-FROM x\";\n")
	res, err = NewEngine().Analyze(context.Background(), p, bad)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 1 || res.Findings[0].IssueType != Incorrect {
		t.Errorf("expected one incorrect finding, got %+v", res.Findings)
	}
}

func TestAnalyze_IgnoreCase(t *testing.T) {
	rules := MustCompileRules([]RuleSpec{{
		ID:          "password_auth",
		Pattern:     `^\s*PasswordAuthentication\s+(\w+)`,
		Expected:    Expect("no"),
		Replacement: "PasswordAuthentication no",
		Severity:    severity.High,
		Required:    true,
		IgnoreCase:  true,
	}})
	path := writeFile(t, "passwordauthentication NO\n")

	res, err := NewEngine().Analyze(context.Background(), &Profile{Rules: rules}, path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 0 {
		t.Errorf("expected no finding, got %+v", res.Findings)
	}
}

func TestAnalyze_NamedValueGroup(t *testing.T) {
	rules := MustCompileRules([]RuleSpec{{
		ID:          "max_auth_tries",
		Pattern:     `^(\s*)MaxAuthTries\s+(?<value>\d+)(\s*#.*)?$`,
		Expected:    Expect("3"),
		Replacement: "MaxAuthTries 3",
		Severity:    severity.Medium,
	}})
	path := writeFile(t, "MaxAuthTries 6 # default\n")

	res, err := NewEngine().Analyze(context.Background(), &Profile{Rules: rules}, path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 1 || *res.Findings[0].CurrentValue != "6" {
		t.Fatalf("unexpected findings %+v", res.Findings)
	}
}

func backtrackingProfile(t *testing.T) *Profile {
	t.Helper()
	rules, err := CompileRules([]RuleSpec{
		{
			ID:           "slow",
			Pattern:      `^(a+)+$`,
			Replacement:  "a",
			Severity:     severity.High,
			Required:     true,
			MatchTimeout: 50 * time.Millisecond,
		},
		{
			ID:          "listen",
			Pattern:     `^Listen\s+(\d+)`,
			Expected:    Expect("443"),
			Replacement: "Listen 443",
			Severity:    severity.Low,
			Required:    true,
		},
	})
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	return &Profile{Rules: rules}
}

func TestAnalyze_RuleFailureReported(t *testing.T) {
	path := writeFile(t, strings.Repeat("a", 40)+"b\nListen 443\n")

	res, err := NewEngine().Analyze(context.Background(), backtrackingProfile(t), path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Findings) != 0 {
		t.Errorf("findings = %+v, want none", res.Findings)
	}
	if len(res.FailedRules) != 1 || res.FailedRules[0].RuleID != "slow" || res.FailedRules[0].Error == "" {
		t.Fatalf("failed rules = %+v, want slow", res.FailedRules)
	}
	if res.Clean() {
		t.Error("a file with an unevaluated rule must not be clean")
	}
	if !strings.Contains(res.Message, "could not be evaluated: slow") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestApplyFixes_AllReportsUnevaluatedRules(t *testing.T) {
	path := writeFile(t, strings.Repeat("a", 40)+"b\nListen 80\n")

	out, err := NewEngine(WithClock(func() time.Time { return fixedNow })).
		ApplyFixes(context.Background(), backtrackingProfile(t), path, nil, false)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if !reflect.DeepEqual(out.AppliedFindingIDs, []string{"listen"}) {
		t.Errorf("applied = %v, want [listen]", out.AppliedFindingIDs)
	}
	if !strings.Contains(out.Message, "slow: not evaluated") {
		t.Errorf("message = %q", out.Message)
	}
}

func TestAnalyze_NotFound(t *testing.T) {
	p := apacheProfile(t)
	p.ConfigPaths = []string{filepath.Join(t.TempDir(), "nope.conf")}

	_, err := NewEngine().Analyze(context.Background(), p, "")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	_, err = NewEngine().Analyze(context.Background(), p, filepath.Join(t.TempDir(), "missing"))
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for explicit path, got %v", err)
	}
}

func TestAnalyze_CandidatePaths(t *testing.T) {
	p := apacheProfile(t)
	dir := t.TempDir()
	second := filepath.Join(dir, "second.conf")
	if err := os.WriteFile(second, []byte("ServerTokens Prod\nServerSignature Off\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p.ConfigPaths = []string{filepath.Join(dir, "first.conf"), second}

	res, err := NewEngine().Analyze(context.Background(), p, "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.FilePath != second {
		t.Errorf("FilePath = %q, want %q", res.FilePath, second)
	}
	if len(res.Findings) != 0 {
		t.Errorf("expected clean config, got %+v", res.Findings)
	}
}

func TestApplyFixes_EndToEndServerTokens(t *testing.T) {
	p := apacheProfile(t)
	path := writeFile(t, "ServerSignature Off\n")
	e := NewEngine(WithClock(func() time.Time { return fixedNow }))

	res, err := e.Analyze(context.Background(), p, path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	out, err := e.ApplyFixes(context.Background(), p, path, res.Findings, true)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if !out.Success {
		t.Errorf("expected success, message %q", out.Message)
	}
	if !reflect.DeepEqual(out.AppliedFindingIDs, []string{"server_tokens"}) {
		t.Errorf("AppliedFindingIDs = %v", out.AppliedFindingIDs)
	}
	if got := readFile(t, path); got != "ServerSignature Off\nServerTokens Prod\n" {
		t.Errorf("file content = %q", got)
	}

	again, err := e.Analyze(context.Background(), p, path)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(again.Findings) != 0 {
		t.Errorf("expected no findings after fix, got %+v", again.Findings)
	}
}

func TestApplyFixes_NilFixesAppliesAll(t *testing.T) {
	p := apacheProfile(t)
	path := writeFile(t, "ServerTokens Full\n")

	out, err := NewEngine().ApplyFixes(context.Background(), p, path, nil, false)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if !reflect.DeepEqual(out.AppliedFindingIDs, []string{"server_tokens", "server_signature"}) {
		t.Errorf("AppliedFindingIDs = %v", out.AppliedFindingIDs)
	}
	if out.BackupPath != "" {
		t.Errorf("no backup requested, got %q", out.BackupPath)
	}
	if got := readFile(t, path); got != "ServerTokens Prod\nServerSignature Off\n" {
		t.Errorf("file content = %q", got)
	}
}

func TestApplyFixes_BackupInvariant(t *testing.T) {
	p := apacheProfile(t)
	original := "ServerTokens OS\n"
	path := writeFile(t, original)
	e := NewEngine(WithClock(func() time.Time { return fixedNow }))

	out, err := e.ApplyFixes(context.Background(), p, path, nil, true)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	want := path + ".bak.20260314150926"
	if out.BackupPath != want {
		t.Fatalf("BackupPath = %q, want %q", out.BackupPath, want)
	}
	if got := readFile(t, out.BackupPath); got != original {
		t.Errorf("backup content = %q, want %q", got, original)
	}
}

func TestApplyFixes_BackupNeverOverwritten(t *testing.T) {
	p := apacheProfile(t)
	path := writeFile(t, "ServerTokens OS\n")
	existing := BackupName(path, fixedNow)
	if err := os.WriteFile(existing, []byte("older backup"), 0o600); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(WithClock(func() time.Time { return fixedNow }))

	out, err := e.ApplyFixes(context.Background(), p, path, nil, true)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if out.BackupPath != BackupName(path, fixedNow.Add(time.Second)) {
		t.Errorf("BackupPath = %q", out.BackupPath)
	}
	if got := readFile(t, existing); got != "older backup" {
		t.Errorf("existing backup overwritten: %q", got)
	}
	if got := readFile(t, out.BackupPath); got != "ServerTokens OS\n" {
		t.Errorf("new backup content = %q", got)
	}
}

func TestApplyFixes_FirstOccurrenceOnly(t *testing.T) {
	p := apacheProfile(t)
	path := writeFile(t, "ServerTokens Full\nServerSignature Off\nServerTokens OS\n")
	e := NewEngine()

	res, err := e.Analyze(context.Background(), p, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ApplyFixes(context.Background(), p, path, res.Findings, false); err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}

	// Later duplicates are left as they are.
	got := readFile(t, path)
	if got != "ServerTokens Prod\nServerSignature Off\nServerTokens OS\n" {
		t.Errorf("file content = %q", got)
	}
}

func TestApplyFixes_ReplaceKeepsIndentation(t *testing.T) {
	rules := MustCompileRules([]RuleSpec{{
		ID:          "server_tokens",
		Pattern:     `^\s*server_tokens\s+(\w+)\s*;`,
		Expected:    Expect("off"),
		Replacement: "server_tokens off;",
		Severity:    severity.Medium,
		Required:    true,
	}})
	p := &Profile{Rules: rules}
	path := writeFile(t, "http {\n    server_tokens on;\n    server_tokens on;\n}\n")
	e := NewEngine()

	out, err := e.ApplyFixes(context.Background(), p, path, nil, false)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if len(out.AppliedFindingIDs) != 1 {
		t.Fatalf("AppliedFindingIDs = %v", out.AppliedFindingIDs)
	}
	if got := readFile(t, path); got != "http {\n    server_tokens off;\n    server_tokens on;\n}\n" {
		t.Errorf("file content = %q", got)
	}
}

func TestApplyFixes_BlockInsertion(t *testing.T) {
	rules := MustCompileRules([]RuleSpec{{
		ID:          "nosniff",
		Pattern:     `^\s*add_header\s+X-Content-Type-Options\b.*$`,
		Replacement: `add_header X-Content-Type-Options "nosniff" always;`,
		Severity:    severity.Low,
		Required:    true,
		Blocks:      []string{"server", "http"},
	}})
	p := &Profile{Rules: rules}
	path := writeFile(t, "http {\n    server {\n        listen 80;\n    }\n}\n")

	out, err := NewEngine().ApplyFixes(context.Background(), p, path, nil, false)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if len(out.AppliedFindingIDs) != 1 {
		t.Fatalf("AppliedFindingIDs = %v (%s)", out.AppliedFindingIDs, out.Message)
	}
	want := "http {\n    server {\n        add_header X-Content-Type-Options \"nosniff\" always;\n        listen 80;\n    }\n}\n"
	if got := readFile(t, path); got != want {
		t.Errorf("file content =\n%s\nwant\n%s", got, want)
	}
}

func TestApplyFixes_BlockMissing(t *testing.T) {
	rules := MustCompileRules([]RuleSpec{{
		ID:          "nosniff",
		Pattern:     `^\s*add_header\s+X-Content-Type-Options\b.*$`,
		Replacement: `add_header X-Content-Type-Options "nosniff" always;`,
		Severity:    severity.Low,
		Required:    true,
		Blocks:      []string{"server"},
	}})
	path := writeFile(t, "events {}\n")

	out, err := NewEngine().ApplyFixes(context.Background(), &Profile{Rules: rules}, path, nil, false)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if len(out.AppliedFindingIDs) != 0 || !reflect.DeepEqual(out.SkippedRuleIDs, []string{"nosniff"}) {
		t.Errorf("outcome = %+v", out)
	}
	if got := readFile(t, path); got != "events {}\n" {
		t.Errorf("file should be unchanged, got %q", got)
	}
}

func TestApplyFixes_UnknownRuleReported(t *testing.T) {
	p := apacheProfile(t)
	path := writeFile(t, "")
	fixes := []Finding{
		{RuleID: "does_not_exist", IssueType: Missing, ProposedFix: "Foo bar"},
		{RuleID: "server_tokens", IssueType: Missing, ProposedFix: "ServerTokens Prod"},
	}

	out, err := NewEngine().ApplyFixes(context.Background(), p, path, fixes, false)
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if !out.Success {
		t.Error("unknown rule ids must not fail the operation")
	}
	if !reflect.DeepEqual(out.AppliedFindingIDs, []string{"server_tokens"}) {
		t.Errorf("AppliedFindingIDs = %v", out.AppliedFindingIDs)
	}
	if !strings.Contains(out.Message, "does_not_exist") {
		t.Errorf("message should mention unknown rule, got %q", out.Message)
	}
}

func TestApplyFixes_KeepsFileMode(t *testing.T) {
	p := apacheProfile(t)
	path := writeFile(t, "ServerTokens OS\n")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine().ApplyFixes(context.Background(), p, path, nil, false); err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}
}

func TestApplyFixes_ConcurrentSameFile(t *testing.T) {
	rules := MustCompileRules([]RuleSpec{
		{ID: "a", Pattern: `^A\s+(\w+)`, Expected: Expect("1"), Replacement: "A 1", Severity: severity.Low, Required: true},
		{ID: "b", Pattern: `^B\s+(\w+)`, Expected: Expect("1"), Replacement: "B 1", Severity: severity.Low, Required: true},
	})
	p := &Profile{Rules: rules}
	path := writeFile(t, "")
	e := NewEngine()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r, _ := p.Rule(id)
			fix := []Finding{{RuleID: id, IssueType: Missing, ProposedFix: r.Replacement()}}
			if _, err := e.ApplyFixes(context.Background(), p, path, fix, false); err != nil {
				t.Errorf("ApplyFixes(%s): %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	got := readFile(t, path)
	if !strings.Contains(got, "A 1") || !strings.Contains(got, "B 1") {
		t.Errorf("concurrent fixes lost an update: %q", got)
	}
}

func TestCompileRules_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		specs []RuleSpec
	}{
		{"bad pattern", []RuleSpec{{ID: "x", Pattern: `(`, Replacement: "x", Severity: severity.Low}}},
		{"duplicate id", []RuleSpec{
			{ID: "x", Pattern: `a`, Replacement: "a", Severity: severity.Low},
			{ID: "x", Pattern: `b`, Replacement: "b", Severity: severity.Low},
		}},
		{"info severity", []RuleSpec{{ID: "x", Pattern: `a`, Replacement: "a", Severity: severity.Info}}},
		{"empty replacement", []RuleSpec{{ID: "x", Pattern: `a`, Severity: severity.Low}}},
		{"empty id", []RuleSpec{{Pattern: `a`, Replacement: "a", Severity: severity.Low}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CompileRules(tt.specs); err == nil {
				t.Error("expected error")
			}
		})
	}
}
