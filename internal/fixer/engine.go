// Package fixer implements the rule engine that inspects service
// configuration files, proposes remediations and applies them with a
// mandatory backup.
package fixer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/0x6d61/warden/internal/severity"
)

// Finding is one deviation of a configuration file from a rule.
type Finding struct {
	RuleID       string         `json:"rule_id"`
	Description  string         `json:"description"`
	Severity     severity.Level `json:"severity"`
	IssueType    IssueType      `json:"issue_type"`
	CurrentValue *string        `json:"current_value"`
	ProposedFix  string         `json:"proposed_fix"`
}

// RuleFailure records a rule that could not be evaluated, for example
// because its pattern hit the match timeout.
type RuleFailure struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error"`
}

// AnalyzeResult is the outcome of Analyze. A file is only clean when
// Findings and FailedRules are both empty.
type AnalyzeResult struct {
	FilePath    string        `json:"file_path"`
	Findings    []Finding     `json:"findings"`
	FailedRules []RuleFailure `json:"failed_rules,omitempty"`
	Message     string        `json:"message"`
}

// Clean reports whether every rule was evaluated and none produced a
// finding.
func (r *AnalyzeResult) Clean() bool {
	return len(r.Findings) == 0 && len(r.FailedRules) == 0
}

// FixOutcome is the outcome of ApplyFixes.
type FixOutcome struct {
	FilePath          string   `json:"file_path"`
	AppliedFindingIDs []string `json:"applied_finding_ids"`
	SkippedRuleIDs    []string `json:"skipped_rule_ids,omitempty"`
	BackupPath        string   `json:"backup_path,omitempty"`
	Success           bool     `json:"success"`
	Message           string   `json:"message"`
}

// Engine runs rule analysis, fix application and service restarts.
// It is safe for concurrent use.
type Engine struct {
	runner         CommandRunner
	logger         *slog.Logger
	commandTimeout time.Duration
	now            func() time.Time
	locks          *pathLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCommandRunner replaces the runner used by RestartService.
func WithCommandRunner(r CommandRunner) Option {
	return func(e *Engine) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithCommandTimeout bounds each command run by RestartService.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.commandTimeout = d
		}
	}
}

// WithClock overrides the time source used for backup names.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		runner:         ExecRunner{},
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		commandTimeout: 30 * time.Second,
		now:            time.Now,
		locks:          newPathLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolvePath returns path when given, otherwise the first existing
// candidate declared by the profile.
func ResolvePath(p *Profile, path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", &NotFoundError{Path: path}
			}
			return "", &IoError{Op: "stat", Path: path, Err: err}
		}
		return path, nil
	}
	for _, c := range p.ConfigPaths {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", &NotFoundError{Candidates: p.ConfigPaths}
}

// Analyze evaluates every rule of p, in declaration order, against the
// configuration file.
func (e *Engine) Analyze(ctx context.Context, p *Profile, path string) (*AnalyzeResult, error) {
	resolved, err := ResolvePath(p, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, &IoError{Op: "read", Path: resolved, Err: err}
	}

	findings, failed, err := e.analyzeContent(ctx, p, string(data))
	if err != nil {
		return nil, err
	}

	e.logger.Debug("analysis complete", "path", resolved, "rules", len(p.Rules), "findings", len(findings), "failed", len(failed))
	return &AnalyzeResult{
		FilePath:    resolved,
		Findings:    findings,
		FailedRules: failed,
		Message:     analysisMessage(len(p.Rules), findings, failed),
	}, nil
}

func analysisMessage(rules int, findings []Finding, failed []RuleFailure) string {
	msg := fmt.Sprintf("%d rules checked, %d findings", rules, len(findings))
	if len(failed) > 0 {
		ids := make([]string, len(failed))
		for i, f := range failed {
			ids[i] = f.RuleID
		}
		msg += fmt.Sprintf("; %d rules could not be evaluated: %s", len(failed), strings.Join(ids, ", "))
	}
	return msg
}

func (e *Engine) analyzeContent(ctx context.Context, p *Profile, content string) ([]Finding, []RuleFailure, error) {
	findings := make([]Finding, 0)
	var failed []RuleFailure
	for _, r := range p.Rules {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		m, err := r.find(content)
		if err != nil {
			// Contained to the rule, but reported: the file is not clean.
			e.logger.Warn("rule evaluation failed", "rule", r.ID(), "error", err)
			failed = append(failed, RuleFailure{RuleID: r.ID(), Error: err.Error()})
			continue
		}

		switch {
		case m == nil && r.Required():
			findings = append(findings, Finding{
				RuleID:      r.ID(),
				Description: r.Description(),
				Severity:    r.Severity(),
				IssueType:   Missing,
				ProposedFix: r.Replacement(),
			})
		case m != nil && !r.satisfied(m):
			current := strings.TrimSpace(m.value)
			findings = append(findings, Finding{
				RuleID:       r.ID(),
				Description:  r.Description(),
				Severity:     r.Severity(),
				IssueType:    Incorrect,
				CurrentValue: &current,
				ProposedFix:  r.Replacement(),
			})
		}
	}
	return findings, failed, nil
}

// ApplyFixes applies fixes, in order, to the configuration file. A nil
// fixes slice applies every current finding. With backup set, the file is
// copied to <path>.bak.<YYYYMMDDHHMMSS> before any change.
//
// For an incorrect finding only the first matching line is rewritten;
// duplicate directives further down are left untouched.
func (e *Engine) ApplyFixes(ctx context.Context, p *Profile, path string, fixes []Finding, backup bool) (*FixOutcome, error) {
	resolved, err := ResolvePath(p, path)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(resolved)
	defer unlock()

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, &IoError{Op: "stat", Path: resolved, Err: err}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, &IoError{Op: "read", Path: resolved, Err: err}
	}

	var unevaluated []string
	if fixes == nil {
		var failed []RuleFailure
		fixes, failed, err = e.analyzeContent(ctx, p, string(data))
		if err != nil {
			return nil, err
		}
		for _, f := range failed {
			unevaluated = append(unevaluated, fmt.Sprintf("%s: not evaluated (%s)", f.RuleID, f.Error))
		}
	}

	out := &FixOutcome{FilePath: resolved, AppliedFindingIDs: []string{}}
	if backup {
		name, err := createBackup(resolved, e.now())
		if err != nil {
			return nil, &IoError{Op: "backup", Path: resolved, Err: err}
		}
		out.BackupPath = name
		e.logger.Info("backup created", "path", resolved, "backup", name)
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}

	lines := strings.Split(string(data), "\n")
	notes := unevaluated
	for _, f := range fixes {
		r, ok := p.Rule(f.RuleID)
		if !ok {
			out.SkippedRuleIDs = append(out.SkippedRuleIDs, f.RuleID)
			notes = append(notes, fmt.Sprintf("unknown rule %q", f.RuleID))
			continue
		}

		fix := f.ProposedFix
		if fix == "" {
			fix = r.Replacement()
		}

		var applied bool
		switch f.IssueType {
		case Missing:
			lines, applied = insertLine(lines, r, fix)
			if !applied {
				notes = append(notes, fmt.Sprintf("%s: no enclosing %s block", r.ID(), strings.Join(r.Blocks(), "/")))
			}
		case Incorrect:
			lines, applied = replaceFirst(lines, r, fix)
			if !applied {
				notes = append(notes, fmt.Sprintf("%s: no matching line", r.ID()))
			}
		default:
			notes = append(notes, fmt.Sprintf("%s: unknown issue type %q", r.ID(), f.IssueType))
		}

		if applied {
			out.AppliedFindingIDs = append(out.AppliedFindingIDs, r.ID())
		} else {
			out.SkippedRuleIDs = append(out.SkippedRuleIDs, r.ID())
		}
	}

	if len(out.AppliedFindingIDs) > 0 {
		if err := writeAtomic(resolved, []byte(strings.Join(lines, "\n")), info.Mode()); err != nil {
			return out, &IoError{Op: "write", Path: resolved, BackupPath: out.BackupPath, Err: err}
		}
	}

	out.Success = true
	out.Message = fmt.Sprintf("applied %d of %d fixes", len(out.AppliedFindingIDs), len(fixes))
	if len(notes) > 0 {
		out.Message += "; skipped: " + strings.Join(notes, ", ")
	}
	e.logger.Info("fixes applied", "path", resolved, "applied", out.AppliedFindingIDs, "skipped", out.SkippedRuleIDs)
	return out, nil
}

// insertLine adds fix for a missing directive. With no blocks declared it
// is appended; otherwise it goes right after the opening line of the first
// enclosing block found, one level deeper.
func insertLine(lines []string, r Rule, fix string) ([]string, bool) {
	blocks := r.Blocks()
	if len(blocks) == 0 {
		// Keep a trailing newline as the final element.
		if n := len(lines); n > 0 && lines[n-1] == "" {
			return append(lines[:n-1], fix, ""), true
		}
		return append(lines, fix), true
	}

	for _, b := range blocks {
		for i, line := range lines {
			if !opensBlock(line, b) {
				continue
			}
			indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))] + "    "
			out := make([]string, 0, len(lines)+1)
			out = append(out, lines[:i+1]...)
			out = append(out, indent+fix)
			out = append(out, lines[i+1:]...)
			return out, true
		}
	}
	return lines, false
}

// opensBlock reports whether line starts a block named name, such as
// "server {" or "http { # main".
func opensBlock(line, name string) bool {
	body := strings.TrimSpace(line)
	if i := strings.Index(body, "#"); i >= 0 {
		body = strings.TrimSpace(body[:i])
	}
	if !strings.HasSuffix(body, "{") {
		return false
	}
	fields := strings.Fields(strings.TrimSuffix(body, "{"))
	return len(fields) > 0 && fields[0] == name
}

// replaceFirst rewrites the first line matching r, keeping its indentation.
func replaceFirst(lines []string, r Rule, fix string) ([]string, bool) {
	for i, line := range lines {
		ok, err := r.matchesLine(line)
		if err != nil || !ok {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		lines[i] = indent + fix
		return lines, true
	}
	return lines, false
}
