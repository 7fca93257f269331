package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/severity"
)

// AnalyzeTask builds the task for an analysis of plugin's configuration.
func AnalyzeTask(plugin, path string, res *fixer.AnalyzeResult, err error) *Task {
	t := &Task{Kind: KindAnalyze, Plugin: plugin, Target: path}
	if err != nil {
		return t.failed(err)
	}
	t.Target = res.FilePath
	t.Status = "completed"
	levels := make([]severity.Level, 0, len(res.Findings))
	for _, f := range res.Findings {
		levels = append(levels, f.Severity)
	}
	t.Severity = severity.Max(levels...)
	t.Summary = fmt.Sprintf("%d findings", len(res.Findings))
	if n := len(res.FailedRules); n > 0 {
		t.Summary += fmt.Sprintf(", %d rules not evaluated", n)
	}
	t.setResult(res)
	return t
}

// FixTask builds the task for an ApplyFixes call.
func FixTask(plugin, path string, out *fixer.FixOutcome, err error) *Task {
	t := &Task{Kind: KindFix, Plugin: plugin, Target: path}
	if out != nil {
		t.Target = out.FilePath
		t.setResult(out)
	}
	if err != nil {
		return t.failed(err)
	}
	t.Status = "completed"
	t.Summary = out.Message
	return t
}

// RestartTask builds the task for a service restart.
func RestartTask(plugin, service string, ok bool, message string) *Task {
	t := &Task{Kind: KindRestart, Plugin: plugin, Target: service, Summary: message, Status: "completed"}
	if !ok {
		t.Status = "failed"
		t.Error = message
	}
	return t
}

// AttackTask builds the task for an attack run. The attack state becomes
// the task status.
func AttackTask(plugin, target string, res *attack.Result, err error) *Task {
	t := &Task{Kind: KindAttack, Plugin: plugin, Target: target}
	if err != nil {
		return t.failed(err)
	}
	t.Target = res.Target
	t.Status = string(res.State)
	t.Severity = res.Severity
	t.Summary = res.Details
	t.CreatedAt = res.StartedAt
	t.FinishedAt = res.FinishedAt
	t.setResult(res)
	return t
}

func (t *Task) failed(err error) *Task {
	t.Status = "failed"
	t.Error = err.Error()
	t.Summary = err.Error()
	t.FinishedAt = time.Now().UTC()
	return t
}

func (t *Task) setResult(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		t.Error = fmt.Sprintf("history: marshal result: %v", err)
		return
	}
	t.Result = data
}
