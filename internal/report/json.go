package report

import (
	"context"
	"encoding/json"
	"io"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/history"
	"github.com/0x6d61/warden/internal/plugin"
)

// JSONReporter outputs structured JSON.
type JSONReporter struct {
	// Compact outputs single-line JSON when true (no indentation).
	Compact bool
}

// Format returns "json".
func (r *JSONReporter) Format() string {
	return "json"
}

// jsonOutput is the top-level JSON structure.
type jsonOutput struct {
	SchemaVersion string `json:"schema_version"`
	Tool          string `json:"tool"`
	Type          string `json:"type"`
	Result        any    `json:"result"`
}

// jsonRestart is the result body of a restart.
type jsonRestart struct {
	Service string `json:"service"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (r *JSONReporter) write(ctx context.Context, w io.Writer, kind string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	if !r.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(jsonOutput{
		SchemaVersion: "1.0",
		Tool:          "warden",
		Type:          kind,
		Result:        v,
	})
}

// Plugins writes the plugin catalogue.
func (r *JSONReporter) Plugins(ctx context.Context, w io.Writer, descs []plugin.Descriptor) error {
	if descs == nil {
		descs = []plugin.Descriptor{}
	}
	return r.write(ctx, w, "plugins", descs)
}

// Analysis writes an analysis result.
func (r *JSONReporter) Analysis(ctx context.Context, w io.Writer, res *fixer.AnalyzeResult) error {
	return r.write(ctx, w, "analysis", res)
}

// Fix writes the outcome of ApplyFixes.
func (r *JSONReporter) Fix(ctx context.Context, w io.Writer, out *fixer.FixOutcome) error {
	return r.write(ctx, w, "fix", out)
}

// Restart writes the outcome of a service restart.
func (r *JSONReporter) Restart(ctx context.Context, w io.Writer, service string, ok bool, message string) error {
	return r.write(ctx, w, "restart", jsonRestart{Service: service, Success: ok, Message: message})
}

// Attack writes an attack result.
func (r *JSONReporter) Attack(ctx context.Context, w io.Writer, res *attack.Result) error {
	return r.write(ctx, w, "attack", res)
}

// Tasks writes a history listing.
func (r *JSONReporter) Tasks(ctx context.Context, w io.Writer, tasks []*history.Summary) error {
	if tasks == nil {
		tasks = []*history.Summary{}
	}
	return r.write(ctx, w, "tasks", tasks)
}

// Task writes one recorded task.
func (r *JSONReporter) Task(ctx context.Context, w io.Writer, task *history.Task) error {
	return r.write(ctx, w, "task", task)
}
