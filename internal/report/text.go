package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/history"
	"github.com/0x6d61/warden/internal/plugin"
	"github.com/0x6d61/warden/internal/severity"
)

const (
	doubleLine = "\u2550" // ═
	singleLine = "\u2500" // ─
	lineWidth  = 50
)

// TextReporter outputs terminal text with pterm tables.
type TextReporter struct {
	// Verbose controls detail level: 0=results only, 1=+vector findings, 2=+timings.
	Verbose int
	// Color enables ANSI colors for severities.
	Color bool
}

// Format returns "text".
func (r *TextReporter) Format() string {
	return "text"
}

func (r *TextReporter) severity(l severity.Level) string {
	s := strings.ToUpper(l.String())
	if !r.Color {
		return s
	}
	switch l {
	case severity.Critical:
		return pterm.NewStyle(pterm.FgLightWhite, pterm.BgRed, pterm.Bold).Sprint(s)
	case severity.High:
		return pterm.FgRed.Sprint(s)
	case severity.Medium:
		return pterm.FgYellow.Sprint(s)
	case severity.Low:
		return pterm.FgCyan.Sprint(s)
	}
	return pterm.FgGray.Sprint(s)
}

func header(b *strings.Builder, title string) {
	bar := strings.Repeat(doubleLine, lineWidth)
	fmt.Fprintln(b, bar)
	fmt.Fprintln(b, "warden - "+title)
	fmt.Fprintln(b, bar)
}

func footer(b *strings.Builder, summary string) {
	bar := strings.Repeat(doubleLine, lineWidth)
	fmt.Fprintln(b, bar)
	fmt.Fprintln(b, summary)
	fmt.Fprintln(b, bar)
}

// table renders rows under headers. Nothing is written for no rows.
func table(b *strings.Builder, headers []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	data := pterm.TableData{headers}
	data = append(data, rows...)
	out, err := pterm.DefaultTable.
		WithHasHeader(true).
		WithBoxed(false).
		WithData(data).
		Srender()
	if err != nil {
		return fmt.Errorf("report: render table: %w", err)
	}
	fmt.Fprintln(b, out)
	return nil
}

func flush(b *strings.Builder, w io.Writer) error {
	_, err := io.WriteString(w, b.String())
	return err
}

// Plugins writes the plugin catalogue.
func (r *TextReporter) Plugins(ctx context.Context, w io.Writer, descs []plugin.Descriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := &strings.Builder{}
	rows := make([][]string, 0, len(descs))
	for _, d := range descs {
		rows = append(rows, []string{d.Name, d.Kind.String(), strings.Join(d.Capabilities, ", "), d.Source})
	}
	if len(rows) == 0 {
		fmt.Fprintln(b, "No plugins registered.")
		return flush(b, w)
	}
	if err := table(b, []string{"NAME", "KIND", "CAPABILITIES", "SOURCE"}, rows); err != nil {
		return err
	}
	return flush(b, w)
}

// Analysis writes the findings of one configuration file.
func (r *TextReporter) Analysis(ctx context.Context, w io.Writer, res *fixer.AnalyzeResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := &strings.Builder{}
	header(b, "Configuration Analysis")
	fmt.Fprintf(b, "File: %s\n", res.FilePath)
	fmt.Fprintln(b, strings.Repeat(singleLine, lineWidth))

	if res.Clean() {
		fmt.Fprintln(b, "No findings. The configuration satisfies every rule.")
		return flush(b, w)
	}

	if len(res.FailedRules) > 0 {
		fmt.Fprintln(b, "Rules not evaluated:")
		for _, f := range res.FailedRules {
			fmt.Fprintf(b, "  %s: %s\n", f.RuleID, f.Error)
		}
		fmt.Fprintln(b)
	}
	if len(res.Findings) == 0 {
		footer(b, fmt.Sprintf("Summary: 0 findings, %d rules not evaluated", len(res.FailedRules)))
		return flush(b, w)
	}

	rows := make([][]string, 0, len(res.Findings))
	for _, f := range res.Findings {
		current := "-"
		if f.CurrentValue != nil {
			current = *f.CurrentValue
		}
		rows = append(rows, []string{r.severity(f.Severity), f.RuleID, string(f.IssueType), current, f.ProposedFix})
	}
	if err := table(b, []string{"SEVERITY", "RULE", "ISSUE", "CURRENT", "PROPOSED FIX"}, rows); err != nil {
		return err
	}
	summary := fmt.Sprintf("Summary: %d findings", len(res.Findings))
	if len(res.FailedRules) > 0 {
		summary += fmt.Sprintf(", %d rules not evaluated", len(res.FailedRules))
	}
	footer(b, summary)
	return flush(b, w)
}

// Fix writes the outcome of ApplyFixes.
func (r *TextReporter) Fix(ctx context.Context, w io.Writer, out *fixer.FixOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := &strings.Builder{}
	header(b, "Fix Results")
	fmt.Fprintf(b, "File:   %s\n", out.FilePath)
	if out.BackupPath != "" {
		fmt.Fprintf(b, "Backup: %s\n", out.BackupPath)
	}
	fmt.Fprintln(b, strings.Repeat(singleLine, lineWidth))
	for _, id := range out.AppliedFindingIDs {
		fmt.Fprintf(b, "  [applied] %s\n", id)
	}
	for _, id := range out.SkippedRuleIDs {
		fmt.Fprintf(b, "  [skipped] %s\n", id)
	}
	footer(b, out.Message)
	return flush(b, w)
}

// Restart writes the outcome of a service restart.
func (r *TextReporter) Restart(ctx context.Context, w io.Writer, service string, ok bool, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if service == "" {
		_, err := fmt.Fprintln(w, message)
		return err
	}
	status := "restarted"
	if !ok {
		status = "NOT restarted"
	}
	_, err := fmt.Fprintf(w, "Service %s %s: %s\n", service, status, message)
	return err
}

// Attack writes an attack result.
func (r *TextReporter) Attack(ctx context.Context, w io.Writer, res *attack.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := &strings.Builder{}
	header(b, "Attack Results")
	fmt.Fprintf(b, "Plugin:   %s\n", res.Plugin)
	fmt.Fprintf(b, "Target:   %s\n", res.Target)
	fmt.Fprintf(b, "State:    %s\n", res.State)
	fmt.Fprintf(b, "Severity: %s\n", r.severity(res.Severity))
	if r.Verbose >= 2 && !res.FinishedAt.IsZero() {
		fmt.Fprintf(b, "Duration: %.1fs\n", res.FinishedAt.Sub(res.StartedAt).Seconds())
	}
	fmt.Fprintln(b, strings.Repeat(singleLine, lineWidth))

	rows := make([][]string, 0, len(res.Vectors))
	for _, v := range res.Vectors {
		result := "negative"
		switch {
		case v.Failed():
			result = "error: " + v.Error
		case v.Positive:
			result = "POSITIVE"
		}
		row := []string{v.Vector, result, r.severity(v.Severity), v.Details}
		if r.Verbose >= 2 {
			row = append(row, fmt.Sprintf("%d", v.Attempts), v.Duration.Round(time.Millisecond).String())
		}
		rows = append(rows, row)
	}
	headers := []string{"VECTOR", "RESULT", "SEVERITY", "DETAILS"}
	if r.Verbose >= 2 {
		headers = append(headers, "ATTEMPTS", "DURATION")
	}
	if err := table(b, headers, rows); err != nil {
		return err
	}

	if r.Verbose >= 1 {
		for _, v := range res.Vectors {
			if len(v.Findings) == 0 {
				continue
			}
			fmt.Fprintf(b, "%s:\n", v.Vector)
			keys := make([]string, 0, len(v.Findings))
			for k := range v.Findings {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(b, "  %s: %v\n", k, v.Findings[k])
			}
		}
	}

	if len(res.Recommendations) > 0 {
		fmt.Fprintln(b, "Recommendations:")
		for _, rec := range res.Recommendations {
			fmt.Fprintf(b, "  - %s\n", rec)
		}
	}
	footer(b, "Summary: "+res.Details)
	return flush(b, w)
}

// Tasks writes a history listing.
func (r *TextReporter) Tasks(ctx context.Context, w io.Writer, tasks []*history.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := &strings.Builder{}
	if len(tasks) == 0 {
		fmt.Fprintln(b, "No tasks recorded.")
		return flush(b, w)
	}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID,
			t.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			string(t.Kind),
			t.Plugin,
			t.Target,
			t.Status,
			r.severity(t.Severity),
		})
	}
	if err := table(b, []string{"ID", "FINISHED", "KIND", "PLUGIN", "TARGET", "STATUS", "SEVERITY"}, rows); err != nil {
		return err
	}
	return flush(b, w)
}

// Task writes one recorded task.
func (r *TextReporter) Task(ctx context.Context, w io.Writer, t *history.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := &strings.Builder{}
	header(b, "Task "+t.ID)
	fmt.Fprintf(b, "Kind:     %s\n", t.Kind)
	fmt.Fprintf(b, "Plugin:   %s\n", t.Plugin)
	fmt.Fprintf(b, "Target:   %s\n", t.Target)
	fmt.Fprintf(b, "Status:   %s\n", t.Status)
	fmt.Fprintf(b, "Severity: %s\n", r.severity(t.Severity))
	fmt.Fprintf(b, "Started:  %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(b, "Finished: %s\n", t.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	if t.Error != "" {
		fmt.Fprintf(b, "Error:    %s\n", t.Error)
	}
	footer(b, "Summary: "+t.Summary)
	return flush(b, w)
}
