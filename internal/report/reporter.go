// Package report renders analysis, fix, attack and history results for
// terminals and machines.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/history"
	"github.com/0x6d61/warden/internal/plugin"
)

// Reporter writes results in a specific format.
type Reporter interface {
	// Format returns the format name (e.g., "text", "json").
	Format() string

	Plugins(ctx context.Context, w io.Writer, descs []plugin.Descriptor) error
	Analysis(ctx context.Context, w io.Writer, res *fixer.AnalyzeResult) error
	Fix(ctx context.Context, w io.Writer, out *fixer.FixOutcome) error
	Restart(ctx context.Context, w io.Writer, service string, ok bool, message string) error
	Attack(ctx context.Context, w io.Writer, res *attack.Result) error
	Tasks(ctx context.Context, w io.Writer, tasks []*history.Summary) error
	Task(ctx context.Context, w io.Writer, task *history.Task) error
}

// New creates a reporter by format name ("text" or "json").
// The format name is case-insensitive.
func New(format string) (Reporter, error) {
	switch strings.ToLower(format) {
	case "text", "":
		return &TextReporter{}, nil
	case "json":
		return &JSONReporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported report format: %q", format)
	}
}
