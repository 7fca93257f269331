// Package history provides persistence for fixer and attack tasks, so
// past analyses, fixes and attack runs can be listed and reviewed.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/0x6d61/warden/internal/severity"
)

// Kind is the operation a task recorded.
type Kind string

const (
	KindAnalyze Kind = "analyze"
	KindFix     Kind = "fix"
	KindRestart Kind = "restart"
	KindAttack  Kind = "attack"
)

// ParseKind accepts the Kind names; empty means any kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "", KindAnalyze, KindFix, KindRestart, KindAttack:
		return k, nil
	}
	return "", errors.New("history: unknown task kind " + s)
}

// Task is one recorded operation.
type Task struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Plugin string `json:"plugin"`
	// Target is the configuration path, service or attack target.
	Target     string          `json:"target"`
	Status     string          `json:"status"`
	Severity   severity.Level  `json:"severity"`
	Summary    string          `json:"summary"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Summary is a lightweight task overview.
type Summary struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Plugin     string         `json:"plugin"`
	Target     string         `json:"target"`
	Status     string         `json:"status"`
	Severity   severity.Level `json:"severity"`
	Summary    string         `json:"summary"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Kind        Kind
	Plugin      string
	MinSeverity severity.Level
	Limit       int
}

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("history: task not found")

// Store persists and retrieves tasks.
type Store interface {
	Record(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
