package attack

import (
	"fmt"
	"reflect"
	"time"

	"github.com/0x6d61/warden/internal/severity"
)

// State is a step of a single ExecuteAttack invocation.
type State string

const (
	StatePending     State = "pending"
	StateValidating  State = "validating"
	StateProbing     State = "probing"
	StateExecuting   State = "executing"
	StateAggregating State = "aggregating"
	StateCompleted   State = "completed"
	StateRejected    State = "rejected"
	StateUnreachable State = "unreachable"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether s ends an invocation.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateRejected, StateUnreachable, StateCancelled:
		return true
	}
	return false
}

// Outcome is what a vector reports on a successful run.
type Outcome struct {
	Positive        bool
	Severity        severity.Level
	Details         string
	Recommendations []string
	Findings        map[string]any
}

// VectorResult is the recorded result of one vector.
type VectorResult struct {
	Vector          string         `json:"vector"`
	Positive        bool           `json:"positive"`
	Severity        severity.Level `json:"severity"`
	Details         string         `json:"details,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Findings        map[string]any `json:"findings,omitempty"`
	Error           string         `json:"error,omitempty"`
	TimedOut        bool           `json:"timed_out,omitempty"`
	Cancelled       bool           `json:"cancelled,omitempty"`
	Attempts        int            `json:"attempts"`
	Duration        time.Duration  `json:"duration"`

	order int
}

// Failed reports whether the vector ended with an error.
func (v VectorResult) Failed() bool { return v.Error != "" }

// Result is the aggregated outcome of ExecuteAttack.
type Result struct {
	Plugin          string         `json:"plugin"`
	Target          string         `json:"target"`
	Success         bool           `json:"success"`
	Details         string         `json:"details"`
	Severity        severity.Level `json:"severity"`
	Recommendations []string       `json:"recommendations"`
	Extended        Extended       `json:"extended"`
	State           State          `json:"state"`
	Cancelled       bool           `json:"cancelled,omitempty"`
	Vectors         []VectorResult `json:"vectors"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}

// Extended is a schema-less map restricted to serialisable values:
// nil, bools, numbers, strings, and slices or string-keyed maps of those.
type Extended map[string]any

// Set stores v under key after validating it.
func (e Extended) Set(key string, v any) error {
	if err := Validate(v); err != nil {
		return fmt.Errorf("attack: extended[%q]: %w", key, err)
	}
	e[key] = v
	return nil
}

// Validate reports whether v may be stored in an Extended map.
func Validate(v any) error {
	if v == nil {
		return nil
	}
	return validateValue(reflect.ValueOf(v), 0)
}

const maxDepth = 32

func validateValue(rv reflect.Value, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Pointer {
			return fmt.Errorf("unsupported pointer type %s", rv.Type())
		}
		return validateValue(rv.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := validateValue(rv.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("map key must be string, got %s", rv.Type().Key())
		}
		iter := rv.MapRange()
		for iter.Next() {
			if err := validateValue(iter.Value(), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported type %s", rv.Type())
}
