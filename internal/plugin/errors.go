package plugin

import "fmt"

// LoadError reports a plugin unit that could not be registered. Fatal
// errors (name collisions) abort the whole scan.
type LoadError struct {
	Source string
	Fatal  bool
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin: load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NotFoundError is returned when no plugin matches a name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin: %q not found", e.Name)
}

// InitializationError is returned when a plugin cannot be constructed or
// rejects its configuration. Nothing is cached in that case.
type InitializationError struct {
	Name string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("plugin: initialize %s: %v", e.Name, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }
