package fixer

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when no configuration file could be located.
type NotFoundError struct {
	Path       string
	Candidates []string
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("fixer: config file not found: %s", e.Path)
	}
	return fmt.Sprintf("fixer: no config file found (tried %s)", strings.Join(e.Candidates, ", "))
}

// IoError wraps a read, write or backup failure on a configuration file.
// When BackupPath is set, the original content is preserved there.
type IoError struct {
	Op         string
	Path       string
	BackupPath string
	Err        error
}

func (e *IoError) Error() string {
	msg := fmt.Sprintf("fixer: %s %s: %v", e.Op, e.Path, e.Err)
	if e.BackupPath != "" {
		msg += fmt.Sprintf(" (backup kept at %s)", e.BackupPath)
	}
	return msg
}

func (e *IoError) Unwrap() error { return e.Err }
