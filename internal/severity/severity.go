// Package severity defines the ordered severity scale shared by findings,
// vector results and attack results.
package severity

import (
	"fmt"
	"strings"
)

// Level is an ordered severity. The zero value is Info.
type Level int

const (
	Info Level = iota
	Low
	Medium
	High
	Critical
)

var names = [...]string{"info", "low", "medium", "high", "critical"}

// String returns the lowercase severity name.
func (l Level) String() string {
	if l >= 0 && int(l) < len(names) {
		return names[l]
	}
	return "unknown"
}

// Parse converts a case-insensitive name into a Level.
func Parse(s string) (Level, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == needle {
			return Level(i), nil
		}
	}
	return Info, fmt.Errorf("severity: unknown level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if l < Info || l > Critical {
		return nil, fmt.Errorf("severity: invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Max returns the highest level among ls, or Info when ls is empty.
func Max(ls ...Level) Level {
	out := Info
	for _, l := range ls {
		if l > out {
			out = l
		}
	}
	return out
}
