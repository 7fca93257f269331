// Package plugin defines the plugin contract shared by fixers and
// attackers, the registry that discovers them and the manager that
// resolves and caches live instances.
package plugin

import (
	"fmt"
	"strings"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/params"
)

// Plugin is the part of the contract common to every plugin.
type Plugin interface {
	// Name is the unique plugin name. Lookups ignore case.
	Name() string
	// Capabilities are free-form tags such as service names.
	Capabilities() []string
	// Initialize receives the merged plugin configuration. It is called
	// exactly once per instance, before any other use.
	Initialize(cfg params.Params) error
}

// Fixer is a plugin that hardens a service configuration.
type Fixer interface {
	Plugin
	Profile() *fixer.Profile
}

// Attacker is a plugin that supplies attack vectors.
type Attacker interface {
	Plugin
	attack.Source
}

// Factory constructs a fresh, uninitialised plugin instance.
type Factory func() (Plugin, error)

// Kind is a bit set of the roles a plugin plays.
type Kind uint8

const (
	KindFixer Kind = 1 << iota
	KindAttacker

	KindNone Kind = 0
	KindAll       = KindFixer | KindAttacker
)

// String returns "fixer", "attacker", "fixer+attacker" or "none".
func (k Kind) String() string {
	switch k {
	case KindFixer:
		return "fixer"
	case KindAttacker:
		return "attacker"
	case KindAll:
		return "fixer+attacker"
	}
	return "none"
}

// Has reports whether k includes every role in other.
func (k Kind) Has(other Kind) bool { return other != KindNone && k&other == other }

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. It accepts every
// form String returns.
func (k *Kind) UnmarshalText(text []byte) error {
	switch s := strings.ToLower(strings.TrimSpace(string(text))); s {
	case "fixer":
		*k = KindFixer
	case "attacker":
		*k = KindAttacker
	case "fixer+attacker":
		*k = KindAll
	case "none":
		*k = KindNone
	default:
		return fmt.Errorf("plugin: unknown kind %q", s)
	}
	return nil
}

// ParseKind accepts "fixer", "attacker" and "all" (or empty).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixer", "fixers":
		return KindFixer, nil
	case "attacker", "attackers":
		return KindAttacker, nil
	case "", "all":
		return KindAll, nil
	}
	return KindNone, fmt.Errorf("plugin: unknown kind %q", s)
}

// KindOf reports which interfaces p satisfies.
func KindOf(p Plugin) Kind {
	var k Kind
	if _, ok := p.(Fixer); ok {
		k |= KindFixer
	}
	if _, ok := p.(Attacker); ok {
		k |= KindAttacker
	}
	return k
}
