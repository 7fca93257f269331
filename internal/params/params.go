// Package params provides the opaque key/value mapping used for plugin
// configuration and attack options, with typed, lenient getters.
package params

import (
	"maps"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Params is an opaque option mapping. Keys are matched case-insensitively
// by the getters; values may come from YAML, JSON or Go code.
type Params map[string]any

// lookup finds key exactly first, then case-insensitively.
func (p Params) lookup(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	if v, ok := p[key]; ok {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p.lookup(key)
	return ok
}

// String returns the value for key as a string, or def when absent or
// not convertible.
func (p Params) String(key, def string) string {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

// Int returns the value for key as an int.
func (p Params) Int(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the value for key as a bool.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Duration returns the value for key as a time.Duration. Bare numbers are
// read as seconds, strings as Go durations ("500ms", "2s").
func (p Params) Duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int, int32, int64, float32, float64, uint, uint32, uint64:
		secs, err := cast.ToFloat64E(n)
		if err != nil {
			return def
		}
		return time.Duration(secs * float64(time.Second))
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}

// StringSlice returns the value for key as a string slice. Comma-separated
// strings are split and trimmed; empty results fall back to def.
func (p Params) StringSlice(key string, def []string) []string {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}

	var out []string
	switch s := v.(type) {
	case string:
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	default:
		items, err := cast.ToStringSliceE(v)
		if err != nil {
			return def
		}
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Map returns a nested mapping for key, or nil.
func (p Params) Map(key string) Params {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil
	}
	return Params(m)
}

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// Merge returns a new mapping holding base overlaid with every key of
// overlay. Neither input is modified.
func Merge(base, overlay Params) Params {
	out := base.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Equal reports whether a and b hold the same keys and values.
func Equal(a, b Params) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
