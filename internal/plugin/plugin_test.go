package plugin

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/params"
)

// stubPlugin is a configurable test plugin. Which role interfaces it
// satisfies depends on the wrapper type used.
type stubPlugin struct {
	name    string
	caps    []string
	initErr error

	mu     sync.Mutex
	cfg    params.Params
	inits  int
	closed bool

	onClose func()
}

func (s *stubPlugin) Name() string           { return s.name }
func (s *stubPlugin) Capabilities() []string { return s.caps }

func (s *stubPlugin) Initialize(cfg params.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	s.cfg = cfg
	return s.initErr
}

func (s *stubPlugin) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *stubPlugin) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubPlugin) config() params.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

type stubFixer struct{ *stubPlugin }

func (stubFixer) Profile() *fixer.Profile { return &fixer.Profile{Service: "stub"} }

type stubAttacker struct{ *stubPlugin }

func (stubAttacker) DefaultPort() int                      { return 1 }
func (stubAttacker) Vectors(params.Params) []attack.Vector { return nil }

type stubDual struct{ *stubPlugin }

func (stubDual) Profile() *fixer.Profile               { return &fixer.Profile{Service: "stub"} }
func (stubDual) DefaultPort() int                      { return 1 }
func (stubDual) Vectors(params.Params) []attack.Vector { return nil }

// countingFactory builds stub plugins and records every instance.
type countingFactory struct {
	name    string
	initErr error
	wrap    func(*stubPlugin) Plugin

	calls     atomic.Int32
	mu        sync.Mutex
	instances []*stubPlugin
}

func (c *countingFactory) factory() Factory {
	return func() (Plugin, error) {
		c.calls.Add(1)
		sp := &stubPlugin{name: c.name, initErr: c.initErr}
		c.mu.Lock()
		c.instances = append(c.instances, sp)
		c.mu.Unlock()
		if c.wrap == nil {
			return stubFixer{sp}, nil
		}
		return c.wrap(sp), nil
	}
}

func (c *countingFactory) last() *stubPlugin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instances[len(c.instances)-1]
}

func fixerFactory(name string, caps ...string) Factory {
	return func() (Plugin, error) {
		return stubFixer{&stubPlugin{name: name, caps: caps}}, nil
	}
}

func attackerFactory(name string, caps ...string) Factory {
	return func() (Plugin, error) {
		return stubAttacker{&stubPlugin{name: name, caps: caps}}, nil
	}
}

func dualFactory(name string, caps ...string) Factory {
	return func() (Plugin, error) {
		return stubDual{&stubPlugin{name: name, caps: caps}}, nil
	}
}

func plainFactory(name string) Factory {
	return func() (Plugin, error) {
		return &stubPlugin{name: name}, nil
	}
}

func failingFactory(err error) Factory {
	return func() (Plugin, error) { return nil, err }
}

var errBoom = errors.New("boom")
