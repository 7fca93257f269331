package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/0x6d61/warden/internal/params"
)

// Manager resolves plugin names to live, initialised instances and caches
// them. Each name has its own lock, so resolving or reloading one plugin
// never blocks another.
type Manager struct {
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	configs map[string]params.Params
}

type entry struct {
	mu   sync.RWMutex
	inst Plugin
	cfg  params.Params
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPluginConfigs sets the external per-plugin configuration, keyed by
// plugin name. It is overlaid on each manifest's config.
func WithPluginConfigs(cfgs map[string]params.Params) ManagerOption {
	return func(m *Manager) {
		m.configs = normalizeConfigs(cfgs)
	}
}

// NewManager creates a manager over registry.
func NewManager(registry *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		entries:  map[string]*entry{},
		configs:  map[string]params.Params{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *Registry { return m.registry }

func normalizeConfigs(cfgs map[string]params.Params) map[string]params.Params {
	out := make(map[string]params.Params, len(cfgs))
	for k, v := range cfgs {
		out[strings.ToLower(k)] = v.Clone()
	}
	return out
}

func (m *Manager) entry(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	return e
}

func (m *Manager) configFor(d Descriptor) params.Params {
	m.mu.Lock()
	ext := m.configs[d.key()]
	m.mu.Unlock()
	return params.Merge(d.Config, ext)
}

// Resolve returns the cached instance for name, constructing and
// initialising it on first use.
func (m *Manager) Resolve(name string) (Plugin, error) {
	d, ok := m.registry.Lookup(name)
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	e := m.entry(d.key())

	e.mu.RLock()
	inst := e.inst
	e.mu.RUnlock()
	if inst != nil {
		return inst, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inst != nil {
		return e.inst, nil
	}
	if err := m.construct(d, e); err != nil {
		return nil, err
	}
	return e.inst, nil
}

// construct builds and initialises an instance into e. e.mu must be held.
func (m *Manager) construct(d Descriptor, e *entry) error {
	inst, err := d.factory()
	if err != nil {
		return &InitializationError{Name: d.Name, Err: err}
	}
	cfg := m.configFor(d)
	if err := inst.Initialize(cfg); err != nil {
		closeQuietly(inst)
		m.logger.Error("plugin initialization failed", "plugin", d.Name, "error", err)
		return &InitializationError{Name: d.Name, Err: err}
	}
	e.inst = inst
	e.cfg = cfg
	m.logger.Debug("plugin initialized", "plugin", d.Name, "kind", d.Kind)
	return nil
}

// ResolveFixer resolves name and checks it is a fixer.
func (m *Manager) ResolveFixer(name string) (Fixer, error) {
	p, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	f, ok := p.(Fixer)
	if !ok {
		return nil, &NotFoundError{Name: name + " (fixer)"}
	}
	return f, nil
}

// ResolveAttacker resolves name and checks it is an attacker.
func (m *Manager) ResolveAttacker(name string) (Attacker, error) {
	p, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	a, ok := p.(Attacker)
	if !ok {
		return nil, &NotFoundError{Name: name + " (attacker)"}
	}
	return a, nil
}

// ResolveByCapability resolves every plugin tagged with capability, in
// registration order. Plugins that fail to initialise are left out and
// their errors joined.
func (m *Manager) ResolveByCapability(capability string) ([]Plugin, error) {
	var (
		out  []Plugin
		errs []error
	)
	for _, d := range m.registry.ByCapability(capability) {
		p, err := m.Resolve(d.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// Use resolves name and runs fn while holding the plugin's read lock, so a
// concurrent Reload waits until fn returns. fn must not call Reload for
// the same name.
func (m *Manager) Use(ctx context.Context, name string, fn func(Plugin) error) error {
	d, ok := m.registry.Lookup(name)
	if !ok {
		return &NotFoundError{Name: name}
	}
	e := m.entry(d.key())

	for attempt := 0; attempt < 3; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.mu.RLock()
		if inst := e.inst; inst != nil {
			defer e.mu.RUnlock()
			return fn(inst)
		}
		e.mu.RUnlock()

		if _, err := m.Resolve(name); err != nil {
			return err
		}
	}
	return fmt.Errorf("plugin: %s was reloaded repeatedly while being resolved", name)
}

// Reload tears down the cached instance of name, releasing what it holds,
// then constructs and initialises a replacement. It waits for in-flight
// Use calls on the same name. If the replacement fails nothing is cached.
func (m *Manager) Reload(name string) error {
	d, ok := m.registry.Lookup(name)
	if !ok {
		return &NotFoundError{Name: name}
	}
	e := m.entry(d.key())

	e.mu.Lock()
	defer e.mu.Unlock()
	m.teardown(d.Name, e)
	if err := m.construct(d, e); err != nil {
		return err
	}
	m.logger.Info("plugin reloaded", "plugin", d.Name)
	return nil
}

func (m *Manager) teardown(name string, e *entry) {
	if e.inst == nil {
		return
	}
	if c, ok := e.inst.(io.Closer); ok {
		if err := c.Close(); err != nil {
			m.logger.Warn("plugin close failed", "plugin", name, "error", err)
		}
	}
	e.inst = nil
	e.cfg = nil
}

// ApplyConfig replaces the external plugin configuration and reloads every
// cached plugin whose effective configuration changed.
func (m *Manager) ApplyConfig(cfgs map[string]params.Params) error {
	m.mu.Lock()
	m.configs = normalizeConfigs(cfgs)
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	var errs []error
	for _, k := range keys {
		d, ok := m.registry.Lookup(k)
		if !ok {
			continue
		}
		e := m.entry(k)
		e.mu.RLock()
		cached, old := e.inst != nil, e.cfg
		e.mu.RUnlock()
		if !cached || params.Equal(old, m.configFor(d)) {
			continue
		}
		if err := m.Reload(d.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every cached instance.
func (m *Manager) Close() error {
	m.mu.Lock()
	entries := m.entries
	m.entries = map[string]*entry{}
	m.mu.Unlock()

	for name, e := range entries {
		e.mu.Lock()
		m.teardown(name, e)
		e.mu.Unlock()
	}
	return nil
}
