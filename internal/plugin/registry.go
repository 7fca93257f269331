package plugin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/0x6d61/warden/internal/params"
)

// Descriptor describes a registered plugin. Descriptors are immutable and
// replaced wholesale when the registry is reloaded.
type Descriptor struct {
	Name         string        `json:"name"`
	Kind         Kind          `json:"kind"`
	Capabilities []string      `json:"capabilities"`
	Source       string        `json:"source"`
	Description  string        `json:"description,omitempty"`
	Config       params.Params `json:"-"`

	factory Factory
}

func (d Descriptor) key() string { return strings.ToLower(d.Name) }

// Registry discovers plugins from a compiled-in factory table and from
// YAML manifests naming those factories.
type Registry struct {
	factories map[string]Factory
	logger    *slog.Logger

	mu          sync.RWMutex
	descriptors []Descriptor
	byName      map[string]int
	loadErrors  []*LoadError
}

// NewRegistry creates a registry over the given factory table. Factory
// keys are matched case-insensitively.
func NewRegistry(factories map[string]Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	table := make(map[string]Factory, len(factories))
	for k, f := range factories {
		table[strings.ToLower(k)] = f
	}
	return &Registry{
		factories: table,
		logger:    logger,
		byName:    map[string]int{},
	}
}

// Builtins returns one descriptor per compiled-in factory, in factory key
// order. Factories that fail or produce a non-conforming plugin are
// reported as LoadErrors and left out.
func (r *Registry) Builtins() ([]Descriptor, []*LoadError) {
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		out  []Descriptor
		errs []*LoadError
	)
	for _, k := range keys {
		d, ok, err := r.describe("builtin:"+k, k, &Manifest{Factory: k})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, errs
}

// Scan reads every *.yaml / *.yml manifest in dir, in file name order.
// Files starting with "_" or "." are ignored. Units that fail to parse,
// name an unknown factory or do not conform are returned as LoadErrors
// and skipped. A missing directory yields no descriptors.
func (r *Registry) Scan(dir string) ([]Descriptor, []*LoadError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("plugin: scan %s: %w", dir, err)
	}

	var (
		out  []Descriptor
		errs []*LoadError
	)
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, name)
		m, err := LoadManifest(path)
		if err != nil {
			errs = append(errs, &LoadError{Source: path, Err: err})
			continue
		}
		if !m.IsEnabled() {
			r.logger.Debug("plugin manifest disabled", "path", path)
			continue
		}
		d, ok, lerr := r.describe(path, m.Factory, m)
		if lerr != nil {
			errs = append(errs, lerr)
			continue
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, errs, nil
}

// describe builds a descriptor by constructing a probe instance and
// checking which interfaces it satisfies. ok is false when the unit
// satisfies neither.
func (r *Registry) describe(source, factoryKey string, m *Manifest) (Descriptor, bool, *LoadError) {
	factory, found := r.factories[factoryKey]
	if !found {
		return Descriptor{}, false, &LoadError{Source: source, Err: fmt.Errorf("unknown factory %q", factoryKey)}
	}

	probe, err := factory()
	if err != nil {
		return Descriptor{}, false, &LoadError{Source: source, Err: err}
	}
	if probe == nil {
		return Descriptor{}, false, &LoadError{Source: source, Err: errors.New("factory returned nil")}
	}
	defer closeQuietly(probe)

	kind := KindOf(probe)
	if kind == KindNone {
		r.logger.Debug("plugin skipped, implements neither fixer nor attacker", "source", source)
		return Descriptor{}, false, nil
	}

	name := m.Name
	if name == "" {
		name = probe.Name()
	}
	if strings.TrimSpace(name) == "" {
		return Descriptor{}, false, &LoadError{Source: source, Err: errors.New("plugin has no name")}
	}

	return Descriptor{
		Name:         name,
		Kind:         kind,
		Capabilities: mergeCapabilities(probe.Capabilities(), m.Capabilities),
		Source:       source,
		Description:  m.Description,
		Config:       m.Config.Clone(),
		factory:      factory,
	}, true, nil
}

func mergeCapabilities(lists ...[]string) []string {
	out := []string{}
	for _, list := range lists {
		for _, c := range list {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// Install replaces the registered set with descs. Two descriptors with
// the same case-insensitive name make the whole install fail with a fatal
// LoadError; the registry is then left unchanged.
func (r *Registry) Install(descs []Descriptor, loadErrors []*LoadError) error {
	byName := make(map[string]int, len(descs))
	for i, d := range descs {
		if j, dup := byName[d.key()]; dup {
			return &LoadError{
				Source: d.Source,
				Fatal:  true,
				Err:    fmt.Errorf("plugin name %q already declared by %s", d.Name, descs[j].Source),
			}
		}
		byName[d.key()] = i
	}

	r.mu.Lock()
	r.descriptors = slices.Clone(descs)
	r.byName = byName
	r.loadErrors = slices.Clone(loadErrors)
	r.mu.Unlock()

	for _, le := range loadErrors {
		r.logger.Warn("plugin not loaded", "source", le.Source, "error", le.Err)
	}
	r.logger.Debug("plugin registry loaded", "plugins", len(descs), "errors", len(loadErrors))
	return nil
}

// Load registers the built-in plugins (when builtins is set) followed by
// the manifests in dir.
func (r *Registry) Load(dir string, builtins bool) error {
	var (
		descs []Descriptor
		errs  []*LoadError
	)
	if builtins {
		d, e := r.Builtins()
		descs = append(descs, d...)
		errs = append(errs, e...)
	}
	if dir != "" {
		d, e, err := r.Scan(dir)
		if err != nil {
			return err
		}
		descs = append(descs, d...)
		errs = append(errs, e...)
	}
	return r.Install(descs, errs)
}

// Lookup finds a descriptor by case-insensitive name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// List returns descriptors having every role in kind, in registration
// order.
func (r *Registry) List(kind Kind) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Descriptor{}
	for _, d := range r.descriptors {
		if d.Kind.Has(kind) || (kind == KindAll && d.Kind != KindNone) {
			out = append(out, d)
		}
	}
	return out
}

// ByCapability returns descriptors tagged with capability, in
// registration order.
func (r *Registry) ByCapability(capability string) []Descriptor {
	c := strings.ToLower(strings.TrimSpace(capability))
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Descriptor{}
	for _, d := range r.descriptors {
		if slices.Contains(d.Capabilities, c) {
			out = append(out, d)
		}
	}
	return out
}

// LoadErrors returns the non-fatal errors of the last load.
func (r *Registry) LoadErrors() []*LoadError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.loadErrors)
}

func closeQuietly(p Plugin) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}
