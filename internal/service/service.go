// Package service is the facade the CLI and the HTTP API drive. It
// resolves plugins through the manager and runs them on the rule engine
// or the attack engine, optionally recording every operation in the task
// history.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/history"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/plugin"
)

// PluginInfo describes a registered plugin.
type PluginInfo struct {
	Name         string      `json:"name"`
	Kind         plugin.Kind `json:"kind"`
	Capabilities []string    `json:"capabilities"`
	Source       string      `json:"source"`
	Description  string      `json:"description,omitempty"`
}

// AutoFixResult is the outcome of AutoFix.
type AutoFixResult struct {
	Analysis *fixer.AnalyzeResult `json:"analysis"`
	Fix      *fixer.FixOutcome    `json:"fix,omitempty"`
	// Restarted is nil when no restart was requested or nothing changed.
	Restarted      *bool  `json:"restarted,omitempty"`
	RestartMessage string `json:"restart_message,omitempty"`
}

// Service wires the plugin manager to the engines.
type Service struct {
	manager  *plugin.Manager
	fixer    *fixer.Engine
	attacker *attack.Engine
	history  history.Store
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHistory records every operation in store.
func WithHistory(store history.Store) Option {
	return func(s *Service) { s.history = store }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service.
func New(m *plugin.Manager, fx *fixer.Engine, at *attack.Engine, opts ...Option) *Service {
	s := &Service{
		manager:  m,
		fixer:    fx,
		attacker: at,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Manager returns the plugin manager.
func (s *Service) Manager() *plugin.Manager { return s.manager }

// History returns the task store, or nil when history is disabled.
func (s *Service) History() history.Store { return s.history }

// ListPlugins returns every registered plugin playing kind, in registration order.
// KindAll lists every plugin.
func (s *Service) ListPlugins(kind plugin.Kind) []PluginInfo {
	descs := s.manager.Registry().List(kind)
	out := make([]PluginInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, PluginInfo{
			Name:         d.Name,
			Kind:         d.Kind,
			Capabilities: slices.Clone(d.Capabilities),
			Source:       d.Source,
			Description:  d.Description,
		})
	}
	return out
}

// withFixer runs fn on the fixer profile of name while the plugin is
// protected from reloads.
func (s *Service) withFixer(ctx context.Context, name string, fn func(*fixer.Profile) error) error {
	return s.manager.Use(ctx, name, func(p plugin.Plugin) error {
		fx, ok := p.(plugin.Fixer)
		if !ok {
			return &plugin.NotFoundError{Name: name + " (fixer)"}
		}
		return fn(fx.Profile())
	})
}

// Analyze inspects a configuration file with a fixer plugin. An empty
// path means the first existing default path of the plugin.
func (s *Service) Analyze(ctx context.Context, name, path string) (*fixer.AnalyzeResult, error) {
	start := time.Now().UTC()
	var res *fixer.AnalyzeResult
	err := s.withFixer(ctx, name, func(p *fixer.Profile) error {
		var err error
		res, err = s.fixer.Analyze(ctx, p, path)
		return err
	})
	s.record(ctx, start, history.AnalyzeTask(name, path, res, err))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyFixes applies the current findings whose rule ids are listed. A nil
// ruleIDs applies every current finding. Listed ids with no current
// finding are reported as skipped.
func (s *Service) ApplyFixes(ctx context.Context, name, path string, ruleIDs []string, backup bool) (*fixer.FixOutcome, error) {
	start := time.Now().UTC()
	var out *fixer.FixOutcome
	err := s.withFixer(ctx, name, func(p *fixer.Profile) error {
		var fixes []fixer.Finding
		var absent []string
		if ruleIDs != nil {
			res, err := s.fixer.Analyze(ctx, p, path)
			if err != nil {
				return err
			}
			fixes, absent = selectFindings(res.Findings, ruleIDs)
			path = res.FilePath
		}
		var err error
		out, err = s.fixer.ApplyFixes(ctx, p, path, fixes, backup)
		if out != nil && len(absent) > 0 {
			out.SkippedRuleIDs = append(out.SkippedRuleIDs, absent...)
			out.Message += "; no finding for: " + strings.Join(absent, ", ")
		}
		return err
	})
	s.record(ctx, start, history.FixTask(name, path, out, err))
	return out, err
}

// selectFindings keeps the findings named by ids, in finding order, and
// returns the ids that matched none.
func selectFindings(findings []fixer.Finding, ids []string) ([]fixer.Finding, []string) {
	fixes := make([]fixer.Finding, 0, len(ids))
	seen := map[string]bool{}
	for _, f := range findings {
		if slices.Contains(ids, f.RuleID) {
			fixes = append(fixes, f)
			seen[f.RuleID] = true
		}
	}
	var absent []string
	for _, id := range ids {
		if !seen[id] && !slices.Contains(absent, id) {
			absent = append(absent, id)
		}
	}
	return fixes, absent
}

// RestartService validates and restarts a service through a fixer
// plugin. An empty service means the plugin's default service.
func (s *Service) RestartService(ctx context.Context, name, service string) (bool, string) {
	start := time.Now().UTC()
	var (
		ok  bool
		msg string
	)
	err := s.withFixer(ctx, name, func(p *fixer.Profile) error {
		if service == "" {
			service = p.Service
		}
		ok, msg = s.fixer.RestartService(ctx, p, service)
		return nil
	})
	if err != nil {
		ok, msg = false, err.Error()
	}
	s.record(ctx, start, history.RestartTask(name, service, ok, msg))
	return ok, msg
}

// ExecuteAttack runs an attacker plugin against target. Per-vector
// failures and policy rejections are part of the result; only plugin
// resolution errors are returned.
func (s *Service) ExecuteAttack(ctx context.Context, name, target string, opts params.Params) (*attack.Result, error) {
	start := time.Now().UTC()
	var res *attack.Result
	err := s.manager.Use(ctx, name, func(p plugin.Plugin) error {
		a, ok := p.(plugin.Attacker)
		if !ok {
			return &plugin.NotFoundError{Name: name + " (attacker)"}
		}
		res = s.attacker.ExecuteAttack(ctx, a, target, opts)
		return nil
	})
	s.record(ctx, start, history.AttackTask(name, target, res, err))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// FindFixer returns the name of the first fixer plugin that handles
// service, matching profile service names and then capabilities.
func (s *Service) FindFixer(ctx context.Context, service string) (string, error) {
	for _, d := range s.manager.Registry().List(plugin.KindFixer) {
		var found bool
		err := s.withFixer(ctx, d.Name, func(p *fixer.Profile) error {
			found = p.Supports(service)
			return nil
		})
		if err != nil {
			s.logger.Warn("skipping fixer", "plugin", d.Name, "error", err)
			continue
		}
		if found {
			return d.Name, nil
		}
	}
	for _, d := range s.manager.Registry().ByCapability(service) {
		if d.Kind.Has(plugin.KindFixer) {
			return d.Name, nil
		}
	}
	return "", &plugin.NotFoundError{Name: "fixer for " + service}
}

// AutoFix analyzes, applies every finding and, when restart is set and
// something changed, restarts the plugin's default service.
func (s *Service) AutoFix(ctx context.Context, name, path string, backup, restart bool) (*AutoFixResult, error) {
	res, err := s.Analyze(ctx, name, path)
	if err != nil {
		return nil, err
	}
	out := &AutoFixResult{Analysis: res}
	if len(res.Findings) == 0 {
		return out, nil
	}

	out.Fix, err = s.ApplyFixes(ctx, name, res.FilePath, nil, backup)
	if err != nil {
		return out, fmt.Errorf("service: apply fixes: %w", err)
	}
	if restart && len(out.Fix.AppliedFindingIDs) > 0 {
		ok, msg := s.RestartService(ctx, name, "")
		out.Restarted = &ok
		out.RestartMessage = msg
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, start time.Time, t *history.Task) {
	if s.history == nil || t == nil {
		return
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = start
	}
	// Cancelled operations are still recorded.
	if err := s.history.Record(context.WithoutCancel(ctx), t); err != nil {
		s.logger.Warn("history record failed", "kind", t.Kind, "plugin", t.Plugin, "error", err)
	}
}

// IsNotFound reports whether err means an unknown plugin or a missing
// configuration file.
func IsNotFound(err error) bool {
	var pnf *plugin.NotFoundError
	var fnf *fixer.NotFoundError
	return errors.As(err, &pnf) || errors.As(err, &fnf)
}
