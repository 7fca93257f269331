// Package attack implements the attack engine: target eligibility, an
// availability probe, bounded concurrent execution of attack vectors and
// aggregation of their results.
package attack

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/severity"
)

// MaxPoolSize caps concurrent vectors against a single target.
const MaxPoolSize = 8

// Vector is one attack technique.
type Vector interface {
	Name() string
	Run(ctx context.Context, t Target, opts params.Params) (*Outcome, error)
}

type vectorFunc struct {
	name string
	fn   func(ctx context.Context, t Target, opts params.Params) (*Outcome, error)
}

func (v vectorFunc) Name() string { return v.name }

func (v vectorFunc) Run(ctx context.Context, t Target, opts params.Params) (*Outcome, error) {
	return v.fn(ctx, t, opts)
}

// NewVector wraps fn as a named Vector.
func NewVector(name string, fn func(ctx context.Context, t Target, opts params.Params) (*Outcome, error)) Vector {
	return vectorFunc{name: name, fn: fn}
}

// Source supplies the vectors for an attack. Attacker plugins implement it.
type Source interface {
	Name() string
	DefaultPort() int
	Vectors(opts params.Params) []Vector
}

// Config holds engine tuning.
type Config struct {
	PoolSize      int
	VectorTimeout time.Duration
	ProbeTimeout  time.Duration
	Retry         RetryPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:      4,
		VectorTimeout: 30 * time.Second,
		ProbeTimeout:  3 * time.Second,
		Retry:         NoRetry(),
	}
}

// Engine executes attacks. It is safe for concurrent use.
type Engine struct {
	policy     atomic.Pointer[Policy]
	prober     Prober
	cfg        Config
	logger     *slog.Logger
	onProgress func(msg string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets pool size, timeouts and retry policy.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		def := DefaultConfig()
		if c.PoolSize <= 0 {
			c.PoolSize = def.PoolSize
		}
		if c.PoolSize > MaxPoolSize {
			c.PoolSize = MaxPoolSize
		}
		if c.VectorTimeout <= 0 {
			c.VectorTimeout = def.VectorTimeout
		}
		if c.ProbeTimeout <= 0 {
			c.ProbeTimeout = def.ProbeTimeout
		}
		e.cfg = c
	}
}

// WithProber replaces the availability probe.
func WithProber(p Prober) Option {
	return func(e *Engine) {
		if p != nil {
			e.prober = p
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithProgress sets a callback for progress messages.
func WithProgress(fn func(msg string)) Option {
	return func(e *Engine) {
		e.onProgress = fn
	}
}

// NewEngine creates an engine enforcing policy. A nil policy prohibits
// nothing.
func NewEngine(policy *Policy, opts ...Option) *Engine {
	e := &Engine{
		cfg:    DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	e.policy.Store(policy)
	for _, opt := range opts {
		opt(e)
	}
	if e.prober == nil {
		e.prober = TCPProber{Timeout: e.cfg.ProbeTimeout}
	}
	return e
}

// SetPolicy replaces the eligibility policy. Attacks already past
// validation keep the policy they were checked against.
func (e *Engine) SetPolicy(p *Policy) {
	e.policy.Store(p)
}

func (e *Engine) progress(format string, args ...any) {
	if e.onProgress != nil {
		e.onProgress(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) transition(r *Result, s State) {
	e.logger.Debug("attack state", "plugin", r.Plugin, "target", r.Target, "from", r.State, "to", s)
	r.State = s
}

// ExecuteAttack runs src's vectors against rawTarget. It always returns a
// result: policy rejections, unreachable targets, vector failures and
// cancellation are all reported as data.
//
// Recognised options: "port" (used when the target has none) and
// "vectors" (restrict to the named vectors). Everything else is passed to
// the vectors untouched.
func (e *Engine) ExecuteAttack(ctx context.Context, src Source, rawTarget string, opts params.Params) *Result {
	res := &Result{
		Plugin:          src.Name(),
		Target:          rawTarget,
		Severity:        severity.Info,
		Recommendations: []string{},
		Extended:        Extended{},
		Vectors:         []VectorResult{},
		State:           StatePending,
		StartedAt:       time.Now(),
	}
	defer func() { res.FinishedAt = time.Now() }()

	// 1. Eligibility
	e.transition(res, StateValidating)
	target, err := ParseTarget(rawTarget)
	if err != nil {
		return e.finish(res, StateRejected, err.Error())
	}
	if err := e.policy.Load().Check(ctx, target); err != nil {
		e.logger.Warn("attack rejected by policy", "plugin", res.Plugin, "target", rawTarget, "reason", err)
		return e.finish(res, StateRejected, err.Error())
	}
	if ctx.Err() != nil {
		return e.cancelled(res)
	}

	if target.Port == 0 {
		target.Port = opts.Int("port", src.DefaultPort())
	}
	if target.Port <= 0 || target.Port > 65535 {
		return e.finish(res, StateUnreachable, fmt.Sprintf("no usable port for %s", target.Host))
	}
	res.Target = target.String()

	// 2. Availability
	e.transition(res, StateProbing)
	e.progress("Probing %s...", target.Addr())
	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	err = e.prober.Probe(probeCtx, target)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelled(res)
		}
		return e.finish(res, StateUnreachable, fmt.Sprintf("target %s unreachable: %v", target.Addr(), err))
	}

	// 3. Vectors
	e.transition(res, StateExecuting)
	vectors := selectVectors(src.Vectors(opts), opts.StringSlice("vectors", nil))
	if len(vectors) == 0 {
		e.transition(res, StateAggregating)
		return e.finish(res, StateCompleted, "no attack vectors to run")
	}
	e.progress("Running %d vectors against %s...", len(vectors), target.Addr())

	workers := min(e.cfg.PoolSize, len(vectors))
	pool := newWorkerPool(workers, len(vectors), e.cfg.VectorTimeout, e.cfg.Retry, e.logger)
	pool.start(ctx, target, opts)
	for i, v := range vectors {
		pool.submit(job{order: i, vector: v})
	}
	pool.close()

	results := make([]VectorResult, 0, len(vectors))
	for r := range pool.results {
		results = append(results, r)
	}

	// 4. Aggregation
	e.transition(res, StateAggregating)
	aggregate(res, results)

	if ctx.Err() != nil {
		res.Cancelled = true
		e.transition(res, StateCancelled)
		res.Details = "attack cancelled; " + res.Details
		return res
	}
	e.transition(res, StateCompleted)
	e.logger.Info("attack completed",
		"plugin", res.Plugin,
		"target", res.Target,
		"success", res.Success,
		"severity", res.Severity,
		"vectors", len(results),
	)
	return res
}

func (e *Engine) finish(res *Result, s State, details string) *Result {
	res.Success = false
	res.Severity = severity.Info
	res.Details = details
	e.transition(res, s)
	return res
}

func (e *Engine) cancelled(res *Result) *Result {
	res.Cancelled = true
	return e.finish(res, StateCancelled, "attack cancelled")
}

func selectVectors(all []Vector, names []string) []Vector {
	if len(names) == 0 {
		return all
	}
	var out []Vector
	for _, v := range all {
		if slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, v.Name()) }) {
			out = append(out, v)
		}
	}
	return out
}

// aggregate folds vector results into res in declaration order, so the
// output does not depend on completion order.
func aggregate(res *Result, results []VectorResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].order < results[j].order })
	res.Vectors = results

	var (
		positives []string
		failed    int
		errs      = map[string]any{}
		seen      = map[string]bool{}
	)
	for _, r := range results {
		if r.Failed() {
			failed++
			errs[r.Vector] = r.Error
			continue
		}
		if r.Severity > res.Severity {
			res.Severity = r.Severity
		}
		if r.Positive {
			res.Success = true
			positives = append(positives, fmt.Sprintf("%s: %s", r.Vector, r.Details))
		}
		for _, rec := range r.Recommendations {
			if !seen[rec] {
				seen[rec] = true
				res.Recommendations = append(res.Recommendations, rec)
			}
		}
		if len(r.Findings) > 0 {
			res.Extended[r.Vector] = r.Findings
		}
	}
	if len(errs) > 0 {
		res.Extended["errors"] = errs
	}

	switch {
	case len(positives) > 0:
		res.Details = fmt.Sprintf("%d of %d vectors reported findings: %s",
			len(positives), len(results), strings.Join(positives, "; "))
	case failed > 0:
		res.Details = fmt.Sprintf("no findings from %d vectors (%d failed)", len(results), failed)
	default:
		res.Details = fmt.Sprintf("no findings from %d vectors", len(results))
	}
}
