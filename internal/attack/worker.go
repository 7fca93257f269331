package attack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0x6d61/warden/internal/params"
)

// job is one vector to run against the target.
type job struct {
	order  int
	vector Vector
}

// workerPool runs vectors concurrently with a fixed number of workers.
type workerPool struct {
	workers int
	jobs    chan job
	results chan VectorResult
	wg      sync.WaitGroup

	logger  *slog.Logger
	timeout time.Duration
	retry   RetryPolicy
}

// newWorkerPool creates a pool. The results channel holds every result so
// workers never block on a slow collector.
func newWorkerPool(workers, total int, timeout time.Duration, retry RetryPolicy, logger *slog.Logger) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	return &workerPool{
		workers: workers,
		jobs:    make(chan job, workers*2),
		results: make(chan VectorResult, total),
		logger:  logger,
		timeout: timeout,
		retry:   retry,
	}
}

// start launches all worker goroutines.
func (p *workerPool) start(ctx context.Context, target Target, opts params.Params) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, target, opts)
	}
}

func (p *workerPool) worker(ctx context.Context, target Target, opts params.Params) {
	defer p.wg.Done()

	for j := range p.jobs {
		if ctx.Err() != nil {
			p.results <- VectorResult{
				Vector:    j.vector.Name(),
				Error:     "cancelled before start",
				Cancelled: true,
				order:     j.order,
			}
			continue
		}
		p.results <- p.runWithRetry(ctx, j, target, opts)
	}
}

// runWithRetry applies the retry policy around a vector.
func (p *workerPool) runWithRetry(ctx context.Context, j job, target Target, opts params.Params) VectorResult {
	name := j.vector.Name()
	res := VectorResult{Vector: name, order: j.order}
	start := time.Now()

	var (
		out *Outcome
		err error
	)
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		out, err = p.runOnce(ctx, j.vector, target, opts)
		if err == nil || ctx.Err() != nil {
			break
		}
		if attempt >= p.retry.attempts() || !p.retry.shouldRetry(err) {
			break
		}
		p.logger.Debug("retrying vector", "vector", name, "attempt", attempt, "error", err)
		if p.retry.wait(ctx, attempt) != nil {
			break
		}
	}
	res.Duration = time.Since(start)

	if err != nil {
		var te *TimeoutError
		res.TimedOut = errors.As(err, &te)
		res.Cancelled = !res.TimedOut && ctx.Err() != nil
		res.Error = err.Error()
		p.logger.Debug("vector failed", "vector", name, "error", err)
		return res
	}

	if out == nil {
		out = &Outcome{}
	}
	if verr := Validate(out.Findings); verr != nil {
		res.Error = fmt.Sprintf("invalid findings: %v", verr)
		return res
	}
	res.Positive = out.Positive
	res.Severity = out.Severity
	res.Details = out.Details
	res.Recommendations = out.Recommendations
	res.Findings = out.Findings
	return res
}

type runReply struct {
	out *Outcome
	err error
}

// runOnce runs a single attempt under the per-vector timeout. The vector
// runs in its own goroutine so one that ignores its context cannot hold a
// worker past the deadline.
func (p *workerPool) runOnce(ctx context.Context, v Vector, target Target, opts params.Params) (*Outcome, error) {
	vctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan runReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("vector recovered from panic", "vector", v.Name(), "panic", fmt.Sprintf("%v", r))
				done <- runReply{err: fmt.Errorf("vector panicked: %v", r)}
			}
		}()
		out, err := v.Run(vctx, target, opts)
		done <- runReply{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(vctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Vector: v.Name(), After: p.timeout}
		}
		return r.out, r.err
	case <-vctx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("vector %s: %w", v.Name(), ctx.Err())
		}
		return nil, &TimeoutError{Vector: v.Name(), After: p.timeout}
	}
}

// submit adds a job to the queue. It blocks if the jobs channel is full.
func (p *workerPool) submit(j job) {
	p.jobs <- j
}

// close signals that no more jobs will be submitted, then waits for all
// workers to finish and closes the results channel.
func (p *workerPool) close() {
	close(p.jobs)
	p.wg.Wait()
	close(p.results)
}
