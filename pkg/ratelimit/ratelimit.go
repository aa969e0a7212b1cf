// Package ratelimit implements the rate limiter and dispatcher: a
// bounded worker pool that pulls Candidates, enforces global and
// per-target rate limits, and applies the retry/backoff policy before
// handing requests to a request executor.
package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/fathomsec/fathom/pkg/candidate"
	"github.com/fathomsec/fathom/pkg/executor"
)

// Config controls dispatcher behavior.
type Config struct {
	// Threads is the bounded worker pool size. Default 25.
	Threads int

	// MaxRate is the global requests/second budget across all targets.
	// Zero means unlimited.
	MaxRate float64

	// Delay is the minimum inter-request gap enforced per target host.
	Delay time.Duration

	// Retries is the number of retry attempts after a transport error.
	Retries int

	// Timeout is the per-request timeout passed to the executor.
	Timeout time.Duration

	// ExitOnError converts an unrecoverable transport error (after all
	// retries) into a fatal error that cancels the entire scan.
	ExitOnError bool
}

// DefaultConfig returns the stock dispatcher tuning.
func DefaultConfig() Config {
	return Config{
		Threads: 25,
		Retries: 0,
		Timeout: 10 * time.Second,
	}
}

const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 4 * time.Second
)

// Result pairs a dispatched Candidate with the response it produced (or
// the terminal error when the request failed and ExitOnError is set, or
// the context error when cancellation cut a rate-limit wait short).
type Result struct {
	Candidate candidate.Candidate
	Response  executor.ResponseSummary
	Err       error
}

// PerTargetLimiter enforces the minimum inter-request gap to one host
// (the --delay knob). Safe for concurrent use.
type PerTargetLimiter struct {
	mu      sync.Mutex
	delay   time.Duration
	lastReq time.Time
}

// NewPerTargetLimiter creates a limiter enforcing the given minimum gap
// between consecutive requests. A zero delay never blocks.
func NewPerTargetLimiter(delay time.Duration) *PerTargetLimiter {
	return &PerTargetLimiter{delay: delay}
}

// Wait blocks until the minimum gap since the last request has elapsed.
func (p *PerTargetLimiter) Wait(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}
	p.mu.Lock()
	wait := time.Until(p.lastReq.Add(p.delay))
	if wait < 0 {
		wait = 0
	}
	p.lastReq = time.Now().Add(wait)
	p.mu.Unlock()

	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatcher fans candidates from an input channel out to a bounded
// worker pool, applying global+per-target rate limits and the retry
// policy, and emits one Result per dispatched Candidate.
type Dispatcher struct {
	exec   executor.Executor
	cfg    Config
	global *rate.Limiter

	requestCount atomic.Int64
}

// New creates a Dispatcher bound to exec. cfg.Threads/Timeout default via
// DefaultConfig's values when zero.
func New(exec executor.Executor, cfg Config) *Dispatcher {
	if cfg.Threads <= 0 {
		cfg.Threads = DefaultConfig().Threads
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	var global *rate.Limiter
	if cfg.MaxRate > 0 {
		// Burst of 1 keeps the sliding-window bound tight: requests in any
		// window of length T stay <= MaxRate*T + 1.
		global = rate.NewLimiter(rate.Limit(cfg.MaxRate), 1)
	}

	return &Dispatcher{exec: exec, cfg: cfg, global: global}
}

// RequestCount returns the number of requests this Dispatcher has issued
// so far, across every target it has served.
func (d *Dispatcher) RequestCount() int64 {
	return d.requestCount.Load()
}

// RequestBuilder turns a Candidate into a RequestSpec.
type RequestBuilder func(c candidate.Candidate) executor.RequestSpec

// Run drains in until it is closed or ctx is cancelled, dispatching each
// Candidate to exec through cfg.Threads workers, and sends one Result per
// Candidate to out. Run returns when in is drained and all workers have
// finished. After ctx is cancelled, the next Candidate received from in
// ends the loop undispatched, and Run waits for the in-flight workers,
// whose requests see the same cancelled ctx. Each worker waits at most 2
// seconds to hand its Result to out and drops the Result after that.
func (d *Dispatcher) Run(ctx context.Context, in <-chan candidate.Candidate, out chan<- Result, perTarget *PerTargetLimiter, build RequestBuilder) {
	sem := make(chan struct{}, d.cfg.Threads)
	var wg sync.WaitGroup

	for c := range in {
		if ctx.Err() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(cand candidate.Candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			res := d.dispatchOne(ctx, cand, perTarget, build)
			select {
			case out <- res:
			case <-time.After(2 * time.Second):
				// Grace window elapsed with nobody reading results; drop it
				// rather than leak the goroutine.
			}
		}(c)
	}

	wg.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, c candidate.Candidate, perTarget *PerTargetLimiter, build RequestBuilder) Result {
	if d.global != nil {
		if err := d.global.Wait(ctx); err != nil {
			return Result{Candidate: c, Err: err}
		}
	}
	if perTarget != nil {
		if err := perTarget.Wait(ctx); err != nil {
			return Result{Candidate: c, Err: err}
		}
	}

	spec := build(c)
	if spec.Timeout <= 0 {
		spec.Timeout = d.cfg.Timeout
	}

	resp, err := d.executeWithRetry(ctx, spec)
	d.requestCount.Add(1)
	if err != nil {
		if d.cfg.ExitOnError {
			return Result{Candidate: c, Err: err}
		}
		// Unrecoverable after retries: synthetic status=0, which the
		// classifier drops.
		return Result{Candidate: c, Response: executor.ResponseSummary{Status: 0}}
	}
	return Result{Candidate: c, Response: resp}
}

// executeWithRetry retries transport errors with full-jitter exponential
// backoff (base 250ms, cap 4s) up to cfg.Retries times. HTTP status
// responses are never retried.
func (d *Dispatcher) executeWithRetry(ctx context.Context, spec executor.RequestSpec) (executor.ResponseSummary, error) {
	var lastErr error
	attempts := d.cfg.Retries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt-1); err != nil {
				return executor.ResponseSummary{}, err
			}
		}

		resp, err := d.exec.Execute(ctx, spec)
		if err == nil {
			resp.RetryCount = attempt
			return resp, nil
		}
		lastErr = err

		if !executor.IsRetryable(err) {
			return executor.ResponseSummary{}, err
		}
		if ctx.Err() != nil {
			return executor.ResponseSummary{}, ctx.Err()
		}
	}

	return executor.ResponseSummary{}, lastErr
}

func sleepBackoff(ctx context.Context, retryIndex int) error {
	delay := backoffBase << retryIndex
	if delay <= 0 || delay > backoffCap {
		delay = backoffCap
	}
	jittered := time.Duration(rand.Int63n(int64(delay) + 1))

	t := time.NewTimer(jittered)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrScanCancelled is returned by callers observing the scan-wide
// broadcast cancellation signal.
var ErrScanCancelled = errors.New("scan cancelled")
