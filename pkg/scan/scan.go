// Package scan implements the scan coordinator: the top-level owner of a
// target's candidate queue, calibration data, filter chain, and deadline,
// wiring together every other component package into one runnable scan.
//
// Recursion is modeled as an explicit, growable slice processed
// index-by-index (append while iterating) rather than recursive function
// calls, so discovered depth never grows the goroutine stack.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fathomsec/fathom/pkg/calibrate"
	"github.com/fathomsec/fathom/pkg/candidate"
	"github.com/fathomsec/fathom/pkg/classify"
	"github.com/fathomsec/fathom/pkg/dictionary"
	"github.com/fathomsec/fathom/pkg/executor"
	"github.com/fathomsec/fathom/pkg/mutate"
	"github.com/fathomsec/fathom/pkg/ratelimit"
	"github.com/fathomsec/fathom/pkg/recurse"
	"github.com/fathomsec/fathom/pkg/sink"
	"github.com/fathomsec/fathom/pkg/wordlist"
)

// ErrExitOnError is returned by RunTarget and RunAll when ExitOnError
// promotes an unrecoverable failure into a scan-wide abort. Callers map
// it to their fatal exit path with errors.Is.
var ErrExitOnError = errors.New("scan aborted by exit-on-error")

// TargetSpec describes one scan target, minus the state owned internally
// by the Coordinator.
type TargetSpec struct {
	Ref     string
	BaseURL string
	Headers map[string]string
}

// Config is the immutable, scan-wide configuration shared by every
// target. There is no process-global mutable state: two Coordinators
// with different Configs can run in one process without interfering.
type Config struct {
	Dispatcher ratelimit.Config
	Wordlist   wordlist.Config
	Dictionary dictionary.Config
	Recursion  recurse.Config
	Classify   classify.Config

	// Mutation enables the Mutator on every kept result.
	Mutation bool

	// CalibrationMode gates the Calibrator. ModeOff disables wildcard
	// detection entirely.
	CalibrationMode      calibrate.Mode
	CalibrationSampleExt string

	// MaxTime bounds the whole scan; zero means no deadline.
	MaxTime time.Duration
	// TargetMaxTime bounds one target; zero means no per-target deadline.
	TargetMaxTime time.Duration

	// SkipOnStatus cancels the current target immediately the moment any
	// response matches.
	SkipOnStatus []classify.IntRange

	// QueueBuffer bounds the candidate queue per target. Defaults to
	// 4x Dispatcher.Threads when zero.
	QueueBuffer int
}

// Summary aggregates one target's (or the whole scan's) outcome.
type Summary struct {
	TargetRef         string
	Requested         int64
	Kept              int64
	Filtered          int64
	Errors            int64
	Duration          time.Duration
	RecursionDepthMax int

	// Completed is false when the target was cut short by cancellation or
	// a deadline rather than draining its queue.
	Completed bool
}

// Stats is the process-wide atomic counter set, aggregated across every
// target a Coordinator has scanned. internal/statusserver reads a
// Snapshot to publish Prometheus gauges without touching scan internals.
type Stats struct {
	requested atomic.Int64
	kept      atomic.Int64
	filtered  atomic.Int64
	errors    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats, safe to pass around.
type StatsSnapshot struct {
	Requested int64
	Kept      int64
	Filtered  int64
	Errors    int64
}

// Snapshot reads every counter. Individual fields may be mutated
// concurrently with the read, so the result is a best-effort point in
// time, never a torn value per field.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Requested: s.requested.Load(),
		Kept:      s.kept.Load(),
		Filtered:  s.filtered.Load(),
		Errors:    s.errors.Load(),
	}
}

// Coordinator owns the shared Executor, Dispatcher, and Sink across
// every target it scans.
type Coordinator struct {
	cfg        Config
	exec       executor.Executor
	dispatcher *ratelimit.Dispatcher
	sink       sink.Sink
	stats      Stats
}

// New wires a Coordinator around an Executor and Sink.
func New(exec executor.Executor, snk sink.Sink, cfg Config) *Coordinator {
	if cfg.QueueBuffer <= 0 {
		threads := cfg.Dispatcher.Threads
		if threads <= 0 {
			threads = ratelimit.DefaultConfig().Threads
		}
		cfg.QueueBuffer = threads * 4
	}
	return &Coordinator{
		cfg:        cfg,
		exec:       exec,
		dispatcher: ratelimit.New(exec, cfg.Dispatcher),
		sink:       snk,
	}
}

// Stats returns the Coordinator's process-wide counters.
func (c *Coordinator) Stats() *Stats {
	return &c.stats
}

// RunAll scans every target in input order. targetConcurrency bounds how
// many targets run simultaneously; 1 means fully sequential.
func (c *Coordinator) RunAll(ctx context.Context, targets []TargetSpec, targetConcurrency int) ([]*Summary, error) {
	if targetConcurrency <= 0 {
		targetConcurrency = 1
	}

	// One cancelable context shared by every target: a fatal error in any
	// of them (ExitOnError, bad filter config) aborts all the others too.
	ctx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()
	if c.cfg.MaxTime > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, c.cfg.MaxTime)
		defer timeoutCancel()
	}

	sem := make(chan struct{}, targetConcurrency)
	results := make([]*Summary, len(targets))
	errs := make([]error, len(targets))

	done := make(chan int, len(targets))
	for i, t := range targets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			done <- i
			continue
		}
		go func(idx int, target TargetSpec) {
			defer func() { <-sem }()
			summary, err := c.runTarget(ctx, cancelScan, target)
			results[idx] = summary
			errs[idx] = err
			done <- idx
		}(i, t)
	}
	for range targets {
		<-done
	}

	// A fatal error is what cancelled the shared context, so prefer it
	// over the context errors the cancellation caused in sibling targets.
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return results, err
		}
	}
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// RunTarget scans one target end to end: calibration, dictionary
// expansion, dispatch, classification, recursion, and sink delivery.
// For a standalone target the scan-wide abort is the target's own
// cancellation.
func (c *Coordinator) RunTarget(ctx context.Context, target TargetSpec) (*Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return c.runTarget(ctx, cancel, target)
}

// runTarget drives one target under ctx. cancelScan aborts the whole
// scan (every sibling target), not just this one; it fires only when
// ExitOnError promotes a failure to fatal, or for configuration errors
// that would fail identically on every target.
func (c *Coordinator) runTarget(ctx context.Context, cancelScan context.CancelFunc, target TargetSpec) (*Summary, error) {
	start := time.Now()

	ctx, cancelTarget := context.WithCancel(ctx)
	defer cancelTarget()
	if c.cfg.TargetMaxTime > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, c.cfg.TargetMaxTime)
		defer timeoutCancel()
	}

	calData, err := c.calibrate(ctx, target)
	if err != nil {
		_ = c.sink.WriteError(sink.ErrorRecord{
			TargetRef: target.Ref,
			Code:      sink.ErrCodeTargetSetup,
			Message:   err.Error(),
		})
		summary := &Summary{TargetRef: target.Ref, Duration: time.Since(start)}
		if c.cfg.Dispatcher.ExitOnError {
			cancelScan()
			return summary, fmt.Errorf("%w: calibrate %s: %v", ErrExitOnError, target.Ref, err)
		}
		return summary, nil
	}

	classifyCfg := c.cfg.Classify
	classifyCfg.Calibration = calData
	chain, err := classify.New(classifyCfg)
	if err != nil {
		// A filter regex that fails to compile fails the same way for
		// every target; no point letting siblings run into it too.
		_ = c.sink.WriteError(sink.ErrorRecord{
			TargetRef: target.Ref,
			Code:      sink.ErrCodeConfig,
			Message:   err.Error(),
		})
		cancelScan()
		return &Summary{TargetRef: target.Ref, Duration: time.Since(start)}, fmt.Errorf("classifier config: %w", err)
	}

	run := &targetRun{
		coordinator:  c,
		target:       target,
		chain:        chain,
		cancelTarget: cancelTarget,
		cancelScan:   cancelScan,
	}
	run.recurseCtl = recurse.New(c.cfg.Recursion, c.cfg.QueueBuffer)

	run.process(ctx)

	return &Summary{
		TargetRef:         target.Ref,
		Requested:         run.requested.Load(),
		Kept:              run.kept.Load(),
		Filtered:          run.filtered.Load(),
		Errors:            run.errors.Load(),
		Duration:          time.Since(start),
		RecursionDepthMax: int(run.maxDepth.Load()),
		Completed:         ctx.Err() == nil,
	}, run.fatal
}

// calibrate runs the Calibrator once for target, issuing probes directly
// through the Executor rather than the Dispatcher's worker pool. K=4
// probes per round is small enough that bypassing rate-limit accounting
// for this phase only trades a slightly looser token-bucket bound for
// simpler wiring; real traffic still flows entirely through the
// Dispatcher.
func (c *Coordinator) calibrate(ctx context.Context, target TargetSpec) (*calibrate.CalibrationData, error) {
	prober := func(ctx context.Context, path string) (executor.ResponseSummary, error) {
		spec := executor.RequestSpec{
			Method:          "GET",
			URL:             target.BaseURL + path,
			Headers:         target.Headers,
			FollowRedirects: false,
			Timeout:         c.cfg.Dispatcher.Timeout,
		}
		return c.exec.Execute(ctx, spec)
	}
	return calibrate.Calibrate(ctx, c.cfg.CalibrationMode, c.cfg.CalibrationSampleExt, prober)
}

// targetRun holds the mutable, single-target state threaded through one
// RunTarget call: the growable recursion queue and counters. Dedup sets
// are created per sub-scan prefix instead, in scanPrefix.
type targetRun struct {
	coordinator  *Coordinator
	target       TargetSpec
	chain        *classify.Chain
	recurseCtl   *recurse.Controller
	cancelTarget context.CancelFunc
	cancelScan   context.CancelFunc

	// fatal records the first ExitOnError-promoted failure. Only the
	// single results-consumer goroutine writes it.
	fatal error

	requested atomic.Int64
	kept      atomic.Int64
	filtered  atomic.Int64
	errors    atomic.Int64
	maxDepth  atomic.Int64
}

// process drives the prefix queue: index 0 is the target root; every
// accepted-for-recursion result appends a new prefix to the same slice,
// which the for loop continues to drain.
func (r *targetRun) process(ctx context.Context) {
	pending := []recurse.SubScan{{Prefix: "", Depth: 0}}

	for i := 0; i < len(pending); i++ {
		if ctx.Err() != nil {
			break
		}
		sub := pending[i]
		if int64(sub.Depth) > r.maxDepth.Load() {
			r.maxDepth.Store(int64(sub.Depth))
		}
		r.scanPrefix(ctx, sub)

	drainLoop:
		for {
			select {
			case next, ok := <-r.recurseCtl.Next():
				if !ok {
					break drainLoop
				}
				pending = append(pending, next)
			default:
				break drainLoop
			}
		}
	}
}

// scanPrefix expands the dictionary/wordlist against one prefix, drains
// the candidates through the Dispatcher, classifies each response, and
// delivers kept results. Mutation-derived candidates are dispatched
// inline as a second, smaller round scoped to this same prefix.
func (r *targetRun) scanPrefix(ctx context.Context, sub recurse.SubScan) {
	stream, err := wordlist.New(r.coordinator.cfg.Wordlist)
	if err != nil {
		r.reportError(sink.ErrCodeConfig, err)
		return
	}
	// Each prefix gets its own dedup set: a candidate path is relative to
	// one directory's wordlist expansion, and recursion into a different
	// prefix is a disjoint path space, not a continuation of the same one.
	expander := dictionary.New(r.coordinator.cfg.Dictionary, candidate.NewDedupSet())

	queue := make(chan candidate.Candidate, r.coordinator.cfg.QueueBuffer)
	results := make(chan ratelimit.Result, r.coordinator.cfg.QueueBuffer)
	perTarget := ratelimit.NewPerTargetLimiter(r.coordinator.cfg.Dispatcher.Delay)

	build := func(cand candidate.Candidate) executor.RequestSpec {
		return executor.RequestSpec{
			Method:          "GET",
			URL:             r.target.BaseURL + sub.Prefix + cand.Path,
			Headers:         r.target.Headers,
			FollowRedirects: false,
			Timeout:         r.coordinator.cfg.Dispatcher.Timeout,
		}
	}

	entries := make(chan wordlist.Entry, 64)
	entryErr := make(chan error, 1)
	// ctx.Done() is passed directly as the producer's bail-out signal: if we
	// instead used a locally-scoped done channel closed only when scanPrefix
	// returns, the producer could block forever writing to entries after the
	// expansion goroutine below has already exited on cancellation, since
	// nothing would be left to drain entries or to close that local channel
	// early.
	go func() { entryErr <- stream.Entries(ctx.Done(), entries) }()

	go func() {
		defer close(queue)
		for entry := range entries {
			for _, cand := range expander.Expand(entry.Raw) {
				cand.Depth = sub.Depth
				select {
				case queue <- cand:
					r.requested.Add(1)
					r.coordinator.stats.requested.Add(1)
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		defer close(results)
		r.coordinator.dispatcher.Run(ctx, queue, results, perTarget, build)
	}()

	for res := range results {
		if ctx.Err() != nil {
			break
		}
		r.handleResult(ctx, sub, res)
	}

	if err := <-entryErr; err != nil {
		r.reportError(sink.ErrCodeConfig, err)
	}
}

func (r *targetRun) handleResult(ctx context.Context, sub recurse.SubScan, res ratelimit.Result) {
	if res.Err != nil {
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			// The scan is already unwinding; nothing new to report.
			return
		}
		r.errors.Add(1)
		r.coordinator.stats.errors.Add(1)
		_ = r.coordinator.sink.WriteError(sink.ErrorRecord{
			TargetRef: r.target.Ref,
			Code:      sink.ErrCodeTransport,
			Message:   res.Err.Error(),
		})
		if r.coordinator.cfg.Dispatcher.ExitOnError {
			r.recordFatal(res.Err)
		}
		return
	}

	if matchesAny(r.coordinator.cfg.SkipOnStatus, res.Response.Status) {
		r.cancelTarget()
		return
	}

	cls := r.chain.Classify(res.Candidate, res.Response)
	if !cls.Keep {
		r.filtered.Add(1)
		r.coordinator.stats.filtered.Add(1)
		return
	}
	r.kept.Add(1)
	r.coordinator.stats.kept.Add(1)

	_ = r.coordinator.sink.WriteResult(sink.ResultRecord{
		Timestamp:     time.Now().UTC(),
		TargetRef:     r.target.Ref,
		CandidatePath: sub.Prefix + res.Candidate.Path,
		FinalURL:      res.Response.FinalURL,
		Type:          string(cls.Type),
		SourceLabel:   cls.SourceLabel,
		Signature:     cls.Signature,
		Status:        res.Response.Status,
		BodySize:      res.Response.BodySize,
		ElapsedMS:     res.Response.ElapsedMS,
		RetryCount:    res.Response.RetryCount,
		RedirectChain: res.Response.RedirectChain,
	})

	if r.coordinator.cfg.Mutation {
		r.dispatchMutations(ctx, sub, res.Candidate)
	}

	// Recursion prefixes are relative to the target root, like
	// CandidatePath above, so a directory found under sub.Prefix keeps it.
	recCand := res.Candidate
	recCand.Path = sub.Prefix + recCand.Path
	r.recurseCtl.Enqueue(recCand, res.Response.Status)
}

// dispatchMutations runs the Mutator's output through the Dispatcher as
// a small, bounded, non-recursing sub-round scoped to sub's prefix.
func (r *targetRun) dispatchMutations(ctx context.Context, sub recurse.SubScan, cand candidate.Candidate) {
	variants := mutate.Mutate(cand.Path, cand.Depth)
	if len(variants) == 0 {
		return
	}

	queue := make(chan candidate.Candidate, len(variants))
	for _, v := range variants {
		queue <- v
	}
	close(queue)

	results := make(chan ratelimit.Result, len(variants))
	perTarget := ratelimit.NewPerTargetLimiter(r.coordinator.cfg.Dispatcher.Delay)
	build := func(c candidate.Candidate) executor.RequestSpec {
		return executor.RequestSpec{
			Method:          "GET",
			URL:             r.target.BaseURL + sub.Prefix + c.Path,
			Headers:         r.target.Headers,
			FollowRedirects: false,
			Timeout:         r.coordinator.cfg.Dispatcher.Timeout,
		}
	}

	go func() {
		defer close(results)
		r.coordinator.dispatcher.Run(ctx, queue, results, perTarget, build)
	}()

	for res := range results {
		r.requested.Add(1)
		r.coordinator.stats.requested.Add(1)
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				continue
			}
			r.errors.Add(1)
			r.coordinator.stats.errors.Add(1)
			if r.coordinator.cfg.Dispatcher.ExitOnError {
				r.recordFatal(res.Err)
			}
			continue
		}
		cls := r.chain.Classify(res.Candidate, res.Response)
		if !cls.Keep {
			r.filtered.Add(1)
			r.coordinator.stats.filtered.Add(1)
			continue
		}
		r.kept.Add(1)
		r.coordinator.stats.kept.Add(1)
		_ = r.coordinator.sink.WriteResult(sink.ResultRecord{
			Timestamp:     time.Now().UTC(),
			TargetRef:     r.target.Ref,
			CandidatePath: sub.Prefix + res.Candidate.Path,
			FinalURL:      res.Response.FinalURL,
			Type:          string(cls.Type),
			SourceLabel:   cls.SourceLabel,
			Signature:     cls.Signature,
			Status:        res.Response.Status,
			BodySize:      res.Response.BodySize,
			ElapsedMS:     res.Response.ElapsedMS,
			RetryCount:    res.Response.RetryCount,
		})
	}
}

// recordFatal notes the first unrecoverable failure and aborts the whole
// scan, not just this target.
func (r *targetRun) recordFatal(err error) {
	if r.fatal == nil {
		r.fatal = fmt.Errorf("%w: %v", ErrExitOnError, err)
	}
	r.cancelScan()
}

func (r *targetRun) reportError(code string, err error) {
	r.errors.Add(1)
	r.coordinator.stats.errors.Add(1)
	_ = r.coordinator.sink.WriteError(sink.ErrorRecord{
		TargetRef: r.target.Ref,
		Code:      code,
		Message:   err.Error(),
	})
}

func matchesAny(ranges []classify.IntRange, status int) bool {
	for _, rg := range ranges {
		if rg.Contains(status) {
			return true
		}
	}
	return false
}

