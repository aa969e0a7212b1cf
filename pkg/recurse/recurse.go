// Package recurse implements the recursion controller: given a kept
// result, it decides whether to enqueue a sub-scan and, if so, produces
// the derived work items for it.
//
// Recursion is modeled as a bounded queue, not a call stack, so scan
// depth never grows the goroutine stack.
package recurse

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fathomsec/fathom/pkg/candidate"
)

// Config is the immutable recursion policy for one target scan. The zero
// value recurses into directories at 2xx/3xx with no depth ceiling.
type Config struct {
	// Disabled turns recursion off entirely: no candidate is ever
	// eligible and nothing is enqueued.
	Disabled bool

	// ForceRecursive enqueues sub-scans even for candidates that don't
	// look like directories.
	ForceRecursive bool

	// DeepRecursive enqueues every ancestor directory of a kept result,
	// not just the result itself, when that ancestor wasn't already
	// visited. Applies to file results only when ForceRecursive makes them
	// eligible; without it a file result enqueues nothing.
	DeepRecursive bool

	// RecursionStatus is the set of response statuses eligible for
	// recursion. Empty defaults to {2xx, 3xx}.
	RecursionStatus []StatusRange

	// MaxDepth is the hard recursion depth ceiling.
	MaxDepth int

	// IncludeSubdirs, when non-empty, restricts recursion to paths
	// matching at least one glob.
	IncludeSubdirs []string

	// ExcludeSubdirs rejects any path (or ancestor prefix) matching one
	// of these globs.
	ExcludeSubdirs []string
}

// StatusRange is an inclusive [Min,Max] status range.
type StatusRange struct {
	Min int
	Max int
}

func (r StatusRange) contains(status int) bool {
	return status >= r.Min && status <= r.Max
}

var defaultRecursionStatus = []StatusRange{{Min: 200, Max: 299}, {Min: 300, Max: 399}}

// SubScan is one unit of recursion work: a new base prefix to scan and
// the depth it will run at. The visited set lives in the Controller that
// produced it, so one Controller never enqueues the same prefix twice.
type SubScan struct {
	Prefix string
	Depth  int
}

// Controller evaluates eligibility and manages the pending sub-scan
// queue. It is not safe to share across goroutines without external
// synchronization on Visited; callers typically own one Controller per
// target, consumed by a single Scan Coordinator goroutine.
type Controller struct {
	cfg     Config
	queue   chan SubScan
	visited map[string]struct{}
}

// New creates a Controller with a bounded queue (capacity queueCap). The
// Coordinator should size queueCap relative to its worker pool, the same
// ~4x-threads sizing as the candidate queue, so a burst of
// recursion-eligible results never blocks a worker indefinitely.
func New(cfg Config, queueCap int) *Controller {
	if len(cfg.RecursionStatus) == 0 {
		cfg.RecursionStatus = defaultRecursionStatus
	}
	if queueCap <= 0 {
		queueCap = 1
	}
	return &Controller{
		cfg:     cfg,
		queue:   make(chan SubScan, queueCap),
		visited: make(map[string]struct{}),
	}
}

// Eligible reports whether a kept candidate/status pair should trigger
// recursion.
func (c *Controller) Eligible(cand candidate.Candidate, status int) bool {
	if c.cfg.Disabled {
		return false
	}
	if cand.Origin == candidate.OriginMutation {
		return false
	}
	if !cand.IsDirectory() && !c.cfg.ForceRecursive {
		return false
	}
	if !statusEligible(c.cfg.RecursionStatus, status) {
		return false
	}
	if c.cfg.MaxDepth > 0 && cand.Depth >= c.cfg.MaxDepth {
		return false
	}
	if excludedByGlob(cand.Path, c.cfg.ExcludeSubdirs) {
		return false
	}
	for _, ancestor := range ancestorsOf(cand.Path) {
		if excludedByGlob(ancestor, c.cfg.ExcludeSubdirs) {
			return false
		}
	}
	if len(c.cfg.IncludeSubdirs) > 0 && !includedByGlob(cand.Path, c.cfg.IncludeSubdirs) {
		return false
	}
	return true
}

// Enqueue pushes the sub-scans derived from one eligible result: the
// result's own path, plus (if DeepRecursive) every unvisited ancestor
// directory. It returns false without blocking if the queue is full,
// letting the Coordinator apply back-pressure instead of stalling.
func (c *Controller) Enqueue(cand candidate.Candidate, status int) bool {
	if !c.Eligible(cand, status) {
		return false
	}

	targets := []string{normalizeDir(cand.Path)}
	if c.cfg.DeepRecursive {
		targets = append(ancestorsOf(cand.Path), targets...)
	}

	enqueued := false
	for _, prefix := range targets {
		if _, seen := c.visited[prefix]; seen {
			continue
		}
		if excludedByGlob(prefix, c.cfg.ExcludeSubdirs) {
			continue
		}
		select {
		case c.queue <- SubScan{Prefix: prefix, Depth: cand.Depth + 1}:
			c.visited[prefix] = struct{}{}
			enqueued = true
		default:
			// Queue full: back-pressure. The caller may retry later; we
			// never block here.
		}
	}
	return enqueued
}

// Next returns the queue's receive channel for Coordinator workers to
// range over.
func (c *Controller) Next() <-chan SubScan {
	return c.queue
}

// Close signals no further sub-scans will be enqueued.
func (c *Controller) Close() {
	close(c.queue)
}

// Pending reports the number of sub-scans currently queued.
func (c *Controller) Pending() int {
	return len(c.queue)
}

func statusEligible(ranges []StatusRange, status int) bool {
	for _, r := range ranges {
		if r.contains(status) {
			return true
		}
	}
	return false
}

func normalizeDir(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

// ancestorsOf returns every proper ancestor directory of path, shallowest
// first, e.g. "a/b/c" -> ["a/", "a/b/"].
func ancestorsOf(path string) []string {
	trimmed := strings.TrimSuffix(path, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) <= 1 {
		return nil
	}

	var out []string
	var prefix string
	for _, seg := range segments[:len(segments)-1] {
		prefix += seg + "/"
		out = append(out, prefix)
	}
	return out
}

func excludedByGlob(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, strings.TrimSuffix(path, "/")); ok {
			return true
		}
	}
	return false
}

func includedByGlob(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, strings.TrimSuffix(path, "/")); ok {
			return true
		}
	}
	return false
}
