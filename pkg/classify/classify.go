// Package classify implements the response classifier and its filter
// chain: the seven-step decision pipeline that turns a raw
// ResponseSummary into a Classification, dropping noise (wildcards,
// excluded status/size/text, near-duplicate bodies, over-threshold
// repeats) before a result ever reaches a sink.
//
// Evaluation is an ordered short-circuit chain: the first filter that
// drops a response wins, and the remaining steps never run.
package classify

import (
	"sort"
	"strings"
	"sync"

	"github.com/coregx/coregex"

	"github.com/fathomsec/fathom/pkg/calibrate"
	"github.com/fathomsec/fathom/pkg/candidate"
	"github.com/fathomsec/fathom/pkg/executor"
	"github.com/fathomsec/fathom/pkg/probe"
	"github.com/fathomsec/fathom/pkg/waf"
)

// Type is the classification outcome tag.
type Type string

const (
	TypeOK       Type = "OK"
	TypeWAF      Type = "WAF"
	TypeAPP      Type = "APP"
	TypeSYS      Type = "SYS"
	TypeRED      Type = "RED"
	TypeFILTERED Type = "FILTERED"
)

// Classification is the result of running the chain against one response.
type Classification struct {
	Type            Type
	SourceLabel     string
	Signature       string
	Keep            bool
	ReasonIfDropped string
}

// IntRange is an inclusive integer range, used for include/exclude status
// and size bounds.
type IntRange struct {
	Min int
	Max int
}

// Contains reports whether v falls within [Min,Max] inclusive.
func (r IntRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

func containsAny(ranges []IntRange, v int) bool {
	for _, r := range ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// Config is the immutable set of filter rules for one target scan. The
// mutable duplicate counters live in Chain, not here.
type Config struct {
	IncludeStatus        []IntRange
	ExcludeStatus        []IntRange
	SizeBounds           *IntRange
	ExcludeSizes         []int
	ExcludeText          []string
	ExcludeRegex         []string
	ExcludeRedirectRegex string
	FilterThreshold      int

	// ExcludeSimilarityRef, when non-nil, enables the --exclude-response
	// similarity filter.
	ExcludeSimilarityRef *executor.ResponseSummary

	// Calibration holds the target's trusted wildcard buckets; nil or
	// empty disables wildcard suppression.
	Calibration *calibrate.CalibrationData

	// WAFDB is the ordered signature database; nil falls back to
	// built-in server-default detection only.
	WAFDB *waf.Database

	// FieldProber, when set, extracts auxiliary fields (e.g. backend
	// error-body identifiers) from the response body for richer APP
	// labeling. Optional.
	FieldProber *probe.Prober
}

type compiledConfig struct {
	excludeRegex         []*coregex.Regex
	excludeRedirectRegex *coregex.Regex
	similarityShingles   map[string]struct{}
	similarityStatus     int
	hasSimilarityRef     bool
}

// Chain is the per-target, stateful evaluator: immutable Config plus the
// mutable duplicate-count map. Safe for concurrent use; the
// duplicate-count map is guarded by a mutex, with update-and-check done
// atomically under it.
type Chain struct {
	cfg      Config
	compiled compiledConfig

	mu              sync.Mutex
	duplicateCounts map[string]int
}

// New compiles cfg once. Regex compilation errors are reported so callers
// can treat them as configuration errors; a malformed signature database
// should instead be handled by the caller via waf.Load before reaching
// here.
func New(cfg Config) (*Chain, error) {
	c := &Chain{cfg: cfg, duplicateCounts: make(map[string]int)}

	for _, pattern := range cfg.ExcludeRegex {
		re, err := coregex.Compile(pattern)
		if err != nil {
			return nil, err
		}
		c.compiled.excludeRegex = append(c.compiled.excludeRegex, re)
	}

	if cfg.ExcludeRedirectRegex != "" {
		re, err := coregex.Compile(cfg.ExcludeRedirectRegex)
		if err != nil {
			return nil, err
		}
		c.compiled.excludeRedirectRegex = re
	}

	if cfg.ExcludeSimilarityRef != nil {
		c.compiled.hasSimilarityRef = true
		c.compiled.similarityStatus = cfg.ExcludeSimilarityRef.Status
		c.compiled.similarityShingles = shingleSet(normalizeBody(cfg.ExcludeSimilarityRef.Body), 4)
	}

	return c, nil
}

// Classify runs the seven-step chain against one response for one
// candidate and returns the Classification. It never panics or returns an
// error: any classifier uncertainty degrades to a conservative
// APP/keep=true result rather than dropping the response.
func (c *Chain) Classify(cand candidate.Candidate, resp executor.ResponseSummary) Classification {
	// Status 0 is the dispatcher's synthetic marker for a request that
	// exhausted its retries; it never reaches a sink.
	if resp.Status == 0 {
		return dropped("transport")
	}

	// Step 1: status filter.
	if len(c.cfg.IncludeStatus) > 0 && !containsAny(c.cfg.IncludeStatus, resp.Status) {
		return dropped("status-excluded")
	}
	if containsAny(c.cfg.ExcludeStatus, resp.Status) {
		return dropped("status-excluded")
	}

	// Step 2: size filter.
	if c.cfg.SizeBounds != nil && !c.cfg.SizeBounds.Contains(resp.BodySize) {
		return dropped("size-excluded")
	}
	for _, sz := range c.cfg.ExcludeSizes {
		if resp.BodySize == sz {
			return dropped("size-excluded")
		}
	}

	// Step 3: calibration (wildcard) match.
	if c.cfg.Calibration != nil && c.cfg.Calibration.Matches(resp) {
		return dropped("wildcard")
	}

	// Step 4: text/regex/redirect filters, in order, first hit drops.
	body := string(resp.Body)
	for _, text := range c.cfg.ExcludeText {
		if text != "" && strings.Contains(body, text) {
			return dropped("text-excluded")
		}
	}
	for _, re := range c.compiled.excludeRegex {
		if re.Match(resp.Body) {
			return dropped("regex-excluded")
		}
	}
	if c.compiled.excludeRedirectRegex != nil && resp.Status >= 300 && resp.Status < 400 {
		if loc := resp.Headers["Location"]; loc != "" && c.compiled.excludeRedirectRegex.MatchString(loc) {
			return dropped("redirect-excluded")
		}
	}

	// Step 5: similarity filter (--exclude-response).
	if c.compiled.hasSimilarityRef {
		score := jaccardSimilarity(c.compiled.similarityShingles, shingleSet(normalizeBody(resp.Body), 4))
		statusMatches := resp.Status == c.compiled.similarityStatus
		if statusMatches && score >= similarityThreshold {
			return dropped("similar")
		}
	}

	// Step 6: duplicate signature suppression.
	sizeBucket := calibrate.SizeBucket(resp.BodySize)
	sig := candidate.Signature(resp.Status, sizeBucket, normalizeBody(resp.Body))
	if c.cfg.FilterThreshold > 0 && c.duplicateCountAtLeast(sig, c.cfg.FilterThreshold) {
		return Classification{
			Type:            TypeFILTERED,
			Signature:       sig,
			Keep:            false,
			ReasonIfDropped: "threshold",
		}
	}
	c.bumpDuplicateCount(sig)

	// Step 7: type tagging.
	return c.tagType(resp, sig)
}

// duplicateCountAtLeast reports whether sig has already been seen at
// least n times, without incrementing. Checked before the increment, so
// with a threshold of N the first N occurrences are kept and the (N+1)th
// and later are dropped; only non-FILTERED results ever increment the
// count.
func (c *Chain) duplicateCountAtLeast(sig string, n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duplicateCounts[sig] >= n
}

// bumpDuplicateCount increments the count for sig. The map only ever
// grows within a target scan.
func (c *Chain) bumpDuplicateCount(sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duplicateCounts[sig]++
}

func (c *Chain) tagType(resp executor.ResponseSummary, sig string) Classification {
	if resp.Status >= 300 && resp.Status < 400 {
		return Classification{Type: TypeRED, Signature: sig, Keep: true}
	}

	if c.cfg.WAFDB != nil {
		if s := c.cfg.WAFDB.FirstMatch(resp.Status, resp.Headers, resp.Body); s != nil {
			t := TypeAPP
			if s.Layer == waf.LayerInfra {
				t = TypeWAF
			}
			return Classification{Type: t, SourceLabel: s.Label, Signature: sig, Keep: true}
		}
	}

	if label, ok := matchBuiltinDefault(resp); ok {
		return Classification{Type: TypeSYS, SourceLabel: label, Signature: sig, Keep: true}
	}

	if resp.Status >= 200 && resp.Status < 300 {
		return Classification{Type: TypeOK, Signature: sig, Keep: true}
	}

	return Classification{Type: TypeAPP, SourceLabel: c.backendLabel(resp.Body), Signature: sig, Keep: true}
}

// backendLabel reports an APP source label for a response that matched no
// WAF signature and no built-in server default. When a FieldProber is
// configured it runs the body through the configured extractors (e.g. an
// application error-page identifier pulled via regex/xpath/json_path) and
// folds any fields found into the label; otherwise it falls back to the
// generic "Backend" label.
func (c *Chain) backendLabel(body []byte) string {
	if c.cfg.FieldProber == nil {
		return "Backend"
	}
	fields, err := c.cfg.FieldProber.Probe(body)
	if err != nil || len(fields) == 0 {
		return "Backend"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return "Backend (" + strings.Join(parts, ", ") + ")"
}

func dropped(reason string) Classification {
	return Classification{Type: TypeFILTERED, Keep: false, ReasonIfDropped: reason}
}
