// Package dictionary turns raw wordlist entries into concrete Candidates
// by applying extension substitution/appending, prefixes/suffixes, and
// exclusion rules in a fixed order.
//
// The Expander compiles its Config once, then applies the same rule chain
// to every entry on the hot path.
package dictionary

import (
	"strings"

	"github.com/fathomsec/fathom/pkg/candidate"
)

// Config controls expansion. Order of fields mirrors the order the rules
// are applied in.
type Config struct {
	Extensions          []string
	OverwriteExtensions bool
	ForceExtensions     bool
	ExcludeExtensions   []string
	Prefixes            []string
	Suffixes            []string
}

// Expander turns raw wordlist entries into candidate.Candidate values. It
// is deterministic: the same entries fed in the same order through the
// same Config yield the same Candidate sequence. A path this Expander has
// already emitted (tracked in its DedupSet) is not emitted again.
type Expander struct {
	cfg     Config
	exclude map[string]struct{}
	dedup   *candidate.DedupSet
}

// New compiles cfg into an Expander. dedup is shared across a target scan
// so path uniqueness holds across calls to Expand for different raw
// entries too.
func New(cfg Config, dedup *candidate.DedupSet) *Expander {
	exclude := make(map[string]struct{}, len(cfg.ExcludeExtensions))
	for _, ext := range cfg.ExcludeExtensions {
		exclude[strings.TrimPrefix(strings.ToLower(ext), ".")] = struct{}{}
	}
	if dedup == nil {
		dedup = candidate.NewDedupSet()
	}
	return &Expander{cfg: cfg, exclude: exclude, dedup: dedup}
}

// Expand applies the fixed rule order to one raw entry, returning zero or
// more new (not previously emitted) Candidates.
func (e *Expander) Expand(raw string) []candidate.Candidate {
	var produced []string

	switch {
	case strings.Contains(raw, "%EXT%"):
		// Rule 1: %EXT% substitution, one Candidate per extension; skips
		// rule 3 (force-extensions) entirely.
		for _, ext := range e.cfg.Extensions {
			produced = append(produced, strings.ReplaceAll(raw, "%EXT%", ext))
		}
		if len(e.cfg.Extensions) == 0 {
			produced = append(produced, strings.ReplaceAll(raw, "%EXT%", ""))
		}

	case e.cfg.OverwriteExtensions && hasTrailingExtension(raw):
		// Rule 2: replace trailing .ext with each configured extension.
		base := raw[:strings.LastIndex(raw, ".")]
		for _, ext := range e.cfg.Extensions {
			produced = append(produced, base+"."+trimDot(ext))
		}

	case e.cfg.ForceExtensions && !strings.HasSuffix(raw, "/"):
		// Rule 3: emit unchanged plus one variant per extension appended,
		// directories (trailing slash) never get extensions appended.
		produced = append(produced, raw)
		for _, ext := range e.cfg.Extensions {
			produced = append(produced, raw+"."+trimDot(ext))
		}

	default:
		produced = append(produced, raw)
	}

	// Rule 4: exclude-extensions drops any candidate whose final extension
	// matches, checked before prefix/suffix application.
	produced = e.filterExcluded(produced)

	// Rule 5: prefixes and suffixes, one Candidate per combination.
	// Directories never receive suffixes.
	withAffixes := e.applyAffixes(produced)

	// Rule 6: emit each unique path exactly once within the scan.
	out := make([]candidate.Candidate, 0, len(withAffixes))
	for _, p := range withAffixes {
		if e.dedup.SeenOrAdd(p) {
			continue
		}
		out = append(out, candidate.Candidate{
			Path:      p,
			Extension: finalExtension(p),
			Depth:     0,
			Origin:    candidate.OriginSeed,
		})
	}
	return out
}

func (e *Expander) filterExcluded(paths []string) []string {
	if len(e.exclude) == 0 {
		return paths
	}
	out := paths[:0:0]
	for _, p := range paths {
		ext := strings.ToLower(finalExtension(p))
		if _, dropped := e.exclude[ext]; dropped {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (e *Expander) applyAffixes(paths []string) []string {
	prefixes := e.cfg.Prefixes
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	suffixes := e.cfg.Suffixes
	if len(suffixes) == 0 {
		suffixes = []string{""}
	}

	out := make([]string, 0, len(paths)*len(prefixes)*len(suffixes))
	for _, p := range paths {
		isDir := strings.HasSuffix(p, "/")
		effectiveSuffixes := suffixes
		if isDir {
			effectiveSuffixes = []string{""}
		}
		for _, pre := range prefixes {
			for _, suf := range effectiveSuffixes {
				out = append(out, pre+p+suf)
			}
		}
	}
	return out
}

func hasTrailingExtension(s string) bool {
	if strings.HasSuffix(s, "/") {
		return false
	}
	idx := strings.LastIndex(s, ".")
	return idx > strings.LastIndex(s, "/")
}

func finalExtension(s string) string {
	if strings.HasSuffix(s, "/") {
		return ""
	}
	idx := strings.LastIndex(s, ".")
	slash := strings.LastIndex(s, "/")
	if idx <= slash {
		return ""
	}
	return s[idx+1:]
}

func trimDot(ext string) string {
	return strings.TrimPrefix(ext, ".")
}
