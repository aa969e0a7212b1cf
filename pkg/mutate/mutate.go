// Package mutate derives near-neighbor path variants from an accepted
// path. Mutation-generated Candidates never recurse further and the
// Mutator never calls itself on its own output.
package mutate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fathomsec/fathom/pkg/candidate"
)

var backupSuffixes = []string{".bak", ".old", ".orig", "~", ".swp"}

var embeddedInt = regexp.MustCompile(`\d+`)

// Mutate returns the fixed-order variant set for path P at the given
// depth:
//
//	(a) extension-swapped backup forms
//	(b) numeric version bumps (±1, skipping non-positive results)
//	(c) case toggle of the final path segment
//
// depth is the depth of the originating Candidate; all emitted variants
// share that same depth (mutations do not increase recursion depth, they
// replace the leaf).
func Mutate(path string, depth int) []candidate.Candidate {
	var out []candidate.Candidate
	seen := candidate.NewDedupSet()
	seen.SeenOrAdd(path) // P itself is never re-emitted as a mutation.

	emit := func(p string) {
		if p == "" || seen.SeenOrAdd(p) {
			return
		}
		out = append(out, candidate.Candidate{
			Path:      p,
			Extension: "",
			Depth:     depth,
			Origin:    candidate.OriginMutation,
		})
	}

	for _, suffix := range backupForms(path) {
		emit(suffix)
	}
	for _, bumped := range versionBumps(path) {
		emit(bumped)
	}
	if toggled := caseToggleFinalSegment(path); toggled != path {
		emit(toggled)
	}

	return out
}

func backupForms(path string) []string {
	if strings.HasSuffix(path, "/") {
		// Directories don't take file-style backup suffixes.
		return nil
	}
	out := make([]string, 0, len(backupSuffixes))
	for _, suf := range backupSuffixes {
		out = append(out, path+suf)
	}
	return out
}

func versionBumps(path string) []string {
	matches := embeddedInt.FindAllStringIndex(path, -1)
	if matches == nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		numStr := path[m[0]:m[1]]
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		for _, delta := range []int{1, -1} {
			bumped := n + delta
			if bumped <= 0 {
				continue
			}
			bumpedStr := strconv.Itoa(bumped)
			out = append(out, path[:m[0]]+bumpedStr+path[m[1]:])
		}
	}
	return out
}

func caseToggleFinalSegment(path string) string {
	trailingSlash := strings.HasSuffix(path, "/")
	trimmed := strings.TrimSuffix(path, "/")

	idx := strings.LastIndex(trimmed, "/")
	prefix := ""
	segment := trimmed
	if idx >= 0 {
		prefix = trimmed[:idx+1]
		segment = trimmed[idx+1:]
	}

	toggled := toggleCase(segment)
	result := prefix + toggled
	if trailingSlash {
		result += "/"
	}
	return result
}

func toggleCase(s string) string {
	b := []byte(s)
	for i, r := range b {
		switch {
		case r >= 'a' && r <= 'z':
			b[i] = r - ('a' - 'A')
		case r >= 'A' && r <= 'Z':
			b[i] = r + ('a' - 'A')
		}
	}
	return string(b)
}
