package classify

import "regexp"

// similarityThreshold is applied to a Jaccard coefficient over 4-byte
// shingles of the normalized body, combined with exact status equality.
const similarityThreshold = 0.9

var randomToken = regexp.MustCompile(`[0-9]+|[0-9a-fA-F]{8,}`)

// normalizeBody strips digit runs and long hex runs before hashing or
// shingling, matching the Calibrator's own normalization so the same body
// produces the same signature regardless of embedded request IDs or
// timestamps.
func normalizeBody(body []byte) []byte {
	return randomToken.ReplaceAll(body, []byte("#"))
}

// shingleSet builds the set of distinct n-byte shingles in body. An empty
// body yields an empty set; a non-empty body shorter than n yields a
// single shingle equal to the whole body.
func shingleSet(body []byte, n int) map[string]struct{} {
	set := make(map[string]struct{})
	if len(body) == 0 {
		return set
	}
	if len(body) < n {
		set[string(body)] = struct{}{}
		return set
	}
	for i := 0; i+n <= len(body); i++ {
		set[string(body[i:i+n])] = struct{}{}
	}
	return set
}

// jaccardSimilarity computes |A∩B| / |A∪B| over two shingle sets.
func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
