package recurse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomsec/fathom/pkg/candidate"
)

func TestEligibleRequiresDirectoryUnlessForced(t *testing.T) {
	c := New(Config{}, 4)

	dir := candidate.Candidate{Path: "admin/", Origin: candidate.OriginSeed}
	file := candidate.Candidate{Path: "admin.php", Origin: candidate.OriginSeed}

	assert.True(t, c.Eligible(dir, 200))
	assert.False(t, c.Eligible(file, 200))

	forced := New(Config{ForceRecursive: true}, 4)
	assert.True(t, forced.Eligible(file, 200))
}

func TestEligibleDisabledRejectsEverything(t *testing.T) {
	c := New(Config{Disabled: true, ForceRecursive: true}, 4)
	dir := candidate.Candidate{Path: "admin/", Origin: candidate.OriginSeed}
	assert.False(t, c.Eligible(dir, 200))
	assert.False(t, c.Enqueue(dir, 200))
}

func TestEligibleRejectsMutationOrigin(t *testing.T) {
	c := New(Config{ForceRecursive: true}, 4)
	mutated := candidate.Candidate{Path: "admin/", Origin: candidate.OriginMutation}
	assert.False(t, c.Eligible(mutated, 200))
}

func TestEligibleRespectsMaxDepth(t *testing.T) {
	c := New(Config{MaxDepth: 2}, 4)
	cand := candidate.Candidate{Path: "a/", Origin: candidate.OriginSeed, Depth: 2}
	assert.False(t, c.Eligible(cand, 200))
}

func TestEligibleRespectsStatusSet(t *testing.T) {
	c := New(Config{}, 4)
	cand := candidate.Candidate{Path: "a/", Origin: candidate.OriginSeed}
	assert.True(t, c.Eligible(cand, 301))
	assert.False(t, c.Eligible(cand, 403))
}

func TestEligibleExcludeSubdirsGlob(t *testing.T) {
	c := New(Config{ExcludeSubdirs: []string{"vendor/**"}}, 4)
	cand := candidate.Candidate{Path: "vendor/bundle/", Origin: candidate.OriginSeed}
	assert.False(t, c.Eligible(cand, 200))
}

func TestEnqueueDedupsVisitedPrefixes(t *testing.T) {
	c := New(Config{}, 4)
	cand := candidate.Candidate{Path: "admin/", Origin: candidate.OriginSeed}

	require.True(t, c.Enqueue(cand, 200))
	assert.False(t, c.Enqueue(cand, 200))
	assert.Equal(t, 1, c.Pending())
}

func TestEnqueueDeepRecursiveAddsAncestors(t *testing.T) {
	c := New(Config{DeepRecursive: true, ForceRecursive: true}, 8)
	cand := candidate.Candidate{Path: "a/b/c.txt", Origin: candidate.OriginSeed, Depth: 0}

	require.True(t, c.Enqueue(cand, 200))
	assert.Equal(t, 3, c.Pending()) // a/, a/b/, a/b/c.txt/
}

func TestEnqueueRespectsQueueCapacityWithoutBlocking(t *testing.T) {
	c := New(Config{}, 1)
	first := candidate.Candidate{Path: "a/", Origin: candidate.OriginSeed}
	second := candidate.Candidate{Path: "b/", Origin: candidate.OriginSeed}

	require.True(t, c.Enqueue(first, 200))
	// Queue capacity 1 is already full; second enqueue must not block and
	// should report no sub-scan was added.
	assert.False(t, c.Enqueue(second, 200))
}

func TestAncestorsOfReturnsShallowestFirst(t *testing.T) {
	assert.Equal(t, []string{"a/", "a/b/"}, ancestorsOf("a/b/c"))
	assert.Nil(t, ancestorsOf("a"))
}
