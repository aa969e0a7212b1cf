package mutate

import (
	"testing"

	"github.com/fathomsec/fathom/pkg/candidate"
	"github.com/stretchr/testify/assert"
)

func pathsOf(cands []candidate.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Path
		if c.Origin != candidate.OriginMutation {
			panic("mutation output must carry OriginMutation")
		}
	}
	return out
}

func TestBackupFormsEmitted(t *testing.T) {
	got := pathsOf(Mutate("config.php", 1))
	assert.Contains(t, got, "config.php.bak")
	assert.Contains(t, got, "config.php.old")
	assert.Contains(t, got, "config.php.orig")
	assert.Contains(t, got, "config.php~")
	assert.Contains(t, got, "config.php.swp")
}

func TestDirectoriesSkipBackupForms(t *testing.T) {
	got := pathsOf(Mutate("admin/", 1))
	for _, p := range got {
		assert.NotContains(t, p, ".bak")
	}
}

func TestVersionBumpsSkipNonPositive(t *testing.T) {
	got := pathsOf(Mutate("v1/release", 0))
	assert.Contains(t, got, "v2/release")
	assert.NotContains(t, got, "v0/release")
}

func TestCaseToggleFinalSegment(t *testing.T) {
	got := pathsOf(Mutate("admin/Login", 0))
	assert.Contains(t, got, "admin/lOGIN")
}

func TestMutateNeverReemitsOriginal(t *testing.T) {
	got := pathsOf(Mutate("robots.txt", 0))
	assert.NotContains(t, got, "robots.txt")
}

func TestMutateOutputHasNoDuplicates(t *testing.T) {
	got := pathsOf(Mutate("v2/backup.php", 0))
	seen := map[string]bool{}
	for _, p := range got {
		assert.Falsef(t, seen[p], "duplicate mutation output %q", p)
		seen[p] = true
	}
}
