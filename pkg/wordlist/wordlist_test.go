package wordlist

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s *Stream) []Entry {
	t.Helper()
	ch := make(chan Entry, 64)
	done := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- s.Entries(done, ch) }()

	var out []Entry
	for e := range ch {
		out = append(out, e)
	}
	require.NoError(t, <-errCh)
	return out
}

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	f := t.TempDir() + "/words.txt"
	require.NoError(t, os.WriteFile(f, []byte(contents), 0o644))
	return f
}

func TestStreamSkipsCommentsAndBlanks(t *testing.T) {
	path := writeTempFile(t, "admin\n# comment\n\nindex.%EXT%\n")
	s, err := New(Config{Files: []string{path}})
	require.NoError(t, err)

	entries := drain(t, s)
	var raws []string
	for _, e := range entries {
		raws = append(raws, e.Raw)
	}
	assert.Equal(t, []string{"admin", "index.%EXT%"}, raws)
}

func TestStreamDeduplicatesAcrossFiles(t *testing.T) {
	p1 := writeTempFile(t, "admin\nbackup\n")
	p2 := writeTempFile(t, "admin\nconfig\n")
	s, err := New(Config{Files: []string{p1, p2}})
	require.NoError(t, err)

	entries := drain(t, s)
	var raws []string
	for _, e := range entries {
		raws = append(raws, e.Raw)
	}
	assert.Equal(t, []string{"admin", "backup", "config"}, raws)
}

func TestStreamCaseTransforms(t *testing.T) {
	path := writeTempFile(t, "Admin\n")
	s, err := New(Config{
		Files:          []string{path},
		CaseTransforms: []CaseTransform{CaseAsIs, CaseLower, CaseUpper},
	})
	require.NoError(t, err)

	entries := drain(t, s)
	var raws []string
	for _, e := range entries {
		raws = append(raws, e.Raw)
	}
	assert.Equal(t, []string{"Admin", "admin", "ADMIN"}, raws)
}

func TestNewRequiresAtLeastOneFile(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "at least one file"))
}
