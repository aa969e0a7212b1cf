package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomsec/fathom/pkg/classify"
	"github.com/fathomsec/fathom/pkg/scan"
	"github.com/fathomsec/fathom/pkg/session"
)

func TestParseIntRangesEmpty(t *testing.T) {
	ranges, err := parseIntRanges("")
	require.NoError(t, err)
	assert.Nil(t, ranges)
}

func TestParseIntRangesSingleValuesAndRanges(t *testing.T) {
	ranges, err := parseIntRanges("200,300-399,404")
	require.NoError(t, err)
	assert.Equal(t, []classify.IntRange{
		{Min: 200, Max: 200},
		{Min: 300, Max: 399},
		{Min: 404, Max: 404},
	}, ranges)
}

func TestParseIntRangesRejectsGarbage(t *testing.T) {
	_, err := parseIntRanges("200,not-a-range")
	assert.Error(t, err)
}

func TestParseStatusRangesParsesRanges(t *testing.T) {
	ranges, err := parseStatusRanges("200-299")
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, 200, ranges[0].Min)
	assert.Equal(t, 299, ranges[0].Max)
}

// End-to-end: an unreachable target with --exit-on-error must surface
// as process exit code 3, all the way from the dispatcher's transport
// failure through RunAll to Execute.
func TestScanExitOnErrorReturnsExitCode3(t *testing.T) {
	dir := t.TempDir()
	wl := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(wl, []byte("admin\n"), 0o644))

	// Port 1 on loopback is never listening; the dial is refused
	// immediately without leaving the machine.
	rootCmd.SetArgs([]string{"scan",
		"--url", "http://127.0.0.1:1",
		"--wordlist", wl,
		"--exit-on-error",
		"--retries", "0",
		"--calibration", "off",
		"--waf-db", "",
		"--output", filepath.Join(dir, "out.jsonl"),
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	code := Execute(context.Background())
	assert.Equal(t, ExitOnErrorFired, code)
}

func TestSkipCompletedTargetsDropsOnlyDone(t *testing.T) {
	targets := []scan.TargetSpec{
		{Ref: "http://a.test"},
		{Ref: "http://b.test"},
		{Ref: "http://c.test"},
	}
	state := session.ScanState{Targets: map[string]session.TargetState{
		"http://a.test": {Ref: "http://a.test", Done: true},
		"http://b.test": {Ref: "http://b.test", Done: false},
	}}

	got := skipCompletedTargets(targets, state)
	require.Len(t, got, 2)
	assert.Equal(t, "http://b.test", got[0].Ref)
	assert.Equal(t, "http://c.test", got[1].Ref)
}
