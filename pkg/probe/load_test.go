package probe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.yaml")
	contents := `
extract:
  - name: backend
    type: regex
    pattern: "X-Powered-By: (.+)"
    group: 1
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Extract, 1)
	assert.Equal(t, "backend", cfg.Extract[0].Name)
	assert.Equal(t, "regex", cfg.Extract[0].Type)
}

func TestLoadConfigRejectsInvalidExtractor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.yaml")
	contents := `
extract:
  - name: bad
    type: regex
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
