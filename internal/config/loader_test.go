package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.True(t, cfg.Health.Enabled)
	assert.False(t, cfg.Debug.Enabled)

	assert.Equal(t, 25, cfg.Scan.Threads)
	assert.Equal(t, 10*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoadRuntimeOverrides(t *testing.T) {
	overrides := map[string]any{
		"server": map[string]any{
			"port": 9000,
			"host": "0.0.0.0",
		},
		"logging": map[string]any{
			"level": "debug",
		},
	}

	cfg, err := Load(context.Background(), overrides)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched values keep their defaults.
	assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FATHOM_PORT", "3000")
	t.Setenv("FATHOM_LOG_LEVEL", "warn")
	t.Setenv("FATHOM_METRICS_ENABLED", "false")
	t.Setenv("FATHOM_SCAN_THREADS", "50")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 50, cfg.Scan.Threads)
}

func TestLoadPrecedenceOverridesBeatEnv(t *testing.T) {
	t.Setenv("FATHOM_PORT", "4000")

	cfg, err := Load(context.Background(), map[string]any{
		"server": map[string]any{"port": 5000},
	})
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("server:\n  port: 7777\nlogging:\n  level: error\nscan:\n  timeout: 30s\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), content, 0o644))
	t.Chdir(dir)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Scan.Timeout)
}

func TestLoadDurationsFromEnv(t *testing.T) {
	t.Setenv("FATHOM_READ_TIMEOUT", "45s")
	t.Setenv("FATHOM_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestGetConfigReturnsMostRecentLoad(t *testing.T) {
	first, err := Load(context.Background())
	require.NoError(t, err)

	second, err := Load(context.Background(), map[string]any{
		"server": map[string]any{"port": first.Server.Port + 1000},
	})
	require.NoError(t, err)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, second.Server.Port, current.Server.Port)
}

func TestEnvSpecsCoverCoreBindings(t *testing.T) {
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	byName := make(map[string]string, len(specs))
	for _, spec := range specs {
		require.NotEmpty(t, spec.Path, "env var %s has no config path", spec.Name)
		assert.Contains(t, spec.Name, envPrefix+"_")
		byName[spec.Name] = spec.Path
	}

	assert.Equal(t, "server.port", byName["FATHOM_PORT"])
	assert.Equal(t, "logging.level", byName["FATHOM_LOG_LEVEL"])
	assert.Equal(t, "scan.threads", byName["FATHOM_SCAN_THREADS"])
}

func TestIntrospectionGatedUntilLoad(t *testing.T) {
	configMu.Lock()
	loaded = false
	appConfig = nil
	configMu.Unlock()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getEnvSpecs())
	assert.Empty(t, getUserConfigPaths())
}

func TestFlattenNestedOverrides(t *testing.T) {
	got := flatten("", map[string]any{
		"server": map[string]any{
			"port": 9000,
			"tls":  map[string]any{"enabled": true},
		},
		"workers": 8,
	})

	assert.Equal(t, 9000, got["server.port"])
	assert.Equal(t, true, got["server.tls.enabled"])
	assert.Equal(t, 8, got["workers"])
}
