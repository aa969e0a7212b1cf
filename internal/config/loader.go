// Package config loads fathom's ambient configuration: the status/metrics
// server, logging, and default scan tuning knobs. Precedence is runtime
// overrides > environment variables > a YAML config file > built-in
// defaults, the layering viper gives this kind of loader contract.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// envPrefix namespaces every environment variable this loader recognizes.
const envPrefix = "FATHOM"

// ServerConfig controls the ambient status/metrics HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig controls the zap logger built by internal/observability.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig controls the healthz/readyz/livez endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig controls developer-only surfaces.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// ScanConfig carries scan tuning values read from the config file and
// the environment. The scan command's flags have their own defaults and
// do not read these values.
type ScanConfig struct {
	Threads       int           `mapstructure:"threads"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	Delay         time.Duration `mapstructure:"delay"`
	MaxTime       time.Duration `mapstructure:"max_time"`
	TargetMaxTime time.Duration `mapstructure:"target_max_time"`
}

// Config is the fully resolved, immutable configuration for one process
// invocation.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Workers int           `mapstructure:"workers"`
}

// EnvSpec names one environment variable this loader binds, and the dotted
// config path it maps to.
type EnvSpec struct {
	Name string
	Path string
}

var configMu sync.Mutex
var appConfig *Config
var loaded bool

func defaults() map[string]any {
	return map[string]any{
		"server.host":             "localhost",
		"server.port":             8080,
		"server.read_timeout":     30 * time.Second,
		"server.write_timeout":    30 * time.Second,
		"server.idle_timeout":     120 * time.Second,
		"server.shutdown_timeout": 10 * time.Second,
		"logging.level":           "info",
		"logging.profile":         "STRUCTURED",
		"metrics.enabled":         true,
		"metrics.port":            9090,
		"health.enabled":          true,
		"debug.enabled":           false,
		"debug.pprof_enabled":     false,
		"scan.threads":            25,
		"scan.timeout":            10 * time.Second,
		"scan.retries":            0,
		"scan.delay":              time.Duration(0),
		"scan.max_time":           time.Duration(0),
		"scan.target_max_time":    time.Duration(0),
		"workers":                 4,
	}
}

func envSpecTable() []EnvSpec {
	return []EnvSpec{
		{envPrefix + "_HOST", "server.host"},
		{envPrefix + "_PORT", "server.port"},
		{envPrefix + "_READ_TIMEOUT", "server.read_timeout"},
		{envPrefix + "_WRITE_TIMEOUT", "server.write_timeout"},
		{envPrefix + "_IDLE_TIMEOUT", "server.idle_timeout"},
		{envPrefix + "_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{envPrefix + "_LOG_LEVEL", "logging.level"},
		{envPrefix + "_LOG_PROFILE", "logging.profile"},
		{envPrefix + "_METRICS_ENABLED", "metrics.enabled"},
		{envPrefix + "_METRICS_PORT", "metrics.port"},
		{envPrefix + "_HEALTH_ENABLED", "health.enabled"},
		{envPrefix + "_DEBUG_ENABLED", "debug.enabled"},
		{envPrefix + "_DEBUG_PPROF", "debug.pprof_enabled"},
		{envPrefix + "_SCAN_THREADS", "scan.threads"},
		{envPrefix + "_SCAN_TIMEOUT", "scan.timeout"},
		{envPrefix + "_SCAN_RETRIES", "scan.retries"},
		{envPrefix + "_SCAN_DELAY", "scan.delay"},
		{envPrefix + "_WORKERS", "workers"},
	}
}

// configFileName is the file Load searches for alongside the current
// working directory and the user's config home, in that order.
const configFileName = "fathom.yaml"

// userConfigPaths returns the candidate config file locations, most
// specific first, skipped silently if the file doesn't exist.
func userConfigPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, configFileName))
	}
	if home, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(home, "fathom", configFileName))
	}
	return paths
}

// Load resolves Config from, in increasing precedence: built-in defaults,
// the first fathom.yaml found via userConfigPaths, FATHOM_-prefixed
// environment variables, and finally the supplied overrides (a nested
// map, e.g. map[string]any{"server": map[string]any{"port": 9000}}). The
// result is cached and retrievable via GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for path, val := range defaults() {
		v.SetDefault(path, val)
	}

	for _, path := range userConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		break
	}

	for _, spec := range envSpecTable() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", spec.Name, err)
		}
	}

	for _, override := range overrides {
		for path, val := range flatten("", override) {
			v.Set(path, val)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	loaded = true
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded Config, or nil if Load has
// never been called.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	return appConfig
}

// getEnvSpecs returns the environment variable bindings this loader
// recognizes, sorted by name. It reports nothing until Load has run once,
// mirroring the rest of the package's "load establishes state" contract.
func getEnvSpecs() []EnvSpec {
	configMu.Lock()
	isLoaded := loaded
	configMu.Unlock()
	if !isLoaded {
		return nil
	}

	specs := envSpecTable()
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// getUserConfigPaths exposes userConfigPaths for tests; it reports nothing
// until Load has run once, matching getEnvSpecs' gating.
func getUserConfigPaths() []string {
	configMu.Lock()
	isLoaded := loaded
	configMu.Unlock()
	if !isLoaded {
		return nil
	}
	return userConfigPaths()
}

// flatten turns a nested map into dotted-path keys, e.g.
// {"server": {"port": 9000}} -> {"server.port": 9000}.
func flatten(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
