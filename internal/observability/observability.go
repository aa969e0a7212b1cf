// Package observability builds the package-level zap logger every other
// package in this repository logs through: one logger, built once at
// startup from the configured level and profile.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger. It starts as a no-op logger so
// packages imported before Init runs (tests, in particular) never
// nil-dereference; Init replaces it with a real sink.
var CLILogger = zap.NewNop()

// Init builds CLILogger from a level ("debug"|"info"|"warn"|"error")
// and a profile ("structured" for JSON production-style output,
// anything else for a human-readable development console), matching
// internal/config's LoggingConfig fields.
func Init(level, profile string) error {
	logLevel := zapcore.InfoLevel
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("observability: parse log level %q: %w", level, err)
		}
		logLevel = lvl
	}

	var cfg zap.Config
	if strings.EqualFold(profile, "structured") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return fmt.Errorf("observability: build logger: %w", err)
	}
	CLILogger = logger
	return nil
}

// ScanLogger returns a child logger scoped to one scan invocation.
func ScanLogger(scanID string) *zap.Logger {
	return CLILogger.With(zap.String("scan_id", scanID))
}

// Sync flushes any buffered log entries; call it once before process
// exit, as zap itself recommends.
func Sync() {
	_ = CLILogger.Sync()
}
