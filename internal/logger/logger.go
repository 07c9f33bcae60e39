// Package logger builds the structured logger used across kbase.
// When verbose mode is enabled via the --verbose flag, debug messages
// are written to stderr to help users follow the ingestion pipeline.
// Otherwise only warnings and errors are shown.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger writing to stderr.
// verbose selects a development config at debug level; otherwise a
// console-encoded production config at warn level is used.
// levelOverride (if non-empty) overrides the log level: debug, info, warn, error.
func New(verbose bool, levelOverride ...string) (*zap.Logger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		cfg.Sampling = nil
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if len(levelOverride) > 0 && levelOverride[0] != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(levelOverride[0])); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", levelOverride[0], err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
