// Package logging builds the structured loggers used across the control
// plane. ForIndexer attaches account_id/function_name/version fields per
// indexer, mirroring tracing::instrument's per-call spans in the original
// Rust implementation; the components in this module scope their loggers
// with a single "indexer" field instead.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the root logger. In production it emits JSON to stderr; when
// LOG_FORMAT=console is set (local development) it emits the human-readable
// console encoder instead.
func New(serviceName string) *zap.Logger {
	level := zapcore.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		_ = level.UnmarshalText([]byte(lvl))
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if os.Getenv("LOG_FORMAT") == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := cfg.Build()
	if err != nil {
		// zap construction only fails on malformed config; fall back to a
		// no-op sink rather than crash a control-plane process over logging.
		logger = zap.NewNop()
	}
	return logger.With(zap.String("service", serviceName))
}

// ForIndexer scopes a logger to one indexer's identity, the structured
// fields spec §7 requires on every absorbed error.
func ForIndexer(base *zap.Logger, accountID, functionName string, version uint64) *zap.Logger {
	return base.With(
		zap.String("account_id", accountID),
		zap.String("function_name", functionName),
		zap.Uint64("version", version),
	)
}
