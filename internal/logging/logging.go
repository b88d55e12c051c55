// Package logging builds the pipeline logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns the run logger. JSON output mode silences all logging so
// stdout carries exactly one JSON object and nothing else.
func New(jsonMode bool) *zap.Logger {
	if jsonMode {
		return zap.NewNop()
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.OutputPaths = []string{"stderr"}

	return zap.Must(cfg.Build())
}
