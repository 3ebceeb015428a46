// Package logging wires go.uber.org/zap into a single process-wide
// *zap.Logger, console-encoded to stderr in an
// interactive TTY and JSON-encoded otherwise, both because gated tool
// output belongs on stdout exclusively and because a log line mid-prompt
// would otherwise interleave with the Gate Prompter's raw-mode output.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger appropriate for the given interactivity: console
// encoding with colored levels when isInteractive (a human is reading
// stderr live), JSON encoding otherwise (stderr is captured by a log
// aggregator, not a terminal).
func New(isInteractive bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if isInteractive {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else {
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if lvl := os.Getenv("RALPH_LOG_LEVEL"); lvl != "" {
		if parsed, err := zapcore.ParseLevel(lvl); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(parsed)
		}
	}

	return cfg.Build()
}
