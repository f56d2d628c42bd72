package main

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// configureRuntimeLogger writes structured logs to
// ~/.local/state/triage/triage.log so they do not interleave with the
// banner and summary on stdout. It falls back to stderr.
func configureRuntimeLogger(level string) (*zap.Logger, func()) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	conf := zap.NewProductionConfig()
	conf.Level = zap.NewAtomicLevelAt(lvl)
	conf.EncoderConfig.TimeKey = "ts"
	conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	conf.OutputPaths = []string{"stderr"}
	conf.ErrorOutputPaths = []string{"stderr"}

	if home, err := os.UserHomeDir(); err == nil {
		logDir := filepath.Join(home, ".local", "state", "triage")
		if err := os.MkdirAll(logDir, 0755); err == nil {
			conf.OutputPaths = []string{filepath.Join(logDir, "triage.log")}
		}
	}

	logger, err := conf.Build()
	if err != nil {
		conf.OutputPaths = []string{"stderr"}
		if logger, err = conf.Build(); err != nil {
			return zap.NewNop(), func() {}
		}
	}

	undo := zap.RedirectStdLog(logger)
	return logger, func() {
		undo()
		_ = logger.Sync()
	}
}
