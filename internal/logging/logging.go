// Package logging configures the process-wide structured logger.
//
// The engine runs for hours and interleaves work from several goroutines
// (orchestrator, page agents, HTTP server), so logs are leveled and
// structured rather than printed. Components grab the shared sugared logger
// via L() and attach their own component field.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.SugaredLogger

func init() {
	// Safe no-op until Initialize runs; avoids nil derefs from early callers.
	logger = zap.NewNop().Sugar()
}

// Initialize builds the global logger. verbose lowers the level to debug;
// jsonOutput switches from console encoding to production JSON.
func Initialize(verbose, jsonOutput bool) error {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}

	var zl *zap.Logger
	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		built, err := cfg.Build()
		if err != nil {
			return err
		}
		zl = built
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zl = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(os.Stderr),
			level,
		))
	}

	logger = zl.Sugar()
	return nil
}

// L returns the shared sugared logger.
func L() *zap.SugaredLogger {
	return logger
}

// Named returns the shared logger tagged with a component name.
func Named(component string) *zap.SugaredLogger {
	return logger.Named(component)
}

// Sync flushes buffered log entries. Called on shutdown; errors are ignored
// by callers since stderr sync failures are not actionable.
func Sync() error {
	return logger.Sync()
}
