// Package obs wires the process-wide structured logger and Prometheus
// registry shared by every other package. It exists because no single
// package in the proxy request path should decide how logs/metrics are
// configured on its own.
package obs

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	logger *zap.Logger
)

// Init builds the process-wide logger. Safe to call more than once; only
// the first call takes effect, so packages that need a logger before main()
// has run (init funcs, package-level helpers) can call L() lazily instead.
func Init(development bool) *zap.Logger {
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
		} else {
			cfg = zap.NewProductionConfig()
			cfg.Encoding = "console"
			cfg.EncoderConfig.TimeKey = "ts"
			cfg.EncoderConfig.EncodeTime = zap.NewProductionEncoderConfig().EncodeTime
		}
		built, err := cfg.Build()
		if err != nil {
			built = zap.NewNop()
		}
		logger = built
	})
	return logger
}

// L returns the process-wide logger, lazily building a production-mode
// default if Init was never called.
func L() *zap.Logger {
	if logger == nil {
		return Init(false)
	}
	return logger
}

// Sync flushes any buffered log entries. Call during graceful shutdown.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
