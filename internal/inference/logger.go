package inference

import (
	"sync"

	"github.com/tphakala/nailong-guard/internal/logger"
)

var (
	pkgLogger logger.Logger
	loggerMu  sync.Once
)

// GetLogger returns the inference package logger
func GetLogger() logger.Logger {
	loggerMu.Do(func() {
		pkgLogger = logger.Global().Module("inference")
	})
	return pkgLogger
}
