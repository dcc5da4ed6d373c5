package dispatch

import (
	"sync"

	"github.com/tphakala/nailong-guard/internal/logger"
)

var (
	pkgLogger logger.Logger
	loggerMu  sync.Once
)

// GetLogger returns the dispatch package logger
func GetLogger() logger.Logger {
	loggerMu.Do(func() {
		pkgLogger = logger.Global().Module("dispatch")
	})
	return pkgLogger
}
