package guard

import (
	"sync"

	"github.com/tphakala/nailong-guard/internal/logger"
)

var (
	pkgLogger logger.Logger
	loggerMu  sync.Once
)

// GetLogger returns the guard package logger
func GetLogger() logger.Logger {
	loggerMu.Do(func() {
		pkgLogger = logger.Global().Module("guard")
	})
	return pkgLogger
}
