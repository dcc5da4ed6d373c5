package artifact

import (
	"sync"

	"github.com/tphakala/nailong-guard/internal/logger"
)

var (
	pkgLogger logger.Logger
	loggerMu  sync.Once
)

// GetLogger returns the artifact package logger
func GetLogger() logger.Logger {
	loggerMu.Do(func() {
		pkgLogger = logger.Global().Module("artifact")
	})
	return pkgLogger
}
