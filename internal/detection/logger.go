package detection

import (
	"sync"

	"github.com/tphakala/nailong-guard/internal/logger"
)

var (
	pkgLogger logger.Logger
	loggerMu  sync.Once
)

// GetLogger returns the detection package logger
func GetLogger() logger.Logger {
	loggerMu.Do(func() {
		pkgLogger = logger.Global().Module("detection")
	})
	return pkgLogger
}
