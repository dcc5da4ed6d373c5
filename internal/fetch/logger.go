package fetch

import "github.com/tphakala/nailong-guard/internal/logger"

// GetLogger returns the fetch package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("fetch")
}
