// Package conf provides configuration management for nailong-guard.
package conf

import "github.com/tphakala/nailong-guard/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// The logger is fetched from the global logger each time since the central
// logger is only configured after settings have been loaded.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
