// Package conf provides configuration management for IkanCheck.
package conf

import "github.com/ikancheck/ikancheck/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger on each call because config loading runs before SetGlobal.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
