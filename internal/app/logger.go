package app

import (
	"sync"

	"github.com/ikancheck/ikancheck/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("app")
	})
	return serviceLogger
}
