package azblobstore

import (
	"sync"

	"github.com/ikancheck/ikancheck/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the Azure backend logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("history.azblob")
	})
	return serviceLogger
}
