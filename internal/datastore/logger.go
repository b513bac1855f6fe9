package datastore

import "github.com/lampwatch/lampwatch/internal/logger"

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}
