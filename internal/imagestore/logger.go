package imagestore

import "github.com/lampwatch/lampwatch/internal/logger"

// GetLogger returns the imagestore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}
