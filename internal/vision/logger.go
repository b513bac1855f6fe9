package vision

import "github.com/lampwatch/lampwatch/internal/logger"

// GetLogger returns the vision module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}
