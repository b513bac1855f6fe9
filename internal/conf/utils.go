// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/lampwatch/lampwatch/internal/errors"
)

// GetDefaultConfigPaths returns the config search path: the working directory,
// the per-user config directory and, outside Windows, /etc/lampwatch. When one of
// them already holds config.yaml only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get_home_directory").
			Build()
	}

	configPaths := []string{"."}
	if runtime.GOOS == "windows" {
		configPaths = append(configPaths, filepath.Join(homeDir, "AppData", "Roaming", "lampwatch"))
	} else {
		configPaths = append(configPaths,
			filepath.Join(homeDir, ".config", "lampwatch"),
			"/etc/lampwatch")
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}
