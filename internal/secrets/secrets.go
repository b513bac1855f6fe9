// Package secrets resolves credentials from ${VAR} references or mounted
// secret files (Docker and Kubernetes secrets). Secret values are never logged.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Secrets are tokens and passwords, not documents.
const maxSecretFileSize = 64 * 1024

// ExpandString expands ${VAR} and ${VAR:-default} references. A referenced
// variable that is unset and has no default is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// ReadFile reads a secret file, trimming trailing newlines.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("secret file path is empty")
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret file not found: %s", clean)
		}
		return "", fmt.Errorf("failed to stat secret file %s: %w", clean, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", clean)
	}
	if info.Size() > maxSecretFileSize {
		return "", fmt.Errorf("secret file too large (max %d bytes): %s", maxSecretFileSize, clean)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", clean, err)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file is empty: %s", clean)
	}
	return secret, nil
}

// Resolve prefers filePath when set, otherwise expands value.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		secret, err := ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file: %w", err)
		}
		return secret, nil
	}
	return ExpandString(value)
}
