package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Limits on what the loader accepts from disk and the environment.
const (
	maxFileSize = 1 << 20
	maxNesting  = 32
	maxEnvLen   = 4096
	maxPathLen  = 4096
)

// validateConfigPath accepts JSON and YAML files that do not resolve above
// the working directory when given relatively.
func validateConfigPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("empty config path")
	case len(path) > maxPathLen:
		return fmt.Errorf("config path longer than %d bytes", maxPathLen)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("config file must be .json, .yaml or .yml: %s", path)
	}

	if !filepath.IsAbs(path) {
		rel := filepath.Clean(path)
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("config path %s escapes the working directory", path)
		}
	}
	return nil
}

// readConfigFile reads a layer after checking its path, type and size.
func readConfigFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), maxFileSize)
	}
	return os.ReadFile(path)
}

// checkNesting rejects decoded layers nested deeper than maxNesting. No
// bridge setting is more than three levels down.
func checkNesting(v any, depth int) error {
	if depth > maxNesting {
		return fmt.Errorf("config nested deeper than %d levels", maxNesting)
	}
	switch n := v.(type) {
	case map[string]any:
		for _, child := range n {
			if err := checkNesting(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range n {
			if err := checkNesting(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkEnvValue rejects oversized values and values carrying NUL bytes.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvLen {
		return fmt.Errorf("%s longer than %d bytes", key, maxEnvLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}
