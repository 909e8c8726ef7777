package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/ikancheck/ikancheck/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml, in
// order: the user config directory, then the working directory.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	if runtime.GOOS == "windows" {
		return []string{
			filepath.Join(homeDir, "AppData", "Roaming", "ikancheck"),
			".",
		}, nil
	}
	return []string{
		filepath.Join(homeDir, ".config", "ikancheck"),
		".",
	}, nil
}

// FindConfigFile returns the first existing config.yaml in the default paths.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Component("configuration").
		Category(errors.CategoryNotFound).
		Context("operation", "find-config-file").
		Build()
}
