package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// FileName is the configuration file looked up by FindConfigFile.
const FileName = ".updatemanager.yaml"

// ErrConfigNotFound is returned when no directory up to the root has a config file.
var ErrConfigNotFound = errors.New("configuration file not found")

// FindConfigFile searches for .updatemanager.yaml starting from the given
// directory and moving up the directory tree until it finds the file or
// reaches the root.
func FindConfigFile(startDir string) (string, error) {
	dir := startDir

	visitedDirs := make(map[string]bool) // Track visited directories for symlink safety

	for {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve directory %s: %w", dir, err)
		}
		absDir, err = filepath.EvalSymlinks(absDir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve symlink in directory %s: %w", dir, err)
		}

		if visitedDirs[absDir] {
			return "", fmt.Errorf("potential symlink loop detected in directory %s", absDir)
		}
		visitedDirs[absDir] = true

		configPath := filepath.Join(absDir, FileName)
		if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
			log.WithField("path", configPath).Debug("found configuration file")
			return configPath, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return "", fmt.Errorf("%w: %s not found in any parent directory of %s", ErrConfigNotFound, FileName, startDir)
		}
		dir = parent
	}
}
