// Package layout decides where update artifacts live on disk.
package layout

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	stateDirName    = ".updatemanager"
	stagedDirName   = "staged"
	defaultArtifact = "artifact"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizePath sanitizes a single path or filename component
// to avoid invalid or unsafe characters.
func sanitizePath(input string) string {
	sanitized := unsafeChars.ReplaceAllString(input, "_")

	// Prevent filenames with dots like ".." or empty paths
	return strings.Trim(sanitized, ".")
}

// DefaultCacheDir is the cache next to a config file in baseDir.
func DefaultCacheDir(baseDir string) string {
	return filepath.Join(baseDir, stateDirName, "cache")
}

// ResolveStagedArtifact returns the file an artifact of version, downloaded
// from artifactURL, is staged to: <cacheDir>/staged/<version>/<file name>.
func ResolveStagedArtifact(cacheDir, version, artifactURL string) string {
	versionDir := sanitizePath(version)
	if versionDir == "" {
		versionDir = "unknown"
	}
	return filepath.Join(cacheDir, stagedDirName, versionDir, artifactFileName(artifactURL))
}

// ResolveExtractDir returns the directory an archive of version is unpacked to.
func ResolveExtractDir(targetDir, version string) string {
	versionDir := sanitizePath(version)
	if versionDir == "" {
		versionDir = "unknown"
	}
	return filepath.Join(targetDir, versionDir)
}

func artifactFileName(artifactURL string) string {
	p := artifactURL
	if u, err := url.Parse(artifactURL); err == nil {
		p = u.Path
	}
	name := sanitizePath(path.Base(p))
	if name == "" || name == "_" {
		return defaultArtifact
	}
	return name
}

// ExistsAndNotEmpty reports whether dir exists and has at least one entry.
func ExistsAndNotEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}
