package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/slmcmahon/UpdateManager/layout"
	"github.com/slmcmahon/UpdateManager/updates"
)

// FileInstaller stages the artifact under CacheDir without running it.
type FileInstaller struct {
	CacheDir string

	mu   sync.Mutex
	path string
}

func (i *FileInstaller) Install(ctx context.Context, a updates.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := layout.ResolveStagedArtifact(i.CacheDir, a.Version, a.URL)
	if err := writeFileAtomic(dest, a.Data, 0644); err != nil {
		return err
	}

	i.mu.Lock()
	i.path = dest
	i.mu.Unlock()

	log.WithFields(log.Fields{
		"version": a.Version,
		"path":    dest,
	}).Info("artifact staged")
	return nil
}

// Path is the file written by the last successful Install.
func (i *FileInstaller) Path() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.path
}

func writeFileAtomic(dest string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}
