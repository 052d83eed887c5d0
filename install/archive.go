package install

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/slmcmahon/UpdateManager/layout"
	"github.com/slmcmahon/UpdateManager/updates"
)

// DefaultMaxExtractedBytes caps the total uncompressed size of an archive.
const DefaultMaxExtractedBytes = 4 << 30

// ArchiveInstaller unpacks a zip artifact into TargetDir/<version>,
// replacing a previous extraction of the same version. The previous
// extraction is restored if the new one cannot be moved into place.
type ArchiveInstaller struct {
	TargetDir string
	// MaxBytes caps the total uncompressed size. Zero means DefaultMaxExtractedBytes.
	MaxBytes int64
}

func (i *ArchiveInstaller) Install(ctx context.Context, a updates.Artifact) error {
	r, err := zip.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}

	dest := layout.ResolveExtractDir(i.TargetDir, a.Version)
	staging := dest + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to clean %s: %w", staging, err)
	}
	defer os.RemoveAll(staging)

	limit := i.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxExtractedBytes
	}
	if err := extractZip(ctx, r, staging, limit); err != nil {
		return err
	}

	exists, err := layout.ExistsAndNotEmpty(dest)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", dest, err)
	}
	backup := ""
	if exists {
		backup = dest + ".previous"
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("failed to clean %s: %w", backup, err)
		}
		if err := os.Rename(dest, backup); err != nil {
			return fmt.Errorf("failed to set aside previous extraction: %w", err)
		}
		log.WithField("path", dest).Info("replacing previous extraction")
	} else if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dest, err)
	}

	if err := os.Rename(staging, dest); err != nil {
		if backup != "" {
			if rerr := os.Rename(backup, dest); rerr != nil {
				log.WithError(rerr).WithField("path", backup).Error("failed to restore previous extraction")
			}
		}
		return fmt.Errorf("failed to move extraction into place: %w", err)
	}
	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			log.WithError(err).WithField("path", backup).Warn("failed to remove previous extraction")
		}
	}

	log.WithFields(log.Fields{
		"version": a.Version,
		"path":    dest,
		"files":   len(r.File),
	}).Info("artifact extracted")
	return nil
}

func extractZip(ctx context.Context, r *zip.Reader, destDir string, limit int64) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	root := filepath.Clean(destDir) + string(os.PathSeparator)

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("zip entry %q escapes the target directory", f.Name)
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		case !mode.IsRegular():
			return fmt.Errorf("zip entry %q is not a regular file", f.Name)
		}

		n, err := extractFile(f, target, mode.Perm()|0600, limit)
		if err != nil {
			return err
		}
		limit -= n
	}
	return nil
}

func extractFile(f *zip.File, target string, perm os.FileMode, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open file in zip: %w", err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(rc, remaining+1))
	if err != nil {
		out.Close()
		return n, fmt.Errorf("failed to extract file: %w", err)
	}
	if n > remaining {
		out.Close()
		return n, fmt.Errorf("archive exceeds the extraction size limit at %q", f.Name)
	}
	return n, out.Close()
}
