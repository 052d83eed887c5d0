package install

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"

	"github.com/slmcmahon/UpdateManager/updates"
)

// AppInstaller mounts a disk image artifact and copies the single .app
// bundle it contains to TargetDir, replacing the installed bundle.
type AppInstaller struct {
	TargetDir string
	CacheDir  string
}

var (
	hostOS     = runtime.GOOS
	runCommand = func(ctx context.Context, name string, args ...string) error {
		out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", name, err, out)
		}
		return nil
	}
)

func (i *AppInstaller) Install(ctx context.Context, a updates.Artifact) error {
	if hostOS != "darwin" {
		return fmt.Errorf("installing from a disk image is only supported on macOS")
	}
	if err := os.MkdirAll(i.CacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	image, err := os.CreateTemp(i.CacheDir, "updatemanager-*.dmg")
	if err != nil {
		return fmt.Errorf("failed to create disk image file: %w", err)
	}
	defer os.Remove(image.Name())
	if _, err := image.Write(a.Data); err != nil {
		image.Close()
		return fmt.Errorf("failed to write disk image: %w", err)
	}
	if err := image.Close(); err != nil {
		return fmt.Errorf("failed to write disk image: %w", err)
	}

	mountPoint, err := os.MkdirTemp(i.CacheDir, "updatemanager-mount-*")
	if err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	defer os.RemoveAll(mountPoint)

	if err := runCommand(ctx, "hdiutil", "attach", "-nobrowse", "-readonly", "-mountpoint", mountPoint, image.Name()); err != nil {
		return fmt.Errorf("failed to mount disk image: %w", err)
	}
	defer func() {
		if err := runCommand(context.Background(), "hdiutil", "detach", mountPoint, "-force"); err != nil {
			log.WithError(err).Warn("failed to detach disk image")
		}
	}()

	bundle, err := findAppBundle(mountPoint)
	if err != nil {
		return err
	}

	dest := filepath.Join(i.TargetDir, filepath.Base(bundle))
	staging := dest + ".partial"
	if err := os.MkdirAll(i.TargetDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", i.TargetDir, err)
	}
	_ = os.RemoveAll(staging)
	defer os.RemoveAll(staging)

	if err := runCommand(ctx, "cp", "-R", bundle+"/", staging+"/"); err != nil {
		return fmt.Errorf("failed to copy application: %w", err)
	}
	if err := runCommand(ctx, "xattr", "-rd", "com.apple.quarantine", staging); err != nil {
		log.WithError(err).Debug("failed to remove quarantine attributes")
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dest, err)
	}
	if err := os.Rename(staging, dest); err != nil {
		return fmt.Errorf("failed to move application into place: %w", err)
	}

	log.WithFields(log.Fields{
		"version": a.Version,
		"path":    dest,
	}).Info("application installed")
	return nil
}

func findAppBundle(mountPoint string) (string, error) {
	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return "", fmt.Errorf("failed to read mounted image: %w", err)
	}
	found := ""
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".app" {
			log.WithField("name", entry.Name()).Debug("skipping non-application entry")
			continue
		}
		if found != "" {
			return "", fmt.Errorf("disk image contains more than one .app bundle")
		}
		found = filepath.Join(mountPoint, entry.Name())
	}
	if found == "" {
		return "", fmt.Errorf("disk image contains no .app bundle")
	}
	return found, nil
}
