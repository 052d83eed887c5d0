// Package install applies downloaded update artifacts.
package install

import (
	"fmt"

	"github.com/slmcmahon/UpdateManager/updates"
)

// Mode selects how an artifact is applied.
type Mode string

const (
	// ModeStage writes the artifact into the cache and leaves it there.
	ModeStage Mode = "stage"
	// ModeSelf replaces an executable, by default the running one.
	ModeSelf Mode = "self"
	// ModeExtract unpacks a zip artifact into a directory.
	ModeExtract Mode = "extract"
	// ModeApp copies the .app bundle out of a disk image. macOS only.
	ModeApp Mode = "app"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeStage, ModeSelf, ModeExtract, ModeApp}

// New returns the installer for mode. target is the executable for
// ModeSelf and the destination directory for ModeExtract and ModeApp;
// cacheDir is where ModeStage puts files and ModeApp mounts images.
func New(mode Mode, target, cacheDir string) (updates.Installer, error) {
	switch mode {
	case ModeStage, "":
		if cacheDir == "" {
			return nil, fmt.Errorf("stage mode needs a cache directory")
		}
		return &FileInstaller{CacheDir: cacheDir}, nil
	case ModeSelf:
		return &SelfInstaller{TargetPath: target}, nil
	case ModeExtract:
		if target == "" {
			return nil, fmt.Errorf("extract mode needs a target directory")
		}
		return &ArchiveInstaller{TargetDir: target}, nil
	case ModeApp:
		if target == "" {
			target = "/Applications"
		}
		if cacheDir == "" {
			return nil, fmt.Errorf("app mode needs a cache directory")
		}
		return &AppInstaller{TargetDir: target, CacheDir: cacheDir}, nil
	default:
		return nil, fmt.Errorf("unknown install mode %q (supported: %v)", mode, Modes)
	}
}
