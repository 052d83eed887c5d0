package install

import (
	"bytes"
	"context"
	"fmt"

	"github.com/inconshreveable/go-update"
	log "github.com/sirupsen/logrus"

	"github.com/slmcmahon/UpdateManager/updates"
)

// SelfInstaller swaps an executable for the artifact. With no TargetPath
// the running executable is replaced. The process is not restarted.
type SelfInstaller struct {
	TargetPath string
}

func (i *SelfInstaller) Install(ctx context.Context, a updates.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(a.Data) == 0 {
		return fmt.Errorf("refusing to replace executable with an empty artifact")
	}

	opts := update.Options{TargetPath: i.TargetPath}
	if err := opts.CheckPermissions(); err != nil {
		return fmt.Errorf("cannot replace executable: %w", err)
	}

	if err := update.Apply(bytes.NewReader(a.Data), opts); err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			return fmt.Errorf("failed to apply update and roll back: %w (rollback: %v)", err, rerr)
		}
		return fmt.Errorf("failed to apply update: %w", err)
	}

	log.WithFields(log.Fields{
		"version": a.Version,
		"target":  i.target(),
	}).Info("executable replaced, restart to use the new version")
	return nil
}

func (i *SelfInstaller) target() string {
	if i.TargetPath == "" {
		return "running executable"
	}
	return i.TargetPath
}
