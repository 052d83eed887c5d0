package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slmcmahon/UpdateManager/install"
	"github.com/slmcmahon/UpdateManager/updates"
)

type updateOptions struct {
	root      *rootOptions
	installed string
	mode      string
	target    string
	force     bool
}

func newUpdateCommand(root *rootOptions) *cobra.Command {
	opts := &updateOptions{root: root}

	modes := make([]string, 0, len(install.Modes))
	for _, m := range install.Modes {
		modes = append(modes, string(m))
	}

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download and install the latest version",
		Long: `Check for a newer version and, when one is available, download the
artifact named by the release manifest and install it.

Install modes:
  stage    keep the artifact in the cache directory (default)
  self     replace an executable, the running one unless --target is given
  extract  unpack a zip artifact into --target/<version>
  app      copy the .app bundle from a disk image into --target
           (default /Applications, macOS only)

Examples:
  updatemanager update --installed 1.4.0
  updatemanager update --mode extract --target ./app
  updatemanager update --force
`,
		Args: cobra.NoArgs,
		RunE: opts.run,
	}
	cmd.Flags().StringVar(&opts.installed, "installed", "", "installed version (default: installed_version from config)")
	cmd.Flags().StringVar(&opts.mode, "mode", string(install.ModeStage), "install mode: "+strings.Join(modes, ", "))
	cmd.Flags().StringVar(&opts.target, "target", "", "executable for self mode, directory for extract and app modes")
	cmd.Flags().BoolVar(&opts.force, "force", false, "install without checking that the server version is newer")
	return cmd
}

func (o *updateOptions) run(cmd *cobra.Command, args []string) error {
	cfg, err := o.root.loadConfig()
	if err != nil {
		return err
	}
	m, err := configureManager(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := writeMetrics(o.root.metricsTextfile, m); err != nil {
			cmd.PrintErrln(err)
		}
	}()

	installer, err := install.New(install.Mode(o.mode), o.target, cfg.CacheDir())
	if err != nil {
		return err
	}
	m.SetInstaller(installer)

	out := cmd.OutOrStdout()
	if !o.force {
		installed := o.installed
		if installed == "" {
			installed = cfg.InstalledVersion()
		}
		if installed == "" {
			return fmt.Errorf("installed version unknown: pass --installed, set installed_version, or use --force")
		}
		// The version document and the manifest are fetched separately and
		// may disagree; the manifest decides what actually gets installed.
		m.SetInstaller(newerOnly(installed, installer))

		res := <-m.CheckForUpdates(cmd.Context())
		if res.Err != nil {
			return fmt.Errorf("update check failed: %w", res.Err)
		}
		newer, err := reportVersion(out, installed, res.Version)
		if err != nil {
			return err
		}
		if !newer {
			return nil
		}
	}

	res := <-m.PerformUpdate(cmd.Context())
	if res.Err != nil {
		return fmt.Errorf("update failed: %w", res.Err)
	}
	fmt.Fprintf(out, "Installed version %s from %s\n", res.Version, res.ArtifactURL)
	if staged, ok := installer.(*install.FileInstaller); ok {
		fmt.Fprintln(out, "Staged at:", staged.Path())
	}
	return nil
}

// newerOnly refuses artifacts that are not newer than installed.
func newerOnly(installed string, next updates.Installer) updates.Installer {
	return updates.InstallerFunc(func(ctx context.Context, a updates.Artifact) error {
		newer, err := updates.IsNewer(installed, a.Version)
		if err != nil {
			return fmt.Errorf("cannot compare versions: %w", err)
		}
		if !newer {
			return fmt.Errorf("manifest offers version %s, which is not newer than installed %s", a.Version, installed)
		}
		return next.Install(ctx, a)
	})
}
