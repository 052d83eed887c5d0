package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/slmcmahon/UpdateManager/updates"
)

type checkOptions struct {
	root      *rootOptions
	installed string
}

func newCheckCommand(root *rootOptions) *cobra.Command {
	opts := &checkOptions{root: root}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer version is available",
		Long: `Fetch the latest version identifier and compare it with the installed
version from --installed or installed_version in the config.

Examples:
  updatemanager check
  updatemanager check --installed 1.4.0
`,
		Args: cobra.NoArgs,
		RunE: opts.run,
	}
	cmd.Flags().StringVar(&opts.installed, "installed", "", "installed version (default: installed_version from config)")
	return cmd
}

func (o *checkOptions) run(cmd *cobra.Command, args []string) error {
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

	res := <-m.CheckForUpdates(cmd.Context())
	if res.Err != nil {
		return fmt.Errorf("update check failed: %w", res.Err)
	}

	installed := o.installed
	if installed == "" {
		installed = cfg.InstalledVersion()
	}
	_, err = reportVersion(cmd.OutOrStdout(), installed, res.Version)
	return err
}

// reportVersion prints the check outcome and reports whether server is newer.
func reportVersion(out io.Writer, installed, server string) (bool, error) {
	fmt.Fprintln(out, "Server version:", server)
	if installed == "" {
		fmt.Fprintln(out, "Installed version unknown, pass --installed or set installed_version to compare")
		return false, nil
	}

	newer, err := updates.IsNewer(installed, server)
	if err != nil {
		return false, fmt.Errorf("cannot compare versions: %w", err)
	}
	if newer {
		fmt.Fprintf(out, "Update available: %s -> %s\n", installed, server)
	} else {
		fmt.Fprintf(out, "Up to date: installed %s\n", installed)
	}
	return newer, nil
}
