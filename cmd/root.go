package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slmcmahon/UpdateManager/config"
)

type rootOptions struct {
	configPath      string
	logLevel        string
	logFile         string
	metricsTextfile string
}

// loadConfig resolves the config and applies logging flags on top of it.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.ResolveConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel()
	if o.logLevel != "" {
		level = o.logLevel
	}
	logFile := cfg.LogFile()
	if o.logFile != "" {
		logFile = o.logFile
	}
	if err := initLog(level, logFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewRootCommand builds the updatemanager command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "updatemanager",
		Short: fmt.Sprintf("updatemanager v%s checks for and installs application updates", version),
		Long: `updatemanager fetches the latest version from a version document or a
release manifest, compares it with the installed version, and installs the
release artifact when it is newer.

Sources are read from .updatemanager.yaml, searched upward from the current
directory, and can be overridden with UPDATEMANAGER_* environment variables.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to the config file (default: nearest .updatemanager.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.StringVar(&opts.logFile, "log-file", "", "write logs to this file, rotated, instead of stderr")
	flags.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "write check and update counters to this file in Prometheus text format")

	cmd.SetHelpCommand(newHelpCommand())
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newUpdateCommand(opts))
	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newVersionCommand(version))

	return cmd
}

func Execute(version string) {
	if err := NewRootCommand(version).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
