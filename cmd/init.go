package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/slmcmahon/UpdateManager/config"
	"github.com/slmcmahon/UpdateManager/configservice"
)

type initCommandConfig struct {
	plistURL   string
	versionURL string
}

func newInitCommand() *cobra.Command {
	c := &initCommandConfig{}

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create or update .updatemanager.yaml",
		Long: `Write the update sources into .updatemanager.yaml in the given directory,
creating the file if needed. Comments and other settings in an existing file
are kept.

Examples:
  updatemanager init --version-url https://example.com/app/version.txt \
      --plist-url https://example.com/app/manifest.plist
`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.doTheCommand,
	}
	cmd.Flags().StringVar(&c.plistURL, "plist-url", "", "release manifest URL")
	cmd.Flags().StringVar(&c.versionURL, "version-url", "", "version document URL")
	return cmd
}

func (c *initCommandConfig) doTheCommand(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}
	log.WithField("path", absPath).Debug("resolved target directory")

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	service := configservice.NewConfigService(filepath.Join(absPath, config.FileName))
	section := &configservice.SourcesSection{
		PListURL:   c.plistURL,
		VersionURL: c.versionURL,
	}
	// Flags left empty keep what the file already has.
	if existing, err := service.Sources().ReadSources(); err == nil {
		if section.PListURL == "" {
			section.PListURL = existing.PListURL
		}
		if section.VersionURL == "" {
			section.VersionURL = existing.VersionURL
		}
	}

	if err := service.Sources().UpdateSources(section); err != nil {
		return fmt.Errorf("failed to write update sources: %w", err)
	}
	if err := service.EnsureValidConfig(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote update sources to %s\n", filepath.Join(absPath, config.FileName))
	return nil
}
