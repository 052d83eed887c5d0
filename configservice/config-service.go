package configservice

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/slmcmahon/UpdateManager/updates"
)

const sectionName = "sources"

// ConfigService provides validation of .updatemanager.yaml
type ConfigService interface {
	// EnsureValidConfig checks that the config file exists and has a usable sources section
	// Returns detailed diagnostic errors if validation fails
	EnsureValidConfig() error

	// Sources returns the SourcesService for reading and writing update sources
	Sources() SourcesService
}

// configServiceImpl is the default implementation of ConfigService
type configServiceImpl struct {
	configPath string
}

// NewConfigService creates a new ConfigService for the given config file path
func NewConfigService(configPath string) ConfigService {
	return &configServiceImpl{
		configPath: configPath,
	}
}

func (s *configServiceImpl) Sources() SourcesService {
	return s
}

// ReadSources reads and validates the sources section
func (s *configServiceImpl) ReadSources() (*SourcesSection, error) {
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", s.configPath)
		}
		return nil, fmt.Errorf("failed to read configuration file %s: %w", s.configPath, err)
	}

	var doc struct {
		Sources *SourcesSection `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", s.configPath, err)
	}
	if doc.Sources == nil {
		return nil, fmt.Errorf("%s section not found in %s", sectionName, s.configPath)
	}

	if err := validateSourcesSection(doc.Sources); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", s.configPath, err)
	}
	return doc.Sources, nil
}

// EnsureValidConfig checks that the config file exists and is valid
func (s *configServiceImpl) EnsureValidConfig() error {
	info, err := os.Stat(s.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("configuration not found at: %s\n\nPlease run 'updatemanager init' to create it", s.configPath)
		}
		return fmt.Errorf("cannot access configuration at %s: %w", s.configPath, err)
	}

	if info.IsDir() {
		return fmt.Errorf("expected %s to be a file, but it is a directory", s.configPath)
	}

	if _, err := s.ReadSources(); err != nil {
		return fmt.Errorf("configuration is invalid:\n  %w\n\nPlease fix the configuration or run 'updatemanager init' to recreate it", err)
	}
	return nil
}

// validateSourcesSection checks that at least one URL is set and all set URLs are usable
func validateSourcesSection(section *SourcesSection) error {
	if section == nil {
		return fmt.Errorf("%s section is empty", sectionName)
	}
	if section.PListURL == "" && section.VersionURL == "" {
		return fmt.Errorf("neither plist_url nor version_url is configured")
	}
	if section.PListURL != "" {
		if _, err := updates.ParseSourceURL(section.PListURL); err != nil {
			return fmt.Errorf("invalid plist_url: %w", err)
		}
	}
	if section.VersionURL != "" {
		if _, err := updates.ParseSourceURL(section.VersionURL); err != nil {
			return fmt.Errorf("invalid version_url: %w", err)
		}
	}
	return nil
}
