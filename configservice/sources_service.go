package configservice

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/parser"
	log "github.com/sirupsen/logrus"
)

// SourcesService manages the update sources in .updatemanager.yaml
type SourcesService interface {
	// ReadSources reads and parses the sources section
	// Returns error if file doesn't exist, can't be parsed, or validation fails
	ReadSources() (*SourcesSection, error)

	// UpdateSources writes the sources section, creating the file with a header if needed.
	// Comments and other sections of an existing file are preserved.
	UpdateSources(section *SourcesSection) error
}

// UpdateSources updates or creates the config file with the given sources
func (s *configServiceImpl) UpdateSources(section *SourcesSection) error {
	if err := validateSourcesSection(section); err != nil {
		return fmt.Errorf("invalid section: %w", err)
	}

	if _, err := os.Stat(s.configPath); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access configuration at %s: %w", s.configPath, err)
		}
		return s.createNewConfig(section)
	}
	return s.updateExistingConfig(section)
}

func (s *configServiceImpl) createNewConfig(section *SourcesSection) error {
	yamlBytes, err := yaml.Marshal(map[string]interface{}{
		sectionName: section,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal section: %w", err)
	}

	header := "# .updatemanager.yaml - update sources and settings for updatemanager\n"
	header += "# Other keys: installed_version, cache_dir, http.timeout, http.retries, log.level, log.file\n\n"
	yamlBytes = []byte(header + string(yamlBytes))

	dir := filepath.Dir(s.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(s.configPath, yamlBytes, 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	log.WithField("path", s.configPath).Info("created configuration file")
	return nil
}

// updateExistingConfig replaces only the sources node, keeping comments and formatting elsewhere
func (s *configServiceImpl) updateExistingConfig(section *SourcesSection) error {
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to read existing configuration: %w", err)
	}

	file, err := parser.ParseBytes(data, parser.ParseComments)
	if err != nil {
		return fmt.Errorf("failed to parse existing configuration: %w", err)
	}

	path, err := yaml.PathString("$." + sectionName)
	if err != nil {
		return fmt.Errorf("failed to create path: %w", err)
	}

	if _, err := path.FilterFile(file); err != nil {
		return s.appendSection(data, section)
	}

	newYaml, err := yaml.Marshal(section)
	if err != nil {
		return fmt.Errorf("failed to marshal new section: %w", err)
	}
	newFile, err := parser.ParseBytes(newYaml, 0)
	if err != nil {
		return fmt.Errorf("failed to parse new section: %w", err)
	}
	if len(newFile.Docs) == 0 || newFile.Docs[0].Body == nil {
		return fmt.Errorf("new section has no body")
	}

	if err := path.ReplaceWithNode(file, newFile.Docs[0].Body); err != nil {
		return fmt.Errorf("failed to replace node: %w", err)
	}

	if err := os.WriteFile(s.configPath, []byte(file.String()), 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// appendSection adds a sources section to a file that has none
func (s *configServiceImpl) appendSection(data []byte, section *SourcesSection) error {
	yamlBytes, err := yaml.Marshal(map[string]interface{}{
		sectionName: section,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal section: %w", err)
	}

	content := string(data)
	if strings.TrimSpace(content) != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += string(yamlBytes)

	if err := os.WriteFile(s.configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
