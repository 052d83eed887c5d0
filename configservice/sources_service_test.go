package configservice

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSourcesService_UpdateSources_CreateNewFile(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "nested", ".updatemanager.yaml")
	configService := NewConfigService(testFile)

	section := &SourcesSection{
		PListURL:   "https://example.com/app/manifest.plist",
		VersionURL: "https://example.com/app/version.txt",
	}
	if err := configService.Sources().UpdateSources(section); err != nil {
		t.Fatalf("Failed to create new config: %v", err)
	}

	readSection, err := configService.Sources().ReadSources()
	if err != nil {
		t.Fatalf("Failed to read created config: %v", err)
	}
	if *readSection != *section {
		t.Errorf("Expected %+v, got %+v", *section, *readSection)
	}

	data, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if !strings.Contains(string(data), "# .updatemanager.yaml") {
		t.Error("Expected header comment not found")
	}
}

func TestSourcesService_UpdateSources_UpdateExistingFile(t *testing.T) {
	initialContent := `# This is my custom header
# Don't overwrite this

sources:
  plist_url: https://example.com/old/manifest.plist

# Installed build
installed_version: 1.2.0
log:
  level: debug
`
	testFile := writeConfig(t, initialContent)
	configService := NewConfigService(testFile)

	newSection := &SourcesSection{
		PListURL:   "https://example.com/new/manifest.plist",
		VersionURL: "https://example.com/new/version.txt",
	}
	if err := configService.Sources().UpdateSources(newSection); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}

	readSection, err := configService.Sources().ReadSources()
	if err != nil {
		t.Fatalf("Failed to read updated config: %v", err)
	}
	if *readSection != *newSection {
		t.Errorf("Expected %+v, got %+v", *newSection, *readSection)
	}

	data, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	content := string(data)
	for _, want := range []string{"# This is my custom header", "# Don't overwrite this", "# Installed build", "installed_version: 1.2.0", "level: debug"} {
		if !strings.Contains(content, want) {
			t.Errorf("Expected %q to be preserved, content:\n%s", want, content)
		}
	}
	if strings.Contains(content, "/old/") {
		t.Errorf("Old URL should be replaced, content:\n%s", content)
	}
}

func TestSourcesService_UpdateSources_AppendsMissingSection(t *testing.T) {
	testFile := writeConfig(t, "# settings only\ninstalled_version: 0.9.0")
	configService := NewConfigService(testFile)

	section := &SourcesSection{VersionURL: "file:///srv/releases/version.txt"}
	if err := configService.Sources().UpdateSources(section); err != nil {
		t.Fatalf("Failed to update config: %v", err)
	}

	readSection, err := configService.Sources().ReadSources()
	if err != nil {
		t.Fatalf("Failed to read updated config: %v", err)
	}
	if readSection.VersionURL != section.VersionURL || readSection.PListURL != "" {
		t.Errorf("Unexpected section: %+v", *readSection)
	}

	data, _ := os.ReadFile(testFile)
	if !strings.Contains(string(data), "installed_version: 0.9.0") || !strings.Contains(string(data), "# settings only") {
		t.Errorf("Existing content should be preserved, got:\n%s", data)
	}
}

func TestSourcesService_UpdateSources_RejectsInvalid(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), ".updatemanager.yaml")
	configService := NewConfigService(testFile)

	if err := configService.Sources().UpdateSources(&SourcesSection{}); err == nil {
		t.Error("Expected error for empty section")
	}
	if err := configService.Sources().UpdateSources(&SourcesSection{PListURL: "not a url"}); err == nil {
		t.Error("Expected error for malformed URL")
	}
	if _, err := os.Stat(testFile); !os.IsNotExist(err) {
		t.Error("Invalid sections must not create the file")
	}
}
