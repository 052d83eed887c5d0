package configservice

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	testFile := filepath.Join(t.TempDir(), ".updatemanager.yaml")
	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return testFile
}

func TestConfigService_EnsureValidConfig_Valid(t *testing.T) {
	testFile := writeConfig(t, `sources:
  plist_url: https://example.com/manifest.plist
  version_url: https://example.com/version.txt
`)
	if err := NewConfigService(testFile).EnsureValidConfig(); err != nil {
		t.Errorf("Expected valid config, got: %v", err)
	}
}

func TestConfigService_EnsureValidConfig_VersionOnly(t *testing.T) {
	testFile := writeConfig(t, "sources:\n  version_url: s3://releases/app/version.txt\n")
	if err := NewConfigService(testFile).EnsureValidConfig(); err != nil {
		t.Errorf("Expected valid config, got: %v", err)
	}
}

func TestConfigService_EnsureValidConfig_Missing(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), ".updatemanager.yaml")
	err := NewConfigService(testFile).EnsureValidConfig()
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !strings.Contains(err.Error(), "updatemanager init") {
		t.Errorf("Expected hint to run init, got: %v", err)
	}
}

func TestConfigService_EnsureValidConfig_Directory(t *testing.T) {
	err := NewConfigService(t.TempDir()).EnsureValidConfig()
	if err == nil || !strings.Contains(err.Error(), "directory") {
		t.Errorf("Expected directory error, got: %v", err)
	}
}

func TestConfigService_EnsureValidConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no section", "log:\n  level: debug\n", "sources section not found"},
		{"empty section", "sources: {}\n", "neither plist_url nor version_url"},
		{"bad plist url", "sources:\n  plist_url: ftp://example.com/m.plist\n", "invalid plist_url"},
		{"relative version url", "sources:\n  version_url: version.txt\n", "invalid version_url"},
		{"broken yaml", "sources: [\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewConfigService(writeConfig(t, tt.content)).EnsureValidConfig()
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}
