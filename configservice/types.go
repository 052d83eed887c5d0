package configservice

// SourcesSection contains the update source URLs
type SourcesSection struct {
	PListURL   string `yaml:"plist_url,omitempty"`
	VersionURL string `yaml:"version_url,omitempty"`
}
