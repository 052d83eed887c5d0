package config

import "time"

// Config represents the configuration interface
type Config interface {
	// ConfigPath returns the path to the config file, or "" when none was found
	ConfigPath() string

	// CacheDir returns the path to the cache directory
	CacheDir() string

	// Sources returns where updates are looked up
	Sources() SourcesConfig

	// InstalledVersion returns the version the caller has installed
	InstalledVersion() string

	HTTPTimeout() time.Duration
	HTTPRetries() int
	UserAgent() string

	LogLevel() string
	LogFile() string
}

// SourcesConfig represents the update source URLs
type SourcesConfig interface {
	// PListURL returns the release manifest URL
	PListURL() string
	// VersionURL returns the version document URL
	VersionURL() string
}
