package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/slmcmahon/UpdateManager/layout"
)

const (
	KeyPListURL         = "sources.plist_url"
	KeyVersionURL       = "sources.version_url"
	KeyInstalledVersion = "installed_version"
	KeyCacheDir         = "cache_dir"
	KeyHTTPTimeout      = "http.timeout"
	KeyHTTPRetries      = "http.retries"
	KeyUserAgent        = "http.user_agent"
	KeyLogLevel         = "log.level"
	KeyLogFile          = "log.file"

	envPrefix = "UPDATEMANAGER"
)

const (
	DefaultHTTPTimeout = 30 * time.Second
	DefaultHTTPRetries = 3
	DefaultUserAgent   = "updatemanager"
	DefaultLogLevel    = "info"
)

type sourcesImpl struct {
	plistURL   string
	versionURL string
}

func (s *sourcesImpl) PListURL() string   { return s.plistURL }
func (s *sourcesImpl) VersionURL() string { return s.versionURL }

// configImpl is the internal implementation of Config
type configImpl struct {
	configPath       string
	cacheDir         string
	sources          *sourcesImpl
	installedVersion string
	httpTimeout      time.Duration
	httpRetries      int
	userAgent        string
	logLevel         string
	logFile          string
}

func (c *configImpl) ConfigPath() string         { return c.configPath }
func (c *configImpl) CacheDir() string           { return c.cacheDir }
func (c *configImpl) Sources() SourcesConfig     { return c.sources }
func (c *configImpl) InstalledVersion() string   { return c.installedVersion }
func (c *configImpl) HTTPTimeout() time.Duration { return c.httpTimeout }
func (c *configImpl) HTTPRetries() int           { return c.httpRetries }
func (c *configImpl) UserAgent() string          { return c.userAgent }
func (c *configImpl) LogLevel() string           { return c.logLevel }
func (c *configImpl) LogFile() string            { return c.logFile }

func (c *configImpl) String() string {
	return fmt.Sprintf("ConfigPath: %s, CacheDir: %s", c.configPath, c.cacheDir)
}

// ResolveConfig loads explicitPath, or the nearest config file above the
// working directory when explicitPath is empty.
func ResolveConfig(explicitPath string) (Config, error) {
	return ResolveConfigFromDirectory(".", explicitPath)
}

// ResolveConfigFromDirectory is ResolveConfig with the search starting at cwd.
// Without a config file, defaults and UPDATEMANAGER_* variables still apply.
func ResolveConfigFromDirectory(cwd, explicitPath string) (Config, error) {
	configPath := strings.TrimSpace(explicitPath)
	if configPath == "" {
		found, err := FindConfigFile(cwd)
		switch {
		case errors.Is(err, ErrConfigNotFound):
			log.Debug("no configuration file found, using defaults and environment")
		case err != nil:
			return nil, fmt.Errorf("failed to resolve config: %w", err)
		default:
			configPath = found
		}
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("failed to resolve config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		configPath = abs
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	cacheDir, err := resolveCacheDir(v.GetString(KeyCacheDir), configPath)
	if err != nil {
		return nil, err
	}

	c := &configImpl{
		configPath: configPath,
		cacheDir:   cacheDir,
		sources: &sourcesImpl{
			plistURL:   strings.TrimSpace(v.GetString(KeyPListURL)),
			versionURL: strings.TrimSpace(v.GetString(KeyVersionURL)),
		},
		installedVersion: strings.TrimSpace(v.GetString(KeyInstalledVersion)),
		httpTimeout:      v.GetDuration(KeyHTTPTimeout),
		httpRetries:      v.GetInt(KeyHTTPRetries),
		userAgent:        v.GetString(KeyUserAgent),
		logLevel:         v.GetString(KeyLogLevel),
		logFile:          v.GetString(KeyLogFile),
	}
	if err := validate(c); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", describe(configPath), err)
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyPListURL, "")
	v.SetDefault(KeyVersionURL, "")
	v.SetDefault(KeyInstalledVersion, "")
	v.SetDefault(KeyCacheDir, "")
	v.SetDefault(KeyHTTPTimeout, DefaultHTTPTimeout)
	v.SetDefault(KeyHTTPRetries, DefaultHTTPRetries)
	v.SetDefault(KeyUserAgent, DefaultUserAgent)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFile, "")
}

// resolveCacheDir puts relative paths next to the config file. With no
// config file the user cache directory is used.
func resolveCacheDir(value, configPath string) (string, error) {
	value = strings.TrimSpace(value)
	base := ""
	if configPath != "" {
		base = filepath.Dir(configPath)
	}

	switch {
	case value != "" && filepath.IsAbs(value):
		return value, nil
	case value != "" && base != "":
		return filepath.Join(base, value), nil
	case value != "":
		return filepath.Abs(value)
	case base != "":
		return layout.DefaultCacheDir(base), nil
	}

	userCache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache directory: %w", err)
	}
	return filepath.Join(userCache, "updatemanager"), nil
}

func validate(c *configImpl) error {
	if c.httpTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyHTTPTimeout, c.httpTimeout)
	}
	if c.httpRetries < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyHTTPRetries, c.httpRetries)
	}
	if _, err := log.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	return nil
}

func describe(configPath string) string {
	if configPath == "" {
		return "environment"
	}
	return configPath
}
