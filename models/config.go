package models

import (
	"os"
	"time"

	"github.com/rohanthewiz/serr"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Configuration
//
// Settings come from PDSNOTES_* environment variables. When PDSNOTES_CONFIG
// names a YAML file, the file is read first and environment variables
// override whatever it sets, so one-off runs can tweak a checked-in file.
// ============================================================================

// Config holds client settings.
type Config struct {
	PDSURL      string        `yaml:"pds_url"`      // PDSNOTES_PDS_URL
	CacheDriver string        `yaml:"cache_driver"` // PDSNOTES_CACHE_DRIVER: duckdb or sqlite
	CachePath   string        `yaml:"cache_path"`   // PDSNOTES_CACHE_PATH; empty = in-memory
	LogLevel    string        `yaml:"log_level"`    // PDSNOTES_LOG_LEVEL
	HTTPTimeout time.Duration `yaml:"http_timeout"` // PDSNOTES_HTTP_TIMEOUT
	SessionKey  string        `yaml:"session_key"`  // PDSNOTES_SESSION_KEY
	Debounce    time.Duration `yaml:"debounce"`     // PDSNOTES_DEBOUNCE
	ServeAddr   string        `yaml:"serve_addr"`   // PDSNOTES_SERVE_ADDR
}

const (
	DefaultPDSURL      = "https://bsky.social"
	DefaultCacheDriver = "duckdb"
	DefaultCachePath   = "./data/pdsnotes.db"
	DefaultHTTPTimeout = 30 * time.Second
	DefaultDebounce    = 800 * time.Millisecond
	DefaultServeAddr   = ":8000"

	ConfigFileEnvVar = "PDSNOTES_CONFIG"
)

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		PDSURL:      DefaultPDSURL,
		CacheDriver: DefaultCacheDriver,
		CachePath:   DefaultCachePath,
		LogLevel:    "info",
		HTTPTimeout: DefaultHTTPTimeout,
		Debounce:    DefaultDebounce,
		ServeAddr:   DefaultServeAddr,
	}
}

// LoadConfig reads the optional YAML file and then the environment.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(ConfigFileEnvVar); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return serr.Wrap(err, "failed to read config file", "path", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return serr.Wrap(err, "failed to parse config file", "path", path)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString := func(env string, dst *string) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}
	setString("PDSNOTES_PDS_URL", &c.PDSURL)
	setString("PDSNOTES_CACHE_DRIVER", &c.CacheDriver)
	setString("PDSNOTES_CACHE_PATH", &c.CachePath)
	setString("PDSNOTES_LOG_LEVEL", &c.LogLevel)
	setString("PDSNOTES_SESSION_KEY", &c.SessionKey)
	setString("PDSNOTES_SERVE_ADDR", &c.ServeAddr)

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"PDSNOTES_HTTP_TIMEOUT", &c.HTTPTimeout},
		{"PDSNOTES_DEBOUNCE", &c.Debounce},
	}
	for _, d := range durations {
		s := os.Getenv(d.env)
		if s == "" {
			continue
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return serr.Wrap(err, "invalid "+d.env+" value, expected duration like '30s'")
		}
		*d.dst = v
	}
	return nil
}

// Validate fails fast on settings that would only surface mid-sync.
func (c *Config) Validate() error {
	if c.PDSURL == "" {
		return serr.New("PDSNOTES_PDS_URL is required")
	}
	switch c.CacheDriver {
	case "duckdb", "sqlite":
	default:
		return serr.New("PDSNOTES_CACHE_DRIVER must be duckdb or sqlite", "driver", c.CacheDriver)
	}
	if c.HTTPTimeout <= 0 {
		return serr.New("PDSNOTES_HTTP_TIMEOUT must be positive")
	}
	if c.Debounce < 0 {
		return serr.New("PDSNOTES_DEBOUNCE must not be negative")
	}
	return nil
}
