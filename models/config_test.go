package models_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pdsnotes/models"
)

// clearConfigEnv blanks every PDSNOTES_* variable for the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PDSNOTES_CONFIG", "PDSNOTES_PDS_URL", "PDSNOTES_CACHE_DRIVER", "PDSNOTES_CACHE_PATH",
		"PDSNOTES_LOG_LEVEL", "PDSNOTES_HTTP_TIMEOUT", "PDSNOTES_SESSION_KEY",
		"PDSNOTES_DEBOUNCE", "PDSNOTES_SERVE_ADDR",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := models.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.PDSURL != models.DefaultPDSURL || cfg.CacheDriver != "duckdb" || cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "pdsnotes.yaml")
	yaml := "pds_url: https://pds.example.com\ncache_driver: sqlite\ndebounce: 2s\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PDSNOTES_CONFIG", path)
	t.Setenv("PDSNOTES_PDS_URL", "http://localhost:8000")

	cfg, err := models.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.PDSURL != "http://localhost:8000" {
		t.Errorf("environment should override file, got %q", cfg.PDSURL)
	}
	if cfg.CacheDriver != "sqlite" || cfg.Debounce != 2*time.Second || cfg.LogLevel != "debug" {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PDSNOTES_HTTP_TIMEOUT", "soon")
	if _, err := models.LoadConfig(); err == nil {
		t.Error("expected invalid duration to fail")
	}

	clearConfigEnv(t)
	t.Setenv("PDSNOTES_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := models.LoadConfig(); err == nil {
		t.Error("expected missing config file to fail")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*models.Config)
	}{
		{"empty url", func(c *models.Config) { c.PDSURL = "" }},
		{"bad driver", func(c *models.Config) { c.CacheDriver = "postgres" }},
		{"zero timeout", func(c *models.Config) { c.HTTPTimeout = 0 }},
		{"negative debounce", func(c *models.Config) { c.Debounce = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := models.DefaultConfig()
			tc.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
