package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("HISTORY_DRIVER")
	os.Unsetenv("WEBIN_TIMEOUT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.HistoryDriver != DriverSQLite {
		t.Errorf("expected default history driver sqlite, got %s", cfg.HistoryDriver)
	}
	if cfg.WebinTimeout != 10*time.Minute {
		t.Errorf("expected default timeout 10m, got %s", cfg.WebinTimeout)
	}
	if cfg.ToolName != "TypeLoader" {
		t.Errorf("expected default tool name, got %s", cfg.ToolName)
	}
	if !cfg.UseTestServer() {
		t.Error("expected the test server by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ENA_SERVER", "PROD")
	t.Setenv("WEBIN_TIMEOUT", "90s")
	t.Setenv("DB_MAX_CONNS", "4")
	t.Setenv("S3_PATH_STYLE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UseTestServer() {
		t.Error("expected the production server")
	}
	if cfg.WebinTimeout != 90*time.Second {
		t.Errorf("expected 90s, got %s", cfg.WebinTimeout)
	}
	if cfg.DBMaxConns != 4 {
		t.Errorf("expected max conns 4, got %d", cfg.DBMaxConns)
	}
	if !cfg.S3PathStyle {
		t.Error("expected path-style S3")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Env:            "development",
			HistoryDriver:  DriverMemory,
			ArchiveDriver:  DriverMemory,
			WebinTimeout:   time.Minute,
			RequestTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown history driver", func(c *Config) { c.HistoryDriver = "mongo" }, true},
		{"postgres without url", func(c *Config) { c.HistoryDriver = DriverPostgres }, true},
		{"postgres with url", func(c *Config) {
			c.HistoryDriver = DriverPostgres
			c.DatabaseURL = "postgres://localhost/typeloader"
		}, false},
		{"unknown archive driver", func(c *Config) { c.ArchiveDriver = "ftp" }, true},
		{"s3 without bucket", func(c *Config) { c.ArchiveDriver = DriverS3 }, true},
		{"zero timeout", func(c *Config) { c.WebinTimeout = 0 }, true},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }, true},
		{"production without signing key", func(c *Config) { c.Env = "production" }, true},
		{"production with signing key", func(c *Config) {
			c.Env = "production"
			c.JWTSigningKey = "k"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() || !c.IsProduction() {
		t.Error("expected production mode")
	}
}
