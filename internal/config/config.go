package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// History and archive drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFS       = "fs"
	DriverS3       = "s3"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Port     string `mapstructure:"PORT"`

	// ENA account and servers
	ENAUser       string `mapstructure:"ENA_USER"`
	ENAPassword   string `mapstructure:"ENA_PASSWORD"`
	ENACenterName string `mapstructure:"ENA_CENTER_NAME"`
	ENAServer     string `mapstructure:"ENA_SERVER"`
	ENADropboxURL string `mapstructure:"ENA_DROPBOX_URL"`

	// Webin-CLI
	WebinCLIDir  string        `mapstructure:"WEBIN_CLI_DIR"`
	JavaPath     string        `mapstructure:"JAVA_PATH"`
	Proxy        string        `mapstructure:"PROXY"`
	WebinTimeout time.Duration `mapstructure:"WEBIN_TIMEOUT"`
	ProjectsDir  string        `mapstructure:"PROJECTS_DIR"`
	ToolName     string        `mapstructure:"TOOL_NAME"`
	ToolVersion  string        `mapstructure:"TOOL_VERSION"`

	// Submission history
	HistoryDriver string `mapstructure:"HISTORY_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`

	// Archive of artifacts and replies
	ArchiveDriver     string `mapstructure:"ARCHIVE_DRIVER"`
	ArchiveDir        string `mapstructure:"ARCHIVE_DIR"`
	S3Bucket          string `mapstructure:"S3_BUCKET"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle       bool   `mapstructure:"S3_PATH_STYLE"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	// HTTP API
	JWTSigningKey  string        `mapstructure:"JWT_SIGNING_KEY"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENA_SERVER", "TEST")
	v.SetDefault("ENA_DROPBOX_URL", "https://wwwdev.ebi.ac.uk/ena/submit/drop-box/submit/")
	v.SetDefault("WEBIN_CLI_DIR", "ENA_Webin_CLI")
	v.SetDefault("JAVA_PATH", "java")
	v.SetDefault("WEBIN_TIMEOUT", "10m")
	v.SetDefault("PROJECTS_DIR", "projects")
	v.SetDefault("TOOL_NAME", "TypeLoader")
	v.SetDefault("TOOL_VERSION", "dev")
	v.SetDefault("HISTORY_DRIVER", DriverSQLite)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SQLITE_PATH", "typeloader.db")
	v.SetDefault("ARCHIVE_DRIVER", DriverFS)
	v.SetDefault("ARCHIVE_DIR", "archive")
	v.SetDefault("S3_REGION", "eu-west-1")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"ENV", "LOG_LEVEL", "PORT",
		"ENA_USER", "ENA_PASSWORD", "ENA_CENTER_NAME", "ENA_SERVER", "ENA_DROPBOX_URL",
		"WEBIN_CLI_DIR", "JAVA_PATH", "PROXY", "WEBIN_TIMEOUT", "PROJECTS_DIR",
		"TOOL_NAME", "TOOL_VERSION",
		"HISTORY_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "SQLITE_PATH",
		"ARCHIVE_DRIVER", "ARCHIVE_DIR", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT",
		"S3_PATH_STYLE", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
		"JWT_SIGNING_KEY", "REQUEST_TIMEOUT",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UseTestServer reports whether submissions go to the archive's test server.
// Anything but PROD is treated as test.
func (c *Config) UseTestServer() bool {
	return c.ENAServer != "PROD"
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	switch c.HistoryDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when HISTORY_DRIVER is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("HISTORY_DRIVER must be %q, %q or %q, got %q",
			DriverMemory, DriverSQLite, DriverPostgres, c.HistoryDriver)
	}

	switch c.ArchiveDriver {
	case DriverMemory, DriverFS:
	case DriverS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when ARCHIVE_DRIVER is %q", DriverS3)
		}
	default:
		return fmt.Errorf("ARCHIVE_DRIVER must be %q, %q or %q, got %q",
			DriverMemory, DriverFS, DriverS3, c.ArchiveDriver)
	}

	if c.WebinTimeout <= 0 {
		return fmt.Errorf("WEBIN_TIMEOUT must be positive, got %s", c.WebinTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.IsProduction() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required in production")
	}
	return nil
}
