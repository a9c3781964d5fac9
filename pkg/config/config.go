package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSQLitePath is the default SQLite database location.
	DefaultSQLitePath = "./ecatbench.db"

	// DefaultDumpsDir is the default directory holding raw pcapng captures
	// and run metadata emitted by the test-execution process.
	DefaultDumpsDir = "./dumps"

	// DefaultIngestConcurrency is the number of concurrent store writers
	// used while ingesting a run's artifacts.
	DefaultIngestConcurrency = 2
)

// Config is the root configuration for ecatbench.
type Config struct {
	Global   GlobalConfig    `yaml:"global"`
	Database DatabaseConfig  `yaml:"database"`
	Ingest   IngestConfig    `yaml:"ingest"`
	Upload   *S3UploadConfig `yaml:"upload,omitempty"`
	API      *APIConfig      `yaml:"api,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

// IngestConfig contains settings for ingesting run artifacts.
type IngestConfig struct {
	DumpsDir    string `yaml:"dumps_dir"`
	Concurrency int    `yaml:"concurrency,omitempty"`
}

// S3UploadConfig contains S3 settings for archiving raw capture files
// after ingestion.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty"`
	StorageClass    string `yaml:"storage_class,omitempty"`
	ACL             string `yaml:"acl,omitempty"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Postgres.Port == 0 {
			c.Database.Postgres.Port = 5432
		}

		if c.Database.Postgres.SSLMode == "" {
			c.Database.Postgres.SSLMode = "disable"
		}
	}

	if c.Ingest.DumpsDir == "" {
		c.Ingest.DumpsDir = DefaultDumpsDir
	}

	if c.Ingest.Concurrency <= 0 {
		c.Ingest.Concurrency = DefaultIngestConcurrency
	}

	if c.API != nil {
		c.API.applyDefaults()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf(
			"unsupported database driver %q (use \"sqlite\" or \"postgres\")",
			c.Database.Driver,
		)
	}

	if c.Upload != nil && c.Upload.Enabled && c.Upload.Bucket == "" {
		return fmt.Errorf("upload.bucket is required when upload is enabled")
	}

	return nil
}

// ValidateAPI checks the API section of the configuration.
func (c *Config) ValidateAPI() error {
	if c.API == nil {
		return fmt.Errorf("api section is required")
	}

	return c.API.validate()
}
