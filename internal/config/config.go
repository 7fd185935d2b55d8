// Package config loads and validates the application configuration from a
// YAML file, with CLI flag overrides applied by the caller.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdhollis/mssql-lake-migrate/internal/dataset"
	"github.com/jdhollis/mssql-lake-migrate/internal/dbconfig"
)

// Config is the root configuration.
type Config struct {
	Source    dbconfig.SourceConfig `yaml:"source"`
	Lake      LakeConfig            `yaml:"lake"`
	Watermark WatermarkConfig       `yaml:"watermark"`
	Migration MigrationConfig       `yaml:"migration"`
	Tables    TablesConfig          `yaml:"tables"`
	Logging   LoggingConfig         `yaml:"logging"`
}

// LakeConfig describes the destination data lake.
type LakeConfig struct {
	// Sink selects the storage backend: "local" or "minio".
	Sink string `yaml:"sink"`

	// Root is the base directory for the local sink.
	Root string `yaml:"root"`

	// Layer is the landing layer partition prefix (default: bronze).
	Layer string `yaml:"layer"`

	Minio MinioConfig `yaml:"minio"`
}

// MinioConfig holds object store connection settings for the minio sink.
type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	BasePrefix string `yaml:"base_prefix"`
	UseSSL     bool   `yaml:"use_ssl"`
}

// WatermarkConfig selects and locates the watermark store.
type WatermarkConfig struct {
	// Backend is "file" (append-only ledger) or "sqlite" (indexed).
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// MigrationConfig holds pipeline tuning knobs.
type MigrationConfig struct {
	// Workers bounds how many tables migrate concurrently.
	Workers int `yaml:"workers"`

	// BatchSize caps the number of rows requested per incremental
	// extraction. Full loads are never capped.
	BatchSize int `yaml:"batch_size"`

	// SourceSystem is the static lineage tag stamped on every row.
	SourceSystem string `yaml:"source_system"`

	// QueryTimeout bounds a single extraction query. Zero disables it.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// TablesConfig groups tables by load mode: dimensions are reloaded in full,
// facts move incrementally from the watermark.
type TablesConfig struct {
	FullLoad    []dataset.Table `yaml:"full_load"`
	Incremental []dataset.Table `yaml:"incremental"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Source.ApplyDefaults()

	if c.Lake.Sink == "" {
		c.Lake.Sink = "local"
	}
	if c.Lake.Root == "" {
		c.Lake.Root = "lake"
	}
	if c.Lake.Layer == "" {
		c.Lake.Layer = "bronze"
	}
	if c.Watermark.Backend == "" {
		c.Watermark.Backend = "file"
	}
	if c.Watermark.Path == "" {
		if c.Watermark.Backend == "sqlite" {
			c.Watermark.Path = "migration_watermark.db"
		} else {
			c.Watermark.Path = "migration_watermark.txt"
		}
	}
	if c.Migration.Workers <= 0 {
		c.Migration.Workers = 4
	}
	if c.Migration.BatchSize <= 0 {
		c.Migration.BatchSize = 100000
	}
	if c.Migration.SourceSystem == "" {
		c.Migration.SourceSystem = "legacy_sql_server"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for unusable combinations.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}

	switch c.Lake.Sink {
	case "local":
	case "minio":
		if c.Lake.Minio.Endpoint == "" {
			return fmt.Errorf("lake.minio.endpoint is required for the minio sink")
		}
		if c.Lake.Minio.Bucket == "" {
			return fmt.Errorf("lake.minio.bucket is required for the minio sink")
		}
	default:
		return fmt.Errorf("unsupported lake sink %q", c.Lake.Sink)
	}

	switch c.Watermark.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unsupported watermark backend %q", c.Watermark.Backend)
	}

	if len(c.Tables.FullLoad) == 0 && len(c.Tables.Incremental) == 0 {
		return fmt.Errorf("no tables configured")
	}

	seen := make(map[string]bool)
	for _, t := range append(append([]dataset.Table{}, c.Tables.FullLoad...), c.Tables.Incremental...) {
		if t.Name == "" {
			return fmt.Errorf("table with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("table %s listed more than once", t.Name)
		}
		seen[t.Name] = true
	}
	for _, t := range c.Tables.Incremental {
		if t.ChangeColumn == "" {
			return fmt.Errorf("incremental table %s has no change_column", t.Name)
		}
	}

	return nil
}
