// Package config loads synopsis configuration from defaults, an optional
// YAML file and SYNOPSIS_ prefixed environment variables, in increasing
// order of precedence. Nested keys use underscores in the environment:
//
//	SYNOPSIS_STORAGE_DRIVER=sqlite
//	SYNOPSIS_STORAGE_SQLITE_PATH=/var/lib/synopsis/synopsis.db
//	SYNOPSIS_BLOB_S3_BUCKET=synopsis-backups
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"synopsis/internal/blob"
	"synopsis/pkg/domain"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "SYNOPSIS"

// Config is the root configuration structure.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StorageConfig selects the inventory backend.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres, bolt.
	Driver string `mapstructure:"driver"`

	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	BoltPath    string `mapstructure:"bolt_path"`

	// HostDeletePolicy is one of retain, nullify, cascade, restrict.
	HostDeletePolicy string `mapstructure:"host_delete_policy"`
}

// BlobConfig selects where backups are written.
type BlobConfig struct {
	Driver string        `mapstructure:"driver"`
	FSRoot string        `mapstructure:"fs_root"`
	Prefix string        `mapstructure:"prefix"`
	S3     blob.S3Config `mapstructure:"s3"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`
	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`

	// Listen, when set, serves /metrics on this address for long-running commands.
	Listen string `mapstructure:"listen"`
}

// Load reads configuration from cfgFile and the environment. An empty
// cfgFile searches for synopsis.yaml in the working directory and
// /etc/synopsis; a missing file falls back to defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("synopsis")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/synopsis")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "synopsis.db")
	v.SetDefault("storage.postgres_dsn", "postgres://localhost/synopsis?sslmode=disable")
	v.SetDefault("storage.bolt_path", "synopsis.bolt")
	v.SetDefault("storage.host_delete_policy", string(domain.RetainServices))

	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./blobdata")
	v.SetDefault("blob.prefix", "backups/")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.session_token", "")
	v.SetDefault("blob.s3.path_style", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "synopsis")
	v.SetDefault("metrics.listen", "")
}

// Validate rejects unknown drivers and policies.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres", "bolt":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := domain.ParseHostDeletePolicy(c.Storage.HostDeletePolicy); err != nil {
		return err
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// BlobOptions converts the blob section into a blob.Config.
func (c *Config) BlobOptions() blob.Config {
	return blob.Config{Driver: blob.Driver(c.Blob.Driver), FSRoot: c.Blob.FSRoot, S3: c.Blob.S3}
}
