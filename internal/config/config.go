// Package config loads the store configuration.
//
// Config file locations (priority order):
//  1. $ALPHA_CONFIG
//  2. ./alpha.yaml
//
// Environment variables override file values after defaults are applied.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfig = "ALPHA_CONFIG"

	defaultPath       = "./alpha.yaml"
	defaultProvider   = "sqlite"
	defaultSQLitePath = "./alpha.db"
	defaultLogLevel   = "info"
	defaultLogFormat  = "console"
	defaultNamespace  = "alpha"
	defaultBlobDriver = "fs"
	defaultBlobRoot   = "./backups"
	defaultCacheSize  = 1024
	defaultCacheTTL   = 5 * time.Minute
)

type Config struct {
	Provider string   `yaml:"provider"`
	SQLite   SQLite   `yaml:"sqlite"`
	Postgres Postgres `yaml:"postgres"`
	Cache    Cache    `yaml:"cache"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
	Backup   Backup   `yaml:"backup"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Cache configures the record cache, which is off unless Enabled is set.
type Cache struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console|json
}

type Metrics struct {
	Namespace string `yaml:"namespace"`
	Expvar    bool   `yaml:"expvar"`
}

type Backup struct {
	Driver string `yaml:"driver"` // fs|s3|memory
	FSRoot string `yaml:"fs_root"`
	Prefix string `yaml:"prefix"`
	S3     S3     `yaml:"s3"`
}

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the file named by $ALPHA_CONFIG or ./alpha.yaml, then applies
// environment overrides. A missing default file is not an error. It returns
// the path that was read, empty when none was.
func Load() (*Config, string, error) {
	return Resolve(os.Getenv(EnvConfig))
}

// Resolve is Load with an explicit file. An empty path falls back to
// ./alpha.yaml.
func Resolve(path string) (*Config, string, error) {
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}
	cfg, err := LoadFromPath(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		cfg = Default()
		path = ""
	} else if err != nil {
		return nil, path, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromPath parses the YAML file at path and applies defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = defaultProvider
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = defaultSQLitePath
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = defaultCacheSize
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = defaultCacheTTL
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultNamespace
	}
	if c.Backup.Driver == "" {
		c.Backup.Driver = defaultBlobDriver
	}
	if c.Backup.FSRoot == "" {
		c.Backup.FSRoot = defaultBlobRoot
	}
}

// applyEnv overrides file values from ALPHA_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"ALPHA_PROVIDER":                  &c.Provider,
		"ALPHA_SQLITE_PATH":               &c.SQLite.Path,
		"ALPHA_POSTGRES_DSN":              &c.Postgres.DSN,
		"ALPHA_LOG_LEVEL":                 &c.Log.Level,
		"ALPHA_LOG_FORMAT":                &c.Log.Format,
		"ALPHA_METRICS_NAMESPACE":         &c.Metrics.Namespace,
		"ALPHA_BLOB_DRIVER":               &c.Backup.Driver,
		"ALPHA_BLOB_FS_ROOT":              &c.Backup.FSRoot,
		"ALPHA_BLOB_PREFIX":               &c.Backup.Prefix,
		"ALPHA_BLOB_S3_BUCKET":            &c.Backup.S3.Bucket,
		"ALPHA_BLOB_S3_REGION":            &c.Backup.S3.Region,
		"ALPHA_BLOB_S3_ENDPOINT":          &c.Backup.S3.Endpoint,
		"ALPHA_BLOB_S3_ACCESS_KEY_ID":     &c.Backup.S3.AccessKeyID,
		"ALPHA_BLOB_S3_SECRET_ACCESS_KEY": &c.Backup.S3.SecretAccessKey,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	flags := map[string]*bool{
		"ALPHA_CACHE_ENABLED":      &c.Cache.Enabled,
		"ALPHA_METRICS_EXPVAR":     &c.Metrics.Expvar,
		"ALPHA_BLOB_S3_PATH_STYLE": &c.Backup.S3.PathStyle,
	}
	for name, dst := range flags {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}
	if v, ok := lookup("ALPHA_CACHE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ALPHA_CACHE_SIZE: %w", err)
		}
		c.Cache.Size = n
	}
	if v, ok := lookup("ALPHA_CACHE_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ALPHA_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = d
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
