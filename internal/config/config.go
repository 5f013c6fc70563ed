// Package config provides the configuration of the archive command.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "LOADTRAIL_"

// Storage types.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Warehouse drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the configuration of an archive invocation.
type Config struct {
	// Flavor selects the log grammar: query or protocol
	Flavor string `json:"flavor" yaml:"flavor"`

	// DataDir is the base directory for local state (sqlite warehouse, local staging)
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Concurrency bounds how many files are archived at once
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// BatchSize is the number of rows per insert flush
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Warehouse configuration
	Warehouse WarehouseConfig `json:"warehouse" yaml:"warehouse"`

	// Staging area configuration
	Staging StagingConfig `json:"staging" yaml:"staging"`
}

// WarehouseConfig holds the destination database configuration.
type WarehouseConfig struct {
	// Driver is the warehouse driver: sqlite, postgres
	Driver string `json:"driver" yaml:"driver"`

	// Path is the database file (sqlite)
	Path string `json:"path" yaml:"path"`

	// DSN overrides the connection fields below when set (postgres)
	DSN string `json:"dsn" yaml:"dsn"`

	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`

	// MaxOpenConns caps the connection pool (0 picks a per-driver default)
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`
}

// StagingConfig holds staging area configuration.
type StagingConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local staging directory (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every staged object name
	Prefix string `json:"prefix" yaml:"prefix"`

	// Codec compresses staged files: gzip, snappy, zstd
	Codec string `json:"codec" yaml:"codec"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 staging configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO, LocalStack)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// MaxRetries bounds transport retries of a single request
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		Flavor:      "query",
		DataDir:     "./data/loadtrail",
		Concurrency: 1,
		BatchSize:   1000,
		Warehouse: WarehouseConfig{
			Driver:  DriverSQLite,
			Port:    5432,
			SSLMode: "disable",
		},
		Staging: StagingConfig{
			Type:   StorageLocal,
			Prefix: "runs",
			Codec:  "gzip",
			S3: S3Config{
				Region:     "us-east-1",
				MaxRetries: 3,
			},
		},
	}
}

// Resolve fills paths left empty from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/loadtrail"
	}
	if c.Warehouse.Driver == DriverSQLite && c.Warehouse.Path == "" {
		c.Warehouse.Path = filepath.Join(c.DataDir, "warehouse.db")
	}
	if c.Staging.Type == StorageLocal && c.Staging.Path == "" {
		c.Staging.Path = filepath.Join(c.DataDir, "staging")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Flavor != "query" && c.Flavor != "protocol" {
		return fmt.Errorf("invalid flavor: %s (must be query or protocol)", c.Flavor)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}

	switch c.Warehouse.Driver {
	case DriverSQLite:
		if c.Warehouse.Path == "" {
			return fmt.Errorf("warehouse.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Warehouse.DSN == "" && (c.Warehouse.Host == "" || c.Warehouse.Database == "") {
			return fmt.Errorf("warehouse.dsn or warehouse.host and warehouse.database are required for postgres")
		}
	default:
		return fmt.Errorf("invalid warehouse driver: %s (must be sqlite or postgres)", c.Warehouse.Driver)
	}

	if c.Staging.Type != StorageLocal && c.Staging.Type != StorageS3 {
		return fmt.Errorf("invalid staging type: %s (must be local or s3)", c.Staging.Type)
	}

	if c.Staging.Type == StorageS3 && c.Staging.S3.Bucket == "" {
		return fmt.Errorf("staging.s3.bucket is required when staging type is s3")
	}

	switch c.Staging.Codec {
	case "gzip", "snappy", "zstd":
	default:
		return fmt.Errorf("invalid staging codec: %s (must be gzip, snappy or zstd)", c.Staging.Codec)
	}

	return nil
}

// ConnString returns the connection string for the configured driver. The
// password is included; use Description for logging.
func (w WarehouseConfig) ConnString() string {
	return w.connString(false)
}

// Description returns the connection target with the password masked.
func (w WarehouseConfig) Description() string {
	if w.Driver == DriverSQLite {
		return "sqlite:" + w.Path
	}
	return w.connString(true)
}

func (w WarehouseConfig) connString(masked bool) string {
	if w.Driver == DriverSQLite {
		return w.Path
	}
	if w.DSN != "" {
		if !masked {
			return w.DSN
		}
		if u, err := url.Parse(w.DSN); err == nil && u.User != nil {
			return u.Redacted()
		}
		return "postgres:(dsn)"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(w.Host, strconv.Itoa(w.Port)),
		Path:   "/" + w.Database,
	}
	switch {
	case w.User != "" && w.Password != "" && !masked:
		u.User = url.UserPassword(w.User, w.Password)
	case w.User != "" && w.Password != "":
		u.User = url.UserPassword(w.User, "xxxxx")
	case w.User != "":
		u.User = url.User(w.User)
	}
	if w.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {w.SSLMode}}.Encode()
	}
	return u.String()
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=value files into the process environment without
// overriding variables that are already set. With no paths it reads ./.env
// and a missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// envKeys lists the settings that can be read from the environment.
var envKeys = []string{
	"flavor",
	"data_dir",
	"concurrency",
	"batch_size",
	"warehouse.driver",
	"warehouse.path",
	"warehouse.dsn",
	"warehouse.host",
	"warehouse.port",
	"warehouse.user",
	"warehouse.password",
	"warehouse.database",
	"warehouse.sslmode",
	"warehouse.max_open_conns",
	"staging.type",
	"staging.path",
	"staging.prefix",
	"staging.codec",
	"staging.s3.bucket",
	"staging.s3.region",
	"staging.s3.endpoint",
	"staging.s3.use_path_style",
	"staging.s3.max_retries",
}

// EnvName returns the environment variable read for a setting key, e.g.
// "staging.s3.bucket" → LOADTRAIL_STAGING_S3_BUCKET.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the LOADTRAIL_ prefix.
func LoadFromEnv(cfg *Config) error {
	for _, key := range envKeys {
		v := os.Getenv(EnvName(key))
		if v == "" {
			continue
		}
		if err := cfg.Set(key, v); err != nil {
			return fmt.Errorf("%s: %w", EnvName(key), err)
		}
	}
	return nil
}

// Set assigns one setting by its dotted key, as used on the command line.
func (c *Config) Set(key, value string) error {
	switch strings.ToLower(key) {
	case "flavor":
		c.Flavor = value
	case "data_dir":
		c.DataDir = value
	case "concurrency":
		return setInt(&c.Concurrency, value)
	case "batch_size":
		return setInt(&c.BatchSize, value)
	case "warehouse.driver":
		c.Warehouse.Driver = value
	case "warehouse.path":
		c.Warehouse.Path = value
	case "warehouse.dsn":
		c.Warehouse.DSN = value
	case "warehouse.host":
		c.Warehouse.Host = value
	case "warehouse.port":
		return setInt(&c.Warehouse.Port, value)
	case "warehouse.user":
		c.Warehouse.User = value
	case "warehouse.password":
		c.Warehouse.Password = value
	case "warehouse.database":
		c.Warehouse.Database = value
	case "warehouse.sslmode":
		c.Warehouse.SSLMode = value
	case "warehouse.max_open_conns":
		return setInt(&c.Warehouse.MaxOpenConns, value)
	case "staging.type":
		c.Staging.Type = value
	case "staging.path":
		c.Staging.Path = value
	case "staging.prefix":
		c.Staging.Prefix = value
	case "staging.codec":
		c.Staging.Codec = value
	case "staging.s3.bucket":
		c.Staging.S3.Bucket = value
	case "staging.s3.region":
		c.Staging.S3.Region = value
	case "staging.s3.endpoint":
		c.Staging.S3.Endpoint = value
	case "staging.s3.use_path_style":
		c.Staging.S3.UsePathStyle = value == "true" || value == "1"
	case "staging.s3.max_retries":
		return setInt(&c.Staging.S3.MaxRetries, value)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer %q", value)
	}
	*dst = n
	return nil
}

// EnsureDirectories creates the local directories the configuration uses.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Warehouse.Driver == DriverSQLite {
		dirs = append(dirs, filepath.Dir(c.Warehouse.Path))
	}
	if c.Staging.Type == StorageLocal {
		dirs = append(dirs, c.Staging.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
