// Package config reads and writes the datec TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultMaxAvatarBytes = 2 << 20
	DefaultMaxHeaderBytes = 5 << 20
	DefaultMaxFileBytes   = 1 << 30
	DefaultMaxFiles       = 10
	DefaultTaskTimeout    = 30 * time.Second
)

// Config represents the main configuration for datec.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level,omitempty"` // debug, info, warn or error
	Database   DatabaseConfig   `toml:"database"`
	Blob       BlobConfig       `toml:"blob"`
	Encryption EncryptionConfig `toml:"encryption"`
	Graph      GraphConfig      `toml:"graph"`
	Ephemeral  EphemeralConfig  `toml:"ephemeral"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Limits     LimitsConfig     `toml:"limits"`
	Background BackgroundConfig `toml:"background"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// BlobConfig represents configuration for the blob store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobConfig struct {
	Type    string `toml:"type"` // "memory", "filesystem" or "s3"
	Encrypt bool   `toml:"encrypt"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible services
}

// EncryptionConfig holds paths to the age key pair used for blob encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// GraphConfig represents configuration for the relationship graph.
type GraphConfig struct {
	Type string `toml:"type"`          // "badger" or "memory"
	Dir  string `toml:"dir,omitempty"` // only used for type=badger
}

// EphemeralConfig represents configuration for counters and notification queues.
type EphemeralConfig struct {
	Type       string `toml:"type"`                  // "memory" or "nats"
	URL        string `toml:"url,omitempty"`         // only used for type=nats
	Bucket     string `toml:"bucket,omitempty"`      // only used for type=nats
	ReplicaURL string `toml:"replica_url,omitempty"` // optional read replica for counters
}

// MetricsConfig controls the prometheus textfile written on shutdown.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path,omitempty"`
}

// LimitsConfig holds upload ceilings. Zero values take the defaults.
type LimitsConfig struct {
	MaxAvatarBytes int64 `toml:"max_avatar_bytes"`
	MaxHeaderBytes int64 `toml:"max_header_bytes"`
	MaxFileBytes   int64 `toml:"max_file_bytes"`
	MaxFiles       int   `toml:"max_files"`
}

// BackgroundConfig bounds best-effort background work.
type BackgroundConfig struct {
	Timeout string `toml:"timeout,omitempty"` // a time.ParseDuration string, defaults to 30s
}

// TaskTimeout returns the parsed timeout, or DefaultTaskTimeout if unset.
func (c BackgroundConfig) TaskTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return DefaultTaskTimeout, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid background timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("background timeout must be positive, got %s", d)
	}
	return d, nil
}

// WithDefaults returns a copy of c with zero limits replaced by defaults.
func (c LimitsConfig) WithDefaults() LimitsConfig {
	if c.MaxAvatarBytes <= 0 {
		c.MaxAvatarBytes = DefaultMaxAvatarBytes
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = DefaultMaxFileBytes
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = DefaultMaxFiles
	}
	return c
}

// NewConfig creates a Config that keeps everything under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Blob:     BlobConfig{Type: "filesystem", Root: filepath.Join(baseDir, "blobs")},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "datec.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "datec.key"),
		},
		Graph:     GraphConfig{Type: "badger", Dir: filepath.Join(baseDir, "graph")},
		Ephemeral: EphemeralConfig{Type: "memory"},
		Metrics:   MetricsConfig{TextfilePath: filepath.Join(baseDir, "metrics", "datec.prom")},
		Limits:    LimitsConfig{}.WithDefaults(),
	}
}

// Validate checks that every tagged union carries the fields its type needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Type {
	case "memory":
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database: data_dir required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database: unknown type %q", c.Database.Type))
	}

	switch c.Blob.Type {
	case "memory":
	case "filesystem":
		if c.Blob.Root == "" {
			errs = append(errs, errors.New("blob: root required for filesystem"))
		}
	case "s3":
		if c.Blob.S3Bucket == "" {
			errs = append(errs, errors.New("blob: s3_bucket required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob: unknown type %q", c.Blob.Type))
	}

	if c.Blob.Encrypt {
		switch c.Encryption.Type {
		case "", "age":
			if c.Encryption.PublicKeyPath == "" || c.Encryption.PrivateKeyPath == "" {
				errs = append(errs, errors.New("encryption: key paths required for age"))
			}
		case "test":
		default:
			errs = append(errs, fmt.Errorf("encryption: unknown type %q", c.Encryption.Type))
		}
	}

	switch c.Graph.Type {
	case "memory":
	case "badger":
		if c.Graph.Dir == "" {
			errs = append(errs, errors.New("graph: dir required for badger"))
		}
	default:
		errs = append(errs, fmt.Errorf("graph: unknown type %q", c.Graph.Type))
	}

	switch c.Ephemeral.Type {
	case "memory":
	case "nats":
		if c.Ephemeral.URL == "" {
			errs = append(errs, errors.New("ephemeral: url required for nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("ephemeral: unknown type %q", c.Ephemeral.Type))
	}

	if _, err := c.Background.TaskTimeout(); err != nil {
		errs = append(errs, err)
	}

	if c.LogLevel != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
