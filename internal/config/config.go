// Package config loads pipelinecore configuration from a YAML file with
// environment overrides.
//
// Config file locations (priority order):
//  1. $PIPELINECORE_CONFIG
//  2. ./pipelinecore.yaml
//  3. $XDG_CONFIG_HOME/pipelinecore/config.yaml
//  4. ~/.config/pipelinecore/config.yaml
//  5. /etc/pipelinecore/config.yaml
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pipelinecore/internal/blob"
	"pipelinecore/internal/core"
)

const (
	// EnvConfigPath is the environment variable for an explicit config path.
	EnvConfigPath = "PIPELINECORE_CONFIG"
	// ConfigFileName is the default config file name.
	ConfigFileName = "pipelinecore.yaml"
	// ConfigDirName is the config directory name under XDG.
	ConfigDirName = "pipelinecore"
)

// StorageConfig selects the datastore backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory|sqlite|postgres
	Path   string `yaml:"path"`   // sqlite file path
	DSN    string `yaml:"dsn"`    // postgres DSN
}

// S3Config configures the S3 artifact backend.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"pathStyle"`
}

// ArtifactsConfig selects the artifact store backend.
type ArtifactsConfig struct {
	Driver string   `yaml:"driver"` // fs|s3|memory
	Root   string   `yaml:"root"`   // fs root directory
	S3     S3Config `yaml:"s3"`
}

// SealingConfig configures the sealed-field codec.
type SealingConfig struct {
	// PasswordEnv names the environment variable holding the sealing
	// password. The password itself never lives in the config file.
	PasswordEnv string `yaml:"passwordEnv"`
}

// Config is the root configuration document.
type Config struct {
	Version   int             `yaml:"version"`
	Storage   StorageConfig   `yaml:"storage"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Sealing   SealingConfig   `yaml:"sealing"`
}

// DefaultConfig returns sensible defaults for a new installation.
func DefaultConfig() *Config {
	return &Config{
		Version:   1,
		Storage:   StorageConfig{Driver: "sqlite", Path: "./pipelinecore.db"},
		Artifacts: ArtifactsConfig{Driver: "fs", Root: "./artifacts"},
		Sealing:   SealingConfig{PasswordEnv: "PIPELINECORE_SEAL_PASSWORD"},
	}
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "./pipelinecore.db"
	}
	if c.Artifacts.Driver == "" {
		c.Artifacts.Driver = "fs"
	}
	if c.Artifacts.Driver == "fs" && c.Artifacts.Root == "" {
		c.Artifacts.Root = "./artifacts"
	}
	if c.Sealing.PasswordEnv == "" {
		c.Sealing.PasswordEnv = "PIPELINECORE_SEAL_PASSWORD"
	}
}

// Load finds and loads the config file, or returns defaults if none found.
// The second return value is the path the config was loaded from, empty when
// defaults were used.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, path, nil
}

// Save writes config to the specified path.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// FindConfigPath searches the documented locations in priority order and
// returns empty string if no config file is found.
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" && fileExists(path) {
		return path
	}
	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		path := filepath.Join(xdgHome, ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}
	if home := os.Getenv("HOME"); home != "" {
		path := filepath.Join(home, ".config", ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}
	systemPath := filepath.Join("/etc", ConfigDirName, "config.yaml")
	if fileExists(systemPath) {
		return systemPath
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// StorageOptions maps the storage section onto datastore open options.
func (c *Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{Driver: c.Storage.Driver, Path: c.Storage.Path, DSN: c.Storage.DSN}
}

// OpenArtifacts opens the configured artifact store.
func (c *Config) OpenArtifacts(ctx context.Context) (blob.Store, error) {
	switch blob.Driver(c.Artifacts.Driver) {
	case blob.DriverFilesystem:
		return blob.NewFilesystem(c.Artifacts.Root)
	case blob.DriverS3:
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:    c.Artifacts.S3.Bucket,
			Region:    c.Artifacts.S3.Region,
			Endpoint:  c.Artifacts.S3.Endpoint,
			PathStyle: c.Artifacts.S3.PathStyle,
		})
	case blob.DriverMemory:
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown artifact driver %s", c.Artifacts.Driver)
	}
}

// SealingPassword resolves the sealing password from the configured
// environment variable. Empty when unset.
func (c *Config) SealingPassword() string {
	return os.Getenv(c.Sealing.PasswordEnv)
}
