package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional ferry configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Storage  StorageConfig  `toml:"storage"`
	Blob     BlobConfig     `toml:"blob"`
}

// DefaultsConfig holds persistent flag defaults. Nil means "not set".
type DefaultsConfig struct {
	Concurrency     *int     `toml:"concurrency"`
	ListConcurrency *int     `toml:"list_concurrency"`
	Update          *bool    `toml:"update"`
	Continue        *bool    `toml:"continue"`
	Glob            *bool    `toml:"glob"`
	Verify          *bool    `toml:"verify"`
	BWLimit         *string  `toml:"bwlimit"`
	IgnoreFiles     []string `toml:"ignore_files"`
	Exclude         []string `toml:"exclude"`
}

// StorageConfig configures the storage: (SFTP) scheme.
type StorageConfig struct {
	Host    string `toml:"host"`
	User    string `toml:"user"`
	Port    int    `toml:"port"`
	KeyFile string `toml:"key_file"`
	// Home is the remote directory that relative storage: paths resolve
	// against. Empty means the server's login directory.
	Home string `toml:"home"`
}

// BlobConfig configures the blob: (S3) scheme.
type BlobConfig struct {
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
	Profile   string `toml:"profile"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ferry", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads a config file from an explicit path. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if n := c.Defaults.Concurrency; n != nil && *n < 1 {
		return fmt.Errorf("defaults.concurrency must be at least 1, got %d", *n)
	}
	if n := c.Defaults.ListConcurrency; n != nil && *n < 1 {
		return fmt.Errorf("defaults.list_concurrency must be at least 1, got %d", *n)
	}
	if c.Storage.Port < 0 || c.Storage.Port > 65535 {
		return fmt.Errorf("storage.port out of range: %d", c.Storage.Port)
	}
	return nil
}
