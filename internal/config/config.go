// Package config loads the tool configuration file. Every field has a
// working default, so running without a configuration file is fully
// supported.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultNamespace        = "cincan"
	DefaultVersionVariable  = "TOOL_VERSION"
	DefaultMetadataFilename = "meta.json"
	DefaultCacheTTL         = 24 * time.Hour
	DefaultTimeout          = 20 * time.Second
	DefaultMaxWorkers       = 8
)

// Config is the root of the configuration file.
type Config struct {
	// Namespace is the registry namespace prepended to bare tool names.
	Namespace string `yaml:"namespace"`
	// VersionVariable is the environment variable holding the tool's
	// self-reported version inside an image config.
	VersionVariable string `yaml:"version_variable"`
	// MetadataFilename is the per-tool descriptor file searched for in an
	// image's last layer.
	MetadataFilename string `yaml:"metadata_filename"`

	Cache CacheConfig `yaml:"cache"`

	// Timeout bounds every outbound call of a single tier or origin.
	Timeout time.Duration `yaml:"timeout"`
	// MaxWorkers bounds how many tools resolve concurrently.
	MaxWorkers int `yaml:"max_workers"`

	// Tokens holds API tokens keyed by provider name. They raise the rate
	// limits of sources that support authentication.
	Tokens map[string]string `yaml:"tokens"`

	// Tools is the default tool list used when none is given on the
	// command line.
	Tools []ToolConfig `yaml:"tools"`
}

type CacheConfig struct {
	// Path of the cache database file.
	Path string `yaml:"path"`
	// TTL bounds the age of cached remote and upstream lookups.
	TTL time.Duration `yaml:"ttl"`
}

type ToolConfig struct {
	Name string `yaml:"name"`
	Tag  string `yaml:"tag"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Namespace:        DefaultNamespace,
		VersionVariable:  DefaultVersionVariable,
		MetadataFilename: DefaultMetadataFilename,
		Cache: CacheConfig{
			Path: defaultCachePath(),
			TTL:  DefaultCacheTTL,
		},
		Timeout:    DefaultTimeout,
		MaxWorkers: DefaultMaxWorkers,
	}
}

// Load reads the configuration file at path and fills unset fields with
// defaults. An empty path loads the default location; a missing file at the
// default location is not an error, a missing explicit file is.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("cannot read configuration file %q: %w", path, err)
	}

	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse configuration file %q: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration file %q: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Namespace == "" {
		c.Namespace = defaults.Namespace
	}
	if c.VersionVariable == "" {
		c.VersionVariable = defaults.VersionVariable
	}
	if c.MetadataFilename == "" {
		c.MetadataFilename = defaults.MetadataFilename
	}
	if c.Cache.Path == "" {
		c.Cache.Path = defaults.Cache.Path
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = defaults.Cache.TTL
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = defaults.MaxWorkers
	}
}

func (c *Config) validate() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	for i, tool := range c.Tools {
		if tool.Name == "" {
			return fmt.Errorf("tools[%d] has no name", i)
		}
	}
	return nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "fleetver.yaml"
	}
	return filepath.Join(dir, "fleetver", "config.yaml")
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "fleetver-cache.db"
	}
	return filepath.Join(dir, "fleetver", "cache.db")
}
