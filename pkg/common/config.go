package common

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigEnvVar names the environment variable holding a config file path.
const ConfigEnvVar = "ROMDISC_CONFIG"

// Config holds user settings for the disc tools.
type Config struct {
	Verbose        bool   `yaml:"verbose"`
	LogFormat      string `yaml:"log_format"`       // "text" or "json"
	UseMmap        bool   `yaml:"use_mmap"`         // Memory-map image files instead of reading them
	BlockCacheSize int    `yaml:"block_cache_size"` // Decompressed blocks kept per compressed reader
	PreferTrack    int    `yaml:"prefer_track"`     // GD-ROM data track tried first
	OutputFormat   string `yaml:"output_format"`    // "text" or "yaml"
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		LogFormat:      "text",
		BlockCacheSize: 1,
		PreferTrack:    3,
		OutputFormat:   "text",
	}
}

// LoadConfig reads a YAML config file on top of the defaults. An empty path
// falls back to $ROMDISC_CONFIG, and no path at all yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, FormatError(ErrFailedToLoadConfig, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, FormatError(ErrFailedToLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	LogDebug(InfoConfigLoaded, path)
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.BlockCacheSize < 1 {
		return fmt.Errorf("%s: block_cache_size must be at least 1, got %d", ErrFailedToLoadConfig, c.BlockCacheSize)
	}
	if c.PreferTrack < 1 || c.PreferTrack > 99 {
		return fmt.Errorf("%s: prefer_track must be between 1 and 99, got %d", ErrFailedToLoadConfig, c.PreferTrack)
	}
	switch c.OutputFormat {
	case "text", "yaml":
	default:
		return fmt.Errorf("%s: output_format must be text or yaml, got %q", ErrFailedToLoadConfig, c.OutputFormat)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%s: %s %q, want text or json", ErrFailedToLoadConfig, ErrInvalidLogFormat, c.LogFormat)
	}
	return nil
}

// Apply pushes logging settings into the shared logger.
func (c *Config) Apply() error {
	SetVerboseMode(c.Verbose)
	return SetLogFormat(c.LogFormat)
}
