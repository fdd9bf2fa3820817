// Package config provides configuration parsing and validation for Ferry.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// DefaultChunkSize is the per-record chunk size for file streaming.
const DefaultChunkSize = 8192

// DefaultListen is the host's default bind address.
const DefaultListen = ":7878"

// Config represents the complete Ferry configuration.
type Config struct {
	Host  HostConfig  `yaml:"host"`
	Fetch FetchConfig `yaml:"fetch"`
	Log   LogConfig   `yaml:"log"`
}

// HostConfig configures the serving side.
type HostConfig struct {
	// Listen is the TCP bind address, host:port.
	Listen string `yaml:"listen"`

	// AccessKey authorizes peers. Generated at startup when empty.
	AccessKey string `yaml:"access_key"`

	// ChunkSize is the per-record payload size for file streaming.
	ChunkSize int `yaml:"chunk_size"`

	// RateLimit caps streaming throughput per connection, expressed as
	// bytes per second in humanized form ("10MiB", "500KB"). Empty or
	// "0" disables limiting.
	RateLimit string `yaml:"rate_limit"`

	// Manifest is an optional file of newline-separated paths to serve.
	Manifest string `yaml:"manifest"`

	// Files are explicit paths to serve, in addition to the manifest.
	Files []string `yaml:"files"`

	// MetricsListen exposes Prometheus metrics on this address when set.
	MetricsListen string `yaml:"metrics_listen"`
}

// FetchConfig configures the requesting side.
type FetchConfig struct {
	// Target is the host's address, host:port.
	Target string `yaml:"target"`

	// AccessKey is presented to the host after the handshake.
	AccessKey string `yaml:"access_key"`

	// OutputDir receives downloaded files. Defaults to the working
	// directory.
	OutputDir string `yaml:"output_dir"`

	// All downloads every advertised file without prompting.
	All bool `yaml:"all"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			Listen:    DefaultListen,
			ChunkSize: DefaultChunkSize,
		},
		Fetch: FetchConfig{
			OutputDir: ".",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for startup errors.
func (c *Config) Validate() error {
	if c.Host.ChunkSize <= 0 {
		return fmt.Errorf("host.chunk_size must be positive, got %d", c.Host.ChunkSize)
	}

	if c.Host.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Host.Listen); err != nil {
			return fmt.Errorf("host.listen: %w", err)
		}
	}

	if c.Host.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(c.Host.MetricsListen); err != nil {
			return fmt.Errorf("host.metrics_listen: %w", err)
		}
	}

	if c.Fetch.Target != "" {
		if _, _, err := net.SplitHostPort(c.Fetch.Target); err != nil {
			return fmt.Errorf("fetch.target: %w", err)
		}
	}

	if _, err := c.Host.RateBytesPerSecond(); err != nil {
		return err
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// RateBytesPerSecond parses the humanized rate limit. Zero means
// unlimited.
func (h *HostConfig) RateBytesPerSecond() (int64, error) {
	if h.RateLimit == "" || h.RateLimit == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(h.RateLimit)
	if err != nil {
		return 0, fmt.Errorf("host.rate_limit %q: %w", h.RateLimit, err)
	}
	return int64(n), nil
}
