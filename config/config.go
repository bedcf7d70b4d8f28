// Package config loads the capture server configuration from a YAML file.
//
// Configuration is optional: every field has a default and a missing file
// yields the default configuration. The file path is passed in by the caller
// (the CLI --config flag); an empty path falls back to the CAPTURE_CONFIG
// environment variable, then to config.yaml in the working directory.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8765
	DefaultCapturesDir = "captures"

	DefaultQueueSize       = 256
	DefaultWriterWorkers   = 2
	DefaultDrainTimeoutSec = 5

	DefaultStatsIntervalSec   = 5
	DefaultMaxClients         = 32
	DefaultShutdownTimeoutSec = 10

	DefaultRedisChannel = "capture:stats"

	DefaultMinFrames      = 30
	DefaultSoftGapSec     = 0.5
	DefaultHardGapSec     = 2.0
	DefaultMinDurationSec = 3.0
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "CAPTURE_CONFIG"

// defaultConfigFile is used when EnvConfigPath is not set.
const defaultConfigFile = "config.yaml"

// Config is the root configuration for the capture server process.
type Config struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	CapturesDir string `json:"captures_dir" yaml:"captures_dir"`

	Writer     WriterConfig     `json:"writer" yaml:"writer"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Validation ValidationConfig `json:"validation" yaml:"validation"`
}

// WriterConfig tunes the asynchronous disk writer pool.
type WriterConfig struct {
	QueueSize       int `json:"queue_size" yaml:"queue_size"`
	Workers         int `json:"workers" yaml:"workers"`
	DrainTimeoutSec int `json:"drain_timeout_sec" yaml:"drain_timeout_sec"`
}

// ServerConfig tunes the WebSocket server behavior.
type ServerConfig struct {
	StatsIntervalSec   int `json:"stats_interval_sec" yaml:"stats_interval_sec"`
	MaxClients         int `json:"max_clients" yaml:"max_clients"`
	ShutdownTimeoutSec int `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// MetricsConfig controls the Prometheus exporter. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// RedisConfig controls the Redis stats publisher. An empty Addr disables it.
type RedisConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Channel string `json:"channel" yaml:"channel"`
}

// ValidationConfig carries the capture-quality thresholds.
type ValidationConfig struct {
	MinFrames      int     `json:"min_frames" yaml:"min_frames"`
	SoftGapSec     float64 `json:"soft_gap_sec" yaml:"soft_gap_sec"`
	HardGapSec     float64 `json:"hard_gap_sec" yaml:"hard_gap_sec"`
	MinDurationSec float64 `json:"min_duration_sec" yaml:"min_duration_sec"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Host:        DefaultHost,
		Port:        DefaultPort,
		CapturesDir: DefaultCapturesDir,
		Writer: WriterConfig{
			QueueSize:       DefaultQueueSize,
			Workers:         DefaultWriterWorkers,
			DrainTimeoutSec: DefaultDrainTimeoutSec,
		},
		Server: ServerConfig{
			StatsIntervalSec:   DefaultStatsIntervalSec,
			MaxClients:         DefaultMaxClients,
			ShutdownTimeoutSec: DefaultShutdownTimeoutSec,
		},
		Redis: RedisConfig{
			Channel: DefaultRedisChannel,
		},
		Validation: ValidationConfig{
			MinFrames:      DefaultMinFrames,
			SoftGapSec:     DefaultSoftGapSec,
			HardGapSec:     DefaultHardGapSec,
			MinDurationSec: DefaultMinDurationSec,
		},
	}
}

// Load reads the configuration file at path. An empty path falls back to the
// CAPTURE_CONFIG environment variable, then to config.yaml. A missing file is
// not an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = defaultConfigFile
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal over the defaults so absent keys keep their default values.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.CapturesDir == "" {
		return fmt.Errorf("config: captures_dir must not be empty")
	}
	if c.Writer.QueueSize <= 0 {
		return fmt.Errorf("config: writer queue_size must be positive, got %d", c.Writer.QueueSize)
	}
	if c.Writer.Workers <= 0 {
		return fmt.Errorf("config: writer workers must be positive, got %d", c.Writer.Workers)
	}
	if c.Writer.DrainTimeoutSec <= 0 {
		return fmt.Errorf("config: writer drain_timeout_sec must be positive, got %d", c.Writer.DrainTimeoutSec)
	}
	if c.Server.StatsIntervalSec <= 0 {
		return fmt.Errorf("config: server stats_interval_sec must be positive, got %d", c.Server.StatsIntervalSec)
	}
	if c.Server.MaxClients <= 0 {
		return fmt.Errorf("config: server max_clients must be positive, got %d", c.Server.MaxClients)
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		return fmt.Errorf("config: server shutdown_timeout_sec must be positive, got %d", c.Server.ShutdownTimeoutSec)
	}
	if c.Validation.SoftGapSec <= 0 || c.Validation.HardGapSec <= 0 {
		return fmt.Errorf("config: validation gap thresholds must be positive")
	}
	if c.Validation.HardGapSec < c.Validation.SoftGapSec {
		return fmt.Errorf("config: validation hard_gap_sec %.2f below soft_gap_sec %.2f",
			c.Validation.HardGapSec, c.Validation.SoftGapSec)
	}
	return nil
}

// DrainTimeout returns the writer drain window as a time.Duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Writer.DrainTimeoutSec) * time.Second
}

// StatsInterval returns the stats reporter period as a time.Duration.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Server.StatsIntervalSec) * time.Second
}

// ShutdownTimeout returns the graceful shutdown window as a time.Duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
