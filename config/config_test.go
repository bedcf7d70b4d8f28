package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCapturesDir, cfg.CapturesDir)
	assert.Equal(t, DefaultQueueSize, cfg.Writer.QueueSize)
	assert.Equal(t, DefaultWriterWorkers, cfg.Writer.Workers)
	assert.Equal(t, DefaultStatsIntervalSec, cfg.Server.StatsIntervalSec)
	assert.Equal(t, DefaultMaxClients, cfg.Server.MaxClients)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, DefaultRedisChannel, cfg.Redis.Channel)
	assert.Equal(t, DefaultMinFrames, cfg.Validation.MinFrames)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
host: 127.0.0.1
port: 9000
captures_dir: /data/captures
writer:
  queue_size: 64
  workers: 4
metrics:
  addr: ":9090"
redis:
  addr: localhost:6379
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/data/captures", cfg.CapturesDir)
	assert.Equal(t, 64, cfg.Writer.QueueSize)
	assert.Equal(t, 4, cfg.Writer.Workers)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	// Absent keys keep their defaults.
	assert.Equal(t, DefaultDrainTimeoutSec, cfg.Writer.DrainTimeoutSec)
	assert.Equal(t, DefaultRedisChannel, cfg.Redis.Channel)
	assert.Equal(t, DefaultMinFrames, cfg.Validation.MinFrames)
}

func TestLoad_EnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9100\n"), 0o600))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not a port\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 99999\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "negative port",
			mutate: func(c *Config) { c.Port = -1 },
			errMsg: "invalid port",
		},
		{
			name:   "empty captures dir",
			mutate: func(c *Config) { c.CapturesDir = "" },
			errMsg: "captures_dir",
		},
		{
			name:   "zero queue size",
			mutate: func(c *Config) { c.Writer.QueueSize = 0 },
			errMsg: "queue_size",
		},
		{
			name:   "zero workers",
			mutate: func(c *Config) { c.Writer.Workers = 0 },
			errMsg: "workers",
		},
		{
			name:   "zero drain timeout",
			mutate: func(c *Config) { c.Writer.DrainTimeoutSec = 0 },
			errMsg: "drain_timeout_sec",
		},
		{
			name:   "zero stats interval",
			mutate: func(c *Config) { c.Server.StatsIntervalSec = 0 },
			errMsg: "stats_interval_sec",
		},
		{
			name:   "zero max clients",
			mutate: func(c *Config) { c.Server.MaxClients = 0 },
			errMsg: "max_clients",
		},
		{
			name:   "hard gap below soft gap",
			mutate: func(c *Config) { c.Validation.HardGapSec = 0.1 },
			errMsg: "hard_gap_sec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Duration(DefaultDrainTimeoutSec)*time.Second, cfg.DrainTimeout())
	assert.Equal(t, time.Duration(DefaultStatsIntervalSec)*time.Second, cfg.StatsInterval())
	assert.Equal(t, time.Duration(DefaultShutdownTimeoutSec)*time.Second, cfg.ShutdownTimeout())
}
