package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sentinel-backbone", cfg.App.Name)
	assert.Equal(t, "rpc", cfg.Chain.Mode)
	assert.Equal(t, 3, cfg.Chain.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Chain.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 64, cfg.Hub.QueueSize)
	assert.Equal(t, uint64(1024), cfg.Verifier.MaxScan)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
app:
  name: test-backbone
chain:
  mode: memory
hub:
  queue_size: 128
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-backbone", cfg.App.Name)
	assert.Equal(t, "memory", cfg.Chain.Mode)
	assert.Equal(t, 128, cfg.Hub.QueueSize)
	assert.Equal(t, 9090, cfg.Server.Port)
	// defaults still fill unset sections
	assert.Equal(t, "sqlite", cfg.Storage.Type)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_NODE_URL", "http://chain.internal:8899")
	t.Setenv("SENTINEL_DATABASE_URL", "postgres://backbone@db.internal/events")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://chain.internal:8899", cfg.Chain.NodeURL)
	assert.Equal(t, "postgres://backbone@db.internal/events", cfg.Storage.ConnectionString)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty node url in rpc mode", func(c *Config) { c.Chain.NodeURL = "" }},
		{"unknown chain mode", func(c *Config) { c.Chain.Mode = "dryrun" }},
		{"zero hub queue", func(c *Config) { c.Hub.QueueSize = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"empty storage connection", func(c *Config) { c.Storage.ConnectionString = "" }},
		{"alerts enabled without url", func(c *Config) { c.Alerts.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := *cfg
			tt.mutate(&bad)
			assert.Error(t, bad.Validate())
		})
	}
}
