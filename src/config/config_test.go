package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: market-platform-test
port: 7000
network:
  timeout: 5
  retries: 1
  concurrent_requests: 2
websocket:
  db_type: sqlite
  db_path: /tmp/feeds
  batch_size: 10
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewConfig_FileOverDefaults(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "market-platform-test", cfg.Name)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 5, cfg.Network.RequestTimeout)
	assert.Equal(t, 10, cfg.Websocket.BatchSize)
	assert.Equal(t, 1000, cfg.Websocket.QueueSize)
	assert.Equal(t, "/api/v1", cfg.System.API.Prefix)
	assert.Equal(t, "snappy", cfg.Websocket.Export.Compression)
}

func TestNewConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)
	assert.Equal(t, "market-platform", cfg.Name)
	assert.Equal(t, 6900, cfg.Port)
	assert.Equal(t, 8, cfg.Runtime.SyncWorkers)
}

func TestNewConfig_EnvOverride(t *testing.T) {
	t.Setenv("MARKET_PLATFORM_PORT", "7100")
	t.Setenv("MARKET_PLATFORM_WEBSOCKET_BATCH_SIZE", "25")

	cfg, err := NewConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Port)
	assert.Equal(t, 25, cfg.Websocket.BatchSize)
}

func TestLoad_ExplicitOverrideWins(t *testing.T) {
	t.Setenv("MARKET_PLATFORM_PORT", "7100")
	v := viper.New()
	v.Set("port", 7200)

	cfg, err := Load(writeConfig(t, sampleYAML), v)
	require.NoError(t, err)
	assert.Equal(t, 7200, cfg.Port)
}

func TestNewConfig_Errors(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = NewConfig(writeConfig(t, "port: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = NewConfig(writeConfig(t, "port: 80\n"))
	assert.ErrorContains(t, err, "invalid server port number")
}

func TestValidate(t *testing.T) {
	base, err := NewConfig("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		msg    string
	}{
		{"auth without tokens", func(c *Config) { c.System.API.Auth.Enabled = true }, "no tokens"},
		{"unknown sink", func(c *Config) { c.Websocket.DBType = "mysql" }, "unsupported websocket db type"},
		{"postgres without dsn", func(c *Config) { c.Websocket.DBType = "postgres" }, "connection string"},
		{"bad compression", func(c *Config) { c.Websocket.Export.Compression = "zstd" }, "compression"},
		{"no workers", func(c *Config) { c.Runtime.SyncWorkers = 0 }, "sync workers"},
		{"blank header", func(c *Config) { c.System.API.CustomHeaders = []string{" "} }, "custom header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := *base.MConfig
			c := &Config{MConfig: &m}
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.msg)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(out))

	again, err := NewConfig(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.Name, again.Name)
	assert.Equal(t, cfg.Port, again.Port)
	assert.Equal(t, cfg.Network.RequestTimeout, again.Network.RequestTimeout)
	assert.Equal(t, cfg.Websocket.DBPath, again.Websocket.DBPath)
	assert.Equal(t, cfg.System.UserSettingsPath, again.System.UserSettingsPath)
}
