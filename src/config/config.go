package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"market-platform/src/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MARKET_PLATFORM_PORT or
// MARKET_PLATFORM_WEBSOCKET_BATCH_SIZE.
const EnvPrefix = "MARKET_PLATFORM"

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// Defaults returns the values used for every key the YAML file leaves out.
func Defaults() map[string]any {
	home, _ := os.UserHomeDir()
	return map[string]any{
		"name":                              "market-platform",
		"host":                              "127.0.0.1",
		"port":                              6900,
		"log_level":                         "info",
		"log_file":                          "",
		"grpc_host":                         "127.0.0.1",
		"grpc_port":                         6901,
		"network.enabled":                   false,
		"network.timeout":                   30,
		"network.retries":                   2,
		"network.concurrent_requests":       8,
		"network.rate_limit_per_second":     0.0,
		"network.user_agent":                "",
		"runtime.sync_workers":              8,
		"runtime.provider_timeout_seconds":  60,
		"runtime.rate_limit_retries":        0,
		"system.user_settings_path":         filepath.Join(home, ".market-platform", "user_settings.json"),
		"system.api.prefix":                 "/api/v1",
		"system.api.auth.enabled":           false,
		"system.charting.enabled":           false,
		"websocket.db_type":                 "sqlite",
		"websocket.db_path":                 filepath.Join(os.TempDir(), "market-platform-feeds"),
		"websocket.db_connection_string":    "",
		"websocket.batch_size":              100,
		"websocket.flush_interval_ms":       1000,
		"websocket.queue_size":              1000,
		"websocket.row_cap":                 100000,
		"websocket.prune_interval_seconds":  60,
		"websocket.connect_timeout_seconds": 10,
		"websocket.reconnect_grace_ms":      1000,
		"websocket.max_reconnects":          5,
		"websocket.max_restarts":            3,
		"websocket.export.dir":              "",
		"websocket.export.interval_seconds": 0,
		"websocket.export.compression":      "snappy",
		"websocket.export.limit":            1000,
		"websocket.export.s3_bucket":        "",
		"websocket.export.s3_region":        "",
		"websocket.export.s3_prefix":        "",
		"websocket.export.s3_endpoint":      "",
	}
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config from a YAML file. An empty path yields the
// defaults. Environment variables override both.
func NewConfig(configPath string) (*Config, error) {
	return Load(configPath, viper.New())
}

// -----------------------------------------------------------------------------

// Load reads configPath into v and decodes the merged view. Flags bound to v
// by the caller take precedence over environment, file and defaults.
func Load(configPath string, v *viper.Viper) (*Config, error) {
	// 1. Optional .env next to the binary; credentials are read from the environment later
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 2. Read the YAML file content
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
		}
		v.SetConfigType("yaml")
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
		}
	}

	// 3. Decode into the models struct
	var modelConfig models.MConfig
	if err := v.Unmarshal(&modelConfig); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 4. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Network.ConcurrentRequests <= 0 {
		return fmt.Errorf("concurrent requests must be greater than 0")
	}
	if c.Network.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}

	if c.Runtime.SyncWorkers <= 0 {
		return fmt.Errorf("sync workers must be greater than 0")
	}
	if c.Runtime.RateLimitRetries < 0 {
		return fmt.Errorf("rate limit retries cannot be negative")
	}

	if c.System.API.Auth.Enabled && len(c.System.API.Auth.Tokens) == 0 {
		return fmt.Errorf("auth is enabled but no tokens are configured")
	}
	for i, h := range c.System.API.CustomHeaders {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("custom header %d cannot be empty", i)
		}
	}

	ws := c.Websocket
	switch ws.DBType {
	case "sqlite":
		if ws.DBPath == "" {
			return fmt.Errorf("websocket db path cannot be empty for sqlite")
		}
	case "postgres":
		if ws.DBConnectionString == "" {
			return fmt.Errorf("websocket db connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported websocket db type: %q", ws.DBType)
	}
	if ws.BatchSize <= 0 || ws.QueueSize <= 0 {
		return fmt.Errorf("websocket batch size and queue size must be greater than 0")
	}
	if ws.FlushIntervalMs <= 0 {
		return fmt.Errorf("websocket flush interval must be greater than 0")
	}
	if ws.RowCap < 0 {
		return fmt.Errorf("websocket row cap cannot be negative")
	}
	switch strings.ToLower(ws.Export.Compression) {
	case "", "none", "snappy", "gzip":
	default:
		return fmt.Errorf("unsupported export compression: %q", ws.Export.Compression)
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
