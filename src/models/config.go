package models

// MConfig Structure
type MConfig struct {
	Name      string           `yaml:"name" mapstructure:"name"`
	Host      string           `yaml:"host" mapstructure:"host"`
	Port      int              `yaml:"port" mapstructure:"port"`
	LogLevel  string           `yaml:"log_level" mapstructure:"log_level"`
	LogFile   string           `yaml:"log_file" mapstructure:"log_file"`
	GrpcHost  string           `yaml:"grpc_host" mapstructure:"grpc_host"`
	GrpcPort  int              `yaml:"grpc_port" mapstructure:"grpc_port"`
	Network   MNetworkConfig   `yaml:"network" mapstructure:"network"`
	Runtime   MRuntimeConfig   `yaml:"runtime" mapstructure:"runtime"`
	System    MSystemConfig    `yaml:"system" mapstructure:"system"`
	Websocket MWebsocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

type MNetworkConfig struct {
	Enabled            bool     `yaml:"enabled" mapstructure:"enabled"`
	Proxies            []string `yaml:"proxies" mapstructure:"proxies"`
	RequestTimeout     int      `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries         int      `yaml:"retries" mapstructure:"retries"`
	ConcurrentRequests int      `yaml:"concurrent_requests" mapstructure:"concurrent_requests"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second" mapstructure:"rate_limit_per_second"`
	UserAgent          string   `yaml:"user_agent" mapstructure:"user_agent"`
}

type MRuntimeConfig struct {
	SyncWorkers            int `yaml:"sync_workers" mapstructure:"sync_workers"`
	ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds" mapstructure:"provider_timeout_seconds"`
	RateLimitRetries       int `yaml:"rate_limit_retries" mapstructure:"rate_limit_retries"`
}

type MSystemConfig struct {
	UserSettingsPath string          `yaml:"user_settings_path" mapstructure:"user_settings_path"`
	API              MAPIConfig      `yaml:"api" mapstructure:"api"`
	Charting         MChartingConfig `yaml:"charting" mapstructure:"charting"`
}

type MAPIConfig struct {
	Prefix        string      `yaml:"prefix" mapstructure:"prefix"`
	Auth          MAuthConfig `yaml:"auth" mapstructure:"auth"`
	CustomHeaders []string    `yaml:"custom_headers" mapstructure:"custom_headers"`
}

type MAuthConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Tokens  []string `yaml:"tokens" mapstructure:"tokens"`
}

type MChartingConfig struct {
	Enabled    bool     `yaml:"enabled" mapstructure:"enabled"`
	ChartPaths []string `yaml:"chart_paths" mapstructure:"chart_paths"`
}

type MWebsocketConfig struct {
	DBType                string        `yaml:"db_type" mapstructure:"db_type"`
	DBPath                string        `yaml:"db_path" mapstructure:"db_path"`
	DBConnectionString    string        `yaml:"db_connection_string" mapstructure:"db_connection_string"`
	BatchSize             int           `yaml:"batch_size" mapstructure:"batch_size"`
	FlushIntervalMs       int           `yaml:"flush_interval_ms" mapstructure:"flush_interval_ms"`
	QueueSize             int           `yaml:"queue_size" mapstructure:"queue_size"`
	RowCap                int           `yaml:"row_cap" mapstructure:"row_cap"`
	PruneIntervalSeconds  int           `yaml:"prune_interval_seconds" mapstructure:"prune_interval_seconds"`
	ConnectTimeoutSeconds int           `yaml:"connect_timeout_seconds" mapstructure:"connect_timeout_seconds"`
	ReconnectGraceMs      int           `yaml:"reconnect_grace_ms" mapstructure:"reconnect_grace_ms"`
	MaxReconnects         int           `yaml:"max_reconnects" mapstructure:"max_reconnects"`
	MaxRestarts           int           `yaml:"max_restarts" mapstructure:"max_restarts"`
	WorkerCommand         []string      `yaml:"worker_command" mapstructure:"worker_command"`
	WorkerEnv             []string      `yaml:"worker_env" mapstructure:"worker_env"`
	Export                MExportConfig `yaml:"export" mapstructure:"export"`
}

type MExportConfig struct {
	Dir             string `yaml:"dir" mapstructure:"dir"`
	IntervalSeconds int    `yaml:"interval_seconds" mapstructure:"interval_seconds"`
	Compression     string `yaml:"compression" mapstructure:"compression"`
	Limit           int    `yaml:"limit" mapstructure:"limit"`
	S3Bucket        string `yaml:"s3_bucket" mapstructure:"s3_bucket"`
	S3Region        string `yaml:"s3_region" mapstructure:"s3_region"`
	S3Prefix        string `yaml:"s3_prefix" mapstructure:"s3_prefix"`
	S3Endpoint      string `yaml:"s3_endpoint" mapstructure:"s3_endpoint"`
}
