package models

// Config holds the application configuration
type Config struct {
	Channels            []ChannelConfig     `json:"channels"`
	CheckIntervalSec    int                 `json:"check_interval_sec"`
	SenderType          string              `json:"sender_type"`
	WebhookTargets      []string            `json:"webhook_targets"`
	WebhookOverrides    map[string]string   `json:"webhook_overrides,omitempty"`
	PersonalRelayTarget string              `json:"personal_relay_target,omitempty"`
	Reader              ReaderConfig        `json:"reader"`
	PersonalRelay       PersonalRelayConfig `json:"personal_relay"`
	Kafka               KafkaConfig         `json:"kafka"`
	Database            DatabaseConfig      `json:"database"`
	Retry               RetryConfig         `json:"retry"`
	Server              ServerConfig        `json:"server"`
	Tracing             TracingConfig       `json:"tracing"`
	LogLevel            string              `json:"log_level"`
	Timezone            string              `json:"timezone"`
	RetentionDays       int                 `json:"retention_days"`
	MaxConcurrentPolls  int                 `json:"max_concurrent_polls"`
	GracefulShutdownSec int                 `json:"graceful_shutdown_sec"`
	VerifyOnStart       bool                `json:"verify_on_start"`
}

// ChannelConfig describes one monitored source channel.
type ChannelConfig struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Baseline     string              `json:"baseline"` // skip-backlog (default) or forward-backlog
	Destinations []DestinationConfig `json:"destinations,omitempty"`
}

// DestinationConfig is the raw configuration form of a Destination. When a
// channel declares no destinations, defaults are derived from the top-level
// sender_type and its targets.
type DestinationConfig struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// ReaderConfig holds the reader gateway related configurations
type ReaderConfig struct {
	BaseURL               string   `json:"base_url"`
	APIKey                string   `json:"api_key,omitempty"`
	SessionDataDir        string   `json:"session_data_dir"`
	Proxy                 string   `json:"proxy,omitempty"`
	NoProxy               []string `json:"no_proxy,omitempty"`
	PollTimeoutSec        int      `json:"poll_timeout_sec"`
	PollLimit             int      `json:"poll_limit"`
	SessionWaitTimeoutSec int      `json:"session_wait_timeout_sec"`
}

// PersonalRelayConfig holds the personal contact relay API configurations
type PersonalRelayConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key,omitempty"`
	TimeoutSec int    `json:"timeout_sec"`
}

// KafkaConfig holds the Kafka destination configurations
type KafkaConfig struct {
	Brokers        []string `json:"brokers"`
	BatchTimeoutMs int      `json:"batch_timeout_ms"`
}

// DatabaseConfig holds the watermark store configurations
type DatabaseConfig struct {
	Driver        string `json:"driver"` // sqlite (default), pebble, redis
	Path          string `json:"path"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts"`
	MaxTotalWaitMs   int `json:"max_total_wait_ms"`
}

// ServerConfig holds the status server configurations
type ServerConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// TracingConfig holds OpenTelemetry configurations
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	UseStdout    bool    `json:"use_stdout"`
	OTLPEndpoint string  `json:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate"`
	Environment  string  `json:"environment"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
