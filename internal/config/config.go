package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	CallBridge CallBridgeConfig `mapstructure:"call_bridge"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	VoiceEngine VoiceEngineConfig `mapstructure:"voice_engine"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthQuery     string        `mapstructure:"health_query"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	ClientID          string        `mapstructure:"client_id"`
	WebhookEventTopic string        `mapstructure:"webhook_event_topic"`
	WakeupTopic       string        `mapstructure:"wakeup_topic"`
	DeadLetterTopic   string        `mapstructure:"dead_letter_topic"`
	ConsumerGroupID   string        `mapstructure:"consumer_group_id"`
	CommitInterval    time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ServiceName       string        `mapstructure:"service_name"`
	SampleRatio       float64       `mapstructure:"sample_ratio"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	MetricsEnabled    bool          `mapstructure:"metrics_enabled"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	Propagators       []string      `mapstructure:"propagators"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CollectorProtocol string        `mapstructure:"collector_protocol"`
}

// SchedulerConfig governs the periodic tick described in spec §4.7.
type SchedulerConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	StaleCallThreshold  time.Duration `mapstructure:"stale_call_threshold"`
	StartGracePeriod    time.Duration `mapstructure:"start_grace_period"`
	CampaignFetchLimit  int           `mapstructure:"campaign_fetch_limit"`
	ProcessingWakeDelay time.Duration `mapstructure:"processing_wake_delay"`
}

// BudgetConfig governs the per-user concurrency budget (§4.3).
type BudgetConfig struct {
	DefaultMaxConcurrentCalls int           `mapstructure:"default_max_concurrent_calls"`
	LatchTTL                  time.Duration `mapstructure:"latch_ttl"`
	BusyIsRetryable           bool          `mapstructure:"busy_is_retryable"`
}

type CallBridgeConfig struct {
	DefaultProvider  string        `mapstructure:"default_provider"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	DefaultMaxDuration time.Duration `mapstructure:"default_max_duration"`
	RecordingEnabled bool          `mapstructure:"recording_enabled"`
}

// WebhookConfig holds the inbound webhook signing and base URL settings
// described in spec §6 Configuration.
type WebhookConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	EngineSigningSecret string `mapstructure:"engine_signing_secret"`
	TwilioAuthToken     string `mapstructure:"twilio_auth_token"`
}

// VoiceEngineConfig configures the out-of-process voice-AI engine client.
type VoiceEngineConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scheduler.TickInterval <= 0 {
		c.Scheduler.TickInterval = 30 * time.Second
	}
	if c.Scheduler.StaleCallThreshold <= 0 {
		c.Scheduler.StaleCallThreshold = 15 * time.Minute
	}
	if c.Scheduler.StartGracePeriod <= 0 {
		c.Scheduler.StartGracePeriod = 30 * time.Minute
	}
	if c.Scheduler.CampaignFetchLimit <= 0 {
		c.Scheduler.CampaignFetchLimit = 200
	}
	if c.Scheduler.ProcessingWakeDelay <= 0 {
		c.Scheduler.ProcessingWakeDelay = time.Second
	}
	if c.Budget.DefaultMaxConcurrentCalls <= 0 {
		c.Budget.DefaultMaxConcurrentCalls = 1
	}
	if c.Budget.LatchTTL <= 0 {
		c.Budget.LatchTTL = 2 * time.Minute
	}
	if c.CallBridge.DefaultMaxDuration <= 0 {
		c.CallBridge.DefaultMaxDuration = 600 * time.Second
	}
	if c.CallBridge.RequestTimeout <= 0 {
		c.CallBridge.RequestTimeout = 8 * time.Second
	}
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
