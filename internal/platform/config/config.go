package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sync daemon
type Config struct {
	Probe         ProbeConfig         `mapstructure:"probe"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Remote        RemoteConfig        `mapstructure:"remote"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// ProbeConfig holds connectivity probe settings
type ProbeConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// CacheConfig holds query cache settings
type CacheConfig struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	GCAfter       time.Duration `mapstructure:"gc_after"`
	GCInterval    time.Duration `mapstructure:"gc_interval"`
	FlushDebounce time.Duration `mapstructure:"flush_debounce"`
	MaxRefreshes  int64         `mapstructure:"max_refreshes"`
}

// QueueConfig holds mutation queue and retry settings
type QueueConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// RemoteConfig holds the upstream mutation endpoint configuration
type RemoteConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Routes  map[string]string `mapstructure:"routes"`
}

// StorageConfig selects and configures the durable backend
type StorageConfig struct {
	// Backend is one of: file, memory, redis, dynamodb
	Backend string `mapstructure:"backend"`
	// Dir is the data directory for the file backend
	Dir string `mapstructure:"dir"`
	// Table is the DynamoDB table name for the dynamodb backend
	Table string `mapstructure:"table"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Probe defaults
	v.SetDefault("probe.url", "https://api.mada.app/ping")
	v.SetDefault("probe.timeout", "3s")
	v.SetDefault("probe.poll_interval", "15s")

	// Cache defaults
	v.SetDefault("cache.stale_after", "30s")
	v.SetDefault("cache.gc_after", "24h")
	v.SetDefault("cache.gc_interval", "5m")
	v.SetDefault("cache.flush_debounce", "1s")
	v.SetDefault("cache.max_refreshes", 8)

	// Queue defaults
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.base_delay", "1s")
	v.SetDefault("queue.max_delay", "30s")

	// Remote defaults
	v.SetDefault("remote.base_url", "https://api.mada.app")
	v.SetDefault("remote.timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.table", "mada-sync-state")

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// AWS defaults
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Probe.URL == "" {
		return fmt.Errorf("probe URL is required")
	}

	if c.Cache.GCAfter < c.Cache.StaleAfter {
		return fmt.Errorf("cache gc_after must be >= stale_after")
	}

	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue max_retries must be > 0")
	}

	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base URL is required")
	}

	validBackends := map[string]bool{
		"file":     true,
		"memory":   true,
		"redis":    true,
		"dynamodb": true,
	}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	if c.Storage.Backend == "file" && c.Storage.Dir == "" {
		return fmt.Errorf("storage dir is required for the file backend")
	}

	if c.Storage.Backend == "redis" && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required for the redis backend")
	}

	if c.Storage.Backend == "dynamodb" {
		if c.Storage.Table == "" {
			return fmt.Errorf("storage table is required for the dynamodb backend")
		}
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required for the dynamodb backend")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
