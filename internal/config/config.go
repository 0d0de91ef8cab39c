// Package config loads pipeline configuration from YAML files and
// PULSE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	Environment string       `mapstructure:"environment"`
	LogLevel    string       `mapstructure:"log_level"`
	HTTP        HTTPConfig   `mapstructure:"http"`
	WS          WSConfig     `mapstructure:"websocket"`
	Kafka       KafkaConfig  `mapstructure:"kafka"`
	Redis       RedisConfig  `mapstructure:"redis"`
	Auth        AuthConfig   `mapstructure:"auth"`
	Alerts      AlertsConfig `mapstructure:"alerts"`
	Stream      StreamConfig `mapstructure:"stream"`
}

// HTTPConfig configures the HTTP/WebSocket listener.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WSConfig configures per-connection websocket behaviour.
type WSConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	IdleThreshold   time.Duration `mapstructure:"idle_threshold"`
	ReaperInterval  time.Duration `mapstructure:"reaper_interval"`
}

// KafkaConfig configures the event bus connection.
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	StartupRetries int           `mapstructure:"startup_retries"`
	StartupBackoff time.Duration `mapstructure:"startup_backoff"`
}

// RedisConfig configures the time-series store backend.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	WriteRetries int           `mapstructure:"write_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

// AuthConfig configures credential verification for live clients.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// AlertsConfig carries alert rule thresholds. Defaults match the documented
// business constants; deployments may override them.
type AlertsConfig struct {
	RevenueDeviationFraction float64       `mapstructure:"revenue_deviation_fraction"`
	RevenueCooldown          time.Duration `mapstructure:"revenue_cooldown"`
	LargeInvestmentAmount    float64       `mapstructure:"large_investment_amount"`
	PlatformResponseTimeMs   float64       `mapstructure:"platform_response_time_ms"`
	PlatformErrorRate        float64       `mapstructure:"platform_error_rate"`
	PlatformCPUUsage         float64       `mapstructure:"platform_cpu_usage"`
	PlatformCooldown         time.Duration `mapstructure:"platform_cooldown"`
	VolatilityFraction       float64       `mapstructure:"volatility_fraction"`
	VolatilityCooldown       time.Duration `mapstructure:"volatility_cooldown"`
}

// StreamConfig carries knobs shared by the stream processors.
type StreamConfig struct {
	RevenueHistorySize int           `mapstructure:"revenue_history_size"`
	BufferTTL          time.Duration `mapstructure:"buffer_ttl"`
	TopN               int           `mapstructure:"top_n"`
}

// Load reads configuration from the given paths (first match wins for each
// key via viper merge) plus the environment.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if len(configPaths) == 0 {
		configPaths = []string{"./config.yaml", "/etc/pulse/config.yaml"}
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8090)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.send_queue_size", 256)
	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.pong_timeout", 60*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.idle_threshold", 15*time.Minute)
	v.SetDefault("websocket.reaper_interval", time.Minute)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "pulse-analytics")
	v.SetDefault("kafka.min_bytes", 1)
	v.SetDefault("kafka.max_bytes", 1048576)
	v.SetDefault("kafka.dial_timeout", 10*time.Second)
	v.SetDefault("kafka.startup_retries", 5)
	v.SetDefault("kafka.startup_backoff", 2*time.Second)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "pulse")
	v.SetDefault("redis.write_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.max_backoff", time.Second)

	v.SetDefault("alerts.revenue_deviation_fraction", 0.30)
	v.SetDefault("alerts.revenue_cooldown", time.Hour)
	v.SetDefault("alerts.large_investment_amount", 10000.0)
	v.SetDefault("alerts.platform_response_time_ms", 2000.0)
	v.SetDefault("alerts.platform_error_rate", 0.05)
	v.SetDefault("alerts.platform_cpu_usage", 0.80)
	v.SetDefault("alerts.platform_cooldown", 5*time.Minute)
	v.SetDefault("alerts.volatility_fraction", 0.15)
	v.SetDefault("alerts.volatility_cooldown", 30*time.Minute)

	v.SetDefault("stream.revenue_history_size", 20)
	v.SetDefault("stream.buffer_ttl", 24*time.Hour)
	v.SetDefault("stream.top_n", 5)
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Stream.TopN <= 0 {
		return fmt.Errorf("stream.top_n must be positive")
	}
	if c.Stream.RevenueHistorySize <= 0 {
		return fmt.Errorf("stream.revenue_history_size must be positive")
	}
	if c.Auth.JWTSecret == "" && c.Environment == "production" {
		return fmt.Errorf("auth.jwt_secret is required in production")
	}
	return nil
}
