// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`

	// Model artifact configuration
	Model  string `mapstructure:"model"`
	Schema string `mapstructure:"schema"`

	// Prediction cache configuration
	Redis    string        `mapstructure:"redis"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Logging configuration
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Feature flags
	UseMockInference bool `mapstructure:"use_mock_inference"`
}

// Load loads configuration from flags, environment variables, and optional config file.
// Priority (highest to lowest): flags > env vars > config file > defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 5000)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("model", "ids_pipeline.onnx")
	v.SetDefault("schema", "ids_metadata.json")
	v.SetDefault("redis", "localhost:6379")
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("use_mock_inference", false)

	// Environment variable configuration
	v.SetEnvPrefix("IDS_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also read OTEL standard env vars
	if otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); otelEndpoint != "" {
		v.Set("otel_endpoint", otelEndpoint)
		v.Set("otel_enabled", true)
	}

	// Bind specific environment variables. PORT alone is honored too since
	// container platforms commonly inject it bare.
	v.BindEnv("host", "IDS_SERVICE_HOST")
	v.BindEnv("port", "IDS_SERVICE_PORT", "PORT")
	v.BindEnv("metrics_port", "IDS_SERVICE_METRICS_PORT")
	v.BindEnv("model", "IDS_SERVICE_MODEL")
	v.BindEnv("schema", "IDS_SERVICE_SCHEMA")
	v.BindEnv("redis", "IDS_SERVICE_REDIS")
	v.BindEnv("cache_ttl", "IDS_SERVICE_CACHE_TTL")
	v.BindEnv("otel_enabled", "IDS_SERVICE_OTEL_ENABLED")
	v.BindEnv("otel_endpoint", "IDS_SERVICE_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("log_level", "IDS_SERVICE_LOG_LEVEL")
	v.BindEnv("log_format", "IDS_SERVICE_LOG_FORMAT")
	v.BindEnv("use_mock_inference", "IDS_SERVICE_USE_MOCK")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ids-service/")
	v.AddConfigPath("$HOME/.ids-service")

	// Read config file if present (ignore error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; ignore
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithConfigFile loads configuration from a specific config file
func LoadWithConfigFile(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults (same as Load)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 5000)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("model", "ids_pipeline.onnx")
	v.SetDefault("schema", "ids_metadata.json")
	v.SetDefault("redis", "localhost:6379")
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("use_mock_inference", false)

	// Environment variable configuration
	v.SetEnvPrefix("IDS_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read specific config file
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	if c.Model == "" && !c.UseMockInference {
		return fmt.Errorf("model path is required when not using mock inference")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative: %s", c.CacheTTL)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json: %q", c.LogFormat)
	}
	return nil
}
