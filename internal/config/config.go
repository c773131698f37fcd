package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/mail-sentinel/")
	v.AddConfigPath("$HOME/.mail-sentinel")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("MAIL_SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_address", "0.0.0.0:8080")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")

	// Queue defaults
	v.SetDefault("queue.type", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.key_prefix", "sentinel")

	// Worker defaults
	v.SetDefault("worker.time_budget", "45s")
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.max_batch_size", 50)
	v.SetDefault("worker.max_messages_per_item", 20)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.time_reserve", "5s")
	v.SetDefault("worker.deep_analysis_reserve", "15s")

	// Store defaults
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlite_path", "/data/sentinel.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/mail_sentinel")

	// Threat-intel cache defaults
	v.SetDefault("intel.url_ttl", "1h")
	v.SetDefault("intel.domain_ttl", "4h")
	v.SetDefault("intel.ip_ttl", "2h")
	v.SetDefault("intel.url_max_size", 10000)
	v.SetDefault("intel.domain_max_size", 5000)
	v.SetDefault("intel.ip_max_size", 5000)
	v.SetDefault("intel.cleanup_frequency", "10m")

	// Reputation source defaults
	v.SetDefault("reputation.endpoint", "")
	v.SetDefault("reputation.api_key", "")
	v.SetDefault("reputation.timeout", "10s")

	// Analyzer defaults
	v.SetDefault("analyzer.provider", "openai")
	v.SetDefault("analyzer.suspicious_threshold", 40.0)
	v.SetDefault("analyzer.quarantine_threshold", 70.0)
	v.SetDefault("analyzer.block_threshold", 90.0)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	// Provider defaults
	v.SetDefault("providers.gmail.client_id", "")
	v.SetDefault("providers.gmail.client_secret", "")
	v.SetDefault("providers.gmail.quarantine_label", "SENTINEL/Quarantine")
	v.SetDefault("providers.gmail.service_account_json", "")
	v.SetDefault("providers.msgraph.client_id", "")
	v.SetDefault("providers.msgraph.client_secret", "")
	v.SetDefault("providers.msgraph.tenant", "common")
	v.SetDefault("providers.msgraph.timeout", "30s")
	v.SetDefault("providers.msgraph.quarantine_folder", "SentinelQuarantine")
	v.SetDefault("providers.gmail_dw.poll_frequency", "2m")

	// Notification defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.secret", "")
	v.SetDefault("notifications.timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
