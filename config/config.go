package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling and env for environment variable binding.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`

	// StateSecretKey signs the OAuth state tokens; StateTTLMin bounds their
	// lifetime and is capped at 15 minutes.
	StateSecretKey string `mapstructure:"STATE_SECRET_KEY"`
	StateTTLMin    int    `mapstructure:"STATE_TTL_MIN"`

	SessionTTLMin int `mapstructure:"SESSION_TTL_MIN"`

	// CredentialKey is the base64 key sealing automation credentials at rest.
	CredentialKey string `mapstructure:"CREDENTIAL_KEY"`

	BrowserServiceURL string `mapstructure:"BROWSER_SERVICE_URL"`
	TaskBudgetSec     int    `mapstructure:"TASK_BUDGET_SEC"`
	TaskRetentionHour int    `mapstructure:"TASK_RETENTION_HOUR"`
}

// StateTTL returns the configured state token lifetime.
func (c *ServerConfig) StateTTL() time.Duration {
	return time.Duration(c.StateTTLMin) * time.Minute
}

// SessionTTL returns the configured session inactivity window.
func (c *ServerConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMin) * time.Minute
}

// TaskBudget returns the per-task wall-clock limit.
func (c *ServerConfig) TaskBudget() time.Duration {
	return time.Duration(c.TaskBudgetSec) * time.Second
}

// TaskRetention returns how long terminal tasks are kept before the purge
// janitor removes them.
func (c *ServerConfig) TaskRetention() time.Duration {
	return time.Duration(c.TaskRetentionHour) * time.Hour
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/social-genius/")
	v.AddConfigPath("$HOME/.social-genius")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/social_genius_dev")
	v.SetDefault("MONGO_DB_NAME", "social_genius_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback")
	v.SetDefault("STATE_SECRET_KEY", "a_very_secret_state_key_change_me") // CHANGE IN PRODUCTION
	v.SetDefault("STATE_TTL_MIN", 15)
	v.SetDefault("SESSION_TTL_MIN", 30)
	v.SetDefault("BROWSER_SERVICE_URL", "http://localhost:5055")
	v.SetDefault("TASK_BUDGET_SEC", 180)
	v.SetDefault("TASK_RETENTION_HOUR", 24)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}

	return &cfg, nil
}
