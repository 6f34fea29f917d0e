package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort      string `mapstructure:"HTTP_PORT"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"` // Base URL shown in verification URIs

	MongoURI    string `mapstructure:"MONGO_URI"` // Empty selects the in-memory store (dev mode)
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"` // Empty selects the in-memory credential store
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// Session introspection endpoint of the surrounding product; the approve
	// endpoint forwards browser cookies there to resolve the human identity
	// and organization context.
	SessionInfoURL string `mapstructure:"SESSION_INFO_URL"`

	// Device flow tuning.
	DeviceCodeTTLMin     int `mapstructure:"DEVICE_CODE_TTL_MIN"`
	PollIntervalSec      int `mapstructure:"POLL_INTERVAL_SEC"`
	SlowDownIncrementSec int `mapstructure:"SLOW_DOWN_INCREMENT_SEC"`
	CredentialTTLHour    int `mapstructure:"CREDENTIAL_TTL_HOUR"`

	// Sweeper.
	SweepIntervalSec int `mapstructure:"SWEEP_INTERVAL_SEC"`
	RetentionHour    int `mapstructure:"RETENTION_HOUR"`

	// Approval brute-force protection, per authenticated identity.
	ApproveRatePerMin int `mapstructure:"APPROVE_RATE_PER_MIN"`
	ApproveRateBurst  int `mapstructure:"APPROVE_RATE_BURST"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/deviceauth/")
	v.AddConfigPath("$HOME/.deviceauth")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DB_NAME", "deviceauth")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("SESSION_INFO_URL", "")
	v.SetDefault("DEVICE_CODE_TTL_MIN", 10)
	v.SetDefault("POLL_INTERVAL_SEC", 5)
	v.SetDefault("SLOW_DOWN_INCREMENT_SEC", 5)
	v.SetDefault("CREDENTIAL_TTL_HOUR", 720) // 30 days
	v.SetDefault("SWEEP_INTERVAL_SEC", 60)
	v.SetDefault("RETENTION_HOUR", 24)
	v.SetDefault("APPROVE_RATE_PER_MIN", 10)
	v.SetDefault("APPROVE_RATE_BURST", 3)

	if err := v.ReadInConfig(); err != nil {
		// ConfigFileNotFoundError is acceptable, means we use defaults/env vars.
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
