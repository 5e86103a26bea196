// Package config loads application settings from the environment, an
// optional .env file and defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rezonia/einvoice-engine/internal/logging"
)

// Config holds all application settings
type Config struct {
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogOutput string `mapstructure:"LOG_OUTPUT"`

	ServerAddress string `mapstructure:"SERVER_ADDRESS"`

	CertificatesDir string `mapstructure:"CERTIFICATES_DIR"`
	TenantsFile     string `mapstructure:"TENANTS_FILE"`
	SchemaDir       string `mapstructure:"SCHEMA_DIR"`
	TrustStore      string `mapstructure:"TRUST_STORE"`
	OCSPSoftFail    bool   `mapstructure:"OCSP_SOFT_FAIL"`

	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	DeliveryExchange string `mapstructure:"DELIVERY_EXCHANGE"`

	GatewayTimeout  time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	GatewayEndpoint string        `mapstructure:"GATEWAY_ENDPOINT"`
}

var defaults = map[string]any{
	"LOG_LEVEL":         "info",
	"LOG_FORMAT":        "text",
	"LOG_OUTPUT":        "stdout",
	"SERVER_ADDRESS":    ":8080",
	"CERTIFICATES_DIR":  "./certificates",
	"TENANTS_FILE":      "./tenants.yaml",
	"SCHEMA_DIR":        "",
	"TRUST_STORE":       "",
	"OCSP_SOFT_FAIL":    true,
	"DATABASE_URL":      "",
	"RABBITMQ_URL":      "",
	"DELIVERY_EXCHANGE": "einvoice.delivery",
	"GATEWAY_TIMEOUT":   "30s",
	"GATEWAY_ENDPOINT":  "",
}

// Load reads envFile when it exists (variables already set win), then the
// environment, then defaults. An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode configuration")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would only fail later at first use
func (c *Config) Validate() error {
	if c.GatewayTimeout < 0 {
		return errors.New("GATEWAY_TIMEOUT must not be negative")
	}
	if c.CertificatesDir == "" {
		return errors.New("CERTIFICATES_DIR is required")
	}
	if c.TenantsFile == "" {
		return errors.New("TENANTS_FILE is required")
	}
	return nil
}

// Logging returns the logging section
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat, Output: c.LogOutput}
}
