// Package config loads application configuration from YAML files and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables; a double underscore
// separates nesting levels, e.g. NOTIFIER_DATABASE__URL -> database.url.
const envPrefix = "NOTIFIER_"

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Retry    RetryConfig    `koanf:"retry"`
	Email    EmailConfig    `koanf:"email"`
	SMS      SMSConfig      `koanf:"sms"`
	Push     PushConfig     `koanf:"push"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metricsport"`
	ReadTimeout       time.Duration `koanf:"readtimeout"`
	ReadHeaderTimeout time.Duration `koanf:"readheadertimeout"`
	WriteTimeout      time.Duration `koanf:"writetimeout"`
	IdleTimeout       time.Duration `koanf:"idletimeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"maxopenconns"`
	MaxIdleConns    int           `koanf:"maxidleconns"`
	ConnMaxLifetime time.Duration `koanf:"connmaxlifetime"`
	ConnectTimeout  time.Duration `koanf:"connecttimeout"`
	ConnectAttempts int           `koanf:"connectattempts"`
	Migrate         bool          `koanf:"migrate"`
}

// RedisConfig holds Redis settings for the delivery dedupe store.
type RedisConfig struct {
	Enabled         bool          `koanf:"enabled"`
	URL             string        `koanf:"url"`
	ConnectTimeout  time.Duration `koanf:"connecttimeout"`
	ConnectAttempts int           `koanf:"connectattempts"`
	DedupeTTL       time.Duration `koanf:"dedupettl"`
}

// DeliveryConfig bounds the concurrent fan-out and per-provider send rate.
type DeliveryConfig struct {
	MaxConcurrent     int     `koanf:"maxconcurrent"`
	DefaultMaxRetries int     `koanf:"defaultmaxretries"`
	ProviderRate      float64 `koanf:"providerrate"`  // sends per second per provider
	ProviderBurst     int     `koanf:"providerburst"` // burst size per provider
}

// RetryConfig drives the background retry scheduler.
type RetryConfig struct {
	InitialBackoff    time.Duration `koanf:"initialbackoff"`
	MaxBackoff        time.Duration `koanf:"maxbackoff"`
	BackoffMultiplier float64       `koanf:"backoffmultiplier"`
	JitterFactor      float64       `koanf:"jitterfactor"`
	PollInterval      time.Duration `koanf:"pollinterval"`
	ClaimLease        time.Duration `koanf:"claimlease"`
	BatchSize         int           `koanf:"batchsize"`
	NumWorkers        int           `koanf:"numworkers"`
}

// EmailConfig selects and configures the email provider.
type EmailConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Provider    string `koanf:"provider"` // smtp, postmark
	FromAddress string `koanf:"fromaddress"`

	SMTPHost     string `koanf:"smtphost"`
	SMTPPort     int    `koanf:"smtpport"`
	SMTPUser     string `koanf:"smtpuser"`
	SMTPPassword string `koanf:"smtppassword"`

	PostmarkServerToken  string `koanf:"postmarkservertoken"`
	PostmarkAccountToken string `koanf:"postmarkaccounttoken"`
}

// SMSConfig configures the SMS provider HTTP API.
type SMSConfig struct {
	Enabled bool          `koanf:"enabled"`
	APIURL  string        `koanf:"apiurl"`
	APIKey  string        `koanf:"apikey"`
	From    string        `koanf:"from"`
	Timeout time.Duration `koanf:"timeout"`
}

// PushConfig configures the push provider HTTP API.
type PushConfig struct {
	Enabled bool          `koanf:"enabled"`
	APIURL  string        `koanf:"apiurl"`
	APIKey  string        `koanf:"apikey"`
	Timeout time.Duration `koanf:"timeout"`
}

// Default returns the configuration defaults applied before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			Migrate:         true,
		},
		Redis: RedisConfig{
			ConnectTimeout:  5 * time.Second,
			ConnectAttempts: 3,
			DedupeTTL:       24 * time.Hour,
		},
		Delivery: DeliveryConfig{
			MaxConcurrent:     32,
			DefaultMaxRetries: 3,
			ProviderRate:      20,
			ProviderBurst:     40,
		},
		Retry: RetryConfig{
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        5 * time.Minute,
			BackoffMultiplier: 2.0,
			JitterFactor:      0.1,
			PollInterval:      5 * time.Second,
			ClaimLease:        2 * time.Minute,
			BatchSize:         100,
			NumWorkers:        5,
		},
		Email: EmailConfig{
			Provider: "smtp",
			SMTPPort: 587,
		},
		SMS: SMSConfig{
			Timeout: 10 * time.Second,
		},
		Push: PushConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads configuration from the optional YAML file at path, then applies
// NOTIFIER_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}
	if c.Delivery.MaxConcurrent <= 0 {
		return fmt.Errorf("delivery.maxconcurrent must be positive")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoffmultiplier must be >= 1")
	}
	switch c.Email.Provider {
	case "smtp", "postmark":
	default:
		return fmt.Errorf("email.provider must be smtp or postmark, got %q", c.Email.Provider)
	}
	return nil
}
