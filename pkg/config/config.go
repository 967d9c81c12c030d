package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable consumed by the SDK.
const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App     AppConfig
	API     APIConfig
	Auth    AuthConfig
	Pending PendingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.API.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Pending.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" default:"production"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// APIConfig points the SDK at the merchant's storefront API.
type APIConfig struct {
	BaseURL        string        `envconfig:"STOREFRONT_API_BASE_URL" required:"true"`
	PublicToken    string        `envconfig:"STOREFRONT_API_PUBLIC_TOKEN"`
	RequestTimeout time.Duration `envconfig:"STOREFRONT_API_REQUEST_TIMEOUT" default:"15s"`
}

func (a APIConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(a.BaseURL))
	if err != nil {
		return fmt.Errorf("invalid api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api base url must be http(s), got %q", a.BaseURL)
	}
	if a.RequestTimeout <= 0 {
		return fmt.Errorf("api request timeout must be positive")
	}
	return nil
}

// AuthConfig tunes the customer authentication sub-flow.
type AuthConfig struct {
	OTPLength int `envconfig:"STOREFRONT_OTP_LENGTH" default:"6"`
}

func (a AuthConfig) validate() error {
	if a.OTPLength < 4 || a.OTPLength > 10 {
		return fmt.Errorf("otp length must be between 4 and 10, got %d", a.OTPLength)
	}
	return nil
}

// PendingConfig bounds the payment-pending status polling loop.
type PendingConfig struct {
	PollInterval time.Duration `envconfig:"STOREFRONT_PENDING_POLL_INTERVAL" default:"3s"`
	PollBudget   time.Duration `envconfig:"STOREFRONT_PENDING_POLL_BUDGET" default:"2m"`
}

func (p PendingConfig) validate() error {
	if p.PollInterval <= 0 {
		return fmt.Errorf("pending poll interval must be positive")
	}
	if p.PollBudget < p.PollInterval {
		return fmt.Errorf("pending poll budget must be at least one interval")
	}
	return nil
}

// MaxAttempts derives the bounded number of polls from interval and budget.
func (p PendingConfig) MaxAttempts() int {
	if p.PollInterval <= 0 {
		return 0
	}
	return int(p.PollBudget / p.PollInterval)
}
