// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds every runtime setting. Values come from the environment,
// optionally seeded from a .env file.
type Config struct {
	Port        string `mapstructure:"PORT"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`
	SeedFile    string `mapstructure:"SEED_FILE"`

	PaymentProvider       string        `mapstructure:"PAYMENT_PROVIDER"`
	PaymentWebhookSecret  string        `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	IdentityWebhookSecret string        `mapstructure:"IDENTITY_WEBHOOK_SECRET"`
	SignatureTolerance    time.Duration `mapstructure:"SIGNATURE_TOLERANCE"`
	WebhookBudget         time.Duration `mapstructure:"WEBHOOK_BUDGET"`

	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer    string `mapstructure:"AUTH_ISSUER"`

	CORSAllowedOrigins    []string      `mapstructure:"CORS_ALLOWED_ORIGINS"`
	DuplicateCheckout     time.Duration `mapstructure:"DUPLICATE_CHECKOUT_WINDOW"`
	CheckoutRatePerMinute int           `mapstructure:"CHECKOUT_RATE_PER_MINUTE"`

	ReconcileSchedule string `mapstructure:"RECONCILE_SCHEDULE"`
	RebuildOnBoot     bool   `mapstructure:"REBUILD_ON_BOOT"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `mapstructure:"SERVICE_NAME"`
}

var defaults = map[string]interface{}{
	"PORT":                        "8080",
	"STORE_DRIVER":                DriverMemory,
	"DATABASE_URL":                "",
	"AUTO_MIGRATE":                true,
	"SEED_FILE":                   "",
	"PAYMENT_PROVIDER":            "stripe",
	"PAYMENT_WEBHOOK_SECRET":      "",
	"IDENTITY_WEBHOOK_SECRET":     "",
	"SIGNATURE_TOLERANCE":         "5m",
	"WEBHOOK_BUDGET":              "5s",
	"AUTH_JWT_SECRET":             "",
	"AUTH_ISSUER":                 "",
	"CORS_ALLOWED_ORIGINS":        "http://localhost:5173",
	"DUPLICATE_CHECKOUT_WINDOW":   "30m",
	"CHECKOUT_RATE_PER_MINUTE":    600,
	"RECONCILE_SCHEDULE":          "@every 1m",
	"REBUILD_ON_BOOT":             false,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"SERVICE_NAME":                "upskill",
}

// Load reads envFile if it exists, then the process environment. Commands
// that serve traffic call Validate on the result.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		} else if err == nil {
			log.Printf("[config] loaded %s", envFile)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSAllowedOrigins = splitList(cfg.CORSAllowedOrigins)
	return cfg, nil
}

// splitList accepts both a comma separated string and a proper list.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ValidateStore checks the settings needed to open the stores.
func (c *Config) ValidateStore() error {
	switch c.StoreDriver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
		return nil
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.PaymentWebhookSecret == "" {
		return errors.New("PAYMENT_WEBHOOK_SECRET is required")
	}
	if c.AuthJWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	if c.WebhookBudget <= 0 {
		return errors.New("WEBHOOK_BUDGET must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
