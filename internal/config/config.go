// Package config reads runtime configuration from environment variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	// Empty DATABASE_URL selects the seeded in-memory store (dev mode).
	DatabaseURL string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret            string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`

	ReportCacheTTLSeconds int `envconfig:"REPORT_CACHE_TTL_SECONDS" default:"300"`

	TaxRateA string `envconfig:"TAX_RATE_A" default:"0.05"`
	TaxRateB string `envconfig:"TAX_RATE_B" default:"0.06"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if _, _, err := cfg.TaxRates(); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.ReportCacheTTLSeconds < 1 {
		cfg.ReportCacheTTLSeconds = 300
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) TaxRates() (decimal.Decimal, decimal.Decimal, error) {
	rateA, err := decimal.NewFromString(c.TaxRateA)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid TAX_RATE_A %q: %w", c.TaxRateA, err)
	}
	rateB, err := decimal.NewFromString(c.TaxRateB)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid TAX_RATE_B %q: %w", c.TaxRateB, err)
	}
	if rateA.IsNegative() || rateB.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("tax rates must not be negative")
	}
	return rateA, rateB, nil
}
