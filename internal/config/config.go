// Package config содержит логику чтения конфигурации сервиса коинзон.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса коинзон.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	OffersAPIAddress string `env:"OFFERS_API_ADDRESS"`
	OffersAPIKey     string `env:"OFFERS_API_KEY"`
	SessionSecret    string `env:"SESSION_SECRET"`
	AdminSecret      string `env:"ADMIN_SECRET"`
	GoogleAudience   string `env:"GOOGLE_AUDIENCE"`
	SheetSinkAddress string `env:"SHEET_SINK_ADDRESS"`
	SheetSinkToken   string `env:"SHEET_SINK_TOKEN"`

	SignupBonus    int64 `env:"SIGNUP_BONUS" envDefault:"0"`
	ReferralBonus  int64 `env:"REFERRAL_BONUS" envDefault:"100"`
	DailyBonus     int64 `env:"DAILY_BONUS" envDefault:"10"`
	AdGrantCeiling int64 `env:"AD_GRANT_CEILING" envDefault:"100"`

	OffersTimeout time.Duration `env:"OFFERS_TIMEOUT" envDefault:"15s"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envOffersAddress := cfg.OffersAPIAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.OffersAPIAddress, "r", "", "offers API address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envOffersAddress != "" {
		cfg.OffersAPIAddress = envOffersAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.AdGrantCeiling <= 0 {
		return nil, fmt.Errorf("ad grant ceiling must be positive, got %d", cfg.AdGrantCeiling)
	}
	if cfg.SignupBonus < 0 {
		return nil, fmt.Errorf("signup bonus must not be negative, got %d", cfg.SignupBonus)
	}

	return cfg, nil
}
