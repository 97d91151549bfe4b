// Package config содержит логику чтения конфигурации маркетплейса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации маркетплейса.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	PiAPIAddress string `env:"PI_API_ADDRESS"`
	PiAPIKey     string `env:"PI_API_KEY"`
	MockPay      bool   `env:"MOCK_PAY"`
	JWTSecret    string `env:"JWT_SECRET"`
	AdminPiUser  string `env:"ADMIN_PI_USER_ID"`

	PointsPerPi     int `env:"POINTS_PER_PI"`
	FeePercent      int `env:"FEE_PERCENT"`
	SellerDepositPi int `env:"SELLER_DEPOSIT_PI"`

	AutoConfirmSchedule string `env:"AUTO_CONFIRM_SCHEDULE"`
	RateLimitPerSecond  int    `env:"RATE_LIMIT_RPS"`
}

const (
	defaultRunAddress          = "localhost:8080"
	defaultPiAPIAddress        = "https://api.minepi.com"
	defaultPointsPerPi         = 1
	defaultFeePercent          = 10
	defaultSellerDepositPi     = 1000
	defaultAutoConfirmSchedule = "*/5 * * * *"
	defaultRateLimitPerSecond  = 20
)

// SellerDepositPoints возвращает обязательный залог продавца в баллах.
func (c *Config) SellerDepositPoints() int64 {
	return int64(c.SellerDepositPi) * int64(c.PointsPerPi)
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := &Config{}
	if err := env.Parse(envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.PiAPIAddress, "pi", defaultPiAPIAddress, "Pi Network API address")
	flag.BoolVar(&cfg.MockPay, "mock-pay", false, "accept payments and logins without calling Pi Network")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", "", "secret for signing access tokens")
	flag.StringVar(&cfg.AdminPiUser, "admin", "", "Pi user id granted the admin role on login")
	flag.IntVar(&cfg.PointsPerPi, "points-per-pi", defaultPointsPerPi, "points per one Pi")
	flag.IntVar(&cfg.FeePercent, "fee", defaultFeePercent, "platform fee percent")
	flag.IntVar(&cfg.SellerDepositPi, "seller-deposit", defaultSellerDepositPi, "seller deposit in Pi")
	flag.StringVar(&cfg.AutoConfirmSchedule, "auto-confirm", defaultAutoConfirmSchedule, "cron schedule of the auto-confirm sweep")
	flag.IntVar(&cfg.RateLimitPerSecond, "rps", defaultRateLimitPerSecond, "requests per second per client")

	flag.Parse()

	overrideString(&cfg.RunAddress, envCfg.RunAddress)
	overrideString(&cfg.DatabaseURI, envCfg.DatabaseURI)
	overrideString(&cfg.PiAPIAddress, envCfg.PiAPIAddress)
	overrideString(&cfg.PiAPIKey, envCfg.PiAPIKey)
	overrideString(&cfg.JWTSecret, envCfg.JWTSecret)
	overrideString(&cfg.AdminPiUser, envCfg.AdminPiUser)
	overrideString(&cfg.AutoConfirmSchedule, envCfg.AutoConfirmSchedule)
	overrideInt(&cfg.PointsPerPi, envCfg.PointsPerPi)
	overrideInt(&cfg.FeePercent, envCfg.FeePercent)
	overrideInt(&cfg.SellerDepositPi, envCfg.SellerDepositPi)
	overrideInt(&cfg.RateLimitPerSecond, envCfg.RateLimitPerSecond)
	if envCfg.MockPay {
		cfg.MockPay = true
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.PointsPerPi <= 0 {
		return fmt.Errorf("points per pi must be positive, got %d", c.PointsPerPi)
	}
	if c.FeePercent < 0 || c.FeePercent > 100 {
		return fmt.Errorf("fee percent must be within [0, 100], got %d", c.FeePercent)
	}
	if c.SellerDepositPi < 0 {
		return fmt.Errorf("seller deposit must not be negative, got %d", c.SellerDepositPi)
	}
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.RateLimitPerSecond)
	}
	return nil
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
