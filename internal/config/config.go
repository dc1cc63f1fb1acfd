// Package config reads service settings from the environment (and an optional .env file).
package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	DefaultHTTPAddr            = ":8080"
	DefaultDevicesDir          = "devices"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
	DefaultDispatchTimeout     = 5 * time.Second
	DefaultDispatchConcurrency = 8
	DefaultInboundWorkers      = 64
	DefaultSendRate            = 1.0
	DefaultSendBurst           = 5
	DefaultRetryMaxAttempts    = 3
)

type Config struct {
	HTTPAddr      string
	DatabaseURL   string
	JWTSecret     string
	AdminUsername string
	AdminPassword string
	DevicesDir    string

	LogLevel  string
	LogFormat string

	DispatchTimeout     time.Duration
	DispatchConcurrency int
	InboundWorkers      int

	// Outbound messages per second per connection, and the burst allowance.
	SendRate  float64
	SendBurst int

	// Cron spec for the failed-webhook retry sweep; empty disables it.
	RetrySchedule    string
	RetryMaxAttempts int
}

// Load reads .env (when present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:            getenv("HTTP_ADDR", DefaultHTTPAddr),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		AdminUsername:       os.Getenv("ADMIN_USERNAME"),
		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
		DevicesDir:          getenv("DEVICES_DIR", DefaultDevicesDir),
		LogLevel:            getenv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getenv("LOG_FORMAT", DefaultLogFormat),
		DispatchTimeout:     DefaultDispatchTimeout,
		DispatchConcurrency: DefaultDispatchConcurrency,
		InboundWorkers:      DefaultInboundWorkers,
		SendRate:            DefaultSendRate,
		SendBurst:           DefaultSendBurst,
		RetrySchedule:       os.Getenv("RETRY_SCHEDULE"),
		RetryMaxAttempts:    DefaultRetryMaxAttempts,
	}

	var err error
	if v := os.Getenv("DISPATCH_TIMEOUT"); v != "" {
		if cfg.DispatchTimeout, err = cast.ToDurationE(v); err != nil {
			return cfg, errors.New("DISPATCH_TIMEOUT: " + err.Error())
		}
	}
	if cfg.DispatchConcurrency, err = intEnv("DISPATCH_CONCURRENCY", cfg.DispatchConcurrency); err != nil {
		return cfg, err
	}
	if cfg.InboundWorkers, err = intEnv("INBOUND_WORKERS", cfg.InboundWorkers); err != nil {
		return cfg, err
	}
	if cfg.SendBurst, err = intEnv("SEND_BURST", cfg.SendBurst); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxAttempts, err = intEnv("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts); err != nil {
		return cfg, err
	}
	if v := os.Getenv("SEND_RATE"); v != "" {
		if cfg.SendRate, err = cast.ToFloat64E(v); err != nil {
			return cfg, errors.New("SEND_RATE: " + err.Error())
		}
	}

	return cfg, nil
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DispatchTimeout <= 0 {
		return errors.New("DISPATCH_TIMEOUT must be positive")
	}
	if c.DispatchConcurrency < 1 || c.InboundWorkers < 1 {
		return errors.New("DISPATCH_CONCURRENCY and INBOUND_WORKERS must be at least 1")
	}
	if c.SendRate <= 0 || c.SendBurst < 1 {
		return errors.New("SEND_RATE and SEND_BURST must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return fallback, errors.New(key + ": " + err.Error())
	}
	return n, nil
}
