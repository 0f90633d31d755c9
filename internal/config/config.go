package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ServiceName    = "order-fulfillment"
	ServiceVersion = "0.1.0"
)

const (
	ConsumerGroupID = "order-fulfillment-group"
	CartTTL         = 30 * 24 * time.Hour
	OrderListLimit  = 50
	MaxOrderIDTries = 3
)

const (
	TracesPath    = "/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

// Config holds runtime settings read from the environment.
type Config struct {
	HTTPAddr       string
	DatabaseDriver string
	DatabaseURL    string
	RedisAddr      string
	KafkaBrokers   []string
	OtelEndpoint   string
	OtelAuthHeader string

	TaxRate               decimal.Decimal
	ShippingFlatFee       decimal.Decimal
	FreeShippingThreshold decimal.NullDecimal
	PaymentMethods        []string
	RestockOnReturn       bool

	StoreTimeout  time.Duration
	NotifyTimeout time.Duration

	LogLevel  slog.Level
	LogFormat string
	SeedDemo  bool
}

// LoadConfig reads the environment. Unset keys fall back to development defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "file:orders.db?_pragma=busy_timeout(5000)"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
		PaymentMethods: splitList(getEnv("PAYMENT_METHODS", "card,cod,wallet")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	var err error
	if cfg.TaxRate, err = decimalEnv("TAX_RATE", "10"); err != nil {
		return nil, err
	}
	if cfg.ShippingFlatFee, err = decimalEnv("SHIPPING_FLAT_FEE", "50"); err != nil {
		return nil, err
	}
	if v := os.Getenv("FREE_SHIPPING_THRESHOLD"); v != "" {
		threshold, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FREE_SHIPPING_THRESHOLD %q: %w", v, err)
		}
		cfg.FreeShippingThreshold = decimal.NewNullDecimal(threshold)
	}
	if cfg.RestockOnReturn, err = boolEnv("RESTOCK_ON_RETURN", false); err != nil {
		return nil, err
	}
	if cfg.SeedDemo, err = boolEnv("SEED_DEMO", true); err != nil {
		return nil, err
	}
	if cfg.StoreTimeout, err = durationEnv("STORE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.NotifyTimeout, err = durationEnv("NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", cfg.DatabaseDriver)
	}
	if cfg.TaxRate.IsNegative() || cfg.ShippingFlatFee.IsNegative() {
		return nil, fmt.Errorf("TAX_RATE and SHIPPING_FLAT_FEE must not be negative")
	}

	return cfg, nil
}

// NewLogger builds the process logger from LogFormat and LogLevel.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func decimalEnv(key, fallback string) (decimal.Decimal, error) {
	v := getEnv(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
