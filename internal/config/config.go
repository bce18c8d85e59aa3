package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBSource string
	Storage  string
	Port     string
	Env      string
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionTTL         time.Duration
	CheckoutSessionTTL time.Duration

	CatalogPath string

	GatewayFulfillmentURL string
	GatewayClientID       string
	GatewayClientSecret   string

	VASBaseURL      string
	VASClientID     string
	VASClientSecret string
	VASCallbackURL  string

	HTTPTimeout       time.Duration
	RetryScanInterval time.Duration
	RetryBatchSize    int
	RetryWorkers      int

	RateLimitRPS   int
	RateLimitBurst int
}

var required = []string{
	"GATEWAY_FULFILLMENT_URL",
	"GATEWAY_CLIENT_ID",
	"GATEWAY_CLIENT_SECRET",
	"VAS_BASE_URL",
	"VAS_CLIENT_ID",
	"VAS_CLIENT_SECRET",
	"VAS_CALLBACK_URL",
}

// Load reads configuration from the environment, optionally layered over the
// YAML file named by CONFIG_FILE. Missing credentials or endpoints fail here,
// at startup, never per request.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("STORAGE", "postgres")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_TTL", "10m")
	v.SetDefault("CHECKOUT_SESSION_TTL", "30m")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("RETRY_SCAN_INTERVAL", "5m")
	v.SetDefault("RETRY_BATCH_SIZE", 100)
	v.SetDefault("RETRY_WORKERS", 4)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	for _, key := range required {
		if v.GetString(key) == "" {
			return nil, fmt.Errorf("%s environment variable is required", key)
		}
	}

	storage := v.GetString("STORAGE")
	if storage != "postgres" && storage != "memory" {
		return nil, fmt.Errorf("STORAGE must be postgres or memory, got %q", storage)
	}
	dbSource := v.GetString("DB_SOURCE")
	if storage == "postgres" && dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:              dbSource,
		Storage:               storage,
		Port:                  v.GetString("SERVER_PORT"),
		Env:                   v.GetString("ENVIRONMENT"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		SessionTTL:            v.GetDuration("SESSION_TTL"),
		CheckoutSessionTTL:    v.GetDuration("CHECKOUT_SESSION_TTL"),
		CatalogPath:           v.GetString("CATALOG_PATH"),
		GatewayFulfillmentURL: v.GetString("GATEWAY_FULFILLMENT_URL"),
		GatewayClientID:       v.GetString("GATEWAY_CLIENT_ID"),
		GatewayClientSecret:   v.GetString("GATEWAY_CLIENT_SECRET"),
		VASBaseURL:            v.GetString("VAS_BASE_URL"),
		VASClientID:           v.GetString("VAS_CLIENT_ID"),
		VASClientSecret:       v.GetString("VAS_CLIENT_SECRET"),
		VASCallbackURL:        v.GetString("VAS_CALLBACK_URL"),
		HTTPTimeout:           v.GetDuration("HTTP_TIMEOUT"),
		RetryScanInterval:     v.GetDuration("RETRY_SCAN_INTERVAL"),
		RetryBatchSize:        v.GetInt("RETRY_BATCH_SIZE"),
		RetryWorkers:          v.GetInt("RETRY_WORKERS"),
		RateLimitRPS:          v.GetInt("RATE_LIMIT_RPS"),
		RateLimitBurst:        v.GetInt("RATE_LIMIT_BURST"),
	}

	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}
	if cfg.CheckoutSessionTTL < cfg.SessionTTL {
		cfg.CheckoutSessionTTL = cfg.SessionTTL
	}
	if cfg.RetryBatchSize <= 0 {
		cfg.RetryBatchSize = 100
	}
	if cfg.RetryWorkers <= 0 {
		cfg.RetryWorkers = 1
	}

	return cfg, nil
}
