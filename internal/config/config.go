package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	// Database (Supabase Postgres)
	DBHost     string `env:"DB_HOST" env-default:"localhost"`
	DBPort     string `env:"DB_PORT" env-default:"5432"`
	DBUser     string `env:"DB_USER" env-default:"postgres"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" env-default:"postgres"`
	DBSSLMode  string `env:"DB_SSLMODE" env-default:"require"`

	// Sessions
	JWTSecret        string        `env:"JWT_SECRET"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_EXPIRY" env-default:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_EXPIRY" env-default:"720h"`

	// Sign in with Apple
	AppleBundleID string `env:"APPLE_BUNDLE_ID" env-default:"com.yourapp.ios"`
	AppleJWKSURL  string `env:"APPLE_JWKS_URL" env-default:"https://appleid.apple.com/auth/keys"`

	// RevenueCat
	RevenueCatBaseURL     string        `env:"REVENUECAT_BASE_URL" env-default:"https://api.revenuecat.com"`
	RevenueCatAPIKey      string        `env:"REVENUECAT_API_KEY"`
	RevenueCatWebhookAuth string        `env:"REVENUECAT_WEBHOOK_AUTH"`
	RevenueCatEnvironment string        `env:"REVENUECAT_ENVIRONMENT" env-default:"PRODUCTION"`
	RevenueCatTimeout     time.Duration `env:"REVENUECAT_TIMEOUT" env-default:"10s"`

	// Entitlements
	ProductsConfigPath string `env:"PRODUCTS_CONFIG_PATH" env-default:"products.json"`
	ExpiryPolicy       string `env:"ENTITLEMENT_EXPIRY_POLICY" env-default:"latest_expiry"`

	// Optional infrastructure
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	AMQPURL       string `env:"AMQP_URL"`
	AMQPQueue     string `env:"AMQP_QUEUE" env-default:"transactions"`

	// Listener
	StreamRestartInterval time.Duration `env:"STREAM_RESTART_INTERVAL" env-default:"5s"`

	// Server
	Port        string `env:"PORT" env-default:"8080"`
	CORSOrigins string `env:"CORS_ORIGINS" env-default:"*"`
	AppEnv      string `env:"APP_ENV" env-default:"development"`
	SentryDSN   string `env:"SENTRY_DSN"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	return &cfg, nil
}

// Validate reports every required setting that is missing.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}
	if c.DBPassword == "" {
		errs = append(errs, errors.New("DB_PASSWORD environment variable is required"))
	}
	if c.RevenueCatAPIKey == "" {
		errs = append(errs, errors.New("REVENUECAT_API_KEY environment variable is required"))
	}
	if c.RevenueCatWebhookAuth == "" {
		errs = append(errs, errors.New("REVENUECAT_WEBHOOK_AUTH environment variable is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func (c *Config) Sandbox() bool {
	return c.RevenueCatEnvironment == "SANDBOX"
}
