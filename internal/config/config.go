package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	Booking      BookingConfig
	Payment      PaymentConfig
	Notification NotificationConfig
	Sweeper      SweeperConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error

	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Empty trusts none.
	TrustedProxies []string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver             string // "postgres" (lib/pq) or "pgx"
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	AutoMigrate        bool
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// BookingConfig holds booking rules
type BookingConfig struct {
	DefaultCurrency    string
	CancellationWindow time.Duration
	CreateRetries      int
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	Gateway      string // default gateway for new payments: "flutterwave" or "stripe"
	Timeout      time.Duration
	RedirectURL  string // where the gateway sends the user after checkout
	FrontendURL  string // where the callback handler sends the user after reconciling
	Flutterwave  FlutterwaveConfig
	Stripe       StripeConfig
	ReferenceTag string
}

// FlutterwaveConfig holds Flutterwave credentials
type FlutterwaveConfig struct {
	BaseURL     string
	SecretKey   string
	WebhookHash string // compared against the verif-hash header
}

// StripeConfig holds Stripe credentials
type StripeConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string // whsec_ signing secret
	CancelURL     string
}

// NotificationConfig holds notification sink configuration
type NotificationConfig struct {
	Timeout   time.Duration
	RedisURL  string // enables the queue sink when set
	RedisList string
	SMSAPIURL string // enables the SMS sink when set
	SMSAPIKey string
	SMSSender string
}

// SweeperConfig holds scheduled job configuration
type SweeperConfig struct {
	Enabled            bool
	PendingSchedule    string
	PendingMinAge      time.Duration
	PendingBatchSize   int
	CompletionSchedule string
	CompletionGrace    time.Duration
}

// RateLimitConfig holds rate limiting for public verification endpoints
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	IdleTimeout       time.Duration // buckets unused this long are dropped
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := FromEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// FromEnv builds the configuration from the current environment without validating it
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES", nil),
		},
		Database: DatabaseConfig{
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			AutoMigrate:        getEnvAsBool("DATABASE_AUTO_MIGRATE", true),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Booking: BookingConfig{
			DefaultCurrency:    strings.ToUpper(getEnv("DEFAULT_CURRENCY", "RWF")),
			CancellationWindow: time.Duration(getEnvAsInt("CANCELLATION_WINDOW_HOURS", 24)) * time.Hour,
			CreateRetries:      getEnvAsInt("BOOKING_CREATE_RETRIES", 3),
		},
		Payment: PaymentConfig{
			Gateway:      strings.ToLower(getEnv("PAYMENT_GATEWAY", "flutterwave")),
			Timeout:      time.Duration(getEnvAsInt("PAYMENT_GATEWAY_TIMEOUT_SECONDS", 20)) * time.Second,
			RedirectURL:  getEnv("PAYMENT_REDIRECT_URL", ""),
			FrontendURL:  getEnv("PAYMENT_FRONTEND_URL", ""),
			ReferenceTag: getEnv("PAYMENT_REFERENCE_PREFIX", "TMB"),
			Flutterwave: FlutterwaveConfig{
				BaseURL:     getEnv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com"),
				SecretKey:   getEnv("FLUTTERWAVE_SECRET_KEY", ""),
				WebhookHash: getEnv("FLUTTERWAVE_WEBHOOK_HASH", ""),
			},
			Stripe: StripeConfig{
				BaseURL:       getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
				SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
				WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
				CancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
			},
		},
		Notification: NotificationConfig{
			Timeout:   time.Duration(getEnvAsInt("NOTIFY_TIMEOUT_SECONDS", 15)) * time.Second,
			RedisURL:  getEnv("NOTIFY_REDIS_URL", ""),
			RedisList: getEnv("NOTIFY_REDIS_LIST", "notifications:outbox"),
			SMSAPIURL: getEnv("SMS_API_URL", ""),
			SMSAPIKey: getEnv("SMS_API_KEY", ""),
			SMSSender: getEnv("SMS_SENDER_ID", "Tembera"),
		},
		Sweeper: SweeperConfig{
			Enabled:            getEnvAsBool("SWEEPER_ENABLED", true),
			PendingSchedule:    getEnv("SWEEPER_PENDING_SCHEDULE", "0 */5 * * * *"),
			PendingMinAge:      time.Duration(getEnvAsInt("SWEEPER_PENDING_MIN_AGE_SECONDS", 120)) * time.Second,
			PendingBatchSize:   getEnvAsInt("SWEEPER_PENDING_BATCH_SIZE", 50),
			CompletionSchedule: getEnv("SWEEPER_COMPLETION_SCHEDULE", "0 0 3 * * *"),
			CompletionGrace:    time.Duration(getEnvAsInt("SWEEPER_COMPLETION_GRACE_HOURS", 24)) * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("VERIFY_RATE_LIMIT_RPS", 2),
			Burst:             getEnvAsInt("VERIFY_RATE_LIMIT_BURST", 10),
			IdleTimeout:       time.Duration(getEnvAsInt("VERIFY_RATE_LIMIT_IDLE_SECONDS", 600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Payment.Gateway != "flutterwave" && c.Payment.Gateway != "stripe" {
		return fmt.Errorf("invalid PAYMENT_GATEWAY: %s (must be 'flutterwave' or 'stripe')", c.Payment.Gateway)
	}

	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("PAYMENT_GATEWAY_TIMEOUT_SECONDS must be positive")
	}

	if len(c.Booking.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter ISO code")
	}

	// Gateway credentials are checked at first use so that the server can still
	// serve bookings while a gateway is being provisioned.

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
