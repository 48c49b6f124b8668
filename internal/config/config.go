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
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Storage backend for the booking ledger
	Storage StorageConfig

	// JWT configuration
	JWT JWTConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// CORS configuration
	CORS CORSConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Booking lifecycle configuration
	Booking BookingConfig

	// Redis configuration (webhook de-duplication)
	Redis RedisConfig

	// Metrics configuration
	Metrics MetricsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	Driver             string // "postgres" (lib/pq) or "pgx"
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// StorageConfig selects where bookings live
type StorageConfig struct {
	Driver string // "postgres" or "memory"
}

// JWTConfig holds the secret used to verify principal tokens
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// RateLimitConfig holds rate limiting configuration for booking creation
type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	BaseURL       string        // Gateway API base URL; empty selects the sandbox gateway
	APIKey        string        // Secret API key (never exposed to clients)
	WebhookSecret string        // HMAC secret for webhook signatures
	Currency      string        // ISO currency code charged for bookings
	Timeout       time.Duration // Per-call timeout for gateway requests
}

// BookingConfig holds booking lifecycle tuning
type BookingConfig struct {
	ReservationWindow  time.Duration // How long a booking may stay pending_payment
	SweepInterval      time.Duration // How often stale bookings are expired
	MaxGatewayAttempts int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	BackoffFactor      float64
	DefaultPageSize    int
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	EventTTL time.Duration
}

// MetricsConfig holds prometheus settings
type MetricsConfig struct {
	Enabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Storage: StorageConfig{
			Driver: getEnv("STORAGE_DRIVER", "postgres"),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Requests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 30),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Payment: PaymentConfig{
			BaseURL:       getEnv("PAYMENT_GATEWAY_URL", ""),
			APIKey:        getEnv("PAYMENT_GATEWAY_API_KEY", ""),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			Currency:      getEnv("PAYMENT_CURRENCY", "KES"),
			Timeout:       getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 10*time.Second),
		},
		Booking: BookingConfig{
			ReservationWindow:  ReservationWindowFromEnv(),
			SweepInterval:      getEnvAsDuration("BOOKING_SWEEP_INTERVAL", time.Minute),
			MaxGatewayAttempts: getEnvAsInt("BOOKING_MAX_GATEWAY_ATTEMPTS", 3),
			BackoffInitial:     getEnvAsDuration("BOOKING_BACKOFF_INITIAL", 200*time.Millisecond),
			BackoffMax:         getEnvAsDuration("BOOKING_BACKOFF_MAX", 2*time.Second),
			BackoffFactor:      getEnvAsFloat("BOOKING_BACKOFF_FACTOR", 2),
			DefaultPageSize:    getEnvAsInt("BOOKING_DEFAULT_PAGE_SIZE", 20),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			EventTTL: getEnvAsDuration("REDIS_EVENT_TTL", 72*time.Hour),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage driver: %s (must be 'postgres' or 'memory')", c.Storage.Driver)
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid database driver: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.ReservationWindow <= 0 {
		return fmt.Errorf("BOOKING_RESERVATION_WINDOW must be positive")
	}

	if c.Booking.SweepInterval <= 0 {
		return fmt.Errorf("BOOKING_SWEEP_INTERVAL must be positive")
	}

	if c.Booking.MaxGatewayAttempts < 1 {
		return fmt.Errorf("BOOKING_MAX_GATEWAY_ATTEMPTS must be at least 1")
	}

	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("PAYMENT_GATEWAY_TIMEOUT must be positive")
	}

	// A real gateway must be reachable with credentials in production
	if c.Server.Environment == "production" {
		if c.Payment.BaseURL == "" || c.Payment.APIKey == "" {
			return fmt.Errorf("PAYMENT_GATEWAY_URL and PAYMENT_GATEWAY_API_KEY are required in production")
		}
		if c.Payment.WebhookSecret == "" {
			return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required in production")
		}
	}

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

// DefaultReservationWindow applies when BOOKING_RESERVATION_WINDOW is unset
const DefaultReservationWindow = 15 * time.Minute

// ReservationWindowFromEnv reads BOOKING_RESERVATION_WINDOW. Tools that run
// outside the server use it so their notion of stale matches the server's.
func ReservationWindowFromEnv() time.Duration {
	return getEnvAsDuration("BOOKING_RESERVATION_WINDOW", DefaultReservationWindow)
}

// getEnvAsDuration accepts Go duration strings ("15m", "500ms")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
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
