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

	// JWT configuration
	JWT JWTConfig

	// Redis configuration (booking locks)
	Redis RedisConfig

	// CORS configuration
	CORS CORSConfig

	// Payment gateway configuration
	Gateway GatewayConfig

	// Tour supplier configuration
	Supplier SupplierConfig

	// Ticket/voucher archive configuration
	Storage StorageConfig

	// Background reconciliation jobs
	Cron CronConfig

	// Booking defaults
	Booking BookingConfig
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
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL      string // empty disables the distributed lock
	LockTTL  time.Duration
	LockWait time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// GatewayConfig holds the wallet gateway and manual transfer settings
type GatewayConfig struct {
	BaseURL       string // e.g. https://api-v2.ziina.com/api
	Token         string // bearer token (SECRET)
	TestMode      bool
	Timeout       time.Duration
	SessionExpiry time.Duration
	Bank          BankDetails
}

// BankDetails are shown to customers paying by bank transfer
type BankDetails struct {
	BankName      string
	AccountName   string
	AccountNumber string
	IBAN          string
	SwiftCode     string
	DueIn         time.Duration
}

// SupplierConfig holds the tour supplier API settings
type SupplierConfig struct {
	BaseURL     string
	Token       string // bearer token (SECRET)
	Timeout     time.Duration
	MaxAttempts int
}

// StorageConfig holds the S3 archive settings
type StorageConfig struct {
	Bucket          string // empty disables S3, files go to LocalDir
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // optional, for S3 compatible stores
	LocalDir        string
}

// CronConfig holds reconciliation job schedules (6 field, with seconds)
type CronConfig struct {
	Enabled          bool
	SupplierRetry    string
	PaymentPoll      string
	PaymentPollAfter time.Duration
	BatchSize        int
}

// BookingConfig holds booking defaults
type BookingConfig struct {
	FrontendURL     string
	DefaultCurrency string
	EnforceTotal    bool // reject requests whose totalGross differs from the computed price
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
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			LockTTL:  getEnvAsDuration("BOOKING_LOCK_TTL", 60*time.Second),
			LockWait: getEnvAsDuration("BOOKING_LOCK_WAIT", 5*time.Second),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "X-Request-ID"}),
		},
		Gateway: GatewayConfig{
			BaseURL:       getEnv("PAYMENT_GATEWAY_BASE_URL", "https://api-v2.ziina.com/api"),
			Token:         getEnv("PAYMENT_GATEWAY_TOKEN", ""),
			TestMode:      getEnvAsBool("PAYMENT_TEST_MODE", true),
			Timeout:       getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 15*time.Second),
			SessionExpiry: getEnvAsDuration("PAYMENT_SESSION_EXPIRY", 15*time.Minute),
			Bank: BankDetails{
				BankName:      getEnv("BANK_NAME", ""),
				AccountName:   getEnv("BANK_ACCOUNT_NAME", ""),
				AccountNumber: getEnv("BANK_ACCOUNT_NUMBER", ""),
				IBAN:          getEnv("BANK_IBAN", ""),
				SwiftCode:     getEnv("BANK_SWIFT_CODE", ""),
				DueIn:         getEnvAsDuration("BANK_TRANSFER_DUE_IN", 24*time.Hour),
			},
		},
		Supplier: SupplierConfig{
			BaseURL:     getEnv("SUPPLIER_BASE_URL", ""),
			Token:       getEnv("SUPPLIER_TOKEN", ""),
			Timeout:     getEnvAsDuration("SUPPLIER_TIMEOUT", 30*time.Second),
			MaxAttempts: getEnvAsInt("SUPPLIER_MAX_ATTEMPTS", 5),
		},
		Storage: StorageConfig{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("AWS_REGION", "me-central-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			LocalDir:        getEnv("LOCAL_ARCHIVE_DIR", "./data/tickets"),
		},
		Cron: CronConfig{
			Enabled:          getEnvAsBool("CRON_ENABLED", true),
			SupplierRetry:    getEnv("CRON_SUPPLIER_RETRY_SPEC", "0 */5 * * * *"),
			PaymentPoll:      getEnv("CRON_PAYMENT_POLL_SPEC", "30 */2 * * * *"),
			PaymentPollAfter: getEnvAsDuration("PAYMENT_POLL_AFTER", 3*time.Minute),
			BatchSize:        getEnvAsInt("CRON_BATCH_SIZE", 50),
		},
		Booking: BookingConfig{
			FrontendURL:     strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
			DefaultCurrency: getEnv("DEFAULT_CURRENCY", "AED"),
			EnforceTotal:    getEnvAsBool("BOOKING_ENFORCE_TOTAL", true),
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
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Supplier.BaseURL == "" {
		return fmt.Errorf("SUPPLIER_BASE_URL is required")
	}

	// Outbound calls must give up within 10-30 seconds
	if err := checkTimeout("PAYMENT_GATEWAY_TIMEOUT", c.Gateway.Timeout); err != nil {
		return err
	}
	if err := checkTimeout("SUPPLIER_TIMEOUT", c.Supplier.Timeout); err != nil {
		return err
	}

	if c.Environment() == "production" && c.Gateway.Token == "" {
		return fmt.Errorf("PAYMENT_GATEWAY_TOKEN is required in production")
	}

	if c.Supplier.MaxAttempts < 1 {
		return fmt.Errorf("SUPPLIER_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

// Environment returns the deployment environment
func (c *Config) Environment() string {
	return c.Server.Environment
}

// WriteTimeout bounds an HTTP response. A confirmation can call the gateway
// and then the supplier in the same request.
func (c *Config) WriteTimeout() time.Duration {
	return c.Gateway.Timeout + c.Supplier.Timeout + 15*time.Second
}

func checkTimeout(key string, d time.Duration) error {
	if d < 10*time.Second || d > 30*time.Second {
		return fmt.Errorf("%s must be between 10s and 30s, got %s", key, d)
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

// getEnvAsDuration accepts Go durations ("15s") or plain seconds ("15")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
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
