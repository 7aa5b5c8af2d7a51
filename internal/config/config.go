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

	// JWT configuration (driver and scanner callers)
	JWT JWTConfig

	// Field encryption and ticket signing
	Encryption EncryptionConfig

	// Payment methods
	Payment PaymentConfig

	// Redis (ticket scan registry)
	Redis RedisConfig

	// RabbitMQ (booking events)
	RabbitMQ RabbitMQConfig

	// Background sweeps
	Cron CronConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver             string // "postgres" (lib/pq) or "pgx"
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret      string
	TokenExpiry time.Duration
	Issuer      string
}

// EncryptionConfig holds the master secret used for key derivation and ticket signatures
type EncryptionConfig struct {
	MasterSecret string // SECRET - never logged
}

// PaymentConfig holds configuration for every registered payment method
type PaymentConfig struct {
	DefaultCurrency string
	Timeout         time.Duration // per settlement/refund call
	StaleAfter      time.Duration // in-flight payments older than this are reconciled

	Cash     CashConfig
	CIB      DomesticCardConfig
	Edahabia DomesticCardConfig
	Stripe   StripeConfig
	PayPal   PayPalConfig
}

// CashConfig configures the cash method
type CashConfig struct {
	Enabled bool
}

// DomesticCardConfig configures one domestic interbank card network
type DomesticCardConfig struct {
	Enabled         bool
	Offline         bool     // explicit flag: deterministic accept/decline, no network call
	GatewayURL      string   // interbank switch base URL
	TerminalID      string   // merchant terminal id
	TerminalSecret  string   // SECRET - only used for check values
	IssuerPrefixes  []string // accepted BIN prefixes
	DeclinePrefixes []string // offline mode: card numbers starting with these are declined
}

// StripeConfig configures the international card gateway
type StripeConfig struct {
	Enabled       bool
	SecretKey     string // SECRET
	WebhookSecret string // SECRET
	Currencies    []string
}

// PayPalConfig configures the international wallet gateway
type PayPalConfig struct {
	Enabled      bool
	Environment  string // "sandbox" or "live"
	ClientID     string
	ClientSecret string // SECRET
	ReturnURL    string
	CancelURL    string
	Currencies   []string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL           string
	ScanRecordTTL time.Duration
}

// RabbitMQConfig holds RabbitMQ connection configuration
type RabbitMQConfig struct {
	URL      string // empty disables publishing
	Exchange string
}

// CronConfig holds schedules for the background sweeps (6-field cron expressions)
type CronConfig struct {
	Enabled              bool
	TicketRetrySchedule  string
	ReconcileSchedule    string
	PlateMigrateSchedule string
	BatchSize            int
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

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			TokenExpiry: time.Duration(getEnvAsInt("JWT_TOKEN_EXPIRY", 3600)) * time.Second,
			Issuer:      getEnv("JWT_ISSUER", "smarttransit-rideshare"),
		},
		Encryption: EncryptionConfig{
			MasterSecret: getEnv("ENCRYPTION_MASTER_SECRET", ""),
		},
		Payment: PaymentConfig{
			DefaultCurrency: getEnv("PAYMENT_DEFAULT_CURRENCY", "DZD"),
			Timeout:         time.Duration(getEnvAsInt("PAYMENT_TIMEOUT_SECONDS", 30)) * time.Second,
			StaleAfter:      time.Duration(getEnvAsInt("PAYMENT_STALE_AFTER_SECONDS", 300)) * time.Second,
			Cash: CashConfig{
				Enabled: getEnvAsBool("PAYMENT_CASH_ENABLED", true),
			},
			CIB: DomesticCardConfig{
				Enabled:         getEnvAsBool("PAYMENT_CIB_ENABLED", true),
				Offline:         getEnvAsBool("PAYMENT_CIB_OFFLINE", false),
				GatewayURL:      getEnv("PAYMENT_CIB_GATEWAY_URL", ""),
				TerminalID:      getEnv("PAYMENT_CIB_TERMINAL_ID", ""),
				TerminalSecret:  getEnv("PAYMENT_CIB_TERMINAL_SECRET", ""),
				IssuerPrefixes:  getEnvAsSlice("PAYMENT_CIB_ISSUER_PREFIXES", []string{"6394", "6395", "6396"}),
				DeclinePrefixes: getEnvAsSlice("PAYMENT_CIB_DECLINE_PREFIXES", []string{"63949999"}),
			},
			Edahabia: DomesticCardConfig{
				Enabled:         getEnvAsBool("PAYMENT_EDAHABIA_ENABLED", true),
				Offline:         getEnvAsBool("PAYMENT_EDAHABIA_OFFLINE", false),
				GatewayURL:      getEnv("PAYMENT_EDAHABIA_GATEWAY_URL", ""),
				TerminalID:      getEnv("PAYMENT_EDAHABIA_TERMINAL_ID", ""),
				TerminalSecret:  getEnv("PAYMENT_EDAHABIA_TERMINAL_SECRET", ""),
				IssuerPrefixes:  getEnvAsSlice("PAYMENT_EDAHABIA_ISSUER_PREFIXES", []string{"6280"}),
				DeclinePrefixes: getEnvAsSlice("PAYMENT_EDAHABIA_DECLINE_PREFIXES", []string{"62809999"}),
			},
			Stripe: StripeConfig{
				Enabled:       getEnvAsBool("PAYMENT_STRIPE_ENABLED", false),
				SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
				WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
				Currencies:    getEnvAsSlice("STRIPE_CURRENCIES", []string{"EUR", "USD", "GBP"}),
			},
			PayPal: PayPalConfig{
				Enabled:      getEnvAsBool("PAYMENT_PAYPAL_ENABLED", false),
				Environment:  getEnv("PAYPAL_ENVIRONMENT", "sandbox"),
				ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
				ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
				ReturnURL:    getEnv("PAYPAL_RETURN_URL", ""),
				CancelURL:    getEnv("PAYPAL_CANCEL_URL", ""),
				Currencies:   getEnvAsSlice("PAYPAL_CURRENCIES", []string{"EUR", "USD"}),
			},
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
			ScanRecordTTL: time.Duration(getEnvAsInt("TICKET_SCAN_TTL_HOURS", 72)) * time.Hour,
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "booking_topic"),
		},
		Cron: CronConfig{
			Enabled:              getEnvAsBool("CRON_ENABLED", true),
			TicketRetrySchedule:  getEnv("CRON_TICKET_RETRY", "0 * * * * *"),
			ReconcileSchedule:    getEnv("CRON_RECONCILE", "30 */2 * * * *"),
			PlateMigrateSchedule: getEnv("CRON_PLATE_MIGRATE", "0 30 3 * * *"),
			BatchSize:            getEnvAsInt("CRON_BATCH_SIZE", 100),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Stripe-Signature"}),
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

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Encryption.MasterSecret == "" {
		return fmt.Errorf("ENCRYPTION_MASTER_SECRET is required")
	}

	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT_SECONDS must be positive")
	}

	// Live domestic networks need terminal credentials
	for name, card := range map[string]DomesticCardConfig{"CIB": c.Payment.CIB, "EDAHABIA": c.Payment.Edahabia} {
		if !card.Enabled || card.Offline {
			continue
		}
		if card.GatewayURL == "" || card.TerminalID == "" || card.TerminalSecret == "" {
			return fmt.Errorf("PAYMENT_%s_GATEWAY_URL, PAYMENT_%s_TERMINAL_ID and PAYMENT_%s_TERMINAL_SECRET are required unless PAYMENT_%s_OFFLINE=true", name, name, name, name)
		}
		if len(card.IssuerPrefixes) == 0 {
			return fmt.Errorf("PAYMENT_%s_ISSUER_PREFIXES cannot be empty", name)
		}
	}

	if c.Payment.Stripe.Enabled && c.Payment.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required when Stripe is enabled")
	}

	if c.Payment.PayPal.Enabled {
		if c.Payment.PayPal.ClientID == "" || c.Payment.PayPal.ClientSecret == "" {
			return fmt.Errorf("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required when PayPal is enabled")
		}
		if c.Payment.PayPal.Environment != "sandbox" && c.Payment.PayPal.Environment != "live" {
			return fmt.Errorf("invalid PAYPAL_ENVIRONMENT: %s (must be 'sandbox' or 'live')", c.Payment.PayPal.Environment)
		}
	}

	return nil
}

// Redacted returns a loggable summary of the configuration. Secrets are never included.
func (c *Config) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"environment":       c.Server.Environment,
		"port":              c.Server.Port,
		"database_driver":   c.Database.Driver,
		"payment_timeout":   c.Payment.Timeout.String(),
		"cash_enabled":      c.Payment.Cash.Enabled,
		"cib_enabled":       c.Payment.CIB.Enabled,
		"cib_offline":       c.Payment.CIB.Offline,
		"edahabia_enabled":  c.Payment.Edahabia.Enabled,
		"edahabia_offline":  c.Payment.Edahabia.Offline,
		"stripe_enabled":    c.Payment.Stripe.Enabled,
		"paypal_enabled":    c.Payment.PayPal.Enabled,
		"paypal_env":        c.Payment.PayPal.Environment,
		"rabbitmq_enabled":  c.RabbitMQ.URL != "",
		"cron_enabled":      c.Cron.Enabled,
		"encryption_loaded": c.Encryption.MasterSecret != "",
	}
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

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
