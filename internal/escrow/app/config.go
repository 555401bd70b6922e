package app

import (
	"errors"
	"math/big"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer   string   // Issuer claim for session tokens and challenge messages
	Audience []string // Accepted audiences for session tokens

	SigningKeyFile string // Optional: PKCS8 PEM Ed25519 key; ephemeral key when unset

	DatabaseFile string // Path to SQLite database file (default: ./escrow.db)

	ChainMode        string   // "ethereum" or "fake" (default: fake)
	ChainRPCURL      string   // JSON-RPC endpoint (required in ethereum mode)
	ChainContract    string   // Escrow contract address (required in ethereum mode)
	ChainOperatorKey string   // Hex private key for the operator account (required in ethereum mode)
	ChainID          *big.Int // Expected chain id (default: 1)

	CatalogBaseURL string // Listing catalogue base URL; empty enables the built-in static catalogue

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	ReconcileInterval    time.Duration // Chain reconcile poll interval (default: 15s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1m)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:           getEnvOrDefault("ESCROW_ISSUER", "hawkerhall-escrow"),
		SigningKeyFile:   os.Getenv("ESCROW_SIGNING_KEY_FILE"),
		DatabaseFile:     getEnvOrDefault("ESCROW_DATABASE_FILE", "escrow.db"),
		ChainMode:        getEnvOrDefault("ESCROW_CHAIN_MODE", "fake"),
		ChainRPCURL:      os.Getenv("ESCROW_CHAIN_RPC_URL"),
		ChainContract:    os.Getenv("ESCROW_CHAIN_CONTRACT"),
		ChainOperatorKey: os.Getenv("ESCROW_CHAIN_OPERATOR_KEY"),
		ChainID:          big.NewInt(getEnvInt64OrDefault("ESCROW_CHAIN_ID", 1)),
		CatalogBaseURL:   os.Getenv("ESCROW_CATALOG_URL"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		ReconcileInterval:    getEnvDurationOrDefault("ESCROW_RECONCILE_INTERVAL", 15*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("ESCROW_HOUSEKEEPING_INTERVAL", 1*time.Minute),
	}

	cfg.Audience = []string{cfg.Issuer}
	if aud := os.Getenv("ESCROW_AUDIENCE"); aud != "" {
		cfg.Audience = []string{aud}
	}

	return cfg
}

// Validate catches configuration that would only fail deep inside startup.
func (cfg Config) Validate() error {
	if cfg.ChainMode == "ethereum" {
		if cfg.ChainRPCURL == "" {
			return errors.New("ESCROW_CHAIN_RPC_URL is required in ethereum mode")
		}
		if cfg.ChainContract == "" {
			return errors.New("ESCROW_CHAIN_CONTRACT is required in ethereum mode")
		}
		if cfg.ChainOperatorKey == "" {
			return errors.New("ESCROW_CHAIN_OPERATOR_KEY is required in ethereum mode")
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
