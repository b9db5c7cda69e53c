package app

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer        string // Issuer claim for tokens and TOTP provisioning label
	TokenSecret   string // Required: HMAC signing secret for tokens, no default
	EncryptionKey string // Required: hex 256-bit key for TOTP secrets at rest, no default

	SessionTTL time.Duration // Session token lifetime (default: 1h)
	PendingTTL time.Duration // Pending-2FA token lifetime (default: 5m)
	HashCost   int           // bcrypt work factor (default: 12)

	TOTPDigits    int    // TOTP code length (default: 6)
	TOTPPeriod    int    // TOTP time step in seconds (default: 30)
	TOTPAlgorithm string // TOTP HMAC algorithm (SHA1, SHA256, SHA512) (default: SHA1)
	TOTPSkew      int    // Accepted counter drift on each side (default: 1)

	DatabaseFile string // Path to SQLite database file (default: ./auth.db)
	RedisAddr    string // Optional: Redis address for the shared abuse guard

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired-challenge sweep interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		Issuer:        getEnvOrDefault("AUTH_ISSUER", "auth-service"),
		TokenSecret:   os.Getenv("AUTH_TOKEN_SECRET"),
		EncryptionKey: os.Getenv("AUTH_ENCRYPTION_KEY"),

		SessionTTL: getEnvDurationOrDefault("AUTH_SESSION_TTL", 1*time.Hour),
		PendingTTL: getEnvDurationOrDefault("AUTH_PENDING_TTL", 5*time.Minute),
		HashCost:   getEnvIntOrDefault("AUTH_HASH_COST", 12),

		TOTPDigits:    getEnvIntOrDefault("AUTH_TOTP_DIGITS", 6),
		TOTPPeriod:    getEnvIntOrDefault("AUTH_TOTP_PERIOD", 30),
		TOTPAlgorithm: getEnvOrDefault("AUTH_TOTP_ALGORITHM", "SHA1"),
		TOTPSkew:      getEnvIntOrDefault("AUTH_TOTP_SKEW", 1),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		RedisAddr:    os.Getenv("GUARD_REDIS_ADDR"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

// Validate catches configuration the service must not start with. The token
// secret and encryption key have no defaults on purpose: their constructors
// additionally reject placeholder and malformed values.
func (cfg Config) Validate() error {
	if cfg.TokenSecret == "" {
		return errors.New("AUTH_TOKEN_SECRET is required")
	}
	if cfg.EncryptionKey == "" {
		return errors.New("AUTH_ENCRYPTION_KEY is required")
	}
	if cfg.TOTPSkew < 0 {
		return errors.New("AUTH_TOTP_SKEW must not be negative")
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
