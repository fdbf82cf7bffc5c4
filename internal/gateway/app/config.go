package app

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/pkg/jwtx"
)

type Config struct {
	Issuer       string // Required: issuer claim for tokens and discovery metadata
	DatabaseFile string // Path to the SQLite database file (default: ./gateway.db)

	Algorithm string // JWT signing algorithm (EdDSA, ES256) (default: EdDSA)
	NumKeys   int    // Number of signing keys to generate (default: 3)

	AccessTTL       time.Duration // Access token lifetime (default: 15m)
	RefreshTTL      time.Duration // Refresh token lifetime (default: 168h)
	CodeTTL         time.Duration // Authorization code lifetime (default: 2m)
	ApprovalTimeout time.Duration // How long a parked call waits for a resolver (default: 15m)
	SweepInterval   time.Duration // Approval sweeper interval (default: 30s)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

// LoadConfig reads configuration from the environment, with a .env file as
// a development convenience.
func LoadConfig() Config {
	_ = godotenv.Load()

	cfg := Config{
		Issuer:       os.Getenv("GATEWAY_ISSUER"),
		DatabaseFile: getEnvOrDefault("GATEWAY_DATABASE_FILE", "gateway.db"),

		Algorithm: getEnvOrDefault("GATEWAY_ALGORITHM", jwtx.AlgEdDSA),
		NumKeys:   getEnvIntOrDefault("GATEWAY_NUM_KEYS", 3),

		AccessTTL:       getEnvDurationOrDefault("GATEWAY_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL:      getEnvDurationOrDefault("GATEWAY_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),
		CodeTTL:         getEnvDurationOrDefault("GATEWAY_CODE_TTL", service.DefaultCodeTTL),
		ApprovalTimeout: getEnvDurationOrDefault("GATEWAY_APPROVAL_TIMEOUT", service.DefaultApprovalTimeout),
		SweepInterval:   getEnvDurationOrDefault("GATEWAY_SWEEP_INTERVAL", 30*time.Second),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
	}

	if cfg.Issuer == "" {
		cfg.Issuer = "http://localhost:" + strconv.Itoa(cfg.Port)
	}

	return cfg
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
