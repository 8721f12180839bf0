package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	ServerPort string

	// AccountServiceURL is the base URL of the external account service that
	// owns balances, e.g. "http://account-service:8081".
	AccountServiceURL string

	// GatewayTimeout bounds every single call to the account service.
	GatewayTimeout time.Duration

	// GatewayMaxRetries caps retries of transient gateway failures before
	// the call surfaces as unavailable.
	GatewayMaxRetries int

	// GatewayRetryBase is the base delay of the exponential backoff between
	// gateway retries.
	GatewayRetryBase time.Duration

	// CASMaxAttempts caps how many times a movement is re-run from the read
	// step after a version conflict.
	CASMaxAttempts int
}

func Load() *Config {
	return &Config{
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "password"),
		DBName:            getEnv("DB_NAME", "bank_movements"),
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		AccountServiceURL: getEnv("ACCOUNT_SERVICE_URL", "http://localhost:8081"),
		GatewayTimeout:    getEnvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		GatewayMaxRetries: getEnvInt("GATEWAY_MAX_RETRIES", 3),
		GatewayRetryBase:  getEnvDuration("GATEWAY_RETRY_BASE", 50*time.Millisecond),
		CASMaxAttempts:    getEnvInt("CAS_MAX_ATTEMPTS", 3),
	}
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
