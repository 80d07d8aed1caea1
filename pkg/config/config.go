package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration read from the environment.
// Trading parameters (position limits, profit levels, staleness threshold) are
// not here; they live in a validated Snapshot, see params.go.
type Config struct {
	// Application
	LogLevel string
	LogFile  string
	HTTPPort string

	// Exchange API
	ExchangeBaseURL    string
	ExchangeWSURL      string
	ExchangeAPIKey     string
	ExchangeSecret     string
	ExchangePassphrase string
	ExchangeTimeout    time.Duration

	// Execution
	ExecutionMode string // "paper" or "live"

	// Reconciliation
	SweepInterval time.Duration
	ParamsFile    string

	// WebSocket
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// Storage
	StorageMode       string // "console", "postgres" or "badger"
	PostgresHost      string
	PostgresPort      string
	PostgresUser      string
	PostgresPass      string
	PostgresDB        string
	PostgresSSL       string
	BadgerPath        string
	JournalBufferSize int

	// Distributed sweep lock (disabled when RedisAddr is empty)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SweepLockTTL  time.Duration

	// Alerting
	AlertDiscordWebhookURL string
	AlertDedupTTL          time.Duration
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		// Exchange API defaults
		ExchangeBaseURL:    getEnvOrDefault("EXCHANGE_BASE_URL", "https://api.exchange.example.com"),
		ExchangeWSURL:      getEnvOrDefault("EXCHANGE_WS_URL", "wss://ws.exchange.example.com/ws/orders"),
		ExchangeAPIKey:     os.Getenv("EXCHANGE_API_KEY"),
		ExchangeSecret:     os.Getenv("EXCHANGE_SECRET"),
		ExchangePassphrase: os.Getenv("EXCHANGE_PASSPHRASE"),
		ExchangeTimeout:    getDurationOrDefault("EXCHANGE_TIMEOUT", 15*time.Second),

		ExecutionMode: getEnvOrDefault("EXECUTION_MODE", "paper"),

		SweepInterval: getDurationOrDefault("SWEEP_INTERVAL", 30*time.Second),
		ParamsFile:    os.Getenv("PARAMS_FILE"),

		// WebSocket defaults
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPongTimeout:           getDurationOrDefault("WS_PONG_TIMEOUT", 15*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),

		BreakerFailureThreshold: getIntOrDefault("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         getDurationOrDefault("BREAKER_COOLDOWN", 30*time.Second),

		// Storage defaults
		StorageMode:       getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost:      getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort:      getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser:      getEnvOrDefault("POSTGRES_USER", "reconciler"),
		PostgresPass:      getEnvOrDefault("POSTGRES_PASSWORD", "reconciler"),
		PostgresDB:        getEnvOrDefault("POSTGRES_DB", "order_reconciler"),
		PostgresSSL:       getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		BadgerPath:        getEnvOrDefault("BADGER_PATH", "./data/journal"),
		JournalBufferSize: getIntOrDefault("JOURNAL_BUFFER_SIZE", 1024),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getIntOrDefault("REDIS_DB", 0),
		SweepLockTTL:  getDurationOrDefault("SWEEP_LOCK_TTL", 2*time.Minute),

		AlertDiscordWebhookURL: os.Getenv("ALERT_DISCORD_WEBHOOK_URL"),
		AlertDedupTTL:          getDurationOrDefault("ALERT_DEDUP_TTL", 10*time.Minute),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.ExecutionMode != "paper" && c.ExecutionMode != "live" {
		return fmt.Errorf("EXECUTION_MODE must be 'paper' or 'live', got %q", c.ExecutionMode)
	}

	if c.ExecutionMode == "live" {
		if c.ExchangeBaseURL == "" {
			return fmt.Errorf("EXCHANGE_BASE_URL cannot be empty in live mode")
		}
		if c.ExchangeAPIKey == "" || c.ExchangeSecret == "" {
			return fmt.Errorf("EXCHANGE_API_KEY and EXCHANGE_SECRET are required in live mode")
		}
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}

	switch c.StorageMode {
	case "console", "postgres", "badger":
	default:
		return fmt.Errorf("STORAGE_MODE must be 'console', 'postgres' or 'badger', got %q", c.StorageMode)
	}

	if c.StorageMode == "badger" && c.BadgerPath == "" {
		return fmt.Errorf("BADGER_PATH cannot be empty when STORAGE_MODE is 'badger'")
	}

	if c.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive, got %d", c.BreakerFailureThreshold)
	}

	if c.WSReconnectBackoffMult < 1.0 {
		return fmt.Errorf("WS_RECONNECT_BACKOFF_MULTIPLIER must be >= 1.0, got %f", c.WSReconnectBackoffMult)
	}

	if c.JournalBufferSize <= 0 {
		return fmt.Errorf("JOURNAL_BUFFER_SIZE must be positive, got %d", c.JournalBufferSize)
	}

	return nil
}

// PostgresDSN builds a lib/pq connection string from the Postgres settings.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPass, c.PostgresDB, c.PostgresSSL)
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
