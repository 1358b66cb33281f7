package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds service configuration.
type Config struct {
	ServerAddr string
	LogLevel   zerolog.Level

	// DatabaseURL selects the postgres store; when empty tenants live in a
	// bbolt file under DataDir.
	DatabaseURL   string
	DataDir       string
	MigrationsDir string

	GatewayURL          string
	GatewayAPIKey       string
	GatewayPollInterval time.Duration

	SchedulerPeriod       time.Duration
	SchedulerStartupDelay time.Duration
	SendHour              int
	Location              *time.Location
	SendDelay             time.Duration

	ReconnectBackoff     time.Duration
	ReconnectMaxAttempts int

	AdminToken   string
	SheetTimeout time.Duration
	SheetRetries int
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" && os.Getenv("POSTGRES_HOST") != "" {
		user := getenv("POSTGRES_USER", "duerelay")
		pass := getenv("POSTGRES_PASSWORD", "duerelay")
		db := getenv("POSTGRES_DB", "duerelay")
		host := os.Getenv("POSTGRES_HOST")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	loc, err := time.LoadLocation(getenv("TIMEZONE", "America/Sao_Paulo"))
	if err != nil {
		return nil, fmt.Errorf("%w: TIMEZONE: %v", ErrInvalidConfig, err)
	}

	sendHour := parseInt(getenv("SEND_HOUR", "9"), 9)
	if sendHour < -1 || sendHour > 23 {
		return nil, fmt.Errorf("%w: SEND_HOUR must be between -1 and 23, got %d", ErrInvalidConfig, sendHour)
	}

	level, err := zerolog.ParseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalidConfig, err)
	}

	cfg := &Config{
		ServerAddr:    getenv("SERVER_ADDR", "0.0.0.0:3000"),
		LogLevel:      level,
		DatabaseURL:   dsn,
		DataDir:       getenv("DATA_DIR", "data"),
		MigrationsDir: getenv("MIGRATIONS_DIR", "internal/migrations"),

		GatewayURL:          getenv("GATEWAY_URL", "http://localhost:8081"),
		GatewayAPIKey:       os.Getenv("GATEWAY_API_KEY"),
		GatewayPollInterval: parseDuration(os.Getenv("GATEWAY_POLL_INTERVAL"), 2*time.Second),

		SchedulerPeriod:       parseDuration(os.Getenv("SCHEDULER_PERIOD"), time.Minute),
		SchedulerStartupDelay: parseDuration(os.Getenv("SCHEDULER_STARTUP_DELAY"), 30*time.Second),
		SendHour:              sendHour,
		Location:              loc,
		SendDelay:             parseDuration(os.Getenv("SEND_DELAY"), 2*time.Second),

		ReconnectBackoff:     parseDuration(os.Getenv("RECONNECT_BACKOFF"), 5*time.Second),
		ReconnectMaxAttempts: parseInt(os.Getenv("RECONNECT_MAX_ATTEMPTS"), 0),

		AdminToken:   os.Getenv("ADMIN_TOKEN"),
		SheetTimeout: parseDuration(os.Getenv("SHEET_TIMEOUT"), 30*time.Second),
		SheetRetries: parseInt(os.Getenv("SHEET_RETRIES"), 2),
	}

	if cfg.SchedulerPeriod <= 0 {
		return nil, fmt.Errorf("%w: SCHEDULER_PERIOD must be positive", ErrInvalidConfig)
	}
	if cfg.ReconnectMaxAttempts < 0 {
		return nil, fmt.Errorf("%w: RECONNECT_MAX_ATTEMPTS must not be negative", ErrInvalidConfig)
	}
	return cfg, nil
}

// UsePostgres reports whether tenants are stored in postgres.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
