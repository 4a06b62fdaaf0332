/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Aayu095/Job4Meal/internal/store"
	"github.com/spf13/viper"
)

const (
	defaultRateLimitPrefix  = "job4meal:rate_limit"
	defaultClaimRateLimit   = 30
	defaultTxMaxAttempts    = 8
	defaultTxRetryBaseMs    = 5
	defaultOutboxPollMs     = 1200
	defaultOutboxBatchSize  = 50
	defaultSnapshotSchedule = "@every 5m"
)

// Config holds all the configuration variables for the ledger service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	LedgerStore             string `mapstructure:"LEDGER_STORE"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	SQLitePath              string `mapstructure:"SQLITE_PATH"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	ClaimRateLimitPerMinute int    `mapstructure:"CLAIM_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	LedgerEventsExchange    string `mapstructure:"LEDGER_EVENTS_EXCHANGE"`
	ReportingEventQueue     string `mapstructure:"REPORTING_EVENT_QUEUE"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	JWTIssuer               string `mapstructure:"JWT_ISSUER"`
	TxMaxAttempts           int    `mapstructure:"TX_MAX_ATTEMPTS"`
	TxRetryBaseDelayMs      int    `mapstructure:"TX_RETRY_BASE_DELAY_MS"`
	OutboxPollIntervalMs    int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxBatchSize         int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	ReportSnapshotSchedule  string `mapstructure:"REPORT_SNAPSHOT_SCHEDULE"`
	CORSAllowedOrigins      string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LEDGER_STORE", store.BackendSQLite)
	viper.SetDefault("SQLITE_PATH", "job4meal.db")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("CLAIM_RATE_LIMIT_PER_MINUTE", defaultClaimRateLimit)
	viper.SetDefault("LEDGER_EVENTS_EXCHANGE", "job4meal.ledger")
	viper.SetDefault("REPORTING_EVENT_QUEUE", "job4meal.reporting")
	viper.SetDefault("JWT_ISSUER", "")
	viper.SetDefault("TX_MAX_ATTEMPTS", defaultTxMaxAttempts)
	viper.SetDefault("TX_RETRY_BASE_DELAY_MS", defaultTxRetryBaseMs)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", defaultOutboxPollMs)
	viper.SetDefault("OUTBOX_BATCH_SIZE", defaultOutboxBatchSize)
	viper.SetDefault("REPORT_SNAPSHOT_SCHEDULE", defaultSnapshotSchedule)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("LEDGER_STORE")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("SQLITE_PATH")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENTS_EXCHANGE")
	_ = viper.BindEnv("REPORTING_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("TX_MAX_ATTEMPTS")
	_ = viper.BindEnv("TX_RETRY_BASE_DELAY_MS")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("REPORT_SNAPSHOT_SCHEDULE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.LedgerStore = strings.ToLower(strings.TrimSpace(config.LedgerStore))
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}

	if config.ClaimRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative claim rate limit configured; disabling\" value=%d", config.ClaimRateLimitPerMinute)
		config.ClaimRateLimitPerMinute = 0
	}
	if config.TxMaxAttempts <= 0 {
		config.TxMaxAttempts = defaultTxMaxAttempts
	}
	if config.TxRetryBaseDelayMs < 0 {
		config.TxRetryBaseDelayMs = defaultTxRetryBaseMs
	}
	if config.OutboxPollIntervalMs <= 0 {
		config.OutboxPollIntervalMs = defaultOutboxPollMs
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = defaultOutboxBatchSize
	}
	if strings.TrimSpace(config.ReportSnapshotSchedule) == "" {
		config.ReportSnapshotSchedule = defaultSnapshotSchedule
	}

	switch config.LedgerStore {
	case store.BackendMemory, store.BackendSQLite:
	case store.BackendPostgres:
		if config.DatabaseURL == "" {
			err = fmt.Errorf("DATABASE_URL is required when LEDGER_STORE=%s", store.BackendPostgres)
			return
		}
	default:
		err = fmt.Errorf("unsupported LEDGER_STORE %q", config.LedgerStore)
		return
	}

	return
}

// StoreDSN is the connection string for the configured backend.
func (c Config) StoreDSN() string {
	switch c.LedgerStore {
	case store.BackendPostgres:
		return c.DatabaseURL
	case store.BackendSQLite:
		return c.SQLitePath
	default:
		return ""
	}
}

func (c Config) TxRetryBaseDelay() time.Duration {
	return time.Duration(c.TxRetryBaseDelayMs) * time.Millisecond
}

func (c Config) OutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollIntervalMs) * time.Millisecond
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
