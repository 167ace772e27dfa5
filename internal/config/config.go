package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted by STATE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	StateBackend string `env:"STATE_BACKEND" envDefault:"memory"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"password"`
	DBName     string `env:"DB_NAME" envDefault:"virtual_ledger"`

	SQLitePath string `env:"SQLITE_PATH" envDefault:"ledger.db"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// EnforceActiveFlag selects the account existence model: true requires
	// explicit activation, false treats every id as implicitly active.
	EnforceActiveFlag bool `env:"ENFORCE_ACTIVE_FLAG" envDefault:"true"`

	InterestDueTime      time.Duration `env:"INTEREST_DUE_TIME" envDefault:"60s"`
	InterestPeriod       time.Duration `env:"INTEREST_PERIOD" envDefault:"60s"`
	ReminderPollInterval time.Duration `env:"REMINDER_POLL_INTERVAL" envDefault:"1s"`
	EntityIdleTimeout    time.Duration `env:"ENTITY_IDLE_TIMEOUT" envDefault:"5m"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StateBackend {
	case BackendMemory, BackendPostgres, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unsupported STATE_BACKEND %q", c.StateBackend)
	}
	if c.InterestPeriod <= 0 {
		return fmt.Errorf("INTEREST_PERIOD must be positive, got %s", c.InterestPeriod)
	}
	if c.InterestDueTime < 0 {
		return fmt.Errorf("INTEREST_DUE_TIME must not be negative, got %s", c.InterestDueTime)
	}
	if c.ReminderPollInterval <= 0 {
		return fmt.Errorf("REMINDER_POLL_INTERVAL must be positive, got %s", c.ReminderPollInterval)
	}
	return nil
}

// GetDBConnectionString returns the postgres connection string.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}
