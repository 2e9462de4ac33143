package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Supported identity store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName             string        `env:"APP_NAME" envDefault:"ProfileHub"`
	Env                 string        `env:"APP_ENV" envDefault:"development"`
	Port                string        `env:"PORT" envDefault:"8080"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	StoreDriver         string        `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL         string        `env:"DATABASE_URL"`
	SQLitePath          string        `env:"SQLITE_PATH" envDefault:"profilehub.db"`
	RedisURL            string        `env:"REDIS_URL"`
	StoreTimeout        time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	BcryptCost          int           `env:"BCRYPT_COST" envDefault:"10"`
	ShutdownPeriod      time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL      time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	IdempotencyRequired bool          `env:"IDEMPOTENCY_REQUIRED" envDefault:"false"`
	MaxUploadBytes      int           `env:"MAX_UPLOAD_BYTES" envDefault:"5242880"`
	PublicBaseURL       string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
}

// Load reads an optional .env file and then populates a Config from the environment.
// Variables already present in the environment win over the .env file.
func Load() (Config, error) {
	_ = godotenv.Load() // missing .env is fine

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH must be set when STORE_DRIVER=sqlite")
		}
	case DriverMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed when APP_ENV=%s", c.Env)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if !c.IsDev() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.Env)
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// IsDev reports whether in-memory fallbacks are acceptable.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
