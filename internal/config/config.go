package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"kassa/backend/internal/auth"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	Plan          string `envconfig:"PLAN" default:"pro"`

	StoreBackend    string        `envconfig:"STORE_BACKEND" default:"memory"`
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	SQLitePath      string        `envconfig:"SQLITE_PATH" default:"kassa.db"`
	PersistInterval time.Duration `envconfig:"PERSIST_INTERVAL" default:"2s"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	PrintQueue    bool   `envconfig:"PRINT_QUEUE" default:"false"`
	EventRelay    bool   `envconfig:"EVENT_RELAY" default:"false"`

	PrintLocale       string `envconfig:"PRINT_LOCALE" default:"en"`
	PrintWidth        int    `envconfig:"PRINT_WIDTH" default:"42"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"2"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	AdminPassword   string `envconfig:"ADMIN_PASSWORD"`
	ManagerPassword string `envconfig:"MANAGER_PASSWORD"`
	ManagerPIN      string `envconfig:"MANAGER_PIN"`
	CashierPassword string `envconfig:"CASHIER_PASSWORD"`
}

// Load reads the environment. Secrets get no defaults; see Validate.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if len(c.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if err := ValidatePINStrength(c.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	for name, password := range map[string]string{
		"ADMIN_PASSWORD":   c.AdminPassword,
		"MANAGER_PASSWORD": c.ManagerPassword,
		"CASHIER_PASSWORD": c.CashierPassword,
	} {
		if len(password) < 8 {
			return fmt.Errorf("%s must be set and at least 8 characters", name)
		}
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if (c.PrintQueue || c.EventRelay) && c.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required for the print queue and event relay")
	}
	if c.PersistInterval <= 0 {
		return errors.New("PERSIST_INTERVAL must be positive")
	}
	return nil
}

// ValidatePINStrength extends auth.CheckPIN by rejecting sequential and
// well-known PINs.
func ValidatePINStrength(pin string) error {
	if err := auth.CheckPIN(pin); err != nil {
		return err
	}
	known := map[string]bool{
		"121212": true, "112233": true, "123123": true, "696969": true,
	}
	if known[pin] {
		return errors.New("common PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return errors.New("sequential PIN not allowed")
	}
	return nil
}
