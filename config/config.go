/*
config.go - Runtime configuration

PURPOSE:
  One place that reads settings for both binaries. Values come from, in
  increasing priority: defaults, a .env file, the process environment,
  command-line flags.

ENVIRONMENT:
  PORT                      HTTP port (default 8080)
  STORE_DRIVER              memory | sqlite | postgres | redis | firestore (default sqlite)
  DB_PATH                   SQLite file, ":memory:" allowed (default rosca.db)
  DATABASE_URL              PostgreSQL DSN, required for postgres
  REDIS_URL                 redis:// URL, required for redis
  FIREBASE_PROJECT_ID       required for firestore
  FIREBASE_CREDENTIALS_PATH service account file, optional for firestore
  LOG_LEVEL                 debug | info | warn | error (default info)
  WORKER_INTERVAL           sweep interval, Go duration (default 5m)
  REMINDER_LEAD             reminder lead before due dates (default 48h)
  CORS_ORIGINS              comma-separated allowed origins (default *)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverRedis     = "redis"
	DriverFirestore = "firestore"
)

type Config struct {
	Port                    int
	StoreDriver             string
	DBPath                  string
	DatabaseURL             string
	RedisURL                string
	FirebaseProjectID       string
	FirebaseCredentialsPath string
	LogLevel                string
	WorkerInterval          time.Duration
	ReminderLead            time.Duration
	CORSOrigins             []string
}

func Default() Config {
	return Config{
		Port:           8080,
		StoreDriver:    DriverSQLite,
		DBPath:         "rosca.db",
		LogLevel:       "info",
		WorkerInterval: 5 * time.Minute,
		ReminderLead:   48 * time.Hour,
		CORSOrigins:    []string{"*"},
	}
}

// Load reads .env files (a missing file is fine) and then the environment.
// With no arguments it reads ./.env.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv on top of the defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := getenv("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = strings.ToLower(v)
	}
	if v := getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	cfg.DatabaseURL = getenv("DATABASE_URL")
	cfg.RedisURL = getenv("REDIS_URL")
	cfg.FirebaseProjectID = getenv("FIREBASE_PROJECT_ID")
	cfg.FirebaseCredentialsPath = getenv("FIREBASE_CREDENTIALS_PATH")
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	var err error
	if cfg.WorkerInterval, err = durationOr(getenv("WORKER_INTERVAL"), cfg.WorkerInterval); err != nil {
		return Config{}, fmt.Errorf("WORKER_INTERVAL: %w", err)
	}
	if cfg.ReminderLead, err = durationOr(getenv("REMINDER_LEAD"), cfg.ReminderLead); err != nil {
		return Config{}, fmt.Errorf("REMINDER_LEAD: %w", err)
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	return cfg, nil
}

// RegisterFlags binds the flags both binaries accept. Flag defaults are the
// values already in cfg, so flags only override what was set explicitly.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "HTTP server port")
	fs.StringVar(&c.StoreDriver, "store", c.StoreDriver, "store driver: memory, sqlite, postgres, redis, firestore")
	fs.StringVar(&c.DBPath, "db", c.DBPath, `SQLite database path (":memory:" for in-memory)`)
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.DurationVar(&c.WorkerInterval, "interval", c.WorkerInterval, "worker sweep interval")
}

// Validate checks that the selected driver has what it needs.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.WorkerInterval <= 0 {
		return fmt.Errorf("worker interval must be positive, got %s", c.WorkerInterval)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("sqlite driver needs DB_PATH")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres driver needs DATABASE_URL")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("redis driver needs REDIS_URL")
		}
	case DriverFirestore:
		if c.FirebaseProjectID == "" {
			return errors.New("firestore driver needs FIREBASE_PROJECT_ID")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	return nil
}

func durationOr(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
