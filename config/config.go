/*
Package config loads process configuration and builds the logger.

PURPOSE:
  One Config value drives both binaries. Sources are layered, later ones
  win:

    1. Default()                  built-in defaults
    2. TOML file (-config flag)   e.g. deficit.toml
    3. .env in the working dir    loaded into the environment, never overrides it
    4. Environment variables      DEFICIT_*, REDIS_*, LOG_*
    5. Command-line flags         applied by cmd/server

ENGINE SETTINGS:
  The [engine] section only seeds the persisted engine settings on first
  boot (manager PIN, grace days, monthly salary). After that the copy in the
  key-value store is authoritative and is changed through the PIN-gated
  settings endpoint.

EXAMPLE FILE:
  [server]
  port = 8080

  [storage]
  backend = "sqlite"
  path = "deficits.db"

  [sink]
  kind = "spool"
  spool_dir = "./spool"

  [scheduler]
  interval = "24h"

SEE ALSO:
  - logger.go: logrus construction
  - cmd/server/main.go: flag overrides
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendSQLitePure = "sqlite-pure"
	BackendRedis      = "redis"
)

// Sink kinds.
const (
	SinkSpool = "spool"
	SinkGCS   = "gcs"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Sink      SinkConfig      `toml:"sink"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Engine    EngineConfig    `toml:"engine"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type StorageConfig struct {
	Backend       string `toml:"backend"`
	Path          string `toml:"path"`
	RedisAddress  string `toml:"redis_address"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

type SinkConfig struct {
	Kind     string `toml:"kind"`
	SpoolDir string `toml:"spool_dir"`
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix"`
}

type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
}

type EngineConfig struct {
	ManagerPIN       string `toml:"manager_pin"`
	DueDateGraceDays int    `toml:"due_date_grace_days"`
	MonthlySalary    string `toml:"monthly_salary"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Storage: StorageConfig{
			Backend:      BackendSQLite,
			Path:         "deficits.db",
			RedisAddress: "localhost:6379",
			RedisPrefix:  "deficit:",
		},
		Sink: SinkConfig{
			Kind:     SinkSpool,
			SpoolDir: "spool",
			Prefix:   "receipts/",
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: "24h",
		},
		Engine: EngineConfig{
			DueDateGraceDays: 5,
			MonthlySalary:    "0",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, the TOML file at path (optional, may be ""), .env and
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	// Missing .env is normal.
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	if err := num("DEFICIT_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if v := os.Getenv("DEFICIT_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	str("DEFICIT_STORAGE", &cfg.Storage.Backend)
	str("DEFICIT_DB", &cfg.Storage.Path)
	str("REDIS_ADDRESS", &cfg.Storage.RedisAddress)
	str("REDIS_PASSWORD", &cfg.Storage.RedisPassword)
	if err := num("REDIS_DB", &cfg.Storage.RedisDB); err != nil {
		return err
	}
	str("DEFICIT_SINK", &cfg.Sink.Kind)
	str("DEFICIT_SPOOL_DIR", &cfg.Sink.SpoolDir)
	str("DEFICIT_GCS_BUCKET", &cfg.Sink.Bucket)
	str("DEFICIT_SCHEDULER_INTERVAL", &cfg.Scheduler.Interval)
	if v := os.Getenv("DEFICIT_SCHEDULER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEFICIT_SCHEDULER_ENABLED: %w", err)
		}
		cfg.Scheduler.Enabled = b
	}
	str("DEFICIT_MANAGER_PIN", &cfg.Engine.ManagerPIN)
	if err := num("DEFICIT_GRACE_DAYS", &cfg.Engine.DueDateGraceDays); err != nil {
		return err
	}
	str("DEFICIT_MONTHLY_SALARY", &cfg.Engine.MonthlySalary)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	return nil
}

// Validate rejects configurations the binaries cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendSQLitePure, BackendRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Sink.Kind {
	case SinkSpool:
	case SinkGCS:
		if c.Sink.Bucket == "" {
			return errors.New("sink kind gcs requires a bucket")
		}
	default:
		return fmt.Errorf("unknown sink kind %q", c.Sink.Kind)
	}
	if _, err := c.SchedulerInterval(); err != nil {
		return err
	}
	if c.Engine.DueDateGraceDays < 0 {
		return errors.New("due_date_grace_days must not be negative")
	}
	return nil
}

// SchedulerInterval parses Scheduler.Interval.
func (c Config) SchedulerInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Scheduler.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid scheduler interval %q: %w", c.Scheduler.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("scheduler interval must be positive, got %s", d)
	}
	return d, nil
}
