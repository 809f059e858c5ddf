package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Engine.DueDateGraceDays)

	d, err := cfg.SchedulerInterval()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: A TOML file and an environment override
	path := filepath.Join(t.TempDir(), "deficit.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9000

[storage]
backend = "redis"
redis_address = "cache:6379"

[engine]
manager_pin = "2580"
monthly_salary = "2200"

[scheduler]
interval = "1h"
`), 0o644))
	t.Setenv("DEFICIT_PORT", "9100")
	t.Setenv("DEFICIT_GRACE_DAYS", "7")
	t.Setenv("DEFICIT_STORAGE", "")
	t.Setenv("REDIS_ADDRESS", "")

	// WHEN: The configuration is loaded
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: The environment wins over the file, the file over the defaults
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "cache:6379", cfg.Storage.RedisAddress)
	assert.Equal(t, "2580", cfg.Engine.ManagerPIN)
	assert.Equal(t, "2200", cfg.Engine.MonthlySalary)
	assert.Equal(t, 7, cfg.Engine.DueDateGraceDays)
	assert.Equal(t, "1h", cfg.Scheduler.Interval)
}

func TestLoad_BadEnvironment(t *testing.T) {
	t.Setenv("DEFICIT_PORT", "eighty")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
		ok   bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }, false},
		{"gcs without bucket", func(c *Config) { c.Sink.Kind = SinkGCS }, false},
		{"gcs with bucket", func(c *Config) { c.Sink.Kind = SinkGCS; c.Sink.Bucket = "receipts" }, true},
		{"unknown sink", func(c *Config) { c.Sink.Kind = "fax" }, false},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = "0s" }, false},
		{"negative grace", func(c *Config) { c.Engine.DueDateGraceDays = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.edit(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	logger := NewLogger("chatty", "text")
	assert.Equal(t, "info", logger.GetLevel().String())
}
