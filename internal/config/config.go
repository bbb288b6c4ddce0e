// Package config loads command configuration from the environment. The
// engine packages never read the environment themselves; the binaries in
// cmd/ parse a Config and pass the pieces down.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings shared by the operational commands.
type Config struct {
	// PGDSN is the PostgreSQL connection string.
	PGDSN string `env:"AGROCOOP_PG_DSN"`

	// RedisAddr enables the volatile recovery-token store when set;
	// otherwise tokens go to PostgreSQL.
	RedisAddr     string `env:"AGROCOOP_REDIS_ADDR"`
	RedisPassword string `env:"AGROCOOP_REDIS_PASSWORD"`
	RedisDB       int    `env:"AGROCOOP_REDIS_DB" envDefault:"0"`

	// SigningKey signs session access tokens.
	SigningKey string `env:"AGROCOOP_SIGNING_KEY"`

	// MetricsAddr is where the sweeper serves /metrics.
	MetricsAddr string `env:"AGROCOOP_METRICS_ADDR" envDefault:":9102"`

	// SweepInterval is the pause between expiry sweeps.
	SweepInterval time.Duration `env:"AGROCOOP_SWEEP_INTERVAL" envDefault:"1m"`

	// SessionRetention is how long dead session rows are kept before the
	// reaper deletes them.
	SessionRetention time.Duration `env:"AGROCOOP_SESSION_RETENTION" envDefault:"720h"`

	MigrationsDir string `env:"AGROCOOP_MIGRATIONS_DIR" envDefault:"ops/migrations/sql"`
	SeedsDir      string `env:"AGROCOOP_SEEDS_DIR" envDefault:"ops/migrations/seeds"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
