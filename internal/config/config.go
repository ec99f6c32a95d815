// Package config loads the mailflow server configuration from environment
// variables. A .env file found in the working directory or any parent is
// loaded first; variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/mailflow"
	"github.com/dmitrymomot/mailflow/pkg/db"
	"github.com/dmitrymomot/mailflow/pkg/logger"
	"github.com/dmitrymomot/mailflow/pkg/redis"
	"github.com/dmitrymomot/mailflow/pkg/storage"
)

// ErrInvalidConfig wraps every Load failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Dispatch modes.
const (
	DispatchInline = "inline"
	DispatchPool   = "pool"
	DispatchQueue  = "queue"
)

// Config is the full process configuration.
type Config struct {
	Mailflow mailflow.Config
	Storage  storage.Config
	Redis    redis.Config
	Log      logger.Config
	Sentry   logger.SentryConfig
	DB       db.Config
	Server   Server
	Dispatch Dispatch
}

// Server holds HTTP listener settings.
type Server struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Dispatch selects how jobs reach the provider.
type Dispatch struct {
	// Mode is inline, pool or queue.
	Mode      string  `env:"DISPATCH_MODE" envDefault:"pool"`
	Workers   int     `env:"DISPATCH_WORKERS" envDefault:"4"`
	QueueSize int     `env:"DISPATCH_QUEUE_SIZE" envDefault:"256"`
	RateLimit float64 `env:"DISPATCH_RATE_LIMIT" envDefault:"0"` // per second, 0 disables
	RateBurst int     `env:"DISPATCH_RATE_BURST" envDefault:"1"`
	// SweepSchedule is a 5-field cron expression. Empty disables the sweeper.
	SweepSchedule string `env:"SWEEP_SCHEDULE" envDefault:"* * * * *"`
	SeedTemplates bool   `env:"SEED_TEMPLATES" envDefault:"true"`
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	loadDotEnv()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	switch cfg.Dispatch.Mode {
	case DispatchInline, DispatchPool, DispatchQueue:
	default:
		return nil, fmt.Errorf("%w: DISPATCH_MODE must be inline, pool or queue, got %q", ErrInvalidConfig, cfg.Dispatch.Mode)
	}
	if err := cfg.Mailflow.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// loadDotEnv loads the nearest .env walking up from the working directory.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
