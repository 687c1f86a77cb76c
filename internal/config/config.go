package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is loaded from the environment (and an optional .env file).
type Config struct {
	Addr     string `env:"MAILCRON_ADDR" envDefault:":8080"`
	LogLevel string `env:"MAILCRON_LOG_LEVEL" envDefault:"info"`

	Store Store
	Tick  Tick
}

type Store struct {
	Driver string `env:"MAILCRON_STORE_DRIVER" envDefault:"sqlite"`
	Path   string `env:"MAILCRON_STORE_PATH" envDefault:"data/tasks.db"`
}

type Tick struct {
	Interval     time.Duration `env:"MAILCRON_TICK_INTERVAL" envDefault:"60s"`
	Grace        time.Duration `env:"MAILCRON_TICK_GRACE" envDefault:"5s"`
	SendTimeout  time.Duration `env:"MAILCRON_SEND_TIMEOUT" envDefault:"30s"`
	BackoffBase  time.Duration `env:"MAILCRON_BACKOFF_BASE" envDefault:"1m"`
	BackoffMax   time.Duration `env:"MAILCRON_BACKOFF_MAX" envDefault:"15m"`
	TransportTTL time.Duration `env:"MAILCRON_TRANSPORT_IDLE_TTL" envDefault:"15m"`
}

// Load reads .env (when present) and parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &c, nil
}
