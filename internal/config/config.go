package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/signalsfoundry/mission-runtime/internal/session"
)

// Config is the process configuration, read from the environment. A .env
// file in the working directory is loaded first when present.
type Config struct {
	ListenAddr string `env:"RUNTIME_LISTEN_ADDR" envDefault:":8080"`

	TickIntervalMS     int `env:"RUNTIME_TICK_INTERVAL_MS" envDefault:"1000"`
	IdleEvictionMS     int `env:"RUNTIME_IDLE_EVICTION_MS" envDefault:"30000"`
	CommandQueueMax    int `env:"RUNTIME_COMMAND_QUEUE_MAX" envDefault:"32"`
	PersistCoalesceMS  int `env:"RUNTIME_PERSIST_COALESCE_MS" envDefault:"2000"`
	PersistRetryCap    int `env:"RUNTIME_PERSIST_RETRY_CAP" envDefault:"5"`
	BroadcastHighWater int `env:"RUNTIME_BROADCAST_HIGH_WATER_MARK" envDefault:"64"`
	JoinTimeoutMS      int `env:"RUNTIME_JOIN_TIMEOUT_MS" envDefault:"10000"`

	// RedisURL empty selects the in-memory store.
	RedisURL  string `env:"RUNTIME_REDIS_URL"`
	JWTSecret string `env:"RUNTIME_JWT_SECRET,required"`

	CatalogPath  string    `env:"RUNTIME_CATALOG_PATH" envDefault:"catalog.json"`
	MissionStart time.Time `env:"RUNTIME_MISSION_START" envDefault:"2026-01-01T00:00:00Z"`

	LogLevel  string `env:"RUNTIME_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"RUNTIME_LOG_FORMAT" envDefault:"json"`
}

// Load reads .env (if any) and the environment into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TickIntervalMS <= 0 {
		return fmt.Errorf("config: RUNTIME_TICK_INTERVAL_MS must be positive, got %d", c.TickIntervalMS)
	}
	if c.CommandQueueMax <= 0 {
		return fmt.Errorf("config: RUNTIME_COMMAND_QUEUE_MAX must be positive, got %d", c.CommandQueueMax)
	}
	if c.BroadcastHighWater <= 0 {
		return fmt.Errorf("config: RUNTIME_BROADCAST_HIGH_WATER_MARK must be positive, got %d", c.BroadcastHighWater)
	}
	return nil
}

// SessionOptions translates the config into runtime options.
func (c Config) SessionOptions() session.Options {
	return session.Options{
		TickInterval:    time.Duration(c.TickIntervalMS) * time.Millisecond,
		IdleEviction:    time.Duration(c.IdleEvictionMS) * time.Millisecond,
		CommandQueueMax: c.CommandQueueMax,
		PersistCoalesce: time.Duration(c.PersistCoalesceMS) * time.Millisecond,
		PersistRetryCap: c.PersistRetryCap,
		JoinTimeout:     time.Duration(c.JoinTimeoutMS) * time.Millisecond,
	}
}
