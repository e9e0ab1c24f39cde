package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the engine configuration.
type Config struct {
	Port string `env:"SERVER_PORT" envDefault:"8080"`
	Env  string `env:"ENVIRONMENT" envDefault:"development"`

	// HostURL empty means no host: the engine runs in demo mode.
	HostURL           string        `env:"MARKET_HOST_URL"`
	HostProbe         bool          `env:"MARKET_HOST_PROBE" envDefault:"true"`
	PlayerID          string        `env:"MARKET_PLAYER_ID" envDefault:"player-1"`
	BridgeTimeout     time.Duration `env:"MARKET_BRIDGE_TIMEOUT" envDefault:"5s"`
	BridgeMaxAttempts int           `env:"MARKET_BRIDGE_MAX_ATTEMPTS" envDefault:"2"`
	PointsNoticeDelay time.Duration `env:"MARKET_POINTS_NOTICE_DELAY" envDefault:"500ms"`
	DefaultMarketID   string        `env:"MARKET_DEFAULT_ID" envDefault:"market_247"`
	MinPointWithdraw  int64         `env:"MARKET_MIN_POINT_WITHDRAW" envDefault:"500"`

	DemoCash   int64 `env:"MARKET_DEMO_CASH" envDefault:"5000"`
	DemoBank   int64 `env:"MARKET_DEMO_BANK" envDefault:"25000"`
	DemoPoints int64 `env:"MARKET_DEMO_POINTS" envDefault:"350"`
}

// HostConfig is the host simulator configuration.
type HostConfig struct {
	Port       string `env:"SERVER_PORT" envDefault:"9090"`
	Env        string `env:"ENVIRONMENT" envDefault:"development"`
	Store      string `env:"HOST_STORE" envDefault:"sqlite"`
	DBSource   string `env:"DB_SOURCE"`
	SQLitePath string `env:"HOST_SQLITE_PATH" envDefault:"hostsim.db"`
	EngineURL  string `env:"HOST_ENGINE_URL"`

	// MinPointWithdraw is enforced on withdrawPoints and sent to the engine with every balance.
	MinPointWithdraw int64 `env:"HOST_MIN_POINT_WITHDRAW" envDefault:"500"`
}

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.BridgeMaxAttempts < 1 {
		return nil, fmt.Errorf("MARKET_BRIDGE_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.MinPointWithdraw < 0 {
		return nil, fmt.Errorf("MARKET_MIN_POINT_WITHDRAW must not be negative")
	}
	if cfg.DemoCash < 0 || cfg.DemoBank < 0 || cfg.DemoPoints < 0 {
		return nil, fmt.Errorf("demo balances must not be negative")
	}
	return &cfg, nil
}

func LoadHost() (*HostConfig, error) {
	var cfg HostConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Store {
	case StorePostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case StoreSQLite:
	default:
		return nil, fmt.Errorf("HOST_STORE must be %q or %q, got %q", StorePostgres, StoreSQLite, cfg.Store)
	}
	if cfg.MinPointWithdraw <= 0 {
		return nil, fmt.Errorf("HOST_MIN_POINT_WITHDRAW must be positive")
	}
	return &cfg, nil
}

// Production reports whether logs should be JSON.
func (c *Config) Production() bool { return c.Env == "production" }

func (c *HostConfig) Production() bool { return c.Env == "production" }
