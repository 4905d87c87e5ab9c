package config

import (
	"math"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // DATE_LOCATION must resolve on hosts without zoneinfo

	"github.com/rotisserie/eris"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Server  ServerConfig
	GRPC    GRPCConfig
	Worker  WorkerConfig
	Source  SourceConfig
	DB      DatabaseConfig
	Logging LoggingConfig
	Engine  EngineConfig
	Metrics MetricsConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

// SourceConfig describes the upstream hazard backend that is polled for
// new records.
type SourceConfig struct {
	Enabled      bool
	URL          string
	PollInterval time.Duration
}

type DatabaseConfig struct {
	Driver string
	Path   string
	URL    string
}

type LoggingConfig struct {
	Level string
}

type EngineConfig struct {
	AlertRadiusMeters float64
	MaxSearchRadiusKm float64
	DateLocation      *time.Location
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	locName := getEnv("DATE_LOCATION", "Asia/Jakarta")
	loc, err := time.LoadLocation(locName)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid DATE_LOCATION %q", locName)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: getEnvInt("RATE_LIMIT_RPS", 5),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Source: SourceConfig{
			Enabled:      getEnvBool("HAZARD_SOURCE_ENABLED", false),
			URL:          getEnv("HAZARD_SOURCE_URL", ""),
			PollInterval: getEnvDuration("HAZARD_POLL_INTERVAL", 10*time.Minute),
		},
		DB: DatabaseConfig{
			Driver: getEnv("STORE_DRIVER", StoreSQLite),
			Path:   getEnv("DB_PATH", "./data/hazard-alerts.db"),
			URL:    getEnv("DATABASE_URL", ""),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Engine: EngineConfig{
			AlertRadiusMeters: getEnvFloat("ALERT_RADIUS_METERS", 500),
			MaxSearchRadiusKm: getEnvFloat("MAX_SEARCH_RADIUS_KM", 10),
			DateLocation:      loc,
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return eris.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return eris.Errorf("invalid grpc port: %d", c.GRPC.Port)
	}
	if c.Server.RateLimitRPS < 1 {
		return eris.Errorf("rate limit must be positive: %d", c.Server.RateLimitRPS)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return eris.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.DB.Driver {
	case StoreSQLite:
		if c.DB.Path == "" {
			return eris.New("DB_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.DB.URL == "" {
			return eris.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return eris.Errorf("unknown store driver: %s", c.DB.Driver)
	}

	if c.Source.Enabled {
		if c.Source.URL == "" {
			return eris.New("HAZARD_SOURCE_URL is required when the source is enabled")
		}
		if c.Source.PollInterval < time.Minute {
			return eris.New("hazard poll interval must be at least 1 minute")
		}
	}

	if !positiveFinite(c.Engine.AlertRadiusMeters) {
		return eris.Errorf("alert radius must be a positive number: %v", c.Engine.AlertRadiusMeters)
	}
	if !positiveFinite(c.Engine.MaxSearchRadiusKm) {
		return eris.Errorf("max search radius must be a positive number: %v", c.Engine.MaxSearchRadiusKm)
	}

	return nil
}

func positiveFinite(f float64) bool {
	return f > 0 && !math.IsInf(f, 0)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
