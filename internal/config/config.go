package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	AppEnv          string        `env:"APP_ENV" envDefault:"production"`
	RegistryBackend string        `env:"REGISTRY_BACKEND" envDefault:"memory"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	WSWriteTimeout  time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	ClaimRateWindow time.Duration `env:"CLAIM_RATE_WINDOW" envDefault:"1m"`
	ClaimRateMax    int           `env:"CLAIM_RATE_MAX" envDefault:"10"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Development indica si se corre en modo desarrollo.
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}
