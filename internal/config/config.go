// ABOUTME: Server configuration from SYNCJAM_* environment variables
// ABOUTME: Flags in cmd binaries override individual fields
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds server settings.
type Config struct {
	Port int    `env:"SYNCJAM_PORT" envDefault:"8927"`
	Name string `env:"SYNCJAM_NAME" envDefault:""`

	ResolverURL string `env:"SYNCJAM_RESOLVER_URL" envDefault:"http://127.0.0.1:5000"`

	RedisAddr     string `env:"SYNCJAM_REDIS_ADDR" envDefault:""` // empty disables snapshots
	RedisPassword string `env:"SYNCJAM_REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"SYNCJAM_REDIS_DB" envDefault:"0"`

	EnableMDNS bool `env:"SYNCJAM_MDNS" envDefault:"true"`
	Debug      bool `env:"SYNCJAM_DEBUG" envDefault:"false"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
