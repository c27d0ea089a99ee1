package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is loaded from the environment.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	GraphQLEndpoint    string        `env:"SIGNWARS_GRAPHQL_ENDPOINT"`
	GraphQLAdminSecret string        `env:"SIGNWARS_GRAPHQL_ADMIN_SECRET"`
	GraphQLTimeout     time.Duration `env:"SIGNWARS_GRAPHQL_TIMEOUT" envDefault:"10s"`

	SessionDB      string        `env:"SIGNWARS_SESSION_DB"`
	SessionIdleTTL time.Duration `env:"SIGNWARS_SESSION_IDLE_TTL" envDefault:"24h"`

	GCPProjectID string `env:"GCP_PROJECT_ID"`
	GCPRegion    string `env:"GCP_REGION"`

	OTelEndpoint string `env:"SIGNWARS_OTEL_ENDPOINT"`
}

// LoadConfig parses the environment into a Config.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.GraphQLTimeout <= 0 {
		return Config{}, fmt.Errorf("SIGNWARS_GRAPHQL_TIMEOUT must be positive, got %s", cfg.GraphQLTimeout)
	}
	if cfg.SessionIdleTTL <= 0 {
		return Config{}, fmt.Errorf("SIGNWARS_SESSION_IDLE_TTL must be positive, got %s", cfg.SessionIdleTTL)
	}
	return cfg, nil
}
