package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into cfg, which must be a pointer to a struct
// using `env` / `envDefault` tags:
//
//	type Config struct {
//	    HTTPPort       int    `env:"CART_HTTP_PORT" envDefault:"3002"`
//	    CatalogBaseURL string `env:"CATALOG_BASE_URL" envDefault:"http://localhost:3000"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
