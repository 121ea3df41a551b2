package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.nido/config.toml.
type Config struct {
	DefaultProfile string         `toml:"default_profile"`
	Catalog        CatalogConfig  `toml:"catalog"`
	Payments       PaymentsConfig `toml:"payments"`
}

// CatalogConfig holds the hosted catalog backend credentials.
type CatalogConfig struct {
	Endpoint string `toml:"endpoint"`
	Project  string `toml:"project"`
	APIKey   string `toml:"api_key"`
}

// PaymentsConfig holds the payment provider settings.
type PaymentsConfig struct {
	PublicKey string `toml:"public_key"`
	Currency  string `toml:"currency"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ApplyEnv overlays NIDO_* environment variables onto cfg, loading the
// dotenv file at envPath first when it exists. Environment values win over
// config.toml so credentials can stay out of the config file.
func ApplyEnv(cfg *Config, envPath string) {
	if envPath != "" {
		// Missing dotenv file is fine; real env vars still apply.
		_ = godotenv.Load(envPath)
	}
	cfg.Catalog.Endpoint = getEnv("NIDO_CATALOG_ENDPOINT", cfg.Catalog.Endpoint)
	cfg.Catalog.Project = getEnv("NIDO_CATALOG_PROJECT", cfg.Catalog.Project)
	cfg.Catalog.APIKey = getEnv("NIDO_CATALOG_API_KEY", cfg.Catalog.APIKey)
	cfg.Payments.PublicKey = getEnv("NIDO_PAYMENTS_PUBLIC_KEY", cfg.Payments.PublicKey)
	cfg.Payments.Currency = getEnv("NIDO_PAYMENTS_CURRENCY", cfg.Payments.Currency)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
