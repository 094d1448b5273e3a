package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the kiko panel server.
type Config struct {
	Server  ServerConfig
	Data    DataConfig
	Trainer TrainerConfig
	Auth    AuthConfig
	Catalog CatalogConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DataConfig struct {
	// Dir is where the state database and uploaded images live. An empty
	// value (KIKO_DATA_DIR=none) runs the panel memory-only.
	Dir string
}

type TrainerConfig struct {
	BaseURL string
	Timeout time.Duration
}

type AuthConfig struct {
	// PasswordHash is a bcrypt hash of the panel password. When empty the
	// API is open, which is the expected mode for local use.
	PasswordHash string
}

type CatalogConfig struct {
	ModelsFile string
	CacheTTL   time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("KIKO_PORT", 8771),
			Env:  envString("KIKO_ENV", "development"),
		},
		Data: DataConfig{
			Dir: envString("KIKO_DATA_DIR", defaultDataDir()),
		},
		Trainer: TrainerConfig{
			BaseURL: os.Getenv("TRAINER_BASE_URL"),
			// Captioning holds the request open for the full inference.
			Timeout: envDuration("TRAINER_TIMEOUT", 5*time.Minute),
		},
		Auth: AuthConfig{
			PasswordHash: os.Getenv("KIKO_AUTH_PASSWORD_HASH"),
		},
		Catalog: CatalogConfig{
			ModelsFile: envString("KIKO_MODELS_FILE", "models.yaml"),
			CacheTTL:   envDuration("KIKO_MODEL_CACHE_TTL", 30*time.Second),
		},
	}

	if cfg.Data.Dir == "none" {
		cfg.Data.Dir = ""
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Trainer.BaseURL == "" {
		return fmt.Errorf("TRAINER_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Trainer.BaseURL, "http://") && !strings.HasPrefix(c.Trainer.BaseURL, "https://") {
		return fmt.Errorf("TRAINER_BASE_URL must start with http:// or https://, got %q", c.Trainer.BaseURL)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("KIKO_PORT must be a valid port, got %d", c.Server.Port)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kiko-panel"
	}
	return filepath.Join(home, ".kiko-panel")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
