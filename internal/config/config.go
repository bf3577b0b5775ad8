// Package config loads configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime settings.
type Config struct {
	DatabaseURL  string `env:"DATABASE_URL,required"`
	GoogleAPIKey string `env:"GOOGLE_API_KEY"`
	ChatAPIKey   string `env:"CHAT_API_KEY"`
	ChatBaseURL  string `env:"CHAT_BASE_URL"`

	ChatModel      string `env:"CHAT_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`

	LogFile  string `env:"LOG_FILE"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Defaults applied to characters that carry no explicit budgets.
	MaxMemory          int     `env:"MAX_MEMORY" envDefault:"20"`
	PinnedMemory       int     `env:"PINNED_MEMORY" envDefault:"5"`
	WorldBookScanDepth int     `env:"WORLD_BOOK_SCAN_DEPTH" envDefault:"4"`
	SemanticThreshold  float64 `env:"SEMANTIC_THRESHOLD" envDefault:"0.7"`
}

// Load reads env vars, applies defaults, and validates required fields.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.SemanticThreshold < 0 || cfg.SemanticThreshold > 1 {
		return Config{}, fmt.Errorf("SEMANTIC_THRESHOLD must be in [0,1], got %v", cfg.SemanticThreshold)
	}
	return cfg, nil
}
