package config

import (
	"fmt"

	"github.com/Netflix/go-env"

	"github.com/boletapp/scan-engine/internal/domain"
)

type Config struct {
	DatabaseDSN      string `env:"DATABASE_DSN,required=true"`
	RedisURL         string `env:"REDIS_URL,required=true"`
	VisionAPIURL     string `env:"VISION_API_URL,required=true"`
	VisionAPIKey     string `env:"VISION_API_KEY,required=true"`
	MaxBatchSize     int    `env:"MAX_BATCH_SIZE,default=10"`
	AnalyzeTimeoutMs int    `env:"ANALYZE_TIMEOUT_MS,default=30000"`
	APIPort          int    `env:"API_PORT,default=8080"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxBatchSize < 1 || c.MaxBatchSize > domain.MaxBatchSize {
		return fmt.Errorf("MAX_BATCH_SIZE must be between 1 and %d (got %d)", domain.MaxBatchSize, c.MaxBatchSize)
	}
	if c.AnalyzeTimeoutMs <= 0 {
		return fmt.Errorf("ANALYZE_TIMEOUT_MS must be positive (got %d)", c.AnalyzeTimeoutMs)
	}
	return nil
}
