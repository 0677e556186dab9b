// Package config provides configuration loading for the ideal type bot
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"idealtype-bot/imagegen"
	"idealtype-bot/llm"
	"idealtype-bot/logger"
)

// Config holds the whole bot configuration
type Config struct {
	AppEnv   string `env:"APP_ENV" env-default:"development"`
	Logger   logger.Config
	Telegram TelegramConfig
	Chat     ChatConfig
	Image    ImageConfig
	Metrics  MetricsConfig
}

// TelegramConfig configures the bot surface
type TelegramConfig struct {
	Token              string        `env:"TELEGRAM_BOT_TOKEN" env-required:"true"`
	ChatID             int64         `env:"TELEGRAM_CHAT_ID" env-default:"0"` // 0 allows every chat
	PollingTimeout     int           `env:"TELEGRAM_POLLING_TIMEOUT" env-default:"60"`
	StreamEditInterval time.Duration `env:"TELEGRAM_STREAM_EDIT_INTERVAL" env-default:"1s"`
}

// ChatConfig configures the chat completion provider
type ChatConfig struct {
	Provider    string        `env:"CHAT_PROVIDER" env-default:"openai"`
	APIKey      string        `env:"CHAT_API_KEY"`
	BaseURL     string        `env:"CHAT_BASE_URL"`
	Model       string        `env:"CHAT_MODEL"`
	Region      string        `env:"CHAT_REGION"` // bedrock only
	MaxTokens   int           `env:"CHAT_MAX_TOKENS" env-default:"1000"`
	Temperature float64       `env:"CHAT_TEMPERATURE" env-default:"0.01"`
	TopP        float64       `env:"CHAT_TOP_P" env-default:"0.01"`
	Timeout     time.Duration `env:"CHAT_TIMEOUT" env-default:"120s"`
}

// ImageConfig configures portrait generation
type ImageConfig struct {
	Backend   string        `env:"IMAGE_BACKEND" env-default:"openai"`
	APIKey    string        `env:"IMAGE_API_KEY"`
	BaseURL   string        `env:"IMAGE_BASE_URL"`
	Model     string        `env:"IMAGE_MODEL"`
	Region    string        `env:"IMAGE_REGION" env-default:"us-east-1"` // titan on Bedrock
	OutputDir string        `env:"IMAGE_OUTPUT_DIR" env-default:"images"`
	Width     int           `env:"IMAGE_WIDTH" env-default:"512"`
	Height    int           `env:"IMAGE_HEIGHT" env-default:"512"`
	Quality   string        `env:"IMAGE_QUALITY" env-default:"standard"`
	CFGScale  float64       `env:"IMAGE_CFG_SCALE" env-default:"7.5"`
	Timeout   time.Duration `env:"IMAGE_TIMEOUT" env-default:"120s"`
}

// MetricsConfig configures the optional Pushgateway push
type MetricsConfig struct {
	PushGatewayURL string        `env:"PUSHGATEWAY_URL"`
	PushInterval   time.Duration `env:"METRICS_PUSH_INTERVAL" env-default:"15s"`
	JobName        string        `env:"METRICS_JOB_NAME" env-default:"idealtype_bot"`
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	if cfg.Metrics.PushInterval <= 0 {
		return nil, fmt.Errorf("METRICS_PUSH_INTERVAL must be positive, got %s", cfg.Metrics.PushInterval)
	}

	cfg.Chat.Provider = strings.ToLower(strings.TrimSpace(cfg.Chat.Provider))
	cfg.Image.Backend = strings.ToLower(strings.TrimSpace(cfg.Image.Backend))

	// provider specific keys, e.g. OPENAI_API_KEY or MINIMAX_API_KEY
	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = getEnv(providerKeyVar(cfg.Chat.Provider), "")
	}
	if cfg.Image.APIKey == "" && cfg.Image.Backend == "openai" {
		cfg.Image.APIKey = getEnv("OPENAI_API_KEY", "")
	}

	return &cfg, nil
}

// ProviderConfig maps the chat settings to an llm.ProviderConfig
func (c *Config) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Name:        c.Chat.Provider,
		APIKey:      c.Chat.APIKey,
		BaseURL:     c.Chat.BaseURL,
		Model:       c.Chat.Model,
		Region:      c.Chat.Region,
		MaxTokens:   c.Chat.MaxTokens,
		Temperature: c.Chat.Temperature,
		TopP:        c.Chat.TopP,
		Timeout:     c.Chat.Timeout,
	}.WithDefaults()
}

// ImageGenConfig maps the image settings to an imagegen.Config
func (c *Config) ImageGenConfig() imagegen.Config {
	return imagegen.Config{
		Backend:   c.Image.Backend,
		APIKey:    c.Image.APIKey,
		BaseURL:   c.Image.BaseURL,
		Model:     c.Image.Model,
		Region:    c.Image.Region,
		OutputDir: c.Image.OutputDir,
		Width:     c.Image.Width,
		Height:    c.Image.Height,
		Quality:   c.Image.Quality,
		CFGScale:  c.Image.CFGScale,
		Timeout:   c.Image.Timeout,
	}
}

func providerKeyVar(provider string) string {
	name := strings.ToUpper(strings.ReplaceAll(provider, ".", ""))
	return name + "_API_KEY"
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
