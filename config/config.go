package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	TelegramToken    string   `yaml:"telegram_token"`
	OpenRouterAPIKey string   `yaml:"openrouter_api_key"`
	OpenRouterModel  string   `yaml:"openrouter_model"`
	SourceChannelIDs []int64  `yaml:"source_channel_ids"`
	TargetChannelID  int64    `yaml:"target_channel_id"`
	DBPath           string   `yaml:"db_path"`
	DigestTime       string   `yaml:"digest_time"`
	Timezone         string   `yaml:"timezone"`
	TradFiTopics     []string `yaml:"tradfi_topics"`
	CryptoTopics     []string `yaml:"crypto_topics"`
	TranslationStyle string   `yaml:"translation_style"`

	// Display caps. 0 means "use the default"; a negative value disables
	// the cap entirely.
	MaxItemsPerTopic int `yaml:"max_items_per_topic"`
	MaxKeyItems      int `yaml:"max_key_items"`

	// RequestTimeout is the per-call timeout in seconds for outbound API
	// requests. 0 means "use the default"; negative values are rejected.
	RequestTimeout int `yaml:"request_timeout_secs"`

	LogLevel string `yaml:"log_level"`
}

// digestTimeRegex validates HH:MM format with proper ranges.
var digestTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("MARKETPULSE_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

func applyDefaults(cfg *Config) {
	if cfg.OpenRouterModel == "" {
		cfg.OpenRouterModel = "anthropic/claude-3-opus-20240229"
	}
	if cfg.DigestTime == "" {
		cfg.DigestTime = "09:00"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if len(cfg.TradFiTopics) == 0 {
		cfg.TradFiTopics = []string{
			"economy", "fed", "inflation", "rates", "markets",
			"stocks", "bonds", "real estate", "trading",
		}
	}
	if len(cfg.CryptoTopics) == 0 {
		cfg.CryptoTopics = []string{
			"bitcoin", "altcoins", "defi", "nft", "blockchain",
			"mining", "tokens", "smart contracts",
		}
	}
	if cfg.TranslationStyle == "" {
		cfg.TranslationStyle = "business"
	}
	if cfg.MaxItemsPerTopic == 0 {
		cfg.MaxItemsPerTopic = 3
	}
	if cfg.MaxKeyItems == 0 {
		cfg.MaxKeyItems = 5
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./marketpulse.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if dbPath := os.Getenv("MARKETPULSE_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
}

func validate(cfg *Config) error {
	if cfg.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required")
	}
	if cfg.OpenRouterAPIKey == "" {
		return fmt.Errorf("openrouter_api_key is required")
	}
	if len(cfg.SourceChannelIDs) == 0 {
		return fmt.Errorf("source_channel_ids must list at least one channel")
	}
	if cfg.TargetChannelID == 0 {
		return fmt.Errorf("target_channel_id is required")
	}
	if !digestTimeRegex.MatchString(cfg.DigestTime) {
		return fmt.Errorf("digest_time must be in HH:MM format (00:00-23:59), got %q", cfg.DigestTime)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout_secs must not be negative, got %d", cfg.RequestTimeout)
	}
	return nil
}
