package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
telegram_token: "test-token"
openrouter_api_key: "test-key"
source_channel_ids: [-1001, -1002]
target_channel_id: -2001
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OpenRouterModel != "anthropic/claude-3-opus-20240229" {
		t.Errorf("OpenRouterModel = %q, want default", cfg.OpenRouterModel)
	}
	if cfg.DigestTime != "09:00" {
		t.Errorf("DigestTime = %q, want %q", cfg.DigestTime, "09:00")
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want %q", cfg.Timezone, "UTC")
	}
	if len(cfg.TradFiTopics) == 0 {
		t.Error("TradFiTopics default not applied")
	}
	if len(cfg.CryptoTopics) == 0 {
		t.Error("CryptoTopics default not applied")
	}
	if cfg.TranslationStyle != "business" {
		t.Errorf("TranslationStyle = %q, want %q", cfg.TranslationStyle, "business")
	}
	if cfg.MaxItemsPerTopic != 3 {
		t.Errorf("MaxItemsPerTopic = %d, want 3", cfg.MaxItemsPerTopic)
	}
	if cfg.MaxKeyItems != 5 {
		t.Errorf("MaxKeyItems = %d, want 5", cfg.MaxKeyItems)
	}
	if cfg.RequestTimeout != 60 {
		t.Errorf("RequestTimeout = %d, want 60", cfg.RequestTimeout)
	}
	if cfg.DBPath != "./marketpulse.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "./marketpulse.db")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadOverrideDefaults(t *testing.T) {
	content := `
telegram_token: "test-token"
openrouter_api_key: "test-key"
openrouter_model: "anthropic/claude-3-haiku"
source_channel_ids: [-1001]
target_channel_id: -2001
db_path: "/data/bot.db"
digest_time: "18:30"
timezone: "America/New_York"
tradfi_topics: ["macro"]
crypto_topics: ["bitcoin"]
translation_style: "casual"
max_items_per_topic: 5
max_key_items: 10
request_timeout_secs: 30
log_level: "debug"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OpenRouterModel != "anthropic/claude-3-haiku" {
		t.Errorf("OpenRouterModel = %q", cfg.OpenRouterModel)
	}
	if len(cfg.SourceChannelIDs) != 1 || cfg.SourceChannelIDs[0] != -1001 {
		t.Errorf("SourceChannelIDs = %v", cfg.SourceChannelIDs)
	}
	if cfg.TargetChannelID != -2001 {
		t.Errorf("TargetChannelID = %d", cfg.TargetChannelID)
	}
	if cfg.DigestTime != "18:30" {
		t.Errorf("DigestTime = %q", cfg.DigestTime)
	}
	if cfg.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", cfg.Timezone)
	}
	if len(cfg.TradFiTopics) != 1 || cfg.TradFiTopics[0] != "macro" {
		t.Errorf("TradFiTopics = %v", cfg.TradFiTopics)
	}
	if cfg.TranslationStyle != "casual" {
		t.Errorf("TranslationStyle = %q", cfg.TranslationStyle)
	}
	if cfg.MaxItemsPerTopic != 5 {
		t.Errorf("MaxItemsPerTopic = %d", cfg.MaxItemsPerTopic)
	}
	if cfg.RequestTimeout != 30 {
		t.Errorf("RequestTimeout = %d", cfg.RequestTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing token",
			content: `
openrouter_api_key: "test-key"
source_channel_ids: [-1001]
target_channel_id: -2001
`,
		},
		{
			name: "missing api key",
			content: `
telegram_token: "test-token"
source_channel_ids: [-1001]
target_channel_id: -2001
`,
		},
		{
			name: "no source channels",
			content: `
telegram_token: "test-token"
openrouter_api_key: "test-key"
target_channel_id: -2001
`,
		},
		{
			name: "missing target channel",
			content: `
telegram_token: "test-token"
openrouter_api_key: "test-key"
source_channel_ids: [-1001]
`,
		},
		{
			name: "bad digest time",
			content: minimalConfig + `
digest_time: "25:00"
`,
		},
		{
			name: "bad timezone",
			content: minimalConfig + `
timezone: "Invalid/Zone"
`,
		},
		{
			name: "negative request timeout",
			content: minimalConfig + `
request_timeout_secs: -5
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadNegativeCapsDisableLimits(t *testing.T) {
	content := minimalConfig + `
max_items_per_topic: -1
max_key_items: -1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Negative caps pass through untouched; only 0 selects the default.
	if cfg.MaxItemsPerTopic != -1 {
		t.Errorf("MaxItemsPerTopic = %d, want -1", cfg.MaxItemsPerTopic)
	}
	if cfg.MaxKeyItems != -1 {
		t.Errorf("MaxKeyItems = %d, want -1", cfg.MaxKeyItems)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "telegram_token: [unclosed")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MARKETPULSE_DB", "/env/override.db")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != "/env/override.db" {
		t.Errorf("DBPath = %q, want env override", cfg.DBPath)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("MARKETPULSE_CONFIG", "/etc/marketpulse.yaml")
	if got := GetConfigPath(); got != "/etc/marketpulse.yaml" {
		t.Errorf("GetConfigPath = %q", got)
	}

	t.Setenv("MARKETPULSE_CONFIG", "")
	if got := GetConfigPath(); got != "./config.yaml" {
		t.Errorf("GetConfigPath = %q, want default", got)
	}
}
