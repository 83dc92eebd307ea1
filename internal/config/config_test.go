package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/persona/internal/errs"
)

var envKeys = []string{
	"CONFIG_ENV", "PERSONA_CONFIG", "LOG_LEVEL", "LOG_FORMAT",
	"REDDIT_CLIENT_ID", "CLIENT_ID", "REDDIT_CLIENT_SECRET", "CLIENT_SECRET",
	"REDDIT_USER_AGENT", "USER_AGENT",
	"LLM_PROVIDER", "LLM_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	"LLM_BASE_URL", "PERSONA_MODEL", "PERSONA_TEMPERATURE", "PERSONA_MAX_TOKENS",
	"PERSONA_POST_LIMIT", "PERSONA_COMMENT_LIMIT", "PERSONA_PROMPT_BUDGET",
	"PERSONA_MAX_ATTEMPTS", "PERSONA_ATTEMPT_TIMEOUT", "PERSONA_MAX_ITEM_CHARS",
	"PERSONA_RUN_TIMEOUT", "REDDIT_REQUEST_TIMEOUT",
	"PERSONA_OUTPUT_DIR", "PERSONA_CACHE_PATH", "PERSONA_CACHE_TTL", "PERSONA_SAVE_EXCHANGES",
	"PERSONA_PORT", "PERSONA_API_TOKEN",
	"NATS_URL", "NATS_TOKEN", "SLACK_BOT_TOKEN", "SLACK_CHANNEL",
}

// clearEnv blanks every key Load reads and points CONFIG_ENV at a file that
// does not exist, so a developer's config.env never leaks into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	t.Setenv("CONFIG_ENV", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8760 {
		t.Errorf("expected default port 8760, got %d", cfg.Port)
	}
	if cfg.LLMProvider != ProviderGroq {
		t.Errorf("expected default provider groq, got %s", cfg.LLMProvider)
	}
	if cfg.Model != "llama3-70b-8192" {
		t.Errorf("expected default model, got %s", cfg.Model)
	}
	if cfg.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", cfg.Temperature)
	}
	if cfg.MaxOutputTokens != 4000 {
		t.Errorf("expected 4000 max tokens, got %d", cfg.MaxOutputTokens)
	}
	if cfg.PostLimit != 30 || cfg.CommentLimit != 50 {
		t.Errorf("expected limits 30/50, got %d/%d", cfg.PostLimit, cfg.CommentLimit)
	}
	if cfg.MaxAttempts != 4 {
		t.Errorf("expected 4 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.AttemptTimeout != 90*time.Second {
		t.Errorf("expected 90s attempt timeout, got %s", cfg.AttemptTimeout)
	}
	if cfg.MaxItemChars != 1500 {
		t.Errorf("expected 1500 max item chars, got %d", cfg.MaxItemChars)
	}
	if cfg.RequestTimeout != 30*time.Second || cfg.RunTimeout != 10*time.Minute {
		t.Errorf("expected 30s request and 10m run timeouts, got %s/%s", cfg.RequestTimeout, cfg.RunTimeout)
	}
	if cfg.OutputDir != "personas" {
		t.Errorf("expected personas output dir, got %s", cfg.OutputDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.APIToken != "" {
		t.Errorf("expected empty default api token, got %s", cfg.APIToken)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERSONA_PORT", "9999")
	t.Setenv("NATS_URL", "nats://custom:4222")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("PERSONA_MODEL", "claude-opus-4-6")
	t.Setenv("PERSONA_TEMPERATURE", "0.2")
	t.Setenv("PERSONA_ATTEMPT_TIMEOUT", "15s")
	t.Setenv("PERSONA_SAVE_EXCHANGES", "true")
	t.Setenv("SLACK_CHANNEL", "C12345")
	t.Setenv("PERSONA_MAX_ITEM_CHARS", "800")
	t.Setenv("PERSONA_RUN_TIMEOUT", "2m")
	t.Setenv("REDDIT_REQUEST_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.NatsURL != "nats://custom:4222" {
		t.Errorf("expected custom nats url, got %s", cfg.NatsURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.LogLevel)
	}
	if cfg.LLMProvider != ProviderAnthropic {
		t.Errorf("expected provider anthropic, got %s", cfg.LLMProvider)
	}
	if cfg.LLMAPIKey != "sk-test-key" {
		t.Errorf("expected provider api key, got %s", cfg.LLMAPIKey)
	}
	if cfg.Model != "claude-opus-4-6" {
		t.Errorf("expected custom model, got %s", cfg.Model)
	}
	if cfg.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", cfg.Temperature)
	}
	if cfg.AttemptTimeout != 15*time.Second {
		t.Errorf("expected 15s timeout, got %s", cfg.AttemptTimeout)
	}
	if !cfg.SaveExchanges {
		t.Error("expected exchange dumps enabled")
	}
	if cfg.SlackChannel != "C12345" {
		t.Errorf("expected custom slack channel, got %s", cfg.SlackChannel)
	}
	if cfg.MaxItemChars != 800 {
		t.Errorf("expected 800 max item chars, got %d", cfg.MaxItemChars)
	}
	if cfg.RunTimeout != 2*time.Minute {
		t.Errorf("expected 2m run timeout, got %s", cfg.RunTimeout)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("expected 5s request timeout, got %s", cfg.RequestTimeout)
	}
}

func TestLoad_LegacyRedditKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLIENT_ID", "legacy-id")
	t.Setenv("CLIENT_SECRET", "legacy-secret")
	t.Setenv("USER_AGENT", "legacy-agent")
	t.Setenv("REDDIT_CLIENT_ID", "new-id")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedditClientID != "new-id" {
		t.Errorf("REDDIT_CLIENT_ID should win, got %s", cfg.RedditClientID)
	}
	if cfg.RedditClientSecret != "legacy-secret" {
		t.Errorf("expected legacy secret, got %s", cfg.RedditClientSecret)
	}
	if cfg.RedditUserAgent != "legacy-agent" {
		t.Errorf("expected legacy agent, got %s", cfg.RedditUserAgent)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERSONA_PORT", "not-a-number")
	t.Setenv("PERSONA_TEMPERATURE", "warm")
	t.Setenv("PERSONA_ATTEMPT_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8760 {
		t.Errorf("expected fallback port 8760, got %d", cfg.Port)
	}
	if cfg.Temperature != 0.7 {
		t.Errorf("expected fallback temperature, got %v", cfg.Temperature)
	}
	if cfg.AttemptTimeout != 90*time.Second {
		t.Errorf("expected fallback timeout, got %s", cfg.AttemptTimeout)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.env")
	content := "CLIENT_ID=file-id\nCLIENT_SECRET=file-secret\nGROQ_API_KEY=gsk-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_ENV", path)
	// gotenv never overrides a variable that is present, even when empty.
	for _, key := range []string{"CLIENT_ID", "CLIENT_SECRET", "GROQ_API_KEY"} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedditClientID != "file-id" {
		t.Errorf("expected client id from env file, got %q", cfg.RedditClientID)
	}
	if cfg.LLMAPIKey != "gsk-file" {
		t.Errorf("expected groq key from env file, got %q", cfg.LLMAPIKey)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "persona.toml")
	content := `
provider = "gemini"
post_limit = 10
comment_limit = 20
prompt_budget = 5000
max_item_chars = 600
cache_ttl = "1h"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PERSONA_CONFIG", path)
	t.Setenv("PERSONA_COMMENT_LIMIT", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMProvider != ProviderGemini {
		t.Errorf("expected gemini from toml, got %s", cfg.LLMProvider)
	}
	if cfg.Model != "gemini-2.5-flash" {
		t.Errorf("expected gemini default model, got %s", cfg.Model)
	}
	if cfg.PostLimit != 10 {
		t.Errorf("expected post limit 10, got %d", cfg.PostLimit)
	}
	if cfg.CommentLimit != 25 {
		t.Errorf("env should override toml, got %d", cfg.CommentLimit)
	}
	if cfg.PromptBudget != 5000 {
		t.Errorf("expected budget 5000, got %d", cfg.PromptBudget)
	}
	if cfg.MaxItemChars != 600 {
		t.Errorf("expected 600 max item chars from toml, got %d", cfg.MaxItemChars)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("expected 1h cache ttl, got %s", cfg.CacheTTL)
	}
}

func TestLoad_BadTOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "persona.toml")
	if err := os.WriteFile(path, []byte("provider = [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PERSONA_CONFIG", path)

	_, err := Load()
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := defaults()
	valid.RedditClientID = "id"
	valid.RedditClientSecret = "secret"
	valid.LLMAPIKey = "key"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing client id", func(c *Config) { c.RedditClientID = "" }, "REDDIT_CLIENT_ID"},
		{"missing secret", func(c *Config) { c.RedditClientSecret = "" }, "REDDIT_CLIENT_SECRET"},
		{"missing groq key", func(c *Config) { c.LLMAPIKey = "" }, "GROQ_API_KEY"},
		{"missing openai key", func(c *Config) { c.LLMProvider = ProviderOpenAI; c.LLMAPIKey = "" }, "OPENAI_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "mystery" }, "unknown LLM_PROVIDER"},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "PERSONA_MAX_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, errs.ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q in %q", tt.wantErr, err.Error())
			}
		})
	}
}
