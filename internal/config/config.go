package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/subosito/gotenv"

	"github.com/MikeSquared-Agency/persona/internal/errs"
)

// LLM providers.
const (
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

var defaultModels = map[string]string{
	ProviderGroq:      "llama3-70b-8192",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-sonnet-4-20250514",
	ProviderGemini:    "gemini-2.5-flash",
}

type Config struct {
	LogLevel  string
	LogFormat string

	RedditClientID     string
	RedditClientSecret string
	RedditUserAgent    string
	RequestTimeout     time.Duration

	LLMProvider     string
	LLMAPIKey       string
	LLMBaseURL      string
	Model           string
	Temperature     float64
	MaxOutputTokens int

	PostLimit      int
	CommentLimit   int
	PromptBudget   int
	MaxItemChars   int
	MaxAttempts    int
	AttemptTimeout time.Duration
	RunTimeout     time.Duration

	OutputDir     string
	CachePath     string
	CacheTTL      time.Duration
	SaveExchanges bool

	Port     int
	APIToken string

	NatsURL       string
	NatsToken     string
	SlackBotToken string
	SlackChannel  string
}

// fileConfig is the optional TOML tuning file. Zero values leave the
// defaults untouched.
type fileConfig struct {
	Provider     string  `toml:"provider"`
	Model        string  `toml:"model"`
	Temperature  float64 `toml:"temperature"`
	MaxTokens    int     `toml:"max_tokens"`
	PostLimit    int     `toml:"post_limit"`
	CommentLimit int     `toml:"comment_limit"`
	PromptBudget int     `toml:"prompt_budget"`
	MaxItemChars int     `toml:"max_item_chars"`
	OutputDir    string  `toml:"output_dir"`
	CachePath    string  `toml:"cache_path"`
	CacheTTL     string  `toml:"cache_ttl"`
}

func defaults() Config {
	return Config{
		LogLevel:        "info",
		LogFormat:       "text",
		RedditUserAgent: "persona-analyzer/1.0",
		RequestTimeout:  30 * time.Second,
		LLMProvider:     ProviderGroq,
		Temperature:     0.7,
		MaxOutputTokens: 4000,
		PostLimit:       30,
		CommentLimit:    50,
		PromptBudget:    24000,
		MaxItemChars:    1500,
		MaxAttempts:     4,
		AttemptTimeout:  90 * time.Second,
		RunTimeout:      10 * time.Minute,
		OutputDir:       "personas",
		CacheTTL:        24 * time.Hour,
		Port:            8760,
	}
}

// Load resolves configuration from defaults, the config.env file, the
// optional TOML file named by PERSONA_CONFIG, and finally the environment.
func Load() (Config, error) {
	envFile := envStr("CONFIG_ENV", "config.env")
	if err := gotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w: %v", envFile, errs.ErrConfig, err)
	}

	cfg := defaults()
	if path := os.Getenv("PERSONA_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envStr("LOG_FORMAT", cfg.LogFormat)

	cfg.RedditClientID = envFirst("", "REDDIT_CLIENT_ID", "CLIENT_ID")
	cfg.RedditClientSecret = envFirst("", "REDDIT_CLIENT_SECRET", "CLIENT_SECRET")
	cfg.RedditUserAgent = envFirst(cfg.RedditUserAgent, "REDDIT_USER_AGENT", "USER_AGENT")
	cfg.RequestTimeout = envDuration("REDDIT_REQUEST_TIMEOUT", cfg.RequestTimeout)

	cfg.LLMProvider = strings.ToLower(envStr("LLM_PROVIDER", cfg.LLMProvider))
	cfg.LLMAPIKey = apiKeyFor(cfg.LLMProvider)
	cfg.LLMBaseURL = envStr("LLM_BASE_URL", "")
	cfg.Model = envStr("PERSONA_MODEL", cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.LLMProvider]
	}
	cfg.Temperature = envFloat("PERSONA_TEMPERATURE", cfg.Temperature)
	cfg.MaxOutputTokens = envInt("PERSONA_MAX_TOKENS", cfg.MaxOutputTokens)

	cfg.PostLimit = envInt("PERSONA_POST_LIMIT", cfg.PostLimit)
	cfg.CommentLimit = envInt("PERSONA_COMMENT_LIMIT", cfg.CommentLimit)
	cfg.PromptBudget = envInt("PERSONA_PROMPT_BUDGET", cfg.PromptBudget)
	cfg.MaxItemChars = envInt("PERSONA_MAX_ITEM_CHARS", cfg.MaxItemChars)
	cfg.MaxAttempts = envInt("PERSONA_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.AttemptTimeout = envDuration("PERSONA_ATTEMPT_TIMEOUT", cfg.AttemptTimeout)
	cfg.RunTimeout = envDuration("PERSONA_RUN_TIMEOUT", cfg.RunTimeout)

	cfg.OutputDir = envStr("PERSONA_OUTPUT_DIR", cfg.OutputDir)
	cfg.CachePath = envStr("PERSONA_CACHE_PATH", cfg.CachePath)
	cfg.CacheTTL = envDuration("PERSONA_CACHE_TTL", cfg.CacheTTL)
	cfg.SaveExchanges = envBool("PERSONA_SAVE_EXCHANGES", cfg.SaveExchanges)

	cfg.Port = envInt("PERSONA_PORT", cfg.Port)
	cfg.APIToken = envStr("PERSONA_API_TOKEN", "")

	cfg.NatsURL = envStr("NATS_URL", "")
	cfg.NatsToken = envStr("NATS_TOKEN", "")
	cfg.SlackBotToken = envStr("SLACK_BOT_TOKEN", "")
	cfg.SlackChannel = envStr("SLACK_CHANNEL", "")

	return cfg, nil
}

// Validate checks that the credentials an analysis run needs are present.
func (c Config) Validate() error {
	var problems []string
	if c.RedditClientID == "" {
		problems = append(problems, "REDDIT_CLIENT_ID is required")
	}
	if c.RedditClientSecret == "" {
		problems = append(problems, "REDDIT_CLIENT_SECRET is required")
	}
	if c.RedditUserAgent == "" {
		problems = append(problems, "REDDIT_USER_AGENT is required")
	}
	if _, ok := defaultModels[c.LLMProvider]; !ok {
		problems = append(problems, fmt.Sprintf("unknown LLM_PROVIDER %q", c.LLMProvider))
	} else if c.LLMAPIKey == "" {
		problems = append(problems, apiKeyVar(c.LLMProvider)+" is required")
	}
	if c.PostLimit < 0 || c.CommentLimit < 0 {
		problems = append(problems, "post and comment limits must not be negative")
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, "PERSONA_MAX_ATTEMPTS must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errs.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("decode %s: %w: %v", path, errs.ErrConfig, err)
	}
	if fc.Provider != "" {
		cfg.LLMProvider = strings.ToLower(fc.Provider)
	}
	if fc.Model != "" {
		cfg.Model = fc.Model
	}
	if fc.Temperature > 0 {
		cfg.Temperature = fc.Temperature
	}
	if fc.MaxTokens > 0 {
		cfg.MaxOutputTokens = fc.MaxTokens
	}
	if fc.PostLimit > 0 {
		cfg.PostLimit = fc.PostLimit
	}
	if fc.CommentLimit > 0 {
		cfg.CommentLimit = fc.CommentLimit
	}
	if fc.PromptBudget > 0 {
		cfg.PromptBudget = fc.PromptBudget
	}
	if fc.MaxItemChars > 0 {
		cfg.MaxItemChars = fc.MaxItemChars
	}
	if fc.OutputDir != "" {
		cfg.OutputDir = fc.OutputDir
	}
	if fc.CachePath != "" {
		cfg.CachePath = fc.CachePath
	}
	if fc.CacheTTL != "" {
		d, err := time.ParseDuration(fc.CacheTTL)
		if err != nil {
			return fmt.Errorf("cache_ttl: %w: %v", errs.ErrConfig, err)
		}
		cfg.CacheTTL = d
	}
	return nil
}

func apiKeyVar(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return "GROQ_API_KEY"
	}
}

func apiKeyFor(provider string) string {
	return envFirst("", "LLM_API_KEY", apiKeyVar(provider))
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFirst(fallback string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
