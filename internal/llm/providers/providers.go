// Package providers builds the text-generation backends the llm client
// wraps.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MikeSquared-Agency/persona/internal/anthropic"
	"github.com/MikeSquared-Agency/persona/internal/config"
	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/llm"
)

// New returns the backend named by cfg.LLMProvider. httpClient may be nil.
func New(ctx context.Context, cfg config.Config, httpClient *http.Client) (llm.Generator, error) {
	switch cfg.LLMProvider {
	case config.ProviderGroq, "":
		base := cfg.LLMBaseURL
		if base == "" {
			base = GroqBaseURL
		}
		return NewOpenAI(config.ProviderGroq, cfg.LLMAPIKey, base, httpClient), nil
	case config.ProviderOpenAI:
		return NewOpenAI(config.ProviderOpenAI, cfg.LLMAPIKey, cfg.LLMBaseURL, httpClient), nil
	case config.ProviderAnthropic:
		c := anthropic.NewClient(cfg.LLMAPIKey)
		if cfg.LLMBaseURL != "" {
			c.SetBaseURL(cfg.LLMBaseURL)
		}
		return c, nil
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.LLMAPIKey, cfg.LLMBaseURL)
	default:
		return nil, fmt.Errorf("unknown llm provider %q: %w", cfg.LLMProvider, errs.ErrConfig)
	}
}
