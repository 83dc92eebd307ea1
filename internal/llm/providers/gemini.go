package providers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/llm"
)

type Gemini struct {
	client *genai.Client
}

var _ llm.Generator = (*Gemini)(nil)

func NewGemini(ctx context.Context, apiKey, baseURL string) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, system, prompt string, p llm.Params) (string, error) {
	temp := float32(p.Temperature)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		Temperature:       &temp,
		MaxOutputTokens:   int32(p.MaxTokens),
	}

	result, err := g.client.Models.GenerateContent(ctx, p.Model, genai.Text(prompt), cfg)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("gemini: %w", ctx.Err())
		}
		return "", classifyGemini(err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates: %w", errs.ErrUnparsableResponse)
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

var geminiStatus = regexp.MustCompile(`(?i)\berror\s*(\d{3})\b|\b(\d{3})\s+(?:bad request|unauthorized|forbidden|not found|too many requests|internal|service unavailable)`)

// classifyGemini reads the HTTP status out of the genai error text. The
// library reports API failures as "Error 429, Message: ..., Status: ...".
func classifyGemini(err error) error {
	msg := err.Error()
	if m := geminiStatus.FindStringSubmatch(msg); m != nil {
		code := m[1]
		if code == "" {
			code = m[2]
		}
		if n, convErr := strconv.Atoi(code); convErr == nil {
			return errs.FromStatus("gemini", n, msg, 0)
		}
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "rate limit"):
		return &errs.RateLimitError{Service: "gemini"}
	case strings.Contains(lower, "api key") || strings.Contains(lower, "permission_denied") || strings.Contains(lower, "unauthenticated"):
		return fmt.Errorf("gemini: %s: %w", msg, errs.ErrAuth)
	case strings.Contains(lower, "invalid_argument"):
		return errs.FromStatus("gemini", 400, msg, 0)
	}
	return fmt.Errorf("gemini: %s: %w", msg, errs.ErrNetwork)
}
