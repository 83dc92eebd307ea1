package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/llm"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	name   string
	client *openai.Client
}

var _ llm.Generator = (*OpenAI)(nil)

// NewOpenAI builds a chat-completions backend. An empty baseURL keeps the
// library default (api.openai.com).
func NewOpenAI(name, apiKey, baseURL string, httpClient *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAI{name: name, client: openai.NewClientWithConfig(cfg)}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Generate(ctx context.Context, system, prompt string, p llm.Params) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(p.Temperature),
		MaxTokens:   p.MaxTokens,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", o.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices: %w", o.name, errs.ErrUnparsableResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", o.name, ctx.Err())
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		msg := apiErr.Message
		if apiErr.Type != "" {
			msg = apiErr.Type + ": " + msg
		}
		return errs.FromStatus(o.name, apiErr.HTTPStatusCode, msg, 0)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return errs.FromStatus(o.name, reqErr.HTTPStatusCode, reqErr.Error(), 0)
	}
	return fmt.Errorf("%s request: %v: %w", o.name, err, errs.ErrNetwork)
}
