package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/llm"
)

const defaultURL = "https://api.anthropic.com/v1/messages"

type Client struct {
	apiKey string
	apiURL string
	client *http.Client
}

var _ llm.Generator = (*Client)(nil)

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		apiURL: defaultURL,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// SetBaseURL points the client at a different Messages endpoint. A URL
// without a path gets /v1/messages appended.
func (c *Client) SetBaseURL(url string) {
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, "/messages") {
		url += "/v1/messages"
	}
	c.apiURL = url
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Name() string { return "anthropic" }

// Generate sends one user turn to the Messages API and returns the joined
// text blocks.
func (c *Client) Generate(ctx context.Context, system, prompt string, p llm.Params) (string, error) {
	reqBody := request{
		Model:     p.Model,
		MaxTokens: p.MaxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	if p.Temperature > 0 {
		t := min(p.Temperature, 1)
		reqBody.Temperature = &t
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("api call: %w", ctx.Err())
		}
		return "", fmt.Errorf("api call: %v: %w", err, errs.ErrNetwork)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %v: %w", err, errs.ErrNetwork)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Type + ": " + errResp.Error.Message
		}
		// 529 is Anthropic's "overloaded".
		return "", errs.FromStatus("anthropic", resp.StatusCode, msg, retryAfter(resp.Header))
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %v: %w", err, errs.ErrUnparsableResponse)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" || block.Type == "" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response content: %w", errs.ErrUnparsableResponse)
	}
	return sb.String(), nil
}

func retryAfter(h http.Header) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After"))); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
