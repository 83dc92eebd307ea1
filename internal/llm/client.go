// Package llm wraps a text-generation backend with bounded retries and a
// per-attempt timeout.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/persona/internal/errs"
)

// Params are the sampling parameters for one completion.
type Params struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Generator is a single-shot completion backend. Implementations classify
// upstream failures with the errs taxonomy and must honour ctx.
type Generator interface {
	Name() string
	Generate(ctx context.Context, system, prompt string, p Params) (string, error)
}

const (
	defaultMaxAttempts    = 4
	defaultAttemptTimeout = 90 * time.Second
	defaultBaseBackoff    = time.Second
	defaultMaxBackoff     = 20 * time.Second
)

type Client struct {
	gen            Generator
	maxAttempts    int
	attemptTimeout time.Duration
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

type Option func(*Client)

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

func WithBackoff(base, ceiling time.Duration) Option {
	return func(c *Client) {
		c.baseBackoff = base
		c.maxBackoff = ceiling
	}
}

func New(gen Generator, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		gen:            gen,
		maxAttempts:    defaultMaxAttempts,
		attemptTimeout: defaultAttemptTimeout,
		baseBackoff:    defaultBaseBackoff,
		maxBackoff:     defaultMaxBackoff,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name reports the wrapped backend.
func (c *Client) Name() string { return c.gen.Name() }

// Complete runs the prompt, retrying network failures, rate limits and
// attempt timeouts with exponential backoff. Auth and invalid-request
// errors, unknown errors and cancellation of ctx return immediately.
func (c *Client) Complete(ctx context.Context, system, prompt string, p Params) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("llm: %w", err)
		}

		start := time.Now()
		text, err := c.attempt(ctx, system, prompt, p)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				return "", fmt.Errorf("%s returned an empty completion: %w", c.gen.Name(), errs.ErrUnparsableResponse)
			}
			c.logger.Debug("llm completion",
				"provider", c.gen.Name(),
				"attempt", attempt,
				"duration", time.Since(start),
				"chars", len(text),
			)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("llm: %w", ctx.Err())
		}
		if !errs.Recoverable(err) {
			return "", err
		}

		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		wait := c.backoff(attempt, err)
		c.logger.Warn("llm attempt failed, retrying",
			"provider", c.gen.Name(),
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("llm: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return "", fmt.Errorf("llm gave up after %d attempts: %w", c.maxAttempts, lastErr)
}

// attempt runs one bounded call. Expiry of the attempt deadline (while the
// parent is still live) is reported as a network failure.
func (c *Client) attempt(ctx context.Context, system, prompt string, p Params) (string, error) {
	actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	text, err := c.gen.Generate(actx, system, prompt, p)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%s attempt timed out after %s: %w", c.gen.Name(), c.attemptTimeout, errs.ErrNetwork)
	}
	return text, err
}

func (c *Client) backoff(attempt int, err error) time.Duration {
	d := c.baseBackoff << (attempt - 1)
	if d > c.maxBackoff || d <= 0 {
		d = c.maxBackoff
	}
	if d > 0 {
		d = d/2 + rand.N(d/2+1)
	}
	var rl *errs.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > d {
		d = min(rl.RetryAfter, c.maxBackoff)
	}
	return d
}
