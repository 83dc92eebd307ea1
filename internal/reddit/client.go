package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/persona/internal/errs"
)

const (
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	defaultAPIURL   = "https://oauth.reddit.com"

	pageSize       = 100
	maxBodyBytes   = 8 << 20
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
	maxRetries     = 3
	requestTimeout = 30 * time.Second
)

// Client reads public user activity through Reddit's app-only OAuth API.
type Client struct {
	clientID     string
	clientSecret string
	userAgent    string
	tokenURL     string
	baseURL      string

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxRetries     int
	requestTimeout time.Duration

	http   *http.Client
	base   http.RoundTripper
	logger *slog.Logger
}

type Option func(*Client)

// WithEndpoints points the client at a different token and API host.
func WithEndpoints(tokenURL, apiURL string) Option {
	return func(c *Client) {
		c.tokenURL = tokenURL
		c.baseURL = strings.TrimRight(apiURL, "/")
	}
}

// WithBackoff overrides the retry schedule for 429, 5xx and transport errors.
func WithBackoff(initial, ceiling time.Duration, retries int) Option {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxBackoff = ceiling
		c.maxRetries = retries
	}
}

// WithRequestTimeout bounds each API call, retries excluded. Zero keeps the
// default.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithTransport sets the round tripper underneath the OAuth2 transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

func New(clientID, clientSecret, userAgent string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		clientID:       clientID,
		clientSecret:   clientSecret,
		userAgent:      userAgent,
		tokenURL:       defaultTokenURL,
		baseURL:        defaultAPIURL,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		maxRetries:     maxRetries,
		requestTimeout: requestTimeout,
		base:           http.DefaultTransport,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	oauthConf := &clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// Reddit rejects requests without a User-Agent, the token call included.
	base := &http.Client{Transport: &userAgentTransport{agent: c.userAgent, base: c.base}}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	c.http = oauthConf.Client(ctx)
	return c
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(r)
}

// Profile fetches the account summary. Suspended accounts report
// ErrPrivateProfile.
func (c *Client) Profile(ctx context.Context, username string) (*Profile, error) {
	var a about
	if err := c.get(ctx, "/user/"+url.PathEscape(username)+"/about", url.Values{"raw_json": {"1"}}, &a); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if a.Data.IsSuspended {
		return nil, fmt.Errorf("account %s is suspended: %w", username, errs.ErrPrivateProfile)
	}
	if a.Data.Name == "" {
		a.Data.Name = username
	}
	return &a.Data, nil
}

// Fetch retrieves the profile plus up to postLimit posts and commentLimit
// comments, newest first. Posts and comments are fetched concurrently.
func (c *Client) Fetch(ctx context.Context, username string, postLimit, commentLimit int) (*Activity, error) {
	profile, err := c.Profile(ctx, username)
	if err != nil {
		return nil, err
	}

	act := &Activity{Profile: profile}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		posts, err := c.listing(gctx, username, "submitted", postLimit)
		act.Posts = posts
		return err
	})
	g.Go(func() error {
		comments, err := c.listing(gctx, username, "comments", commentLimit)
		act.Comments = comments
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.Info("fetched reddit activity",
		"username", username,
		"posts", len(act.Posts),
		"comments", len(act.Comments),
	)
	return act, nil
}

func (c *Client) listing(ctx context.Context, username, endpoint string, limit int) ([]Thing, error) {
	if limit <= 0 {
		return nil, nil
	}

	var out []Thing
	after := ""
	for len(out) < limit {
		q := url.Values{
			"limit":    {strconv.Itoa(min(pageSize, limit-len(out)))},
			"sort":     {"new"},
			"raw_json": {"1"},
		}
		if after != "" {
			q.Set("after", after)
		}

		var page Listing
		if err := c.get(ctx, "/user/"+url.PathEscape(username)+"/"+endpoint, q, &page); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
		}
		out = append(out, page.Data.Children...)

		after = page.Data.After
		if after == "" || len(page.Data.Children) == 0 {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// get performs a GET with bounded retries on recoverable failures.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	backoff := c.initialBackoff
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, path, q, out)
		if err == nil || !errs.Recoverable(err) || attempt >= c.maxRetries {
			return err
		}

		wait := jitter(backoff)
		var rl *errs.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = min(rl.RetryAfter, c.maxBackoff)
		}
		c.logger.Warn("reddit request failed, retrying",
			"path", path,
			"attempt", attempt+1,
			"backoff", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Client) do(ctx context.Context, path string, q url.Values, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.transportError(ctx, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	case http.StatusNotFound:
		return errs.ErrUserNotFound
	case http.StatusForbidden:
		return errs.ErrPrivateProfile
	case http.StatusUnauthorized:
		return fmt.Errorf("reddit 401: %w", errs.ErrAuth)
	case http.StatusTooManyRequests:
		return &errs.RateLimitError{Service: "reddit", RetryAfter: retryAfter(resp.Header)}
	default:
		return errs.FromStatus("reddit", resp.StatusCode, string(body), 0)
	}
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return fmt.Errorf("reddit token endpoint: %v: %w", err, errs.ErrNetwork)
		}
		return fmt.Errorf("reddit token: %v: %w", err, errs.ErrAuth)
	}
	return fmt.Errorf("reddit request: %v: %w", err, errs.ErrNetwork)
}

// retryAfter reads Retry-After, falling back to Reddit's
// X-Ratelimit-Reset (seconds until the window resets).
func retryAfter(h http.Header) time.Duration {
	for _, key := range []string{"Retry-After", "X-Ratelimit-Reset"} {
		if v := h.Get(key); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return 0
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d/2+1)
}
