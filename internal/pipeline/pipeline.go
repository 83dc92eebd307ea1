// Package pipeline runs one analysis end to end: fetch, normalize, prompt,
// complete, parse, and assemble the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/persona/internal/content"
	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/llm"
	"github.com/MikeSquared-Agency/persona/internal/persona"
	"github.com/MikeSquared-Agency/persona/internal/reddit"
	"github.com/MikeSquared-Agency/persona/internal/store"
)

const (
	// maxShrinks bounds how often a prompt rejected as too large is rebuilt
	// smaller.
	maxShrinks          = 2
	topCommunities      = 5
	notifyTimeout       = 15 * time.Second
	defaultCacheTTL     = 24 * time.Hour
	defaultPostLimit    = 30
	defaultCommentLimit = 50
)

// Fetcher retrieves a user's public activity.
type Fetcher interface {
	Fetch(ctx context.Context, username string, postLimit, commentLimit int) (*reddit.Activity, error)
}

// Completer runs a prompt against a language model.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, prompt string, p llm.Params) (string, error)
}

// Cache stores finished reports per username.
type Cache interface {
	Get(ctx context.Context, username string, maxAge time.Duration) (*persona.Report, error)
	Put(ctx context.Context, r *persona.Report) error
	Lock(username string) func()
}

// Publisher announces run outcomes on the event bus.
type Publisher interface {
	ReportCompleted(r *persona.Report, files []string)
	ReportFailed(runID, username string, cause error)
}

// Notifier posts run outcomes for humans.
type Notifier interface {
	PostReport(ctx context.Context, r *persona.Report, files []string) (string, error)
	PostFailure(ctx context.Context, username string, cause error) error
}

// Request is one analysis. Username may be a bare name, u/name or a
// profile URL. Nil limits fall back to the runner defaults; an explicit
// zero skips that listing.
type Request struct {
	Username     string
	PostLimit    *int
	CommentLimit *int
	Params       llm.Params
	UseCache     bool
	RunID        uuid.UUID
}

type Result struct {
	Report *persona.Report
	Cached bool
	Files  []string
}

type Runner struct {
	fetcher   Fetcher
	llm       Completer
	logger    *slog.Logger
	cache     Cache
	cacheTTL  time.Duration
	publisher Publisher
	notifier  Notifier

	budget       int
	maxItemChars int
	postLimit    int
	commentLimit int
	exchangeDir  string
	now          func() time.Time
}

type Option func(*Runner)

func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Runner) {
		r.cache = c
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

func WithPublisher(p Publisher) Option { return func(r *Runner) { r.publisher = p } }

func WithNotifier(n Notifier) Option { return func(r *Runner) { r.notifier = n } }

// WithPromptBudget caps the prompt at n characters. Zero is unlimited.
func WithPromptBudget(n int) Option { return func(r *Runner) { r.budget = n } }

func WithMaxItemChars(n int) Option { return func(r *Runner) { r.maxItemChars = n } }

func WithLimits(posts, comments int) Option {
	return func(r *Runner) {
		r.postLimit, r.commentLimit = posts, comments
	}
}

// WithExchangeDir saves every prompt and response pair under dir.
func WithExchangeDir(dir string) Option { return func(r *Runner) { r.exchangeDir = dir } }

func New(f Fetcher, c Completer, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		fetcher:      f,
		llm:          c,
		logger:       logger,
		cacheTTL:     defaultCacheTTL,
		postLimit:    defaultPostLimit,
		commentLimit: defaultCommentLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run analyzes req, writes the requested formats to out.Dir and announces
// the outcome to the configured sinks. Cached reports are not re-announced.
func (r *Runner) Run(ctx context.Context, req Request, out Output) (*Result, error) {
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}

	res, err := r.Analyze(ctx, req)
	if err != nil {
		r.announceFailure(ctx, req, err)
		return nil, err
	}

	files, err := Save(res.Report, out)
	res.Files = files
	if err != nil {
		return res, err
	}
	if !res.Cached {
		r.announce(ctx, res)
	}
	return res, nil
}

// Analyze produces a report for req without writing files or notifying.
func (r *Runner) Analyze(ctx context.Context, req Request) (*Result, error) {
	username, err := reddit.ParseUsername(req.Username)
	if err != nil {
		return nil, err
	}
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	postLimit := pick(req.PostLimit, r.postLimit)
	commentLimit := pick(req.CommentLimit, r.commentLimit)
	if postLimit < 0 || commentLimit < 0 {
		return nil, fmt.Errorf("limits must not be negative: %w", errs.ErrInvalidRequest)
	}
	if postLimit == 0 && commentLimit == 0 {
		return nil, fmt.Errorf("post and comment limits are both zero: %w", errs.ErrInvalidRequest)
	}
	logger := r.logger.With("run_id", req.RunID, "username", username)

	if r.cache != nil {
		unlock := r.cache.Lock(username)
		defer unlock()
		if req.UseCache {
			cached, err := r.cache.Get(ctx, username, r.cacheTTL)
			switch {
			case err == nil:
				logger.Info("serving cached report", "cached_run_id", cached.RunID, "generated_at", cached.GeneratedAt)
				return &Result{Report: cached, Cached: true}, nil
			case !errors.Is(err, store.ErrNotCached):
				logger.Warn("cache lookup failed", "error", err)
			}
		}
	}

	start := r.now()
	act, err := r.fetcher.Fetch(ctx, username, postLimit, commentLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch u/%s: %w", username, err)
	}
	items := content.NormalizeAll(act.Items())
	if len(items) == 0 {
		return nil, fmt.Errorf("u/%s has no public posts or comments: %w", username, errs.ErrNoContent)
	}
	account := persona.AccountFromProfile(act.Profile)

	prompt, raw, err := r.complete(ctx, logger, req, username, items, account)
	if err != nil {
		return nil, err
	}

	parsed, err := persona.Parse(raw, prompt.Included)
	if err != nil {
		return nil, fmt.Errorf("parse %s response: %w", r.llm.Name(), err)
	}

	summary := content.Summarize(items, topCommunities)
	report := &persona.Report{
		RunID:           req.RunID,
		Username:        username,
		GeneratedAt:     r.now().UTC(),
		Provider:        r.llm.Name(),
		Model:           req.Params.Model,
		PostsFetched:    len(act.Posts),
		CommentsFetched: len(act.Comments),
		ItemsPrompted:   len(prompt.Included),
		ItemsDropped:    len(prompt.Dropped),
		ItemsClipped:    prompt.Clipped,
		ItemsDeleted:    summary.Deleted,
		ActiveFrom:      summary.Earliest,
		ActiveTo:        summary.Latest,
		Account:         account,
		TopCommunities:  summary.TopCommunities,
		MeanSentiment:   summary.MeanSentiment,
		SectionsFound:   parsed.Sections,
		Entries:         persona.SortEntries(parsed.Entries),
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, report); err != nil {
			logger.Warn("failed to cache report", "error", err)
		}
	}

	logger.Info("persona report ready",
		"items", len(items),
		"prompted", report.ItemsPrompted,
		"dropped", report.ItemsDropped,
		"sections", len(report.SectionsFound),
		"entries", len(report.Entries),
		"resolved", report.Resolved(),
		"duration", r.now().Sub(start),
	)
	return &Result{Report: report}, nil
}

// complete builds the prompt and runs it. A prompt the model rejects as too
// large is rebuilt with half its item text, at most maxShrinks times.
func (r *Runner) complete(ctx context.Context, logger *slog.Logger, req Request, username string, items []content.Item, account *persona.Account) (*persona.Prompt, string, error) {
	budget := r.budget
	for shrink := 0; ; shrink++ {
		prompt, err := persona.BuildPrompt(items, persona.PromptOptions{
			Budget:       budget,
			MaxItemChars: r.maxItemChars,
			Username:     username,
			Account:      account,
		})
		if err != nil {
			return nil, "", err
		}
		if len(prompt.Dropped) > 0 {
			logger.Warn("prompt truncated to budget",
				"budget", budget,
				"dropped", len(prompt.Dropped),
				"included", len(prompt.Included),
			)
		}

		raw, err := r.llm.Complete(ctx, prompt.System, prompt.User, req.Params)
		r.saveExchange(logger, req, username, shrink+1, prompt, raw, err)
		if err == nil {
			return prompt, raw, nil
		}
		if !errors.Is(err, errs.ErrPromptTooLarge) || shrink == maxShrinks {
			return nil, "", fmt.Errorf("complete with %s: %w", r.llm.Name(), err)
		}

		next := prompt.HalfBudget()
		logger.Warn("model rejected prompt as too large, shrinking",
			"chars", prompt.Len(),
			"budget", next,
		)
		budget = next
	}
}

func (r *Runner) saveExchange(logger *slog.Logger, req Request, username string, attempt int, p *persona.Prompt, raw string, cause error) {
	if r.exchangeDir == "" {
		return
	}
	ex := store.Exchange{
		RunID:    req.RunID.String(),
		Attempt:  attempt,
		Username: username,
		Provider: r.llm.Name(),
		Model:    req.Params.Model,
		At:       r.now().UTC(),
		System:   p.System,
		Prompt:   p.User,
		Response: raw,
	}
	if cause != nil {
		ex.Error = cause.Error()
	}
	path, err := store.SaveExchange(r.exchangeDir, ex)
	if err != nil {
		logger.Warn("failed to save llm exchange", "error", err)
		return
	}
	logger.Debug("saved llm exchange", "path", path)
}

func (r *Runner) announce(ctx context.Context, res *Result) {
	if r.publisher != nil {
		r.publisher.ReportCompleted(res.Report, res.Files)
	}
	if r.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if _, err := r.notifier.PostReport(nctx, res.Report, res.Files); err != nil {
			r.logger.Warn("failed to post report notification", "run_id", res.Report.RunID, "error", err)
		}
	}
}

func (r *Runner) announceFailure(ctx context.Context, req Request, cause error) {
	if r.publisher != nil {
		r.publisher.ReportFailed(req.RunID.String(), req.Username, cause)
	}
	if r.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := r.notifier.PostFailure(nctx, req.Username, cause); err != nil {
			r.logger.Warn("failed to post failure notification", "run_id", req.RunID, "error", err)
		}
	}
}

// Limit returns a pointer to n for Request limits.
func Limit(n int) *int { return &n }

func pick(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
