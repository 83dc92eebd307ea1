// Package processor handles persona report requests arriving over NATS.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/events"
	"github.com/MikeSquared-Agency/persona/internal/llm"
	"github.com/MikeSquared-Agency/persona/internal/pipeline"
)

const (
	defaultConcurrency = 2
	defaultRunTimeout  = 10 * time.Minute
)

// Runner is the part of pipeline.Runner the processor drives.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, out pipeline.Output) (*pipeline.Result, error)
}

// Processor runs one analysis per request event. Outcomes are announced by
// the runner itself; the processor only logs.
type Processor struct {
	ctx        context.Context
	runner     Runner
	params     llm.Params
	out        pipeline.Output
	logger     *slog.Logger
	sem        *semaphore.Weighted
	runTimeout time.Duration
	wg         sync.WaitGroup
}

type Option func(*Processor)

// WithConcurrency caps how many analyses run at once.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithRunTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.runTimeout = d
		}
	}
}

// New returns a processor whose runs are cancelled when ctx is.
func New(ctx context.Context, runner Runner, params llm.Params, out pipeline.Output, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		ctx:        ctx,
		runner:     runner,
		params:     params,
		out:        out,
		logger:     logger,
		sem:        semaphore.NewWeighted(defaultConcurrency),
		runTimeout: defaultRunTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleReportRequest is the NATS handler for persona.report.request. It
// blocks while all run slots are busy, then analyzes in the background.
func (p *Processor) HandleReportRequest(subject string, data []byte) {
	var evt events.ReportRequest
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse report request", "subject", subject, "error", err)
		return
	}
	if evt.Username == "" {
		p.logger.Warn("report request without username", "subject", subject)
		return
	}

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.logger.Warn("dropping report request during shutdown", "username", evt.Username)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		p.run(evt)
	}()
}

func (p *Processor) run(evt events.ReportRequest) {
	ctx, cancel := context.WithTimeout(p.ctx, p.runTimeout)
	defer cancel()

	req := pipeline.Request{
		Username:     evt.Username,
		PostLimit:    evt.PostLimit,
		CommentLimit: evt.CommentLimit,
		Params:       p.params,
		UseCache:     !evt.NoCache,
		RunID:        uuid.New(),
	}
	logger := p.logger.With("run_id", req.RunID, "username", evt.Username)
	logger.Info("processing report request")

	res, err := p.runner.Run(ctx, req, p.out)
	if err != nil {
		logger.Error("report request failed", "kind", errs.Kind(err), "error", err)
		return
	}
	logger.Info("report request complete",
		"cached", res.Cached,
		"entries", len(res.Report.Entries),
		"files", len(res.Files),
	)
}

// Wait blocks until every accepted request has finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}
