package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/MikeSquared-Agency/persona/internal/config"
	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/events"
	"github.com/MikeSquared-Agency/persona/internal/llm"
	"github.com/MikeSquared-Agency/persona/internal/llm/providers"
	"github.com/MikeSquared-Agency/persona/internal/pipeline"
	"github.com/MikeSquared-Agency/persona/internal/reddit"
	"github.com/MikeSquared-Agency/persona/internal/slack"
	"github.com/MikeSquared-Agency/persona/internal/store"
)

const usage = `usage: persona <command> [flags]

commands:
  analyze <profile-url|username>   build a persona report
  serve                            run the HTTP API and NATS worker
  check                            validate configuration
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errs.ExitConfig
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errs.ExitCode(err)
	}
	logger := setupLogging(cfg.LogLevel, cfg.LogFormat)

	switch args[0] {
	case "analyze":
		err = analyzeCmd(cfg, args[1:], stdout, logger)
	case "serve":
		err = serveCmd(cfg, args[1:], logger)
	case "check":
		err = checkCmd(cfg, args[1:], stdout, logger)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return errs.ExitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return errs.ExitConfig
	}

	if err != nil {
		if !errors.Is(err, errUsage) {
			logger.Error("persona failed", "kind", errs.Kind(err), "error", err)
		}
		return errs.ExitCode(err)
	}
	return errs.ExitOK
}

// errUsage marks flag errors the flag package has already printed.
var errUsage = fmt.Errorf("usage: %w", errs.ErrConfig)

// setupLogging writes JSON or tinted text logs to stderr; stdout is kept
// for report output.
func setupLogging(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.TimeOnly})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// deps are the long-lived collaborators shared by analyze and serve.
type deps struct {
	runner *pipeline.Runner
	reddit *reddit.Client
	llm    *llm.Client
	cache  *store.Cache
	bus    *events.Client
}

func (d *deps) Close() {
	if d.cache != nil {
		d.cache.Close()
	}
	if d.bus != nil {
		d.bus.Close()
	}
}

// wire builds the pipeline from cfg. The cache, NATS and Slack are only
// attached when configured.
func wire(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{
		reddit: reddit.New(cfg.RedditClientID, cfg.RedditClientSecret, cfg.RedditUserAgent, logger,
			reddit.WithRequestTimeout(cfg.RequestTimeout)),
	}

	gen, err := providers.New(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	d.llm = llm.New(gen, logger,
		llm.WithMaxAttempts(cfg.MaxAttempts),
		llm.WithAttemptTimeout(cfg.AttemptTimeout),
	)
	logger.Debug("llm client ready", "provider", gen.Name(), "model", cfg.Model)

	opts := []pipeline.Option{
		pipeline.WithPromptBudget(cfg.PromptBudget),
		pipeline.WithMaxItemChars(cfg.MaxItemChars),
		pipeline.WithLimits(cfg.PostLimit, cfg.CommentLimit),
	}

	if cfg.CachePath != "" {
		d.cache, err = store.New(cfg.CachePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithCache(d.cache, cfg.CacheTTL))
		logger.Debug("report cache ready", "path", cfg.CachePath, "ttl", cfg.CacheTTL)
	}
	if cfg.SaveExchanges {
		opts = append(opts, pipeline.WithExchangeDir(cfg.OutputDir))
	}

	if cfg.NatsURL != "" {
		d.bus, err = events.NewClient(ctx, cfg.NatsURL, logger, events.WithToken(cfg.NatsToken))
		if err != nil {
			d.Close()
			return nil, err
		}
		opts = append(opts, pipeline.WithPublisher(events.NewPublisher(d.bus, logger)))
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		opts = append(opts, pipeline.WithNotifier(slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)))
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	d.runner = pipeline.New(d.reddit, d.llm, logger, opts...)
	return d, nil
}

func params(cfg config.Config) llm.Params {
	return llm.Params{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxOutputTokens,
	}
}
