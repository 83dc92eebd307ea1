package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/persona/internal/api"
	"github.com/MikeSquared-Agency/persona/internal/config"
	"github.com/MikeSquared-Agency/persona/internal/events"
	"github.com/MikeSquared-Agency/persona/internal/pipeline"
	"github.com/MikeSquared-Agency/persona/internal/processor"
	"github.com/MikeSquared-Agency/persona/internal/render"
	"github.com/MikeSquared-Agency/persona/internal/store"
)

const (
	pruneInterval   = time.Hour
	shutdownTimeout = 30 * time.Second
)

func serveCmd(cfg config.Config, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.Int("port", cfg.Port, "HTTP port")
	workers := fs.Int("workers", 2, "concurrent analyses for NATS requests")
	format := fs.String("format", "markdown", "formats written for NATS requests")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	formats, err := render.ParseFormats(*format)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	logger.Info("persona starting", "port", *port, "provider", d.llm.Name(), "model", cfg.Model)

	var opts []api.Option
	opts = append(opts, api.WithParams(d.llm.Name(), params(cfg)))
	if d.cache != nil {
		opts = append(opts, api.WithReports(d.cache))
		go pruneLoop(ctx, d.cache, cfg.CacheTTL, logger)
	}
	srv := api.NewServer(*port, cfg.APIToken, d.runner, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	var proc *processor.Processor
	if d.bus != nil {
		out := pipeline.Output{Dir: cfg.OutputDir, Formats: formats}
		proc = processor.New(ctx, d.runner, params(cfg), out, logger,
			processor.WithConcurrency(*workers),
			processor.WithRunTimeout(cfg.RunTimeout))
		if err := d.bus.HandleRequests(proc.HandleReportRequest); err != nil {
			return err
		}

		if err := d.bus.Publish(events.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      *port,
			"provider":  d.llm.Name(),
			"model":     cfg.Model,
		}); err != nil {
			logger.Warn("failed to publish registration", "error", err)
		}
	} else {
		logger.Warn("NATS not configured, serving HTTP only")
	}

	logger.Info("persona ready", "port", *port)
	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	if proc != nil {
		proc.Wait()
	}
	logger.Info("persona stopped")
	return nil
}

// pruneLoop drops cached reports older than ttl, once at start and then
// hourly.
func pruneLoop(ctx context.Context, cache *store.Cache, ttl time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := cache.Prune(ctx, ttl)
		switch {
		case err != nil:
			logger.Warn("cache prune failed", "error", err)
		case n > 0:
			logger.Info("pruned cached reports", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
