package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MikeSquared-Agency/persona/internal/config"
	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/pipeline"
	"github.com/MikeSquared-Agency/persona/internal/render"
)

type analyzeFlags struct {
	posts       int
	comments    int
	model       string
	temperature float64
	maxTokens   int
	format      string
	out         string
	stdout      bool
	noCache     bool
}

// parseAnalyze accepts flags before or after the username.
func parseAnalyze(cfg config.Config, args []string) (analyzeFlags, string, error) {
	f := analyzeFlags{}
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.IntVar(&f.posts, "posts", cfg.PostLimit, "maximum posts to fetch")
	fs.IntVar(&f.comments, "comments", cfg.CommentLimit, "maximum comments to fetch")
	fs.StringVar(&f.model, "model", cfg.Model, "model name")
	fs.Float64Var(&f.temperature, "temperature", cfg.Temperature, "sampling temperature")
	fs.IntVar(&f.maxTokens, "max-tokens", cfg.MaxOutputTokens, "maximum output tokens")
	fs.StringVar(&f.format, "format", "text", "comma list of text, markdown, html, card, png, json")
	fs.StringVar(&f.out, "out", cfg.OutputDir, "output directory")
	fs.BoolVar(&f.stdout, "stdout", false, "also print the text report to stdout")
	fs.BoolVar(&f.noCache, "no-cache", false, "ignore cached reports")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: persona analyze [flags] <profile-url|username>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return f, "", errUsage
	}
	rest := fs.Args()
	if len(rest) > 1 {
		if err := fs.Parse(rest[1:]); err != nil {
			return f, "", errUsage
		}
		if len(fs.Args()) > 0 {
			fs.Usage()
			return f, "", errUsage
		}
	}
	if len(rest) == 0 {
		fs.Usage()
		return f, "", errUsage
	}
	if f.posts < 0 || f.comments < 0 {
		return f, "", fmt.Errorf("limits must not be negative: %w", errs.ErrConfig)
	}
	if f.posts == 0 && f.comments == 0 {
		return f, "", fmt.Errorf("-posts and -comments are both zero: %w", errs.ErrConfig)
	}
	return f, rest[0], nil
}

func analyzeCmd(cfg config.Config, args []string, stdout io.Writer, logger *slog.Logger) error {
	f, target, err := parseAnalyze(cfg, args)
	if err != nil {
		return err
	}
	formats, err := render.ParseFormats(f.format)
	if err != nil {
		return fmt.Errorf("-format: %w", err)
	}
	cfg.Model = f.model
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

	p := params(cfg)
	p.Temperature = f.temperature
	p.MaxTokens = f.maxTokens

	logger.Info("analyzing", "target", target, "provider", d.llm.Name(), "model", p.Model)
	res, err := d.runner.Run(ctx, pipeline.Request{
		Username:     target,
		PostLimit:    pipeline.Limit(f.posts),
		CommentLimit: pipeline.Limit(f.comments),
		Params:       p,
		UseCache:     !f.noCache,
	}, pipeline.Output{Dir: f.out, Formats: formats})
	if err != nil {
		return err
	}

	rep := res.Report
	if f.stdout {
		fmt.Fprint(stdout, render.Text(rep))
	}
	fmt.Fprintf(stdout, "u/%s: %d traits, %d cited, %d of %d items prompted\n",
		rep.Username, len(rep.Entries), rep.Resolved(), rep.ItemsPrompted, rep.ItemsPrompted+rep.ItemsDropped)
	if res.Cached {
		fmt.Fprintf(stdout, "served from cache (generated %s)\n", rep.GeneratedAt.Local().Format("2006-01-02 15:04"))
	}
	for _, path := range res.Files {
		fmt.Fprintf(stdout, "saved %s\n", path)
	}
	return nil
}
