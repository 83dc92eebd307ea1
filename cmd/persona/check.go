package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/persona/internal/config"
)

const checkTimeout = 2 * time.Minute

// checkCmd validates configuration and, with -online, makes one Reddit call
// and one small completion.
func checkCmd(cfg config.Config, args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	online := fs.Bool("online", false, "also contact Reddit and the LLM provider")
	probe := fs.String("user", "spez", "username fetched by -online")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	fmt.Fprintf(stdout, "provider:     %s (%s)\n", cfg.LLMProvider, cfg.Model)
	fmt.Fprintf(stdout, "limits:       %d posts, %d comments, prompt budget %d\n", cfg.PostLimit, cfg.CommentLimit, cfg.PromptBudget)
	fmt.Fprintf(stdout, "output:       %s\n", cfg.OutputDir)
	if cfg.CachePath != "" {
		fmt.Fprintf(stdout, "cache:        %s (ttl %s)\n", cfg.CachePath, cfg.CacheTTL)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stdout, "config:       FAIL")
		return err
	}
	fmt.Fprintln(stdout, "config:       ok")
	if !*online {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	d, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	profile, err := d.reddit.Profile(ctx, *probe)
	if err != nil {
		fmt.Fprintln(stdout, "reddit:       FAIL")
		return err
	}
	fmt.Fprintf(stdout, "reddit:       ok (u/%s, %d karma)\n", profile.Name, profile.Karma())

	p := params(cfg)
	p.MaxTokens = 16
	if _, err := d.llm.Complete(ctx, "You are a connectivity check.", "Reply with the single word OK.", p); err != nil {
		fmt.Fprintln(stdout, "llm:          FAIL")
		return err
	}
	fmt.Fprintln(stdout, "llm:          ok")
	return nil
}
