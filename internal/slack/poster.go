package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/persona/internal/content"
	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/persona"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// Traits listed per category in the channel message; the thread carries
// the rest.
const summaryTraitsPerCategory = 2

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostReport posts a summary of r and threads the full trait list under
// it. Returns the message timestamp of the summary.
func (p *Poster) PostReport(ctx context.Context, r *persona.Report, files []string) (string, error) {
	text := formatReportMessage(r, files)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{"type": "mrkdwn", "text": text},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{"type": "mrkdwn", "text": fmt.Sprintf("run `%s` | %s (%s)", r.RunID, r.Provider, r.Model)},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	p.logger.Info("posted report to slack", "ts", ts, "username", r.Username, "run_id", r.RunID)

	if err := p.PostThread(ctx, ts, formatTraitThread(r)); err != nil {
		p.logger.Warn("slack thread reply failed", "ts", ts, "error", err)
	}
	return ts, nil
}

// PostFailure reports a run that produced no persona.
func (p *Poster) PostFailure(ctx context.Context, username string, cause error) error {
	text := fmt.Sprintf(":warning: Persona analysis for *u/%s* failed (%s): %s", username, errs.Kind(cause), cause)
	_, err := p.post(ctx, map[string]any{"channel": p.channel, "text": text})
	return err
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %v: %w", err, errs.ErrNetwork)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.FromStatus("slack", resp.StatusCode, string(respBody), 0)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatReportMessage(r *persona.Report, files []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Persona:* u/%s\n", r.Username)
	fmt.Fprintf(&sb, "*Analyzed:* %d posts, %d comments (%d prompted, %d dropped)\n",
		r.PostsFetched, r.CommentsFetched, r.ItemsPrompted, r.ItemsDropped)
	if len(r.TopCommunities) > 0 {
		names := make([]string, len(r.TopCommunities))
		for i, c := range r.TopCommunities {
			names[i] = "r/" + c.Name
		}
		fmt.Fprintf(&sb, "*Active in:* %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(&sb, "*Tone:* %s (%+.2f)\n\n", content.SentimentLabel(r.MeanSentiment), r.MeanSentiment)

	if len(r.Entries) == 0 {
		sb.WriteString("_No traits identified._")
		return sb.String()
	}

	fmt.Fprintf(&sb, "*Traits found: %d* (%d cited)\n", len(r.Entries), r.Resolved())
	for _, s := range r.Sections() {
		if len(s.Entries) == 0 {
			continue
		}
		names := make([]string, 0, summaryTraitsPerCategory)
		for i, e := range s.Entries {
			if i == summaryTraitsPerCategory {
				break
			}
			names = append(names, e.Trait)
		}
		more := ""
		if extra := len(s.Entries) - len(names); extra > 0 {
			more = fmt.Sprintf(" (+%d)", extra)
		}
		fmt.Fprintf(&sb, "• *%s:* %s%s\n", s.Category, strings.Join(names, "; "), more)
	}

	if len(files) > 0 {
		fmt.Fprintf(&sb, "\n*Files:* %s", strings.Join(files, ", "))
	}
	return sb.String()
}

func formatTraitThread(r *persona.Report) string {
	var sb strings.Builder
	for _, s := range r.Sections() {
		fmt.Fprintf(&sb, "*%s*\n", s.Category)
		if len(s.Entries) == 0 {
			sb.WriteString("_No traits identified._\n\n")
			continue
		}
		for i, e := range s.Entries {
			cite := "citation unavailable"
			if e.Citation.Resolved() {
				cite = e.Citation.ItemID
				if e.Citation.Permalink != "" {
					cite = fmt.Sprintf("<%s|%s>", e.Citation.Permalink, e.Citation.ItemID)
				}
			}
			fmt.Fprintf(&sb, "%d. %s | %s | %s\n", i+1, e.Trait, e.Confidence, cite)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
