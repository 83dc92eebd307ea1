package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/persona/internal/content"
	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/persona"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testReport() *persona.Report {
	return &persona.Report{
		RunID:           uuid.MustParse("9f6ed519-0000-0000-0000-000000000000"),
		Username:        "spez",
		Provider:        "groq",
		Model:           "llama3-70b-8192",
		PostsFetched:    12,
		CommentsFetched: 40,
		ItemsPrompted:   50,
		ItemsDropped:    2,
		TopCommunities:  []content.CommunityCount{{Name: "golang", Count: 20}},
		MeanSentiment:   -0.4,
		Entries: []persona.TraitEntry{
			{Category: persona.Expertise, Trait: "Writes Go", Confidence: persona.High,
				Citation: persona.Citation{ItemID: "t3_abc", Permalink: "https://www.reddit.com/r/golang/comments/abc/x/"}},
			{Category: persona.Expertise, Trait: "Knows SQL", Confidence: persona.Medium},
			{Category: persona.Expertise, Trait: "Runs Kubernetes", Confidence: persona.Low},
			{Category: persona.Psychology, Trait: "Blunt", Confidence: persona.Medium},
		},
	}
}

func TestFormatReportMessage(t *testing.T) {
	msg := formatReportMessage(testReport(), []string{"personas/persona_spez.md"})

	checks := []string{
		"u/spez",
		"12 posts, 40 comments (50 prompted, 2 dropped)",
		"r/golang",
		"negative (-0.40)",
		"Traits found: 4* (1 cited)",
		"*Expertise:* Writes Go; Knows SQL (+1)",
		"*Psychology:* Blunt",
		"personas/persona_spez.md",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q", check)
		}
	}
	if strings.Contains(msg, "Runs Kubernetes") {
		t.Error("expected summary to cap traits per category")
	}
}

func TestFormatReportMessage_Empty(t *testing.T) {
	r := testReport()
	r.Entries = nil
	msg := formatReportMessage(r, nil)
	if !strings.Contains(msg, "No traits identified") {
		t.Errorf("expected empty message, got %q", msg)
	}
}

func TestFormatTraitThread(t *testing.T) {
	thread := formatTraitThread(testReport())
	for _, want := range []string{
		"1. Writes Go | high | <https://www.reddit.com/r/golang/comments/abc/x/|t3_abc>",
		"2. Knows SQL | medium | citation unavailable",
		"3. Runs Kubernetes",
		"*Demographics*\n_No traits identified._",
	} {
		if !strings.Contains(thread, want) {
			t.Errorf("expected thread to contain %q", want)
		}
	}
}

func TestPostReport_Success(t *testing.T) {
	var mu sync.Mutex
	var payloads []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()

		if payload["channel"] != "C123" {
			t.Errorf("expected channel C123, got %v", payload["channel"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ts, err := p.PostReport(context.Background(), testReport(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected summary and thread reply, got %d posts", len(payloads))
	}
	if payloads[1]["thread_ts"] != "1234567890.123456" {
		t.Errorf("expected thread reply under summary, got %v", payloads[1]["thread_ts"])
	}
}

func TestPostReport_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	_, err := p.PostReport(context.Background(), testReport(), nil)
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected channel_not_found error, got %v", err)
	}
}

func TestPostFailure(t *testing.T) {
	var text string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		text, _ = payload["text"].(string)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1"})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if err := p.PostFailure(context.Background(), "ghost", errs.ErrUserNotFound); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "u/ghost") || !strings.Contains(text, "user_not_found") {
		t.Errorf("unexpected failure text %q", text)
	}
}

func TestPost_HTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	err := p.PostThread(context.Background(), "1", "hi")
	if !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
