package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/persona/internal/errs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReddit serves a token endpoint and paginated user listings.
type fakeReddit struct {
	t        *testing.T
	posts    int
	comments int
	about    string
	status   map[string]int
	calls    atomic.Int32
	pages    atomic.Int32
}

func (f *fakeReddit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/access_token" {
		if user, pass, ok := r.BasicAuth(); !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
		return
	}

	f.calls.Add(1)
	if got := r.Header.Get("Authorization"); got != "Bearer tok" {
		f.t.Errorf("expected bearer token, got %q", got)
	}
	if got := r.Header.Get("User-Agent"); got != "persona-test/1.0" {
		f.t.Errorf("expected user agent, got %q", got)
	}
	if code, ok := f.status[r.URL.Path]; ok {
		w.WriteHeader(code)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/about"):
		body := f.about
		if body == "" {
			body = `{"kind":"t2","data":{"name":"spez","created_utc":1118030400,"link_karma":10,"comment_karma":5}}`
		}
		fmt.Fprint(w, body)
	case strings.HasSuffix(r.URL.Path, "/submitted"):
		f.pages.Add(1)
		writeListing(w, r, KindPost, f.posts)
	case strings.HasSuffix(r.URL.Path, "/comments"):
		f.pages.Add(1)
		writeListing(w, r, KindComment, f.comments)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// writeListing pages through total synthetic items using the index as the
// after cursor.
func writeListing(w http.ResponseWriter, r *http.Request, kind string, total int) {
	start := 0
	if after := r.URL.Query().Get("after"); after != "" {
		start, _ = strconv.Atoi(strings.TrimPrefix(after, kind+"_"))
		start++
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	end := min(start+limit, total)

	var l Listing
	l.Kind = "Listing"
	for i := start; i < end; i++ {
		l.Data.Children = append(l.Data.Children, Thing{
			Kind: kind,
			Data: ThingData{
				ID:        strconv.Itoa(i),
				Name:      fmt.Sprintf("%s_%d", kind, i),
				Subreddit: "golang",
				Body:      "item body",
			},
		})
	}
	if end < total && end > start {
		l.Data.After = fmt.Sprintf("%s_%d", kind, end-1)
	}
	json.NewEncoder(w).Encode(l)
}

func newTestClient(t *testing.T, f *fakeReddit) *Client {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New("id", "secret", "persona-test/1.0", discardLogger(),
		WithEndpoints(srv.URL+"/api/v1/access_token", srv.URL),
		WithBackoff(time.Millisecond, 5*time.Millisecond, 2),
	)
}

func TestFetch_Paginates(t *testing.T) {
	f := &fakeReddit{posts: 230, comments: 3}
	c := newTestClient(t, f)

	act, err := c.Fetch(context.Background(), "spez", 150, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(act.Posts) != 150 {
		t.Errorf("expected 150 posts, got %d", len(act.Posts))
	}
	if len(act.Comments) != 3 {
		t.Errorf("expected 3 comments, got %d", len(act.Comments))
	}
	if act.Posts[100].Data.Name != "t3_100" {
		t.Errorf("expected second page to continue at t3_100, got %s", act.Posts[100].Data.Name)
	}
	if got := f.pages.Load(); got != 3 {
		t.Errorf("expected 2 post pages + 1 comment page, got %d", got)
	}
	if act.Profile.Karma() != 15 {
		t.Errorf("expected summed karma 15, got %d", act.Profile.Karma())
	}

	items := act.Items()
	if len(items) != 153 {
		t.Fatalf("expected 153 items, got %d", len(items))
	}
	if items[0].Kind != KindPost || items[152].Kind != KindComment {
		t.Error("expected posts before comments")
	}
}

func TestFetch_ZeroLimitsSkipListings(t *testing.T) {
	f := &fakeReddit{posts: 10, comments: 10}
	c := newTestClient(t, f)

	act, err := c.Fetch(context.Background(), "spez", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(act.Items()) != 0 {
		t.Errorf("expected no items, got %d", len(act.Items()))
	}
	if f.pages.Load() != 0 {
		t.Errorf("expected no listing calls, got %d", f.pages.Load())
	}
}

func TestFetch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		about  string
		want   error
	}{
		{"not found", http.StatusNotFound, "", errs.ErrUserNotFound},
		{"forbidden", http.StatusForbidden, "", errs.ErrPrivateProfile},
		{"unauthorized", http.StatusUnauthorized, "", errs.ErrAuth},
		{"suspended", 0, `{"kind":"t2","data":{"name":"gone","is_suspended":true}}`, errs.ErrPrivateProfile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeReddit{about: tt.about, status: map[string]int{}}
			if tt.status != 0 {
				f.status["/user/gone/about"] = tt.status
			}
			c := newTestClient(t, f)

			_, err := c.Fetch(context.Background(), "gone", 5, 5)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if f.calls.Load() != 1 {
				t.Errorf("expected a single call without retries, got %d", f.calls.Load())
			}
		})
	}
}

func TestFetch_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/access_token" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
			return
		}
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.001")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"kind":"t2","data":{"name":"spez"}}`)
	}))
	defer srv.Close()

	c := New("id", "secret", "persona-test/1.0", discardLogger(),
		WithEndpoints(srv.URL+"/api/v1/access_token", srv.URL),
		WithBackoff(time.Millisecond, 5*time.Millisecond, 2),
	)

	p, err := c.Profile(context.Background(), "spez")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "spez" {
		t.Errorf("expected spez, got %s", p.Name)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestFetch_SlowRequestTimesOutAndRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/access_token" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
			return
		}
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		fmt.Fprint(w, `{"kind":"t2","data":{"name":"spez"}}`)
	}))
	defer srv.Close()

	c := New("id", "secret", "persona-test/1.0", discardLogger(),
		WithEndpoints(srv.URL+"/api/v1/access_token", srv.URL),
		WithBackoff(time.Millisecond, 5*time.Millisecond, 2),
		WithRequestTimeout(50*time.Millisecond),
	)

	start := time.Now()
	p, err := c.Profile(context.Background(), "spez")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "spez" {
		t.Errorf("expected spez, got %s", p.Name)
	}
	if calls.Load() != 2 {
		t.Errorf("expected the slow call to be retried, got %d calls", calls.Load())
	}
	if time.Since(start) > time.Second {
		t.Errorf("request timeout not applied, took %s", time.Since(start))
	}
}

func TestFetch_ServerErrorExhaustsRetries(t *testing.T) {
	f := &fakeReddit{status: map[string]int{"/user/spez/about": http.StatusBadGateway}}
	c := newTestClient(t, f)

	_, err := c.Profile(context.Background(), "spez")
	if !errors.Is(err, errs.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("expected 1 call + 2 retries, got %d", got)
	}
}

func TestFetch_BadCredentials(t *testing.T) {
	f := &fakeReddit{}
	f.t = t
	srv := httptest.NewServer(f)
	defer srv.Close()

	c := New("id", "wrong", "persona-test/1.0", discardLogger(),
		WithEndpoints(srv.URL+"/api/v1/access_token", srv.URL),
		WithBackoff(time.Millisecond, 5*time.Millisecond, 2),
	)

	_, err := c.Profile(context.Background(), "spez")
	if !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	f := &fakeReddit{status: map[string]int{"/user/spez/about": http.StatusServiceUnavailable}}
	c := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Profile(ctx, "spez")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if d := retryAfter(h); d != 0 {
		t.Errorf("expected 0 without headers, got %s", d)
	}
	h.Set("X-Ratelimit-Reset", "12")
	if d := retryAfter(h); d != 12*time.Second {
		t.Errorf("expected 12s, got %s", d)
	}
	h.Set("Retry-After", "3")
	if d := retryAfter(h); d != 3*time.Second {
		t.Errorf("Retry-After should win, got %s", d)
	}
}
