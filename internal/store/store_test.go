package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/persona/internal/persona"
)

func setupTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "cache", "persona.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func report(username string, at time.Time) *persona.Report {
	return &persona.Report{
		RunID:       uuid.New(),
		Username:    username,
		GeneratedAt: at,
		Provider:    "groq",
		Model:       "llama3-70b-8192",
		Entries: []persona.TraitEntry{
			{Category: persona.Expertise, Trait: "Writes Go", Confidence: persona.High,
				Citation: persona.Citation{Raw: "t3_abc", ItemID: "t3_abc"}},
		},
	}
}

func TestCache_PutGet(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	r := report("Spez", time.Now().UTC().Truncate(time.Second))
	if err := c.Put(ctx, r); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := c.Get(ctx, "spez", time.Hour)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RunID != r.RunID || got.Username != "Spez" {
		t.Errorf("unexpected report %+v", got)
	}
	if len(got.Entries) != 1 || got.Entries[0].Category != persona.Expertise || !got.Entries[0].Citation.Resolved() {
		t.Errorf("entries did not round-trip: %+v", got.Entries)
	}
}

func TestCache_Miss(t *testing.T) {
	c := setupTestCache(t)
	if _, err := c.Get(context.Background(), "nobody", 0); !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, got %v", err)
	}
}

func TestCache_Stale(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, report("old", time.Now().Add(-48*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "old", 24*time.Hour); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected stale report to miss, got %v", err)
	}
	if _, err := c.Get(ctx, "old", 0); err != nil {
		t.Errorf("expected maxAge 0 to accept any age, got %v", err)
	}
}

func TestCache_ReplaceAndList(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()
	now := time.Now()

	first := report("alice", now.Add(-2*time.Hour))
	second := report("alice", now.Add(-time.Hour))
	for _, r := range []*persona.Report{first, second, report("bob", now)} {
		if err := c.Put(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := c.Get(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != second.RunID {
		t.Error("expected the newer report to replace the older")
	}

	list, err := c.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Username != "bob" || list[1].Username != "alice" {
		t.Errorf("unexpected listing %+v", list)
	}
	if list[1].Entries != 1 {
		t.Errorf("expected entry count 1, got %d", list[1].Entries)
	}
}

func TestCache_Prune(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	c.Put(ctx, report("old", time.Now().Add(-72*time.Hour)))
	c.Put(ctx, report("new", time.Now()))

	n, err := c.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if _, err := c.Get(ctx, "new", 0); err != nil {
		t.Errorf("fresh report pruned: %v", err)
	}
}

func TestCache_LockSerializesPerUsername(t *testing.T) {
	c := setupTestCache(t)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := c.Lock("Spez")
			defer unlock()
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("expected one holder at a time, saw %d", maxActive.Load())
	}
	if len(c.locks.locks) != 0 {
		t.Errorf("expected lock table to drain, has %d", len(c.locks.locks))
	}

	// Different usernames do not block each other.
	unlockA := c.Lock("a")
	done := make(chan struct{})
	go func() {
		c.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("lock on b blocked behind a")
	}
	unlockA()
}

func TestReportName(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 5, 7, 0, time.UTC)
	if got := ReportName("spez", at, "md"); got != "persona_spez_20260301_090507.md" {
		t.Errorf("unexpected name %q", got)
	}
	if got := ReportName("../evil", at, "txt"); strings.Contains(got, "/") {
		t.Errorf("path separator leaked into %q", got)
	}
}

func TestWriteFile_Atomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	path, err := WriteFile(dir, "persona_x.txt", []byte("first"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := WriteFile(dir, "persona_x.txt", []byte("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("expected overwritten content, got %q", data)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one file, got %d", len(entries))
	}
}

func TestSaveExchange(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	path, err := SaveExchange(dir, Exchange{
		RunID:    "5f0c8c3e-2b7a-4d0e-9c43-0d5d3f1b2a11",
		Attempt:  1,
		Username: "spez",
		At:       at,
		Prompt:   "p",
		Response: "r",
	})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "exchange_spez_20260301_000000_5f0c8c3e_1.json" {
		t.Errorf("unexpected path %s", path)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"response": "r"`) {
		t.Errorf("unexpected content %s", data)
	}

	// A retry in the same second keeps the first exchange.
	second, err := SaveExchange(dir, Exchange{
		RunID:    "5f0c8c3e-2b7a-4d0e-9c43-0d5d3f1b2a11",
		Attempt:  2,
		Username: "spez",
		At:       at,
		Response: "again",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second == path {
		t.Fatalf("second attempt overwrote %s", path)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "exchanges"))
	if len(entries) != 2 {
		t.Errorf("expected 2 exchange files, got %d", len(entries))
	}
}
