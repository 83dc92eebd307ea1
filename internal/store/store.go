// Package store keeps finished reports: a local sqlite cache keyed by
// username and the rendered files written to the output directory.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/persona/internal/persona"
)

// ErrNotCached is returned when no fresh report exists for a username.
var ErrNotCached = errors.New("no cached report")

type Cache struct {
	db    *sql.DB
	locks keyedMutex
}

// CachedReport is one row of the cache listing.
type CachedReport struct {
	Username    string    `json:"username"`
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Entries     int       `json:"entries"`
}

func New(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	// One connection keeps every write on a single writer.
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, locks: keyedMutex{locks: make(map[string]*refLock)}}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}
	return c, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) migrate() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS reports (
		username     TEXT PRIMARY KEY,
		run_id       TEXT NOT NULL,
		generated_at INTEGER NOT NULL,
		entries      INTEGER NOT NULL,
		body         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_generated_at ON reports(generated_at);
	`)
	return err
}

func cacheKey(username string) string {
	return strings.ToLower(username)
}

// Put stores r as the latest report for its username.
func (c *Cache) Put(ctx context.Context, r *persona.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO reports (username, run_id, generated_at, entries, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			run_id = excluded.run_id,
			generated_at = excluded.generated_at,
			entries = excluded.entries,
			body = excluded.body`,
		cacheKey(r.Username), r.RunID.String(), r.GeneratedAt.Unix(), len(r.Entries), string(body),
	)
	if err != nil {
		return fmt.Errorf("put report: %w", err)
	}
	return nil
}

// Get returns the cached report for username if it is younger than maxAge.
// A maxAge of zero accepts any age.
func (c *Cache) Get(ctx context.Context, username string, maxAge time.Duration) (*persona.Report, error) {
	var body string
	var generated int64
	err := c.db.QueryRowContext(ctx,
		`SELECT body, generated_at FROM reports WHERE username = ?`, cacheKey(username),
	).Scan(&body, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	if maxAge > 0 && time.Since(time.Unix(generated, 0)) > maxAge {
		return nil, ErrNotCached
	}

	var r persona.Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode cached report: %w", err)
	}
	return &r, nil
}

// List returns the newest cached reports first.
func (c *Cache) List(ctx context.Context, limit int) ([]CachedReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT username, run_id, generated_at, entries
		FROM reports
		ORDER BY generated_at DESC, username
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []CachedReport
	for rows.Next() {
		var cr CachedReport
		var generated int64
		if err := rows.Scan(&cr.Username, &cr.RunID, &generated, &cr.Entries); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		cr.GeneratedAt = time.Unix(generated, 0).UTC()
		out = append(out, cr)
	}
	return out, rows.Err()
}

// Prune deletes reports older than maxAge and returns how many went.
func (c *Cache) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := c.db.ExecContext(ctx, `DELETE FROM reports WHERE generated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	return res.RowsAffected()
}

// Lock serializes runs for one username within this process. The returned
// func releases the lock.
func (c *Cache) Lock(username string) func() {
	return c.locks.lock(cacheKey(username))
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
