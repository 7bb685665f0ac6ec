// Package localstore is the durable on-device cache: the last known-good
// document snapshot plus a small TTL cache for derived values. Writes are
// best-effort; when SQLite refuses a write (disk full, locked file) the store
// degrades to an in-memory overlay for that document and reports
// ErrCachePersist so the caller can log and carry on.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lifesync/internal/core"

	_ "modernc.org/sqlite"
)

var (
	// ErrNoSnapshot is returned by LoadDocument when no snapshot has ever
	// been saved for the requested document.
	ErrNoSnapshot = errors.New("no cached snapshot")

	// ErrCachePersist marks a failed durable write. The document is still
	// held in memory for the lifetime of the process.
	ErrCachePersist = errors.New("local cache persist failed")
)

type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	overlay map[string]*core.UserDataDocument
}

// NewStore opens (and if needed creates) the cache database at dbPath and
// runs schema migrations.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:      db,
		overlay: make(map[string]*core.UserDataDocument),
	}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveDocument persists the snapshot. From the caller's point of view the
// save always takes effect: on a storage failure the document is retained in
// the in-memory overlay and the returned error wraps ErrCachePersist, which
// is for logging only.
func (s *Store) SaveDocument(ctx context.Context, doc *core.UserDataDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.overlay[doc.ID] = doc.Clone()
	s.mu.Unlock()

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", ErrCachePersist, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_snapshots (id, body, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, saved_at = excluded.saved_at`,
		doc.ID, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCachePersist, err)
	}
	return nil
}

// LoadDocument returns the last saved snapshot for id, preferring the
// in-memory overlay which is always at least as fresh as the database.
// Returns ErrNoSnapshot when neither holds a copy.
func (s *Store) LoadDocument(ctx context.Context, id string) (*core.UserDataDocument, error) {
	s.mu.RLock()
	if doc, ok := s.overlay[id]; ok {
		s.mu.RUnlock()
		return doc.Clone(), nil
	}
	s.mu.RUnlock()

	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM document_snapshots WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var doc core.UserDataDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &doc, nil
}

// Put stores a derived value under key for ttl. Values past their expiry are
// treated as absent and evicted lazily on read.
func (s *Store) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	expires := time.Now().UTC().Add(ttl)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO derived_cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expires)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCachePersist, err)
	}
	return nil
}

// Get returns the cached value for key, or ok=false when absent or expired.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value   string
		expires time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM derived_cache WHERE key = ?`, key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached value: %w", err)
	}
	if time.Now().UTC().After(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM derived_cache WHERE key = ?`, key)
		return "", false, nil
	}
	return value, true, nil
}

// Invalidate drops every derived-cache entry. Used by explicit refresh.
func (s *Store) Invalidate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM derived_cache`); err != nil {
		return fmt.Errorf("invalidate derived cache: %w", err)
	}
	return nil
}
