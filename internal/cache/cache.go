// Package cache provides the in-memory LRU used for derived read views
// (monthly buckets, finance summaries) so repeated reads do not re-merge
// the document on every request. Entries are dropped wholesale whenever
// the underlying document changes.
package cache

import (
	"log/slog"
	"time"
)

// Cache is the read-view cache surface used by the HTTP layer.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)

	// Purge drops every entry. Called when the document is mutated or
	// replaced by a remote snapshot.
	Purge()

	Size() int
}

// Cleaner is implemented by caches that can evict their expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager runs periodic expiry cleanup for the caches registered with it.
type Manager struct {
	caches []Cleaner
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewManager() *Manager {
	return &Manager{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Register adds a cache to the cleanup rotation. Not safe to call after
// StartCleanup.
func (m *Manager) Register(c Cleaner) {
	m.caches = append(m.caches, c)
}

// StartCleanup begins evicting expired entries every interval.
func (m *Manager) StartCleanup(interval time.Duration) {
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleaned := 0
			for _, c := range m.caches {
				cleaned += c.CleanExpired()
			}
			if cleaned > 0 {
				slog.Debug("Evicted expired view cache entries", "count", cleaned)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stop halts the cleanup routine and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}
