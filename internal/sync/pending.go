package sync

import (
	"sync"
	"time"

	"lifesync/internal/core"
)

// PendingChange is the latest local mutation not yet confirmed as durably
// written to the remote store.
type PendingChange struct {
	Patch    core.DocumentPatch
	Revision int64
	QueuedAt time.Time
}

// PendingQueue holds at most one entry: the latest local intent not yet
// confirmed remote, not an audit log. A Set while an entry is pending
// overwrites it. Revisions increase monotonically across the lifetime of
// the queue so a flushed write can be told apart from a newer overwrite.
type PendingQueue struct {
	mu      sync.Mutex
	entry   *PendingChange
	lastRev int64
}

// Set stores patch as the pending change, replacing any previous entry, and
// returns the assigned revision.
func (q *PendingQueue) Set(patch core.DocumentPatch) PendingChange {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastRev++
	entry := PendingChange{Patch: patch, Revision: q.lastRev, QueuedAt: time.Now()}
	q.entry = &entry
	return entry
}

// Peek returns the pending change without removing it.
func (q *PendingQueue) Peek() (PendingChange, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entry == nil {
		return PendingChange{}, false
	}
	return *q.entry, true
}

// Clear drops the pending entry if its revision still matches rev. A newer
// overwrite is kept: confirming an old flush must not discard newer intent.
func (q *PendingQueue) Clear(rev int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entry != nil && q.entry.Revision == rev {
		q.entry = nil
	}
}

// Reset unconditionally empties the queue.
func (q *PendingQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entry = nil
}

func (q *PendingQueue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entry != nil
}
