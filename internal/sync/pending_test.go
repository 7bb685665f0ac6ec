package sync

import (
	"testing"

	"lifesync/internal/core"
)

func namedPatch(name string) core.DocumentPatch {
	hero := core.HeroProfile{Name: name}
	return core.DocumentPatch{HeroProfile: &hero}
}

func TestPendingQueueHoldsSingleEntry(t *testing.T) {
	var q PendingQueue

	if q.HasPending() {
		t.Fatal("fresh queue reports pending")
	}
	if _, ok := q.Peek(); ok {
		t.Fatal("fresh queue returned an entry")
	}

	first := q.Set(namedPatch("first"))
	second := q.Set(namedPatch("second"))
	if second.Revision <= first.Revision {
		t.Fatalf("revisions not monotonic: %d then %d", first.Revision, second.Revision)
	}

	entry, ok := q.Peek()
	if !ok {
		t.Fatal("expected an entry after Set")
	}
	if entry.Patch.HeroProfile.Name != "second" {
		t.Fatalf("queue kept %q, want the latest payload", entry.Patch.HeroProfile.Name)
	}
	if entry.QueuedAt.IsZero() {
		t.Fatal("queued timestamp not set")
	}
}

// Clear only removes the entry whose revision it was given, so a change
// queued mid-flush is never discarded by the flush that preceded it.
func TestPendingQueueClearByRevision(t *testing.T) {
	var q PendingQueue

	first := q.Set(namedPatch("first"))
	second := q.Set(namedPatch("second"))

	q.Clear(first.Revision)
	if !q.HasPending() {
		t.Fatal("stale clear dropped a newer entry")
	}

	q.Clear(second.Revision)
	if q.HasPending() {
		t.Fatal("matching clear left the entry behind")
	}
}

func TestPendingQueueReset(t *testing.T) {
	var q PendingQueue
	q.Set(namedPatch("anything"))
	q.Reset()
	if q.HasPending() {
		t.Fatal("reset left an entry behind")
	}
	// Revisions keep climbing after a reset.
	e := q.Set(namedPatch("next"))
	if e.Revision != 2 {
		t.Fatalf("revision after reset = %d, want 2", e.Revision)
	}
}
