package remote

import (
	"context"
	"errors"

	"lifesync/internal/core"
)

var (
	// ErrNotFound means the remote store holds no document for the id.
	ErrNotFound = errors.New("document not found")

	// ErrWrite marks a failed remote write (network or permission). The
	// synchronizer turns it into a pending change, never into a panic.
	ErrWrite = errors.New("remote write failed")

	// ErrRead marks a failed remote fetch. The last good in-memory state is
	// kept untouched.
	ErrRead = errors.New("remote read failed")
)

// Ports for the remote document service.
type (
	// Store is the outbound port to the remote document service. Update must
	// apply partial-field updates without clobbering unrelated fields.
	Store interface {
		Get(ctx context.Context, id string) (*core.UserDataDocument, error)
		Set(ctx context.Context, id string, doc *core.UserDataDocument) error
		Update(ctx context.Context, id string, patch core.DocumentPatch) error

		// ClearPersistenceCache drops any client-side persistence the
		// adapter keeps. Adapters without one treat this as a no-op.
		ClearPersistenceCache(ctx context.Context) error
	}

	// Watcher delivers whole-document snapshots (not deltas) every time the
	// remote copy changes, including changes caused by this client's own
	// writes. Failures are reported through onError; the subscription stays
	// alive until the returned unsubscribe func is called.
	Watcher interface {
		Watch(ctx context.Context, id string, onSnapshot func(*core.UserDataDocument), onError func(error)) (unsubscribe func(), err error)
	}
)
