// Package memory is an in-process remote store used by tests and as the
// default dev backend when no remote service is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"lifesync/internal/core"
	"lifesync/internal/remote"
)

type subscriber struct {
	docID      string
	onSnapshot func(*core.UserDataDocument)
	onError    func(error)
}

type Store struct {
	mu      sync.Mutex
	docs    map[string]*core.UserDataDocument
	subs    map[int]subscriber
	nextSub int
	offline bool
}

func New() *Store {
	return &Store{
		docs: make(map[string]*core.UserDataDocument),
		subs: make(map[int]subscriber),
	}
}

// SetOffline makes every store operation fail, simulating a lost connection.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func (s *Store) Get(_ context.Context, id string) (*core.UserDataDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, fmt.Errorf("%w: store offline", remote.ErrRead)
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *Store) Set(_ context.Context, id string, doc *core.UserDataDocument) error {
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return fmt.Errorf("%w: store offline", remote.ErrWrite)
	}
	s.docs[id] = doc.Clone()
	subs := s.snapshotSubscribers(id)
	snapshot := s.docs[id].Clone()
	s.mu.Unlock()

	// Snapshots are delivered to every watcher, own writes included. The
	// delivery is asynchronous like a real push channel.
	for _, sub := range subs {
		go sub.onSnapshot(snapshot.Clone())
	}
	return nil
}

func (s *Store) Update(_ context.Context, id string, patch core.DocumentPatch) error {
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return fmt.Errorf("%w: store offline", remote.ErrWrite)
	}
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return remote.ErrNotFound
	}
	patch.Apply(doc)
	subs := s.snapshotSubscribers(id)
	snapshot := doc.Clone()
	s.mu.Unlock()

	for _, sub := range subs {
		go sub.onSnapshot(snapshot.Clone())
	}
	return nil
}

func (s *Store) ClearPersistenceCache(context.Context) error {
	return nil
}

func (s *Store) Watch(_ context.Context, id string, onSnapshot func(*core.UserDataDocument), onError func(error)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, fmt.Errorf("%w: store offline", remote.ErrRead)
	}
	subID := s.nextSub
	s.nextSub++
	s.subs[subID] = subscriber{docID: id, onSnapshot: onSnapshot, onError: onError}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, subID)
	}, nil
}

// FailWatchers invokes onError on every subscriber, simulating a dropped
// push channel. Subscriptions stay registered.
func (s *Store) FailWatchers(err error) {
	s.mu.Lock()
	subs := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.onError(err)
	}
}

func (s *Store) snapshotSubscribers(docID string) []subscriber {
	out := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.docID == docID {
			out = append(out, sub)
		}
	}
	return out
}
