// Package sync keeps the local cache and the remote document store
// consistent across connectivity changes. All mutations flow through the
// Synchronizer: UI surfaces get read copies and request changes via Save.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	stdsync "sync"
	"time"

	"lifesync/internal/core"
	"lifesync/internal/identity"
	"lifesync/internal/localstore"
	"lifesync/internal/notify"
	"lifesync/internal/remote"
)

type State string

const (
	StateIdle           State = "idle"
	StateSyncing        State = "syncing"
	StateOfflinePending State = "offline-pending"
)

var (
	// ErrRefresh means an explicit refresh failed; no state was mutated.
	ErrRefresh = errors.New("refresh failed")

	// ErrDuplicateTransaction rejects a transaction whose id already exists
	// in the target month.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

// ConnectivitySource is the slice of the connectivity monitor the
// synchronizer depends on.
type ConnectivitySource interface {
	Online(ctx context.Context) bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Status is the externally observable sync state.
type Status struct {
	Online         bool      `json:"isOnline"`
	Syncing        bool      `json:"isSyncing"`
	LastSync       time.Time `json:"lastSyncTime"`
	PendingChanges bool      `json:"hasPendingChanges"`
	State          State     `json:"state"`
}

type Config struct {
	// DocumentID identifies the per-user document this instance owns.
	DocumentID string

	// RemoteTimeout bounds every individual remote operation.
	RemoteTimeout time.Duration

	// FlushRetries is how many attempts a pending-queue flush makes before
	// giving up and keeping the entry.
	FlushRetries int

	// FlushBackoff is the base delay between flush attempts; it doubles per
	// attempt with jitter added.
	FlushBackoff time.Duration

	// DerivedTTL is how long merged monthly views stay cached.
	DerivedTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = 10 * time.Second
	}
	if c.FlushRetries <= 0 {
		c.FlushRetries = 3
	}
	if c.FlushBackoff <= 0 {
		c.FlushBackoff = 500 * time.Millisecond
	}
	if c.DerivedTTL <= 0 {
		c.DerivedTTL = 10 * time.Minute
	}
	return c
}

// Synchronizer owns the UserDataDocument for one user and reconciles it
// between the local cache store and the remote document store. There is no
// ambient global: construct one instance at process start and hand it to
// consumers.
type Synchronizer struct {
	cfg     Config
	local   *localstore.Store
	store   remote.Store
	watcher remote.Watcher
	conn    ConnectivitySource
	sink    notify.Sink
	ids     identity.Generator

	mu           stdsync.Mutex
	doc          *core.UserDataDocument
	state        State
	syncing      bool
	lastSync     time.Time
	pending      PendingQueue
	watchCancel  func()
	watchErrSeen bool
	unsubConn    func()
	invalidators []func()
}

func New(cfg Config, local *localstore.Store, store remote.Store, watcher remote.Watcher, conn ConnectivitySource, sink notify.Sink, ids identity.Generator) *Synchronizer {
	if sink == nil {
		sink = notify.SlogSink{}
	}
	if ids == nil {
		ids = identity.UUID{}
	}
	return &Synchronizer{
		cfg:     cfg.withDefaults(),
		local:   local,
		store:   store,
		watcher: watcher,
		conn:    conn,
		sink:    sink,
		ids:     ids,
		state:   StateIdle,
	}
}

// Start loads the initial document (remote first, local cache as fallback,
// fresh defaults as a last resort), subscribes to remote snapshots and to
// connectivity transitions.
func (s *Synchronizer) Start(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	s.ensureWatch(ctx)
	s.unsubConn = s.conn.Subscribe(func(online bool) {
		s.onConnectivityChange(ctx, online)
	})
	slog.InfoContext(ctx, "Synchronizer started", "document_id", s.cfg.DocumentID)
	return nil
}

// Stop tears down the watch stream and connectivity subscription.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.watchCancel
	s.watchCancel = nil
	unsub := s.unsubConn
	s.unsubConn = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
}

func (s *Synchronizer) bootstrap(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	doc, err := s.store.Get(rctx, s.cfg.DocumentID)
	cancel()

	switch {
	case err == nil:
		s.adoptSnapshot(ctx, doc)

	case errors.Is(err, remote.ErrNotFound):
		// First load for this user: create the document with defaults and
		// push it up.
		doc = core.NewDocument(s.cfg.DocumentID)
		s.mu.Lock()
		s.doc = doc
		s.persistLocal(ctx)
		s.mu.Unlock()

		wctx, wcancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		werr := s.store.Set(wctx, s.cfg.DocumentID, doc)
		wcancel()
		if werr != nil {
			slog.WarnContext(ctx, "Initial document push failed, queued", "error", werr)
			s.mu.Lock()
			s.pending.Set(fullPatch(doc))
			s.state = StateOfflinePending
			s.mu.Unlock()
		} else {
			s.mu.Lock()
			s.lastSync = time.Now()
			s.mu.Unlock()
		}

	default:
		slog.WarnContext(ctx, "Remote fetch failed, falling back to local cache", "error", err)
		cached, lerr := s.local.LoadDocument(ctx, s.cfg.DocumentID)
		if lerr != nil {
			if !errors.Is(lerr, localstore.ErrNoSnapshot) {
				slog.ErrorContext(ctx, "Local cache load failed", "error", lerr)
			}
			cached = core.NewDocument(s.cfg.DocumentID)
		}
		s.mu.Lock()
		s.doc = cached
		s.mu.Unlock()
	}
	return nil
}

// Save applies a module-scoped partial update. The local cache is updated
// immediately; the remote write is attempted and, on failure, the patch is
// retained in the pending queue. Only an unmappable finance period key is a
// caller-visible error: that write is aborted entirely.
func (s *Synchronizer) Save(ctx context.Context, patch core.DocumentPatch) error {
	if patch.IsZero() {
		return nil
	}
	if patch.FinanceModule != nil {
		fin, err := canonicalFinance(*patch.FinanceModule)
		if err != nil {
			return err
		}
		patch.FinanceModule = fin
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncing = true
	s.state = StateSyncing
	defer func() { s.syncing = false }()

	patch.Apply(s.doc)
	s.persistLocal(ctx)
	s.invalidateDerived(ctx)

	entry := s.pending.Set(patch)
	if err := s.remoteWrite(ctx, patch); err != nil {
		slog.WarnContext(ctx, "Remote write failed, change kept pending",
			"document_id", s.cfg.DocumentID,
			"revision", entry.Revision,
			"error", err)
		s.state = StateOfflinePending
		s.sink.Notify(ctx, notify.Notification{
			Title:       "Saved locally",
			Description: "The change could not reach the server and will sync when you are back online.",
			Severity:    notify.SeverityWarning,
		})
		return nil
	}

	s.pending.Clear(entry.Revision)
	s.lastSync = time.Now()
	s.state = StateIdle
	return nil
}

// Synchronize flushes the pending change, if any, retrying with exponential
// backoff and jitter. On renewed failure the entry is retained.
func (s *Synchronizer) Synchronize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending.Peek()
	if !ok {
		return nil
	}

	s.syncing = true
	s.state = StateSyncing
	defer func() { s.syncing = false }()

	var err error
	backoff := s.cfg.FlushBackoff
	for attempt := 0; attempt < s.cfg.FlushRetries; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, withJitter(backoff)) {
				err = ctx.Err()
				break
			}
			backoff *= 2
		}
		if err = s.remoteWrite(ctx, entry.Patch); err == nil {
			break
		}
		slog.WarnContext(ctx, "Pending flush attempt failed",
			"attempt", attempt+1,
			"revision", entry.Revision,
			"error", err)
	}
	if err != nil {
		s.state = StateOfflinePending
		s.sink.Notify(ctx, notify.Notification{
			Title:       "Sync failed",
			Description: "Your latest change is still waiting to reach the server.",
			Severity:    notify.SeverityWarning,
		})
		return fmt.Errorf("flush pending change: %w", err)
	}

	s.pending.Clear(entry.Revision)
	s.lastSync = time.Now()
	s.state = StateIdle
	s.sink.Notify(ctx, notify.Notification{
		Title:       "Changes synced",
		Description: "Your latest change reached the server.",
		Severity:    notify.SeveritySuccess,
	})
	return nil
}

// Reconcile replaces in-memory and locally cached state with the incoming
// remote snapshot. Remote is authoritative by design; aliased finance
// buckets are collapsed on the way in so consumers never see duplicates.
func (s *Synchronizer) Reconcile(ctx context.Context, snapshot *core.UserDataDocument) {
	doc := snapshot.Clone()
	if invalid := doc.FinanceModule.Canonicalize(); len(invalid) > 0 {
		slog.WarnContext(ctx, "Snapshot contains unmappable period buckets",
			"document_id", s.cfg.DocumentID,
			"keys", invalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.watchErrSeen = false
	s.persistLocal(ctx)
	s.invalidateDerived(ctx)
	s.lastSync = time.Now()
	if s.state != StateSyncing {
		if s.pending.HasPending() {
			s.state = StateOfflinePending
		} else {
			s.state = StateIdle
		}
	}
}

// Refresh invalidates auxiliary caches and unconditionally re-fetches the
// remote document. On failure nothing is mutated and the caller gets
// ErrRefresh.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.invalidateDerived(ctx)
	s.mu.Unlock()

	if err := s.store.ClearPersistenceCache(ctx); err != nil {
		slog.WarnContext(ctx, "Clear persistence cache failed", "error", err)
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	doc, err := s.store.Get(rctx, s.cfg.DocumentID)
	cancel()
	if err != nil {
		s.sink.Notify(ctx, notify.Notification{
			Title:       "Refresh failed",
			Description: "Could not reach the server. Showing the last known data.",
			Severity:    notify.SeverityError,
		})
		return fmt.Errorf("%w: %v", ErrRefresh, err)
	}

	s.Reconcile(ctx, doc)
	s.sink.Notify(ctx, notify.Notification{
		Title:       "Refreshed",
		Description: "Your data is up to date.",
		Severity:    notify.SeveritySuccess,
	})
	return nil
}

// Document returns a read copy of the current document.
func (s *Synchronizer) Document() *core.UserDataDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Status reports the externally observable sync state. Online is probed
// live.
func (s *Synchronizer) Status(ctx context.Context) Status {
	online := s.conn.Online(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Online:         online,
		Syncing:        s.syncing,
		LastSync:       s.lastSync,
		PendingChanges: s.pending.HasPending(),
		State:          s.state,
	}
}

// Monthly returns the merged record for a period label, served from the
// durable derived-value cache when fresh.
func (s *Synchronizer) Monthly(ctx context.Context, rawKey string) (core.MonthlyRecord, core.PeriodKey, error) {
	canonical, ok := core.NormalizePeriod(rawKey)
	if !ok {
		return core.MonthlyRecord{}, "", fmt.Errorf("%w: %q", core.ErrInvalidPeriodKey, rawKey)
	}

	cacheKey := "monthly:" + string(canonical)
	if cached, hit, err := s.local.Get(ctx, cacheKey); err == nil && hit {
		var rec core.MonthlyRecord
		if err := json.Unmarshal([]byte(cached), &rec); err == nil {
			return rec, canonical, nil
		}
	}

	s.mu.Lock()
	rec := core.MergeMonthly(s.doc.FinanceModule.MonthlyData, canonical)
	s.mu.Unlock()

	if body, err := json.Marshal(rec); err == nil {
		if err := s.local.Put(ctx, cacheKey, string(body), s.cfg.DerivedTTL); err != nil {
			slog.DebugContext(ctx, "Derived cache write failed", "key", cacheKey, "error", err)
		}
	}
	return rec, canonical, nil
}

// Summary returns the cross-month finance overview.
func (s *Synchronizer) Summary() core.FinanceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.FinanceModule.Summarize()
}

// AddTransaction inserts a transaction into the canonical bucket for
// rawMonth, minting an id when the caller did not provide one, and saves the
// resulting finance module through the normal pipeline.
func (s *Synchronizer) AddTransaction(ctx context.Context, rawMonth string, tx core.Transaction) (core.Transaction, error) {
	canonical, ok := core.NormalizePeriod(rawMonth)
	if !ok {
		return tx, fmt.Errorf("%w: %q", core.ErrInvalidPeriodKey, rawMonth)
	}
	if tx.ID == "" {
		tx.ID = s.ids.NewID()
	}
	tx.Month = string(canonical)
	if err := tx.Validate(); err != nil {
		return tx, err
	}

	fin := s.Document().FinanceModule
	merged := core.MergeMonthly(fin.MonthlyData, canonical)
	for _, existing := range merged.Transactions {
		if existing.ID == tx.ID {
			return tx, fmt.Errorf("%w: %q", ErrDuplicateTransaction, tx.ID)
		}
	}
	switch tx.Type {
	case core.Income:
		merged.Income += tx.Amount
	case core.Expense:
		merged.Expenses += tx.Amount
	}
	merged.Transactions = append(merged.Transactions, tx)
	merged.Recompute()

	for _, key := range aliasesOf(fin.MonthlyData, canonical) {
		delete(fin.MonthlyData, key)
	}
	fin.MonthlyData[string(canonical)] = merged

	if err := s.Save(ctx, core.DocumentPatch{FinanceModule: &fin}); err != nil {
		return tx, err
	}
	return tx, nil
}

// OnInvalidate registers a callback fired whenever derived values become
// stale (save, reconcile, refresh). Used by in-memory caches layered on top.
func (s *Synchronizer) OnInvalidate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidators = append(s.invalidators, fn)
}

// remoteWrite pushes a partial update with a bounded timeout, falling back
// to a full write when the remote has no document yet.
func (s *Synchronizer) remoteWrite(ctx context.Context, patch core.DocumentPatch) error {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	defer cancel()
	err := s.store.Update(rctx, s.cfg.DocumentID, patch)
	if errors.Is(err, remote.ErrNotFound) {
		return s.store.Set(rctx, s.cfg.DocumentID, s.doc.Clone())
	}
	return err
}

// persistLocal saves the current document to the local cache. A persist
// failure is logged and absorbed: the store keeps the copy in memory.
func (s *Synchronizer) persistLocal(ctx context.Context) {
	if err := s.local.SaveDocument(ctx, s.doc); err != nil {
		if errors.Is(err, localstore.ErrCachePersist) {
			slog.ErrorContext(ctx, "Local cache persist failed, continuing in memory",
				"document_id", s.cfg.DocumentID,
				"error", err)
			return
		}
		slog.ErrorContext(ctx, "Local cache save failed", "error", err)
	}
}

func (s *Synchronizer) invalidateDerived(ctx context.Context) {
	if err := s.local.Invalidate(ctx); err != nil {
		slog.WarnContext(ctx, "Derived cache invalidation failed", "error", err)
	}
	for _, fn := range s.invalidators {
		fn()
	}
}

func (s *Synchronizer) adoptSnapshot(ctx context.Context, doc *core.UserDataDocument) {
	s.Reconcile(ctx, doc)
}

func (s *Synchronizer) ensureWatch(ctx context.Context) {
	s.mu.Lock()
	if s.watchCancel != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	cancel, err := s.watcher.Watch(ctx, s.cfg.DocumentID,
		func(doc *core.UserDataDocument) { s.Reconcile(ctx, doc) },
		func(err error) { s.onWatchError(ctx, err) })
	if err != nil {
		slog.WarnContext(ctx, "Watch subscription failed, will retry on reconnect", "error", err)
		return
	}
	s.mu.Lock()
	s.watchCancel = cancel
	s.mu.Unlock()
}

// onWatchError is called by the listener on push-channel failures. State is
// left untouched; the user hears about it once per outage.
func (s *Synchronizer) onWatchError(ctx context.Context, err error) {
	s.mu.Lock()
	first := !s.watchErrSeen
	s.watchErrSeen = true
	s.mu.Unlock()

	slog.WarnContext(ctx, "Remote change listener error", "error", err)
	if first {
		s.sink.Notify(ctx, notify.Notification{
			Title:       "Live updates interrupted",
			Description: "Reconnecting to the server in the background.",
			Severity:    notify.SeverityWarning,
		})
	}
}

func (s *Synchronizer) onConnectivityChange(ctx context.Context, online bool) {
	if online {
		s.sink.Notify(ctx, notify.Notification{
			Title:       "Back online",
			Description: "Syncing your pending changes.",
			Severity:    notify.SeveritySuccess,
		})
		s.ensureWatch(ctx)
		if err := s.Synchronize(ctx); err != nil {
			slog.WarnContext(ctx, "Flush after reconnect failed", "error", err)
		}
		return
	}

	s.sink.Notify(ctx, notify.Notification{
		Title:       "Connection lost",
		Description: "Changes are saved locally and will sync when you are back online.",
		Severity:    notify.SeverityWarning,
	})
	s.mu.Lock()
	if s.pending.HasPending() && s.state != StateSyncing {
		s.state = StateOfflinePending
	}
	s.mu.Unlock()
}

func canonicalFinance(fin core.FinanceModule) (*core.FinanceModule, error) {
	cloned := core.FinanceModule{
		MonthlyBudget: fin.MonthlyBudget,
		SavingsGoal:   fin.SavingsGoal,
		MonthlyData:   make(map[string]core.MonthlyRecord, len(fin.MonthlyData)),
	}
	for key, rec := range fin.MonthlyData {
		rec.Transactions = append([]core.Transaction(nil), rec.Transactions...)
		for _, tx := range rec.Transactions {
			if err := tx.Validate(); err != nil {
				return nil, fmt.Errorf("transaction %q: %w", tx.ID, err)
			}
		}
		cloned.MonthlyData[key] = rec
	}
	if invalid := cloned.Canonicalize(); len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidPeriodKey, invalid)
	}
	return &cloned, nil
}

func fullPatch(doc *core.UserDataDocument) core.DocumentPatch {
	hero := doc.HeroProfile
	status := doc.StatusModule
	look := doc.LookModule
	fin := doc.FinanceModule
	items := append([]core.StatusItem(nil), doc.StatusItems...)
	skills := append([]core.Skill(nil), doc.Skills...)
	return core.DocumentPatch{
		HeroProfile:   &hero,
		StatusModule:  &status,
		LookModule:    &look,
		FinanceModule: &fin,
		StatusItems:   &items,
		Skills:        &skills,
	}
}

func aliasesOf(buckets map[string]core.MonthlyRecord, canonical core.PeriodKey) []string {
	var keys []string
	for key := range buckets {
		if got, ok := core.NormalizePeriod(key); ok && got == canonical {
			keys = append(keys, key)
		}
	}
	return keys
}

func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
