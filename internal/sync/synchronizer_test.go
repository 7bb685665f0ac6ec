package sync

import (
	"context"
	"errors"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"lifesync/internal/core"
	"lifesync/internal/identity"
	"lifesync/internal/localstore"
	"lifesync/internal/notify"
	"lifesync/internal/remote/memory"
)

type fakeConn struct {
	mu     stdsync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

func newFakeConn(online bool) *fakeConn {
	return &fakeConn{online: online, subs: make(map[int]func(bool))}
}

func (c *fakeConn) Online(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) Subscribe(fn func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *fakeConn) setOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	subs := make([]func(bool), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

type captureSink struct {
	mu    stdsync.Mutex
	notes []notify.Notification
}

func (s *captureSink) Notify(_ context.Context, n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
}

func (s *captureSink) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notes))
	for i, n := range s.notes {
		out[i] = n.Title
	}
	return out
}

type fixture struct {
	sync *Synchronizer
	rem  *memory.Store
	conn *fakeConn
	sink *captureSink
	loc  *localstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := localstore.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	t.Cleanup(func() { loc.Close() })

	rem := memory.New()
	conn := newFakeConn(true)
	sink := &captureSink{}
	s := New(Config{
		DocumentID:    "user-1",
		RemoteTimeout: 2 * time.Second,
		FlushRetries:  2,
		FlushBackoff:  5 * time.Millisecond,
		DerivedTTL:    time.Minute,
	}, loc, rem, rem, conn, sink, identity.NewSequence("tx"))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return &fixture{sync: s, rem: rem, conn: conn, sink: sink, loc: loc}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func heroPatch(name string) core.DocumentPatch {
	hero := core.HeroProfile{Name: name, Level: 1}
	return core.DocumentPatch{HeroProfile: &hero}
}

func TestBootstrapCreatesDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.sync.Document()
	if doc.ID != "user-1" {
		t.Fatalf("document id = %q", doc.ID)
	}
	if doc.FinanceModule.MonthlyData == nil {
		t.Fatal("monthly data not initialized")
	}

	remoteDoc, err := f.rem.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("remote copy missing: %v", err)
	}
	if remoteDoc.ID != "user-1" {
		t.Fatalf("remote id = %q", remoteDoc.ID)
	}

	st := f.sync.Status(ctx)
	if st.PendingChanges {
		t.Fatal("fresh bootstrap should have no pending changes")
	}
	if !st.Online {
		t.Fatal("expected online status")
	}
}

func TestSaveReachesLocalAndRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.sync.Save(ctx, heroPatch("Ada")); err != nil {
		t.Fatalf("save: %v", err)
	}

	if got := f.sync.Document().HeroProfile.Name; got != "Ada" {
		t.Fatalf("in-memory hero = %q", got)
	}
	cached, err := f.loc.LoadDocument(ctx, "user-1")
	if err != nil {
		t.Fatalf("local load: %v", err)
	}
	if cached.HeroProfile.Name != "Ada" {
		t.Fatalf("cached hero = %q", cached.HeroProfile.Name)
	}
	remoteDoc, err := f.rem.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("remote get: %v", err)
	}
	if remoteDoc.HeroProfile.Name != "Ada" {
		t.Fatalf("remote hero = %q", remoteDoc.HeroProfile.Name)
	}

	st := f.sync.Status(ctx)
	if st.PendingChanges || st.State != StateIdle {
		t.Fatalf("status after clean save = %+v", st)
	}
	if st.LastSync.IsZero() {
		t.Fatal("last sync not recorded")
	}
}

// A mutation issued while offline is durable locally, held as the pending
// change, and flushed by an explicit synchronize once connectivity returns.
func TestOfflineSaveThenSynchronize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rem.SetOffline(true)
	f.conn.setOnline(false)

	if err := f.sync.Save(ctx, heroPatch("Grace")); err != nil {
		t.Fatalf("offline save: %v", err)
	}

	cached, err := f.loc.LoadDocument(ctx, "user-1")
	if err != nil || cached.HeroProfile.Name != "Grace" {
		t.Fatalf("offline save not in local cache: %v %v", cached, err)
	}
	st := f.sync.Status(ctx)
	if !st.PendingChanges || st.State != StateOfflinePending {
		t.Fatalf("status after offline save = %+v", st)
	}

	f.rem.SetOffline(false)
	if err := f.sync.Synchronize(ctx); err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	st = f.sync.Status(ctx)
	if st.PendingChanges {
		t.Fatal("pending change survived successful synchronize")
	}
	remoteDoc, _ := f.rem.Get(ctx, "user-1")
	if remoteDoc.HeroProfile.Name != "Grace" {
		t.Fatalf("remote hero = %q", remoteDoc.HeroProfile.Name)
	}
}

// Two rapid saves while offline leave only the second payload pending.
func TestOfflineSavesOverwritePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rem.SetOffline(true)
	if err := f.sync.Save(ctx, heroPatch("First")); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	if err := f.sync.Save(ctx, heroPatch("Second")); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	entry, ok := f.sync.pending.Peek()
	if !ok {
		t.Fatal("expected a pending entry")
	}
	if entry.Patch.HeroProfile == nil || entry.Patch.HeroProfile.Name != "Second" {
		t.Fatalf("pending payload = %+v, want the second save", entry.Patch.HeroProfile)
	}
	if entry.Revision != 2 {
		t.Fatalf("revision = %d, want 2", entry.Revision)
	}
}

func TestSynchronizeFailureRetainsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rem.SetOffline(true)
	_ = f.sync.Save(ctx, heroPatch("Kept"))

	if err := f.sync.Synchronize(ctx); err == nil {
		t.Fatal("expected synchronize to fail while offline")
	}
	st := f.sync.Status(ctx)
	if !st.PendingChanges || st.State != StateOfflinePending {
		t.Fatalf("pending entry dropped on failed flush: %+v", st)
	}
}

func TestConnectivityRestoredFlushesQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.rem.SetOffline(true)
	f.conn.setOnline(false)
	_ = f.sync.Save(ctx, heroPatch("Offline edit"))

	f.rem.SetOffline(false)
	f.conn.setOnline(true)

	st := f.sync.Status(ctx)
	if st.PendingChanges {
		t.Fatal("reconnect did not flush the pending change")
	}
	remoteDoc, _ := f.rem.Get(ctx, "user-1")
	if remoteDoc.HeroProfile.Name != "Offline edit" {
		t.Fatalf("remote hero = %q", remoteDoc.HeroProfile.Name)
	}

	titles := f.sink.titles()
	var lost, restored bool
	for _, title := range titles {
		if title == "Connection lost" {
			lost = true
		}
		if title == "Back online" {
			restored = true
		}
	}
	if !lost || !restored {
		t.Fatalf("missing connectivity notifications: %v", titles)
	}
}

// Incoming remote snapshots replace local state: remote is authoritative.
func TestRemoteSnapshotReconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := core.NewDocument("user-1")
	other.HeroProfile.Name = "From another device"
	other.FinanceModule.MonthlyData[" janvier "] = core.MonthlyRecord{Income: 100}
	if err := f.rem.Set(ctx, "user-1", other); err != nil {
		t.Fatalf("remote set: %v", err)
	}

	waitFor(t, "snapshot reconciliation", func() bool {
		return f.sync.Document().HeroProfile.Name == "From another device"
	})

	doc := f.sync.Document()
	if _, ok := doc.FinanceModule.MonthlyData["Janvier"]; !ok {
		t.Fatalf("aliased bucket not canonicalized on reconcile: %v", doc.FinanceModule.MonthlyData)
	}
	cached, err := f.loc.LoadDocument(ctx, "user-1")
	if err != nil || cached.HeroProfile.Name != "From another device" {
		t.Fatalf("local cache not updated on reconcile: %v %v", cached, err)
	}
}

func TestSaveAbortsOnInvalidPeriodKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fin := core.FinanceModule{MonthlyData: map[string]core.MonthlyRecord{
		"Smarch": {Income: 10},
	}}
	err := f.sync.Save(ctx, core.DocumentPatch{FinanceModule: &fin})
	if !errors.Is(err, core.ErrInvalidPeriodKey) {
		t.Fatalf("expected ErrInvalidPeriodKey, got %v", err)
	}
	if len(f.sync.Document().FinanceModule.MonthlyData) != 0 {
		t.Fatal("aborted save leaked into the document")
	}
	if f.sync.pending.HasPending() {
		t.Fatal("aborted save left a pending entry")
	}
}

func TestSaveCanonicalizesFinanceBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fin := core.FinanceModule{MonthlyData: map[string]core.MonthlyRecord{
		"janvier": {
			Income:       1000,
			Expenses:     400,
			Transactions: []core.Transaction{{ID: "a", Amount: 400, Type: core.Expense}},
		},
		" Janvier ": {
			Transactions: []core.Transaction{
				{ID: "a", Amount: 400, Type: core.Expense},
				{ID: "b", Amount: 1000, Type: core.Income},
			},
		},
	}}
	if err := f.sync.Save(ctx, core.DocumentPatch{FinanceModule: &fin}); err != nil {
		t.Fatalf("save: %v", err)
	}

	data := f.sync.Document().FinanceModule.MonthlyData
	if len(data) != 1 {
		t.Fatalf("expected one canonical bucket, got %v", data)
	}
	rec := data["Janvier"]
	if rec.Income != 1000 || rec.Expenses != 400 || rec.Balance != 600 || rec.SavingsRate != 60 {
		t.Fatalf("merged record = %+v", rec)
	}
	if len(rec.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(rec.Transactions))
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Failure path: no state mutation, error reported.
	before := f.sync.Document()
	f.rem.SetOffline(true)
	if err := f.sync.Refresh(ctx); !errors.Is(err, ErrRefresh) {
		t.Fatalf("expected ErrRefresh, got %v", err)
	}
	if f.sync.Document().HeroProfile != before.HeroProfile {
		t.Fatal("failed refresh mutated state")
	}

	// Success path: remote copy adopted.
	f.rem.SetOffline(false)
	other := core.NewDocument("user-1")
	other.HeroProfile.Name = "Fresh"
	_ = f.rem.Set(ctx, "user-1", other)
	waitFor(t, "push snapshot", func() bool {
		return f.sync.Document().HeroProfile.Name == "Fresh"
	})

	if err := f.sync.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if f.sync.Document().HeroProfile.Name != "Fresh" {
		t.Fatal("refresh lost remote state")
	}
}

func TestAddTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.sync.AddTransaction(ctx, "aout", core.Transaction{
		Description: "Salary",
		Amount:      2000,
		Type:        core.Income,
		Category:    "Work",
	})
	if err != nil {
		t.Fatalf("add transaction: %v", err)
	}
	if tx.ID != "tx-1" {
		t.Fatalf("minted id = %q", tx.ID)
	}
	if tx.Month != "Août" {
		t.Fatalf("month = %q, want canonical Août", tx.Month)
	}

	rec := f.sync.Document().FinanceModule.MonthlyData["Août"]
	if rec.Income != 2000 || rec.Balance != 2000 || rec.SavingsRate != 100 {
		t.Fatalf("record = %+v", rec)
	}

	if _, err := f.sync.AddTransaction(ctx, "Août", core.Transaction{
		ID: "tx-1", Amount: 1, Type: core.Expense,
	}); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}

	if _, err := f.sync.AddTransaction(ctx, "Smarch", core.Transaction{
		Amount: 1, Type: core.Expense,
	}); !errors.Is(err, core.ErrInvalidPeriodKey) {
		t.Fatalf("expected ErrInvalidPeriodKey, got %v", err)
	}
}

func TestMonthlyViewAndInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.sync.Monthly(ctx, "nonsense"); !errors.Is(err, core.ErrInvalidPeriodKey) {
		t.Fatalf("expected ErrInvalidPeriodKey, got %v", err)
	}

	if _, err := f.sync.AddTransaction(ctx, "mai", core.Transaction{
		Description: "Groceries", Amount: 50, Type: core.Expense, Category: "Food",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	rec, key, err := f.sync.Monthly(ctx, " MAI ")
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if key != core.Mai || rec.Expenses != 50 {
		t.Fatalf("monthly = %+v under %q", rec, key)
	}

	// A later save invalidates the derived cache, so the view follows.
	if _, err := f.sync.AddTransaction(ctx, "Mai", core.Transaction{
		Description: "More groceries", Amount: 25, Type: core.Expense, Category: "Food",
	}); err != nil {
		t.Fatalf("second add: %v", err)
	}
	rec, _, err = f.sync.Monthly(ctx, "mai")
	if err != nil {
		t.Fatalf("monthly after save: %v", err)
	}
	if rec.Expenses != 75 {
		t.Fatalf("expenses = %v, want 75 (stale cache?)", rec.Expenses)
	}
}

func TestOnInvalidateCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu stdsync.Mutex
	calls := 0
	f.sync.OnInvalidate(func() {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	_ = f.sync.Save(ctx, heroPatch("Ada"))
	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Fatal("invalidation callback not fired on save")
	}
}
