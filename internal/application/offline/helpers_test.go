package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"fitsync/internal/adapters/portal"
	"fitsync/internal/adapters/storage"
	cacheStore "fitsync/internal/adapters/storage/cache"
	outboxStore "fitsync/internal/adapters/storage/outbox"
	"fitsync/internal/domain/envelope"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable clock shared by the service under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeTransport records requests and answers with respond.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []portal.Request
	respond func(req portal.Request) (envelope.Envelope, error)
}

func (f *fakeTransport) Do(_ context.Context, req portal.Request) (envelope.Envelope, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return envelope.OK(json.RawMessage(`{}`)), nil
	}
	return respond(req)
}

func (f *fakeTransport) Calls() []portal.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]portal.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("m-%d", n)
	}
}

type testHarness struct {
	svc       *Service
	clock     *fakeClock
	transport *fakeTransport
	failures  *failureRecorder
}

type failureRecorder struct {
	mu   sync.Mutex
	seen []SyncFailure
}

func (r *failureRecorder) handle(_ context.Context, f SyncFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, f)
}

func (r *failureRecorder) Seen() []SyncFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SyncFailure(nil), r.seen...)
}

// newHarness builds a service over memory stores. Init is not called so
// transitions do not start background drains unless a test asks for them.
func newHarness(t *testing.T, online bool) *testHarness {
	t.Helper()
	return newHarnessWithStores(t, online, cacheStore.NewMemoryStore(), outboxStore.NewMemoryStore())
}

// newSQLiteHarness is newHarness over in-memory SQLite stores, which honour
// context cancellation the way a production database does.
func newSQLiteHarness(t *testing.T, online bool) *testHarness {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := storage.Open(ctx, "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.InitDB(ctx, db, dialect); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	return newHarnessWithStores(t, online, cacheStore.NewSQLStore(db, dialect), outboxStore.NewSQLStore(db, dialect))
}

func newHarnessWithStores(t *testing.T, online bool, cache cacheStore.Store, outbox outboxStore.Store) *testHarness {
	t.Helper()
	clock := newFakeClock()
	transport := &fakeTransport{}
	failures := &failureRecorder{}
	svc := New(Deps{
		CacheStore:  cache,
		OutboxStore: outbox,
		Transport:   transport,
		OnFailure:   failures.handle,
		Now:         clock.Now,
		GenerateID:  sequentialIDs(),
	}, Options{
		Namespace:   "member-1",
		DefaultTTL:  5 * time.Minute,
		StartOnline: online,
	})
	t.Cleanup(svc.Dispose)
	return &testHarness{svc: svc, clock: clock, transport: transport, failures: failures}
}

func okFetch(data string, calls *int) NetworkFunc {
	return func(context.Context) (envelope.Envelope, error) {
		*calls++
		return envelope.OK(json.RawMessage(data)), nil
	}
}
