package offline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cacheStore "fitsync/internal/adapters/storage/cache"
	domain "fitsync/internal/domain/cache"
)

// TestCache_FreshnessWithSimulatedClock verifies an entry is fresh right after
// Set, stops being fresh once its TTL passes, and is still returned by Get.
func TestCache_FreshnessWithSimulatedClock(t *testing.T) {
	ctx := context.Background()
	for _, ttl := range []time.Duration{time.Millisecond, time.Second, 10 * time.Minute} {
		clock := newFakeClock()
		c := NewCache(cacheStore.NewMemoryStore(), "", clock.Now)

		if err := c.Set(ctx, "weekly-workout", json.RawMessage(`{"sessions":3}`), ttl); err != nil {
			t.Fatalf("Set: %v", err)
		}
		e, ok := c.Get(ctx, "weekly-workout")
		if !ok {
			t.Fatal("Get after Set: absent")
		}
		if !c.IsFresh(e, ttl) {
			t.Errorf("ttl %v: not fresh immediately after Set", ttl)
		}

		clock.Advance(ttl)
		if !c.IsFresh(e, ttl) {
			t.Errorf("ttl %v: not fresh at exactly ttl (bound is inclusive)", ttl)
		}

		clock.Advance(time.Millisecond)
		if c.IsFresh(e, ttl) {
			t.Errorf("ttl %v: still fresh after ttl elapsed", ttl)
		}
		if again, ok := c.Get(ctx, "weekly-workout"); !ok || string(again.Value) != `{"sessions":3}` {
			t.Errorf("ttl %v: stale entry not returned by Get", ttl)
		}
	}
}

// TestCache_SetOverwrites verifies a newer write replaces the value and StoredAt.
func TestCache_SetOverwrites(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewCache(cacheStore.NewMemoryStore(), "", clock.Now)

	c.Set(ctx, "k", json.RawMessage(`1`), time.Minute)
	clock.Advance(time.Hour)
	c.Set(ctx, "k", json.RawMessage(`2`), time.Minute)

	e, _ := c.Get(ctx, "k")
	if string(e.Value) != "2" || !e.StoredAt.Equal(clock.Now()) {
		t.Errorf("entry = %s at %v, want 2 at %v", e.Value, e.StoredAt, clock.Now())
	}
}

// TestCache_Validation verifies bad input is rejected and absent keys never error.
func TestCache_Validation(t *testing.T) {
	ctx := context.Background()
	c := NewCache(cacheStore.NewMemoryStore(), "", nil)

	if err := c.Set(ctx, "", json.RawMessage(`1`), 0); !errors.Is(err, domain.ErrEmptyKey) {
		t.Errorf("empty key err = %v", err)
	}
	if err := c.Set(ctx, "k", nil, 0); !errors.Is(err, domain.ErrEmptyValue) {
		t.Errorf("empty value err = %v", err)
	}
	if err := c.Set(ctx, "k", json.RawMessage(`1`), -time.Second); !errors.Is(err, domain.ErrNegativeTTL) {
		t.Errorf("negative ttl err = %v", err)
	}
	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("Get(missing) = present")
	}
	if _, ok := c.Get(ctx, ""); ok {
		t.Error("Get(\"\") = present")
	}
}

// TestCache_NamespaceIsolation verifies two members sharing a store never see each other's entries.
func TestCache_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	store := cacheStore.NewMemoryStore()
	alice := NewCache(store, "alice", nil)
	bob := NewCache(store, "bob", nil)

	alice.Set(ctx, "membership-details", json.RawMessage(`"gold"`), time.Minute)
	bob.Set(ctx, "membership-details", json.RawMessage(`"basic"`), time.Minute)

	a, _ := alice.Get(ctx, "membership-details")
	b, _ := bob.Get(ctx, "membership-details")
	if string(a.Value) != `"gold"` || string(b.Value) != `"basic"` {
		t.Fatalf("alice=%s bob=%s", a.Value, b.Value)
	}
	if a.Key != "membership-details" {
		t.Errorf("Key = %q, namespace leaked to caller", a.Key)
	}

	if err := alice.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := alice.Get(ctx, "membership-details"); ok {
		t.Error("alice entry survived Clear")
	}
	if _, ok := bob.Get(ctx, "membership-details"); !ok {
		t.Error("Clear in one namespace removed another member's entry")
	}

	list, err := bob.List(ctx)
	if err != nil || len(list) != 1 || list[0].Key != "membership-details" {
		t.Errorf("List = %+v, %v", list, err)
	}
}

// TestCache_Remove verifies explicit invalidation of one key.
func TestCache_Remove(t *testing.T) {
	ctx := context.Background()
	c := NewCache(cacheStore.NewMemoryStore(), "m", nil)
	c.Set(ctx, "a", json.RawMessage(`1`), 0)
	c.Set(ctx, "b", json.RawMessage(`2`), 0)

	if err := c.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Remove(ctx, "a"); err != nil {
		t.Errorf("Remove of missing key: %v", err)
	}
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("a still present")
	}
	if _, ok := c.Get(ctx, "b"); !ok {
		t.Error("b removed")
	}
}
