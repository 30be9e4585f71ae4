package offline

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func newTestCache(t *testing.T, store *countingStore, clock *fakeClock) *CacheStore {
	t.Helper()
	cache, err := NewCacheStore(CacheStoreConfig{
		Store:         store,
		FlushDebounce: 1 * time.Second,
		StaleAfter:    30 * time.Second,
		GCAfter:       24 * time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("NewCacheStore failed: %v", err)
	}
	return cache
}

// TestCacheSetGet verifies basic read-your-writes behavior
func TestCacheSetGet(t *testing.T) {
	cache := newTestCache(t, newCountingStore(), newFakeClock())

	key := Key("posts", "feed")

	if _, ok := cache.Get(key); ok {
		t.Fatal("Expected miss on empty cache")
	}

	cache.Set(key, []any{"post-1", "post-2"})

	value, ok := cache.Get(key)
	if !ok {
		t.Fatal("Expected hit after Set")
	}
	if !reflect.DeepEqual(value, []any{"post-1", "post-2"}) {
		t.Errorf("Unexpected value: %v", value)
	}

	// Overwrite is last-write-wins
	cache.Set(key, []any{"post-3"})
	value, _ = cache.Get(key)
	if !reflect.DeepEqual(value, []any{"post-3"}) {
		t.Errorf("Expected overwritten value, got %v", value)
	}

	t.Log("✓ Set/Get round-trips without I/O")
}

// TestCacheStaleness verifies entries turn stale after their freshness window
func TestCacheStaleness(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache(t, newCountingStore(), clock)

	key := Key("profile", "user-1")
	cache.Set(key, "fresh")

	if cache.Stale(key) {
		t.Error("Expected fresh entry immediately after Set")
	}

	clock.Advance(31 * time.Second)

	if !cache.Stale(key) {
		t.Error("Expected stale entry after freshness window")
	}

	// Stale entries are still served
	if _, ok := cache.Get(key); !ok {
		t.Error("Expected stale entry to remain servable")
	}

	t.Log("✓ Staleness follows the freshness window")
}

// TestCacheDebouncedFlush verifies a write burst coalesces into one persistence write
func TestCacheDebouncedFlush(t *testing.T) {
	store := newCountingStore()
	clock := newFakeClock()
	cache := newTestCache(t, store, clock)

	for i := 0; i < 10; i++ {
		cache.Set(Key("posts", "feed"), []any{float64(i)})
		clock.Advance(50 * time.Millisecond)
	}

	if store.setCount() != 0 {
		t.Fatalf("Expected no flush inside debounce window, got %d writes", store.setCount())
	}

	clock.Advance(1 * time.Second)

	if store.setCount() != 1 {
		t.Fatalf("Expected exactly one coalesced flush, got %d", store.setCount())
	}

	// Verify persisted shape
	data, err := store.Get(context.Background(), StorageKeyCache)
	if err != nil {
		t.Fatalf("Expected persisted snapshot: %v", err)
	}
	var persisted []struct {
		QueryKey []string `json:"queryKey"`
		State    struct {
			Data          json.RawMessage `json:"data"`
			DataUpdatedAt int64           `json:"dataUpdatedAt"`
		} `json:"state"`
	}
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("Snapshot not valid JSON: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("Expected 1 persisted entry, got %d", len(persisted))
	}
	if persisted[0].State.DataUpdatedAt == 0 {
		t.Error("Expected dataUpdatedAt to be stamped")
	}

	t.Log("✓ Write burst coalesced into a single flush")
}

// TestCacheFlushFailureRetries verifies a failed flush keeps the cache dirty and retries
func TestCacheFlushFailureRetries(t *testing.T) {
	store := newCountingStore()
	clock := newFakeClock()
	cache := newTestCache(t, store, clock)

	store.setFailSet(errors.New("disk full"))
	cache.Set(Key("posts"), "v1")
	clock.Advance(1 * time.Second)

	if _, err := store.inner.Get(context.Background(), StorageKeyCache); err == nil {
		t.Fatal("Expected no snapshot after failed flush")
	}
	if clock.pendingTimers() == 0 {
		t.Fatal("Expected flush retry to be scheduled")
	}

	// Reads keep working during the outage
	if _, ok := cache.Get(Key("posts")); !ok {
		t.Error("Expected cache to keep serving during flush failure")
	}

	store.setFailSet(nil)
	clock.Advance(1 * time.Second)

	if _, err := store.inner.Get(context.Background(), StorageKeyCache); err != nil {
		t.Errorf("Expected snapshot after recovered flush: %v", err)
	}

	t.Log("✓ Failed flush retried without blocking reads")
}

// TestCacheRestore verifies rehydration drops entries past the GC window
func TestCacheRestore(t *testing.T) {
	store := newCountingStore()
	clock := newFakeClock()

	// First instance persists two entries with different ages
	first := newTestCache(t, store, clock)
	first.Set(Key("old"), "stale-data")
	clock.Advance(25 * time.Hour)
	first.Set(Key("recent"), "good-data")
	if err := first.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// Second instance restores from the same store
	second := newTestCache(t, store, clock)
	second.Restore(context.Background())

	if _, ok := second.Get(Key("old")); ok {
		t.Error("Expected entry past GC window to be dropped on restore")
	}
	value, ok := second.Get(Key("recent"))
	if !ok {
		t.Fatal("Expected recent entry to survive restore")
	}
	if value != "good-data" {
		t.Errorf("Unexpected restored value: %v", value)
	}

	t.Log("✓ Restore rehydrates recent entries and drops expired ones")
}

// TestCacheRestoreCorrupt verifies an unreadable snapshot degrades to a cold start
func TestCacheRestoreCorrupt(t *testing.T) {
	store := newCountingStore()
	if err := store.Set(context.Background(), StorageKeyCache, []byte("{not json")); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	cache := newTestCache(t, store, newFakeClock())
	cache.Restore(context.Background())

	if cache.Len() != 0 {
		t.Errorf("Expected empty cache after corrupt restore, got %d entries", cache.Len())
	}

	t.Log("✓ Corrupt snapshot degrades to a cold start")
}

// TestCacheClear verifies Clear drops memory and the persisted snapshot synchronously
func TestCacheClear(t *testing.T) {
	store := newCountingStore()
	clock := newFakeClock()
	cache := newTestCache(t, store, clock)

	cache.Set(Key("posts"), "data")
	clock.Advance(1 * time.Second)

	if err := cache.Clear(context.Background()); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if cache.Len() != 0 {
		t.Error("Expected empty cache after Clear")
	}
	if _, err := store.Get(context.Background(), StorageKeyCache); err == nil {
		t.Error("Expected persisted snapshot removed after Clear")
	}

	// A pending debounce must not resurrect cleared state
	clock.Advance(5 * time.Second)
	if _, err := store.Get(context.Background(), StorageKeyCache); err == nil {
		t.Error("Expected no snapshot rewrite after Clear")
	}

	t.Log("✓ Clear is synchronous and cancels pending flushes")
}

// TestCacheSweep verifies the GC sweep removes only expired entries
func TestCacheSweep(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache(t, newCountingStore(), clock)

	cache.Set(Key("doomed"), 1)
	clock.Advance(25 * time.Hour)
	cache.Set(Key("alive"), 2)

	removed := cache.Sweep()
	if removed != 1 {
		t.Fatalf("Expected 1 entry swept, got %d", removed)
	}
	if _, ok := cache.Get(Key("doomed")); ok {
		t.Error("Expected expired entry gone after sweep")
	}
	if _, ok := cache.Get(Key("alive")); !ok {
		t.Error("Expected live entry to survive sweep")
	}

	t.Log("✓ Sweep removes only entries past their GC window")
}
