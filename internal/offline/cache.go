package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/madahq/mada-sync/internal/platform/observability"
	"github.com/madahq/mada-sync/internal/platform/storage"
)

// StorageKeyCache is the fixed storage key the cache snapshot persists
// under. Other Mada clients read the same JSON shape.
const StorageKeyCache = "MADA_QUERY_CACHE"

// cacheEntry is one live cache record. staleAfter and gcAfter are
// captured at write time so a later config change does not retroactively
// reinterpret old entries.
type cacheEntry struct {
	key        QueryKey
	value      any
	fetchedAt  time.Time
	staleAfter time.Duration
	gcAfter    time.Duration
}

// CacheStoreConfig holds cache configuration.
type CacheStoreConfig struct {
	// Store is the durable backend the snapshot flushes into.
	Store storage.Store

	// FlushDebounce bounds how long a dirty cache stays unflushed.
	// Bursts of writes within the window coalesce into one disk write.
	FlushDebounce time.Duration

	// StaleAfter is the default freshness window. A stale entry is
	// still served but triggers a background refresh.
	StaleAfter time.Duration

	// GCAfter is the default servability window. Entries past it are
	// dropped by the GC sweep and never rehydrated on restore.
	GCAfter time.Duration

	Clock   Clock
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// CacheStore is the keyed, TTL-aware store of previously fetched
// results. Reads and in-memory writes never touch I/O; persistence
// happens on a debounced timer owned by the store.
type CacheStore struct {
	store         storage.Store
	flushDebounce time.Duration
	staleAfter    time.Duration
	gcAfter       time.Duration
	clock         Clock
	logger        *observability.Logger
	metrics       *observability.Metrics
	tracer        observability.Tracer

	mu         sync.Mutex
	entries    map[string]*cacheEntry
	dirty      bool
	flushTimer Timer
	closed     bool
}

// persistedEntry is the snapshot wire shape: a list of
// {queryKey, state: {data, dataUpdatedAt}} records.
type persistedEntry struct {
	QueryKey QueryKey       `json:"queryKey"`
	State    persistedState `json:"state"`
}

type persistedState struct {
	Data          json.RawMessage `json:"data"`
	DataUpdatedAt int64           `json:"dataUpdatedAt"`
}

// NewCacheStore creates a cache store. Restore must be called once at
// process start before the store is handed to callers.
func NewCacheStore(cfg CacheStoreConfig) (*CacheStore, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if cfg.FlushDebounce <= 0 {
		cfg.FlushDebounce = 1 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.GCAfter <= 0 {
		cfg.GCAfter = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &CacheStore{
		store:         cfg.Store,
		flushDebounce: cfg.FlushDebounce,
		staleAfter:    cfg.StaleAfter,
		gcAfter:       cfg.GCAfter,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		entries:       make(map[string]*cacheEntry),
	}, nil
}

// Get returns the cached value for key. It never blocks on I/O.
func (c *CacheStore) Get(key QueryKey) (any, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key.String()]
	c.mu.Unlock()

	if !ok {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(context.Background())
		}
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(context.Background())
	}
	return entry.value, true
}

// Stale reports whether the entry for key exists and is past its
// freshness window. Stale entries are still servable.
func (c *CacheStore) Stale(key QueryKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key.String()]
	if !ok {
		return false
	}
	return c.clock.Now().Sub(entry.fetchedAt) > entry.staleAfter
}

// Set overwrites any existing entry for key, stamps fetchedAt, and
// schedules a debounced persistence flush. Writes are last-write-wins.
func (c *CacheStore) Set(key QueryKey, value any) {
	c.SetWithTTL(key, value, c.staleAfter, c.gcAfter)
}

// SetWithTTL is Set with per-entry staleness and GC windows.
func (c *CacheStore) SetWithTTL(key QueryKey, value any, staleAfter, gcAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key.String()] = &cacheEntry{
		key:        key,
		value:      value,
		fetchedAt:  c.clock.Now(),
		staleAfter: staleAfter,
		gcAfter:    gcAfter,
	}
	c.markDirtyLocked()

	if c.metrics != nil {
		c.metrics.SetCacheEntries(context.Background(), int64(len(c.entries)))
	}
}

// Delete removes the entry for key, if any.
func (c *CacheStore) Delete(key QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key.String()]; !ok {
		return
	}
	delete(c.entries, key.String())
	c.markDirtyLocked()
}

// Len returns the number of live entries.
func (c *CacheStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all in-memory entries and the persisted snapshot
// synchronously.
func (c *CacheStore) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.dirty = false
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.mu.Unlock()

	if err := c.store.Remove(ctx, StorageKeyCache); err != nil {
		return fmt.Errorf("failed to remove persisted cache: %w", err)
	}
	return nil
}

// Restore rehydrates in-memory entries from the persisted snapshot.
// Entries already past their GC window are dropped rather than served
// stale indefinitely. Any restore failure degrades to a cold start.
func (c *CacheStore) Restore(ctx context.Context) {
	data, err := c.store.Get(ctx, StorageKeyCache)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && c.logger != nil {
			c.logger.LogWarn(ctx, "cache restore failed, starting cold", "error", err)
		}
		return
	}

	var persisted []persistedEntry
	if err := json.Unmarshal(data, &persisted); err != nil {
		if c.logger != nil {
			c.logger.LogWarn(ctx, "cache snapshot unreadable, starting cold", "error", err)
		}
		return
	}

	now := c.clock.Now()
	restored := 0
	dropped := 0

	c.mu.Lock()
	for _, p := range persisted {
		fetchedAt := time.UnixMilli(p.State.DataUpdatedAt)
		if now.Sub(fetchedAt) > c.gcAfter {
			dropped++
			continue
		}

		var value any
		if err := json.Unmarshal(p.State.Data, &value); err != nil {
			dropped++
			continue
		}

		c.entries[p.QueryKey.String()] = &cacheEntry{
			key:        p.QueryKey,
			value:      value,
			fetchedAt:  fetchedAt,
			staleAfter: c.staleAfter,
			gcAfter:    c.gcAfter,
		}
		restored++
	}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.LogInfo(ctx, "cache restored",
			"entries", restored,
			"dropped", dropped,
		)
	}
	if c.metrics != nil {
		c.metrics.SetCacheEntries(ctx, int64(restored))
	}
}

// Sweep removes entries past their GC window and returns how many were
// dropped. Invoked periodically by the engine.
func (c *CacheStore) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, entry := range c.entries {
		if now.Sub(entry.fetchedAt) > entry.gcAfter {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.markDirtyLocked()
	}
	return removed
}

// Flush persists the current snapshot synchronously. Used at shutdown;
// steady-state persistence goes through the debounce timer.
func (c *CacheStore) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	snapshot, err := c.snapshotLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.dirty = false
	c.mu.Unlock()

	start := time.Now()
	err = c.store.Set(ctx, StorageKeyCache, snapshot)
	if c.metrics != nil {
		c.metrics.RecordCacheFlush(ctx, err == nil, time.Since(start))
	}
	if err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return fmt.Errorf("cache flush failed: %w", err)
	}
	return nil
}

// Close cancels the flush timer and writes out any dirty state.
func (c *CacheStore) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	dirty := c.dirty
	c.mu.Unlock()

	if !dirty {
		c.mu.Lock()
		if c.flushTimer != nil {
			c.flushTimer.Stop()
			c.flushTimer = nil
		}
		c.mu.Unlock()
		return nil
	}
	return c.Flush(ctx)
}

// markDirtyLocked flags pending changes and arms the debounce timer if
// it is not already running. Caller must hold c.mu.
func (c *CacheStore) markDirtyLocked() {
	c.dirty = true
	if c.flushTimer != nil || c.closed {
		return
	}
	c.flushTimer = c.clock.AfterFunc(c.flushDebounce, c.debouncedFlush)
}

// debouncedFlush runs on the timer goroutine. A failed flush leaves the
// cache dirty and re-arms the timer so the write is retried on the next
// cycle; it never blocks Get or Set.
func (c *CacheStore) debouncedFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ctx, span := c.tracer.StartSpan(ctx, "CacheStore.flush")
	defer span.End()

	c.mu.Lock()
	c.flushTimer = nil
	if !c.dirty || c.closed {
		c.mu.Unlock()
		return
	}
	snapshot, err := c.snapshotLocked()
	if err != nil {
		// Unserializable value; drop the flush attempt but keep serving.
		c.mu.Unlock()
		span.NoticeError(err)
		if c.logger != nil {
			c.logger.LogError(ctx, "cache snapshot failed", err)
		}
		return
	}
	c.dirty = false
	c.mu.Unlock()

	start := time.Now()
	err = c.store.Set(ctx, StorageKeyCache, snapshot)
	if c.metrics != nil {
		c.metrics.RecordCacheFlush(ctx, err == nil, time.Since(start))
	}
	if err != nil {
		span.NoticeError(err)
		if c.logger != nil {
			c.logger.LogWarn(ctx, "cache flush failed, will retry", "error", err)
		}
		c.mu.Lock()
		c.markDirtyLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.dirty {
		// Writes landed while flushing; schedule the next cycle.
		c.markDirtyLocked()
	}
	c.mu.Unlock()
}

// snapshotLocked serializes all entries. Caller must hold c.mu.
func (c *CacheStore) snapshotLocked() ([]byte, error) {
	persisted := make([]persistedEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		data, err := json.Marshal(entry.value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entry %v: %w", entry.key, err)
		}
		persisted = append(persisted, persistedEntry{
			QueryKey: entry.key,
			State: persistedState{
				Data:          data,
				DataUpdatedAt: entry.fetchedAt.UnixMilli(),
			},
		})
	}
	return json.Marshal(persisted)
}
