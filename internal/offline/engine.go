package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/madahq/mada-sync/internal/platform/observability"
)

// Fetcher loads the authoritative value for a query key.
type Fetcher func(ctx context.Context) (any, error)

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Cache *CacheStore
	Queue *MutationQueue
	Probe Probe

	// PollInterval is how often the reconnect watcher samples the
	// probe.
	PollInterval time.Duration

	// GCInterval is how often expired cache entries are swept.
	GCInterval time.Duration

	// MaxRefreshes bounds concurrent background refreshes of stale
	// entries. Refreshes beyond the bound are skipped, not queued; the
	// next stale read triggers another attempt.
	MaxRefreshes int64

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// Engine ties the cache, queue, and probe together: it rehydrates both
// stores at startup, serves reads stale-while-revalidate, watches for
// reconnection, and triggers queue drains when connectivity returns.
type Engine struct {
	cache        *CacheStore
	queue        *MutationQueue
	probe        Probe
	pollInterval time.Duration
	gcInterval   time.Duration
	logger       *observability.Logger
	metrics      *observability.Metrics
	tracer       observability.Tracer

	refreshGroup singleflight.Group
	refreshSem   *semaphore.Weighted

	mu      sync.Mutex
	online  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates an engine with defaults applied.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Probe == nil {
		return nil, fmt.Errorf("probe is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 5 * time.Minute
	}
	if cfg.MaxRefreshes <= 0 {
		cfg.MaxRefreshes = 8
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Engine{
		cache:        cfg.Cache,
		queue:        cfg.Queue,
		probe:        cfg.Probe,
		pollInterval: cfg.PollInterval,
		gcInterval:   cfg.GCInterval,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		refreshSem:   semaphore.NewWeighted(cfg.MaxRefreshes),
	}, nil
}

// Start rehydrates the cache and queue, then launches the reconnect
// watcher and GC loops. If the process comes up reachable with queued
// work, a drain starts immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	e.cache.Restore(ctx)
	e.queue.Load(ctx)

	online := e.probe.IsOnline(ctx)
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.LogInfo(ctx, "sync engine started",
			"online", online,
			"cache_entries", e.cache.Len(),
			"queue_depth", e.queue.Size(),
		)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(2)
	go e.watchLoop(runCtx)
	go e.gcLoop(runCtx)

	if online && e.queue.Size() > 0 {
		e.drain(ctx)
	}
	return nil
}

// Stop halts the background loops and flushes dirty cache state.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	if err := e.cache.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush cache on shutdown: %w", err)
	}
	if e.logger != nil {
		e.logger.LogInfo(ctx, "sync engine stopped")
	}
	return nil
}

// Online reports the last observed connectivity state.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Fetch serves the value for key. A cached value returns immediately;
// if it is stale a background refresh is kicked off behind it. A miss
// fetches synchronously, deduplicated so concurrent misses on the same
// key share one upstream call.
func (e *Engine) Fetch(ctx context.Context, key QueryKey, fetch Fetcher) (any, error) {
	if value, ok := e.cache.Get(key); ok {
		if e.cache.Stale(key) {
			e.refreshAsync(key, fetch)
		}
		return value, nil
	}

	value, err, _ := e.refreshGroup.Do(key.String(), func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		e.cache.Set(key, v)
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch failed for %s: %w", key, err)
	}
	return value, nil
}

// NotifyReconnect is the external reconnect signal. It marks the engine
// online and starts a drain without waiting for the next poll.
func (e *Engine) NotifyReconnect(ctx context.Context) {
	e.mu.Lock()
	was := e.online
	e.online = true
	e.mu.Unlock()

	if e.logger != nil && !was {
		e.logger.LogInfo(ctx, "reconnect signal received")
	}
	e.drain(ctx)
}

// refreshAsync revalidates a stale entry in the background. The caller
// already has a servable value, so saturation and failures are
// non-events for it.
func (e *Engine) refreshAsync(key QueryKey, fetch Fetcher) {
	if !e.refreshSem.TryAcquire(1) {
		return
	}

	go func() {
		defer e.refreshSem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err, _ := e.refreshGroup.Do(key.String(), func() (any, error) {
			v, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			e.cache.Set(key, v)
			return v, nil
		})
		if err != nil && e.logger != nil {
			e.logger.LogWarn(ctx, "background refresh failed",
				"query_key", key.String(),
				"error", err,
			)
		}
	}()
}

// watchLoop polls the probe and triggers a drain on each offline to
// online transition.
func (e *Engine) watchLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := e.probe.IsOnline(ctx)

			e.mu.Lock()
			was := e.online
			e.online = online
			e.mu.Unlock()

			if online && !was {
				if e.logger != nil {
					e.logger.LogInfo(ctx, "connectivity restored",
						"queue_depth", e.queue.Size(),
					)
				}
			} else if !online && was {
				if e.logger != nil {
					e.logger.LogWarn(ctx, "connectivity lost")
				}
			}

			// Drain on every online tick, not just the
			// transition, so backed-off mutations replay once
			// their delay elapses.
			if online && e.queue.Size() > 0 {
				e.drain(ctx)
			}
		}
	}
}

// gcLoop periodically sweeps expired cache entries.
func (e *Engine) gcLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := e.cache.Sweep(); removed > 0 && e.logger != nil {
				e.logger.LogInfo(ctx, "cache swept", "removed", removed)
			}
		}
	}
}

// drain runs a queue drain in the background. Process is reentrancy
// safe, so overlapping triggers collapse into one pass.
func (e *Engine) drain(ctx context.Context) {
	if e.queue.Size() == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.queue.Process(context.WithoutCancel(ctx)); err != nil && e.logger != nil {
			e.logger.LogError(ctx, "drain failed", err)
		}
	}()
}
