package offline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/madahq/mada-sync/internal/platform/observability"
)

// Transform maps the prior cached value for a key to its optimistic
// successor. prior is nil when the key had no entry.
type Transform func(prior any) any

// Mutation describes one optimistic write. Transform updates the local
// cache; Execute performs the remote write. When Execute is nil the
// coordinator routes Type and Payload through the configured Remote.
type Mutation struct {
	Key       QueryKey
	Type      string
	Payload   json.RawMessage
	Transform Transform
	Execute   func(ctx context.Context) error
}

// OptimisticCoordinatorConfig holds coordinator configuration.
type OptimisticCoordinatorConfig struct {
	Cache  *CacheStore
	Queue  *MutationQueue
	Remote Remote

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// OptimisticCoordinator applies writes to the cache before the remote
// confirms them. On remote failure it restores the exact prior value
// and hands the mutation to the queue for eventual replay, so the
// caller sees an immediately successful write either way.
//
// Snapshots are scoped to a single Apply call. Two overlapping writes
// to the same key each roll back to the value they individually
// observed, never to a global checkpoint.
type OptimisticCoordinator struct {
	cache   *CacheStore
	queue   *MutationQueue
	remote  Remote
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
}

// NewOptimisticCoordinator creates a coordinator.
func NewOptimisticCoordinator(cfg OptimisticCoordinatorConfig) (*OptimisticCoordinator, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	return &OptimisticCoordinator{
		cache:   cfg.Cache,
		queue:   cfg.Queue,
		remote:  cfg.Remote,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}, nil
}

// Apply runs the optimistic protocol for m: snapshot, transform, remote
// execute, then commit or rollback-and-enqueue. It returns an error
// only when the write could be neither confirmed nor queued; a deferred
// write is a success from the caller's point of view.
func (c *OptimisticCoordinator) Apply(ctx context.Context, m Mutation) error {
	if m.Transform == nil {
		return fmt.Errorf("transform is required")
	}
	execute := m.Execute
	if execute == nil {
		if c.remote == nil {
			return fmt.Errorf("mutation has no execute and no remote is configured")
		}
		execute = func(ctx context.Context) error {
			return c.remote.Execute(ctx, m.Type, m.Payload)
		}
	}

	ctx, span := c.tracer.StartSpan(ctx, "OptimisticCoordinator.Apply")
	defer span.End()
	span.SetAttribute("mutation.type", m.Type)
	span.SetAttribute("query.key", m.Key.String())

	prior, existed := c.cache.Get(m.Key)
	c.cache.Set(m.Key, m.Transform(prior))

	if c.metrics != nil {
		c.metrics.RecordOptimisticApply(ctx, m.Type)
	}

	err := execute(ctx)
	if err == nil {
		return nil
	}

	// Remote write failed: restore the exact observed state before
	// queueing. An absent entry rolls back to absence, not to nil.
	if existed {
		c.cache.Set(m.Key, prior)
	} else {
		c.cache.Delete(m.Key)
	}
	span.AddEvent("rolled_back")
	if c.metrics != nil {
		c.metrics.RecordRollback(ctx, m.Type)
	}

	id, qerr := c.queue.Add(ctx, m.Type, m.Payload)
	if qerr != nil {
		span.NoticeError(qerr)
		return fmt.Errorf("mutation failed and could not be queued: %w", qerr)
	}

	if c.logger != nil {
		c.logger.LogInfo(ctx, "mutation deferred to queue",
			"mutation_id", id,
			"type", m.Type,
			"error", err,
		)
	}
	return nil
}
