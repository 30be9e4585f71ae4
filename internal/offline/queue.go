package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/madahq/mada-sync/internal/platform/observability"
	"github.com/madahq/mada-sync/internal/platform/storage"
)

// StorageKeyQueue is the fixed storage key the mutation queue persists
// under.
const StorageKeyQueue = "MADA_OFFLINE_QUEUE"

// MutationStatus is the lifecycle state of a queued mutation.
type MutationStatus string

const (
	// StatusPending means the mutation is waiting for a drain pass.
	StatusPending MutationStatus = "pending"
	// StatusInFlight means a replay attempt is currently running.
	StatusInFlight MutationStatus = "in_flight"
)

// QueuedMutation is one deferred write awaiting replay. Payload is kept
// opaque; the queue never interprets it.
type QueuedMutation struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	RetryCount    int             `json:"retryCount"`
	Status        MutationStatus  `json:"status"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
}

// ExhaustedPublisher receives mutations evicted after exhausting their
// retry budget, so the outage is surfaced instead of silently dropped.
type ExhaustedPublisher interface {
	PublishExhausted(ctx context.Context, m *QueuedMutation) error
}

// MutationQueueConfig holds queue configuration.
type MutationQueueConfig struct {
	// Store is the durable backend. Every structural change persists
	// before Add acknowledges.
	Store storage.Store

	// Remote replays mutations against the backend during drains.
	Remote Remote

	// Scheduler decides retry vs eviction after each failed replay.
	Scheduler *RetryScheduler

	// Publisher receives evicted mutations. Optional.
	Publisher ExhaustedPublisher

	Clock   Clock
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// MutationQueue is the durable FIFO of writes performed while
// unreachable. At most one drain runs at a time and at most one
// mutation is in flight within it.
type MutationQueue struct {
	store     storage.Store
	remote    Remote
	scheduler *RetryScheduler
	publisher ExhaustedPublisher
	clock     Clock
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer

	mu        sync.Mutex
	mutations []*QueuedMutation
	draining  bool
}

// NewMutationQueue creates a queue. Load must be called once at process
// start to rehydrate survivors of the previous run.
func NewMutationQueue(cfg MutationQueueConfig) (*MutationQueue, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewRetryScheduler(RetrySchedulerConfig{})
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &MutationQueue{
		store:     cfg.Store,
		remote:    cfg.Remote,
		scheduler: cfg.Scheduler,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}, nil
}

// Add appends a mutation and persists the queue before returning, so an
// acknowledged write survives a crash. Returns the assigned mutation ID.
func (q *MutationQueue) Add(ctx context.Context, mutationType string, payload json.RawMessage) (string, error) {
	m := &QueuedMutation{
		ID:         uuid.NewString(),
		Type:       mutationType,
		Payload:    payload,
		EnqueuedAt: q.clock.Now(),
		Status:     StatusPending,
	}

	q.mu.Lock()
	q.mutations = append(q.mutations, m)
	err := q.persistLocked(ctx)
	if err != nil {
		q.mutations = q.mutations[:len(q.mutations)-1]
	}
	depth := len(q.mutations)
	q.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("failed to persist queue: %w", err)
	}

	if q.logger != nil {
		q.logger.LogInfo(ctx, "mutation enqueued",
			"mutation_id", m.ID,
			"type", mutationType,
			"queue_depth", depth,
		)
	}
	if q.metrics != nil {
		q.metrics.RecordMutationEnqueued(ctx, mutationType)
		q.metrics.SetQueueDepth(ctx, int64(depth))
	}
	return m.ID, nil
}

// Size returns the number of queued mutations.
func (q *MutationQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.mutations)
}

// Mutations returns a snapshot copy of the queue in FIFO order.
func (q *MutationQueue) Mutations() []QueuedMutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueuedMutation, len(q.mutations))
	for i, m := range q.mutations {
		out[i] = *m
	}
	return out
}

// Load rehydrates the queue from storage. Mutations persisted as
// in-flight were interrupted mid-replay and revert to pending. A
// missing or unreadable snapshot degrades to an empty queue.
func (q *MutationQueue) Load(ctx context.Context) {
	data, err := q.store.Get(ctx, StorageKeyQueue)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && q.logger != nil {
			q.logger.LogWarn(ctx, "queue load failed, starting empty", "error", err)
		}
		return
	}

	var mutations []*QueuedMutation
	if err := json.Unmarshal(data, &mutations); err != nil {
		if q.logger != nil {
			q.logger.LogWarn(ctx, "queue snapshot unreadable, starting empty", "error", err)
		}
		return
	}

	for _, m := range mutations {
		if m.Status == StatusInFlight {
			m.Status = StatusPending
		}
	}

	q.mu.Lock()
	q.mutations = mutations
	q.mu.Unlock()

	if q.logger != nil {
		q.logger.LogInfo(ctx, "queue loaded", "depth", len(mutations))
	}
	if q.metrics != nil {
		q.metrics.SetQueueDepth(ctx, int64(len(mutations)))
	}
}

// Clear drops all queued mutations and the persisted snapshot.
func (q *MutationQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	q.mutations = nil
	q.mu.Unlock()

	if err := q.store.Remove(ctx, StorageKeyQueue); err != nil {
		return fmt.Errorf("failed to remove persisted queue: %w", err)
	}
	if q.metrics != nil {
		q.metrics.SetQueueDepth(ctx, 0)
	}
	return nil
}

// Process drains the queue: each due mutation gets one replay attempt,
// in FIFO order, one at a time. A mutation whose backoff has not
// elapsed is skipped this pass. One mutation's failure never blocks the
// rest. Reentrant calls return immediately; the running drain picks up
// mutations added behind it.
func (q *MutationQueue) Process(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	ctx, span := q.tracer.StartSpan(ctx, "MutationQueue.Process")
	defer span.End()

	start := time.Now()
	processed := 0
	replayed := 0
	attempted := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			break
		}

		m := q.nextDue(attempted)
		if m == nil {
			break
		}
		attempted[m.ID] = true
		processed++

		if err := q.replay(ctx, m); err == nil {
			replayed++
		}
	}

	q.mu.Lock()
	depth := len(q.mutations)
	q.mu.Unlock()

	span.SetAttribute("mutations.processed", processed)
	span.SetAttribute("mutations.replayed", replayed)
	if q.metrics != nil {
		q.metrics.RecordDrain(ctx, processed, time.Since(start))
		q.metrics.SetQueueDepth(ctx, int64(depth))
	}
	if q.logger != nil && processed > 0 {
		q.logger.LogInfo(ctx, "drain pass complete",
			"processed", processed,
			"replayed", replayed,
			"remaining", depth,
		)
	}
	return nil
}

// nextDue returns the first pending mutation whose backoff has elapsed
// and which has not been attempted this pass, marking it in flight.
func (q *MutationQueue) nextDue(attempted map[string]bool) *QueuedMutation {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.mutations {
		if attempted[m.ID] || m.Status != StatusPending {
			continue
		}
		if !m.NextAttemptAt.IsZero() && now.Before(m.NextAttemptAt) {
			continue
		}
		m.Status = StatusInFlight
		return m
	}
	return nil
}

// replay executes one attempt for m and settles its outcome: removal on
// success, backoff or eviction on failure. The queue persists after
// every settlement.
func (q *MutationQueue) replay(ctx context.Context, m *QueuedMutation) error {
	err := q.remote.Execute(ctx, m.Type, m.Payload)
	if err == nil {
		q.mu.Lock()
		q.removeLocked(m.ID)
		if perr := q.persistLocked(ctx); perr != nil && q.logger != nil {
			q.logger.LogWarn(ctx, "queue persist failed after replay", "error", perr)
		}
		q.mu.Unlock()

		if q.logger != nil {
			q.logger.LogInfo(ctx, "mutation replayed",
				"mutation_id", m.ID,
				"type", m.Type,
			)
		}
		if q.metrics != nil {
			q.metrics.RecordMutationReplayed(ctx, m.Type)
		}
		return nil
	}

	decision := q.scheduler.OnFailure(ctx, m)

	q.mu.Lock()
	if decision.Retry {
		m.Status = StatusPending
		m.NextAttemptAt = q.clock.Now().Add(decision.Delay)
	} else {
		q.removeLocked(m.ID)
	}
	if perr := q.persistLocked(ctx); perr != nil && q.logger != nil {
		q.logger.LogWarn(ctx, "queue persist failed after replay", "error", perr)
	}
	q.mu.Unlock()

	if decision.Retry {
		if q.logger != nil {
			q.logger.LogWarn(ctx, "mutation replay failed, will retry",
				"mutation_id", m.ID,
				"type", m.Type,
				"retry_count", m.RetryCount,
				"next_attempt_in", decision.Delay.String(),
				"error", err,
			)
		}
		return err
	}

	if q.logger != nil {
		q.logger.LogError(ctx, "mutation evicted after exhausting retries", err,
			"mutation_id", m.ID,
			"type", m.Type,
			"retry_count", m.RetryCount,
		)
	}
	if q.metrics != nil {
		q.metrics.RecordMutationEvicted(ctx, m.Type)
	}
	if q.publisher != nil {
		if perr := q.publisher.PublishExhausted(ctx, m); perr != nil && q.logger != nil {
			q.logger.LogWarn(ctx, "failed to publish eviction", "error", perr)
		}
	}
	return err
}

// removeLocked deletes the mutation with id. Caller must hold q.mu.
func (q *MutationQueue) removeLocked(id string) {
	for i, m := range q.mutations {
		if m.ID == id {
			q.mutations = append(q.mutations[:i], q.mutations[i+1:]...)
			return
		}
	}
}

// persistLocked serializes the queue to storage. Caller must hold q.mu.
func (q *MutationQueue) persistLocked(ctx context.Context) error {
	if len(q.mutations) == 0 {
		return q.store.Set(ctx, StorageKeyQueue, []byte("[]"))
	}
	data, err := json.Marshal(q.mutations)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	return q.store.Set(ctx, StorageKeyQueue, data)
}
