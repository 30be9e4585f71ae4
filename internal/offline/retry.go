package offline

import (
	"context"
	"time"

	"github.com/madahq/mada-sync/internal/platform/observability"
	"github.com/madahq/mada-sync/internal/platform/resilience"
)

// RetryDecision is the scheduler's verdict after a replay failure.
// When Retry is false the mutation is evicted from the queue.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// RetrySchedulerConfig holds retry policy configuration.
type RetrySchedulerConfig struct {
	// MaxRetries is the attempt ceiling. A mutation whose retryCount
	// reaches it is evicted rather than retried forever.
	MaxRetries int

	// BaseDelay seeds the exponential backoff schedule.
	BaseDelay time.Duration

	// MaxDelay caps the backoff schedule.
	MaxDelay time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// RetryScheduler decides, after each failed replay, whether a mutation
// gets another attempt and how long to wait before it. The ceiling is
// enforced across drain passes: retryCount travels with the mutation
// through persistence, so a restart never resets the count.
type RetryScheduler struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewRetryScheduler creates a scheduler with defaults applied.
func NewRetryScheduler(cfg RetrySchedulerConfig) *RetryScheduler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &RetryScheduler{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// OnFailure records a failed attempt on m and returns the decision.
// It increments m.RetryCount; the caller persists the mutation.
func (s *RetryScheduler) OnFailure(ctx context.Context, m *QueuedMutation) RetryDecision {
	m.RetryCount++

	if s.metrics != nil {
		s.metrics.RecordMutationRetry(ctx, m.Type, m.RetryCount)
	}

	if m.RetryCount >= s.maxRetries {
		if s.logger != nil {
			s.logger.LogWarn(ctx, "mutation exhausted retry budget",
				"mutation_id", m.ID,
				"type", m.Type,
				"retry_count", m.RetryCount,
			)
		}
		return RetryDecision{Retry: false}
	}

	delay := resilience.Backoff(m.RetryCount, s.baseDelay, s.maxDelay, 0)
	return RetryDecision{Retry: true, Delay: delay}
}

// MaxRetries returns the configured attempt ceiling.
func (s *RetryScheduler) MaxRetries() int {
	return s.maxRetries
}
