package notification

import (
	"context"

	"github.com/madahq/mada-sync/internal/offline"
	"github.com/madahq/mada-sync/internal/platform/observability"
)

// NoOpPublisher is a publisher that does nothing but log evictions.
// Use this when SNS is not configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a new no-op publisher that only logs evictions.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	return &NoOpPublisher{
		logger: logger,
	}
}

// PublishExhausted logs the eviction instead of publishing to SNS.
// Implements offline.ExhaustedPublisher interface.
func (p *NoOpPublisher) PublishExhausted(ctx context.Context, m *offline.QueuedMutation) error {
	if p.logger != nil {
		p.logger.Info("mutation exhausted (SNS disabled)",
			"mutation_id", m.ID,
			"type", m.Type,
			"retry_count", m.RetryCount,
			"enqueued_at", m.EnqueuedAt,
		)
	}
	return nil
}

// CircuitBreakerState returns "closed" since there's no circuit breaker.
func (p *NoOpPublisher) CircuitBreakerState() string {
	return "closed"
}

// ResetCircuitBreaker is a no-op since there's no circuit breaker.
func (p *NoOpPublisher) ResetCircuitBreaker() {}
