package notification

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/madahq/mada-sync/internal/offline"
	"github.com/madahq/mada-sync/internal/platform/aws"
	"github.com/madahq/mada-sync/internal/platform/observability"
)

// exhaustedMessage is the SNS message body for an evicted mutation.
// Downstream consumers use it to alert on writes that were permanently
// dropped after exhausting their retry budget.
type exhaustedMessage struct {
	MutationID string `json:"mutationId"`
	Type       string `json:"type"`
	Payload    string `json:"payload"`
	EnqueuedAt string `json:"enqueuedAt"`
	RetryCount int    `json:"retryCount"`
}

// Publisher publishes exhausted mutations to SNS
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    observability.Tracer
}

// NewPublisher creates a new exhausted mutation publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}, nil
}

// PublishExhausted publishes an evicted mutation to SNS.
// Implements offline.ExhaustedPublisher interface.
func (p *Publisher) PublishExhausted(ctx context.Context, m *offline.QueuedMutation) error {
	ctx, span := p.tracer.StartSpan(
		ctx,
		"Publisher.PublishExhausted",
		observability.WithAttributes(
			attribute.String("mutation_id", m.ID),
			attribute.String("mutation_type", m.Type),
			attribute.String("topic_arn", p.topicARN),
		),
	)
	defer span.End()

	msg := exhaustedMessage{
		MutationID: m.ID,
		Type:       m.Type,
		Payload:    string(m.Payload),
		EnqueuedAt: m.EnqueuedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		RetryCount: m.RetryCount,
	}

	// Message attributes for subscription filtering
	attributes := map[string]string{
		"event":        "mutation_exhausted",
		"mutationType": m.Type,
	}

	if err := p.snsClient.Publish(ctx, p.topicARN, msg, attributes); err != nil {
		span.NoticeError(err)
		if p.logger != nil {
			p.logger.LogError(ctx, "failed to publish exhausted mutation to SNS", err,
				"mutation_id", m.ID,
				"topic_arn", p.topicARN,
			)
		}
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	if p.logger != nil {
		p.logger.Info("published exhausted mutation to SNS",
			"mutation_id", m.ID,
			"type", m.Type,
			"retry_count", m.RetryCount,
			"topic_arn", p.topicARN,
		)
	}

	return nil
}

// CircuitBreakerState returns the current circuit breaker state
func (p *Publisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (p *Publisher) ResetCircuitBreaker() {
	p.snsClient.ResetCircuitBreaker()
	if p.logger != nil {
		p.logger.Info("reset SNS circuit breaker")
	}
}
