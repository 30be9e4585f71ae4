package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/madahq/mada-sync/internal/platform/observability"
)

// Remote is the execution boundary with the server. The sync core relies
// on exactly one contract: a request either succeeds or fails. Fresh
// optimistic writes and queued replays both go through the same Remote.
type Remote interface {
	Execute(ctx context.Context, mutationType string, payload json.RawMessage) error
}

// RemoteFunc adapts a function to the Remote interface.
type RemoteFunc func(ctx context.Context, mutationType string, payload json.RawMessage) error

// Execute calls f.
func (f RemoteFunc) Execute(ctx context.Context, mutationType string, payload json.RawMessage) error {
	return f(ctx, mutationType, payload)
}

// HTTPRemote executes mutations as POSTs against the Mada API. The
// mutation type selects the route; the payload is passed through opaque.
type HTTPRemote struct {
	client  *http.Client
	baseURL string
	routes  map[string]string
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
}

// HTTPRemoteConfig holds remote executor configuration.
type HTTPRemoteConfig struct {
	BaseURL string
	Timeout time.Duration

	// Routes maps mutation types to URL paths, e.g.
	// "CREATE_POST" -> "/posts". Unknown types are an error.
	Routes map[string]string

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// NewHTTPRemote creates an HTTP-backed Remote.
func NewHTTPRemote(cfg HTTPRemoteConfig) (*HTTPRemote, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &HTTPRemote{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		routes:  cfg.Routes,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}, nil
}

// Execute sends the mutation and reports success or failure. The response
// body is discarded; the core only cares about the outcome.
func (r *HTTPRemote) Execute(ctx context.Context, mutationType string, payload json.RawMessage) error {
	ctx, span := r.tracer.StartSpan(ctx, "HTTPRemote.Execute")
	defer span.End()
	span.SetAttribute("mutation.type", mutationType)

	path, ok := r.routes[mutationType]
	if !ok {
		err := fmt.Errorf("no route for mutation type %q", mutationType)
		span.NoticeError(err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		span.NoticeError(err)
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		span.NoticeError(err)
		if r.metrics != nil {
			r.metrics.RecordRemoteCall(ctx, mutationType, "error", duration)
		}
		return fmt.Errorf("failed to execute mutation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
		span.NoticeError(err)
		if r.metrics != nil {
			r.metrics.RecordRemoteCall(ctx, mutationType, "error", duration)
		}
		return err
	}

	if r.metrics != nil {
		r.metrics.RecordRemoteCall(ctx, mutationType, "success", duration)
	}
	if r.logger != nil {
		r.logger.Debug("mutation executed",
			"type", mutationType,
			"duration_ms", duration.Milliseconds(),
		)
	}
	return nil
}
