package offline

import (
	"context"
	"net/http"
	"time"

	"github.com/madahq/mada-sync/internal/platform/observability"
)

// Probe answers "is the remote reachable right now?". Implementations
// must never return an error: an unreachable remote is an answer, not a
// failure condition.
type Probe interface {
	IsOnline(ctx context.Context) bool
}

// HTTPProbe checks reachability with a minimal HEAD round-trip against a
// stable endpoint. It holds no state beyond its configuration.
type HTTPProbe struct {
	client  *http.Client
	url     string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// HTTPProbeConfig holds network probe configuration.
type HTTPProbeConfig struct {
	// URL is the endpoint probed. A no-body HEAD request is sent.
	URL string

	// Timeout bounds the whole round-trip.
	Timeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewHTTPProbe creates a probe with a dedicated short-timeout client.
func NewHTTPProbe(cfg HTTPProbeConfig) *HTTPProbe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	return &HTTPProbe{
		client:  &http.Client{Timeout: cfg.Timeout},
		url:     cfg.URL,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// IsOnline returns true only if the probe request resolves with a
// success-class response. Any error, timeout, or non-success status
// yields false; callers treat false as "defer work".
func (p *HTTPProbe) IsOnline(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if p.logger != nil {
			p.logger.Debug("probe failed, treating as offline", "url", p.url, "error", err)
		}
		if p.metrics != nil {
			p.metrics.RecordProbeCheck(ctx, false)
		}
		return false
	}
	resp.Body.Close()

	online := resp.StatusCode >= 200 && resp.StatusCode < 400
	if p.metrics != nil {
		p.metrics.RecordProbeCheck(ctx, online)
	}
	return online
}
