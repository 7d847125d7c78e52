// Package upstream implements the Upstream Client: per-endpoint
// circuit breakers, retries with backoff, and request timeouts shielding
// callers from the five external generation services. Structurally adapted
// from pkg/llm/router.go's design — that file's per-provider
// ProviderEntry/fallback-chain over a fixed OpenAI-shaped request
// becomes a per-(service,endpoint) circuitEntry over a caller-supplied
// Do func, since this client fronts five unrelated wire protocols, not
// one chat-completions API.
package upstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/workerpool"
	"github.com/gurukul/orchestration-core/pkg/logger"
	"github.com/gurukul/orchestration-core/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Call is one invocation against an external service's endpoint. Do
// performs the actual network call; its error, if any, must be a
// *gkerr.Error carrying HTTP4xx, HTTP5xx, NetworkError, or Timeout so
// the breaker can classify it correctly.
type Call struct {
	Service    string
	Endpoint   string
	Idempotent bool
	Do         func(ctx context.Context) (any, error)
}

// Client is the shared entry point every domain package (Lesson
// Composer, Progress Tracker's intervention dispatch, simulation/tts
// handlers) uses to reach an external service.
type Client struct {
	mu       sync.Mutex
	entries  map[string]*circuitEntry
	cfg      map[string]config.UpstreamEndpointConfig
	log      *slog.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
}

// New builds a Client with one circuitEntry per configured service.
func New(cfg map[string]config.UpstreamEndpointConfig, log *slog.Logger, m *metrics.Collector) *Client {
	return &Client{
		entries: make(map[string]*circuitEntry),
		cfg:     cfg,
		log:     log,
		metrics: m,
		tracer:  otel.Tracer("gurukul/upstream"),
	}
}

func (c *Client) entryFor(service, endpoint string) *circuitEntry {
	key := service + "/" + endpoint
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		cfg, known := c.cfg[service]
		if !known {
			cfg = config.UpstreamEndpointConfig{
				ConnectTimeout: 2 * time.Second, OverallTimeout: 30 * time.Second,
				MaxRetries: 3, FailureThreshold: 5, OpenDuration: 30 * time.Second, HalfOpenProbeLimit: 1,
			}
		}
		e = newCircuitEntry(cfg)
		c.entries[key] = e
	}
	return e
}

// Call executes req under the breaker, retry, and overall-timeout
// policy for its (Service, Endpoint).
func (c *Client) Call(ctx context.Context, req Call) (any, error) {
	entry := c.entryFor(req.Service, req.Endpoint)

	ctx, cancel := context.WithTimeout(ctx, entry.cfg.OverallTimeout)
	defer cancel()

	var lastErr error
	maxAttempts := 1
	if req.Idempotent {
		maxAttempts = entry.cfg.MaxRetries + 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, gkerr.New(gkerr.Timeout, "overall_timeout exceeded")
		}

		if !entry.admit() {
			c.metrics.Counter(metrics.MetricUpstreamBreakerTrips).Inc()
			return nil, gkerr.New(gkerr.CircuitOpen, "circuit open for "+req.Service+"/"+req.Endpoint)
		}

		spanCtx, span := c.tracer.Start(ctx, "upstream.call",
			trace.WithAttributes(
				attribute.String("service", req.Service),
				attribute.String("endpoint", req.Endpoint),
				attribute.Int("attempt_index", attempt),
			))

		start := time.Now()
		result, err := req.Do(spanCtx)
		latency := time.Since(start)
		span.End()

		c.metrics.Counter(metrics.MetricUpstreamCallsTotal).Inc()
		c.metrics.Histogram(metrics.MetricUpstreamLatency).Observe(float64(latency.Milliseconds()))

		if err == nil {
			entry.recordSuccess()
			return result, nil
		}

		lastErr = err
		counted, retryable := classify(err)
		if counted {
			entry.recordFailure()
			c.metrics.Counter(metrics.MetricUpstreamCallsFailed).Inc()
		}
		logger.ErrorWithErr(c.log, ctx, "upstream_call_failed", err,
			slog.String("service", req.Service), slog.String("endpoint", req.Endpoint), slog.Int("attempt", attempt))

		if !req.Idempotent || !retryable || attempt == maxAttempts-1 {
			break
		}

		delay := workerpool.Backoff(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, gkerr.New(gkerr.Timeout, "overall_timeout exceeded during retry backoff")
		}
	}

	return nil, lastErr
}

// classify reports whether err counts against the breaker and whether
// it is eligible for retry: http_4xx never counted/never retried;
// timeout, network_error, http_5xx both counted and retried.
func classify(err error) (counted, retryable bool) {
	ge, ok := gkerr.As(err)
	if !ok {
		return true, true
	}
	switch ge.Kind {
	case gkerr.HTTP4xx:
		return false, false
	case gkerr.Timeout, gkerr.NetworkError, gkerr.HTTP5xx:
		return true, true
	case gkerr.Cancelled:
		return false, false
	default:
		return true, true
	}
}

// State returns the current CircuitState for a service/endpoint.
func (c *Client) State(service, endpoint string) models.CircuitState {
	return c.entryFor(service, endpoint).snapshot(service, endpoint)
}

// AllStates returns a snapshot of every endpoint the client has seen,
// used by the Gateway's integration-status endpoint.
func (c *Client) AllStates() []models.CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := make([]models.CircuitState, 0, len(c.entries))
	for key, e := range c.entries {
		service, endpoint := splitKey(key)
		states = append(states, e.snapshot(service, endpoint))
	}
	return states
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
