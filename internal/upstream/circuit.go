package upstream

import (
	"sync"
	"time"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/models"
)

// circuitEntry is the per-(service,endpoint) breaker state, adapted from
// pkg/llm/router.go's ProviderEntry health tracking — same
// closed/open/half-open machine, generalized from "LLM provider" to
// "any external service endpoint".
type circuitEntry struct {
	mu sync.Mutex

	cfg config.UpstreamEndpointConfig

	status              models.CircuitStatus
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func newCircuitEntry(cfg config.UpstreamEndpointConfig) *circuitEntry {
	return &circuitEntry{cfg: cfg, status: models.CircuitClosed}
}

// admit reports whether a call may proceed, transitioning open→half_open
// when open_duration has elapsed.
func (c *circuitEntry) admit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case models.CircuitClosed:
		return true
	case models.CircuitOpen:
		if time.Since(c.openedAt) >= c.cfg.OpenDuration {
			c.status = models.CircuitHalfOpen
			c.halfOpenInFlight = 0
		} else {
			return false
		}
		fallthrough
	case models.CircuitHalfOpen:
		if c.halfOpenInFlight >= c.cfg.HalfOpenProbeLimit {
			return false
		}
		c.halfOpenInFlight++
		return true
	default:
		return false
	}
}

// recordSuccess resets the failure count and, from half_open, closes
// the circuit.
func (c *circuitEntry) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == models.CircuitHalfOpen {
		c.halfOpenInFlight--
	}
	c.consecutiveFailures = 0
	c.status = models.CircuitClosed
}

// recordFailure counts the failure and opens the circuit when the
// threshold is reached (or immediately, from half_open).
func (c *circuitEntry) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == models.CircuitHalfOpen {
		c.halfOpenInFlight--
		c.status = models.CircuitOpen
		c.openedAt = time.Now()
		return
	}
	c.consecutiveFailures++
	if c.consecutiveFailures >= c.cfg.FailureThreshold {
		c.status = models.CircuitOpen
		c.openedAt = time.Now()
	}
}

func (c *circuitEntry) snapshot(service, endpoint string) models.CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var opened *time.Time
	if !c.openedAt.IsZero() {
		t := c.openedAt
		opened = &t
	}
	return models.CircuitState{
		Service:             service,
		Endpoint:            endpoint,
		Status:              c.status,
		ConsecutiveFailures: c.consecutiveFailures,
		OpenedAt:            opened,
		HalfOpenProbes:      c.halfOpenInFlight,
	}
}
