package middleware

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/workerpool"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Rejecting requests
	CircuitHalfOpen                     // Testing if the pool has drained
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker is the Gateway's admission-control breaker: it trips
// open when the Worker Pool's per-kind queues are saturated, shedding
// new HTTP requests before they pile up behind an already-backed-up
// pool instead of counting raw concurrent requests or RPS against an
// arbitrary ceiling.
type CircuitBreaker struct {
	mu sync.RWMutex

	pool                *workerpool.Pool
	saturationThreshold float64       // queue_depth/queue_capacity at or above which a kind counts as saturated
	openTimeout         time.Duration // how long to stay open before probing again
	halfOpenMaxReqs     int64         // probe requests allowed through per half-open window

	state        CircuitState
	halfOpenReqs int64
	openedAt     time.Time

	totalRequests   int64
	rejectedCount   int64
	successCount    int64
	circuitOpenings int64
}

// NewCircuitBreaker builds a breaker that polls pool's queue occupancy
// on every Allow call.
func NewCircuitBreaker(pool *workerpool.Pool, saturationThreshold float64, openTimeout time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{
		pool:                pool,
		saturationThreshold: saturationThreshold,
		openTimeout:         openTimeout,
		halfOpenMaxReqs:     5,
		state:               CircuitClosed,
	}

	log.Printf("Circuit breaker configured: saturation threshold=%.2f, open timeout=%v", saturationThreshold, openTimeout)

	return cb
}

// DefaultCircuitBreaker builds the breaker from cfg.Gateway's saturation
// knobs, wired to pool so admission control reacts to the same
// per-kind backpressure workerpool.Pool.Submit rejects on.
func DefaultCircuitBreaker(pool *workerpool.Pool, cfg *config.Config) *CircuitBreaker {
	return NewCircuitBreaker(pool, cfg.Gateway.SaturationThreshold, cfg.Gateway.SaturationOpenTimeout)
}

// saturated reports whether any kind's queue occupancy is at or above
// the configured threshold, and which kind tripped it.
func (cb *CircuitBreaker) saturated() (bool, string) {
	for _, s := range cb.pool.Stats() {
		if s.QueueCapacity == 0 {
			continue
		}
		if float64(s.QueueDepth)/float64(s.QueueCapacity) >= cb.saturationThreshold {
			return true, string(s.Kind)
		}
	}
	return false, ""
}

// Allow checks if a request should be allowed through
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.AddInt64(&cb.totalRequests, 1)

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.openedAt) > cb.openTimeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenReqs = 0
			log.Printf("Circuit breaker transitioned to half-open state")
		} else {
			atomic.AddInt64(&cb.rejectedCount, 1)
			return false
		}
		fallthrough

	case CircuitHalfOpen:
		if cb.halfOpenReqs >= cb.halfOpenMaxReqs {
			atomic.AddInt64(&cb.rejectedCount, 1)
			return false
		}
		cb.halfOpenReqs++
		return true
	}

	if saturated, kind := cb.saturated(); saturated {
		cb.trip("worker pool saturated for kind " + kind)
		atomic.AddInt64(&cb.rejectedCount, 1)
		return false
	}

	return true
}

// Done signals that a request has completed
func (cb *CircuitBreaker) Done(success bool) {
	if success {
		atomic.AddInt64(&cb.successCount, 1)

		cb.mu.Lock()
		if cb.state == CircuitHalfOpen && cb.halfOpenReqs >= cb.halfOpenMaxReqs {
			if saturated, _ := cb.saturated(); !saturated {
				cb.state = CircuitClosed
				log.Printf("Circuit breaker transitioned to closed state (pool drained)")
			}
		}
		cb.mu.Unlock()
	}
}

// trip opens the circuit breaker
func (cb *CircuitBreaker) trip(reason string) {
	if cb.state == CircuitClosed {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		atomic.AddInt64(&cb.circuitOpenings, 1)
		log.Printf("Circuit breaker opened: %s", reason)
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats returns circuit breaker statistics
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return map[string]interface{}{
		"state":              cb.state.String(),
		"saturation_threshold": cb.saturationThreshold,
		"total_requests":     atomic.LoadInt64(&cb.totalRequests),
		"rejected_requests":  atomic.LoadInt64(&cb.rejectedCount),
		"success_requests":   atomic.LoadInt64(&cb.successCount),
		"circuit_openings":   atomic.LoadInt64(&cb.circuitOpenings),
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.halfOpenReqs = 0
	log.Printf("Circuit breaker manually reset to closed state")
}

// Protect is the middleware that implements circuit breaker protection
func (cb *CircuitBreaker) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cb.Allow() {
			state := cb.State()
			w.Header().Set("Retry-After", "5")
			w.Header().Set("X-Circuit-State", state.String())

			if state == CircuitOpen {
				http.Error(w, "Service temporarily unavailable due to high load. Please try again later.", http.StatusServiceUnavailable)
			} else {
				http.Error(w, "Server is busy. Please try again shortly.", http.StatusTooManyRequests)
			}
			return
		}

		success := true
		defer func() {
			if recovered := recover(); recovered != nil {
				success = false
				cb.Done(success)
				panic(recovered)
			}
			cb.Done(success)
		}()

		rw := &circuitResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		if rw.statusCode >= 500 {
			success = false
		}
	})
}

// circuitResponseWriter wraps http.ResponseWriter to capture status code
type circuitResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *circuitResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
