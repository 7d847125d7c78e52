// Package metrics exposes the control plane's counters, gauges, and
// histograms through the Prometheus client library.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names shared across packages. Keeping them as constants avoids
// typo drift between the place a metric is recorded and the place it's
// read back in tests.
const (
	MetricHandlerRequestsTotal  = "gateway_requests_total"
	MetricHandlerRequestsErrors = "gateway_request_errors_total"
	MetricHandlerDuration       = "gateway_request_duration_ms"

	MetricQueueTasksSubmitted  = "workerpool_tasks_submitted_total"
	MetricQueueTasksClaimed    = "workerpool_tasks_claimed_total"
	MetricQueueTasksCompleted  = "workerpool_tasks_completed_total"
	MetricQueueTasksFailed     = "workerpool_tasks_failed_total"
	MetricQueueTasksBackpressure = "workerpool_tasks_backpressure_total"
	MetricQueueWorkersActive  = "workerpool_workers_active"
	MetricQueueJobDuration    = "workerpool_job_duration_ms"

	MetricUpstreamCallsTotal   = "upstream_calls_total"
	MetricUpstreamCallsFailed  = "upstream_calls_failed_total"
	MetricUpstreamLatency      = "upstream_call_latency_ms"
	MetricUpstreamBreakerTrips = "upstream_breaker_trips_total"

	MetricProgressTriggersFired = "progress_triggers_fired_total"
)

// Counter is a monotonically increasing value, optionally labeled.
type Counter interface {
	Inc()
	Add(v float64)
}

// Gauge can move up and down.
type Gauge interface {
	Inc()
	Dec()
	Set(v float64)
}

// Histogram observes a distribution of values (durations in milliseconds).
type Histogram interface {
	Observe(v float64)
}

// Collector is the process-wide registry of named metrics. It is
// constructed once and injected into components that need it, per the
// "no package-scope singletons" design rule; a convenience package-level
// default is still provided for call sites that don't thread it through.
type Collector struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewCollector builds a Collector backed by its own Prometheus registry.
func NewCollector() *Collector {
	return &Collector{
		registerer: prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// GetCollector returns the process-wide default collector, lazily built
// against the global Prometheus registry so /metrics (promhttp.Handler)
// sees everything recorded through it.
func GetCollector() *Collector {
	defaultOnce.Do(func() {
		defaultCollector = &Collector{
			registerer: prometheus.DefaultRegisterer,
			counters:   make(map[string]*prometheus.CounterVec),
			gauges:     make(map[string]*prometheus.GaugeVec),
			histograms: make(map[string]*prometheus.HistogramVec),
		}
	})
	return defaultCollector
}

type boundCounter struct{ vec *prometheus.CounterVec }

func (b boundCounter) Inc()          { b.vec.WithLabelValues().Inc() }
func (b boundCounter) Add(v float64) { b.vec.WithLabelValues().Add(v) }

type boundGauge struct{ vec *prometheus.GaugeVec }

func (b boundGauge) Inc()          { b.vec.WithLabelValues().Inc() }
func (b boundGauge) Dec()          { b.vec.WithLabelValues().Dec() }
func (b boundGauge) Set(v float64) { b.vec.WithLabelValues().Set(v) }

type boundHistogram struct{ vec *prometheus.HistogramVec }

func (b boundHistogram) Observe(v float64) { b.vec.WithLabelValues().Observe(v) }

// Counter returns (creating on first use) the named counter.
func (c *Collector) Counter(name string) Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.counters[name]
	if !ok {
		vec = promauto.With(c.registerer).NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: name,
		}, nil)
		c.counters[name] = vec
	}
	return boundCounter{vec}
}

// Gauge returns (creating on first use) the named gauge.
func (c *Collector) Gauge(name string) Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.gauges[name]
	if !ok {
		vec = promauto.With(c.registerer).NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: name,
		}, nil)
		c.gauges[name] = vec
	}
	return boundGauge{vec}
}

// Histogram returns (creating on first use) the named histogram. Buckets
// are tuned for millisecond-scale latencies (1ms..30s).
func (c *Collector) Histogram(name string) Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.histograms[name]
	if !ok {
		vec = promauto.With(c.registerer).NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 30000},
		}, nil)
		c.histograms[name] = vec
	}
	return boundHistogram{vec}
}

// Handler exposes the collector's registry in the Prometheus text format.
// Only meaningful for a Collector built against its own registry
// (NewCollector); the default collector should be scraped via
// promhttp.Handler() directly since it shares the global registry.
func (c *Collector) Handler() http.Handler {
	if reg, ok := c.registerer.(*prometheus.Registry); ok {
		return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
