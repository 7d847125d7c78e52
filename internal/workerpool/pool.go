// Package workerpool implements the Worker Pool: bounded concurrent
// execution of registered job kinds with per-kind FIFO queues. It
// generalizes internal/queue/processor.go's design — a fixed set of
// poll-loop goroutines dequeuing from one shared collection — into one
// independent pool per kind, each with its own concurrency bound and
// queue depth.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/taskregistry"
	"github.com/gurukul/orchestration-core/pkg/logger"
	"github.com/gurukul/orchestration-core/pkg/metrics"
)

// Emitter lets a running job report progress back through the Task
// Registry without importing it directly, mirroring the
// GeneratorFuncs indirection used to avoid import cycles between the
// queue processor and the domain generators.
type Emitter func(percent int, stage string, partial any) error

// JobFunc is the unit of work submitted to a kind's pool. It must honor
// ctx's deadline and cancellation; retryable distinguishes a transient
// failure (eligible for the backoff/retry schedule) from a permanent one.
type JobFunc func(ctx context.Context, taskID string, emit Emitter) (result any, retryable bool, err error)

type job struct {
	taskID string
	fn     JobFunc
}

type kindPool struct {
	kind   models.TaskKind
	cfg    config.WorkerKindConfig
	queue  chan job
	wg     sync.WaitGroup
	stopCh chan struct{}

	mu        sync.Mutex
	cancelers map[string]context.CancelFunc
}

// Pool owns one kindPool per recognized TaskKind plus the shared
// dependencies (Task Registry, logger, metrics) every job needs to
// report its outcome.
type Pool struct {
	registry *taskregistry.Registry
	log      *slog.Logger
	metrics  *metrics.Collector

	pools map[models.TaskKind]*kindPool
}

// New builds a Pool with one kindPool per entry in cfg, wired to
// registry for Begin/Emit/Complete/Fail/Cancel.
func New(cfg map[string]config.WorkerKindConfig, registry *taskregistry.Registry, log *slog.Logger, m *metrics.Collector) *Pool {
	p := &Pool{
		registry: registry,
		log:      log,
		metrics:  m,
		pools:    make(map[models.TaskKind]*kindPool),
	}
	for kindStr, kc := range cfg {
		kind := models.TaskKind(kindStr)
		p.pools[kind] = &kindPool{
			kind:      kind,
			cfg:       kc,
			queue:     make(chan job, kc.MaxQueueDepth),
			stopCh:    make(chan struct{}),
			cancelers: make(map[string]context.CancelFunc),
		}
	}
	return p
}

// Start launches MaxConcurrency worker goroutines for every configured
// kind.
func (p *Pool) Start() {
	for _, kp := range p.pools {
		for i := 0; i < kp.cfg.MaxConcurrency; i++ {
			kp.wg.Add(1)
			go p.worker(kp, i)
		}
	}
}

// Shutdown stops accepting new submissions and waits up to grace for
// in-flight jobs to drain, then cancels whatever remains.
func (p *Pool) Shutdown(grace time.Duration) {
	for _, kp := range p.pools {
		close(kp.stopCh)
	}
	done := make(chan struct{})
	go func() {
		for _, kp := range p.pools {
			kp.wg.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		for _, kp := range p.pools {
			kp.mu.Lock()
			for _, cancel := range kp.cancelers {
				cancel()
			}
			kp.mu.Unlock()
		}
		<-done
	}
}

// Submit enqueues fn for taskID under kind. Returns gkerr.Backpressure
// if the per-kind queue is full.
func (p *Pool) Submit(kind models.TaskKind, taskID string, fn JobFunc) error {
	kp, ok := p.pools[kind]
	if !ok {
		return gkerr.New(gkerr.InvalidInput, fmt.Sprintf("unrecognized kind %q", kind))
	}
	select {
	case kp.queue <- job{taskID: taskID, fn: fn}:
		p.metrics.Counter(metrics.MetricQueueTasksSubmitted).Inc()
		return nil
	default:
		p.metrics.Counter(metrics.MetricQueueTasksBackpressure).Inc()
		drain := p.estimateDrain(kp)
		return gkerr.New(gkerr.Backpressure, "queue at capacity for kind "+string(kind)).WithRetryAfter(drain)
	}
}

// estimateDrain bounds the retry_after hint to [1s, 60s].
func (p *Pool) estimateDrain(kp *kindPool) float64 {
	perJob := kp.cfg.JobTimeout.Seconds() / float64(maxInt(kp.cfg.MaxConcurrency, 1))
	if perJob < 1 {
		perJob = 1
	}
	if perJob > 60 {
		perJob = 60
	}
	return perJob
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// KindStats is a point-in-time snapshot of one kind's pool occupancy.
type KindStats struct {
	Kind           models.TaskKind `json:"kind"`
	QueueDepth     int             `json:"queue_depth"`
	QueueCapacity  int             `json:"queue_capacity"`
	MaxConcurrency int             `json:"max_concurrency"`
	InFlight       int             `json:"in_flight"`
}

// Stats returns a snapshot of every configured kind's pool, for the
// Gateway's integration-status endpoint.
func (p *Pool) Stats() []KindStats {
	stats := make([]KindStats, 0, len(p.pools))
	for kind, kp := range p.pools {
		kp.mu.Lock()
		inFlight := len(kp.cancelers)
		kp.mu.Unlock()
		stats = append(stats, KindStats{
			Kind:           kind,
			QueueDepth:     len(kp.queue),
			QueueCapacity:  cap(kp.queue),
			MaxConcurrency: kp.cfg.MaxConcurrency,
			InFlight:       inFlight,
		})
	}
	return stats
}

// Cancel asks the running job for taskID (if any, across any kind) to
// stop at its next suspension point.
func (p *Pool) Cancel(taskID string) bool {
	for _, kp := range p.pools {
		kp.mu.Lock()
		cancel, ok := kp.cancelers[taskID]
		kp.mu.Unlock()
		if ok {
			cancel()
			return true
		}
	}
	return false
}

func (p *Pool) worker(kp *kindPool, id int) {
	defer kp.wg.Done()
	for {
		select {
		case <-kp.stopCh:
			return
		case j, ok := <-kp.queue:
			if !ok {
				return
			}
			p.runJob(kp, j)
		}
	}
}

func (p *Pool) runJob(kp *kindPool, j job) {
	ctx, cancel := context.WithTimeout(context.Background(), kp.cfg.JobTimeout)
	kp.mu.Lock()
	kp.cancelers[j.taskID] = cancel
	kp.mu.Unlock()
	defer func() {
		cancel()
		kp.mu.Lock()
		delete(kp.cancelers, j.taskID)
		kp.mu.Unlock()
	}()

	if err := p.registry.Begin(ctx, j.taskID); err != nil {
		logger.ErrorWithErr(p.log, ctx, "job_begin_failed", err, slog.String("task_id", j.taskID))
		return
	}

	emit := func(percent int, stage string, partial any) error {
		return p.registry.Emit(ctx, j.taskID, percent, stage, partial)
	}

	start := time.Now()
	attempt := 0
	for {
		result, retryable, err := j.fn(ctx, j.taskID, emit)
		if err == nil {
			_ = p.registry.Complete(ctx, j.taskID, result)
			p.metrics.Counter(metrics.MetricQueueTasksCompleted).Inc()
			p.metrics.Histogram(metrics.MetricQueueJobDuration).Observe(float64(time.Since(start).Milliseconds()))
			return
		}

		if ctx.Err() != nil {
			kind := gkerr.Timeout
			if ctx.Err() == context.Canceled {
				kind = gkerr.Cancelled
			}
			if kind == gkerr.Cancelled {
				_ = p.registry.Cancel(context.Background(), j.taskID)
			} else {
				_ = p.registry.Fail(context.Background(), j.taskID, string(kind), "job deadline exceeded")
			}
			p.metrics.Counter(metrics.MetricQueueTasksFailed).Inc()
			return
		}

		if retryable && attempt < kp.cfg.Retries {
			delay := Backoff(attempt)
			attempt++
			logger.Info(p.log, ctx, "job_retry",
				slog.String("task_id", j.taskID), slog.Int("attempt", attempt), slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				_ = p.registry.Fail(context.Background(), j.taskID, string(gkerr.Timeout), "deadline exceeded during retry backoff")
				p.metrics.Counter(metrics.MetricQueueTasksFailed).Inc()
				return
			}
		}

		kind := gkerr.Internal
		if ge, ok := gkerr.As(err); ok {
			kind = ge.Kind
		}
		_ = p.registry.Fail(context.Background(), j.taskID, string(kind), err.Error())
		p.metrics.Counter(metrics.MetricQueueTasksFailed).Inc()
		return
	}
}
