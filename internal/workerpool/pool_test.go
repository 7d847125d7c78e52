package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/store"
	"github.com/gurukul/orchestration-core/internal/taskregistry"
	"github.com/gurukul/orchestration-core/pkg/metrics"
)

func newTestPool(t *testing.T, cfg map[string]config.WorkerKindConfig) (*Pool, *taskregistry.Registry) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	registry := taskregistry.New(db, slog.Default(), time.Hour)
	pool := New(cfg, registry, slog.Default(), metrics.NewCollector())
	return pool, registry
}

func lessonCfg(maxConcurrency, maxQueueDepth, retries int, jobTimeout time.Duration) map[string]config.WorkerKindConfig {
	return map[string]config.WorkerKindConfig{
		"lesson": {MaxConcurrency: maxConcurrency, MaxQueueDepth: maxQueueDepth, JobTimeout: jobTimeout, Retries: retries},
	}
}

func TestPool_SubmitUnrecognizedKind(t *testing.T) {
	pool, _ := newTestPool(t, lessonCfg(1, 4, 0, time.Second))
	err := pool.Submit(models.TaskKind("simulation"), "t1", func(ctx context.Context, taskID string, emit Emitter) (any, bool, error) {
		return nil, false, nil
	})
	require.Error(t, err)
	ge, ok := gkerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gkerr.InvalidInput, ge.Kind)
}

func TestPool_SubmitBackpressure(t *testing.T) {
	pool, _ := newTestPool(t, lessonCfg(1, 2, 0, time.Second))
	noop := func(ctx context.Context, taskID string, emit Emitter) (any, bool, error) { return nil, false, nil }

	require.NoError(t, pool.Submit(models.KindLesson, "t1", noop))
	require.NoError(t, pool.Submit(models.KindLesson, "t2", noop))

	err := pool.Submit(models.KindLesson, "t3", noop)
	require.Error(t, err)
	ge, ok := gkerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gkerr.Backpressure, ge.Kind)
	assert.Greater(t, ge.RetryAfter, 0.0)
}

func TestPool_RunsJobToCompletion(t *testing.T) {
	pool, registry := newTestPool(t, lessonCfg(1, 4, 0, time.Second))
	pool.Start()
	defer pool.Shutdown(time.Second)

	ctx := context.Background()
	task, err := registry.Create(ctx, models.KindLesson, "user-1", nil, false)
	require.NoError(t, err)

	done := make(chan struct{})
	err = pool.Submit(models.KindLesson, task.TaskID, func(ctx context.Context, taskID string, emit Emitter) (any, bool, error) {
		require.NoError(t, emit(50, "drafting", nil))
		close(done)
		return map[string]any{"ok": true}, false, nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}

	require.Eventually(t, func() bool {
		got, err := registry.Get(ctx, task.TaskID)
		return err == nil && got.State == models.TaskCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestPool_RetriesRetryableFailures(t *testing.T) {
	pool, registry := newTestPool(t, lessonCfg(1, 4, 2, 10*time.Second))
	pool.Start()
	defer pool.Shutdown(time.Second)

	ctx := context.Background()
	task, err := registry.Create(ctx, models.KindLesson, "user-1", nil, false)
	require.NoError(t, err)

	var attempts int
	err = pool.Submit(models.KindLesson, task.TaskID, func(ctx context.Context, taskID string, emit Emitter) (any, bool, error) {
		attempts++
		if attempts < 3 {
			return nil, true, errors.New("upstream hiccup")
		}
		return "done", false, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := registry.Get(ctx, task.TaskID)
		return err == nil && got.State == models.TaskCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, attempts)
}

func TestPool_FailsAfterExhaustingRetries(t *testing.T) {
	pool, registry := newTestPool(t, lessonCfg(1, 4, 1, 10*time.Second))
	pool.Start()
	defer pool.Shutdown(time.Second)

	ctx := context.Background()
	task, err := registry.Create(ctx, models.KindLesson, "user-1", nil, false)
	require.NoError(t, err)

	err = pool.Submit(models.KindLesson, task.TaskID, func(ctx context.Context, taskID string, emit Emitter) (any, bool, error) {
		return nil, true, gkerr.New(gkerr.UpstreamUnavailable, "still down")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := registry.Get(ctx, task.TaskID)
		return err == nil && got.State == models.TaskFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, err := registry.Get(ctx, task.TaskID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, string(gkerr.UpstreamUnavailable), got.Error.Kind)
}

func TestPool_FailsNonRetryableImmediately(t *testing.T) {
	pool, registry := newTestPool(t, lessonCfg(1, 4, 5, time.Second))
	pool.Start()
	defer pool.Shutdown(time.Second)

	ctx := context.Background()
	task, err := registry.Create(ctx, models.KindLesson, "user-1", nil, false)
	require.NoError(t, err)

	var attempts int
	err = pool.Submit(models.KindLesson, task.TaskID, func(ctx context.Context, taskID string, emit Emitter) (any, bool, error) {
		attempts++
		return nil, false, gkerr.New(gkerr.InvalidInput, "bad prompt")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := registry.Get(ctx, task.TaskID)
		return err == nil && got.State == models.TaskFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, attempts)
}

func TestPool_JobTimeoutFailsWithDeadline(t *testing.T) {
	pool, registry := newTestPool(t, lessonCfg(1, 4, 0, 20*time.Millisecond))
	pool.Start()
	defer pool.Shutdown(time.Second)

	ctx := context.Background()
	task, err := registry.Create(ctx, models.KindLesson, "user-1", nil, false)
	require.NoError(t, err)

	err = pool.Submit(models.KindLesson, task.TaskID, func(ctx context.Context, taskID string, emit Emitter) (any, bool, error) {
		<-ctx.Done()
		return nil, false, ctx.Err()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := registry.Get(ctx, task.TaskID)
		return err == nil && got.State == models.TaskFailed
	}, time.Second, 5*time.Millisecond)

	got, err := registry.Get(ctx, task.TaskID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, string(gkerr.Timeout), got.Error.Kind)
}

func TestPool_CancelStopsRunningJob(t *testing.T) {
	pool, registry := newTestPool(t, lessonCfg(1, 4, 0, 5*time.Second))
	pool.Start()
	defer pool.Shutdown(time.Second)

	ctx := context.Background()
	task, err := registry.Create(ctx, models.KindLesson, "user-1", nil, false)
	require.NoError(t, err)

	running := make(chan struct{})
	err = pool.Submit(models.KindLesson, task.TaskID, func(ctx context.Context, taskID string, emit Emitter) (any, bool, error) {
		close(running)
		<-ctx.Done()
		return nil, false, ctx.Err()
	})
	require.NoError(t, err)

	<-running
	require.Eventually(t, func() bool { return pool.Cancel(task.TaskID) }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := registry.Get(ctx, task.TaskID)
		return err == nil && got.State == models.TaskCancelled
	}, time.Second, 5*time.Millisecond)
}

func TestPool_Stats(t *testing.T) {
	pool, _ := newTestPool(t, lessonCfg(2, 5, 0, time.Second))
	noop := func(ctx context.Context, taskID string, emit Emitter) (any, bool, error) { return nil, false, nil }
	require.NoError(t, pool.Submit(models.KindLesson, "t1", noop))
	require.NoError(t, pool.Submit(models.KindLesson, "t2", noop))

	stats := pool.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, models.KindLesson, stats[0].Kind)
	assert.Equal(t, 2, stats[0].QueueDepth)
	assert.Equal(t, 5, stats[0].QueueCapacity)
	assert.Equal(t, 2, stats[0].MaxConcurrency)
}

func TestBackoff_DoublesAndCapsWithJitter(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 36*time.Second) // 30s cap + 20% jitter headroom
	}
}

func TestBackoff_NeverNegative(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, Backoff(0), time.Duration(0))
	}
}
