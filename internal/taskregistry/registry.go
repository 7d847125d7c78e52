// Package taskregistry implements the Task Registry: the canonical,
// concurrency-safe store of Task and ProgressEvent state. It is grounded
// on internal/queue's task_manager.go/task_lifecycle.go split
// (claim/complete/fail/get-next operations over a document store) but
// trades Firestore transactions for an in-process per-task mutex plus a
// sqlite-backed internal/store, since the Task Registry owns exclusive
// access to its rows — there is exactly one writer process, not a fleet
// of independent instances racing over a shared document.
package taskregistry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/store"
	"github.com/gurukul/orchestration-core/pkg/logger"
)

// Registry is the single source of truth for Task and ProgressEvent
// records. Constructed explicitly and passed to every caller that needs
// it — never reached through a package-level global — so tests can spin
// up independent registries side by side.
type Registry struct {
	db  *store.DB
	log *slog.Logger
	ttl time.Duration

	mu      sync.Mutex // guards locks and seqNext maps
	locks   map[string]*sync.Mutex
	seqNext map[string]int64
}

// New constructs a Registry over db with the given terminal-state TTL.
func New(db *store.DB, log *slog.Logger, ttl time.Duration) *Registry {
	return &Registry{
		db:      db,
		log:     log,
		ttl:     ttl,
		locks:   make(map[string]*sync.Mutex),
		seqNext: make(map[string]int64),
	}
}

func (r *Registry) taskLock(taskID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[taskID] = l
	}
	return l
}

// Create allocates a Task in state queued, computing its input
// fingerprint and deduplicating against any non-terminal Task already
// in flight for (user_id, kind, fingerprint) unless forceRegenerate is
// set.
func (r *Registry) Create(ctx context.Context, kind models.TaskKind, userID string, inputs map[string]any, forceRegenerate bool) (*models.Task, error) {
	if !models.ValidKind(kind) {
		return nil, gkerr.New(gkerr.InvalidInput, "unknown task kind")
	}
	fp := Fingerprint(inputs)

	if !forceRegenerate {
		if existing, err := r.findInflight(ctx, userID, kind, fp); err != nil {
			return nil, gkerr.Wrap(gkerr.StorageUnavailable, "duplicate lookup failed", err)
		} else if existing != nil {
			return existing, gkerr.New(gkerr.DuplicateInflight, "an equivalent task is already in flight")
		}
	}

	now := time.Now().UTC()
	task := &models.Task{
		TaskID:           uuid.New().String(),
		Kind:             kind,
		UserID:           userID,
		SubmittedAt:      now,
		State:            models.TaskQueued,
		ProgressPercent:  0,
		InputFingerprint: fp,
		CorrelationID:    uuid.New().String(),
		Inputs:           inputs,
	}

	inputsJSON, _ := json.Marshal(inputs)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, kind, user_id, state, progress_percent, input_fingerprint, correlation_id, attempt_count, submitted_at, inputs)
		VALUES (?, ?, ?, ?, 0, ?, ?, 0, ?, ?)`,
		task.TaskID, string(kind), userID, string(models.TaskQueued), fp, task.CorrelationID, now, string(inputsJSON))
	if err != nil {
		return nil, gkerr.Wrap(gkerr.StorageUnavailable, "insert task failed", err)
	}

	logger.Info(r.log, ctx, "task_created",
		slog.String("task_id", task.TaskID),
		slog.String("kind", string(kind)),
		slog.String("correlation_id", task.CorrelationID),
	)
	return task, nil
}

func (r *Registry) findInflight(ctx context.Context, userID string, kind models.TaskKind, fp string) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT task_id FROM tasks
		WHERE user_id = ? AND kind = ? AND input_fingerprint = ?
		  AND state IN ('queued','running')
		LIMIT 1`, userID, string(kind), fp)
	var taskID string
	if err := row.Scan(&taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r.Get(ctx, taskID)
}

// Begin transitions a Task from queued to running.
func (r *Registry) Begin(ctx context.Context, taskID string) error {
	lock := r.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := r.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.State.CanTransitionTo(models.TaskRunning) {
		return gkerr.New(gkerr.StateConflict, "task cannot begin from state "+string(task.State))
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `UPDATE tasks SET state = ?, started_at = ?, attempt_count = attempt_count + 1 WHERE task_id = ?`,
		string(models.TaskRunning), now, taskID)
	if err != nil {
		return gkerr.Wrap(gkerr.StorageUnavailable, "begin failed", err)
	}
	return nil
}

// Emit appends a ProgressEvent. Rejected if the task is terminal or if
// percent would decrease.
func (r *Registry) Emit(ctx context.Context, taskID string, percent int, stage string, partial any) error {
	if percent < 0 || percent > 100 {
		return gkerr.New(gkerr.InvalidInput, "percent out of range")
	}
	lock := r.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := r.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.State.IsTerminal() {
		return gkerr.New(gkerr.StateConflict, "task is terminal")
	}
	if percent < task.ProgressPercent {
		return gkerr.New(gkerr.StateConflict, "progress_percent may not decrease")
	}

	r.mu.Lock()
	seq := r.seqNext[taskID] + 1
	r.seqNext[taskID] = seq
	r.mu.Unlock()

	partialJSON, _ := json.Marshal(partial)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, seq, emitted_at, percent, stage, partial) VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, seq, time.Now().UTC(), percent, stage, string(partialJSON))
	if err != nil {
		return gkerr.Wrap(gkerr.StorageUnavailable, "emit event failed", err)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE tasks SET progress_percent = ?, partial_result = ? WHERE task_id = ?`,
		percent, string(partialJSON), taskID)
	if err != nil {
		return gkerr.Wrap(gkerr.StorageUnavailable, "update progress failed", err)
	}
	return nil
}

// Complete performs the terminal running→completed transition.
// Repeating Complete on a completed task is a no-op that keeps the first
// final_result; a conflicting terminal transition fails with state_conflict.
func (r *Registry) Complete(ctx context.Context, taskID string, finalResult any) error {
	return r.terminal(ctx, taskID, models.TaskCompleted, finalResult, nil)
}

// Fail performs the terminal running→failed transition.
func (r *Registry) Fail(ctx context.Context, taskID string, errKind, message string) error {
	return r.terminal(ctx, taskID, models.TaskFailed, nil, &models.TaskError{Kind: errKind, Message: message})
}

// Cancel performs queued→cancelled or running→cancelled.
func (r *Registry) Cancel(ctx context.Context, taskID string) error {
	return r.terminal(ctx, taskID, models.TaskCancelled, nil, nil)
}

func (r *Registry) terminal(ctx context.Context, taskID string, target models.TaskState, finalResult any, taskErr *models.TaskError) error {
	lock := r.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := r.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if task.State == target {
		// Idempotent repeat of the same terminal transition.
		return nil
	}
	if task.State.IsTerminal() {
		return gkerr.New(gkerr.StateConflict, "task already terminal as "+string(task.State))
	}
	if !task.State.CanTransitionTo(target) {
		return gkerr.New(gkerr.StateConflict, "illegal transition to "+string(target))
	}

	now := time.Now().UTC()
	resultJSON, _ := json.Marshal(finalResult)

	if taskErr != nil {
		taskErr.CorrelationID = task.CorrelationID
		_, err = r.db.ExecContext(ctx, `
			UPDATE tasks SET state = ?, completed_at = ?, error_kind = ?, error_message = ? WHERE task_id = ?`,
			string(target), now, taskErr.Kind, taskErr.Message, taskID)
	} else if target == models.TaskCompleted {
		_, err = r.db.ExecContext(ctx, `
			UPDATE tasks SET state = ?, completed_at = ?, final_result = ? WHERE task_id = ?`,
			string(target), now, string(resultJSON), taskID)
	} else {
		_, err = r.db.ExecContext(ctx, `UPDATE tasks SET state = ?, completed_at = ? WHERE task_id = ?`,
			string(target), now, taskID)
	}
	if err != nil {
		return gkerr.Wrap(gkerr.StorageUnavailable, "terminal transition failed", err)
	}

	logger.Info(r.log, ctx, "task_terminal",
		slog.String("task_id", taskID),
		slog.String("state", string(target)),
		slog.String("correlation_id", task.CorrelationID),
	)
	return nil
}

// Get returns a snapshot of the Task, consistent with the last
// successful write.
func (r *Registry) Get(ctx context.Context, taskID string) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT task_id, kind, user_id, state, progress_percent, input_fingerprint, correlation_id,
		       attempt_count, submitted_at, started_at, completed_at, partial_result, final_result,
		       error_kind, error_message, inputs
		FROM tasks WHERE task_id = ?`, taskID)

	var (
		t                                       models.Task
		kind, state                             string
		started, completed                      sql.NullTime
		partialJSON, finalJSON, inputsJSON      sql.NullString
		errKind, errMsg                         sql.NullString
	)
	err := row.Scan(&t.TaskID, &kind, &t.UserID, &state, &t.ProgressPercent, &t.InputFingerprint, &t.CorrelationID,
		&t.AttemptCount, &t.SubmittedAt, &started, &completed, &partialJSON, &finalJSON, &errKind, &errMsg, &inputsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gkerr.New(gkerr.UnknownTask, "no such task")
		}
		return nil, gkerr.Wrap(gkerr.StorageUnavailable, "get task failed", err)
	}

	t.Kind = models.TaskKind(kind)
	t.State = models.TaskState(state)
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	if partialJSON.Valid && partialJSON.String != "" && partialJSON.String != "null" {
		_ = json.Unmarshal([]byte(partialJSON.String), &t.PartialResult)
	}
	if finalJSON.Valid && finalJSON.String != "" && finalJSON.String != "null" {
		_ = json.Unmarshal([]byte(finalJSON.String), &t.FinalResult)
	}
	if errKind.Valid && errKind.String != "" {
		t.Error = &models.TaskError{Kind: errKind.String, Message: errMsg.String, CorrelationID: t.CorrelationID}
	}
	if inputsJSON.Valid && inputsJSON.String != "" {
		_ = json.Unmarshal([]byte(inputsJSON.String), &t.Inputs)
	}
	return &t, nil
}

// EventsSince returns ProgressEvents with seq > since, ordered by seq,
// bounded to 500 rows.
func (r *Registry) EventsSince(ctx context.Context, taskID string, since int64) ([]models.ProgressEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT task_id, seq, emitted_at, percent, stage, partial
		FROM task_events WHERE task_id = ? AND seq > ? ORDER BY seq ASC LIMIT 500`, taskID, since)
	if err != nil {
		return nil, gkerr.Wrap(gkerr.StorageUnavailable, "events query failed", err)
	}
	defer rows.Close()

	var events []models.ProgressEvent
	for rows.Next() {
		var e models.ProgressEvent
		var partialJSON sql.NullString
		if err := rows.Scan(&e.TaskID, &e.Seq, &e.EmittedAt, &e.Percent, &e.Stage, &partialJSON); err != nil {
			return nil, gkerr.Wrap(gkerr.StorageUnavailable, "events scan failed", err)
		}
		if partialJSON.Valid && partialJSON.String != "" && partialJSON.String != "null" {
			_ = json.Unmarshal([]byte(partialJSON.String), &e.Partial)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Sweep removes Tasks whose terminal age exceeds the registry's TTL.
func (r *Registry) Sweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-r.ttl)
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, gkerr.Wrap(gkerr.StorageUnavailable, "sweep failed", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Info(r.log, ctx, "task_sweep", slog.Int64("removed", n))
	}
	return n, nil
}

// RecoverStale finds tasks stuck in running past 2x their nominal job
// timeout (no worker ever reached a terminal transition for them,
// typically because the process restarted mid-job) and fails them so
// clients stop polling forever.
func (r *Registry) RecoverStale(ctx context.Context, maxRunning time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxRunning)
	rows, err := r.db.QueryContext(ctx, `SELECT task_id, correlation_id FROM tasks WHERE state = 'running' AND started_at < ?`, cutoff)
	if err != nil {
		return 0, gkerr.Wrap(gkerr.StorageUnavailable, "recover-stale query failed", err)
	}
	type stale struct{ id, corr string }
	var staleTasks []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.corr); err != nil {
			rows.Close()
			return 0, err
		}
		staleTasks = append(staleTasks, s)
	}
	rows.Close()

	var recovered int64
	for _, s := range staleTasks {
		if err := r.Fail(ctx, s.id, string(gkerr.Internal), "recovered from stale running state"); err == nil {
			recovered++
			logger.Info(r.log, ctx, "task_recovered_stale", slog.String("task_id", s.id), slog.String("correlation_id", s.corr))
		}
	}
	return recovered, nil
}
