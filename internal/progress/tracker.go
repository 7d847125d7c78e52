// Package progress implements the Progress Tracker: per-user quiz
// and lesson telemetry, the three independent trigger rules, and
// deduplicated intervention dispatch. The UserProgress shape is a
// ground-up rewrite of internal/models/progress.go
// (which tracked per-lesson block completion, not quiz-score trends);
// the "finish one thing, queue follow-up work" dispatch idea carries
// over from internal/services/pregenerate.go, generalized into an
// explicit pub/sub step over the event bus instead of a direct call.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/store"
	"github.com/gurukul/orchestration-core/pkg/logger"
)

// Dispatcher creates and submits an intervention Task for a fired
// trigger, implemented by internal/intervention over the task registry,
// worker pool, and upstream client.
type Dispatcher interface {
	Submit(ctx context.Context, userID string, trigger models.Trigger) (taskID string, err error)
}

// performanceBandWindow is N from "performance_band derived from the
// last N=10 quiz scores".
const performanceBandWindow = 10

// Tracker maintains UserProgress, serializing state updates per user_id
// per the concurrency model, and decides when triggers fire.
type Tracker struct {
	db         *store.DB
	log        *slog.Logger
	dispatcher Dispatcher
	dedup      config.InterventionDedup

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Tracker over db. dispatcher creates the intervention
// Task and publishes its trigger on the event bus; the Worker Pool
// submission itself happens asynchronously in whatever subscribes to
// that publish (internal/intervention.Consumer), not here.
func New(db *store.DB, log *slog.Logger, dispatcher Dispatcher, dedup config.InterventionDedup) *Tracker {
	return &Tracker{db: db, log: log, dispatcher: dispatcher, dedup: dedup, locks: make(map[string]*sync.Mutex)}
}

func (t *Tracker) userLock(userID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[userID] = l
	}
	return l
}

func (t *Tracker) load(ctx context.Context, userID string) (*models.UserProgress, error) {
	row := t.db.QueryRowContext(ctx, `SELECT payload FROM user_progress WHERE user_id = ?`, userID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		return &models.UserProgress{UserID: userID, PerformanceBand: models.BandNeedsHelp}, nil
	}
	var up models.UserProgress
	if err := json.Unmarshal([]byte(payload), &up); err != nil {
		return nil, gkerr.Wrap(gkerr.StorageUnavailable, "corrupt user_progress payload", err)
	}
	return &up, nil
}

func (t *Tracker) save(ctx context.Context, up *models.UserProgress) error {
	payload, err := json.Marshal(up)
	if err != nil {
		return gkerr.Wrap(gkerr.Internal, "marshal user_progress failed", err)
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO user_progress (user_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		up.UserID, string(payload), time.Now().UTC())
	if err != nil {
		return gkerr.Wrap(gkerr.StorageUnavailable, "save user_progress failed", err)
	}
	return nil
}

// RecordQuiz appends a quiz score and recomputes performance_band.
func (t *Tracker) RecordQuiz(ctx context.Context, userID, subject, topic string, score float64, at time.Time) error {
	if score < 0 || score > 100 {
		return gkerr.New(gkerr.InvalidInput, "quiz score must be in [0,100]")
	}
	lock := t.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	up, err := t.load(ctx, userID)
	if err != nil {
		return err
	}
	up.QuizScores = append(up.QuizScores, models.QuizScore{Timestamp: at, Subject: subject, Topic: topic, Score: score})
	up.LastActivityAt = at
	up.PerformanceBand = recomputeBand(up.QuizScores)
	return t.save(ctx, up)
}

// RecordLessonCompletion increments lessons_completed.
func (t *Tracker) RecordLessonCompletion(ctx context.Context, userID, subject, topic string, at time.Time) error {
	lock := t.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	up, err := t.load(ctx, userID)
	if err != nil {
		return err
	}
	up.LessonsCompleted++
	up.LastActivityAt = at
	return t.save(ctx, up)
}

func recomputeBand(scores []models.QuizScore) models.PerformanceBand {
	if len(scores) == 0 {
		return models.BandNeedsHelp
	}
	n := len(scores)
	start := 0
	if n > performanceBandWindow {
		start = n - performanceBandWindow
	}
	window := scores[start:]
	var sum float64
	for _, s := range window {
		sum += s.Score
	}
	return models.BandForMean(sum / float64(len(window)))
}

// GetProgress returns the current UserProgress snapshot.
func (t *Tracker) GetProgress(ctx context.Context, userID string) (*models.UserProgress, error) {
	lock := t.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return t.load(ctx, userID)
}

// EvaluateTriggers is a pure function over the current UserProgress
// state, evaluating all three rules independently and in order.
func (t *Tracker) EvaluateTriggers(ctx context.Context, userID string) ([]models.Trigger, error) {
	up, err := t.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	var triggers []models.Trigger

	if tr, ok := lowRecentScore(up); ok {
		triggers = append(triggers, tr)
	}
	triggers = append(triggers, decliningTrends(up)...)
	if tr, ok := inactivity(up); ok {
		triggers = append(triggers, tr)
	}
	return triggers, nil
}

func lowRecentScore(up *models.UserProgress) (models.Trigger, bool) {
	if len(up.QuizScores) == 0 {
		return models.Trigger{}, false
	}
	last := up.QuizScores[len(up.QuizScores)-1]
	if last.Score >= 60 {
		return models.Trigger{}, false
	}
	return models.Trigger{
		Kind:    models.TriggerLowRecentScore,
		Subject: last.Subject,
		Topic:   last.Topic,
		Context: map[string]any{"score": last.Score},
	}, true
}

// decliningTrends groups the user's scores by subject and fires once
// per subject whose last 5 scores fall strictly monotonically by >=15
// points total.
func decliningTrends(up *models.UserProgress) []models.Trigger {
	bySubject := make(map[string][]models.QuizScore)
	for _, s := range up.QuizScores {
		bySubject[s.Subject] = append(bySubject[s.Subject], s)
	}

	var triggers []models.Trigger
	for subject, scores := range bySubject {
		sorted := append([]models.QuizScore(nil), scores...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
		if len(sorted) < 5 {
			continue
		}
		last5 := sorted[len(sorted)-5:]
		strictlyDecreasing := true
		for i := 1; i < len(last5); i++ {
			if last5[i].Score >= last5[i-1].Score {
				strictlyDecreasing = false
				break
			}
		}
		if strictlyDecreasing && (last5[0].Score-last5[len(last5)-1].Score) >= 15 {
			triggers = append(triggers, models.Trigger{
				Kind:    models.TriggerDecliningTrend,
				Subject: subject,
				Context: map[string]any{"drop": last5[0].Score - last5[len(last5)-1].Score},
			})
		}
	}
	return triggers
}

func inactivity(up *models.UserProgress) (models.Trigger, bool) {
	if up.LastActivityAt.IsZero() {
		return models.Trigger{}, false
	}
	if time.Since(up.LastActivityAt) < 7*24*time.Hour {
		return models.Trigger{}, false
	}
	return models.Trigger{Kind: models.TriggerInactivity, Context: map[string]any{}}, true
}

// DispatchInterventions enqueues one intervention Task per distinct
// trigger not already within its dedup window, returning the task_ids
// that were actually dispatched.
func (t *Tracker) DispatchInterventions(ctx context.Context, userID string, triggers []models.Trigger) ([]string, error) {
	var dispatched []string
	for _, trig := range triggers {
		key := trig.DedupKey(userID)
		window := t.windowFor(trig.Kind)

		ok, err := t.claimDedup(ctx, key, window)
		if err != nil {
			return dispatched, err
		}
		if !ok {
			continue
		}

		taskID, err := t.dispatcher.Submit(ctx, userID, trig)
		if err != nil {
			logger.ErrorWithErr(t.log, ctx, "trigger_dispatch_failed", err, slog.String("user_id", userID), slog.String("kind", string(trig.Kind)))
			continue
		}
		dispatched = append(dispatched, taskID)
	}
	return dispatched, nil
}

func (t *Tracker) windowFor(kind models.TriggerKind) time.Duration {
	switch kind {
	case models.TriggerLowRecentScore:
		return t.dedup.LowRecentScore
	case models.TriggerDecliningTrend:
		return t.dedup.DecliningTrend
	case models.TriggerInactivity:
		return t.dedup.Inactivity
	default:
		return 24 * time.Hour
	}
}

// claimDedup atomically checks-and-sets a dedup key, returning true if
// this call is the one that gets to dispatch.
func (t *Tracker) claimDedup(ctx context.Context, key string, window time.Duration) (bool, error) {
	row := t.db.QueryRowContext(ctx, `SELECT fired_at FROM trigger_dispatches WHERE dedup_key = ?`, key)
	var firedAt time.Time
	err := row.Scan(&firedAt)
	if err == nil && time.Since(firedAt) < window {
		return false, nil
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO trigger_dispatches (dedup_key, fired_at) VALUES (?, ?)
		ON CONFLICT(dedup_key) DO UPDATE SET fired_at = excluded.fired_at`,
		key, time.Now().UTC())
	if err != nil {
		return false, gkerr.Wrap(gkerr.StorageUnavailable, "dedup claim failed", err)
	}
	return true, nil
}
