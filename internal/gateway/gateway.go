// Package gateway implements the Request Gateway: the HTTP surface
// translating client requests into task registry, worker pool, lesson
// composer, progress tracker, and intervention operations, and
// gkerr.Error results into the {error_kind, message, retry_after?}
// envelope. Routing follows cmd/server/main.go's mux-per-concern
// layering, generalized from its fixed me/learning-paths routes to the
// task/lesson/progress surface this system needs; handlers are methods
// on an explicitly constructed Gateway rather than package-level
// handlers talking to package-level globals
// (internal/handlers/queue_integration.go's `var taskManager
// *queue.TaskManager`), to avoid a shared mutable singleton.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gurukul/orchestration-core/internal/api"
	"github.com/gurukul/orchestration-core/internal/auth"
	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/lesson"
	"github.com/gurukul/orchestration-core/internal/middleware"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/internal/progress"
	"github.com/gurukul/orchestration-core/internal/taskregistry"
	"github.com/gurukul/orchestration-core/internal/upstream"
	"github.com/gurukul/orchestration-core/internal/workerpool"
	"github.com/gurukul/orchestration-core/pkg/logger"
	"github.com/gurukul/orchestration-core/pkg/metrics"
)

// Gateway wires the Task Registry, Worker Pool, Upstream Client, Lesson
// Composer, and Progress Tracker behind one HTTP surface. Every
// dependency is constructor-injected so a test can build an isolated
// Gateway over an in-memory store.
type Gateway struct {
	registry    *taskregistry.Registry
	pool        *workerpool.Pool
	composer    *lesson.Composer
	lessons     *lesson.Store
	tracker     *progress.Tracker
	upstream    *upstream.Client
	log         *slog.Logger
	metrics     *metrics.Collector
	kindLimiter *middleware.KindLimiter
}

// New builds a Gateway over its dependencies. kindLimiter is the
// per-(user_id, TaskKind) submission limiter sized from the Worker
// Pool's own per-kind capacity.
func New(registry *taskregistry.Registry, pool *workerpool.Pool, composer *lesson.Composer, lessons *lesson.Store, tracker *progress.Tracker, client *upstream.Client, log *slog.Logger, m *metrics.Collector, kindLimiter *middleware.KindLimiter) *Gateway {
	return &Gateway{
		registry:    registry,
		pool:        pool,
		composer:    composer,
		lessons:     lessons,
		tracker:     tracker,
		upstream:    client,
		log:         log,
		metrics:     m,
		kindLimiter: kindLimiter,
	}
}

// Handler builds the fully wrapped HTTP handler: routes first, then the
// middleware chain, outermost to innermost: body limit -> security
// headers -> logging -> CORS -> rate limit -> auth passthrough -> circuit
// breaker load-shedding -> routes.
func (g *Gateway) Handler(appLogger *slog.Logger, cfg *config.Config, rateLimiter *middleware.RateLimiter, breaker *middleware.CircuitBreaker) http.Handler {
	mux := http.NewServeMux()
	g.routes(mux)

	var h http.Handler = mux
	h = breaker.Protect(h)
	h = g.requireAuth(h)
	h = rateLimiter.Limit(h)
	h = middleware.CORS(cfg.Gateway.AllowedOrigins)(h)
	h = middleware.LoggingMiddleware(appLogger)(h)
	h = middleware.SecurityHeaders(cfg)(h)
	h = middleware.BodyLimit(cfg.Gateway.MaxBodyBytes)(h)
	return h
}

func (g *Gateway) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", g.health)
	mux.Handle("GET /metrics", g.metrics.Handler())
	mux.HandleFunc("GET /api/status", g.integrationStatus)

	mux.HandleFunc("POST /api/tasks", g.submitTask)
	mux.HandleFunc("GET /api/tasks/{id}", g.getTaskStatus)
	mux.HandleFunc("GET /api/tasks/{id}/events", g.getTaskEvents)
	mux.HandleFunc("GET /api/tasks/{id}/result", g.getTaskResult)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", g.cancelTask)

	mux.HandleFunc("GET /api/lessons", g.getLesson)
	mux.HandleFunc("POST /api/lessons", g.createLesson)

	mux.HandleFunc("POST /api/progress/quiz", g.recordQuiz)
	mux.HandleFunc("POST /api/progress/lesson-completion", g.recordLessonCompletion)
	mux.HandleFunc("GET /api/progress/{user_id}", g.getProgress)
	mux.HandleFunc("POST /api/progress/{user_id}/interventions", g.triggerInterventions)
}

// health is unauthenticated liveness, exempted from requireAuth below.
func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	api.Success(w, map[string]string{"status": "ok"})
}

// requireAuth validates the bearer token on every route except /health
// and /metrics, consistent with the no-auth-on-health
// convention in cmd/server/main.go.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
			api.Unauthorized(w, "missing bearer token")
			return
		}
		claims, err := auth.ValidateAccessToken(authHeader[len(prefix):])
		if err != nil {
			api.Unauthorized(w, "invalid or expired token")
			return
		}
		ctx := logger.WithUserID(r.Context(), claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// --- Tasks -----------------------------------------------------------

type submitTaskRequest struct {
	Kind   string         `json:"kind"`
	UserID string         `json:"user_id"`
	Inputs map[string]any `json:"inputs"`
}

type taskHandleResponse struct {
	TaskID string           `json:"task_id"`
	State  models.TaskState `json:"state"`
}

func (g *Gateway) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gkerr.Wrap(gkerr.InvalidInput, "malformed request body", err))
		return
	}
	kind := models.TaskKind(req.Kind)
	if !models.ValidKind(kind) {
		writeError(w, gkerr.New(gkerr.InvalidInput, "unrecognized kind"))
		return
	}
	if req.UserID == "" {
		writeError(w, gkerr.New(gkerr.InvalidInput, "user_id is required"))
		return
	}
	if !g.kindLimiter.Allow(req.UserID, kind) {
		writeError(w, gkerr.New(gkerr.Backpressure, "submission rate exceeded for "+string(kind)).WithRetryAfter(1))
		return
	}

	genericReq, err := decodeGenericInputs(kind, req.Inputs)
	if err != nil {
		writeError(w, err)
		return
	}
	jobFn, err := g.jobFor(kind, genericReq)
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := g.registry.Create(r.Context(), kind, req.UserID, req.Inputs, false)
	if err != nil {
		if ge, ok := gkerr.As(err); ok && ge.Kind == gkerr.DuplicateInflight {
			api.ErrorWithDetails(w, http.StatusConflict, string(gkerr.DuplicateInflight), ge.Message,
				map[string]string{"task_id": task.TaskID})
			return
		}
		writeError(w, err)
		return
	}

	if err := g.pool.Submit(kind, task.TaskID, jobFn); err != nil {
		writeError(w, err)
		return
	}
	api.Accepted(w, taskHandleResponse{TaskID: task.TaskID, State: models.TaskQueued})
}

// decodeGenericInputs pulls the kind-specific fields a job needs out of
// the free-form inputs map submitted on the generic task endpoint.
func decodeGenericInputs(kind models.TaskKind, inputs map[string]any) (lessonOrGenericRequest, error) {
	var out lessonOrGenericRequest
	switch kind {
	case models.KindLesson:
		raw, err := json.Marshal(inputs)
		if err != nil {
			return out, gkerr.Wrap(gkerr.InvalidInput, "invalid lesson inputs", err)
		}
		if err := json.Unmarshal(raw, &out.lessonRequest); err != nil {
			return out, gkerr.Wrap(gkerr.InvalidInput, "invalid lesson inputs", err)
		}
		if out.lessonRequest.Subject == "" || out.lessonRequest.Topic == "" {
			return out, gkerr.New(gkerr.InvalidInput, "subject and topic are required")
		}
	case models.KindTTS:
		text, _ := inputs["text"].(string)
		if text == "" {
			return out, gkerr.New(gkerr.InvalidInput, "text is required for tts")
		}
		out.text = text
	case models.KindSimulation:
		// Payload shape is opaque to the core; the simulation service
		// validates it. Nothing to extract here.
	}
	return out, nil
}

func (g *Gateway) getTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := g.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	api.Success(w, map[string]any{
		"state":           task.State,
		"progress_percent": task.ProgressPercent,
		"partial_result":  task.PartialResult,
	})
}

func (g *Gateway) getTaskEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if s := r.URL.Query().Get("since_seq"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, gkerr.New(gkerr.InvalidInput, "since_seq must be an integer"))
			return
		}
		since = v
	}
	events, err := g.registry.EventsSince(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeError(w, err)
		return
	}
	api.Success(w, map[string]any{"events": events})
}

func (g *Gateway) getTaskResult(w http.ResponseWriter, r *http.Request) {
	task, err := g.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	switch task.State {
	case models.TaskCompleted:
		api.Success(w, map[string]any{"final_result": task.FinalResult})
	case models.TaskFailed, models.TaskCancelled:
		api.ErrorWithDetails(w, http.StatusGone, string(task.State), "task ended without a result", nil)
	default:
		writeError(w, gkerr.New(gkerr.StateConflict, "task has not reached a terminal state"))
	}
}

func (g *Gateway) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	task, err := g.registry.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	switch task.State {
	case models.TaskQueued:
		if err := g.registry.Cancel(r.Context(), taskID); err != nil {
			writeError(w, err)
			return
		}
	case models.TaskRunning:
		g.pool.Cancel(taskID)
	default:
		writeError(w, gkerr.New(gkerr.StateConflict, "task is already terminal"))
		return
	}
	api.Success(w, map[string]string{"task_id": taskID})
}

// --- Lessons -----------------------------------------------------------

func (g *Gateway) getLesson(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	topic := r.URL.Query().Get("topic")
	if subject == "" || topic == "" {
		writeError(w, gkerr.New(gkerr.InvalidInput, "subject and topic are required"))
		return
	}
	l, err := g.lessons.Get(r.Context(), subject, topic)
	if err != nil {
		writeError(w, err)
		return
	}
	api.Success(w, l)
}

func (g *Gateway) createLesson(w http.ResponseWriter, r *http.Request) {
	var req models.LessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gkerr.Wrap(gkerr.InvalidInput, "malformed request body", err))
		return
	}
	if req.Subject == "" || req.Topic == "" {
		writeError(w, gkerr.New(gkerr.InvalidInput, "subject and topic are required"))
		return
	}

	if !req.ForceRegenerate {
		exists, err := g.lessons.Exists(r.Context(), req.Subject, req.Topic)
		if err != nil {
			writeError(w, err)
			return
		}
		if exists {
			writeError(w, gkerr.New(gkerr.StateConflict, "a lesson for this subject and topic already exists"))
			return
		}
	}

	l, err := g.composer.Compose(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := g.lessons.Save(r.Context(), l); err != nil {
		writeError(w, err)
		return
	}
	api.Created(w, l)
}

// --- Progress ------------------------------------------------------------

type recordQuizRequest struct {
	UserID  string  `json:"user_id"`
	Subject string  `json:"subject"`
	Topic   string  `json:"topic"`
	Score   float64 `json:"score"`
}

func (g *Gateway) recordQuiz(w http.ResponseWriter, r *http.Request) {
	var req recordQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gkerr.Wrap(gkerr.InvalidInput, "malformed request body", err))
		return
	}
	if req.UserID == "" || req.Subject == "" || req.Topic == "" {
		writeError(w, gkerr.New(gkerr.InvalidInput, "user_id, subject, and topic are required"))
		return
	}
	if err := g.tracker.RecordQuiz(r.Context(), req.UserID, req.Subject, req.Topic, req.Score, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}

	// Evaluate and dispatch triggers synchronously so Scenario F's "one
	// intervention Task created" is observable immediately after the
	// recording call returns, not on some later poll.
	triggers, err := g.tracker.EvaluateTriggers(r.Context(), req.UserID)
	if err == nil && len(triggers) > 0 {
		if _, err := g.tracker.DispatchInterventions(r.Context(), req.UserID, triggers); err != nil {
			logger.ErrorWithErr(g.log, r.Context(), "intervention_dispatch_failed", err, slog.String("user_id", req.UserID))
		}
	}
	api.NoContent(w)
}

type recordLessonCompletionRequest struct {
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
}

func (g *Gateway) recordLessonCompletion(w http.ResponseWriter, r *http.Request) {
	var req recordLessonCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gkerr.Wrap(gkerr.InvalidInput, "malformed request body", err))
		return
	}
	if req.UserID == "" {
		writeError(w, gkerr.New(gkerr.InvalidInput, "user_id is required"))
		return
	}
	if err := g.tracker.RecordLessonCompletion(r.Context(), req.UserID, req.Subject, req.Topic, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	api.NoContent(w)
}

func (g *Gateway) getProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	up, err := g.tracker.GetProgress(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	api.Success(w, up)
}

func (g *Gateway) triggerInterventions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	triggers, err := g.tracker.EvaluateTriggers(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	taskIDs, err := g.tracker.DispatchInterventions(r.Context(), userID, triggers)
	if err != nil {
		writeError(w, err)
		return
	}
	api.Accepted(w, map[string]any{"task_ids": taskIDs})
}

// --- Integration status --------------------------------------------------

func (g *Gateway) integrationStatus(w http.ResponseWriter, r *http.Request) {
	api.Success(w, map[string]any{
		"worker_pools":     g.pool.Stats(),
		"circuit_breakers": g.upstream.AllStates(),
	})
}
