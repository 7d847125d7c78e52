// Package models holds the data-model entities shared across the
// orchestration core: Task, ProgressEvent, UpstreamCall, LessonRequest,
// Lesson, UserProgress, and CircuitState.
package models

import "time"

// TaskState is a Task's position in its state machine.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// IsTerminal reports whether s has no further legal transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// TaskKind determines which Worker Pool pool runs a Task.
type TaskKind string

const (
	KindLesson       TaskKind = "lesson"
	KindSimulation   TaskKind = "simulation"
	KindIntervention TaskKind = "intervention"
	KindTTS          TaskKind = "tts"
)

// ValidKind reports whether k is one of the recognized kinds.
func ValidKind(k TaskKind) bool {
	switch k {
	case KindLesson, KindSimulation, KindIntervention, KindTTS:
		return true
	default:
		return false
	}
}

// TaskError is the terminal error recorded on a failed Task.
type TaskError struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// Task is a unit of asynchronous work tracked end to end by the Task
// Registry.
type Task struct {
	TaskID           string          `json:"task_id"`
	Kind             TaskKind        `json:"kind"`
	UserID           string          `json:"user_id"`
	SubmittedAt      time.Time       `json:"submitted_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	State            TaskState       `json:"state"`
	ProgressPercent  int             `json:"progress_percent"`
	PartialResult    any             `json:"partial_result,omitempty"`
	FinalResult      any             `json:"final_result,omitempty"`
	Error            *TaskError      `json:"error,omitempty"`
	AttemptCount     int             `json:"attempt_count"`
	InputFingerprint string          `json:"input_fingerprint"`
	CorrelationID    string          `json:"correlation_id"`
	Inputs           map[string]any  `json:"inputs,omitempty"`
}

// CanTransitionTo reports whether moving from s to next is legal under
// the state machine queued→running→{completed,failed}; queued→cancelled;
// running→cancelled.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	switch s {
	case TaskQueued:
		return next == TaskRunning || next == TaskCancelled
	case TaskRunning:
		return next == TaskCompleted || next == TaskFailed || next == TaskCancelled
	default:
		return false
	}
}

// ProgressEvent is an append-only record attached to a Task.
type ProgressEvent struct {
	TaskID    string    `json:"task_id"`
	Seq       int64     `json:"seq"`
	EmittedAt time.Time `json:"emitted_at"`
	Percent   int       `json:"percent"`
	Stage     string    `json:"stage"`
	Partial   any       `json:"partial,omitempty"`
}

// UpstreamCallStatus is the outcome of one attempt against an external
// service.
type UpstreamCallStatus string

const (
	CallOK           UpstreamCallStatus = "ok"
	CallTimeout      UpstreamCallStatus = "timeout"
	CallHTTPError    UpstreamCallStatus = "http_error"
	CallNetworkError UpstreamCallStatus = "network_error"
	CallCancelled    UpstreamCallStatus = "cancelled"
)

// UpstreamCall records one attempt, retained for observability only.
type UpstreamCall struct {
	Service      string             `json:"service"`
	Endpoint     string             `json:"endpoint"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      time.Time          `json:"ended_at"`
	Status       UpstreamCallStatus `json:"status"`
	AttemptIndex int                `json:"attempt_index"`
}
