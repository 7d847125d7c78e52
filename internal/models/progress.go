package models

import "time"

// PerformanceBand is a derived label computed from a user's recent quiz
// scores (last 10, mean-banded).
type PerformanceBand string

const (
	BandExcellent PerformanceBand = "excellent"
	BandGood      PerformanceBand = "good"
	BandAverage   PerformanceBand = "average"
	BandNeedsHelp PerformanceBand = "needs_help"
)

// BandForMean derives the performance band from a mean score.
func BandForMean(mean float64) PerformanceBand {
	switch {
	case mean >= 80:
		return BandExcellent
	case mean >= 70:
		return BandGood
	case mean >= 60:
		return BandAverage
	default:
		return BandNeedsHelp
	}
}

// QuizScore is one recorded quiz attempt.
type QuizScore struct {
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Topic     string    `json:"topic"`
	Score     float64   `json:"score"`
}

// UserProgress is the per-user aggregate maintained by the Progress
// Tracker.
type UserProgress struct {
	UserID             string          `json:"user_id"`
	QuizScores         []QuizScore     `json:"quiz_scores"`
	LessonsCompleted   int             `json:"lessons_completed"`
	LastInterventionAt *time.Time      `json:"last_intervention_at,omitempty"`
	LastActivityAt     time.Time       `json:"last_activity_at"`
	PerformanceBand    PerformanceBand `json:"performance_band"`
}

// TriggerKind names one of the three independent intervention rules.
type TriggerKind string

const (
	TriggerLowRecentScore TriggerKind = "low_recent_score"
	TriggerDecliningTrend TriggerKind = "declining_trend"
	TriggerInactivity     TriggerKind = "inactivity"
)

// Trigger is a fired rule awaiting dispatch as an intervention Task.
type Trigger struct {
	Kind    TriggerKind    `json:"kind"`
	Subject string         `json:"subject,omitempty"`
	Topic   string         `json:"topic,omitempty"`
	Context map[string]any `json:"context"`
}

// DedupKey identifies the (user, trigger, subject, topic) bucket a
// trigger's 24h/7d dedup window is tracked against.
func (t Trigger) DedupKey(userID string) string {
	return string(t.Kind) + "|" + userID + "|" + t.Subject + "|" + t.Topic
}

// CircuitStatus is a breaker's position in its state machine.
type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half_open"
)

// CircuitState is the per-(service, endpoint) breaker snapshot exposed
// for observability.
type CircuitState struct {
	Service             string        `json:"service"`
	Endpoint            string        `json:"endpoint"`
	Status              CircuitStatus `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            *time.Time    `json:"opened_at,omitempty"`
	HalfOpenProbes      int           `json:"half_open_probes"`
}
