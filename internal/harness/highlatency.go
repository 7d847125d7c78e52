package harness

import (
	"context"
	"fmt"
	"time"
)

// HighLatencyConfig parameterizes the high-latency scenario:
// forced long-running jobs must keep emitting progress at least every
// StallThreshold, and a cancel request must take effect within 5s.
type HighLatencyConfig struct {
	Kind           string        // kind whose job is expected to run longest
	UserID         string
	StallThreshold time.Duration // default 30s, from config.HarnessConfig
	MaxWait        time.Duration // ceiling for the no-stall observation window
	PollInterval   time.Duration
}

func DefaultHighLatencyConfig() HighLatencyConfig {
	return HighLatencyConfig{
		Kind:           "simulation",
		UserID:         "harness-highlatency",
		StallThreshold: 30 * time.Second,
		MaxWait:        15 * time.Minute,
		PollInterval:   500 * time.Millisecond,
	}
}

// RunHighLatency submits one task and tracks the gap between successive
// ProgressEvents (and the gap into a terminal transition) to confirm no
// silence longer than StallThreshold, then submits a second task and
// cancels it immediately to confirm cancellation lands within 5s.
func RunHighLatency(ctx context.Context, c *Client, cfg HighLatencyConfig) ScenarioReport {
	started := time.Now()

	maxGap, stallViolated, err := observeNoStall(ctx, c, cfg)
	cancelLatency, cancelErr := observeCancelLatency(ctx, c, cfg)

	measurements := map[string]any{
		"max_event_gap_ms":   maxGap.Milliseconds(),
		"cancel_latency_ms":  cancelLatency.Milliseconds(),
	}
	if err != nil {
		measurements["observation_error"] = err.Error()
	}
	if cancelErr != nil {
		measurements["cancel_error"] = cancelErr.Error()
	}

	return ScenarioReport{
		Scenario:     "high_latency",
		StartedAt:    started,
		Duration:     time.Since(started),
		Measurements: measurements,
		Verdicts: []Verdict{
			{
				Name:   "no_silent_running_gt_stall_threshold",
				Passed: !stallViolated,
				Detail: fmt.Sprintf("max observed gap=%s, threshold=%s", maxGap, cfg.StallThreshold),
			},
			{
				Name:   "cancellation_within_5s",
				Passed: cancelErr == nil && cancelLatency <= 5*time.Second,
				Detail: fmt.Sprintf("cancel took %s", cancelLatency),
			},
		},
	}
}

// observeNoStall submits a task and polls task events until the task
// reaches a terminal state or cfg.MaxWait elapses, returning the widest
// gap seen between consecutive progress signals (new events, or the
// move into a terminal state).
func observeNoStall(ctx context.Context, c *Client, cfg HighLatencyConfig) (maxGap time.Duration, violated bool, err error) {
	handle, apiErr, err := c.SubmitTask(ctx, cfg.Kind, cfg.UserID, map[string]any{})
	if err != nil {
		return 0, false, err
	}
	if apiErr != nil {
		return 0, false, apiErr
	}

	deadline := time.Now().Add(cfg.MaxWait)
	lastSignal := time.Now()
	var sinceSeq int64

	for time.Now().Before(deadline) {
		events, apiErr, err := c.TaskEventsSince(ctx, handle.TaskID, sinceSeq)
		if err != nil {
			return maxGap, violated, err
		}
		if apiErr == nil && len(events.Events) > 0 {
			for _, ev := range events.Events {
				if gap := ev.Timestamp.Sub(lastSignal); gap > maxGap {
					maxGap = gap
				}
				lastSignal = ev.Timestamp
				if ev.Seq > sinceSeq {
					sinceSeq = ev.Seq
				}
			}
			if gap := time.Since(lastSignal); gap > cfg.StallThreshold {
				violated = true
			}
		}

		status, apiErr, err := c.TaskStatus(ctx, handle.TaskID)
		if err != nil {
			return maxGap, violated, err
		}
		if apiErr == nil && isTerminal(status.State) {
			if gap := time.Since(lastSignal); gap > maxGap {
				maxGap = gap
			}
			return maxGap, violated, nil
		}

		time.Sleep(cfg.PollInterval)
	}
	return maxGap, violated, nil
}

// observeCancelLatency submits a second task and cancels it right away,
// measuring the wall time until the registry reports it terminal (or
// the cancel call itself reports the task already terminal, which is
// not a cancellation-semantics violation).
func observeCancelLatency(ctx context.Context, c *Client, cfg HighLatencyConfig) (time.Duration, error) {
	handle, apiErr, err := c.SubmitTask(ctx, cfg.Kind, cfg.UserID+"-cancel", map[string]any{})
	if err != nil {
		return 0, err
	}
	if apiErr != nil {
		return 0, apiErr
	}

	start := time.Now()
	cancelAPIErr, err := c.CancelTask(ctx, handle.TaskID)
	if err != nil {
		return 0, err
	}
	if cancelAPIErr != nil && cancelAPIErr.Code != "state_conflict" {
		return 0, cancelAPIErr
	}

	deadline := start.Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, apiErr, err := c.TaskStatus(ctx, handle.TaskID)
		if err != nil {
			return time.Since(start), err
		}
		if apiErr == nil && isTerminal(status.State) {
			return time.Since(start), nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return time.Since(start), fmt.Errorf("task %s never reached a terminal state", handle.TaskID)
}

func isTerminal(state string) bool {
	switch state {
	case "completed", "failed", "cancelled":
		return true
	default:
		return false
	}
}
