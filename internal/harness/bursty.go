package harness

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// BurstyConfig parameterizes the bursty-clients scenario: N concurrent
// clients submit within a small time window.
type BurstyConfig struct {
	Clients int           // N concurrent clients, default 10
	Kind    string        // task kind every client submits
	Timeout time.Duration // per-request timeout
}

func DefaultBurstyConfig() BurstyConfig {
	return BurstyConfig{Clients: 10, Kind: "lesson", Timeout: 5 * time.Second}
}

type burstOutcome struct {
	result  string // "submitted", "backpressured", "failed"
	latency time.Duration
}

// RunBursty fires cfg.Clients concurrent task submissions and reports
// the submission-success ratio and p95 submission latency against the
// target SLO: success >= 80%, p95 <= 1s.
func RunBursty(ctx context.Context, c *Client, cfg BurstyConfig) ScenarioReport {
	started := time.Now()
	outcomes := make([]burstOutcome, cfg.Clients)

	var wg sync.WaitGroup
	wg.Add(cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		go func(i int) {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()

			userID := fmt.Sprintf("harness-bursty-%d", i)
			inputs := map[string]any{"subject": "algebra", "topic": fmt.Sprintf("burst-%d", i)}

			callStart := time.Now()
			_, apiErr, err := c.SubmitTask(reqCtx, cfg.Kind, userID, inputs)
			latency := time.Since(callStart)

			switch {
			case err != nil:
				outcomes[i] = burstOutcome{result: "failed", latency: latency}
			case apiErr != nil && apiErr.Code == "backpressure":
				outcomes[i] = burstOutcome{result: "backpressured", latency: latency}
			case apiErr != nil:
				outcomes[i] = burstOutcome{result: "failed", latency: latency}
			default:
				outcomes[i] = burstOutcome{result: "submitted", latency: latency}
			}
		}(i)
	}
	wg.Wait()

	var submitted, backpressured, failed int
	latencies := make([]time.Duration, 0, len(outcomes))
	for _, o := range outcomes {
		switch o.result {
		case "submitted":
			submitted++
		case "backpressured":
			backpressured++
		default:
			failed++
		}
		latencies = append(latencies, o.latency)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p95 := percentile(latencies, 95)

	successRatio := pct(submitted, cfg.Clients)
	backpressureRatio := pct(backpressured, cfg.Clients)

	return ScenarioReport{
		Scenario:  "bursty",
		StartedAt: started,
		Duration:  time.Since(started),
		Measurements: map[string]any{
			"clients":            cfg.Clients,
			"submitted":          submitted,
			"backpressured":      backpressured,
			"failed":             failed,
			"success_ratio_pct":  successRatio,
			"backpressure_ratio_pct": backpressureRatio,
			"p95_latency_ms":     p95.Milliseconds(),
		},
		Verdicts: []Verdict{
			{
				Name:   "submission_success_ratio_ge_80pct",
				Passed: successRatio >= 80,
				Detail: fmt.Sprintf("%d/%d clients submitted (%.1f%%)", submitted, cfg.Clients, successRatio),
			},
			{
				Name:   "p95_submission_latency_le_1s",
				Passed: p95 <= time.Second,
				Detail: fmt.Sprintf("p95=%s", p95),
			},
		},
	}
}
