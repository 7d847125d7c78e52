package harness

import (
	"context"
	"time"

	"github.com/gurukul/orchestration-core/internal/config"
)

// Options bundles the harness's own configuration, independent of the
// Gateway it drives.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Run executes the three scenarios in sequence (bursty first since
// it is the fastest and least likely to disturb later scenarios'
// breaker state, connectivity last since it deliberately trips and then
// waits out a breaker) and assembles the full Report.
func Run(ctx context.Context, opts Options, harnessCfg config.HarnessConfig) Report {
	c := NewClient(opts.BaseURL, opts.Token, opts.Timeout)

	bursty := DefaultBurstyConfig()
	bursty.Clients = harnessCfg.BurstyClients

	highLatency := DefaultHighLatencyConfig()
	highLatency.StallThreshold = harnessCfg.StallThreshold
	highLatency.MaxWait = harnessCfg.HighLatencyJob

	connectivity := DefaultConnectivityConfig()

	report := Report{
		GeneratedAt: time.Now(),
		BaseURL:     opts.BaseURL,
	}
	report.Scenarios = append(report.Scenarios, RunBursty(ctx, c, bursty))
	report.Scenarios = append(report.Scenarios, RunHighLatency(ctx, c, highLatency))
	report.Scenarios = append(report.Scenarios, RunConnectivity(ctx, c, connectivity))
	return report
}
