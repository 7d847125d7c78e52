// Command gurukul-harness drives a running orchestration core's public
// HTTP surface through the Edge-Case Harness scenarios and prints a
// JSON verdict report, exiting non-zero on any SLO violation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/harness"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "Request Gateway base URL")
	token := flag.String("token", "", "bearer token for an already-issued access token")
	configPath := flag.String("config", "", "YAML config file, for harness scenario parameters (bursty_clients, stall_threshold, high_latency_job)")
	timeout := flag.Duration("timeout", 20*time.Second, "per-HTTP-call timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()
	report := harness.Run(ctx, harness.Options{
		BaseURL: *baseURL,
		Token:   *token,
		Timeout: *timeout,
	}, cfg.Harness)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		os.Exit(2)
	}

	if !report.Passed() {
		os.Exit(1)
	}
}
