// Package config loads the orchestration core's typed configuration:
// local .env overrides via godotenv (cmd/server's existing convention),
// a YAML file for the per-kind worker pool and per-endpoint upstream
// knobs, and environment variables for deployment-level overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// WorkerKindConfig is one row of the Worker Pool's {kind: {...}} map.
type WorkerKindConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxQueueDepth  int           `yaml:"max_queue_depth"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	Retries        int           `yaml:"retries"`
}

// UpstreamEndpointConfig is one row of the Upstream Client's
// per-endpoint configuration.
type UpstreamEndpointConfig struct {
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	OverallTimeout     time.Duration `yaml:"overall_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	FailureThreshold   int           `yaml:"failure_threshold"`
	OpenDuration       time.Duration `yaml:"open_duration"`
	HalfOpenProbeLimit int           `yaml:"half_open_probe_limit"`
}

// InterventionDedup holds the per-trigger dedup windows.
type InterventionDedup struct {
	LowRecentScore time.Duration `yaml:"low_recent_score"`
	DecliningTrend time.Duration `yaml:"declining_trend"`
	Inactivity     time.Duration `yaml:"inactivity"`
}

// HarnessConfig holds the Edge-Case Harness's scenario parameters.
type HarnessConfig struct {
	BurstyClients  int           `yaml:"bursty_clients"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	HighLatencyJob time.Duration `yaml:"high_latency_job"`
}

// GatewayConfig holds the Request Gateway's HTTP-facing knobs: the
// request body ceiling, the CORS allowlist, the accept-side connection
// bound, and the admission-control saturation threshold the Gateway's
// circuit breaker trips on.
type GatewayConfig struct {
	MaxBodyBytes          int64         `yaml:"max_body_bytes"`
	AllowedOrigins        []string      `yaml:"allowed_origins"`
	MaxConcurrentConns    int           `yaml:"max_concurrent_conns"`
	SaturationThreshold   float64       `yaml:"saturation_threshold"`
	SaturationOpenTimeout time.Duration `yaml:"saturation_open_timeout"`
	IPRequestsPerSecond   float64       `yaml:"ip_requests_per_second"`
	IPBurst               int           `yaml:"ip_burst"`
}

// Config is the fully resolved configuration for one orchestration core
// process. It is constructed once at startup and passed explicitly to
// every component constructor — never read from a global.
type Config struct {
	HTTPAddr      string                             `yaml:"http_addr"`
	Environment   string                             `yaml:"environment"`
	DBPath        string                             `yaml:"db_path"`
	TaskTTL       time.Duration                      `yaml:"task_ttl"`
	SweepInterval time.Duration                      `yaml:"sweep_interval"`
	WorkerKinds   map[string]WorkerKindConfig        `yaml:"worker_kinds"`
	Upstreams     map[string]UpstreamEndpointConfig  `yaml:"upstreams"`
	Dedup         InterventionDedup                  `yaml:"intervention_dedup"`
	Harness       HarnessConfig                      `yaml:"harness"`
	Gateway       GatewayConfig                      `yaml:"gateway"`
	NATSURL       string                             `yaml:"nats_url"`
	JWTSecretEnv  string                              `yaml:"jwt_secret_env"`
}

// IsProduction reports whether cfg.Environment names the production
// deployment, the one place the Gateway's middleware chain should
// consult instead of reading os.Getenv("ENVIRONMENT") directly.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Default returns the worker pool, upstream client, and gateway's
// built-in defaults.
func Default() *Config {
	return &Config{
		HTTPAddr:      ":8080",
		Environment:   "development",
		DBPath:        "gurukul.db",
		TaskTTL:       24 * time.Hour,
		SweepInterval: 5 * time.Minute,
		WorkerKinds: map[string]WorkerKindConfig{
			"lesson":       {MaxConcurrency: 8, MaxQueueDepth: 64, JobTimeout: 10 * time.Minute, Retries: 2},
			"simulation":   {MaxConcurrency: 4, MaxQueueDepth: 32, JobTimeout: 15 * time.Minute, Retries: 1},
			"intervention": {MaxConcurrency: 16, MaxQueueDepth: 128, JobTimeout: 2 * time.Minute, Retries: 3},
			"tts":          {MaxConcurrency: 8, MaxQueueDepth: 64, JobTimeout: 60 * time.Second, Retries: 2},
		},
		Upstreams: map[string]UpstreamEndpointConfig{
			"knowledge_retriever": {ConnectTimeout: 2 * time.Second, OverallTimeout: 30 * time.Second, MaxRetries: 3, FailureThreshold: 5, OpenDuration: 30 * time.Second, HalfOpenProbeLimit: 1},
			"encyclopedia":        {ConnectTimeout: 2 * time.Second, OverallTimeout: 30 * time.Second, MaxRetries: 3, FailureThreshold: 5, OpenDuration: 30 * time.Second, HalfOpenProbeLimit: 1},
			"tutoring":            {ConnectTimeout: 2 * time.Second, OverallTimeout: 2 * time.Minute, MaxRetries: 3, FailureThreshold: 5, OpenDuration: 30 * time.Second, HalfOpenProbeLimit: 1},
			"tts":                 {ConnectTimeout: 2 * time.Second, OverallTimeout: 60 * time.Second, MaxRetries: 0, FailureThreshold: 5, OpenDuration: 30 * time.Second, HalfOpenProbeLimit: 1},
			"simulation":          {ConnectTimeout: 2 * time.Second, OverallTimeout: 15 * time.Minute, MaxRetries: 3, FailureThreshold: 5, OpenDuration: 30 * time.Second, HalfOpenProbeLimit: 1},
		},
		Dedup: InterventionDedup{
			LowRecentScore: 24 * time.Hour,
			DecliningTrend: 24 * time.Hour,
			Inactivity:     7 * 24 * time.Hour,
		},
		Harness: HarnessConfig{
			BurstyClients:  10,
			StallThreshold: 30 * time.Second,
			HighLatencyJob: 15 * time.Minute,
		},
		Gateway: GatewayConfig{
			MaxBodyBytes:          1 * 1024 * 1024,
			AllowedOrigins:        []string{"https://gurukul.dev", "http://localhost:3000"},
			MaxConcurrentConns:    1000,
			SaturationThreshold:   0.9,
			SaturationOpenTimeout: 30 * time.Second,
			IPRequestsPerSecond:   10.0,
			IPBurst:               20,
		},
		NATSURL:      "nats://127.0.0.1:4222",
		JWTSecretEnv: "JWT_SECRET",
	}
}

// Load reads .env (if present, via godotenv), then
// layers a YAML file over the defaults, then applies a small set of
// environment overrides for deployment knobs. A missing YAML path is
// not an error — Default() alone is a valid configuration.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", yamlPath, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", yamlPath, err)
		}
	}

	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if db := os.Getenv("DB_PATH"); db != "" {
		cfg.DBPath = db
	}
	if nats := os.Getenv("NATS_URL"); nats != "" {
		cfg.NATSURL = nats
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}

	return cfg, nil
}
