package upstream

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/gkerr"
	"github.com/gurukul/orchestration-core/internal/models"
	"github.com/gurukul/orchestration-core/pkg/metrics"
)

func testClient(cfg config.UpstreamEndpointConfig) *Client {
	return New(map[string]config.UpstreamEndpointConfig{"tts": cfg}, slog.Default(), metrics.NewCollector())
}

func defaultEndpointCfg() config.UpstreamEndpointConfig {
	return config.UpstreamEndpointConfig{
		ConnectTimeout: time.Second, OverallTimeout: 10 * time.Second,
		MaxRetries: 2, FailureThreshold: 3, OpenDuration: 50 * time.Millisecond, HalfOpenProbeLimit: 1,
	}
}

func TestClient_Call_Success(t *testing.T) {
	c := testClient(defaultEndpointCfg())
	result, err := c.Call(context.Background(), Call{
		Service: "tts", Endpoint: "synthesize",
		Do: func(ctx context.Context) (any, error) { return "ok", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, models.CircuitClosed, c.State("tts", "synthesize").Status)
}

func TestClient_Call_OpensAfterFailureThreshold(t *testing.T) {
	c := testClient(defaultEndpointCfg())
	failing := Call{
		Service: "tts", Endpoint: "synthesize",
		Do: func(ctx context.Context) (any, error) { return nil, gkerr.New(gkerr.HTTP5xx, "server error") },
	}

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), failing)
		require.Error(t, err)
	}

	state := c.State("tts", "synthesize")
	assert.Equal(t, models.CircuitOpen, state.Status)

	_, err := c.Call(context.Background(), failing)
	require.Error(t, err)
	ge, ok := gkerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gkerr.CircuitOpen, ge.Kind)
}

func TestClient_Call_HalfOpenRecovery(t *testing.T) {
	cfg := defaultEndpointCfg()
	c := testClient(cfg)
	failing := Call{
		Service: "tts", Endpoint: "synthesize",
		Do: func(ctx context.Context) (any, error) { return nil, gkerr.New(gkerr.HTTP5xx, "server error") },
	}
	for i := 0; i < cfg.FailureThreshold; i++ {
		_, _ = c.Call(context.Background(), failing)
	}
	require.Equal(t, models.CircuitOpen, c.State("tts", "synthesize").Status)

	time.Sleep(cfg.OpenDuration + 10*time.Millisecond)

	_, err := c.Call(context.Background(), Call{
		Service: "tts", Endpoint: "synthesize",
		Do: func(ctx context.Context) (any, error) { return "recovered", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, models.CircuitClosed, c.State("tts", "synthesize").Status)
}

func TestClient_Call_HTTP4xxNeverRetriedOrCounted(t *testing.T) {
	cfg := defaultEndpointCfg()
	cfg.FailureThreshold = 1
	c := testClient(cfg)

	var attempts int
	_, err := c.Call(context.Background(), Call{
		Service: "tts", Endpoint: "synthesize", Idempotent: true,
		Do: func(ctx context.Context) (any, error) {
			attempts++
			return nil, gkerr.New(gkerr.HTTP4xx, "bad request")
		},
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, models.CircuitClosed, c.State("tts", "synthesize").Status)
}

func TestClient_Call_RetriesIdempotentOnRetryableFailure(t *testing.T) {
	c := testClient(defaultEndpointCfg())

	var attempts int
	result, err := c.Call(context.Background(), Call{
		Service: "tts", Endpoint: "synthesize", Idempotent: true,
		Do: func(ctx context.Context) (any, error) {
			attempts++
			if attempts < 2 {
				return nil, gkerr.New(gkerr.NetworkError, "dial refused")
			}
			return "ok", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, attempts)
}

func TestClient_Call_NonIdempotentNeverRetries(t *testing.T) {
	c := testClient(defaultEndpointCfg())

	var attempts int
	_, err := c.Call(context.Background(), Call{
		Service: "tts", Endpoint: "synthesize", Idempotent: false,
		Do: func(ctx context.Context) (any, error) {
			attempts++
			return nil, gkerr.New(gkerr.NetworkError, "dial refused")
		},
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestClient_Call_PlainErrorCountsAndRetries(t *testing.T) {
	c := testClient(defaultEndpointCfg())
	var attempts int
	_, err := c.Call(context.Background(), Call{
		Service: "tts", Endpoint: "synthesize", Idempotent: true,
		Do: func(ctx context.Context) (any, error) {
			attempts++
			return nil, errors.New("unclassified failure")
		},
	})
	require.Error(t, err)
	assert.Equal(t, defaultEndpointCfg().MaxRetries+1, attempts)
}

func TestClient_AllStates(t *testing.T) {
	c := testClient(defaultEndpointCfg())
	_, _ = c.Call(context.Background(), Call{
		Service: "tts", Endpoint: "synthesize",
		Do: func(ctx context.Context) (any, error) { return "ok", nil },
	})

	states := c.AllStates()
	require.Len(t, states, 1)
	assert.Equal(t, "tts", states[0].Service)
	assert.Equal(t, "synthesize", states[0].Endpoint)
}

func TestClient_UnknownServiceGetsDefaultBreaker(t *testing.T) {
	c := New(map[string]config.UpstreamEndpointConfig{}, slog.Default(), metrics.NewCollector())
	result, err := c.Call(context.Background(), Call{
		Service: "unconfigured", Endpoint: "whatever",
		Do: func(ctx context.Context) (any, error) { return "ok", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestSplitKey(t *testing.T) {
	service, endpoint := splitKey("tts/synthesize")
	assert.Equal(t, "tts", service)
	assert.Equal(t, "synthesize", endpoint)

	service, endpoint = splitKey("noSlash")
	assert.Equal(t, "noSlash", service)
	assert.Equal(t, "", endpoint)
}
