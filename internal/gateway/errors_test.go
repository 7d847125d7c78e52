package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurukul/orchestration-core/internal/api"
	"github.com/gurukul/orchestration-core/internal/gkerr"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind     gkerr.Kind
		expected int
	}{
		{gkerr.InvalidInput, http.StatusBadRequest},
		{gkerr.UnknownTask, http.StatusNotFound},
		{gkerr.StateConflict, http.StatusConflict},
		{gkerr.DuplicateInflight, http.StatusConflict},
		{gkerr.Cancelled, http.StatusConflict},
		{gkerr.Backpressure, http.StatusServiceUnavailable},
		{gkerr.CircuitOpen, http.StatusServiceUnavailable},
		{gkerr.StorageUnavailable, http.StatusServiceUnavailable},
		{gkerr.Timeout, http.StatusGatewayTimeout},
		{gkerr.UpstreamUnavailable, http.StatusBadGateway},
		{gkerr.NetworkError, http.StatusBadGateway},
		{gkerr.HTTP5xx, http.StatusBadGateway},
		{gkerr.HTTP4xx, http.StatusBadRequest},
		{gkerr.Internal, http.StatusInternalServerError},
		{gkerr.Kind("unmapped"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.expected, statusFor(tt.kind))
		})
	}
}

func TestWriteError_RendersGkerrEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, gkerr.New(gkerr.UnknownTask, "no such task"))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, string(gkerr.UnknownTask), resp.Error.Code)
	assert.Equal(t, "no such task", resp.Error.Message)
	assert.Equal(t, string(gkerr.UnknownTask), resp.Error.Details["error_kind"])
}

func TestWriteError_SetsRetryAfterHeaderAndDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, gkerr.New(gkerr.Backpressure, "queue full").WithRetryAfter(12.4))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "12", rr.Header().Get("Retry-After"))

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "12", resp.Error.Details["retry_after"])
}

func TestWriteError_NonGkerrTreatedAsInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, string(gkerr.Internal), resp.Error.Code)
}

func TestWriteError_OmitsRetryAfterWhenZero(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, gkerr.New(gkerr.InvalidInput, "bad input"))

	assert.Empty(t, rr.Header().Get("Retry-After"))
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	_, hasRetry := resp.Error.Details["retry_after"]
	assert.False(t, hasRetry)
}
