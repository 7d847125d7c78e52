package gateway

import (
	"net/http"
	"strconv"

	"github.com/gurukul/orchestration-core/internal/api"
	"github.com/gurukul/orchestration-core/internal/gkerr"
)

// statusFor maps an error_kind to the HTTP status the Gateway answers
// with, per the error mapping column of the HTTP surface table.
func statusFor(kind gkerr.Kind) int {
	switch kind {
	case gkerr.InvalidInput:
		return http.StatusBadRequest
	case gkerr.UnknownTask:
		return http.StatusNotFound
	case gkerr.StateConflict, gkerr.DuplicateInflight, gkerr.Cancelled:
		return http.StatusConflict
	case gkerr.Backpressure, gkerr.CircuitOpen, gkerr.StorageUnavailable:
		return http.StatusServiceUnavailable
	case gkerr.Timeout:
		return http.StatusGatewayTimeout
	case gkerr.UpstreamUnavailable, gkerr.NetworkError, gkerr.HTTP5xx:
		return http.StatusBadGateway
	case gkerr.HTTP4xx:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the {error_kind, message, retry_after?}
// envelope. Any non-*gkerr.Error is treated as internal.
func writeError(w http.ResponseWriter, err error) {
	ge, ok := gkerr.As(err)
	if !ok {
		ge = gkerr.Wrap(gkerr.Internal, "unexpected error", err)
	}

	status := statusFor(ge.Kind)
	details := map[string]string{"error_kind": string(ge.Kind)}
	if ge.RetryAfter > 0 {
		retrySeconds := strconv.Itoa(int(ge.RetryAfter + 0.5))
		w.Header().Set("Retry-After", retrySeconds)
		details["retry_after"] = retrySeconds
	}
	api.ErrorWithDetails(w, status, string(ge.Kind), ge.Message, details)
}
