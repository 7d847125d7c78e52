package middleware

import (
	"net/http"
)

// BodyLimit returns middleware that limits request bodies to maxBytes,
// wired from cfg.Gateway.MaxBodyBytes rather than a fixed constant —
// lesson-composition payloads and generic task inputs differ enough in
// size from simple form-submission bodies that the ceiling needs to be
// a Gateway config knob, not a hardcoded 10MB.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
