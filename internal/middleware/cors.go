package middleware

import (
	"log"
	"net/http"
	"strings"
)

// CORS returns middleware that allows cross-origin requests from
// allowedOrigins, the Gateway's own configured allowlist
// (cfg.Gateway.AllowedOrigins) rather than hardcoded preview-deployment
// domain patterns — this is a bearer-token API surface, not a
// browser-hosted SaaS frontend with staging/preview subdomains to
// special-case.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	normalized := make([]string, len(allowedOrigins))
	for i, o := range allowedOrigins {
		normalized[i] = strings.TrimSuffix(strings.TrimSpace(o), "/")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token, X-Requested-With")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if origin != "" {
				normalizedOrigin := strings.TrimSuffix(origin, "/")
				allowed := false
				for _, o := range normalized {
					if o == normalizedOrigin {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				} else {
					log.Printf("[CORS] rejected origin: %s", origin)
				}
			}

			if r.Method == http.MethodOptions {
				if w.Header().Get("Access-Control-Allow-Origin") != "" {
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
