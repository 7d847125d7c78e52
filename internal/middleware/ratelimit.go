package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gurukul/orchestration-core/internal/config"
	"github.com/gurukul/orchestration-core/internal/models"
)

// RateLimiter applies a coarse per-IP token bucket ahead of
// authentication, where requests have no user_id yet to key on.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.RWMutex
	limit    rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a per-IP rate limiter with the given requests
// per second and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
	go rl.cleanupVisitors()
	return rl
}

// DefaultRateLimiter builds the per-IP limiter from cfg.Gateway, the
// Gateway's own ambient HTTP knobs — not an env var read at call time.
func DefaultRateLimiter(cfg *config.Config) *RateLimiter {
	return NewRateLimiter(cfg.Gateway.IPRequestsPerSecond, cfg.Gateway.IPBurst)
}

func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.limit, rl.burst)
		rl.visitors[ip] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes visitors that haven't been seen for 3 minutes.
func (rl *RateLimiter) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Limit is the middleware that rate limits requests per IP.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		limiter := rl.getVisitor(ip)

		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(float64(rl.limit), 'f', 0, 64))
			w.Header().Set("X-RateLimit-Remaining", "0")
			http.Error(w, "Too many requests. Please slow down.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// KindLimiter is the per-(user_id, TaskKind) submission limiter. Its
// rate and burst are sized from the same config.WorkerKindConfig that
// bounds the Worker Pool's own goroutines and queue for that kind, so a
// user can never sustain a submission rate the pool couldn't drain:
// one token per MaxConcurrency worker per job's typical turnaround, with
// MaxQueueDepth as the burst allowance.
type KindLimiter struct {
	mu       sync.Mutex
	cfg      map[models.TaskKind]config.WorkerKindConfig
	visitors map[string]*rate.Limiter // key: userID+":"+kind
	lastSeen map[string]time.Time
}

// NewKindLimiter builds the per-user, per-kind submission limiter from
// the Worker Pool's own per-kind capacity.
func NewKindLimiter(workerKinds map[string]config.WorkerKindConfig) *KindLimiter {
	cfg := make(map[models.TaskKind]config.WorkerKindConfig, len(workerKinds))
	for kindStr, kc := range workerKinds {
		cfg[models.TaskKind(kindStr)] = kc
	}
	kl := &KindLimiter{
		cfg:      cfg,
		visitors: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
	go kl.cleanup()
	return kl
}

// perUserRate derives a submission rate from a kind's worker pool
// capacity: one job every JobTimeout/MaxConcurrency on average, which is
// the fastest a single kind's pool can sustainably drain work submitted
// by one user without starving every other user of that kind.
func perUserRate(kc config.WorkerKindConfig) (rate.Limit, int) {
	concurrency := kc.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	timeout := kc.JobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := float64(concurrency) / timeout.Seconds()
	burst := kc.MaxQueueDepth
	if burst < 1 {
		burst = 1
	}
	return rate.Limit(rps), burst
}

// Allow reports whether userID may submit one more Task of kind now.
// Unrecognized kinds are not this limiter's concern — gateway.submitTask
// rejects those before reaching here — so Allow lets them through.
func (kl *KindLimiter) Allow(userID string, kind models.TaskKind) bool {
	kc, ok := kl.cfg[kind]
	if !ok {
		return true
	}

	key := userID + ":" + string(kind)
	kl.mu.Lock()
	limiter, exists := kl.visitors[key]
	if !exists {
		rps, burst := perUserRate(kc)
		limiter = rate.NewLimiter(rps, burst)
		kl.visitors[key] = limiter
	}
	kl.lastSeen[key] = time.Now()
	kl.mu.Unlock()

	return limiter.Allow()
}

func (kl *KindLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		kl.mu.Lock()
		for key, seen := range kl.lastSeen {
			if time.Since(seen) > 10*time.Minute {
				delete(kl.visitors, key)
				delete(kl.lastSeen, key)
			}
		}
		kl.mu.Unlock()
	}
}

// getClientIP extracts the client IP address from the request,
// preferring X-Forwarded-For / X-Real-IP over RemoteAddr for proxied
// requests.
func getClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		if ip := parseXForwardedFor(xff); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func parseXForwardedFor(xff string) string {
	for i := 0; i < len(xff); i++ {
		if xff[i] == ',' {
			ip := trimSpaces(xff[:i])
			if net.ParseIP(ip) != nil {
				return ip
			}
			break
		}
	}

	ip := trimSpaces(xff)
	if net.ParseIP(ip) != nil {
		return ip
	}
	return ""
}

func trimSpaces(s string) string {
	start := 0
	end := len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}
