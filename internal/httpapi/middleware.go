// Package httpapi assembles the ingress pipeline: request-id, structured
// logging, security headers, CORS, body limits, sanitation, rate limiting,
// tenant resolution, authentication, schema binding checks, and the RBAC
// guard, in that fixed order, in front of the business handlers.
package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/httputil"
)

// maxBodyBytes caps request bodies; bulk imports go through a dedicated
// streaming path, so nothing on these routes legitimately needs more.
const maxBodyBytes = 1 << 20

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "0")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// BodyLimit rejects request bodies over maxBodyBytes before any handler
// reads them.
func BodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxBodyBytes {
			httputil.Error(w, errors.New("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// Sanitize strips parameter-pollution duplicates from the query string: only
// the first value of each key survives. JSON bodies are decoded into typed
// structs downstream, which neutralizes injection there.
func Sanitize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		changed := false
		for k, vs := range q {
			if len(vs) > 1 {
				q[k] = vs[:1]
				changed = true
			}
		}
		if changed {
			r.URL.RawQuery = q.Encode()
		}
		next.ServeHTTP(w, r)
	})
}

// Metrics records request latency and error counts into the registry.
func Metrics(m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.ObserveSince("http.request_latency", start)
			if sw.status >= 500 {
				m.Inc("http.error_count")
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RateLimitConfig describes one limiter tier.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	// FailuresOnly counts only requests that finish with 401/403, for the
	// root-admin login tier where successful logins must never starve the
	// operator out.
	FailuresOnly bool
}

// RateLimiter is a fixed-window counter over the shared Redis client. With
// no Redis available it fails open: a throttling outage must not become a
// full outage.
type RateLimiter struct {
	rdb *redis.Client
}

// NewRateLimiter constructs a RateLimiter; rdb may be nil.
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// Middleware enforces cfg for the wrapped routes. The counter key prefers
// the authenticated user, falling back to client IP for anonymous traffic.
func (rl *RateLimiter) Middleware(name string, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.rdb == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := rl.key(name, r, cfg.Window)

			if !cfg.FailuresOnly {
				allowed, err := rl.allow(r, key, cfg)
				if err == nil && !allowed {
					tooManyRequests(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Failure-only tier: check the current count up front, then
			// record the request only if it ends unauthorized.
			if count, err := rl.rdb.Get(r.Context(), key).Int(); err == nil && count >= cfg.Limit {
				tooManyRequests(w)
				return
			}
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			if sw.status == http.StatusUnauthorized || sw.status == http.StatusForbidden {
				rl.record(r, key, cfg.Window)
			}
		})
	}
}

func (rl *RateLimiter) allow(r *http.Request, key string, cfg RateLimitConfig) (bool, error) {
	count, err := rl.record(r, key, cfg.Window)
	if err != nil {
		return true, err
	}
	return count <= int64(cfg.Limit), nil
}

func (rl *RateLimiter) record(r *http.Request, key string, window time.Duration) (int64, error) {
	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(r.Context(), key)
	pipe.Expire(r.Context(), key, window)
	if _, err := pipe.Exec(r.Context()); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (rl *RateLimiter) key(name string, r *http.Request, window time.Duration) string {
	principal := httputil.GetUserID(r.Context())
	if principal == "" {
		principal = clientIP(r)
	}
	bucket := time.Now().Unix() / int64(window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%s:%d", name, principal, bucket)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func tooManyRequests(w http.ResponseWriter) {
	httputil.Error(w, errors.New("RATE_LIMITED", "too many requests", http.StatusTooManyRequests))
}
