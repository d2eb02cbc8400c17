package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestBodyLimitRejectsOversizedBody(t *testing.T) {
	body := strings.NewReader(strings.Repeat("a", 10))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.ContentLength = maxBodyBytes + 1

	rr := httptest.NewRecorder()
	BodyLimit(okHandler()).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestBodyLimitPassesSmallBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	rr := httptest.NewRecorder()
	BodyLimit(okHandler()).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSanitizeDropsDuplicateParams(t *testing.T) {
	var seen string
	h := Sanitize(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.RawQuery
	}))

	req := httptest.NewRequest(http.MethodGet, "/?status=active&status=deleted&page=1", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, seen, "status=active")
	assert.NotContains(t, seen, "deleted")
	assert.Contains(t, seen, "page=1")
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:44444"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestRateLimiterFailsOpenWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil)
	h := rl.Middleware("global", RateLimitConfig{Limit: 1, Window: time.Minute})(okHandler())

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRateLimiterEnforcesLimit(t *testing.T) {
	rl := NewRateLimiter(newTestRedis(t))
	h := rl.Middleware("global", RateLimitConfig{Limit: 3, Window: time.Minute})(okHandler())

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.2.3:1000"
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:1000"
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// A different client is unaffected.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.9.9.9:1000"
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimiterFailureOnlyTier(t *testing.T) {
	rl := NewRateLimiter(newTestRedis(t))

	status := http.StatusUnauthorized
	h := rl.Middleware("login-failures", RateLimitConfig{Limit: 2, Window: time.Minute, FailuresOnly: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

	send := func() int {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.1.2.3:1000"
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	// Two failures fill the bucket, the third request is throttled.
	assert.Equal(t, http.StatusUnauthorized, send())
	assert.Equal(t, http.StatusUnauthorized, send())
	assert.Equal(t, http.StatusTooManyRequests, send())

	// Successful requests never count toward the limit.
	rl2 := NewRateLimiter(newTestRedis(t))
	status = http.StatusOK
	h = rl2.Middleware("login-failures", RateLimitConfig{Limit: 2, Window: time.Minute, FailuresOnly: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, send())
	}
}
