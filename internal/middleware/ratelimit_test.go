package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testRateLimiterConfig(generalBurst, writeBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		WriteRate:       0.5,
		WriteBurst:      writeBurst,
		CleanupInterval: time.Minute,
	}
}

func requestFrom(method, ip string) *http.Request {
	req := httptest.NewRequest(method, "/api/activities", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	if cfg.GeneralBurst != 120 || cfg.WriteBurst != 30 {
		t.Errorf("bursts = %d/%d, want 120/30", cfg.GeneralBurst, cfg.WriteBurst)
	}
	if float64(cfg.GeneralRate) != 2.0 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if float64(cfg.WriteRate) != 0.5 {
		t.Errorf("WriteRate = %v, want 0.5", cfg.WriteRate)
	}
}

func TestNewRateLimiterConfig_NonPositiveFallsBack(t *testing.T) {
	cfg := NewRateLimiterConfig(0, -1)
	if cfg.GeneralBurst != 120 || cfg.WriteBurst != 30 {
		t.Errorf("bursts = %d/%d, want 120/30", cfg.GeneralBurst, cfg.WriteBurst)
	}
}

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom(http.MethodGet, "192.0.2.1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodGet, "192.0.2.1"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodGet, "192.0.2.1"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body.Code)
	}
}

func TestRateLimitMiddleware_IsolatedPerClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodGet, "192.0.2.1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodGet, "192.0.2.2"))
	if w.Code != http.StatusOK {
		t.Errorf("another client: status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestWriteMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(10, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(rl.WriteMiddleware()(okHandler()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodPost, "192.0.2.1"))
	if w.Code != http.StatusOK {
		t.Fatalf("first write: status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodPost, "192.0.2.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second write: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// 読み取りは書き込み制限の影響を受けない
	w = httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, requestFrom(http.MethodGet, "192.0.2.1"))
	if w.Code != http.StatusOK {
		t.Errorf("read: status = %d, want %d", w.Code, http.StatusOK)
	}
	if rl.WriteLimiterCount() != 1 {
		t.Errorf("WriteLimiterCount = %d, want 1", rl.WriteLimiterCount())
	}
}

func TestRateLimiter_CleanupEvictsStaleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 5))
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodGet, "192.0.2.1"))
	rl.WriteMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodPost, "192.0.2.1"))

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("fresh entry must survive cleanup, got %d", rl.GeneralLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.WriteLimiterCount() != 0 {
		t.Errorf("stale entries remain: general=%d write=%d", rl.GeneralLimiterCount(), rl.WriteLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 1))
	rl.Stop()
	rl.Stop()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
