package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0 / 60.0),
		GeneralBurst:    3,
		LoginRate:       rate.Limit(1.0 / 60.0),
		LoginBurst:      2,
		CleanupInterval: time.Hour,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func identityRequest(identityID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/access", nil)
	return req.WithContext(ContextWithIdentityID(req.Context(), identityID))
}

func loginRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, identityRequest("42"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), identityRequest("42"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, identityRequest("42"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	// 1トークンの補充に約60秒
	if err != nil || retryAfter < 60 || retryAfter > 61 {
		t.Errorf("Retry-After = %q, want about 60", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != "rate_limit_exceeded" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesIdentities(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 4; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), identityRequest("42"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, identityRequest("43"))
	if w.Code != http.StatusOK {
		t.Errorf("other identity status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", got)
	}
}

func TestRateLimitMiddleware_NoIdentity_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/access", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestLoginRateLimit_PerClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.LoginMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		// ポートが違っても同じIPとして扱う
		handler.ServeHTTP(w, loginRequest("203.0.113.7:"+strconv.Itoa(50000+i)))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("203.0.113.7:50100"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("198.51.100.1:50000"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := rl.LoginLimiterCount(); got != 2 {
		t.Errorf("LoginLimiterCount() = %d, want 2", got)
	}
}

func TestLoginRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	login := rl.LoginMiddleware()(okHandler())
	for i := 0; i < 3; i++ {
		login.ServeHTTP(httptest.NewRecorder(), loginRequest("203.0.113.7:1234"))
	}

	w := httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, identityRequest("42"))
	if w.Code != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.7:1234", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.7", "203.0.113.7"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.CleanupInterval = 50 * time.Millisecond

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), identityRequest("42"))
	rl.LoginMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), loginRequest("203.0.113.7:1234"))

	if rl.GeneralLimiterCount() != 1 || rl.LoginLimiterCount() != 1 {
		t.Fatal("expected one entry per limiter")
	}

	// TTLはCleanupIntervalの2倍（100ms）
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rl.GeneralLimiterCount() == 0 && rl.LoginLimiterCount() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("entries not cleaned up: general=%d login=%d", rl.GeneralLimiterCount(), rl.LoginLimiterCount())
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.LoginBurst != 10 {
		t.Errorf("LoginBurst = %d, want 10", cfg.LoginBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestPerMinuteConfig(t *testing.T) {
	cfg := PerMinuteConfig(60, 5)
	if cfg.GeneralRate != rate.Limit(1) || cfg.GeneralBurst != 60 {
		t.Errorf("general = %v/%d, want 1/60", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.LoginBurst != 5 {
		t.Errorf("LoginBurst = %d, want 5", cfg.LoginBurst)
	}

	def := PerMinuteConfig(0, -1)
	if def != DefaultRateLimiterConfig() {
		t.Errorf("PerMinuteConfig(0, -1) = %+v, want defaults", def)
	}
}
