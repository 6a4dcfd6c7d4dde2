package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/chatgate/internal/auth"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func parseLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newJSONLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	entry := parseLogEntry(t, &buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %q, want %q", entry["msg"], "http_request")
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %q, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/api/auth/verify" {
		t.Errorf("path = %q, want %q", entry["path"], "/api/auth/verify")
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected 'duration_ms' field in log entry")
	}
	if _, ok := entry["identity_id"]; ok {
		t.Error("identity_id should be omitted for anonymous requests")
	}
}

// TestLoggingMiddleware_IncludesRequestID は外側で割り当てたリクエストIDがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRequestIDMiddleware()(NewLoggingMiddleware(newJSONLogger(&buf))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if entry := parseLogEntry(t, &buf); entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want %q", entry["request_id"], "req-1")
	}
}

// TestLoggingMiddleware_IncludesIdentityFromAuth は内側の認証ミドルウェアが特定したidentityがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesIdentityFromAuth(t *testing.T) {
	var buf bytes.Buffer
	authn := &mockAuthenticator{
		authenticateFn: func(ctx context.Context, token string, requireEntitlement bool) (*auth.Principal, error) {
			return testPrincipal(false), nil
		},
	}
	handler := NewLoggingMiddleware(newJSONLogger(&buf))(
		NewAuthMiddleware(authn, AuthConfig{})(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/api/subscriptions/current", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if entry := parseLogEntry(t, &buf); entry["identity_id"] != "42" {
		t.Errorf("identity_id = %v, want %q", entry["identity_id"], "42")
	}
}

// TestLoggingMiddleware_IncludesIdentityFromContext はコンテキストに設定済みのidentityも拾うことを検証する。
func TestLoggingMiddleware_IncludesIdentityFromContext(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newJSONLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/access", nil)
	req = req.WithContext(ContextWithIdentityID(req.Context(), "user-123"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if entry := parseLogEntry(t, &buf); entry["identity_id"] != "user-123" {
		t.Errorf("identity_id = %v, want %q", entry["identity_id"], "user-123")
	}
}

// TestLoggingMiddleware_CapturesStatusCode はステータスコードに応じたログレベルを検証する。
func TestLoggingMiddleware_CapturesStatusCode(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"ok", http.StatusOK, "INFO"},
		{"unauthorized", http.StatusUnauthorized, "WARN"},
		{"forbidden", http.StatusForbidden, "WARN"},
		{"internal", http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewLoggingMiddleware(newJSONLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/access", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			entry := parseLogEntry(t, &buf)
			if status, _ := entry["status"].(float64); int(status) != tt.status {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %q", entry["level"], tt.wantLevel)
			}
		})
	}
}

// TestLoggingMiddleware_BodyWriteCapture はWriteHeaderなしのWriteで200が記録されることを検証する。
func TestLoggingMiddleware_BodyWriteCapture(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newJSONLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"valid":false}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if status, _ := parseLogEntry(t, &buf)["status"].(float64); status != 200 {
		t.Errorf("status = %v, want 200", status)
	}
	if w.Body.String() != `{"valid":false}` {
		t.Errorf("body = %q", w.Body.String())
	}
}

// TestLoggingMiddleware_RecordsHTTPStatusMetric はステータスコードがメトリクスに記録されることを検証する。
func TestLoggingMiddleware_RecordsHTTPStatusMetric(t *testing.T) {
	var buf bytes.Buffer
	collector := &recordingCollector{}
	handler := NewLoggingMiddleware(newJSONLogger(&buf), LoggingConfig{Metrics: collector})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/access", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if len(collector.httpStatuses) != 1 || collector.httpStatuses[0] != http.StatusForbidden {
		t.Errorf("http statuses = %v, want [403]", collector.httpStatuses)
	}
}
