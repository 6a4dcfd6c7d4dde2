package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/chatgate/internal/metrics"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// requestLogFields は内側のミドルウェアがアクセスログに追記する値。
type requestLogFields struct {
	mu         sync.Mutex
	identityID string
}

var logFieldsContextKey = contextKey("log_fields")

// setLoggedIdentity はアクセスログに出すidentity IDを設定する。
// ロギングミドルウェアの外側では何もしない。
func setLoggedIdentity(ctx context.Context, identityID string) {
	if f, ok := ctx.Value(logFieldsContextKey).(*requestLogFields); ok {
		f.mu.Lock()
		f.identityID = identityID
		f.mu.Unlock()
	}
}

// loggedIdentityID は内側の認証ミドルウェアが設定したidentity、なければコンテキストのidentityを返す。
func loggedIdentityID(ctx context.Context) string {
	if f, ok := ctx.Value(logFieldsContextKey).(*requestLogFields); ok {
		f.mu.Lock()
		id := f.identityID
		f.mu.Unlock()
		if id != "" {
			return id
		}
	}
	id, _ := IdentityIDFromContext(ctx)
	return id
}

// LoggingConfig はロギングミドルウェアの設定。
type LoggingConfig struct {
	Metrics metrics.MetricsCollector
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id、identity_id（認証済みの場合）を含む。
func NewLoggingMiddleware(logger *slog.Logger, opts ...LoggingConfig) func(next http.Handler) http.Handler {
	var collector metrics.MetricsCollector = metrics.NopCollector{}
	if len(opts) > 0 && opts[0].Metrics != nil {
		collector = opts[0].Metrics
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			fields := &requestLogFields{}
			ctx := context.WithValue(r.Context(), logFieldsContextKey, fields)

			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			if requestID := RequestIDFromContext(r.Context()); requestID != "" {
				attrs = append(attrs, slog.String("request_id", requestID))
			}

			if identityID := loggedIdentityID(ctx); identityID != "" {
				attrs = append(attrs, slog.String("identity_id", identityID))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			collector.RecordHTTPStatus(rec.statusCode)
			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}
