package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/chatgate/internal/metrics"
	"github.com/hitoshi/chatgate/internal/middleware"
	"github.com/hitoshi/chatgate/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	// TrustProxy がtrueならX-Forwarded-For / X-Real-IPでRemoteAddrを書き換える
	TrustProxy bool

	// 認証
	AuthService AuthServiceInterface

	// 購読
	SubscriptionService SubscriptionServiceInterface
	LabelSanitizer      security.LabelSanitizer

	// 運用
	HealthChecker HealthChecker
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → (RealIP) → Logging → Recovery → CORS → SecurityHeaders
//
// RealIPはTrustProxyのときだけ入る。
// ログインはクライアントIPごとのレート制限、認証済みルートは
// Auth → RateLimit(GeneralMiddleware) を通る。
// /api/access のみエンタイトルメントを要求し、購読情報とログアウトはセッションだけを要求する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sanitizer := deps.LabelSanitizer
	if sanitizer == nil {
		sanitizer = security.NewLabelSanitizer()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger, middleware.LoggingConfig{Metrics: collector}))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, collector)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService, sanitizer)

	sessionOnly := middleware.NewAuthMiddleware(deps.Authenticator, middleware.AuthConfig{Metrics: collector})
	entitled := middleware.NewAuthMiddleware(deps.Authenticator, middleware.AuthConfig{
		RequireEntitlement: true,
		Metrics:            collector,
	})

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	authRoutes := func(r chi.Router) {
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		r.Get("/verify", authHandler.Verify)
		r.Post("/logout", authHandler.Logout)
	}
	r.Route("/api/auth", func(r chi.Router) {
		authRoutes(r)
		r.With(sessionOnly, deps.RateLimiter.GeneralMiddleware()).Post("/logout-all", authHandler.LogoutAll)
	})
	// 旧クライアント向けに /auth/* にも同じハンドラーを置く
	r.Route("/auth", authRoutes)

	// --- セッションのみ必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(sessionOnly)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/subscriptions", func(r chi.Router) {
			r.Get("/current", subHandler.Current)
			r.Get("/payment-history", subHandler.PaymentHistory)
		})
	})

	// --- エンタイトルメントが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(entitled)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/access", Access)
	})

	return r
}
