package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/chatgate/internal/auth"
	"github.com/hitoshi/chatgate/internal/config"
	"github.com/hitoshi/chatgate/internal/database"
	"github.com/hitoshi/chatgate/internal/handler"
	"github.com/hitoshi/chatgate/internal/logger"
	"github.com/hitoshi/chatgate/internal/metrics"
	"github.com/hitoshi/chatgate/internal/middleware"
	"github.com/hitoshi/chatgate/internal/security"
	"github.com/hitoshi/chatgate/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("session_backend", cfg.SessionBackend),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRevoke:
		return runRevoke(cfg, commandArgs(args))
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// セッションバックエンドと外部IDストアに接続し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. セッションバックエンド
	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	// 2. 外部IDストア（読み取り専用）
	pool, err := openIdentityPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	resolver, identities := newResolver(pool, cfg)
	store := newSessionStore(backend, cfg)
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.SessionTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}
	authService := auth.NewService(
		auth.NewVerifier(identities, auth.VerifierConfig{QueryTimeout: cfg.ExternalQueryTimeout}),
		resolver, store, tokens,
	)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		TrustProxy:        cfg.TrustProxyHeaders,

		AuthService: authService,

		SubscriptionService: resolver,
		LabelSanitizer:      security.NewLabelSanitizer(),

		HealthChecker: handler.HealthCheckFunc(func(ctx context.Context) error {
			if err := backend.Ping(ctx); err != nil {
				return fmt.Errorf("session backend: %w", err)
			}
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("identity store: %w", err)
			}
			return nil
		}),
		Metrics:  collector,
		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// メモリバックエンドはプロセス内にしか存在しないため、APIサーバー側で掃除する
	if cfg.SessionBackend == config.SessionBackendMemory {
		job := cleanup.NewCleanupJob(store, slog.Default(), collector)
		go job.Start(ctx, cfg.SessionSweepInterval)
	}

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("session_backend", backend.name),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// セッションバックエンドに接続し、期限切れ・無効セッションの掃除を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.SessionBackend == config.SessionBackendMemory {
		return errors.New("worker requires a shared session backend (postgres or redis)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	store := newSessionStore(backend, cfg)
	job := cleanup.NewCleanupJob(store, slog.Default(), nil)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SessionSweepInterval),
		slog.String("session_backend", backend.name),
	)

	// 掃除ジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.SessionSweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はセッションテーブルのマイグレーションを実行する。
// postgres以外のバックエンドでは何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.SessionBackend != config.SessionBackendPostgres {
		slog.Info("migrations skipped: session backend has no schema",
			slog.String("session_backend", cfg.SessionBackend),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runRevoke は指定したユーザーの有効セッションをすべて無効化する。
// 発行済みトークンは次のリクエストで session_invalid になる。
func runRevoke(cfg *config.Config, args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return errors.New("usage: revoke <identity-id>")
	}
	identityID := strings.TrimSpace(args[0])

	ctx := context.Background()
	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	store := newSessionStore(backend, cfg)
	count, err := store.InvalidateAll(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	slog.Info("sessions revoked",
		slog.String("identity_id", identityID),
		slog.Int64("invalidated", count),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
