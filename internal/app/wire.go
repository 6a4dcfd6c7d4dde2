package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/chatgate/internal/config"
	"github.com/hitoshi/chatgate/internal/database"
	"github.com/hitoshi/chatgate/internal/entitlement"
	"github.com/hitoshi/chatgate/internal/repository"
	"github.com/hitoshi/chatgate/internal/session"
)

const connectTimeout = 10 * time.Second

// sessionBackend はSESSION_BACKENDに応じて開いたセッション永続化層。
type sessionBackend struct {
	name  string
	repo  repository.SessionRepository
	ping  func(ctx context.Context) error
	close func() error
}

// Close はバックエンドの接続を閉じる。
func (b *sessionBackend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Ping はバックエンドへの疎通を確認する。
func (b *sessionBackend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// openSessionBackend は設定されたバックエンドでセッションリポジトリを開く。
// postgresとredisは接続確認まで行う。
func openSessionBackend(ctx context.Context, cfg *config.Config) (*sessionBackend, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.SessionBackend {
	case config.SessionBackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("session database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return &sessionBackend{
			name:  config.SessionBackendPostgres,
			repo:  repository.NewPostgresSessionRepo(db),
			ping:  db.PingContext,
			close: db.Close,
		}, nil

	case config.SessionBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("session redis connection established", slog.String("addr", opts.Addr))
		return &sessionBackend{
			name: config.SessionBackendRedis,
			repo: repository.NewRedisSessionRepo(client),
			ping: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			close: client.Close,
		}, nil

	case config.SessionBackendMemory:
		slog.Warn("using in-memory session store; sessions are lost on restart")
		return &sessionBackend{
			name: config.SessionBackendMemory,
			repo: repository.NewMemorySessionRepo(),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.SessionBackend)
	}
}

// newSessionStore はバックエンドの上にセッションストアを構成する。
func newSessionStore(backend *sessionBackend, cfg *config.Config) *session.Store {
	return session.NewStore(backend.repo, session.Config{
		TTL:          cfg.SessionTTL,
		QueryTimeout: cfg.ExternalQueryTimeout,
	})
}

// openIdentityPool は外部IDストアへのpgxコネクションプールを開く。
func openIdentityPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.IdentityDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to identity store: %w", err)
	}

	slog.Info("identity store connection established",
		slog.String("database_url", maskDatabaseURL(cfg.IdentityDatabaseURL)),
	)
	return pool, nil
}

// paymentSources は有効な支払いソースのリポジトリを優先順に生成する。
func paymentSources(db repository.PgxQuerier, schema config.ExternalSchema) []repository.PaymentRepository {
	var sources []repository.PaymentRepository
	for _, src := range schema.PaymentSources {
		if src.Disabled {
			slog.Info("payment source disabled", slog.String("source", src.Name))
			continue
		}
		sources = append(sources, repository.NewExternalPaymentRepo(db, src))
	}
	return sources
}

// newResolver は外部IDストアを読むエンタイトルメントリゾルバを構成する。
func newResolver(db repository.PgxQuerier, cfg *config.Config) (*entitlement.Resolver, repository.IdentityRepository) {
	identities := repository.NewExternalIdentityRepo(db, cfg.Schema.Users)
	sources := paymentSources(db, cfg.Schema)

	slog.Info("entitlement resolver configured",
		slog.Int("payment_sources", len(sources)),
		slog.String("plan_amounts", config.FormatPlanAmounts(cfg.PlanAmountMonths)),
		slog.Duration("query_timeout", cfg.ExternalQueryTimeout),
	)

	resolver := entitlement.NewResolver(identities, sources, entitlement.Config{
		PlanAmountMonths: cfg.PlanAmountMonths,
		QueryTimeout:     cfg.ExternalQueryTimeout,
	})
	return resolver, identities
}
