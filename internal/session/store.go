// Package session は1identityにつき1つの有効セッションを管理するセッションストアを提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hitoshi/chatgate/internal/model"
	"github.com/hitoshi/chatgate/internal/repository"
)

// DefaultTTL はセッションのデフォルト有効期間。
const DefaultTTL = 7 * 24 * time.Hour

// DefaultQueryTimeout はバックエンドへの1回の操作にかける上限時間。
const DefaultQueryTimeout = 5 * time.Second

// idBytes はセッションIDの乱数バイト数（256bit）。
const idBytes = 32

// Config はセッションストアの設定。
type Config struct {
	TTL time.Duration
	// QueryTimeout はバックエンド操作1回の上限。0以下なら DefaultQueryTimeout。
	QueryTimeout time.Duration
	// Now は現在時刻を返す。nilの場合は time.Now を使う。
	Now func() time.Time
}

// Store はセッションの作成・参照・無効化を行う。
// 永続化は repository.SessionRepository に委譲する。
type Store struct {
	repo    repository.SessionRepository
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	newID   func() (string, error)
}

// NewStore はStoreを生成する。
func NewStore(repo repository.SessionRepository, cfg Config) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		repo:    repo,
		ttl:     ttl,
		timeout: timeout,
		now:     now,
		newID:   generateSessionID,
	}
}

// TTL はセッションの有効期間を返す。
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create は同一identityの有効セッションをすべて無効化し、新しいセッションを作成する。
// ttlが0以下の場合は設定値を使う。無効化した件数も返す。
func (s *Store) Create(ctx context.Context, identityID, email string, ttl time.Duration) (*model.Session, int64, error) {
	if identityID == "" {
		return nil, 0, fmt.Errorf("identity ID is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	id, err := s.newID()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:         id,
		IdentityID: identityID,
		Email:      email,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	invalidated, err := s.repo.CreateExclusive(ctx, session)
	if err != nil {
		return nil, 0, model.NewAccessError(model.ReasonStoreUnreachable, fmt.Errorf("failed to save session: %w", err))
	}

	return session, invalidated, nil
}

// Get は有効かつ期限内のセッションを返す。
// 無効化済み・期限切れ・存在しないセッションはいずれもnilになる。
func (s *Store) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	session, err := s.repo.FindActiveByID(ctx, sessionID, s.now())
	if err != nil {
		return nil, model.NewAccessError(model.ReasonStoreUnreachable, fmt.Errorf("failed to find session: %w", err))
	}
	return session, nil
}

// InvalidateAll は指定identityの有効セッションをすべて無効化し、件数を返す。
func (s *Store) InvalidateAll(ctx context.Context, identityID string) (int64, error) {
	if identityID == "" {
		return 0, fmt.Errorf("identity ID is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.repo.DeactivateByIdentityID(ctx, identityID)
	if err != nil {
		return 0, model.NewAccessError(model.ReasonStoreUnreachable, fmt.Errorf("failed to invalidate sessions: %w", err))
	}
	return n, nil
}

// Delete はセッションを削除する。存在しなかった場合はfalseを返す。
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	deleted, err := s.repo.DeleteByID(ctx, sessionID)
	if err != nil {
		return false, model.NewAccessError(model.ReasonStoreUnreachable, fmt.Errorf("failed to delete session: %w", err))
	}
	return deleted, nil
}

// SweepExpired は期限切れまたは無効化済みのセッションを削除し、件数を返す。
// Getが有効として返すセッションは削除しない。
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.repo.DeleteExpiredOrInactive(ctx, s.now())
	if err != nil {
		return 0, model.NewAccessError(model.ReasonStoreUnreachable, fmt.Errorf("failed to sweep sessions: %w", err))
	}
	return n, nil
}

// bound はバックエンド操作1回分の期限をctxに付ける。
func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
