// Package auth は資格情報の照合、セッショントークン、アクセスゲートを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chatgate/internal/model"
)

// CredentialVerifier は識別子とパスワードを照合する。
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, password string) (*model.Identity, error)
}

// EntitlementResolver は外部ユーザーIDの現在のアクセス判定を返す。
type EntitlementResolver interface {
	Resolve(ctx context.Context, identityID string) model.AccessDecision
}

// SessionStore はセッションの作成・参照・無効化を行う。
type SessionStore interface {
	Create(ctx context.Context, identityID, email string, ttl time.Duration) (*model.Session, int64, error)
	Get(ctx context.Context, id string) (*model.Session, error)
	InvalidateAll(ctx context.Context, identityID string) (int64, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// TokenIssuer はセッショントークンを発行・検証する。
type TokenIssuer interface {
	Issue(identity *model.Identity, sessionID string) (string, error)
	Verify(token string) (*Claims, error)
}

// LoginResult はログイン成功時に返す情報。
type LoginResult struct {
	Token       string
	Identity    model.IdentitySummary
	Session     *model.Session
	Entitlement model.AccessDecision
	// Invalidated はこのログインで無効化された既存セッション数
	Invalidated int64
}

// Principal は認証済みリクエストの主体。
type Principal struct {
	Claims   *Claims
	Session  *model.Session
	Identity model.IdentitySummary
	// Entitlement はエンタイトルメントを確認した場合のみ設定される
	Entitlement *model.AccessDecision
}

// Service はログイン・リクエストごとの認証・ログアウトを司るアクセスゲート。
type Service struct {
	verifier CredentialVerifier
	resolver EntitlementResolver
	sessions SessionStore
	tokens   TokenIssuer
}

// NewService はServiceを生成する。
func NewService(
	verifier CredentialVerifier,
	resolver EntitlementResolver,
	sessions SessionStore,
	tokens TokenIssuer,
) *Service {
	return &Service{
		verifier: verifier,
		resolver: resolver,
		sessions: sessions,
		tokens:   tokens,
	}
}

// Login は資格情報を照合し、エンタイトルメントを確認した上でセッションを作成してトークンを発行する。
// 既存の有効セッションはセッション作成時にすべて無効化される。
// 失敗した場合は理由付きの *model.AccessError を返す。
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identity, err := s.verifier.Verify(ctx, identifier, password)
	if err != nil {
		return nil, err
	}

	decision := s.resolver.Resolve(ctx, identity.ID)
	if !decision.Allowed {
		slog.Info("login denied by entitlement",
			slog.String("identity_id", identity.ID),
			slog.String("reason", string(decision.Reason)),
		)
		return nil, model.NewAccessError(decision.Reason, nil)
	}

	session, invalidated, err := s.sessions.Create(ctx, identity.ID, identity.Email, 0)
	if err != nil {
		return nil, asAccessError(err, model.ReasonStoreUnreachable)
	}

	token, err := s.tokens.Issue(identity, session.ID)
	if err != nil {
		return nil, model.NewAccessError(model.ReasonError, fmt.Errorf("failed to issue token: %w", err))
	}

	slog.Info("user logged in",
		slog.String("identity_id", identity.ID),
		slog.Int("plan_months", decision.PlanMonths),
		slog.Int64("invalidated_sessions", invalidated),
	)

	return &LoginResult{
		Token:       token,
		Identity:    identity.Summary(),
		Session:     session,
		Entitlement: decision,
		Invalidated: invalidated,
	}, nil
}

// Authenticate はトークンを検証し、埋め込まれたセッションが有効であることを確認する。
// requireEntitlement が true の場合は現在のエンタイトルメントも再確認する。
func (s *Service) Authenticate(ctx context.Context, token string, requireEntitlement bool) (*Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, asAccessError(err, model.ReasonStoreUnreachable)
	}
	if session == nil || session.IdentityID != claims.IdentityID {
		return nil, model.NewAccessError(model.ReasonSessionInvalid, nil)
	}

	principal := &Principal{
		Claims:   claims,
		Session:  session,
		Identity: claims.Summary(),
	}

	if requireEntitlement {
		decision := s.resolver.Resolve(ctx, claims.IdentityID)
		if !decision.Allowed {
			return nil, model.NewAccessError(decision.Reason, nil)
		}
		principal.Entitlement = &decision
	}

	return principal, nil
}

// VerifySession はトークンが現在有効かどうかを返す。
// 無効な場合は理由をログにだけ残し、呼び出し元には false を返す。
func (s *Service) VerifySession(ctx context.Context, token string) (*Principal, bool) {
	principal, err := s.Authenticate(ctx, token, true)
	if err != nil {
		reason := model.ReasonOf(err)
		if reason.IsInternal() {
			slog.Error("session verification failed",
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
		} else {
			slog.Debug("session verification rejected", slog.String("reason", string(reason)))
		}
		return nil, false
	}
	return principal, true
}

// Logout はトークンのセッションを削除する。
// トークンが期限切れでも署名が正しければセッションを削除する。
// 解析できないトークンやすでに存在しないセッションはエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Verify(token)
	if claims == nil {
		slog.Debug("logout with unusable token", slog.String("reason", string(model.ReasonOf(err))))
		return nil
	}

	deleted, err := s.sessions.Delete(ctx, claims.SessionID)
	if err != nil {
		return asAccessError(err, model.ReasonStoreUnreachable)
	}

	slog.Info("user logged out",
		slog.String("identity_id", claims.IdentityID),
		slog.Bool("session_deleted", deleted),
	)
	return nil
}

// LogoutAll は指定identityの有効セッションをすべて無効化し、件数を返す。
func (s *Service) LogoutAll(ctx context.Context, identityID string) (int64, error) {
	if identityID == "" {
		return 0, fmt.Errorf("identity ID is required")
	}

	n, err := s.sessions.InvalidateAll(ctx, identityID)
	if err != nil {
		return 0, asAccessError(err, model.ReasonStoreUnreachable)
	}

	slog.Info("sessions invalidated",
		slog.String("identity_id", identityID),
		slog.Int64("count", n),
	)
	return n, nil
}

// asAccessError は AccessError でないエラーを指定理由で包む。
func asAccessError(err error, reason model.Reason) error {
	var ae *model.AccessError
	if errors.As(err, &ae) {
		return err
	}
	return model.NewAccessError(reason, err)
}
