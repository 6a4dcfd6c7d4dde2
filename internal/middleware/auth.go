// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/chatgate/internal/auth"
	"github.com/hitoshi/chatgate/internal/metrics"
	"github.com/hitoshi/chatgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityIDContextKey = contextKey("identity_id")
	principalContextKey  = contextKey("principal")
)

// Authenticator はBearerトークンからリクエストの主体を特定する。
// auth.Service が実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, token string, requireEntitlement bool) (*auth.Principal, error)
}

// AuthConfig は認証ミドルウェアの設定。
type AuthConfig struct {
	// RequireEntitlement が true の場合は現在のエンタイトルメントも確認する
	RequireEntitlement bool
	Metrics            metrics.MetricsCollector
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済みの主体とidentity IDをリクエストコンテキストに注入する。
// トークン・セッションの失敗は401、エンタイトルメントの拒否は403を返す。
func NewAuthMiddleware(authn Authenticator, cfg AuthConfig) func(next http.Handler) http.Handler {
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				collector.RecordTokenRejection(string(model.ReasonTokenMalformed))
				WriteReasonError(w, model.ReasonTokenMalformed)
				return
			}

			principal, err := authn.Authenticate(r.Context(), token, cfg.RequireEntitlement)
			if err != nil {
				reason := model.ReasonOf(err)
				switch {
				case reason.IsInternal():
					slog.Error("authentication failed",
						slog.String("request_id", RequestIDFromContext(r.Context())),
						slog.String("reason", string(reason)),
						slog.String("error", err.Error()),
					)
				case isEntitlementReason(reason):
					collector.RecordAccessDecision(string(reason))
				default:
					collector.RecordTokenRejection(string(reason))
				}
				WriteReasonError(w, reason)
				return
			}

			if principal.Entitlement != nil {
				collector.RecordAccessDecision(string(principal.Entitlement.Reason))
			}

			setLoggedIdentity(r.Context(), principal.Identity.ID)
			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// ヘッダーがない・形式が違う場合は空文字列を返す。
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// IdentityIDFromContext はリクエストコンテキストからidentity IDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(identityIDContextKey).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("identity ID not found in context")
	}
	return id, nil
}

// PrincipalFromContext はリクエストコンテキストから認証済みの主体を取得する。
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*auth.Principal)
	return p, ok && p != nil
}

// ContextWithIdentityID はコンテキストにidentity IDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentityID(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, identityIDContextKey, identityID)
}

// ContextWithPrincipal はコンテキストに主体とそのidentity IDを注入する。
func ContextWithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	ctx = context.WithValue(ctx, principalContextKey, p)
	return ContextWithIdentityID(ctx, p.Identity.ID)
}

func isEntitlementReason(r model.Reason) bool {
	switch r {
	case model.ReasonNoPayments, model.ReasonUnsupportedPlan, model.ReasonExpired, model.ReasonUserNotFound:
		return true
	}
	return false
}
