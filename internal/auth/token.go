package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/chatgate/internal/config"
	"github.com/hitoshi/chatgate/internal/model"
)

// DefaultIssuer はトークンのiss claimのデフォルト値。
const DefaultIssuer = "chatgate"

// Claims はセッショントークンに含める情報。
// エンタイトルメントは含めず、検証のたびにセッションとエンタイトルメントを再確認する。
type Claims struct {
	Email      string `json:"email"`
	IdentityID string `json:"id"`
	Username   string `json:"username,omitempty"`
	SessionID  string `json:"sid"`
	jwt.RegisteredClaims
}

// Summary はクライアント向けのユーザー情報を返す。
func (c *Claims) Summary() model.IdentitySummary {
	return model.IdentitySummary{
		ID:       c.IdentityID,
		Email:    c.Email,
		Username: c.Username,
	}
}

// TokenConfig はトークンサービスの設定。
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	// Now は現在時刻を返す。nilの場合は time.Now を使う。
	Now func() time.Time
}

// TokenService はHS256で署名したセッショントークンを発行・検証する。
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenService はTokenServiceを生成する。
// 署名鍵が未設定・プレースホルダー・短すぎる場合は config_error を返す。
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if err := config.ValidateSecret(cfg.Secret); err != nil {
		return nil, model.NewAccessError(model.ReasonConfigError, err)
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: issuer,
		ttl:    ttl,
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(now),
		),
	}, nil
}

// TTL はトークンの有効期間を返す。
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue はidentityとセッションIDを束ねた署名付きトークンを発行する。
// 同じ時刻・同じ入力に対しては同じトークンになる。
func (s *TokenService) Issue(identity *model.Identity, sessionID string) (string, error) {
	if identity == nil || identity.ID == "" || sessionID == "" {
		return "", fmt.Errorf("identity and session ID are required")
	}

	now := s.now()
	claims := Claims{
		Email:      identity.Email,
		IdentityID: identity.ID,
		Username:   identity.Username,
		SessionID:  sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify はトークンを検証してclaimsを返す。
// 解析できない・署名が一致しない場合は token_malformed、期限切れの場合は token_expired を返す。
// 期限切れの場合も署名検証済みのclaimsを合わせて返す（ログアウトで使う）。
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, model.NewAccessError(model.ReasonTokenMalformed, errors.New("empty token"))
	}

	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return claims, model.NewAccessError(model.ReasonTokenExpired, err)
	default:
		return nil, model.NewAccessError(model.ReasonTokenMalformed, err)
	}

	if claims.IdentityID == "" || claims.SessionID == "" {
		return nil, model.NewAccessError(model.ReasonTokenMalformed, errors.New("token is missing identity or session"))
	}
	return claims, nil
}
