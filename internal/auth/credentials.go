package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/chatgate/internal/model"
	"github.com/hitoshi/chatgate/internal/repository"
)

// DefaultLookupTimeout は外部IDストアへの照合1回にかける上限時間。
const DefaultLookupTimeout = 5 * time.Second

// VerifierConfig はVerifierの設定。
type VerifierConfig struct {
	// QueryTimeout は照合1回あたりのストア問い合わせの上限。0以下なら DefaultLookupTimeout。
	QueryTimeout time.Duration
}

// Verifier は識別子とパスワードを外部IDストアのユーザーと照合する。
// 読み取りのみを行う。
type Verifier struct {
	identities repository.IdentityRepository
	timeout    time.Duration
}

// NewVerifier はVerifierを生成する。
func NewVerifier(identities repository.IdentityRepository, cfg VerifierConfig) *Verifier {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Verifier{identities: identities, timeout: timeout}
}

// Verify は識別子とパスワードを照合し、最小限のIdentityを返す。
// 識別子は前後の空白を除いて小文字化し、"@" を含めばメール、それ以外はユーザー名として扱う。
// ユーザー名で見つからない場合はメールカラムでも検索する。
// 一致しない場合は invalid_credentials、ストア障害と問い合わせの時間切れは store_unreachable を返す。
func (v *Verifier) Verify(ctx context.Context, identifier, password string) (*model.Identity, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return nil, model.NewAccessError(model.ReasonInvalidCredentials, nil)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	identity, err := v.lookup(lookupCtx, identifier)
	cancel()
	if err != nil {
		return nil, model.NewAccessError(model.ReasonStoreUnreachable, err)
	}
	if identity == nil || !passwordMatches(identity.CredentialHash, password) {
		return nil, model.NewAccessError(model.ReasonInvalidCredentials, nil)
	}

	return &model.Identity{
		ID:       identity.ID,
		Email:    strings.ToLower(identity.Email),
		Username: identity.Username,
	}, nil
}

func (v *Verifier) lookup(ctx context.Context, identifier string) (*model.Identity, error) {
	if strings.Contains(identifier, "@") {
		identity, err := v.identities.FindByEmail(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("failed to find identity by email: %w", err)
		}
		return identity, nil
	}

	identity, err := v.identities.FindByUsername(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by username: %w", err)
	}
	if identity != nil {
		return identity, nil
	}

	// ユーザー名として入力されてもメールカラムにだけ存在する場合がある
	identity, err = v.identities.FindByEmail(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by email: %w", err)
	}
	return identity, nil
}

// passwordMatches はbcryptで比較し、保存値がbcryptハッシュでない場合だけ平文として比較する。
// 比較時のエラーはすべて不一致として扱う。
func passwordMatches(stored, password string) bool {
	if stored == "" {
		return false
	}

	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	if err == nil {
		return true
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return false
	}

	slog.Debug("stored credential is not a bcrypt hash, comparing as legacy plaintext")
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}
