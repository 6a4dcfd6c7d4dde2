package model

import (
	"errors"
	"time"
)

// Reason はアクセス判定および認証失敗の理由を表す。
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonUserNotFound       Reason = "user_not_found"
	ReasonNoPayments         Reason = "no_payments"
	ReasonUnsupportedPlan    Reason = "unsupported_plan"
	ReasonExpired            Reason = "expired"
	ReasonError              Reason = "error"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonSessionInvalid     Reason = "session_invalid"
	ReasonTokenMalformed     Reason = "token_malformed"
	ReasonTokenExpired       Reason = "token_expired"
	ReasonConfigError        Reason = "config_error"
	ReasonStoreUnreachable   Reason = "store_unreachable"
)

// IsInternal はクライアントに詳細を返してはならない理由かどうかを返す。
// 内部理由はクライアントには汎用の "error" として見せる。
func (r Reason) IsInternal() bool {
	switch r {
	case ReasonError, ReasonConfigError, ReasonStoreUnreachable:
		return true
	}
	return false
}

// Public はクライアントに返してよい形の理由を返す。
func (r Reason) Public() Reason {
	if r.IsInternal() {
		return ReasonError
	}
	return r
}

// AccessDecision はエンタイトルメント判定の結果。
// 最新の支払いレコードから毎回計算し、永続化しない。
type AccessDecision struct {
	Allowed    bool
	Reason     Reason
	PlanMonths int // 3, 6 または 0
	ValidFrom  time.Time
	ValidUntil time.Time

	// Record は判定の根拠となったレコード。見つからなかった場合はnil。
	Record *PaymentRecord
}

// Deny は理由付きの拒否判定を生成する。
func Deny(reason Reason) AccessDecision {
	return AccessDecision{Allowed: false, Reason: reason}
}

// EntitlementSummary はクライアント向けのエンタイトルメント情報。
type EntitlementSummary struct {
	PlanMonths int       `json:"planMonths"`
	ValidFrom  time.Time `json:"validFrom"`
	ValidUntil time.Time `json:"validUntil"`
}

// Summary はクライアント向けのエンタイトルメント情報を返す。
func (d AccessDecision) Summary() EntitlementSummary {
	return EntitlementSummary{
		PlanMonths: d.PlanMonths,
		ValidFrom:  d.ValidFrom,
		ValidUntil: d.ValidUntil,
	}
}

// AccessError はアクセスゲートが返す型付きエラー。
type AccessError struct {
	Reason Reason
	Err    error
}

// NewAccessError はAccessErrorを生成する。
func NewAccessError(reason Reason, err error) *AccessError {
	return &AccessError{Reason: reason, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *AccessError) Error() string {
	if e.Err != nil {
		return string(e.Reason) + ": " + e.Err.Error()
	}
	return string(e.Reason)
}

// Unwrap は内包するエラーを返す。
func (e *AccessError) Unwrap() error {
	return e.Err
}

// ReasonOf はエラーから理由を取り出す。AccessError以外は ReasonError になる。
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonOK
	}
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ReasonError
}
