package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, entitlement, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Username/email and password are required.",
	}
}

// NewReasonError は理由コードに対応するクライアント向けエラーを生成する。
// 内部理由（store_unreachable, config_error）は汎用の error に丸める。
func NewReasonError(reason Reason) *APIError {
	reason = reason.Public()
	e := &APIError{Code: string(reason)}

	switch reason {
	case ReasonInvalidCredentials:
		// 識別子とパスワードのどちらが誤っているかは明かさない
		e.Message = "Invalid email or password"
		e.Category = "auth"
		e.Action = "Check your username/email and password and try again."
	case ReasonUserNotFound:
		e.Message = "User not found"
		e.Category = "auth"
		e.Action = "Sign in again."
	case ReasonNoPayments:
		e.Message = "No subscription payment was found for this account."
		e.Category = "entitlement"
		e.Action = "Purchase a 3-month or 6-month plan to use the assistant."
	case ReasonUnsupportedPlan:
		e.Message = "Your current plan does not include access."
		e.Category = "entitlement"
		e.Action = "Access requires a 3-month or 6-month plan."
	case ReasonExpired:
		e.Message = "Your subscription has expired."
		e.Category = "entitlement"
		e.Action = "Please renew your subscription to continue."
	case ReasonSessionInvalid, ReasonTokenMalformed, ReasonTokenExpired:
		e.Message = "Your session is no longer valid."
		e.Category = "auth"
		e.Action = "Sign in again."
	default:
		e.Code = string(ReasonError)
		e.Message = "An internal error occurred."
		e.Category = "system"
		e.Action = "Please wait a moment and try again."
	}

	return e
}
