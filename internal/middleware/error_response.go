package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/chatgate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Success  bool   `json:"success"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Success:  false,
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteReasonError(w, model.ReasonError)
}

// WriteReasonError は理由コードに対応するステータスとエラーボディを書き込む。
// 内部理由は汎用の error として返す。
func WriteReasonError(w http.ResponseWriter, reason model.Reason) {
	WriteErrorResponse(w, StatusForReason(reason), model.NewReasonError(reason))
}

// StatusForReason は理由コードに対応するHTTPステータスを返す。
func StatusForReason(reason model.Reason) int {
	switch reason {
	case model.ReasonInvalidCredentials,
		model.ReasonSessionInvalid,
		model.ReasonTokenMalformed,
		model.ReasonTokenExpired:
		return http.StatusUnauthorized
	case model.ReasonUserNotFound,
		model.ReasonNoPayments,
		model.ReasonUnsupportedPlan,
		model.ReasonExpired:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
