package handler

import (
	"net/http"

	"github.com/hitoshi/chatgate/internal/middleware"
	"github.com/hitoshi/chatgate/internal/model"
)

// accessResponse はアクセスゲート通過時のレスポンス。
type accessResponse struct {
	Allowed     bool                     `json:"allowed"`
	User        model.IdentitySummary    `json:"user"`
	Entitlement model.EntitlementSummary `json:"entitlement"`
}

// Access はエンタイトルメント付きの認証を通過したリクエストに主体の情報を返す。
// チャット機能の前段で呼ばれるゲートの確認用エンドポイント。
// GET /api/access
func Access(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.Entitlement == nil {
		middleware.WriteReasonError(w, model.ReasonSessionInvalid)
		return
	}

	writeJSON(w, http.StatusOK, accessResponse{
		Allowed:     principal.Entitlement.Allowed,
		User:        principal.Identity,
		Entitlement: principal.Entitlement.Summary(),
	})
}
