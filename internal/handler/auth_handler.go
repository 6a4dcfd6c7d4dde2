// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/chatgate/internal/auth"
	"github.com/hitoshi/chatgate/internal/metrics"
	"github.com/hitoshi/chatgate/internal/middleware"
	"github.com/hitoshi/chatgate/internal/model"
)

// maxLoginBodyBytes はログインリクエストボディの上限。
const maxLoginBodyBytes = 64 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// auth.Service が実装する。
type AuthServiceInterface interface {
	Login(ctx context.Context, identifier, password string) (*auth.LoginResult, error)
	VerifySession(ctx context.Context, token string) (*auth.Principal, bool)
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, identityID string) (int64, error)
}

// AuthHandler はログイン・トークン検証・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	validate *validator.Validate
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewAuthHandler(service AuthServiceInterface, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AuthHandler{
		service:  service,
		validate: newValidator(),
		metrics:  collector,
		now:      time.Now,
	}
}

// loginRequest はログインリクエストのボディ。
// identifier の代わりに email または username でも受け付ける。
type loginRequest struct {
	Identifier string `json:"identifier" validate:"required_without_all=Email Username,max=320"`
	Email      string `json:"email" validate:"max=320"`
	Username   string `json:"username" validate:"max=320"`
	Password   string `json:"password" validate:"required,max=1024"`
}

// identifier はリクエストで指定された識別子を返す。
func (req *loginRequest) identifier() string {
	for _, v := range []string{req.Identifier, req.Email, req.Username} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	Success     bool                     `json:"success"`
	Token       string                   `json:"token"`
	User        model.IdentitySummary    `json:"user"`
	Entitlement model.EntitlementSummary `json:"entitlement"`
}

// verifyResponse はトークン検証のレスポンス。無効な場合は valid のみ返す。
type verifyResponse struct {
	Valid       bool                      `json:"valid"`
	User        *model.IdentitySummary    `json:"user,omitempty"`
	Entitlement *model.EntitlementSummary `json:"entitlement,omitempty"`
}

// Login は識別子とパスワードで認証し、セッショントークンを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	var req loginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.RecordLogin("invalid_request")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("request body must be JSON"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.metrics.RecordLogin("invalid_request")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(validationMessage(err)))
		return
	}

	result, err := h.service.Login(r.Context(), req.identifier(), req.Password)
	h.metrics.RecordLoginLatency(h.now().Sub(start))
	if err != nil {
		reason := model.ReasonOf(err)
		h.metrics.RecordLogin(string(reason))
		if isEntitlementReason(reason) {
			h.metrics.RecordAccessDecision(string(reason))
		}
		if reason.IsInternal() {
			slog.Error("login failed",
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteReasonError(w, reason)
		return
	}

	h.metrics.RecordLogin(string(model.ReasonOK))
	h.metrics.RecordAccessDecision(string(result.Entitlement.Reason))
	h.metrics.RecordSessionsInvalidated(result.Invalidated)

	slog.Info("login succeeded",
		slog.String("identity_id", result.Identity.ID),
		slog.Int("plan_months", result.Entitlement.PlanMonths),
		slog.Int64("sessions_invalidated", result.Invalidated),
	)

	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		Token:       result.Token,
		User:        result.Identity,
		Entitlement: result.Entitlement.Summary(),
	})
}

// Verify はBearerトークンを検証する。
// 無効なトークンでもエラーステータスは返さず、200で {"valid": false} を返す。
// GET /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false})
		return
	}

	principal, ok := h.service.VerifySession(r.Context(), token)
	if !ok {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false})
		return
	}

	resp := verifyResponse{
		Valid: true,
		User:  &principal.Identity,
	}
	if principal.Entitlement != nil {
		summary := principal.Entitlement.Summary()
		resp.Entitlement = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout は現在のセッションを削除する。
// セッションが既に存在しない場合も成功として扱う。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		slog.Error("logout failed",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteReasonError(w, model.ReasonOf(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// LogoutAll は呼び出し元identityのすべてのセッションを無効化する。
// 認証ミドルウェアの後に配置する。
// POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteReasonError(w, model.ReasonSessionInvalid)
		return
	}

	n, err := h.service.LogoutAll(r.Context(), identityID)
	if err != nil {
		slog.Error("logout-all failed",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
		middleware.WriteReasonError(w, model.ReasonOf(err))
		return
	}
	h.metrics.RecordSessionsInvalidated(n)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"invalidated": n,
	})
}

// newValidator はJSONフィールド名でエラーを報告するvalidatorを生成する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}

// jsonFieldName はエラーメッセージに使うJSONフィールド名を返す。
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// validationMessage はvalidatorのエラーをクライアント向けの短い文にする。
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_without_all":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}

func isEntitlementReason(r model.Reason) bool {
	switch r {
	case model.ReasonNoPayments, model.ReasonUnsupportedPlan, model.ReasonExpired:
		return true
	}
	return false
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
