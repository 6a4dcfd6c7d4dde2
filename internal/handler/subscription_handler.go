package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/chatgate/internal/middleware"
	"github.com/hitoshi/chatgate/internal/model"
	"github.com/hitoshi/chatgate/internal/security"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
// entitlement.Resolver が実装する。
type SubscriptionServiceInterface interface {
	// Resolve は現在のエンタイトルメントを判定する。
	Resolve(ctx context.Context, identityID string) model.AccessDecision
	// History は全ソースの支払いレコードを新しい順に返す。
	History(ctx context.Context, identityID string) ([]model.PaymentRecord, error)
}

// SubscriptionHandler は購読情報のHTTPハンドラー。
// セッション認証のみを要求し、エンタイトルメントでは制限しない。
type SubscriptionHandler struct {
	service   SubscriptionServiceInterface
	sanitizer security.LabelSanitizer
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface, sanitizer security.LabelSanitizer) *SubscriptionHandler {
	return &SubscriptionHandler{
		service:   service,
		sanitizer: sanitizer,
	}
}

// paymentRecordResponse は支払いレコードのAPIレスポンス。
type paymentRecordResponse struct {
	PlanLabel string     `json:"planLabel"`
	Amount    *float64   `json:"amount"`
	Status    string     `json:"status"`
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
	CreatedAt time.Time  `json:"createdAt"`
	Source    string     `json:"source"`

	TransactionID string `json:"transactionId,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// subscriptionResponse は現在の購読状態のAPIレスポンス。
type subscriptionResponse struct {
	Active     bool                   `json:"active"`
	Reason     model.Reason           `json:"reason"`
	PlanMonths int                    `json:"planMonths"`
	ValidFrom  *time.Time             `json:"validFrom,omitempty"`
	ValidUntil *time.Time             `json:"validUntil,omitempty"`
	Record     *paymentRecordResponse `json:"record,omitempty"`
}

// Current は現在の購読状態と、その根拠となったレコードを返す。
// 支払いがない・期限切れなどの拒否理由も200で返す。
// GET /api/subscriptions/current
func (h *SubscriptionHandler) Current(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteReasonError(w, model.ReasonSessionInvalid)
		return
	}

	decision := h.service.Resolve(r.Context(), identityID)
	switch {
	case decision.Reason.IsInternal():
		slog.Error("failed to resolve subscription",
			slog.String("identity_id", identityID),
			slog.String("reason", string(decision.Reason)),
		)
		middleware.WriteReasonError(w, decision.Reason)
		return
	case decision.Reason == model.ReasonUserNotFound:
		middleware.WriteReasonError(w, decision.Reason)
		return
	}

	resp := subscriptionResponse{
		Active:     decision.Allowed,
		Reason:     decision.Reason,
		PlanMonths: decision.PlanMonths,
	}
	if !decision.ValidFrom.IsZero() {
		resp.ValidFrom = &decision.ValidFrom
	}
	if !decision.ValidUntil.IsZero() {
		resp.ValidUntil = &decision.ValidUntil
	}
	if decision.Record != nil {
		rec := h.toRecordResponse(*decision.Record)
		resp.Record = &rec
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"subscription": resp,
	})
}

// PaymentHistory は全ソースの支払い履歴を新しい順に返す。
// ソースの読み取りに失敗した場合は空の履歴ではなくエラーを返す。
// GET /api/subscriptions/payment-history
func (h *SubscriptionHandler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	identityID, err := middleware.IdentityIDFromContext(r.Context())
	if err != nil {
		middleware.WriteReasonError(w, model.ReasonSessionInvalid)
		return
	}

	records, err := h.service.History(r.Context(), identityID)
	if err != nil {
		reason := model.ReasonOf(err)
		if reason.IsInternal() {
			slog.Error("failed to load payment history",
				slog.String("identity_id", identityID),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteReasonError(w, reason)
		return
	}

	history := make([]paymentRecordResponse, 0, len(records))
	for _, rec := range records {
		history = append(history, h.toRecordResponse(rec))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"paymentHistory": history,
	})
}

// toRecordResponse はレコードをレスポンス形式に変換する。プランラベルはサニタイズする。
func (h *SubscriptionHandler) toRecordResponse(rec model.PaymentRecord) paymentRecordResponse {
	return paymentRecordResponse{
		PlanLabel: h.sanitizer.Sanitize(rec.PlanLabel),
		Amount:    rec.Amount,
		Status:    rec.Status,
		StartDate: rec.StartDate,
		EndDate:   rec.EndDate,
		CreatedAt: rec.CreatedAt,
		Source:    string(rec.Source),

		TransactionID: h.sanitizer.Sanitize(rec.TransactionID),
		PaymentMethod: h.sanitizer.Sanitize(rec.PaymentMethod),
	}
}
