package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/chatgate/internal/entitlement"
	"github.com/hitoshi/chatgate/internal/middleware"
	"github.com/hitoshi/chatgate/internal/model"
	"github.com/hitoshi/chatgate/internal/security"
)

type mockSubscriptionService struct {
	resolveFn func(ctx context.Context, identityID string) model.AccessDecision
	historyFn func(ctx context.Context, identityID string) ([]model.PaymentRecord, error)
}

func (m *mockSubscriptionService) Resolve(ctx context.Context, identityID string) model.AccessDecision {
	return m.resolveFn(ctx, identityID)
}

func (m *mockSubscriptionService) History(ctx context.Context, identityID string) ([]model.PaymentRecord, error) {
	return m.historyFn(ctx, identityID)
}

// --- compile-time interface checks ---
var (
	_ SubscriptionServiceInterface = (*entitlement.Resolver)(nil)
	_ SubscriptionServiceInterface = (*mockSubscriptionService)(nil)
)

func authedRequest(method, path, identityID string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	return req.WithContext(middleware.ContextWithIdentityID(req.Context(), identityID))
}

func TestSubscriptionCurrent_Active(t *testing.T) {
	amount := 7999.0
	var gotID string
	svc := &mockSubscriptionService{
		resolveFn: func(ctx context.Context, identityID string) model.AccessDecision {
			gotID = identityID
			d := testAllowedDecision()
			d.Record = &model.PaymentRecord{
				PlanLabel: "<b>Quarterly</b>  plan",
				Amount:    &amount,
				Status:    "success",
				StartDate: &testValidFrom,
				CreatedAt: testValidFrom,
				Source:    model.SourcePayments,
			}
			return d
		},
	}
	h := NewSubscriptionHandler(svc, security.NewLabelSanitizer())

	w := httptest.NewRecorder()
	h.Current(w, authedRequest(http.MethodGet, "/api/subscriptions/current", "42"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != "42" {
		t.Errorf("identity ID = %q, want %q", gotID, "42")
	}

	var resp struct {
		Success      bool                 `json:"success"`
		Subscription subscriptionResponse `json:"subscription"`
	}
	decodeBody(t, w, &resp)
	sub := resp.Subscription
	if !resp.Success || !sub.Active || sub.Reason != model.ReasonOK || sub.PlanMonths != 3 {
		t.Errorf("subscription = %+v", sub)
	}
	if sub.ValidUntil == nil || !sub.ValidUntil.Equal(testValidUntil) {
		t.Errorf("validUntil = %v, want %v", sub.ValidUntil, testValidUntil)
	}
	if sub.Record == nil {
		t.Fatal("expected record")
	}
	if sub.Record.PlanLabel != "Quarterly plan" {
		t.Errorf("planLabel = %q, want %q", sub.Record.PlanLabel, "Quarterly plan")
	}
	if sub.Record.Source != "payments" || sub.Record.Amount == nil || *sub.Record.Amount != 7999 {
		t.Errorf("record = %+v", sub.Record)
	}
}

func TestSubscriptionCurrent_DeniedReasonsAreReported(t *testing.T) {
	for _, reason := range []model.Reason{model.ReasonNoPayments, model.ReasonUnsupportedPlan, model.ReasonExpired} {
		t.Run(string(reason), func(t *testing.T) {
			svc := &mockSubscriptionService{
				resolveFn: func(ctx context.Context, identityID string) model.AccessDecision {
					return model.Deny(reason)
				},
			}
			w := httptest.NewRecorder()
			NewSubscriptionHandler(svc, security.NewLabelSanitizer()).
				Current(w, authedRequest(http.MethodGet, "/api/subscriptions/current", "42"))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			var resp struct {
				Subscription subscriptionResponse `json:"subscription"`
			}
			decodeBody(t, w, &resp)
			if resp.Subscription.Active || resp.Subscription.Reason != reason {
				t.Errorf("subscription = %+v", resp.Subscription)
			}
			if resp.Subscription.Record != nil || resp.Subscription.ValidUntil != nil {
				t.Errorf("denied subscription without record should omit dates: %+v", resp.Subscription)
			}
		})
	}
}

func TestSubscriptionCurrent_Errors(t *testing.T) {
	tests := []struct {
		name       string
		reason     model.Reason
		wantStatus int
	}{
		{"user not found", model.ReasonUserNotFound, http.StatusForbidden},
		{"store error", model.ReasonError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockSubscriptionService{
				resolveFn: func(ctx context.Context, identityID string) model.AccessDecision {
					return model.Deny(tt.reason)
				},
			}
			w := httptest.NewRecorder()
			NewSubscriptionHandler(svc, security.NewLabelSanitizer()).
				Current(w, authedRequest(http.MethodGet, "/api/subscriptions/current", "42"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestSubscriptionCurrent_Unauthenticated(t *testing.T) {
	w := httptest.NewRecorder()
	NewSubscriptionHandler(&mockSubscriptionService{}, security.NewLabelSanitizer()).
		Current(w, httptest.NewRequest(http.MethodGet, "/api/subscriptions/current", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestPaymentHistory(t *testing.T) {
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &mockSubscriptionService{
		historyFn: func(ctx context.Context, identityID string) ([]model.PaymentRecord, error) {
			return []model.PaymentRecord{
				{PlanLabel: "6 months", Status: "failed", CreatedAt: feb, Source: model.SourceSubscriptions},
				{
					PlanLabel:     "<script>x</script>3 months",
					Status:        "success",
					CreatedAt:     jan,
					Source:        model.SourcePayments,
					TransactionID: "pay_Mx12",
					PaymentMethod: "upi",
				},
			}, nil
		},
	}

	w := httptest.NewRecorder()
	NewSubscriptionHandler(svc, security.NewLabelSanitizer()).
		PaymentHistory(w, authedRequest(http.MethodGet, "/api/subscriptions/payment-history", "42"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Success        bool                    `json:"success"`
		PaymentHistory []paymentRecordResponse `json:"paymentHistory"`
	}
	decodeBody(t, w, &resp)
	if len(resp.PaymentHistory) != 2 {
		t.Fatalf("len(paymentHistory) = %d, want 2", len(resp.PaymentHistory))
	}
	if resp.PaymentHistory[0].Status != "failed" || resp.PaymentHistory[0].Source != "subscriptions" {
		t.Errorf("first = %+v", resp.PaymentHistory[0])
	}
	if resp.PaymentHistory[1].PlanLabel != "3 months" {
		t.Errorf("sanitized label = %q, want %q", resp.PaymentHistory[1].PlanLabel, "3 months")
	}
	// 取引IDと支払い方法は履歴にそのまま載る
	if resp.PaymentHistory[1].TransactionID != "pay_Mx12" || resp.PaymentHistory[1].PaymentMethod != "upi" {
		t.Errorf("transaction fields = %q, %q", resp.PaymentHistory[1].TransactionID, resp.PaymentHistory[1].PaymentMethod)
	}
	if resp.PaymentHistory[0].TransactionID != "" {
		t.Errorf("empty transactionId should be omitted, got %q", resp.PaymentHistory[0].TransactionID)
	}
}

func TestPaymentHistory_EmptyIsArray(t *testing.T) {
	svc := &mockSubscriptionService{
		historyFn: func(ctx context.Context, identityID string) ([]model.PaymentRecord, error) {
			return nil, nil
		},
	}

	w := httptest.NewRecorder()
	NewSubscriptionHandler(svc, security.NewLabelSanitizer()).
		PaymentHistory(w, authedRequest(http.MethodGet, "/api/subscriptions/payment-history", "42"))

	var raw map[string]interface{}
	decodeBody(t, w, &raw)
	if history, ok := raw["paymentHistory"].([]interface{}); !ok || len(history) != 0 {
		t.Errorf("paymentHistory = %v, want []", raw["paymentHistory"])
	}
}

func TestPaymentHistory_SourceErrorIsNotEmpty(t *testing.T) {
	svc := &mockSubscriptionService{
		historyFn: func(ctx context.Context, identityID string) ([]model.PaymentRecord, error) {
			return nil, model.NewAccessError(model.ReasonStoreUnreachable, errors.New("timeout"))
		},
	}

	w := httptest.NewRecorder()
	NewSubscriptionHandler(svc, security.NewLabelSanitizer()).
		PaymentHistory(w, authedRequest(http.MethodGet, "/api/subscriptions/payment-history", "42"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	if body.Code != "error" {
		t.Errorf("code = %q, want %q", body.Code, "error")
	}
}
