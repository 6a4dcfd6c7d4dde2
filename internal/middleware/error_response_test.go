package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/chatgate/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	apiErr := &model.APIError{
		Code:     "TEST_ERROR",
		Message:  "test message",
		Category: "validation",
		Action:   "fix the input",
	}

	WriteErrorResponse(w, http.StatusBadRequest, apiErr)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Success {
		t.Error("success should be false")
	}
	if body.Code != "TEST_ERROR" || body.Message != "test message" || body.Category != "validation" || body.Action != "fix the input" {
		t.Errorf("body = %+v", body)
	}
}

// TestStatusForReason は理由コードとHTTPステータスの対応を検証する。
func TestStatusForReason(t *testing.T) {
	tests := []struct {
		reason model.Reason
		want   int
	}{
		{model.ReasonInvalidCredentials, http.StatusUnauthorized},
		{model.ReasonSessionInvalid, http.StatusUnauthorized},
		{model.ReasonTokenMalformed, http.StatusUnauthorized},
		{model.ReasonTokenExpired, http.StatusUnauthorized},
		{model.ReasonUserNotFound, http.StatusForbidden},
		{model.ReasonNoPayments, http.StatusForbidden},
		{model.ReasonUnsupportedPlan, http.StatusForbidden},
		{model.ReasonExpired, http.StatusForbidden},
		{model.ReasonError, http.StatusInternalServerError},
		{model.ReasonConfigError, http.StatusInternalServerError},
		{model.ReasonStoreUnreachable, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := StatusForReason(tt.reason); got != tt.want {
				t.Errorf("StatusForReason(%q) = %d, want %d", tt.reason, got, tt.want)
			}
		})
	}
}

// TestWriteReasonError_MasksInternalReasons は内部理由がクライアントに漏れないことを検証する。
func TestWriteReasonError_MasksInternalReasons(t *testing.T) {
	for _, reason := range []model.Reason{model.ReasonConfigError, model.ReasonStoreUnreachable, model.ReasonError} {
		w := httptest.NewRecorder()
		WriteReasonError(w, reason)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want %d", reason, w.Code, http.StatusInternalServerError)
		}
		raw := w.Body.String()
		if strings.Contains(raw, "config_error") || strings.Contains(raw, "store_unreachable") {
			t.Errorf("%s: body leaks internal reason: %s", reason, raw)
		}

		var body ErrorResponseBody
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			t.Fatalf("failed to decode response body: %v", err)
		}
		if body.Code != "error" || body.Category != "system" {
			t.Errorf("%s: body = %+v", reason, body)
		}
	}
}

// TestWriteReasonError_EntitlementReasonsKeepCode はエンタイトルメント拒否の理由がそのまま返ることを検証する。
func TestWriteReasonError_EntitlementReasonsKeepCode(t *testing.T) {
	w := httptest.NewRecorder()
	WriteReasonError(w, model.ReasonExpired)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != "expired" || body.Category != "entitlement" {
		t.Errorf("body = %+v", body)
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestErrorResponseBody_AllFieldsPresent はJSONに全フィールドが含まれることを検証する。
func TestErrorResponseBody_AllFieldsPresent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	var raw map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	for _, field := range []string{"success", "code", "message", "category", "action"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing field %q in response body", field)
		}
	}
}
