package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestReason_Public_CollapsesInternalReasons(t *testing.T) {
	tests := []struct {
		in   Reason
		want Reason
	}{
		{ReasonStoreUnreachable, ReasonError},
		{ReasonConfigError, ReasonError},
		{ReasonError, ReasonError},
		{ReasonExpired, ReasonExpired},
		{ReasonNoPayments, ReasonNoPayments},
		{ReasonInvalidCredentials, ReasonInvalidCredentials},
	}
	for _, tt := range tests {
		if got := tt.in.Public(); got != tt.want {
			t.Errorf("%s.Public() = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestReasonOf_UnwrapsAccessError(t *testing.T) {
	base := NewAccessError(ReasonExpired, errors.New("ended"))
	wrapped := fmt.Errorf("login: %w", base)

	if got := ReasonOf(wrapped); got != ReasonExpired {
		t.Errorf("ReasonOf() = %s, want %s", got, ReasonExpired)
	}
	if got := ReasonOf(errors.New("boom")); got != ReasonError {
		t.Errorf("ReasonOf(plain) = %s, want %s", got, ReasonError)
	}
	if got := ReasonOf(nil); got != ReasonOK {
		t.Errorf("ReasonOf(nil) = %s, want %s", got, ReasonOK)
	}
}

func TestNewReasonError_DoesNotLeakInternalReason(t *testing.T) {
	e := NewReasonError(ReasonStoreUnreachable)
	if e.Code != "error" {
		t.Errorf("Code = %q, want %q", e.Code, "error")
	}
	if e.Category != "system" {
		t.Errorf("Category = %q, want system", e.Category)
	}
}

func TestNewReasonError_EntitlementReasonsAreSpecific(t *testing.T) {
	for _, r := range []Reason{ReasonNoPayments, ReasonUnsupportedPlan, ReasonExpired} {
		e := NewReasonError(r)
		if e.Code != string(r) {
			t.Errorf("Code = %q, want %q", e.Code, r)
		}
		if e.Category != "entitlement" {
			t.Errorf("%s: Category = %q, want entitlement", r, e.Category)
		}
	}
}

func TestPaymentRecord_HasAmount(t *testing.T) {
	zero := 0.0
	some := 7999.0
	if (&PaymentRecord{}).HasAmount() {
		t.Error("nil amount should not count as present")
	}
	if (&PaymentRecord{Amount: &zero}).HasAmount() {
		t.Error("zero amount should not count as present")
	}
	if !(&PaymentRecord{Amount: &some}).HasAmount() {
		t.Error("7999 should count as present")
	}
}
