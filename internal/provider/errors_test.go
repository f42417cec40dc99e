package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
		oversized bool
		auth      bool
	}{
		{"server error", &APIError{StatusCode: 503, Message: "unavailable"}, true, false, false},
		{"rate limited", &APIError{StatusCode: 429, Message: "slow down"}, true, false, false},
		{"oversized by status", &APIError{StatusCode: 413, Message: "too large"}, false, true, false},
		{"oversized by code", &APIError{StatusCode: 400, Code: "max_limit_exceeded", Message: "limit"}, false, true, false},
		{"auth revoked", &APIError{StatusCode: 401, Message: "revoked"}, false, false, true},
		{"account disabled", &APIError{StatusCode: 400, Code: "account_disabled", Message: "off"}, false, false, true},
		{"plain bad request", &APIError{StatusCode: 400, Message: "bad"}, false, false, false},
		{"transport", fmt.Errorf("provider request: %w", errors.New("connection reset")), true, false, false},
		{"cancellation", context.Canceled, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.transient {
				t.Errorf("IsTransient = %v, want %v", got, tc.transient)
			}
			if got := IsOversizedPage(tc.err); got != tc.oversized {
				t.Errorf("IsOversizedPage = %v, want %v", got, tc.oversized)
			}
			if got := IsAuthError(tc.err); got != tc.auth {
				t.Errorf("IsAuthError = %v, want %v", got, tc.auth)
			}
		})
	}
}

func TestWrappedAPIError(t *testing.T) {
	err := fmt.Errorf("list messages: %w", &APIError{StatusCode: 413, Message: "too large"})
	if !IsOversizedPage(err) {
		t.Error("wrapped APIError should still classify")
	}
}
