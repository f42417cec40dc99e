package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a structured provider API failure.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("provider: %s (http %d)", e.Message, e.StatusCode)
}

// IsTransient reports whether the error is worth retrying: provider 5xx,
// rate limiting, or a transport-level failure that never produced a status.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 500 || ae.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Timeouts and connection resets surface as plain wrapped errors.
	return true
}

// IsOversizedPage reports whether the provider rejected the request because
// the page size was too large; the orchestrator retries with a smaller page.
func IsOversizedPage(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.StatusCode == http.StatusRequestEntityTooLarge ||
		ae.Code == "max_limit_exceeded" ||
		ae.Code == "page_too_large"
}

// IsAuthError reports an account-level failure (auth revoked, account
// disabled). These abort the whole sync run for the account.
func IsAuthError(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.StatusCode == http.StatusUnauthorized ||
		ae.StatusCode == http.StatusForbidden ||
		ae.Code == "account_disabled"
}
