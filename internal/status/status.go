package status

import (
	"errors"
	"fmt"
)

var (
	// ErrConfirmPending is returned by the gateway when the server has not
	// recorded the payment yet (success=false on the confirmation endpoint).
	ErrConfirmPending = errors.New("payment: confirmation pending")

	// ErrRateLimited is returned once the bounded 429 retry budget is spent.
	ErrRateLimited = errors.New("payment: rate limited")

	ErrIntentExpired     = errors.New("payment: intent expired")
	ErrAttemptActive     = errors.New("payment: confirmation attempt already active")
	ErrBankNotConfigured = errors.New("payment: bank account not configured")
	ErrKeyNotFound       = errors.New("store: key not found")
	ErrNoSession         = errors.New("store: no session")
)

// APIError carries the HTTP status and the server-reported message so the
// UI layer can surface the detail when one exists.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// Detail returns the server-provided message, or "" when the server sent none.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}
