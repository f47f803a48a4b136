// Package gateway is the HTTP client for the cinema backend's payment
// endpoints. The backend is an external collaborator; this package only
// consumes its JSON contract.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"cinema-checkout/models"
)

// CreateIntentRequest is the body of POST /payment-intents.
type CreateIntentRequest struct {
	TicketID string           `json:"ticketId"`
	Method   string           `json:"method"`
	Note     string           `json:"note,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

// ConfirmRequest is the body of POST /payment-confirmations. IntentID may
// be empty; the server falls back to the latest pending intent of the
// ticket.
type ConfirmRequest struct {
	IntentID string `json:"intentId,omitempty"`
	TicketID string `json:"ticketId,omitempty"`
}

// ConfirmResult is what a successful confirmation returns.
type ConfirmResult struct {
	Amount     decimal.Decimal `json:"amount"`
	Membership json.RawMessage `json:"membership,omitempty"`
}

// Gateway is the backend contract consumed by the payment controller.
type Gateway interface {
	// CreateIntent creates a payment intent. HTTP 429 is retried a bounded
	// number of times before status.ErrRateLimited surfaces.
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*models.PaymentIntent, error)

	// ConfirmPayment asks whether the intent/ticket has been marked paid.
	// Returns status.ErrConfirmPending while the server has not recorded
	// the payment. Idempotent on the server side.
	ConfirmPayment(ctx context.Context, req *ConfirmRequest) (*ConfirmResult, error)

	// GetPaymentSettings fetches the bank configuration, cinema-scoped when
	// cinemaID is non-empty, else global.
	GetPaymentSettings(ctx context.Context, cinemaID string) (*models.PaymentSettings, error)
}

type Config struct {
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	AuthToken string `json:"auth_token" mapstructure:"auth_token"`

	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// RetryMax and RetryDelay bound the automatic 429 retry on intent
	// creation and settings lookups. No other status gets retried.
	RetryMax   int           `json:"retry_max" mapstructure:"retry_max"`
	RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
}

// New creates the HTTP gateway client.
func New(cfg *Config) Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 1500 * time.Millisecond
	}
	return &client{
		baseURL:    cfg.BaseURL,
		authToken:  cfg.AuthToken,
		retryMax:   cfg.RetryMax,
		retryDelay: retryDelay,

		hc: &http.Client{
			Timeout: timeout,
		},
	}
}
