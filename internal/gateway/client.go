package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cinema-checkout/internal/status"
	"cinema-checkout/models"
	"cinema-checkout/monitoring"
)

var _ Gateway = (*client)(nil)

type client struct {
	baseURL   string
	authToken string

	retryMax   int
	retryDelay time.Duration

	// hc is the http client.
	hc *http.Client
}

// envelope is the backend's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *client) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*models.PaymentIntent, error) {
	started := time.Now()
	defer func() { monitoring.ObserveRequest("create_intent", time.Since(started)) }()

	var intent models.PaymentIntent
	err := c.postWithRetry(ctx, "/payment-intents", req, &intent)
	if err != nil {
		if errors.Is(err, status.ErrRateLimited) {
			monitoring.TrackIntentRequest("rate_limited")
		} else {
			monitoring.TrackIntentRequest("error")
		}
		return nil, fmt.Errorf("createIntent: %w", err)
	}

	monitoring.TrackIntentRequest("ok")
	return &intent, nil
}

func (c *client) ConfirmPayment(ctx context.Context, req *ConfirmRequest) (*ConfirmResult, error) {
	started := time.Now()
	defer func() { monitoring.ObserveRequest("confirm", time.Since(started)) }()

	env, err := c.do(ctx, http.MethodPost, "/payment-confirmations", nil, req)
	if err != nil {
		monitoring.TrackConfirmPoll("error")
		return nil, fmt.Errorf("confirmPayment: %w", err)
	}
	if !env.Success {
		// Not an error condition: the server simply has not seen the
		// payment yet. The poll loop keeps going.
		monitoring.TrackConfirmPoll("pending")
		return nil, status.ErrConfirmPending
	}

	var result ConfirmResult
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &result); err != nil {
			monitoring.TrackConfirmPoll("error")
			return nil, fmt.Errorf("confirmPayment: json.Unmarshal: %w", err)
		}
	}

	monitoring.TrackConfirmPoll("success")
	return &result, nil
}

func (c *client) GetPaymentSettings(ctx context.Context, cinemaID string) (*models.PaymentSettings, error) {
	started := time.Now()
	defer func() { monitoring.ObserveRequest("settings", time.Since(started)) }()

	path := "/payment-settings"
	if cinemaID != "" {
		path += "?" + url.Values{"cinemaId": []string{cinemaID}}.Encode()
	}

	var settings models.PaymentSettings
	if err := c.getWithRetry(ctx, path, &settings); err != nil {
		return nil, fmt.Errorf("getPaymentSettings: %w", err)
	}
	return &settings, nil
}

// postWithRetry runs a POST, retrying only on HTTP 429 with a fixed delay
// up to retryMax extra attempts.
func (c *client) postWithRetry(ctx context.Context, path string, body, out any) error {
	for attempt := 0; ; attempt++ {
		env, err := c.do(ctx, http.MethodPost, path, nil, body)
		if apiErr, ok := asAPIError(err); ok && apiErr.StatusCode == http.StatusTooManyRequests {
			if attempt >= c.retryMax {
				return status.ErrRateLimited
			}
			if err := c.sleep(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		return decodeData(env, out)
	}
}

func (c *client) getWithRetry(ctx context.Context, path string, out any) error {
	for attempt := 0; ; attempt++ {
		env, err := c.do(ctx, http.MethodGet, path, nil, nil)
		if apiErr, ok := asAPIError(err); ok && apiErr.StatusCode == http.StatusTooManyRequests {
			if attempt >= c.retryMax {
				return status.ErrRateLimited
			}
			if err := c.sleep(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		return decodeData(env, out)
	}
}

func (c *client) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.retryDelay):
		return nil
	}
}

// do performs one request and decodes the envelope. Non-2xx responses and
// success=false on writes come back as *status.APIError with whatever
// message the server put in the body.
func (c *client) do(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("json.Marshal: %w", err)
		}
		reader = bytes.NewBuffer(b)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.Client.Do: %w", err)
	}
	defer resp.Body.Close()

	rbody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("io.ReadAll: %w", err)
	}

	var env envelope
	if len(rbody) > 0 {
		// Tolerate non-JSON error bodies; the raw text still becomes the
		// surfaced message below.
		if jsonErr := json.Unmarshal(rbody, &env); jsonErr != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("json.Unmarshal: %w", jsonErr)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = string(bytes.TrimSpace(rbody))
		}
		return nil, &status.APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return &env, nil
}

func decodeData(env *envelope, out any) error {
	if !env.Success {
		return &status.APIError{StatusCode: http.StatusOK, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return nil
}

func asAPIError(err error) (*status.APIError, bool) {
	var apiErr *status.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
