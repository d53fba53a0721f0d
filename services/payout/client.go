package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"coursepay-settlement/pkg/config"
	"coursepay-settlement/pkg/errutil"
)

// railSubmission is the rail's wire format for a disbursement.
type railSubmission struct {
	Amount            float64 `json:"amount"`
	CurrencyID        string  `json:"currency_id"`
	PaymentMethodID   string  `json:"payment_method_id"`
	RecipientType     string  `json:"recipient_type"`
	RecipientValue    string  `json:"recipient_value"`
	Country           string  `json:"country"`
	ExternalReference string  `json:"external_reference"`
}

type railResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	TransactionAmount float64     `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id"`
	ExternalReference string      `json:"external_reference"`
}

type railError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

// Client talks to the external payout rail. Credentials are passed per call
// because each destination country uses its own access token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	timeout := cfg.Payout.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.Payout.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit posts a disbursement. The idempotency key must be derived from the
// caller's reference so a retried submission lands on the same rail-side
// payout instead of a second one.
func (c *Client) Submit(ctx context.Context, token, idempotencyKey string, sub railSubmission) (*railResponse, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("marshal payout: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	return c.do(req)
}

// Status queries one payout. Used to reconcile an unknown outcome before any
// retry.
func (c *Client) Status(ctx context.Context, token, payoutID string) (*railResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payouts/"+payoutID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*railResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// No response means unknown outcome, not failure: the payout may
		// have been accepted. The caller must reconcile via Status before
		// retrying.
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, errutil.Timeout("payout rail did not respond, outcome unknown", err)
		}
		return nil, errutil.BadGateway("payout rail unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errutil.BadGateway("failed to read rail response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var railErr railError
		if jsonErr := json.Unmarshal(respBody, &railErr); jsonErr == nil && railErr.Message != "" {
			return nil, errutil.BadGateway(railErr.Message, nil)
		}
		return nil, errutil.BadGateway(fmt.Sprintf("payout rail returned status %d", resp.StatusCode), nil)
	}

	var out railResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, errutil.BadGateway("failed to parse rail response", err)
	}

	return &out, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
