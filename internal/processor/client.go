// Package processor talks to the upstream payment processor: checkout
// object lifecycle, refunds, transfers, and inbound webhook verification.
// The processor is the source of truth for whether money actually moved;
// this client only reports what it said.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lumapay/linkledger/internal/domain"
)

// Client is a thin HTTP client. Every mutating call carries an
// Idempotency-Key header so upstream retries are safe.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// CheckoutRequest creates the processor-side object backing a link.
type CheckoutRequest struct {
	LinkID         string   `json:"link_id"`
	AccountID      string   `json:"account_id"`
	Kind           string   `json:"kind"`
	Title          string   `json:"title"`
	Amount         int64    `json:"amount"`
	Currency       string   `json:"currency"`
	Interval       string   `json:"interval,omitempty"`
	RequiredFields []string `json:"required_fields,omitempty"`
}

// Checkout is the processor's handle for a link: the object id the webhook
// events reference and the URL customers pay at.
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	var out Checkout
	if err := c.do(ctx, http.MethodPost, "/v1/checkouts", "checkout:"+req.LinkID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeactivateCheckout turns off a checkout object so it stops accepting
// payments. The processor treats repeat deactivation as a no-op.
func (c *Client) DeactivateCheckout(ctx context.Context, checkoutID string) error {
	return c.do(ctx, http.MethodPost, "/v1/checkouts/"+checkoutID+"/deactivate", "deactivate:"+checkoutID, nil, nil)
}

// ConnectedAccount is the processor-side merchant account reference.
type ConnectedAccount struct {
	ID string `json:"id"`
}

func (c *Client) CreateConnectedAccount(ctx context.Context, email, country string) (*ConnectedAccount, error) {
	body := map[string]string{"email": email, "country": country}
	var out ConnectedAccount
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", "account:"+email, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransferRequest asks the processor to move pending funds to a merchant.
type TransferRequest struct {
	AccountID      string `json:"account_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"-"`
}

// Transfer reports what the processor actually moved, which may be less
// than the requested amount.
type Transfer struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	var out Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refund reverses a charge by its processor payment id.
func (c *Client) Refund(ctx context.Context, paymentID string) error {
	body := map[string]string{"payment_id": paymentID}
	return c.do(ctx, http.MethodPost, "/v1/refunds", "refund:"+paymentID, body, nil)
}

type apiError struct {
	Message string `json:"error"`
}

// do issues one request and classifies the outcome. Timeouts, rate limits
// and 5xx responses are transient (the job retries); other 4xx responses
// are permanent rejections. A timeout never implies the action happened.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response from %s: %w", path, err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.Transient(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	default:
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return domain.Permanent(errors.New(apiErr.Message))
	}
}
