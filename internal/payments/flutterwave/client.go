// Package flutterwave talks to the Flutterwave v3 API. Amounts cross the wire in major
// units and are converted to minor units at this boundary.
package flutterwave

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolfees/schoolfees/internal/payments"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.flutterwave.com"

// SignatureHeader carries the shared webhook secret.
const SignatureHeader = "Verif-Hash"

// Client wraps interactions with the Flutterwave API.
type Client struct {
	baseURL    string
	secretKey  string
	webhookKey string
	httpClient *http.Client
}

// NewClient constructs a new client. webhookKey is the secret hash configured on the
// Flutterwave dashboard.
func NewClient(baseURL, secretKey, webhookKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		webhookKey: webhookKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the gateway.
func (c *Client) Name() school.Gateway {
	return school.GatewayFlutterwave
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type customer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber,omitempty"`
	Name        string `json:"name,omitempty"`
}

type paymentRequest struct {
	TxRef       string            `json:"tx_ref"`
	Amount      json.Number       `json:"amount"`
	Currency    string            `json:"currency"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Customer    customer          `json:"customer"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type verifyData struct {
	Status   string          `json:"status"`
	TxRef    string          `json:"tx_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Initiate opens a hosted checkout.
func (c *Client) Initiate(ctx context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error) {
	payload, err := json.Marshal(paymentRequest{
		TxRef:       req.Reference,
		Amount:      json.Number(req.Amount.Major().String()),
		Currency:    req.Currency,
		RedirectURL: req.CallbackURL,
		Customer:    customer{Email: req.Customer.Email, PhoneNumber: req.Customer.Phone, Name: req.Customer.Name},
		Meta:        req.Metadata,
	})
	if err != nil {
		return payments.CheckoutSession{}, err
	}
	env, _, err := c.do(ctx, http.MethodPost, "/v3/payments", payload)
	if err != nil {
		return payments.CheckoutSession{}, err
	}
	if env.Status != "success" {
		return payments.CheckoutSession{}, payments.Rejected(c.Name(), env.Message)
	}
	var data struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return payments.CheckoutSession{}, fmt.Errorf("flutterwave: decode payment: %w", err)
	}
	return payments.CheckoutSession{RedirectURL: data.Link}, nil
}

// Verify fetches the gateway's verdict for reference.
func (c *Client) Verify(ctx context.Context, reference string) (payments.Verification, error) {
	env, raw, err := c.do(ctx, http.MethodGet, "/v3/transactions/verify_by_reference?tx_ref="+url.QueryEscape(reference), nil)
	if err != nil {
		return payments.Verification{}, err
	}
	if env.Status != "success" {
		return payments.Verification{Outcome: payments.OutcomeFailed, Status: env.Message, Raw: raw}, nil
	}
	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return payments.Verification{}, fmt.Errorf("flutterwave: decode verify: %w", err)
	}
	return payments.Verification{
		Outcome:  outcome(data.Status),
		Amount:   school.FromMajor(data.Amount),
		Currency: data.Currency,
		Status:   data.Status,
		Raw:      raw,
	}, nil
}

func outcome(status string) payments.GatewayOutcome {
	switch strings.ToLower(status) {
	case "successful":
		return payments.OutcomeSuccess
	case "failed", "cancelled":
		return payments.OutcomeFailed
	default:
		return payments.OutcomePending
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (envelope, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return envelope{}, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, "", payments.Unavailable(c.Name(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return envelope{}, "", payments.Unavailable(c.Name(), err)
	}
	if resp.StatusCode >= 500 || (resp.StatusCode >= 400 && !payments.Definitive(resp.StatusCode)) {
		return envelope{}, string(raw), payments.Unavailable(c.Name(), fmt.Errorf("status %d", resp.StatusCode))
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return envelope{}, string(raw), payments.Rejected(c.Name(), fmt.Sprintf("status %d", resp.StatusCode))
		}
		return envelope{}, string(raw), fmt.Errorf("flutterwave: decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		env.Status = "error"
	}
	return env, string(raw), nil
}

// SignatureHeader names the header carrying the webhook signature.
func (c *Client) SignatureHeader() string {
	return SignatureHeader
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		TxRef string `json:"tx_ref"`
	} `json:"data"`
}

// ParseWebhook checks the verif-hash header against the configured secret and returns
// the event's reference.
func (c *Client) ParseWebhook(body []byte, signature string) (string, error) {
	if c.webhookKey == "" || subtle.ConstantTimeCompare([]byte(c.webhookKey), []byte(signature)) != 1 {
		return "", payments.ErrInvalidSignature
	}
	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return "", fmt.Errorf("flutterwave: decode webhook: %w: %v", shared.ErrValidation, err)
	}
	if evt.Data.TxRef == "" {
		return "", fmt.Errorf("flutterwave: webhook %q without tx_ref: %w", evt.Event, shared.ErrValidation)
	}
	return evt.Data.TxRef, nil
}

var (
	_ payments.Gateway         = (*Client)(nil)
	_ payments.WebhookVerifier = (*Client)(nil)
)
