// Package paystack talks to the Paystack transaction API. Amounts cross the wire in
// kobo, the same minor unit the ledger uses.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/schoolfees/schoolfees/internal/payments"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.paystack.co"

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Paystack-Signature"

// Client wraps interactions with the Paystack API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name identifies the gateway.
func (c *Client) Name() school.Gateway {
	return school.GatewayPaystack
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Reference       string `json:"reference"`
	GatewayResponse string `json:"gateway_response"`
}

// Initiate opens a hosted checkout.
func (c *Client) Initiate(ctx context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error) {
	payload, err := json.Marshal(initializeRequest{
		Email:       req.Customer.Email,
		Amount:      int64(req.Amount),
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return payments.CheckoutSession{}, err
	}
	env, _, err := c.do(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return payments.CheckoutSession{}, err
	}
	if !env.Status {
		return payments.CheckoutSession{}, payments.Rejected(c.Name(), env.Message)
	}
	var data initializeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return payments.CheckoutSession{}, fmt.Errorf("paystack: decode initialize: %w", err)
	}
	return payments.CheckoutSession{RedirectURL: data.AuthorizationURL, AccessCode: data.AccessCode}, nil
}

// Verify fetches the gateway's verdict for reference.
func (c *Client) Verify(ctx context.Context, reference string) (payments.Verification, error) {
	env, raw, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return payments.Verification{}, err
	}
	if !env.Status {
		return payments.Verification{Outcome: payments.OutcomeFailed, Status: env.Message, Raw: raw}, nil
	}
	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return payments.Verification{}, fmt.Errorf("paystack: decode verify: %w", err)
	}
	return payments.Verification{
		Outcome:  outcome(data.Status),
		Amount:   school.Money(data.Amount),
		Currency: data.Currency,
		Status:   data.Status,
		Raw:      raw,
	}, nil
}

func outcome(status string) payments.GatewayOutcome {
	switch strings.ToLower(status) {
	case "success":
		return payments.OutcomeSuccess
	case "failed", "reversed", "abandoned":
		return payments.OutcomeFailed
	default:
		return payments.OutcomePending
	}
}

// do performs the call. Transport errors, 5xx answers and 4xx answers other than
// 400 and 404 are reported as unavailable. 400 and 404 bodies are decoded so the
// caller can read the message.
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
		return envelope{}, string(raw), fmt.Errorf("paystack: decode response: %w", err)
	}
	if resp.StatusCode >= 400 {
		env.Status = false
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
		Reference string `json:"reference"`
	} `json:"data"`
}

// ParseWebhook checks the HMAC-SHA512 signature of body and returns its reference.
func (c *Client) ParseWebhook(body []byte, signature string) (string, error) {
	expected := Sign(c.secretKey, body)
	if signature == "" || !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return "", payments.ErrInvalidSignature
	}
	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return "", fmt.Errorf("paystack: decode webhook: %w: %v", shared.ErrValidation, err)
	}
	if evt.Data.Reference == "" {
		return "", fmt.Errorf("paystack: webhook %q without reference: %w", evt.Event, shared.ErrValidation)
	}
	return evt.Data.Reference, nil
}

// Sign computes the webhook signature for body. Used by tests and tooling.
func Sign(secretKey string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var (
	_ payments.Gateway         = (*Client)(nil)
	_ payments.WebhookVerifier = (*Client)(nil)
)
