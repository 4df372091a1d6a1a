package payments

import (
	"context"
	"fmt"
	"net/http"

	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
)

var (
	// ErrGatewayUnavailable indicates a timeout or network failure; the outcome is unknown.
	ErrGatewayUnavailable = fmt.Errorf("payments: gateway unavailable: %w", shared.ErrUpstream)
	// ErrGatewayRejected indicates the gateway refused the request outright.
	ErrGatewayRejected = fmt.Errorf("payments: gateway rejected request: %w", shared.ErrUpstream)
	// ErrUnsupportedGateway indicates no client is registered for the gateway.
	ErrUnsupportedGateway = fmt.Errorf("payments: unsupported gateway: %w", shared.ErrValidation)
	// ErrInvalidSignature indicates a webhook whose signature does not match.
	ErrInvalidSignature = fmt.Errorf("payments: invalid webhook signature: %w", shared.ErrUnauthorized)
	// ErrInvalidTransition indicates the transaction state does not allow the operation.
	ErrInvalidTransition = fmt.Errorf("payments: invalid status transition: %w", shared.ErrConflict)
	// ErrDuplicateRequest indicates an idempotency key that was already used.
	ErrDuplicateRequest = fmt.Errorf("payments: duplicate request: %w", shared.ErrConflict)
)

// GatewayOutcome is the normalised result reported by a gateway.
type GatewayOutcome string

const (
	OutcomeSuccess GatewayOutcome = "success"
	OutcomeFailed  GatewayOutcome = "failed"
	OutcomePending GatewayOutcome = "pending"
)

// CheckoutRequest is what a hosted-checkout gateway needs to open a payment.
type CheckoutRequest struct {
	Reference   string
	Amount      school.Money
	Currency    string
	Customer    school.Customer
	CallbackURL string
	Metadata    map[string]string
}

// CheckoutSession is the gateway's answer to a CheckoutRequest.
type CheckoutSession struct {
	RedirectURL string
	AccessCode  string
}

// Verification is a gateway's verdict on a reference, with amounts in minor units.
type Verification struct {
	Outcome  GatewayOutcome
	Amount   school.Money
	Currency string
	Status   string
	Raw      string
}

// Gateway is a hosted-checkout payment provider.
type Gateway interface {
	Name() school.Gateway
	Initiate(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	Verify(ctx context.Context, reference string) (Verification, error)
}

// WebhookVerifier authenticates a gateway callback and extracts its reference.
type WebhookVerifier interface {
	SignatureHeader() string
	ParseWebhook(body []byte, signature string) (reference string, err error)
}

// Rejected wraps a gateway's refusal message.
func Rejected(gateway school.Gateway, message string) error {
	return fmt.Errorf("%w: %s: %s", ErrGatewayRejected, gateway, message)
}

// Unavailable wraps err so callers can treat it as a transient gateway failure.
func Unavailable(gateway school.Gateway, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, gateway, err)
}

// Definitive reports whether a 4xx status is the gateway's answer about the payment
// itself. Other 4xx codes (auth, throttling, timeouts) say nothing about the payment and
// leave its outcome unknown.
func Definitive(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusNotFound
}
