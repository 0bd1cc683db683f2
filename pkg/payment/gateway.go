package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds every gateway HTTP call when no timeout is configured
const DefaultTimeout = 20 * time.Second

var (
	// ErrNotConfigured is returned when a gateway is used without credentials
	ErrNotConfigured = errors.New("payment gateway not configured")
	// ErrInvalidSignature is returned when a webhook fails authentication
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownGateway is returned by the registry for unregistered names
	ErrUnknownGateway = errors.New("unknown payment gateway")
)

// Status is the gateway's view of a payment, reduced to what the reconciler needs
type Status string

const (
	StatusPaid     Status = "paid"
	StatusPending  Status = "pending"
	StatusDeclined Status = "declined"
)

// Customer identifies the payer on the hosted checkout page
type Customer struct {
	Name  string
	Email string
	Phone string
}

// InitiateRequest starts a hosted checkout for one payment attempt
type InitiateRequest struct {
	Reference   string
	Amount      float64
	Currency    string
	Customer    Customer
	Description string
	RedirectURL string
	Meta        map[string]string
}

// InitiateResult carries the hosted checkout link
type InitiateResult struct {
	RedirectURL       string
	ExternalReference string
}

// VerifyResult is the settled or unsettled state of a reference at the gateway
type VerifyResult struct {
	Status     Status
	ExternalID string
	Amount     float64
	Currency   string
	Reason     string
	Raw        map[string]interface{}
}

// Paid reports whether the gateway considers the payment settled
func (r *VerifyResult) Paid() bool {
	return r != nil && r.Status == StatusPaid
}

// Gateway is a hosted-checkout payment provider
type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}

// WebhookParser is implemented by gateways that push status changes.
// ParseWebhook authenticates the request and returns the payment reference it concerns.
type WebhookParser interface {
	ParseWebhook(header http.Header, body []byte) (string, error)
}

// Error is a non-2xx or malformed gateway response
type Error struct {
	Gateway    string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Gateway, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Gateway, e.Message)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
