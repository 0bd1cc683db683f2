package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated              PaymentEventType = "payment_initiated"
	PaymentEventInitiationFailed       PaymentEventType = "payment_initiation_failed"
	PaymentEventWebhookReceived        PaymentEventType = "webhook_received"
	PaymentEventStatusCheckResponse    PaymentEventType = "status_check_response"
	PaymentEventSuccess                PaymentEventType = "payment_success"
	PaymentEventFailed                 PaymentEventType = "payment_failed"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
	PaymentEventError                  PaymentEventType = "error"
)

// PaymentEventSource identifies which entry point triggered the event
type PaymentEventSource string

const (
	PaymentSourceBackend  PaymentEventSource = "backend"
	PaymentSourceWebhook  PaymentEventSource = "webhook"
	PaymentSourceRedirect PaymentEventSource = "redirect"
	PaymentSourcePoll     PaymentEventSource = "poll"
	PaymentSourceSystem   PaymentEventSource = "system"
)

// PaymentAudit represents an immutable audit log entry for payment events
type PaymentAudit struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	PaymentID *uuid.UUID `json:"payment_id,omitempty" db:"payment_id"`
	BookingID *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	Reference *string    `json:"reference,omitempty" db:"reference"`
	Gateway   *string    `json:"gateway,omitempty" db:"gateway"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string  `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus        *string `json:"payment_status,omitempty" db:"payment_status"`
	GatewayTransactionID *string `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	ResponsePayload      JSONB   `json:"response_payload,omitempty" db:"response_payload"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	ProcessingTimeMs *int `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool `json:"is_duplicate" db:"is_duplicate"`

	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType *string `json:"device_type,omitempty" db:"device_type"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// ForPayment copies the identifying fields of a payment
func (pa *PaymentAudit) ForPayment(p *Payment) *PaymentAudit {
	if p == nil {
		return pa
	}
	paymentID, bookingID := p.ID, p.BookingID
	reference, gateway := p.TransactionID, p.Gateway
	pa.PaymentID = &paymentID
	pa.BookingID = &bookingID
	pa.Reference = &reference
	pa.Gateway = &gateway
	return pa
}

// SetReference sets the gateway reference when no payment row is known
func (pa *PaymentAudit) SetReference(ref string) *PaymentAudit {
	pa.Reference = &ref
	return pa
}

// SetAmounts records expected and received amounts and returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received float64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency

	// Compare with tolerance for floating point
	const tolerance = 0.01
	match := math.Abs(expected-received) < tolerance
	pa.AmountsMatch = &match
	return match
}

// SetPaymentStatus sets the payment status reported by the gateway
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

// SetGatewayTransaction sets the gateway's own transaction id
func (pa *PaymentAudit) SetGatewayTransaction(id string) *PaymentAudit {
	if id != "" {
		pa.GatewayTransactionID = &id
	}
	return pa
}

// SetResponsePayload sets the response payload received
func (pa *PaymentAudit) SetResponsePayload(payload map[string]interface{}) *PaymentAudit {
	if len(payload) > 0 {
		pa.ResponsePayload = JSONB(payload)
	}
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetClient records where the request came from
func (pa *PaymentAudit) SetClient(ip, userAgent, deviceType string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if deviceType != "" {
		pa.DeviceType = &deviceType
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}

// MarkAsDuplicate flags an event served from already-stored state
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}
