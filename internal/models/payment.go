package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the status of one payment attempt
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// IsTerminal reports whether the payment has reached its final status
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Failure reasons recorded on FAILED payments
const (
	FailureDeclined         = "declined"
	FailureAmountMismatch   = "amount_mismatch"
	FailureInitiationFailed = "initiation_failed"
	// the gateway settled it but the booking already had a completed payment
	FailureDuplicatePayment = "duplicate_payment"
)

// Payment is one attempt to collect funds for a booking.
// TransactionID is our gateway reference and the idempotency key for reconciliation.
type Payment struct {
	ID                    uuid.UUID     `json:"id" db:"id"`
	TransactionID         string        `json:"transaction_id" db:"transaction_id"`
	BookingID             uuid.UUID     `json:"booking_id" db:"booking_id"`
	UserID                uuid.UUID     `json:"user_id" db:"user_id"`
	Amount                float64       `json:"amount" db:"amount"`
	Currency              string        `json:"currency" db:"currency"`
	Method                string        `json:"method" db:"method"`
	Gateway               string        `json:"gateway" db:"gateway"`
	Status                PaymentStatus `json:"status" db:"status"`
	ExternalTransactionID *string       `json:"external_transaction_id,omitempty" db:"external_transaction_id"`
	RedirectURL           *string       `json:"redirect_url,omitempty" db:"redirect_url"`
	FailureReason         *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt             time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// Customer is the payer identity passed to the gateway
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// InitiatePaymentRequest starts a payment attempt for a booking
type InitiatePaymentRequest struct {
	BookingID string    `json:"bookingId" binding:"required"`
	Amount    *float64  `json:"amount,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Method    string    `json:"method,omitempty"`
	Gateway   string    `json:"gateway,omitempty"`
	Customer  *Customer `json:"customer,omitempty"`
}

// InitiatePaymentResponse carries the hosted checkout link
type InitiatePaymentResponse struct {
	RedirectLink string    `json:"redirectLink"`
	Reference    string    `json:"reference"`
	PaymentID    uuid.UUID `json:"paymentId"`
	Gateway      string    `json:"gateway"`
}

// VerifyPaymentRequest is the JSON body of the polling endpoint
type VerifyPaymentRequest struct {
	Reference string `json:"reference"`
}

// ConfirmResult describes what the guarded confirmation actually changed
type ConfirmResult struct {
	PaymentConfirmed bool
	BookingConfirmed bool
	BookingID        uuid.UUID
}

// ReconcileResult is the outcome of reconciling one reference
type ReconcileResult struct {
	Reference     string        `json:"reference"`
	Paid          bool          `json:"paid"`
	Status        PaymentStatus `json:"status"`
	BookingID     uuid.UUID     `json:"bookingId"`
	BookingStatus BookingStatus `json:"bookingStatus,omitempty"`
	Reason        string        `json:"reason,omitempty"`
}
