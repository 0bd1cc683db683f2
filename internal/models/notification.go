package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind names a user-facing lifecycle event
type NotificationKind string

const (
	NotificationBookingCreated   NotificationKind = "booking_created"
	NotificationBookingConfirmed NotificationKind = "booking_confirmed"
	NotificationBookingCancelled NotificationKind = "booking_cancelled"
	NotificationPaymentFailed    NotificationKind = "payment_failed"
)

// Notification is one message handed to the delivery sinks
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Email     string           `json:"email,omitempty"`
	Phone     string           `json:"phone,omitempty"`
	Name      string           `json:"name,omitempty"`
	Subject   string           `json:"subject"`
	Body      string           `json:"body"`
	Payload   JSONB            `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
