package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/models"
)

// PaymentAuditRepository appends payment audit entries
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry. A failed write is logged with the
// full entry so it can be recovered from the log stream.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, payment_id, booking_id, reference, gateway,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			payment_status, gateway_transaction_id, response_payload,
			error_message, processing_time_ms, is_duplicate,
			ip_address, user_agent, device_type,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17,
			$18, $19, $20,
			$21
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.PaymentID, audit.BookingID, audit.Reference, audit.Gateway,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.PaymentStatus, audit.GatewayTransactionID, audit.ResponsePayload,
		audit.ErrorMessage, audit.ProcessingTimeMs, audit.IsDuplicate,
		audit.IPAddress, audit.UserAgent, audit.DeviceType,
		audit.CreatedAt,
	)
	if err != nil {
		reference := ""
		if audit.Reference != nil {
			reference = *audit.Reference
		}
		r.logger.WithFields(logrus.Fields{
			"audit_id":     audit.ID,
			"event_type":   audit.EventType,
			"event_source": audit.EventSource,
			"reference":    reference,
			"error":        err.Error(),
		}).Error("Failed to write payment audit log")
		return fmt.Errorf("failed to write payment audit: %w", err)
	}

	return nil
}
