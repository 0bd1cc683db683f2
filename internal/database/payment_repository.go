package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tembera/booking-backend/internal/models"
)

const paymentColumns = `
	id, transaction_id, booking_id, user_id, amount, currency, method, gateway,
	status, external_transaction_id, redirect_url, failure_reason,
	created_at, updated_at, completed_at`

// PaymentRepository handles database operations for payments
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a PENDING payment before the gateway is contacted
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (
			id, transaction_id, booking_id, user_id, amount, currency, method, gateway,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.TransactionID, p.BookingID, p.UserID, p.Amount, p.Currency, p.Method, p.Gateway,
		p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByTransactionID retrieves a payment by its gateway reference. Returns (nil, nil) when absent.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`

	if err := r.db.GetContext(ctx, &payment, query, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// RecordCheckout stores the hosted checkout link and the gateway's own id
func (r *PaymentRepository) RecordCheckout(ctx context.Context, reference, redirectURL, externalID string) error {
	query := `
		UPDATE payments SET
			redirect_url = $2,
			external_transaction_id = COALESCE(NULLIF($3, ''), external_transaction_id),
			updated_at = NOW()
		WHERE transaction_id = $1 AND status = 'PENDING'`

	if _, err := r.db.ExecContext(ctx, query, reference, redirectURL, externalID); err != nil {
		return fmt.Errorf("failed to record checkout: %w", err)
	}
	return nil
}

// MarkFailed moves a PENDING payment to FAILED. Returns false when the
// payment had already left PENDING.
func (r *PaymentRepository) MarkFailed(ctx context.Context, reference, reason string, externalID *string) (bool, error) {
	query := `
		UPDATE payments SET
			status = 'FAILED',
			failure_reason = $2,
			external_transaction_id = COALESCE($3, external_transaction_id),
			updated_at = NOW()
		WHERE transaction_id = $1 AND status = 'PENDING'`

	result, err := r.db.ExecContext(ctx, query, reference, reason, externalID)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ConfirmWithBooking completes a PENDING payment and confirms its PENDING booking
// in one transaction. The payment update is guarded on status = 'PENDING', so of
// two concurrent callers exactly one sees PaymentConfirmed = true.
func (r *PaymentRepository) ConfirmWithBooking(ctx context.Context, reference string, externalID *string, at time.Time) (*models.ConfirmResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var bookingID uuid.UUID
	err = tx.GetContext(ctx, &bookingID, `
		UPDATE payments SET
			status = 'COMPLETED',
			external_transaction_id = COALESCE($2, external_transaction_id),
			completed_at = $3,
			updated_at = $3
		WHERE transaction_id = $1 AND status = 'PENDING'
		RETURNING booking_id`,
		reference, externalID, at,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another caller already moved it out of PENDING
			return &models.ConfirmResult{}, nil
		}
		if IsUniqueViolation(err) {
			// The booking already has a COMPLETED payment
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to complete payment: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			status = 'CONFIRMED',
			is_confirmed = TRUE,
			confirmed_at = $2,
			updated_at = $2
		WHERE id = $1 AND status = 'PENDING'`,
		bookingID, at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}

	return &models.ConfirmResult{
		PaymentConfirmed: true,
		BookingConfirmed: rows > 0,
		BookingID:        bookingID,
	}, nil
}

// ListStalePending returns PENDING payments created before cutoff, oldest first
func (r *PaymentRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	var payments []*models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	return payments, nil
}
