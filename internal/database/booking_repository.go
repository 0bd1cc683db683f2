package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tembera/booking-backend/internal/models"
)

const bookingColumns = `
	id, service_type, service_id, user_id, start_date, end_date,
	number_of_people, special_requests, total_amount, currency,
	status, is_confirmed, cancellation_reason,
	created_at, updated_at, confirmed_at, cancelled_at`

// overlapQuery counts active bookings intersecting [$2, $3) half-open
const overlapQuery = `
	SELECT COUNT(*) FROM bookings
	WHERE service_id = $1
	  AND service_type = 'ACCOMMODATION'
	  AND status IN ('PENDING', 'CONFIRMED')
	  AND start_date < $3
	  AND end_date > $2`

// blockedNightsQuery counts explicit closures on the nights starting at $2
const blockedNightsQuery = `
	SELECT COUNT(*) FROM accommodation_availability
	WHERE accommodation_id = $1
	  AND date >= $2::date
	  AND date < $2::date + $3::int
	  AND is_available = FALSE`

// BookingRepository handles database operations for bookings
type BookingRepository struct {
	db         *sqlx.DB
	maxRetries int
}

// NewBookingRepository creates a new BookingRepository.
// maxRetries bounds how often a create is replayed after a serialization failure.
func NewBookingRepository(db *sqlx.DB, maxRetries int) *BookingRepository {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &BookingRepository{db: db, maxRetries: maxRetries}
}

// Create inserts a PENDING booking. For date-ranged services the overlap and
// closure checks are re-run inside a SERIALIZABLE transaction holding a row lock
// on the accommodation, and the exclusion constraint backs them up.
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		lastErr = r.createOnce(ctx, booking)
		if lastErr == nil || !IsSerializationFailure(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %v", ErrTransactionConflict, lastErr)
}

func (r *BookingRepository) createOnce(ctx context.Context, b *models.Booking) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if b.ServiceType.IsDateRanged() {
		if b.EndDate == nil {
			return fmt.Errorf("accommodation booking requires an end date")
		}
		if err := r.checkRangeAvailable(ctx, tx, b); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO bookings (
			id, service_type, service_id, user_id, start_date, end_date,
			number_of_people, special_requests, total_amount, currency,
			status, is_confirmed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = tx.ExecContext(ctx, query,
		b.ID, b.ServiceType, b.ServiceID, b.UserID, b.StartDate, b.EndDate,
		b.NumberOfPeople, b.SpecialRequests, b.TotalAmount, b.Currency,
		b.Status, b.IsConfirmed, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if IsExclusionViolation(err) {
			return ErrDateConflict
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

func (r *BookingRepository) checkRangeAvailable(ctx context.Context, tx *sqlx.Tx, b *models.Booking) error {
	// Lock the accommodation so concurrent creates for it serialize here
	var bookable bool
	err := tx.GetContext(ctx, &bookable,
		`SELECT is_available AND is_verified FROM accommodations WHERE id = $1 FOR UPDATE`, b.ServiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrServiceNotFound
		}
		return fmt.Errorf("failed to lock accommodation: %w", err)
	}
	if !bookable {
		return ErrServiceUnavailable
	}

	var overlaps int
	if err := tx.GetContext(ctx, &overlaps, overlapQuery, b.ServiceID, b.StartDate, *b.EndDate); err != nil {
		return fmt.Errorf("failed to check overlapping bookings: %w", err)
	}
	if overlaps > 0 {
		return ErrDateConflict
	}

	nights := models.Nights(b.StartDate, *b.EndDate)
	var blocked int
	if err := tx.GetContext(ctx, &blocked, blockedNightsQuery, b.ServiceID, b.StartDate.UTC().Format("2006-01-02"), nights); err != nil {
		return fmt.Errorf("failed to check availability records: %w", err)
	}
	if blocked > 0 {
		return ErrDatesBlocked
	}
	return nil
}

// HasOverlap reports whether an active booking intersects [start, end).
// This is an advisory read; Create re-checks under a lock.
func (r *BookingRepository) HasOverlap(ctx context.Context, serviceID uuid.UUID, start, end time.Time) (bool, error) {
	var overlaps int
	if err := r.db.GetContext(ctx, &overlaps, overlapQuery, serviceID, start, end); err != nil {
		return false, fmt.Errorf("failed to check overlapping bookings: %w", err)
	}
	return overlaps > 0, nil
}

// GetByID retrieves a booking by ID. Returns (nil, nil) when absent.
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// UpdateStatus moves a booking from one status to another, guarded on the
// current status. Returns ErrStatusChanged when the row is no longer in from.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.BookingStatus, reason *string, at time.Time) (*models.Booking, error) {
	query := `
		UPDATE bookings SET
			status = $3,
			updated_at = $4,
			cancelled_at = CASE WHEN $3 = 'CANCELLED' THEN $4 ELSE cancelled_at END,
			cancellation_reason = CASE WHEN $3 = 'CANCELLED' THEN $5 ELSE cancellation_reason END
		WHERE id = $1 AND status = $2
		RETURNING ` + bookingColumns

	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query, id, from, to, at, reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusChanged
		}
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}
	return &booking, nil
}

// Delete hard-deletes a terminal booking and its payments.
// Fails with ErrPendingPayments while any payment is still awaiting verification.
func (r *BookingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pending int
	err = tx.GetContext(ctx, &pending,
		`SELECT COUNT(*) FROM payments WHERE booking_id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("failed to count pending payments: %w", err)
	}
	if pending > 0 {
		return ErrPendingPayments
	}

	terminal := pq.Array([]string{
		string(models.BookingStatusCancelled),
		string(models.BookingStatusCompleted),
		string(models.BookingStatusRefunded),
	})
	result, err := tx.ExecContext(ctx,
		`DELETE FROM bookings WHERE id = $1 AND status = ANY($2)`, id, terminal)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrStatusChanged
	}

	return tx.Commit()
}

// ListCompletable returns CONFIRMED bookings whose last day is before cutoff
func (r *BookingRepository) ListCompletable(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'CONFIRMED'
		  AND COALESCE(end_date, start_date) < $1
		ORDER BY COALESCE(end_date, start_date)
		LIMIT $2`

	var bookings []*models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list completable bookings: %w", err)
	}
	return bookings, nil
}
