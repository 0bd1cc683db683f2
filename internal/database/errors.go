package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrDateConflict is returned when an active booking already holds an overlapping range
	ErrDateConflict = errors.New("requested dates overlap an active booking")

	// ErrDatesBlocked is returned when an availability record closes a requested night
	ErrDatesBlocked = errors.New("accommodation is not available on one or more requested nights")

	// ErrServiceUnavailable is returned when the service was disabled before the booking committed
	ErrServiceUnavailable = errors.New("service is not available for booking")

	// ErrServiceNotFound is returned when the referenced service row does not exist
	ErrServiceNotFound = errors.New("service not found")

	// ErrStatusChanged is returned when a guarded status update matched no row
	ErrStatusChanged = errors.New("status changed concurrently")

	// ErrPendingPayments is returned when a booking still has payments awaiting verification
	ErrPendingPayments = errors.New("booking has pending payments")

	// ErrDuplicateReference is returned when a payment reference is reused
	ErrDuplicateReference = errors.New("payment reference already exists")

	// ErrTransactionConflict is returned when serializable retries are exhausted
	ErrTransactionConflict = errors.New("transaction could not be serialized")
)

// SQLSTATE codes we react to
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateExclusionViolation   = "23P01"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// sqlState extracts the SQLSTATE from either driver's error type
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique constraint violation
func IsUniqueViolation(err error) bool {
	return sqlState(err) == sqlStateUniqueViolation
}

// IsExclusionViolation reports an exclusion constraint violation (overlapping range)
func IsExclusionViolation(err error) bool {
	return sqlState(err) == sqlStateExclusionViolation
}

// IsSerializationFailure reports an error that is safe to retry as a whole transaction
func IsSerializationFailure(err error) bool {
	switch sqlState(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return true
	}
	return false
}
