package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindForbidden        Kind = "forbidden"
	KindGatewayTransient Kind = "gateway_transient"
	KindGatewayConfig    Kind = "gateway_config"
	KindInternal         Kind = "internal"
)

// Stable error codes returned to clients
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeInvalidServiceType     = "INVALID_SERVICE_TYPE"
	CodeBookingNotFound        = "BOOKING_NOT_FOUND"
	CodePaymentNotFound        = "PAYMENT_NOT_FOUND"
	CodeServiceNotFound        = "SERVICE_NOT_FOUND"
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeDateConflict           = "DATE_CONFLICT"
	CodeCancellationWindow     = "CANCELLATION_WINDOW_CLOSED"
	CodeInvalidTransition      = "INVALID_STATE_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeDuplicate              = "DUPLICATE_RESOURCE"
	CodePendingPayments        = "PENDING_PAYMENTS"
	CodeAmountMismatch         = "AMOUNT_MISMATCH"
	CodeForbidden              = "FORBIDDEN"
	CodeGatewayUnavailable     = "GATEWAY_UNAVAILABLE"
	CodeGatewayNotConfigured   = "GATEWAY_NOT_CONFIGURED"
	CodeInternal               = "INTERNAL_ERROR"
)

// Error is a domain error carrying a kind, a stable code and an optional cause
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code so sentinel values work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// HTTPStatus maps the error to a response status
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		// Duplicates and lost races are true conflicts; rule violations
		// (date overlap, closed window, bad state) are client errors.
		if e.Code == CodeDuplicate || e.Code == CodeConcurrentModification {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindGatewayTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error of the given kind
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error of the given kind with an underlying cause
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, CodeForbidden, message)
}

func GatewayTransient(message string, err error) *Error {
	return Wrap(KindGatewayTransient, CodeGatewayUnavailable, message, err)
}

func GatewayConfig(message string, err error) *Error {
	return Wrap(KindGatewayConfig, CodeGatewayNotConfigured, message, err)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, CodeInternal, message, err)
}

// As extracts an *Error from an error chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for untyped errors
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}
