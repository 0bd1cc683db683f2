package models

import (
	"time"

	"github.com/google/uuid"
)

// ServiceType identifies which catalog a booking references
type ServiceType string

const (
	ServiceTypeAccommodation  ServiceType = "ACCOMMODATION"
	ServiceTypeTransportation ServiceType = "TRANSPORTATION"
	ServiceTypeTour           ServiceType = "TOUR"
)

// IsValid reports whether t is a known service type
func (t ServiceType) IsValid() bool {
	switch t {
	case ServiceTypeAccommodation, ServiceTypeTransportation, ServiceTypeTour:
		return true
	}
	return false
}

// IsDateRanged reports whether bookings of this type occupy a date range
func (t ServiceType) IsDateRanged() bool {
	return t == ServiceTypeAccommodation
}

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusRefunded  BookingStatus = "REFUNDED"
)

// bookingTransitions lists the allowed next states for each status.
// Terminal states have no entry.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled, BookingStatusRefunded},
}

// IsValid reports whether s is a known booking status
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled,
		BookingStatusCompleted, BookingStatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// IsActive reports whether the booking occupies its service slot
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// CanTransitionTo reports whether from -> to is an edge of the booking state machine
func (s BookingStatus) CanTransitionTo(to BookingStatus) bool {
	for _, next := range bookingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ActiveBookingStatuses are the statuses that block overlapping reservations
var ActiveBookingStatuses = []BookingStatus{BookingStatusPending, BookingStatusConfirmed}

// Booking represents a reservation against one service
type Booking struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	ServiceType        ServiceType   `json:"service_type" db:"service_type"`
	ServiceID          uuid.UUID     `json:"service_id" db:"service_id"`
	UserID             uuid.UUID     `json:"user_id" db:"user_id"`
	StartDate          time.Time     `json:"start_date" db:"start_date"`
	EndDate            *time.Time    `json:"end_date,omitempty" db:"end_date"`
	NumberOfPeople     int           `json:"number_of_people" db:"number_of_people"`
	SpecialRequests    *string       `json:"special_requests,omitempty" db:"special_requests"`
	TotalAmount        float64       `json:"total_amount" db:"total_amount"`
	Currency           string        `json:"currency" db:"currency"`
	Status             BookingStatus `json:"status" db:"status"`
	IsConfirmed        bool          `json:"is_confirmed" db:"is_confirmed"`
	CancellationReason *string       `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
	ConfirmedAt        *time.Time    `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// Reference returns the short human-facing booking reference
func (b *Booking) Reference() string {
	return "BK-" + b.ID.String()[:8]
}

// LastDay returns the end date for ranged bookings and the start date otherwise
func (b *Booking) LastDay() time.Time {
	if b.EndDate != nil {
		return *b.EndDate
	}
	return b.StartDate
}

// CancelBookingRequest represents the request to cancel a booking
type CancelBookingRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// UpdateBookingStatusRequest is the admin override payload
type UpdateBookingStatusRequest struct {
	Status BookingStatus `json:"status" binding:"required"`
	Reason *string       `json:"reason,omitempty"`
}

// Nights returns the number of billable nights in [start, end).
// Partial days round up: a 25-hour stay is two nights.
func Nights(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	day := 24 * time.Hour
	n := int(d / day)
	if d%day != 0 {
		n++
	}
	return n
}

// NightDates returns the calendar dates (UTC) of each billable night starting at start
func NightDates(start time.Time, nights int) []time.Time {
	first := time.Date(start.UTC().Year(), start.UTC().Month(), start.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, 0, nights)
	for i := 0; i < nights; i++ {
		dates = append(dates, first.AddDate(0, 0, i))
	}
	return dates
}
