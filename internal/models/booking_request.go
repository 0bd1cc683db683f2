package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tembera/booking-backend/internal/apperror"
)

// CreateBookingRequest is the wire shape of a booking request.
// It is parsed once into a BookingRequest variant by ParseBookingRequest.
type CreateBookingRequest struct {
	ServiceType     string  `json:"serviceType"`
	ServiceID       string  `json:"serviceId"`
	StartDate       string  `json:"startDate"`
	EndDate         *string `json:"endDate,omitempty"`
	NumberOfPeople  int     `json:"numberOfPeople"`
	SpecialRequests *string `json:"specialRequests,omitempty"`
}

// BookingRequest is a validated booking request for one service type
type BookingRequest interface {
	Type() ServiceType
	Service() uuid.UUID
	Start() time.Time
	End() *time.Time
	PartySize() int
	Notes() *string
}

// AccommodationBooking reserves nights in [CheckIn, CheckOut)
type AccommodationBooking struct {
	ServiceID       uuid.UUID
	CheckIn         time.Time
	CheckOut        time.Time
	Guests          int
	SpecialRequests *string
}

func (r AccommodationBooking) Type() ServiceType  { return ServiceTypeAccommodation }
func (r AccommodationBooking) Service() uuid.UUID { return r.ServiceID }
func (r AccommodationBooking) Start() time.Time   { return r.CheckIn }
func (r AccommodationBooking) End() *time.Time    { end := r.CheckOut; return &end }
func (r AccommodationBooking) PartySize() int     { return r.Guests }
func (r AccommodationBooking) Notes() *string     { return r.SpecialRequests }

// TransportationBooking reserves one trip
type TransportationBooking struct {
	ServiceID       uuid.UUID
	Departure       time.Time
	Passengers      int
	SpecialRequests *string
}

func (r TransportationBooking) Type() ServiceType  { return ServiceTypeTransportation }
func (r TransportationBooking) Service() uuid.UUID { return r.ServiceID }
func (r TransportationBooking) Start() time.Time   { return r.Departure }
func (r TransportationBooking) End() *time.Time    { return nil }
func (r TransportationBooking) PartySize() int     { return r.Passengers }
func (r TransportationBooking) Notes() *string     { return r.SpecialRequests }

// TourBooking reserves places on one tour session
type TourBooking struct {
	ServiceID       uuid.UUID
	Date            time.Time
	Participants    int
	SpecialRequests *string
}

func (r TourBooking) Type() ServiceType  { return ServiceTypeTour }
func (r TourBooking) Service() uuid.UUID { return r.ServiceID }
func (r TourBooking) Start() time.Time   { return r.Date }
func (r TourBooking) End() *time.Time    { return nil }
func (r TourBooking) PartySize() int     { return r.Participants }
func (r TourBooking) Notes() *string     { return r.SpecialRequests }

// dateLayouts are the accepted date formats, most specific first
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseDate parses an RFC3339 timestamp or a plain calendar date (UTC midnight)
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ParseBookingRequest validates the raw request and returns the variant for its service type
func ParseBookingRequest(req CreateBookingRequest, now time.Time) (BookingRequest, error) {
	serviceType := ServiceType(strings.ToUpper(strings.TrimSpace(req.ServiceType)))
	if !serviceType.IsValid() {
		return nil, apperror.New(apperror.KindValidation, apperror.CodeInvalidServiceType,
			"serviceType must be one of ACCOMMODATION, TRANSPORTATION, TOUR")
	}

	serviceID, err := uuid.Parse(strings.TrimSpace(req.ServiceID))
	if err != nil {
		return nil, apperror.Validation("serviceId must be a valid UUID")
	}

	if strings.TrimSpace(req.StartDate) == "" {
		return nil, apperror.Validation("startDate is required")
	}
	start, err := ParseDate(req.StartDate)
	if err != nil {
		return nil, apperror.Validation("startDate must be an ISO-8601 date")
	}
	if start.Before(now) {
		return nil, apperror.Validation("startDate cannot be in the past")
	}

	if req.NumberOfPeople < 1 {
		return nil, apperror.Validation("numberOfPeople must be at least 1")
	}

	notes := req.SpecialRequests
	if notes != nil && strings.TrimSpace(*notes) == "" {
		notes = nil
	}

	switch serviceType {
	case ServiceTypeAccommodation:
		if req.EndDate == nil || strings.TrimSpace(*req.EndDate) == "" {
			return nil, apperror.Validation("endDate is required for ACCOMMODATION bookings")
		}
		end, err := ParseDate(*req.EndDate)
		if err != nil {
			return nil, apperror.Validation("endDate must be an ISO-8601 date")
		}
		if !end.After(start) {
			return nil, apperror.Validation("endDate must be after startDate")
		}
		return AccommodationBooking{
			ServiceID:       serviceID,
			CheckIn:         start,
			CheckOut:        end,
			Guests:          req.NumberOfPeople,
			SpecialRequests: notes,
		}, nil
	case ServiceTypeTransportation:
		return TransportationBooking{
			ServiceID:       serviceID,
			Departure:       start,
			Passengers:      req.NumberOfPeople,
			SpecialRequests: notes,
		}, nil
	default:
		return TourBooking{
			ServiceID:       serviceID,
			Date:            start,
			Participants:    req.NumberOfPeople,
			SpecialRequests: notes,
		}, nil
	}
}
