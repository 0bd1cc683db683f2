package models

import (
	"time"

	"github.com/google/uuid"
)

// ServiceListing is the read-only view of a bookable catalog entry.
// Rate is the price per night, per trip or per person depending on Type.
type ServiceListing struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Type        ServiceType `json:"type" db:"type"`
	Name        string      `json:"name" db:"name"`
	Rate        float64     `json:"rate" db:"rate"`
	Currency    *string     `json:"currency,omitempty" db:"currency"`
	IsAvailable bool        `json:"is_available" db:"is_available"`
	IsVerified  bool        `json:"is_verified" db:"is_verified"`
}

// Bookable reports whether the service accepts new bookings
func (s *ServiceListing) Bookable() bool {
	return s.IsAvailable && s.IsVerified
}

// AvailabilityOverride is an explicit per-night record for an accommodation
type AvailabilityOverride struct {
	AccommodationID uuid.UUID `json:"accommodation_id" db:"accommodation_id"`
	Date            time.Time `json:"date" db:"date"`
	IsAvailable     bool      `json:"is_available" db:"is_available"`
	PriceOverride   *float64  `json:"price_override,omitempty" db:"price_override"`
}

// AvailabilityResponse answers the public availability query
type AvailabilityResponse struct {
	ServiceType ServiceType `json:"serviceType"`
	ServiceID   uuid.UUID   `json:"serviceId"`
	Available   bool        `json:"available"`
	Reason      string      `json:"reason,omitempty"`
}
