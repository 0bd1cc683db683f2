package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tembera/booking-backend/internal/apperror"
	"github.com/tembera/booking-backend/internal/models"
)

// Reasons reported when a service is not available
const (
	ReasonServiceUnavailable = "service_unavailable"
	ReasonDatesBlocked       = "dates_blocked"
	ReasonDateConflict       = "date_conflict"
)

// AvailabilityService answers availability queries outside any transaction.
// The answer is advisory: BookingRepository.Create re-checks under lock.
type AvailabilityService struct {
	catalog  ServiceCatalog
	bookings BookingStore
}

// NewAvailabilityService creates a new AvailabilityService
func NewAvailabilityService(catalog ServiceCatalog, bookings BookingStore) *AvailabilityService {
	return &AvailabilityService{
		catalog:  catalog,
		bookings: bookings,
	}
}

// IsAvailable reports whether serviceID can take a booking over [start, end)
func (s *AvailabilityService) IsAvailable(ctx context.Context, serviceType models.ServiceType, serviceID uuid.UUID, start time.Time, end *time.Time) (bool, error) {
	resp, err := s.Check(ctx, serviceType, serviceID, start, end)
	if err != nil {
		return false, err
	}
	return resp.Available, nil
}

// Check is IsAvailable with the reason a service was refused
func (s *AvailabilityService) Check(ctx context.Context, serviceType models.ServiceType, serviceID uuid.UUID, start time.Time, end *time.Time) (*models.AvailabilityResponse, error) {
	if !serviceType.IsValid() {
		return nil, apperror.New(apperror.KindValidation, apperror.CodeInvalidServiceType,
			"serviceType must be one of ACCOMMODATION, TRANSPORTATION, TOUR")
	}

	service, err := s.catalog.GetService(ctx, serviceType, serviceID)
	if err != nil {
		return nil, apperror.Internal("failed to load service", err)
	}
	if service == nil {
		return nil, apperror.NotFound(apperror.CodeServiceNotFound, fmt.Sprintf("%s not found", serviceType))
	}

	resp := &models.AvailabilityResponse{ServiceType: serviceType, ServiceID: serviceID}
	if !service.Bookable() {
		resp.Reason = ReasonServiceUnavailable
		return resp, nil
	}

	if !serviceType.IsDateRanged() {
		resp.Available = true
		return resp, nil
	}

	if end == nil || !end.After(start) {
		return nil, apperror.Validation("endDate must be after startDate")
	}

	nights := models.Nights(start, *end)
	overrides, err := s.catalog.ListOverrides(ctx, serviceID, start, nights)
	if err != nil {
		return nil, apperror.Internal("failed to load availability records", err)
	}
	for _, o := range overrides {
		if !o.IsAvailable {
			resp.Reason = ReasonDatesBlocked
			return resp, nil
		}
	}

	overlap, err := s.bookings.HasOverlap(ctx, serviceID, start, *end)
	if err != nil {
		return nil, apperror.Internal("failed to check overlapping bookings", err)
	}
	if overlap {
		resp.Reason = ReasonDateConflict
		return resp, nil
	}

	resp.Available = true
	return resp, nil
}
