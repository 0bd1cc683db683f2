package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tembera/booking-backend/internal/apperror"
	"github.com/tembera/booking-backend/internal/models"
)

func TestAvailabilityService_Check(t *testing.T) {
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2025, 12, d, 0, 0, 0, 0, time.UTC) }
	ptr := func(t time.Time) *time.Time { return &t }

	hotelID := uuid.New()
	blockedID := uuid.New()
	busID := uuid.New()
	unverifiedID := uuid.New()

	existingEnd := day(17)
	bookings := newMemBookings(&models.Booking{
		ID:          uuid.New(),
		ServiceType: models.ServiceTypeAccommodation,
		ServiceID:   hotelID,
		StartDate:   day(15),
		EndDate:     &existingEnd,
		Status:      models.BookingStatusConfirmed,
	})
	catalog := &memCatalog{
		services: map[uuid.UUID]*models.ServiceListing{
			hotelID:      {ID: hotelID, Type: models.ServiceTypeAccommodation, Rate: 50000, IsAvailable: true, IsVerified: true},
			blockedID:    {ID: blockedID, Type: models.ServiceTypeAccommodation, Rate: 40000, IsAvailable: true, IsVerified: true},
			busID:        {ID: busID, Type: models.ServiceTypeTransportation, Rate: 8000, IsAvailable: true, IsVerified: true},
			unverifiedID: {ID: unverifiedID, Type: models.ServiceTypeTour, Rate: 35000, IsAvailable: true, IsVerified: false},
		},
		overrides: []models.AvailabilityOverride{
			{AccommodationID: blockedID, Date: day(20), IsAvailable: false},
		},
	}
	svc := NewAvailabilityService(catalog, bookings)

	tests := []struct {
		name        string
		serviceType models.ServiceType
		serviceID   uuid.UUID
		start       time.Time
		end         *time.Time
		available   bool
		reason      string
	}{
		{"Overlapping Stay", models.ServiceTypeAccommodation, hotelID, day(16), ptr(day(18)), false, ReasonDateConflict},
		{"Back To Back Stay", models.ServiceTypeAccommodation, hotelID, day(17), ptr(day(19)), true, ""},
		{"Stay Ending On Arrival", models.ServiceTypeAccommodation, hotelID, day(13), ptr(day(15)), true, ""},
		{"Blocked Night", models.ServiceTypeAccommodation, blockedID, day(19), ptr(day(21)), false, ReasonDatesBlocked},
		{"Transport Ignores Dates", models.ServiceTypeTransportation, busID, day(16), nil, true, ""},
		{"Unverified Tour", models.ServiceTypeTour, unverifiedID, day(16), nil, false, ReasonServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Check(ctx, tt.serviceType, tt.serviceID, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.available, resp.Available)
			assert.Equal(t, tt.reason, resp.Reason)

			ok, err := svc.IsAvailable(ctx, tt.serviceType, tt.serviceID, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.available, ok)
		})
	}

	t.Run("Cancelled Bookings Free The Dates", func(t *testing.T) {
		end := day(27)
		cancelled := newMemBookings(&models.Booking{
			ID:          uuid.New(),
			ServiceType: models.ServiceTypeAccommodation,
			ServiceID:   hotelID,
			StartDate:   day(25),
			EndDate:     &end,
			Status:      models.BookingStatusCancelled,
		})
		ok, err := NewAvailabilityService(catalog, cancelled).IsAvailable(ctx, models.ServiceTypeAccommodation, hotelID, day(25), ptr(day(27)))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := svc.Check(ctx, "CRUISE", hotelID, day(16), nil)
		assertCode(t, err, apperror.CodeInvalidServiceType)

		_, err = svc.Check(ctx, models.ServiceTypeTour, uuid.New(), day(16), nil)
		assertCode(t, err, apperror.CodeServiceNotFound)

		_, err = svc.Check(ctx, models.ServiceTypeAccommodation, hotelID, day(16), nil)
		assertCode(t, err, apperror.CodeValidation)

		_, err = svc.Check(ctx, models.ServiceTypeAccommodation, hotelID, day(16), ptr(day(16)))
		assertCode(t, err, apperror.CodeValidation)
	})
}
