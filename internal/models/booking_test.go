package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tembera/booking-backend/internal/apperror"
)

func TestBookingStatus_Transitions(t *testing.T) {
	allowed := map[BookingStatus][]BookingStatus{
		BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
		BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled, BookingStatusRefunded},
	}
	all := []BookingStatus{
		BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled,
		BookingStatusCompleted, BookingStatusRefunded,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestBookingStatus_TerminalStatesAreClosed(t *testing.T) {
	for _, s := range []BookingStatus{BookingStatusCancelled, BookingStatusCompleted, BookingStatusRefunded} {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
		assert.False(t, s.CanTransitionTo(BookingStatusPending))
		assert.False(t, s.CanTransitionTo(BookingStatusConfirmed))
	}
	assert.False(t, BookingStatusPending.IsTerminal())
	assert.False(t, BookingStatusConfirmed.IsTerminal())
}

func TestParseBookingRequest(t *testing.T) {
	now := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
	serviceID := uuid.New()
	end := "2025-12-17"

	t.Run("Accommodation", func(t *testing.T) {
		notes := "late check-in"
		req, err := ParseBookingRequest(CreateBookingRequest{
			ServiceType:     "accommodation",
			ServiceID:       serviceID.String(),
			StartDate:       "2025-12-15",
			EndDate:         &end,
			NumberOfPeople:  2,
			SpecialRequests: &notes,
		}, now)
		require.NoError(t, err)

		acc, ok := req.(AccommodationBooking)
		require.True(t, ok)
		assert.Equal(t, serviceID, acc.ServiceID)
		assert.Equal(t, time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC), acc.CheckIn)
		assert.Equal(t, time.Date(2025, 12, 17, 0, 0, 0, 0, time.UTC), acc.CheckOut)
		assert.Equal(t, 2, req.PartySize())
		assert.Equal(t, &notes, req.Notes())
	})

	t.Run("Tour ignores end date", func(t *testing.T) {
		req, err := ParseBookingRequest(CreateBookingRequest{
			ServiceType:    "TOUR",
			ServiceID:      serviceID.String(),
			StartDate:      "2025-12-20T08:00:00Z",
			EndDate:        &end,
			NumberOfPeople: 3,
		}, now)
		require.NoError(t, err)
		assert.Equal(t, ServiceTypeTour, req.Type())
		assert.Nil(t, req.End())
	})

	t.Run("Transportation", func(t *testing.T) {
		req, err := ParseBookingRequest(CreateBookingRequest{
			ServiceType:    "TRANSPORTATION",
			ServiceID:      serviceID.String(),
			StartDate:      "2025-12-20T08:00:00+02:00",
			NumberOfPeople: 4,
		}, now)
		require.NoError(t, err)
		trip, ok := req.(TransportationBooking)
		require.True(t, ok)
		assert.Equal(t, time.Date(2025, 12, 20, 6, 0, 0, 0, time.UTC), trip.Departure)
	})

	invalid := []struct {
		name string
		req  CreateBookingRequest
		code string
	}{
		{"Unknown type", CreateBookingRequest{ServiceType: "CRUISE", ServiceID: serviceID.String(), StartDate: "2025-12-15", NumberOfPeople: 1}, apperror.CodeInvalidServiceType},
		{"Bad service id", CreateBookingRequest{ServiceType: "TOUR", ServiceID: "abc", StartDate: "2025-12-15", NumberOfPeople: 1}, apperror.CodeValidation},
		{"Missing start", CreateBookingRequest{ServiceType: "TOUR", ServiceID: serviceID.String(), NumberOfPeople: 1}, apperror.CodeValidation},
		{"Past start", CreateBookingRequest{ServiceType: "TOUR", ServiceID: serviceID.String(), StartDate: "2025-11-01", NumberOfPeople: 1}, apperror.CodeValidation},
		{"No people", CreateBookingRequest{ServiceType: "TOUR", ServiceID: serviceID.String(), StartDate: "2025-12-15", NumberOfPeople: 0}, apperror.CodeValidation},
		{"Accommodation without end", CreateBookingRequest{ServiceType: "ACCOMMODATION", ServiceID: serviceID.String(), StartDate: "2025-12-15", NumberOfPeople: 1}, apperror.CodeValidation},
	}

	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBookingRequest(tc.req, now)
			require.Error(t, err)
			appErr, ok := apperror.As(err)
			require.True(t, ok)
			assert.Equal(t, tc.code, appErr.Code)
			assert.Equal(t, apperror.KindValidation, appErr.Kind)
		})
	}

	t.Run("End not after start", func(t *testing.T) {
		same := "2025-12-15"
		_, err := ParseBookingRequest(CreateBookingRequest{
			ServiceType: "ACCOMMODATION", ServiceID: serviceID.String(),
			StartDate: "2025-12-15", EndDate: &same, NumberOfPeople: 1,
		}, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "endDate must be after startDate")
	})
}

func TestPaymentAudit_SetAmounts(t *testing.T) {
	audit := NewPaymentAudit(PaymentEventStatusCheckResponse, PaymentSourcePoll)
	assert.True(t, audit.SetAmounts(200000, 200000.001, "RWF"))
	assert.False(t, audit.SetAmounts(200000, 199000, "RWF"))
	require.NotNil(t, audit.AmountsMatch)
	assert.False(t, *audit.AmountsMatch)
}

func TestNights(t *testing.T) {
	base := time.Date(2025, 12, 15, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{"Two whole days", base.Add(48 * time.Hour), 2},
		{"Partial day rounds up", base.Add(25 * time.Hour), 2},
		{"Under one day", base.Add(3 * time.Hour), 1},
		{"Same instant", base, 0},
		{"End before start", base.Add(-time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Nights(base, tt.end))
		})
	}
}

func TestNightDates(t *testing.T) {
	start := time.Date(2025, 12, 30, 22, 0, 0, 0, time.UTC)
	dates := NightDates(start, 3)
	require.Len(t, dates, 3)
	assert.Equal(t, "2025-12-30", dates[0].Format("2006-01-02"))
	assert.Equal(t, "2026-01-01", dates[2].Format("2006-01-02"))
}
