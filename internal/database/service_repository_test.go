package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tembera/booking-backend/internal/models"
)

func TestServiceRepository_GetService(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewServiceRepository(db)

	columns := []string{"id", "type", "name", "rate", "currency", "is_available", "is_verified"}

	t.Run("Tour", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectQuery(`SELECT (.+) price_per_person AS rate, (.+) FROM tours WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(id.String(), "TOUR", "Nyungwe canopy walk", 35000.0, "RWF", true, true))

		svc, err := repo.GetService(ctx, models.ServiceTypeTour, id)
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.Equal(t, models.ServiceTypeTour, svc.Type)
		assert.Equal(t, 35000.0, svc.Rate)
		assert.True(t, svc.Bookable())
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery(`FROM accommodations`).
			WillReturnRows(sqlmock.NewRows(columns))

		svc, err := repo.GetService(ctx, models.ServiceTypeAccommodation, uuid.New())
		assert.NoError(t, err)
		assert.Nil(t, svc)
	})

	t.Run("Unknown Type", func(t *testing.T) {
		_, err := repo.GetService(ctx, models.ServiceType("BOAT"), uuid.New())
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceRepository_ListOverrides(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewServiceRepository(db)

	accID := uuid.New()
	start := time.Date(2025, 12, 15, 14, 0, 0, 0, time.UTC)
	night := time.Date(2025, 12, 16, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM accommodation_availability`).
		WithArgs(accID, "2025-12-15", 2).
		WillReturnRows(sqlmock.NewRows([]string{"accommodation_id", "date", "is_available", "price_override"}).
			AddRow(accID.String(), night, true, 120000.0))

	overrides, err := repo.ListOverrides(ctx, accID, start, 2)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	require.NotNil(t, overrides[0].PriceOverride)
	assert.Equal(t, 120000.0, *overrides[0].PriceOverride)
	assert.NoError(t, mock.ExpectationsWereMet())
}
