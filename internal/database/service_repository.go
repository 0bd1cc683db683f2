package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tembera/booking-backend/internal/models"
)

// serviceQueries reads each catalog table into the common ServiceListing shape
var serviceQueries = map[models.ServiceType]string{
	models.ServiceTypeAccommodation: `
		SELECT id, 'ACCOMMODATION' AS type, name, price_per_night AS rate, currency, is_available, is_verified
		FROM accommodations WHERE id = $1`,
	models.ServiceTypeTransportation: `
		SELECT id, 'TRANSPORTATION' AS type, name, price_per_trip AS rate, currency, is_available, is_verified
		FROM transportations WHERE id = $1`,
	models.ServiceTypeTour: `
		SELECT id, 'TOUR' AS type, name, price_per_person AS rate, currency, is_available, is_verified
		FROM tours WHERE id = $1`,
}

// ServiceRepository reads the bookable catalog
type ServiceRepository struct {
	db *sqlx.DB
}

// NewServiceRepository creates a new ServiceRepository
func NewServiceRepository(db *sqlx.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

// GetService retrieves a service by type and ID. Returns (nil, nil) when absent.
func (r *ServiceRepository) GetService(ctx context.Context, serviceType models.ServiceType, id uuid.UUID) (*models.ServiceListing, error) {
	query, ok := serviceQueries[serviceType]
	if !ok {
		return nil, fmt.Errorf("unknown service type: %s", serviceType)
	}

	var service models.ServiceListing
	if err := r.db.GetContext(ctx, &service, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", serviceType, err)
	}
	return &service, nil
}

// ListOverrides returns explicit availability records for the given nights
func (r *ServiceRepository) ListOverrides(ctx context.Context, accommodationID uuid.UUID, start time.Time, nights int) ([]models.AvailabilityOverride, error) {
	query := `
		SELECT accommodation_id, date, is_available, price_override
		FROM accommodation_availability
		WHERE accommodation_id = $1
		  AND date >= $2::date
		  AND date < $2::date + $3::int
		ORDER BY date`

	var overrides []models.AvailabilityOverride
	if err := r.db.SelectContext(ctx, &overrides, query, accommodationID, start.UTC().Format("2006-01-02"), nights); err != nil {
		return nil, fmt.Errorf("failed to list availability records: %w", err)
	}
	return overrides, nil
}
