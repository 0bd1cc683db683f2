package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tembera/booking-backend/internal/models"
)

// BookingStore is the persistence the booking and payment services need.
// Implemented by database.BookingRepository.
type BookingStore interface {
	Create(ctx context.Context, booking *models.Booking) error
	HasOverlap(ctx context.Context, serviceID uuid.UUID, start, end time.Time) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.BookingStatus, reason *string, at time.Time) (*models.Booking, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListCompletable(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error)
}

// ServiceCatalog reads bookable services. Implemented by database.ServiceRepository.
type ServiceCatalog interface {
	GetService(ctx context.Context, serviceType models.ServiceType, id uuid.UUID) (*models.ServiceListing, error)
	ListOverrides(ctx context.Context, accommodationID uuid.UUID, start time.Time, nights int) ([]models.AvailabilityOverride, error)
}

// PaymentStore is implemented by database.PaymentRepository
type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByTransactionID(ctx context.Context, reference string) (*models.Payment, error)
	RecordCheckout(ctx context.Context, reference, redirectURL, externalID string) error
	MarkFailed(ctx context.Context, reference, reason string, externalID *string) (bool, error)
	ConfirmWithBooking(ctx context.Context, reference string, externalID *string, at time.Time) (*models.ConfirmResult, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Payment, error)
}

// UserStore is implemented by database.UserRepository
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AuditLogger is implemented by database.PaymentAuditRepository
type AuditLogger interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// Notifier delivers lifecycle notifications without blocking the caller
type Notifier interface {
	Notify(ctx context.Context, kind models.NotificationKind, booking *models.Booking, extra map[string]interface{})
}
