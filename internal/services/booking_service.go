package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/apperror"
	"github.com/tembera/booking-backend/internal/config"
	"github.com/tembera/booking-backend/internal/database"
	"github.com/tembera/booking-backend/internal/metrics"
	"github.com/tembera/booking-backend/internal/models"
)

// BookingService owns the booking lifecycle outside of payment confirmation
type BookingService struct {
	bookings BookingStore
	catalog  ServiceCatalog
	notifier Notifier
	config   config.BookingConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewBookingService creates a new BookingService
func NewBookingService(
	bookings BookingStore,
	catalog ServiceCatalog,
	notifier Notifier,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		bookings: bookings,
		catalog:  catalog,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Create validates, prices and stores a PENDING booking for userID
func (s *BookingService) Create(ctx context.Context, userID uuid.UUID, raw models.CreateBookingRequest) (*models.Booking, error) {
	now := s.now()

	req, err := models.ParseBookingRequest(raw, now)
	if err != nil {
		return nil, err
	}

	service, err := s.catalog.GetService(ctx, req.Type(), req.Service())
	if err != nil {
		return nil, apperror.Internal("failed to load service", err)
	}
	if service == nil {
		return nil, apperror.NotFound(apperror.CodeServiceNotFound, fmt.Sprintf("%s not found", req.Type()))
	}
	if !service.Bookable() {
		return nil, apperror.Conflict(apperror.CodeServiceUnavailable, "Service is not available for booking")
	}

	var overrides []models.AvailabilityOverride
	if req.Type().IsDateRanged() {
		overrides, err = s.catalog.ListOverrides(ctx, service.ID, req.Start(), models.Nights(req.Start(), *req.End()))
		if err != nil {
			return nil, apperror.Internal("failed to load availability records", err)
		}
	}

	quote, err := CalculatePrice(req, service, overrides, s.config.DefaultCurrency)
	if err != nil {
		return nil, err
	}

	booking := &models.Booking{
		ID:              uuid.New(),
		ServiceType:     req.Type(),
		ServiceID:       req.Service(),
		UserID:          userID,
		StartDate:       req.Start(),
		EndDate:         req.End(),
		NumberOfPeople:  req.PartySize(),
		SpecialRequests: req.Notes(),
		TotalAmount:     quote.Amount,
		Currency:        quote.Currency,
		Status:          models.BookingStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, mapStoreError(err)
	}

	metrics.IncBookingCreated(string(booking.ServiceType))
	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"service_type": booking.ServiceType,
		"service_id":   booking.ServiceID,
		"user_id":      userID,
		"amount":       booking.TotalAmount,
		"currency":     booking.Currency,
	}).Info("Booking created")

	if NotifiesOnCreate(booking.ServiceType) {
		s.notifier.Notify(ctx, models.NotificationBookingCreated, booking, nil)
	}

	return booking, nil
}

// Get returns a booking visible to the caller
func (s *BookingService) Get(ctx context.Context, id, callerID uuid.UUID, isAdmin bool) (*models.Booking, error) {
	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && booking.UserID != callerID {
		return nil, apperror.Forbidden("You can only view your own bookings")
	}
	return booking, nil
}

// Cancel cancels the caller's booking while the cancellation window is open
func (s *BookingService) Cancel(ctx context.Context, id, callerID uuid.UUID, reason *string) (*models.Booking, error) {
	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.UserID != callerID {
		return nil, apperror.Forbidden("You can only cancel your own bookings")
	}
	if !booking.Status.CanTransitionTo(models.BookingStatusCancelled) {
		return nil, apperror.Conflict(apperror.CodeInvalidTransition,
			fmt.Sprintf("Cannot cancel a %s booking", booking.Status))
	}

	now := s.now()
	if !now.Before(booking.StartDate.Add(-s.config.CancellationWindow)) {
		return nil, apperror.Conflict(apperror.CodeCancellationWindow,
			fmt.Sprintf("Bookings can only be cancelled more than %s before the start", formatWindow(s.config.CancellationWindow)))
	}

	updated, err := s.transition(ctx, booking, models.BookingStatusCancelled, reason, now)
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, models.NotificationBookingCancelled, updated, reasonPayload(reason))
	return updated, nil
}

// AdminUpdateStatus applies an administrative override. CONFIRMED is reserved for
// payment reconciliation.
func (s *BookingService) AdminUpdateStatus(ctx context.Context, id uuid.UUID, to models.BookingStatus, reason *string) (*models.Booking, error) {
	if !to.IsValid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown booking status %q", to))
	}
	if to == models.BookingStatusConfirmed {
		return nil, apperror.Conflict(apperror.CodeInvalidTransition, "Bookings are confirmed by a completed payment only")
	}

	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(to) {
		return nil, apperror.Conflict(apperror.CodeInvalidTransition,
			fmt.Sprintf("Cannot move booking from %s to %s", booking.Status, to))
	}

	updated, err := s.transition(ctx, booking, to, reason, s.now())
	if err != nil {
		return nil, err
	}

	if to == models.BookingStatusCancelled {
		s.notifier.Notify(ctx, models.NotificationBookingCancelled, updated, reasonPayload(reason))
	}
	return updated, nil
}

// Delete hard-deletes a terminal booking and its payments
func (s *BookingService) Delete(ctx context.Context, id uuid.UUID) error {
	booking, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !booking.Status.IsTerminal() {
		return apperror.Conflict(apperror.CodeInvalidTransition,
			fmt.Sprintf("Only cancelled, completed or refunded bookings can be deleted (status %s)", booking.Status))
	}

	if err := s.bookings.Delete(ctx, id); err != nil {
		return mapStoreError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": id,
		"status":     booking.Status,
	}).Warn("Booking deleted by admin")
	return nil
}

// CompleteEnded moves CONFIRMED bookings whose last day passed more than grace ago to COMPLETED.
// Returns how many bookings were completed.
func (s *BookingService) CompleteEnded(ctx context.Context, grace time.Duration, limit int) (int, error) {
	now := s.now()
	candidates, err := s.bookings.ListCompletable(ctx, now.Add(-grace), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list completable bookings: %w", err)
	}

	completed := 0
	for _, b := range candidates {
		if _, err := s.bookings.UpdateStatus(ctx, b.ID, models.BookingStatusConfirmed, models.BookingStatusCompleted, nil, now); err != nil {
			if errors.Is(err, database.ErrStatusChanged) {
				continue
			}
			s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to complete booking")
			continue
		}
		metrics.IncBookingTransition(string(models.BookingStatusCompleted))
		completed++
	}
	return completed, nil
}

func (s *BookingService) load(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Internal("failed to load booking", err)
	}
	if booking == nil {
		return nil, apperror.NotFound(apperror.CodeBookingNotFound, "Booking not found")
	}
	return booking, nil
}

func (s *BookingService) transition(ctx context.Context, booking *models.Booking, to models.BookingStatus, reason *string, at time.Time) (*models.Booking, error) {
	updated, err := s.bookings.UpdateStatus(ctx, booking.ID, booking.Status, to, reason, at)
	if err != nil {
		return nil, mapStoreError(err)
	}

	metrics.IncBookingTransition(string(to))
	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"from":       booking.Status,
		"to":         to,
	}).Info("Booking status changed")
	return updated, nil
}

// mapStoreError turns repository sentinels into API errors
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, database.ErrDateConflict):
		return apperror.Conflict(apperror.CodeDateConflict, "Service is already booked for the selected dates")
	case errors.Is(err, database.ErrDatesBlocked):
		return apperror.Conflict(apperror.CodeServiceUnavailable, "Service is not available on the selected dates")
	case errors.Is(err, database.ErrServiceUnavailable):
		return apperror.Conflict(apperror.CodeServiceUnavailable, "Service is not available for booking")
	case errors.Is(err, database.ErrServiceNotFound):
		return apperror.NotFound(apperror.CodeServiceNotFound, "Service not found")
	case errors.Is(err, database.ErrStatusChanged), errors.Is(err, database.ErrTransactionConflict):
		return apperror.Wrap(apperror.KindConflict, apperror.CodeConcurrentModification,
			"The booking was modified concurrently, please retry", err)
	case errors.Is(err, database.ErrPendingPayments):
		return apperror.Conflict(apperror.CodePendingPayments, "Booking has payments still in progress")
	case errors.Is(err, database.ErrDuplicateReference):
		return apperror.Wrap(apperror.KindConflict, apperror.CodeDuplicate, "Resource already exists", err)
	}
	return apperror.Internal("database operation failed", err)
}

func reasonPayload(reason *string) map[string]interface{} {
	if reason == nil || *reason == "" {
		return nil
	}
	return map[string]interface{}{"reason": *reason}
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}
