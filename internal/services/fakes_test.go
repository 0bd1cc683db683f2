package services

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/database"
	"github.com/tembera/booking-backend/internal/models"
	"github.com/tembera/booking-backend/pkg/payment"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// memBookings mirrors the repository's guarded updates and overlap check
type memBookings struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Booking
}

func newMemBookings(bookings ...*models.Booking) *memBookings {
	m := &memBookings{rows: make(map[uuid.UUID]*models.Booking)}
	for _, b := range bookings {
		m.rows[b.ID] = b
	}
	return m
}

func (m *memBookings) Create(ctx context.Context, booking *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if booking.ServiceType.IsDateRanged() && m.overlapLocked(booking.ServiceID, booking.StartDate, booking.LastDay()) {
		return database.ErrDateConflict
	}
	copied := *booking
	m.rows[booking.ID] = &copied
	return nil
}

func (m *memBookings) HasOverlap(ctx context.Context, serviceID uuid.UUID, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlapLocked(serviceID, start, end), nil
}

func (m *memBookings) overlapLocked(serviceID uuid.UUID, start, end time.Time) bool {
	for _, b := range m.rows {
		if b.ServiceID != serviceID || !b.Status.IsActive() {
			continue
		}
		if b.StartDate.Before(end) && start.Before(b.LastDay()) {
			return true
		}
	}
	return false
}

func (m *memBookings) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (m *memBookings) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.BookingStatus, reason *string, at time.Time) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.Status != from {
		return nil, database.ErrStatusChanged
	}
	b.Status = to
	b.UpdatedAt = at
	if to == models.BookingStatusCancelled {
		b.CancelledAt = &at
		b.CancellationReason = reason
	}
	copied := *b
	return &copied, nil
}

func (m *memBookings) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memBookings) ListCompletable(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Booking
	for _, b := range m.rows {
		if b.Status == models.BookingStatusConfirmed && b.LastDay().Before(cutoff) {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memBookings) status(id uuid.UUID) models.BookingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Status
}

// memPayments confirms payment and booking under one lock, like the repository transaction
type memPayments struct {
	mu       sync.Mutex
	rows     map[string]*models.Payment
	bookings *memBookings
	confirms int32
}

func newMemPayments(bookings *memBookings, payments ...*models.Payment) *memPayments {
	m := &memPayments{rows: make(map[string]*models.Payment), bookings: bookings}
	for _, p := range payments {
		m.rows[p.TransactionID] = p
	}
	return m
}

func (m *memPayments) Create(ctx context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.TransactionID]; ok {
		return database.ErrDuplicateReference
	}
	copied := *p
	m.rows[p.TransactionID] = &copied
	return nil
}

func (m *memPayments) GetByTransactionID(ctx context.Context, reference string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[reference]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (m *memPayments) RecordCheckout(ctx context.Context, reference, redirectURL, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[reference]; ok {
		p.RedirectURL = &redirectURL
	}
	return nil
}

func (m *memPayments) MarkFailed(ctx context.Context, reference, reason string, externalID *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[reference]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusFailed
	p.FailureReason = &reason
	return true, nil
}

func (m *memPayments) ConfirmWithBooking(ctx context.Context, reference string, externalID *string, at time.Time) (*models.ConfirmResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.rows[reference]
	if !ok || p.Status != models.PaymentStatusPending {
		return &models.ConfirmResult{}, nil
	}
	for _, other := range m.rows {
		if other.BookingID == p.BookingID && other.Status == models.PaymentStatusCompleted {
			return nil, database.ErrDuplicateReference
		}
	}

	p.Status = models.PaymentStatusCompleted
	p.ExternalTransactionID = externalID
	p.CompletedAt = &at
	atomic.AddInt32(&m.confirms, 1)

	result := &models.ConfirmResult{PaymentConfirmed: true, BookingID: p.BookingID}
	if _, err := m.bookings.UpdateStatus(ctx, p.BookingID, models.BookingStatusPending, models.BookingStatusConfirmed, nil, at); err == nil {
		result.BookingConfirmed = true
	}
	return result, nil
}

func (m *memPayments) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Payment
	for _, p := range m.rows {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memPayments) status(reference string) models.PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[reference].Status
}

// memUsers serves fixed profiles
type memUsers map[uuid.UUID]*models.User

func (m memUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m[id], nil
}

// memAudits records audit entries
type memAudits struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (m *memAudits) Log(ctx context.Context, audit *models.PaymentAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, audit)
	return nil
}

func (m *memAudits) events() []models.PaymentEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PaymentEventType, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.EventType)
	}
	return out
}

// memCatalog serves listings and per-night overrides
type memCatalog struct {
	services  map[uuid.UUID]*models.ServiceListing
	overrides []models.AvailabilityOverride
}

func (m *memCatalog) GetService(ctx context.Context, serviceType models.ServiceType, id uuid.UUID) (*models.ServiceListing, error) {
	s, ok := m.services[id]
	if !ok || s.Type != serviceType {
		return nil, nil
	}
	return s, nil
}

func (m *memCatalog) ListOverrides(ctx context.Context, accommodationID uuid.UUID, start time.Time, nights int) ([]models.AvailabilityOverride, error) {
	var out []models.AvailabilityOverride
	for _, o := range m.overrides {
		if o.AccommodationID == accommodationID {
			out = append(out, o)
		}
	}
	return out, nil
}

// recordingNotifier captures notifications synchronously
type recordingNotifier struct {
	mu    sync.Mutex
	kinds []models.NotificationKind
}

func (n *recordingNotifier) Notify(ctx context.Context, kind models.NotificationKind, booking *models.Booking, extra map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func (n *recordingNotifier) sent() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.NotificationKind(nil), n.kinds...)
}

// fakeGateway answers Verify from a fixed result and counts calls
type fakeGateway struct {
	name        string
	result      *payment.VerifyResult
	verifyErr   error
	initiateErr error
	delay       time.Duration
	verifies    int32
	initiates   int32
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	atomic.AddInt32(&g.initiates, 1)
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &payment.InitiateResult{
		RedirectURL:       "https://checkout.example.com/pay/" + req.Reference,
		ExternalReference: "ext-" + req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*payment.VerifyResult, error) {
	atomic.AddInt32(&g.verifies, 1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	result := *g.result
	return &result, nil
}

func (g *fakeGateway) verifyCalls() int {
	return int(atomic.LoadInt32(&g.verifies))
}
