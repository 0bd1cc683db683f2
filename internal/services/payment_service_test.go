package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tembera/booking-backend/internal/apperror"
	"github.com/tembera/booking-backend/internal/config"
	"github.com/tembera/booking-backend/internal/models"
	"github.com/tembera/booking-backend/pkg/payment"
)

type paymentFixture struct {
	svc      *PaymentService
	bookings *memBookings
	payments *memPayments
	audits   *memAudits
	notifier *recordingNotifier
	gateway  *fakeGateway
	booking  *models.Booking
	pending  *models.Payment
	owner    uuid.UUID
}

func newPaymentFixture(t *testing.T, serviceType models.ServiceType, verified *payment.VerifyResult) *paymentFixture {
	t.Helper()

	owner := uuid.New()
	email := "aline@example.rw"
	first := "Aline"
	booking := &models.Booking{
		ID:             uuid.New(),
		ServiceType:    serviceType,
		ServiceID:      uuid.New(),
		UserID:         owner,
		StartDate:      time.Now().Add(72 * time.Hour),
		NumberOfPeople: 2,
		TotalAmount:    200000,
		Currency:       "RWF",
		Status:         models.BookingStatusPending,
	}
	pending := &models.Payment{
		ID:            uuid.New(),
		TransactionID: "TMB-" + booking.ID.String()[:8] + "-1",
		BookingID:     booking.ID,
		UserID:        owner,
		Amount:        200000,
		Currency:      "RWF",
		Gateway:       "fake",
		Status:        models.PaymentStatusPending,
		CreatedAt:     time.Now().Add(-10 * time.Minute),
	}

	f := &paymentFixture{
		bookings: newMemBookings(booking),
		audits:   &memAudits{},
		notifier: &recordingNotifier{},
		gateway:  &fakeGateway{name: "fake", result: verified},
		booking:  booking,
		pending:  pending,
		owner:    owner,
	}
	f.payments = newMemPayments(f.bookings, pending)

	users := memUsers{owner: {ID: owner, Email: &email, FirstName: &first}}
	cfg := config.PaymentConfig{
		Gateway:      "fake",
		RedirectURL:  "https://api.tembera.rw/api/v1/payments/callback",
		ReferenceTag: "TMB",
		Timeout:      time.Second,
	}
	f.svc = NewPaymentService(f.payments, f.bookings, users, payment.NewRegistry("fake", f.gateway),
		f.audits, f.notifier, cfg, quietLogger())
	return f
}

func paid(amount float64, currency string) *payment.VerifyResult {
	return &payment.VerifyResult{Status: payment.StatusPaid, ExternalID: "884201", Amount: amount, Currency: currency}
}

func TestPaymentService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("Paid Confirms Booking", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "RWF"))

		result, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourceRedirect, ClientInfo{IP: "41.186.1.10"})
		require.NoError(t, err)
		assert.True(t, result.Paid)
		assert.Equal(t, models.PaymentStatusCompleted, result.Status)
		assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)
		assert.Equal(t, models.BookingStatusConfirmed, f.bookings.status(f.booking.ID))
		assert.Equal(t, []models.NotificationKind{models.NotificationBookingConfirmed}, f.notifier.sent())
		assert.Contains(t, f.audits.events(), models.PaymentEventSuccess)
	})

	t.Run("Tour Confirmation Is Silent", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeTour, paid(200000, "RWF"))

		result, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourcePoll, ClientInfo{})
		require.NoError(t, err)
		assert.True(t, result.Paid)
		assert.Empty(t, f.notifier.sent())
	})

	t.Run("Repeated Calls Hit Gateway Once", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "RWF"))

		sources := []models.PaymentEventSource{
			models.PaymentSourceWebhook, models.PaymentSourceRedirect, models.PaymentSourcePoll, models.PaymentSourceSystem,
		}
		var first *models.ReconcileResult
		for _, source := range sources {
			result, err := f.svc.Reconcile(ctx, f.pending.TransactionID, source, ClientInfo{})
			require.NoError(t, err)
			assert.True(t, result.Paid)
			assert.Equal(t, models.PaymentStatusCompleted, result.Status)
			assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)
			if first == nil {
				first = result
				continue
			}
			assert.Equal(t, first, result, "source %s", source)
		}

		assert.Equal(t, 1, f.gateway.verifyCalls())
		assert.Len(t, f.notifier.sent(), 1)
	})

	t.Run("Concurrent Calls Transition Once", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "RWF"))
		f.gateway.delay = 20 * time.Millisecond

		const callers = 8
		var wg sync.WaitGroup
		results := make([]*models.ReconcileResult, callers)
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourcePoll, ClientInfo{})
			}(i)
		}
		wg.Wait()

		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			assert.True(t, results[i].Paid)
			assert.Equal(t, models.BookingStatusConfirmed, results[i].BookingStatus)
		}
		assert.EqualValues(t, 1, f.payments.confirms)
		assert.Equal(t, models.BookingStatusConfirmed, f.bookings.status(f.booking.ID))
		assert.Len(t, f.notifier.sent(), 1)
	})

	t.Run("Declined Leaves Booking Pending", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation,
			&payment.VerifyResult{Status: payment.StatusDeclined, Reason: "insufficient funds"})

		result, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourceWebhook, ClientInfo{})
		require.NoError(t, err)
		assert.False(t, result.Paid)
		assert.Equal(t, models.PaymentStatusFailed, result.Status)
		assert.Equal(t, models.FailureDeclined, result.Reason)
		assert.Equal(t, models.BookingStatusPending, f.bookings.status(f.booking.ID))
		assert.Equal(t, models.BookingStatusPending, result.BookingStatus)
		assert.Equal(t, []models.NotificationKind{models.NotificationPaymentFailed}, f.notifier.sent())

		again, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourceRedirect, ClientInfo{})
		require.NoError(t, err)
		assert.Equal(t, result, again)
		assert.Len(t, f.notifier.sent(), 1)
	})

	t.Run("Pending Stays Pending", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, &payment.VerifyResult{Status: payment.StatusPending})

		result, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourcePoll, ClientInfo{})
		require.NoError(t, err)
		assert.False(t, result.Paid)
		assert.Equal(t, models.PaymentStatusPending, result.Status)
		assert.Equal(t, models.BookingStatusPending, result.BookingStatus)
		assert.Equal(t, models.PaymentStatusPending, f.payments.status(f.pending.TransactionID))
	})

	t.Run("Underpaid Fails Payment", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(150000, "RWF"))

		result, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourceWebhook, ClientInfo{})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, result.Status)
		assert.Equal(t, models.FailureAmountMismatch, result.Reason)
		assert.Equal(t, models.BookingStatusPending, f.bookings.status(f.booking.ID))
		assert.Contains(t, f.audits.events(), models.PaymentEventReconciliationMismatch)
		assert.Empty(t, f.notifier.sent())
	})

	t.Run("Wrong Currency Fails Payment", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "USD"))

		result, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourceWebhook, ClientInfo{})
		require.NoError(t, err)
		assert.Equal(t, models.FailureAmountMismatch, result.Reason)
		assert.Empty(t, f.notifier.sent())
	})

	t.Run("Gateway Error Keeps Pending", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, nil)
		f.gateway.verifyErr = errors.New("connection reset")

		result, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourcePoll, ClientInfo{})
		require.NoError(t, err)
		assert.False(t, result.Paid)
		assert.Equal(t, models.PaymentStatusPending, result.Status)
		assert.Equal(t, models.BookingStatusPending, result.BookingStatus)
		assert.Contains(t, f.audits.events(), models.PaymentEventError)
	})

	t.Run("Second Settled Payment Is Flagged", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "RWF"))
		_, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourceWebhook, ClientInfo{})
		require.NoError(t, err)

		second := *f.pending
		second.ID = uuid.New()
		second.TransactionID = f.pending.TransactionID + "-b"
		second.Status = models.PaymentStatusPending
		require.NoError(t, f.payments.Create(ctx, &second))

		result, err := f.svc.Reconcile(ctx, second.TransactionID, models.PaymentSourceWebhook, ClientInfo{})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, result.Status)
		assert.Equal(t, models.FailureDuplicatePayment, result.Reason)
		assert.Equal(t, models.BookingStatusConfirmed, result.BookingStatus)
		assert.Equal(t, models.BookingStatusConfirmed, f.bookings.status(f.booking.ID))
		assert.NotContains(t, f.notifier.sent(), models.NotificationPaymentFailed)
	})

	t.Run("Booking Cancelled Before Payment Settled", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "RWF"))
		_, err := f.bookings.UpdateStatus(ctx, f.booking.ID, models.BookingStatusPending, models.BookingStatusCancelled, nil, time.Now())
		require.NoError(t, err)

		result, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourceWebhook, ClientInfo{})
		require.NoError(t, err)
		assert.True(t, result.Paid)
		assert.Equal(t, models.BookingStatusCancelled, result.BookingStatus)
		assert.Equal(t, models.BookingStatusCancelled, f.bookings.status(f.booking.ID))
		assert.Contains(t, f.audits.events(), models.PaymentEventReconciliationMismatch)
		assert.Empty(t, f.notifier.sent())

		again, err := f.svc.Reconcile(ctx, f.pending.TransactionID, models.PaymentSourcePoll, ClientInfo{})
		require.NoError(t, err)
		assert.Equal(t, result, again)
		assert.Equal(t, 1, f.gateway.verifyCalls())
	})

	t.Run("Unknown Reference", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "RWF"))

		_, err := f.svc.Reconcile(ctx, "TMB-nope", models.PaymentSourcePoll, ClientInfo{})
		assertCode(t, err, apperror.CodePaymentNotFound)
		assert.Zero(t, f.gateway.verifyCalls())
	})

	t.Run("Blank Reference", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "RWF"))

		_, err := f.svc.Reconcile(ctx, "  ", models.PaymentSourcePoll, ClientInfo{})
		assertCode(t, err, apperror.CodeValidation)
	})
}

// A stay paid through the hosted checkout and confirmed by the webhook,
// with the redirect and a later poll answered from storage.
func TestPaymentService_InitiateThenWebhook(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "RWF"))

	resp, err := f.svc.InitiatePayment(ctx, f.owner, false, models.InitiatePaymentRequest{
		BookingID: f.booking.ID.String(),
		Amount:    floatPtr(200000),
		Currency:  "rwf",
	}, ClientInfo{IP: "41.186.1.10", UserAgent: "Mozilla/5.0 (Linux; Android 13) Mobile Safari/537.36"})
	require.NoError(t, err)
	assert.Equal(t, "fake", resp.Gateway)
	assert.Equal(t, "https://checkout.example.com/pay/"+resp.Reference, resp.RedirectLink)
	assert.Contains(t, resp.Reference, "TMB-"+f.booking.ID.String()[:8])
	assert.Equal(t, models.PaymentStatusPending, f.payments.status(resp.Reference))

	webhook, err := f.svc.Reconcile(ctx, resp.Reference, models.PaymentSourceWebhook, ClientInfo{})
	require.NoError(t, err)
	assert.True(t, webhook.Paid)

	redirect, err := f.svc.Reconcile(ctx, resp.Reference, models.PaymentSourceRedirect, ClientInfo{})
	require.NoError(t, err)
	assert.True(t, redirect.Paid)

	assert.Equal(t, 1, f.gateway.verifyCalls())
	assert.Equal(t, models.BookingStatusConfirmed, f.bookings.status(f.booking.ID))

	events := f.audits.events()
	assert.Contains(t, events, models.PaymentEventInitiated)
	assert.Contains(t, events, models.PaymentEventWebhookReceived)
	assert.Contains(t, events, models.PaymentEventSuccess)
}

func TestPaymentService_InitiatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Gateway Down Marks Payment Failed", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeTour, nil)
		f.gateway.initiateErr = &payment.Error{Gateway: "fake", StatusCode: 503, Message: "unavailable"}

		_, err := f.svc.InitiatePayment(ctx, f.owner, false, models.InitiatePaymentRequest{BookingID: f.booking.ID.String()}, ClientInfo{})
		assert.Equal(t, apperror.KindGatewayTransient, apperror.KindOf(err))

		var failed *models.Payment
		for _, p := range f.payments.rows {
			if p.TransactionID != f.pending.TransactionID {
				failed = p
			}
		}
		require.NotNil(t, failed)
		assert.Equal(t, models.PaymentStatusFailed, failed.Status)
		require.NotNil(t, failed.FailureReason)
		assert.Equal(t, models.FailureInitiationFailed, *failed.FailureReason)
		assert.Contains(t, f.audits.events(), models.PaymentEventInitiationFailed)
	})

	t.Run("Gateway Not Configured", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeTour, nil)
		f.gateway.initiateErr = fmt.Errorf("flutterwave: %w", payment.ErrNotConfigured)

		_, err := f.svc.InitiatePayment(ctx, f.owner, false, models.InitiatePaymentRequest{BookingID: f.booking.ID.String()}, ClientInfo{})
		assert.Equal(t, apperror.KindGatewayConfig, apperror.KindOf(err))
	})

	t.Run("Amount Must Match Booking", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeTour, nil)

		_, err := f.svc.InitiatePayment(ctx, f.owner, false, models.InitiatePaymentRequest{
			BookingID: f.booking.ID.String(),
			Amount:    floatPtr(1000),
		}, ClientInfo{})
		assertCode(t, err, apperror.CodeAmountMismatch)
		assert.Zero(t, f.gateway.initiates)
	})

	t.Run("Other Users Booking", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeTour, nil)

		_, err := f.svc.InitiatePayment(ctx, uuid.New(), false, models.InitiatePaymentRequest{BookingID: f.booking.ID.String()}, ClientInfo{})
		assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

		_, err = f.svc.InitiatePayment(ctx, uuid.New(), true, models.InitiatePaymentRequest{BookingID: f.booking.ID.String()}, ClientInfo{})
		assert.NoError(t, err)
	})

	t.Run("Booking Not Pending", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeTour, nil)
		_, err := f.bookings.UpdateStatus(ctx, f.booking.ID, models.BookingStatusPending, models.BookingStatusCancelled, nil, time.Now())
		require.NoError(t, err)

		_, err = f.svc.InitiatePayment(ctx, f.owner, false, models.InitiatePaymentRequest{BookingID: f.booking.ID.String()}, ClientInfo{})
		assertCode(t, err, apperror.CodeInvalidTransition)
	})

	t.Run("Unsupported Gateway", func(t *testing.T) {
		f := newPaymentFixture(t, models.ServiceTypeTour, nil)

		_, err := f.svc.InitiatePayment(ctx, f.owner, false, models.InitiatePaymentRequest{
			BookingID: f.booking.ID.String(),
			Gateway:   "paypal",
		}, ClientInfo{})
		assertCode(t, err, apperror.CodeValidation)
	})
}

func TestPaymentService_SweepPending(t *testing.T) {
	f := newPaymentFixture(t, models.ServiceTypeAccommodation, paid(200000, "RWF"))

	fresh := &models.Payment{
		ID:            uuid.New(),
		TransactionID: "TMB-fresh",
		BookingID:     f.booking.ID,
		Amount:        200000,
		Currency:      "RWF",
		Gateway:       "fake",
		Status:        models.PaymentStatusPending,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, f.payments.Create(context.Background(), fresh))

	summary, err := f.svc.SweepPending(context.Background(), 2*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, models.PaymentStatusPending, f.payments.status(fresh.TransactionID))
	assert.Equal(t, models.BookingStatusConfirmed, f.bookings.status(f.booking.ID))
}

func TestNewPaymentReference(t *testing.T) {
	id := uuid.MustParse("3f2b8c1e-0000-4000-8000-000000000001")

	a := NewPaymentReference("TMB", id)
	b := NewPaymentReference("TMB", id)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "TMB-3f2b8c1e-")
	assert.Contains(t, NewPaymentReference("", id), "TMB-")
}
