package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/apperror"
	"github.com/tembera/booking-backend/internal/config"
	"github.com/tembera/booking-backend/internal/database"
	"github.com/tembera/booking-backend/internal/metrics"
	"github.com/tembera/booking-backend/internal/models"
	"github.com/tembera/booking-backend/internal/utils"
	"github.com/tembera/booking-backend/pkg/payment"
)

// amountTolerance absorbs float rounding between our totals and gateway amounts
const amountTolerance = 0.01

// ClientInfo identifies where a payment request came from, for the audit trail
type ClientInfo struct {
	IP        string
	UserAgent string
}

// SweepSummary counts what one pending-payment sweep did
type SweepSummary struct {
	Checked   int
	Completed int
	Failed    int
	Pending   int
	Errors    int
}

// PaymentService initiates payments and reconciles them against the gateways.
// Reconcile is the single place a payment leaves PENDING after initiation.
type PaymentService struct {
	payments PaymentStore
	bookings BookingStore
	users    UserStore
	gateways *payment.Registry
	audits   AuditLogger
	notifier Notifier
	config   config.PaymentConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	payments PaymentStore,
	bookings BookingStore,
	users UserStore,
	gateways *payment.Registry,
	audits AuditLogger,
	notifier Notifier,
	cfg config.PaymentConfig,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		payments: payments,
		bookings: bookings,
		users:    users,
		gateways: gateways,
		audits:   audits,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// NewPaymentReference builds a fresh gateway reference for one payment attempt
func NewPaymentReference(tag string, bookingID uuid.UUID) string {
	if tag == "" {
		tag = "TMB"
	}
	return fmt.Sprintf("%s-%s-%s", tag, bookingID.String()[:8], uuid.NewString())
}

// InitiatePayment records a PENDING payment for a PENDING booking and opens a hosted checkout
func (s *PaymentService) InitiatePayment(ctx context.Context, callerID uuid.UUID, isAdmin bool, req models.InitiatePaymentRequest, client ClientInfo) (*models.InitiatePaymentResponse, error) {
	bookingID, err := uuid.Parse(strings.TrimSpace(req.BookingID))
	if err != nil {
		return nil, apperror.Validation("bookingId must be a valid UUID")
	}

	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, apperror.Internal("failed to load booking", err)
	}
	if booking == nil {
		return nil, apperror.NotFound(apperror.CodeBookingNotFound, "Booking not found")
	}
	if !isAdmin && booking.UserID != callerID {
		return nil, apperror.Forbidden("You can only pay for your own bookings")
	}

	user, err := s.users.GetByID(ctx, booking.UserID)
	if err != nil {
		return nil, apperror.Internal("failed to load user", err)
	}
	if user == nil {
		return nil, apperror.NotFound(apperror.CodeUserNotFound, "Booking owner not found")
	}

	if booking.Status != models.BookingStatusPending {
		return nil, apperror.Conflict(apperror.CodeInvalidTransition,
			fmt.Sprintf("Cannot pay for a %s booking", booking.Status))
	}

	if req.Amount != nil && math.Abs(*req.Amount-booking.TotalAmount) >= amountTolerance {
		return nil, apperror.New(apperror.KindValidation, apperror.CodeAmountMismatch,
			fmt.Sprintf("amount must equal the booking total %.2f %s", booking.TotalAmount, booking.Currency))
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, booking.Currency) {
		return nil, apperror.New(apperror.KindValidation, apperror.CodeAmountMismatch,
			fmt.Sprintf("currency must be %s", booking.Currency))
	}

	gatewayName := req.Gateway
	if gatewayName == "" {
		gatewayName = s.config.Gateway
	}
	gateway, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("unsupported payment gateway %q", gatewayName))
	}

	customer := user.AsCustomer()
	if req.Customer != nil {
		customer = mergeCustomer(customer, *req.Customer)
	}

	method := req.Method
	if method == "" {
		method = "card"
	}

	now := s.now()
	p := &models.Payment{
		ID:            uuid.New(),
		TransactionID: NewPaymentReference(s.config.ReferenceTag, booking.ID),
		BookingID:     booking.ID,
		UserID:        booking.UserID,
		Amount:        booking.TotalAmount,
		Currency:      booking.Currency,
		Method:        method,
		Gateway:       gateway.Name(),
		Status:        models.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, mapStoreError(err)
	}

	start := time.Now()
	result, err := gateway.Initiate(ctx, payment.InitiateRequest{
		Reference: p.TransactionID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Customer: payment.Customer{
			Name:  customer.Name,
			Email: customer.Email,
			Phone: customer.Phone,
		},
		Description: fmt.Sprintf("Booking %s (%s)", booking.Reference(), strings.ToLower(string(booking.ServiceType))),
		RedirectURL: s.callbackURL(p.TransactionID),
		Meta: map[string]string{
			"booking_id": booking.ID.String(),
			"payment_id": p.ID.String(),
		},
	})
	metrics.ObserveGateway(gateway.Name(), "initiate", time.Since(start).Seconds())

	if err != nil {
		if _, markErr := s.payments.MarkFailed(ctx, p.TransactionID, models.FailureInitiationFailed, nil); markErr != nil {
			s.logger.WithError(markErr).WithField("reference", p.TransactionID).Error("Failed to mark payment as failed")
		}
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventInitiationFailed, models.PaymentSourceBackend).
			ForPayment(p).
			SetError(err.Error()).
			SetClient(client.IP, client.UserAgent, utils.DeviceType(client.UserAgent)).
			SetProcessingTime(start))

		s.logger.WithError(err).WithFields(logrus.Fields{
			"reference": p.TransactionID,
			"gateway":   p.Gateway,
		}).Error("Payment initiation failed")

		if errors.Is(err, payment.ErrNotConfigured) {
			return nil, apperror.GatewayConfig("Payment gateway is not configured", err)
		}
		return nil, apperror.GatewayTransient("Payment gateway is unavailable, please try again", err)
	}

	if err := s.payments.RecordCheckout(ctx, p.TransactionID, result.RedirectURL, result.ExternalReference); err != nil {
		s.logger.WithError(err).WithField("reference", p.TransactionID).Warn("Failed to store checkout link")
	}

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend).
		ForPayment(p).
		SetGatewayTransaction(result.ExternalReference).
		SetClient(client.IP, client.UserAgent, utils.DeviceType(client.UserAgent)).
		SetProcessingTime(start))

	s.logger.WithFields(logrus.Fields{
		"reference":  p.TransactionID,
		"booking_id": booking.ID,
		"gateway":    p.Gateway,
		"amount":     p.Amount,
		"currency":   p.Currency,
	}).Info("Payment initiated")

	return &models.InitiatePaymentResponse{
		RedirectLink: result.RedirectURL,
		Reference:    p.TransactionID,
		PaymentID:    p.ID,
		Gateway:      p.Gateway,
	}, nil
}

// Reconcile brings the stored payment in line with the gateway. Terminal payments are
// answered from storage without calling the gateway, so repeated calls are safe from
// any entry point.
func (s *PaymentService) Reconcile(ctx context.Context, reference string, source models.PaymentEventSource, client ClientInfo) (*models.ReconcileResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperror.Validation("reference is required")
	}

	start := time.Now()
	p, err := s.payments.GetByTransactionID(ctx, reference)
	if err != nil {
		return nil, apperror.Internal("failed to load payment", err)
	}
	if p == nil {
		metrics.IncReconciliation(string(source), "not_found")
		return nil, apperror.NotFound(apperror.CodePaymentNotFound, "Payment not found")
	}

	newAudit := func(event models.PaymentEventType) *models.PaymentAudit {
		return models.NewPaymentAudit(event, source).
			ForPayment(p).
			SetClient(client.IP, client.UserAgent, utils.DeviceType(client.UserAgent))
	}

	if p.Status.IsTerminal() {
		metrics.IncReconciliation(string(source), "already_"+strings.ToLower(string(p.Status)))
		s.audit(ctx, newAudit(eventFor(source)).
			SetPaymentStatus(string(p.Status)).
			MarkAsDuplicate().
			SetProcessingTime(start))
		return s.resultFor(ctx, p, nil), nil
	}

	gateway, err := s.gateways.Get(p.Gateway)
	if err != nil {
		s.logger.WithError(err).WithField("reference", reference).Error("Payment references an unregistered gateway")
		metrics.IncReconciliation(string(source), "error")
		return s.resultFor(ctx, p, nil), nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout())
	verified, err := gateway.Verify(verifyCtx, reference)
	cancel()
	metrics.ObserveGateway(gateway.Name(), "verify", time.Since(start).Seconds())

	if err != nil {
		// Unknown outcome: leave the payment PENDING for the next poll or sweep
		s.logger.WithError(err).WithFields(logrus.Fields{
			"reference": reference,
			"gateway":   gateway.Name(),
			"source":    source,
		}).Warn("Gateway verification failed")
		s.audit(ctx, newAudit(models.PaymentEventError).
			SetError(err.Error()).
			SetProcessingTime(start))
		metrics.IncReconciliation(string(source), "gateway_error")
		return s.resultFor(ctx, p, nil), nil
	}

	s.audit(ctx, newAudit(eventFor(source)).
		SetPaymentStatus(string(verified.Status)).
		SetGatewayTransaction(verified.ExternalID).
		SetResponsePayload(verified.Raw).
		SetProcessingTime(start))

	var externalID *string
	if verified.ExternalID != "" {
		externalID = &verified.ExternalID
	}

	switch verified.Status {
	case payment.StatusPaid:
		return s.settle(ctx, p, verified, externalID, source, newAudit)
	case payment.StatusDeclined:
		return s.decline(ctx, p, models.FailureDeclined, verified.Reason, externalID, source, newAudit(models.PaymentEventFailed))
	default:
		metrics.IncReconciliation(string(source), "pending")
		return s.resultFor(ctx, p, nil), nil
	}
}

func (s *PaymentService) settle(
	ctx context.Context,
	p *models.Payment,
	verified *payment.VerifyResult,
	externalID *string,
	source models.PaymentEventSource,
	newAudit func(models.PaymentEventType) *models.PaymentAudit,
) (*models.ReconcileResult, error) {
	mismatch := newAudit(models.PaymentEventReconciliationMismatch).SetGatewayTransaction(verified.ExternalID)
	amountsMatch := mismatch.SetAmounts(p.Amount, verified.Amount, p.Currency)
	underpaid := verified.Amount < p.Amount-amountTolerance
	if underpaid || (verified.Currency != "" && !strings.EqualFold(verified.Currency, p.Currency)) {
		s.logger.WithFields(logrus.Fields{
			"reference":         p.TransactionID,
			"expected_amount":   p.Amount,
			"expected_currency": p.Currency,
			"received_amount":   verified.Amount,
			"received_currency": verified.Currency,
			"amounts_match":     amountsMatch,
		}).Error("Gateway settled a different amount than the payment")
		return s.decline(ctx, p, models.FailureAmountMismatch,
			fmt.Sprintf("gateway reported %.2f %s", verified.Amount, verified.Currency), externalID, source,
			mismatch.SetError("amount or currency mismatch"))
	}

	confirmed, err := s.payments.ConfirmWithBooking(ctx, p.TransactionID, externalID, s.now())
	if err != nil {
		if errors.Is(err, database.ErrDuplicateReference) {
			// Booking already paid through another attempt; this one needs a manual refund
			s.audit(ctx, mismatch.SetError("booking already has a completed payment"))
			return s.decline(ctx, p, models.FailureDuplicatePayment, "booking already paid", externalID, source, nil)
		}
		metrics.IncReconciliation(string(source), "error")
		return nil, apperror.Internal("failed to record payment confirmation", err)
	}

	if !confirmed.PaymentConfirmed {
		// A concurrent reconcile got there first
		metrics.IncReconciliation(string(source), "lost_race")
		return s.reload(ctx, p)
	}

	completed := *p
	completed.Status = models.PaymentStatusCompleted
	completed.FailureReason = nil
	booking := s.loadBooking(ctx, completed.BookingID)
	result := s.resultFor(ctx, &completed, booking)

	if !confirmed.BookingConfirmed {
		s.logger.WithFields(logrus.Fields{
			"reference":  p.TransactionID,
			"booking_id": confirmed.BookingID,
		}).Error("Payment completed for a booking that is no longer pending")
		s.audit(ctx, mismatch.
			SetPaymentStatus(string(models.PaymentStatusCompleted)).
			SetError("booking was no longer pending when payment completed"))
		metrics.IncReconciliation(string(source), "completed_unconfirmed")
		return result, nil
	}

	metrics.IncReconciliation(string(source), "confirmed")
	metrics.IncBookingTransition(string(models.BookingStatusConfirmed))
	s.audit(ctx, newAudit(models.PaymentEventSuccess).
		SetPaymentStatus(string(models.PaymentStatusCompleted)).
		SetGatewayTransaction(verified.ExternalID))

	s.logger.WithFields(logrus.Fields{
		"reference":  p.TransactionID,
		"booking_id": confirmed.BookingID,
		"source":     source,
	}).Info("Payment completed and booking confirmed")

	if booking != nil && NotifiesOnConfirm(booking.ServiceType) {
		s.notifier.Notify(ctx, models.NotificationBookingConfirmed, booking, map[string]interface{}{
			"payment_reference": p.TransactionID,
			"amount":            p.Amount,
			"currency":          p.Currency,
		})
	}
	return result, nil
}

// decline moves the payment to FAILED. The booking is never touched.
func (s *PaymentService) decline(
	ctx context.Context,
	p *models.Payment,
	reason, detail string,
	externalID *string,
	source models.PaymentEventSource,
	entry *models.PaymentAudit,
) (*models.ReconcileResult, error) {
	changed, err := s.payments.MarkFailed(ctx, p.TransactionID, reason, externalID)
	if err != nil {
		metrics.IncReconciliation(string(source), "error")
		return nil, apperror.Internal("failed to record payment failure", err)
	}
	if !changed {
		metrics.IncReconciliation(string(source), "lost_race")
		return s.reload(ctx, p)
	}

	if entry != nil {
		if detail != "" && entry.ErrorMessage == nil {
			entry.SetError(detail)
		}
		s.audit(ctx, entry.SetPaymentStatus(string(models.PaymentStatusFailed)))
	}

	metrics.IncReconciliation(string(source), "failed")
	s.logger.WithFields(logrus.Fields{
		"reference": p.TransactionID,
		"reason":    reason,
		"detail":    detail,
	}).Warn("Payment failed")

	failed := *p
	failed.Status = models.PaymentStatusFailed
	failed.FailureReason = &reason
	booking := s.loadBooking(ctx, failed.BookingID)

	// Mismatched and duplicate settlements were charged; they wait in the
	// audit log for a manual refund instead of asking the customer to pay again.
	if booking != nil && reason == models.FailureDeclined {
		s.notifier.Notify(ctx, models.NotificationPaymentFailed, booking, map[string]interface{}{
			"payment_reference": p.TransactionID,
			"reason":            reason,
		})
	}

	return s.resultFor(ctx, &failed, booking), nil
}

// SweepPending re-reconciles PENDING payments older than minAge
func (s *PaymentService) SweepPending(ctx context.Context, minAge time.Duration, limit int) (*SweepSummary, error) {
	stale, err := s.payments.ListStalePending(ctx, s.now().Add(-minAge), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}

	summary := &SweepSummary{}
	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		summary.Checked++
		result, err := s.Reconcile(ctx, p.TransactionID, models.PaymentSourceSystem, ClientInfo{})
		if err != nil {
			summary.Errors++
			s.logger.WithError(err).WithField("reference", p.TransactionID).Error("Sweep failed to reconcile payment")
			continue
		}
		switch result.Status {
		case models.PaymentStatusCompleted:
			summary.Completed++
		case models.PaymentStatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

func (s *PaymentService) reload(ctx context.Context, p *models.Payment) (*models.ReconcileResult, error) {
	current, err := s.payments.GetByTransactionID(ctx, p.TransactionID)
	if err != nil {
		return nil, apperror.Internal("failed to reload payment", err)
	}
	if current == nil {
		return nil, apperror.NotFound(apperror.CodePaymentNotFound, "Payment not found")
	}
	return s.resultFor(ctx, current, nil), nil
}

// resultFor reports p as stored along with the booking's current status.
// booking is loaded when nil. All reconcile outcomes are built here.
func (s *PaymentService) resultFor(ctx context.Context, p *models.Payment, booking *models.Booking) *models.ReconcileResult {
	result := storedResult(p)
	if booking == nil {
		booking = s.loadBooking(ctx, p.BookingID)
	}
	if booking != nil {
		result.BookingStatus = booking.Status
	}
	return result
}

func (s *PaymentService) loadBooking(ctx context.Context, id uuid.UUID) *models.Booking {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", id).Warn("Failed to load booking for payment result")
		return nil
	}
	return booking
}

func (s *PaymentService) audit(ctx context.Context, entry *models.PaymentAudit) {
	if s.audits == nil || entry == nil {
		return
	}
	// The repository logs the entry itself when the insert fails
	_ = s.audits.Log(ctx, entry)
}

func (s *PaymentService) timeout() time.Duration {
	if s.config.Timeout > 0 {
		return s.config.Timeout
	}
	return payment.DefaultTimeout
}

// callbackURL is where the gateway sends the customer; the reference is added
// so gateways that do not echo it back still land on the right payment.
func (s *PaymentService) callbackURL(reference string) string {
	if s.config.RedirectURL == "" {
		return ""
	}
	u, err := url.Parse(s.config.RedirectURL)
	if err != nil {
		return s.config.RedirectURL
	}
	q := u.Query()
	q.Set("reference", reference)
	u.RawQuery = q.Encode()
	return u.String()
}

func storedResult(p *models.Payment) *models.ReconcileResult {
	result := &models.ReconcileResult{
		Reference: p.TransactionID,
		Paid:      p.Status == models.PaymentStatusCompleted,
		Status:    p.Status,
		BookingID: p.BookingID,
	}
	if p.FailureReason != nil {
		result.Reason = *p.FailureReason
	}
	return result
}

func eventFor(source models.PaymentEventSource) models.PaymentEventType {
	if source == models.PaymentSourceWebhook {
		return models.PaymentEventWebhookReceived
	}
	return models.PaymentEventStatusCheckResponse
}

func mergeCustomer(base, override models.Customer) models.Customer {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Email != "" {
		base.Email = override.Email
	}
	if override.Phone != "" {
		base.Phone = override.Phone
	}
	return base
}
