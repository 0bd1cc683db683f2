package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"github.com/tembera/booking-backend/internal/metrics"
	"github.com/tembera/booking-backend/internal/models"
	"github.com/tembera/booking-backend/pkg/sms"
)

// NotifiesOnCreate reports whether a new booking of this type is announced right away.
// Tours are announced on creation; the other types wait for payment confirmation.
func NotifiesOnCreate(t models.ServiceType) bool {
	return t == models.ServiceTypeTour
}

// NotifiesOnConfirm reports whether payment confirmation is announced for this type
func NotifiesOnConfirm(t models.ServiceType) bool {
	return t == models.ServiceTypeAccommodation || t == models.ServiceTypeTransportation
}

// Sink delivers a rendered notification through one channel
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n *models.Notification) error
}

// NotificationDispatcher renders lifecycle notifications and fans them out to
// the configured sinks on a background goroutine. Failures are logged, never returned.
type NotificationDispatcher struct {
	users   UserStore
	sinks   []Sink
	timeout time.Duration
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

// NewNotificationDispatcher creates a dispatcher. With no sinks, notifications are only logged.
func NewNotificationDispatcher(users UserStore, timeout time.Duration, logger *logrus.Logger, sinks ...Sink) *NotificationDispatcher {
	if len(sinks) == 0 {
		sinks = []Sink{NewLogSink(logger)}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &NotificationDispatcher{
		users:   users,
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
	}
}

// Notify schedules delivery and returns immediately
func (d *NotificationDispatcher) Notify(ctx context.Context, kind models.NotificationKind, booking *models.Booking, extra map[string]interface{}) {
	if booking == nil {
		return
	}
	snapshot := *booking

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		// Detach from the request so delivery outlives it, but keep its values
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		d.deliver(sendCtx, kind, &snapshot, extra)
	}()
}

// Wait blocks until every scheduled notification has finished
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}

func (d *NotificationDispatcher) deliver(ctx context.Context, kind models.NotificationKind, booking *models.Booking, extra map[string]interface{}) {
	log := d.logger.WithFields(logrus.Fields{
		"kind":       kind,
		"booking_id": booking.ID,
		"user_id":    booking.UserID,
	})

	user, err := d.users.GetByID(ctx, booking.UserID)
	if err != nil {
		log.WithError(err).Warn("Failed to load notification recipient")
		metrics.IncNotification(string(kind), "error")
		return
	}
	if user == nil {
		log.Warn("Notification recipient no longer exists")
		metrics.IncNotification(string(kind), "error")
		return
	}

	n, err := BuildNotification(kind, booking, user, extra)
	if err != nil {
		log.WithError(err).Error("Failed to render notification")
		metrics.IncNotification(string(kind), "error")
		return
	}

	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			log.WithError(err).WithField("sink", sink.Name()).Warn("Notification delivery failed")
			metrics.IncNotification(string(kind), "failed")
			continue
		}
		metrics.IncNotification(string(kind), "sent")
	}
}

// BuildNotification renders the subject, body and payload for one event
func BuildNotification(kind models.NotificationKind, booking *models.Booking, user *models.User, extra map[string]interface{}) (*models.Notification, error) {
	customer := user.AsCustomer()
	name := customer.Name
	if name == "" {
		name = "there"
	}
	ref := booking.Reference()

	n := &models.Notification{
		ID:        uuid.New(),
		UserID:    user.ID,
		Kind:      kind,
		Email:     customer.Email,
		Phone:     customer.Phone,
		Name:      customer.Name,
		CreatedAt: time.Now(),
		Payload: models.JSONB{
			"booking_id":        booking.ID.String(),
			"booking_reference": ref,
			"service_type":      string(booking.ServiceType),
			"service_id":        booking.ServiceID.String(),
			"start_date":        booking.StartDate.Format(time.RFC3339),
			"total_amount":      booking.TotalAmount,
			"currency":          booking.Currency,
			"status":            string(booking.Status),
		},
	}
	if booking.EndDate != nil {
		n.Payload["end_date"] = booking.EndDate.Format(time.RFC3339)
	}
	for k, v := range extra {
		n.Payload[k] = v
	}

	when := booking.StartDate.Format("2 Jan 2006")
	switch kind {
	case models.NotificationBookingCreated:
		n.Subject = fmt.Sprintf("Booking %s received", ref)
		n.Body = fmt.Sprintf("Hi %s, your %s booking %s for %s is reserved. Total %.0f %s.",
			name, serviceLabel(booking.ServiceType), ref, when, booking.TotalAmount, booking.Currency)
	case models.NotificationBookingConfirmed:
		n.Subject = fmt.Sprintf("Booking %s confirmed", ref)
		n.Body = fmt.Sprintf("Hi %s, payment received. Your %s booking %s for %s is confirmed.",
			name, serviceLabel(booking.ServiceType), ref, when)
		qr, err := qrcode.Encode(ref, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("failed to render booking QR code: %w", err)
		}
		n.Payload["qr_code_png"] = base64.StdEncoding.EncodeToString(qr)
	case models.NotificationBookingCancelled:
		n.Subject = fmt.Sprintf("Booking %s cancelled", ref)
		n.Body = fmt.Sprintf("Hi %s, your %s booking %s for %s has been cancelled.",
			name, serviceLabel(booking.ServiceType), ref, when)
	case models.NotificationPaymentFailed:
		n.Subject = fmt.Sprintf("Payment for booking %s failed", ref)
		n.Body = fmt.Sprintf("Hi %s, we could not complete the payment for booking %s. Your booking is still reserved, please try again.",
			name, ref)
	default:
		return nil, fmt.Errorf("unknown notification kind %q", kind)
	}
	return n, nil
}

func serviceLabel(t models.ServiceType) string {
	switch t {
	case models.ServiceTypeAccommodation:
		return "stay"
	case models.ServiceTypeTransportation:
		return "trip"
	default:
		return "tour"
	}
}

// LogSink writes notifications to the structured log
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a new LogSink
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, n *models.Notification) error {
	s.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"kind":            n.Kind,
		"user_id":         n.UserID,
		"subject":         n.Subject,
	}).Info("Notification")
	return nil
}

// RedisQueueSink pushes notifications as JSON jobs onto a Redis list for the mail/SMS workers
type RedisQueueSink struct {
	client *redis.Client
	key    string
}

// NewRedisQueueSink creates a new RedisQueueSink
func NewRedisQueueSink(client *redis.Client, key string) *RedisQueueSink {
	return &RedisQueueSink{client: client, key: key}
}

func (s *RedisQueueSink) Name() string { return "redis" }

func (s *RedisQueueSink) Deliver(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// SMSSink texts the notification body to the user's phone
type SMSSink struct {
	gateway sms.Gateway
}

// NewSMSSink creates a new SMSSink
func NewSMSSink(gateway sms.Gateway) *SMSSink {
	return &SMSSink{gateway: gateway}
}

func (s *SMSSink) Name() string { return "sms" }

func (s *SMSSink) Deliver(ctx context.Context, n *models.Notification) error {
	if n.Phone == "" {
		return nil
	}
	return s.gateway.Send(ctx, n.Phone, n.Body)
}
