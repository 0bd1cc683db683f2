package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/apperror"
	"github.com/tembera/booking-backend/internal/models"
	"github.com/tembera/booking-backend/internal/services"
)

// BookingManager is the booking lifecycle used by the HTTP layer.
// Implemented by services.BookingService.
type BookingManager interface {
	Create(ctx context.Context, userID uuid.UUID, raw models.CreateBookingRequest) (*models.Booking, error)
	Get(ctx context.Context, id, callerID uuid.UUID, isAdmin bool) (*models.Booking, error)
	Cancel(ctx context.Context, id, callerID uuid.UUID, reason *string) (*models.Booking, error)
	AdminUpdateStatus(ctx context.Context, id uuid.UUID, to models.BookingStatus, reason *string) (*models.Booking, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AvailabilityChecker is implemented by services.AvailabilityService
type AvailabilityChecker interface {
	Check(ctx context.Context, serviceType models.ServiceType, serviceID uuid.UUID, start time.Time, end *time.Time) (*models.AvailabilityResponse, error)
}

// PaymentProcessor is implemented by services.PaymentService
type PaymentProcessor interface {
	InitiatePayment(ctx context.Context, callerID uuid.UUID, isAdmin bool, req models.InitiatePaymentRequest, client services.ClientInfo) (*models.InitiatePaymentResponse, error)
	Reconcile(ctx context.Context, reference string, source models.PaymentEventSource, client services.ClientInfo) (*models.ReconcileResult, error)
}

// PendingSweeper runs the pending-payment sweep on demand. Implemented by services.CronService.
type PendingSweeper interface {
	RunPendingSweep(ctx context.Context) (*services.SweepSummary, error)
}

// respondError writes the error response for err. Internal causes are logged, not returned.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal("internal error", err)
	}

	status := appErr.HTTPStatus()
	message := appErr.Message
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"path": c.Request.URL.Path,
			"code": appErr.Code,
		}).Error("Request failed")
		if appErr.Kind == apperror.KindInternal {
			message = "An internal error occurred"
		}
	}
	_ = c.Error(err)

	c.JSON(status, gin.H{
		"error":   strings.ToLower(appErr.Code),
		"message": message,
		"code":    appErr.Code,
	})
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "invalid " + name,
			"code":    apperror.CodeValidation,
		})
		return uuid.Nil, false
	}
	return id, true
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": "Invalid request body: " + err.Error(),
		"code":    apperror.CodeValidation,
	})
}
