package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/apperror"
	"github.com/tembera/booking-backend/internal/middleware"
	"github.com/tembera/booking-backend/internal/models"
)

// AdminHandler handles admin-only booking and payment operations
type AdminHandler struct {
	bookings BookingManager
	sweeper  PendingSweeper
	logger   *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(bookings BookingManager, sweeper PendingSweeper, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		bookings: bookings,
		sweeper:  sweeper,
		logger:   logger,
	}
}

// UpdateBookingStatus handles PUT /api/v1/admin/bookings/:id/status
// @Summary Override a booking status
// @Description CONFIRMED can only be reached through a completed payment
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param request body models.UpdateBookingStatusRequest true "Target status"
// @Success 200 {object} models.Booking
// @Failure 400 {object} map[string]interface{} "Invalid transition"
// @Security BearerAuth
// @Router /admin/bookings/{id}/status [put]
func (h *AdminHandler) UpdateBookingStatus(c *gin.Context) {
	admin := middleware.MustGetUserContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req models.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.bookings.AdminUpdateStatus(c.Request.Context(), id, req.Status, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id": id,
		"status":     req.Status,
		"admin_id":   admin.UserID,
	}).Info("Booking status overridden by admin")

	c.JSON(http.StatusOK, booking)
}

// DeleteBooking handles DELETE /api/v1/admin/bookings/:id
// @Summary Delete a finished booking
// @Tags Admin
// @Param id path string true "Booking ID"
// @Success 204
// @Failure 400 {object} map[string]interface{} "Booking still active or has pending payments"
// @Security BearerAuth
// @Router /admin/bookings/{id} [delete]
func (h *AdminHandler) DeleteBooking(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.bookings.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ReconcilePending handles POST /api/v1/admin/payments/reconcile-pending
// @Summary Reconcile stale pending payments now
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/payments/reconcile-pending [post]
func (h *AdminHandler) ReconcilePending(c *gin.Context) {
	summary, err := h.sweeper.RunPendingSweep(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, apperror.Internal("pending payment sweep failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checked":   summary.Checked,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"pending":   summary.Pending,
		"errors":    summary.Errors,
	})
}
