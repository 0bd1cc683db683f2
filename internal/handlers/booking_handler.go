package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/apperror"
	"github.com/tembera/booking-backend/internal/middleware"
	"github.com/tembera/booking-backend/internal/models"
)

// BookingHandler handles customer booking endpoints
type BookingHandler struct {
	bookings     BookingManager
	availability AvailabilityChecker
	logger       *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingManager, availability AvailabilityChecker, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookings:     bookings,
		availability: availability,
		logger:       logger,
	}
}

// ============================================================================
// CREATE BOOKING - POST /api/v1/bookings
// ============================================================================

// CreateBooking creates a PENDING booking for the caller
// @Summary Create a booking
// @Description Reserve an accommodation, transport trip or tour. The price is computed server side.
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 201 {object} models.Booking
// @Failure 400 {object} map[string]interface{} "Validation error, service unavailable or date conflict"
// @Failure 404 {object} map[string]interface{} "Service not found"
// @Failure 409 {object} map[string]interface{} "Concurrent modification"
// @Security BearerAuth
// @Router /bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.bookings.Create(c.Request.Context(), userCtx.UserID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// GetBooking returns one booking
// @Summary Get a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.Booking
// @Failure 403 {object} map[string]interface{} "Not your booking"
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Security BearerAuth
// @Router /bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.Get(c.Request.Context(), id, userCtx.UserID, userCtx.IsAdmin())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// CancelBooking cancels the caller's booking
// @Summary Cancel a booking
// @Description Allowed for PENDING and CONFIRMED bookings until the cancellation window closes
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param request body models.CancelBookingRequest false "Cancellation reason"
// @Success 200 {object} models.Booking
// @Failure 400 {object} map[string]interface{} "Window closed or invalid state"
// @Security BearerAuth
// @Router /bookings/{id}/cancel [put]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	booking, err := h.bookings.Cancel(c.Request.Context(), id, userCtx.UserID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ============================================================================
// AVAILABILITY - GET /api/v1/availability
// ============================================================================

// CheckAvailability answers whether a service can be booked for the given dates.
// The answer is advisory; booking creation re-checks inside its transaction.
// @Summary Check availability
// @Tags Bookings
// @Produce json
// @Param serviceType query string true "ACCOMMODATION, TRANSPORTATION or TOUR"
// @Param serviceId query string true "Service ID"
// @Param startDate query string true "ISO-8601 start date"
// @Param endDate query string false "ISO-8601 end date (accommodation)"
// @Success 200 {object} models.AvailabilityResponse
// @Router /availability [get]
func (h *BookingHandler) CheckAvailability(c *gin.Context) {
	serviceType := models.ServiceType(strings.ToUpper(strings.TrimSpace(c.Query("serviceType"))))

	serviceID, err := uuid.Parse(c.Query("serviceId"))
	if err != nil {
		respondError(c, h.logger, apperror.Validation("serviceId must be a valid UUID"))
		return
	}

	start, err := models.ParseDate(c.Query("startDate"))
	if err != nil {
		respondError(c, h.logger, apperror.Validation("startDate must be an ISO-8601 date"))
		return
	}

	var end *time.Time
	if raw := c.Query("endDate"); raw != "" {
		parsed, err := models.ParseDate(raw)
		if err != nil {
			respondError(c, h.logger, apperror.Validation("endDate must be an ISO-8601 date"))
			return
		}
		end = &parsed
	}

	resp, err := h.availability.Check(c.Request.Context(), serviceType, serviceID, start, end)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
