package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/config"
	"github.com/tembera/booking-backend/internal/middleware"
	"github.com/tembera/booking-backend/internal/models"
	"github.com/tembera/booking-backend/internal/services"
	"github.com/tembera/booking-backend/internal/utils"
	"github.com/tembera/booking-backend/pkg/payment"
)

// PaymentHandler handles payment initiation and every reconciliation entry point
type PaymentHandler struct {
	payments PaymentProcessor
	gateways *payment.Registry
	config   config.PaymentConfig
	logger   *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments PaymentProcessor, gateways *payment.Registry, cfg config.PaymentConfig, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		gateways: gateways,
		config:   cfg,
		logger:   logger,
	}
}

func clientInfo(c *gin.Context) services.ClientInfo {
	return services.ClientInfo{IP: utils.ClientIP(c), UserAgent: utils.UserAgent(c)}
}

// ============================================================================
// INITIATE PAYMENT - POST /api/v1/payments/initiate
// ============================================================================

// InitiatePayment opens a hosted checkout for a PENDING booking
// @Summary Initiate payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body models.InitiatePaymentRequest true "Payment request"
// @Success 200 {object} models.InitiatePaymentResponse
// @Failure 400 {object} map[string]interface{} "Validation error or booking not payable"
// @Failure 404 {object} map[string]interface{} "Booking or user not found"
// @Failure 500 {object} map[string]interface{} "Gateway not configured"
// @Failure 502 {object} map[string]interface{} "Gateway unavailable"
// @Security BearerAuth
// @Router /payments/initiate [post]
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.payments.InitiatePayment(c.Request.Context(), userCtx.UserID, userCtx.IsAdmin(), req, clientInfo(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ============================================================================
// VERIFY PAYMENT - GET|POST /api/v1/payments/verify
// ============================================================================

// VerifyPayment reconciles a reference and reports whether it is paid.
// Safe to poll: settled payments are answered from storage.
// @Summary Verify payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param reference query string false "Payment reference (GET)"
// @Param request body models.VerifyPaymentRequest false "Payment reference (POST)"
// @Success 200 {object} models.ReconcileResult
// @Failure 400 {object} map[string]interface{} "Missing reference"
// @Failure 404 {object} map[string]interface{} "Payment not found"
// @Router /payments/verify [get]
// @Router /payments/verify [post]
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	reference := referenceFromQuery(c)
	if reference == "" && c.Request.Method == http.MethodPost {
		var req models.VerifyPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		reference = strings.TrimSpace(req.Reference)
	}

	result, err := h.payments.Reconcile(c.Request.Context(), reference, models.PaymentSourcePoll, clientInfo(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ============================================================================
// PAYMENT CALLBACK - GET /api/v1/payments/callback
// ============================================================================

// PaymentCallback is where the gateway returns the customer. It reconciles and
// sends the browser on to the frontend with the outcome.
// @Summary Gateway redirect target
// @Tags Payments
// @Param reference query string false "Payment reference"
// @Param tx_ref query string false "Flutterwave reference"
// @Success 302 "Redirect to the frontend"
// @Router /payments/callback [get]
func (h *PaymentHandler) PaymentCallback(c *gin.Context) {
	reference := referenceFromQuery(c)

	status := "error"
	result, err := h.payments.Reconcile(c.Request.Context(), reference, models.PaymentSourceRedirect, clientInfo(c))
	if err != nil {
		h.logger.WithError(err).WithField("reference", reference).Warn("Payment callback could not be reconciled")
	} else {
		status = callbackStatus(result)
	}

	if h.config.FrontendURL == "" {
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	c.Redirect(http.StatusFound, frontendURL(h.config.FrontendURL, status, reference))
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/payments/webhooks/:gateway
// ============================================================================

// PaymentWebhook handles gateway push notifications. The body is only used to
// find the reference; the outcome always comes from verifying with the gateway.
// @Summary Payment webhook callback
// @Tags Payments
// @Accept json
// @Produce json
// @Param gateway path string true "flutterwave or stripe"
// @Success 200 {object} map[string]interface{} "Webhook acknowledged"
// @Failure 401 {object} map[string]interface{} "Invalid signature"
// @Failure 404 {object} map[string]interface{} "Unknown gateway"
// @Router /payments/webhooks/{gateway} [post]
func (h *PaymentHandler) PaymentWebhook(c *gin.Context) {
	name := c.Param("gateway")
	gateway, err := h.gateways.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_gateway", "message": "Unknown payment gateway", "code": "UNKNOWN_GATEWAY"})
		return
	}
	parser, ok := gateway.(payment.WebhookParser)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_gateway", "message": "Gateway does not send webhooks", "code": "UNKNOWN_GATEWAY"})
		return
	}

	bodyBytes, err := c.GetRawData()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	log := h.logger.WithFields(logrus.Fields{
		"gateway": gateway.Name(),
		"ip":      utils.ClientIP(c),
	})

	reference, err := parser.ParseWebhook(c.Request.Header, bodyBytes)
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		log.WithError(err).Warn("Rejected webhook with invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": "Invalid webhook signature", "code": "INVALID_SIGNATURE"})
		return
	case errors.Is(err, payment.ErrNotConfigured):
		log.WithError(err).Error("Webhook received but verification secret is not configured")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": "Webhook verification is not configured", "code": "INVALID_SIGNATURE"})
		return
	case err != nil:
		// Authenticated but unusable: acknowledge so the gateway stops retrying
		log.WithError(err).Warn("Webhook payload carries no usable reference")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "acknowledged": true})
		return
	}

	log = log.WithField("reference", reference)
	log.Info("Payment webhook received")

	result, err := h.payments.Reconcile(c.Request.Context(), reference, models.PaymentSourceWebhook, clientInfo(c))
	if err != nil {
		log.WithError(err).Warn("Failed to reconcile payment from webhook")
		c.JSON(http.StatusOK, gin.H{"message": "webhook acknowledged", "acknowledged": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "webhook processed",
		"acknowledged": true,
		"status":       result.Status,
	})
}

func referenceFromQuery(c *gin.Context) string {
	for _, key := range []string{"reference", "tx_ref"} {
		if v := strings.TrimSpace(c.Query(key)); v != "" {
			return v
		}
	}
	return ""
}

func callbackStatus(result *models.ReconcileResult) string {
	switch {
	case result.Paid:
		return "paid"
	case result.Status == models.PaymentStatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

func frontendURL(base, status, reference string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("status", status)
	if reference != "" {
		q.Set("reference", reference)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
