package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/middleware"
	"github.com/tourlink/booking-backend/internal/models"
	"github.com/tourlink/booking-backend/internal/services"
	"github.com/tourlink/booking-backend/internal/utils"
)

const maxWebhookBody = 1 << 20

// BookingPipeline is the orchestrator surface used by customer endpoints
type BookingPipeline interface {
	CreateWithPayment(ctx context.Context, caller services.Caller, req *models.CreateBookingRequest, meta models.RequestMeta) (*models.CreateBookingResponse, error)
	ConfirmFromClient(ctx context.Context, caller services.Caller, req *models.ConfirmPaymentRequest) (*models.ConfirmationResult, error)
	HandleWebhook(ctx context.Context, body []byte) (*models.ConfirmationResult, error)
	VerifyPayment(ctx context.Context, caller services.Caller, bookingID uuid.UUID) (*models.VerifyPaymentResponse, error)
	CancelBooking(ctx context.Context, caller services.Caller, bookingID uuid.UUID, reason string) (*models.BookingSummary, error)
	GetTickets(ctx context.Context, caller services.Caller, bookingID uuid.UUID) (*models.TicketsResponse, error)
	GetBooking(ctx context.Context, caller services.Caller, bookingID uuid.UUID) (*models.Booking, error)
	ListBookings(ctx context.Context, caller services.Caller, limit, offset int) ([]models.BookingSummary, error)
}

// BookingOrchestratorHandler handles the booking, payment and ticket endpoints
type BookingOrchestratorHandler struct {
	pipeline BookingPipeline
	logger   *logrus.Logger
}

// NewBookingOrchestratorHandler creates a new BookingOrchestratorHandler
func NewBookingOrchestratorHandler(pipeline BookingPipeline, logger *logrus.Logger) *BookingOrchestratorHandler {
	return &BookingOrchestratorHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

// callerFrom builds the service caller from the authenticated user
func callerFrom(c *gin.Context) (services.Caller, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "UNAUTHORIZED",
			"message": "user not authenticated",
		})
		return services.Caller{}, false
	}
	return services.Caller{
		UserID:       userCtx.UserID,
		B2BAccountID: userCtx.B2BAccountID,
		IsAdmin:      userCtx.IsAdmin(),
	}, true
}

func bookingIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("bookingId"))
	if err != nil {
		badRequest(c, "invalid booking id")
		return uuid.Nil, false
	}
	return id, true
}

// ============================================================================
// CREATE WITH PAYMENT - POST /api/v1/bookings/create-with-payment
// ============================================================================

// CreateWithPayment prices the booking and opens a payment session
func (h *BookingOrchestratorHandler) CreateWithPayment(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	response, err := h.pipeline.CreateWithPayment(c.Request.Context(), caller, &req, utils.BuildRequestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusCreated
	if response.Reused {
		status = http.StatusOK
	}
	c.JSON(status, response)
}

// ============================================================================
// CONFIRM PAYMENT - POST /api/v1/bookings/confirm-payment
// ============================================================================

// ConfirmPayment handles the customer's return from the payment page
func (h *BookingOrchestratorHandler) ConfirmPayment(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req models.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.pipeline.ConfirmFromClient(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/bookings/payment-webhook
// ============================================================================

// PaymentWebhook receives gateway notifications. It always answers 200 so
// the gateway does not retry; failures are logged and left to reconciliation.
func (h *BookingOrchestratorHandler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read webhook body")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	result, err := h.pipeline.HandleWebhook(c.Request.Context(), body)
	if err != nil {
		h.logger.WithError(err).WithField("request_id", c.GetString("request_id")).
			Error("Webhook processing failed")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"duplicate": result.Duplicate,
		"message":   result.Message,
	})
}

// ============================================================================
// VERIFY PAYMENT - GET /api/v1/bookings/verify-payment/:bookingId
// ============================================================================

// VerifyPayment returns the booking and its latest payment attempt
func (h *BookingOrchestratorHandler) VerifyPayment(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	response, err := h.pipeline.VerifyPayment(c.Request.Context(), caller, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// ============================================================================
// CANCEL - POST /api/v1/bookings/cancel/:bookingId
// ============================================================================

// CancelBooking cancels a booking with the supplier and locally
func (h *BookingOrchestratorHandler) CancelBooking(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	// Body is optional
	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}

	summary, err := h.pipeline.CancelBooking(c.Request.Context(), caller, bookingID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "booking cancelled",
		"booking": summary,
	})
}

// ============================================================================
// TICKETS - GET /api/v1/bookings/tickets/:bookingId
// ============================================================================

// GetTickets returns the supplier tickets and voucher link
func (h *BookingOrchestratorHandler) GetTickets(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	response, err := h.pipeline.GetTickets(c.Request.Context(), caller, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// ============================================================================
// READS - GET /api/v1/bookings, GET /api/v1/bookings/:bookingId
// ============================================================================

// ListBookings returns the caller's bookings
func (h *BookingOrchestratorHandler) ListBookings(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	bookings, err := h.pipeline.ListBookings(c.Request.Context(), caller, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// GetBooking returns one booking
func (h *BookingOrchestratorHandler) GetBooking(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	booking, err := h.pipeline.GetBooking(c.Request.Context(), caller, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}
