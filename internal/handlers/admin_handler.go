package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/models"
	"github.com/tourlink/booking-backend/internal/services"
)

// OperatorPipeline is the orchestrator surface used by operators
type OperatorPipeline interface {
	RetrySupplierSubmission(ctx context.Context, bookingID uuid.UUID) (*models.ConfirmationResult, error)
	RefundBooking(ctx context.Context, bookingID uuid.UUID, reason string) (*models.BookingSummary, error)
}

// MarkupStore persists markup configuration
type MarkupStore interface {
	CreateRule(ctx context.Context, rule *models.MarkupRule) error
	SetUserMarkup(ctx context.Context, userID uuid.UUID, markup *models.Markup) error
}

// JobRunner triggers the reconciliation jobs on demand
type JobRunner interface {
	RunPaymentPollNow() services.ReconcileReport
	RunSupplierRetryNow() services.ReconcileReport
	GetJobStatus() map[string]interface{}
}

// AdminHandler handles admin-related HTTP requests
type AdminHandler struct {
	pipeline OperatorPipeline
	markups  MarkupStore
	jobs     JobRunner
	logger   *logrus.Logger
}

// NewAdminHandler creates a new admin handler. jobs may be nil when the
// scheduler is disabled.
func NewAdminHandler(pipeline OperatorPipeline, markups MarkupStore, jobs JobRunner, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		pipeline: pipeline,
		markups:  markups,
		jobs:     jobs,
		logger:   logger,
	}
}

// ===================================================================
// BOOKING COMPENSATION
// ===================================================================

// RetrySupplier handles POST /api/v1/admin/bookings/:bookingId/retry-supplier
func (h *AdminHandler) RetrySupplier(c *gin.Context) {
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	result, err := h.pipeline.RetrySupplierSubmission(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"admin_id":   c.GetString("user_id"),
		"submitted":  result.Submitted,
	}).Info("Operator retried supplier submission")
	c.JSON(http.StatusOK, result)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// RefundBooking handles POST /api/v1/admin/bookings/:bookingId/refund
func (h *AdminHandler) RefundBooking(c *gin.Context) {
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	var req refundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "operator refund"
	}

	summary, err := h.pipeline.RefundBooking(c.Request.Context(), bookingID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"admin_id":   c.GetString("user_id"),
	}).Info("Operator refunded booking")
	c.JSON(http.StatusOK, gin.H{
		"message": "booking refunded",
		"booking": summary,
	})
}

// ===================================================================
// MARKUP ADMINISTRATION
// ===================================================================

// CreateMarkupRule handles POST /api/v1/admin/markup-rules
func (h *AdminHandler) CreateMarkupRule(c *gin.Context) {
	var req models.CreateMarkupRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	rule := &models.MarkupRule{
		ProductID:  req.ProductID,
		Percentage: req.Percentage,
		IsActive:   true,
	}
	if req.B2BAccountID != nil && *req.B2BAccountID != "" {
		accountID, err := uuid.Parse(*req.B2BAccountID)
		if err != nil {
			badRequest(c, "invalid b2b_account_id")
			return
		}
		rule.B2BAccountID = &accountID
	}

	if err := h.markups.CreateRule(c.Request.Context(), rule); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// SetUserMarkup handles PUT /api/v1/admin/users/:userId/markup
func (h *AdminHandler) SetUserMarkup(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		badRequest(c, "invalid user id")
		return
	}

	var req models.SetUserMarkupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	markup := &models.Markup{Type: req.Type, Value: req.Value, Source: models.MarkupSourceUser}
	if err := h.markups.SetUserMarkup(c.Request.Context(), userID, markup); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"markup":  markup,
	})
}

// ===================================================================
// BACKGROUND JOBS
// ===================================================================

// GetJobStatus handles GET /api/v1/admin/jobs
func (h *AdminHandler) GetJobStatus(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusOK, gin.H{"running": false, "job_count": 0})
		return
	}
	c.JSON(http.StatusOK, h.jobs.GetJobStatus())
}

// RunJob handles POST /api/v1/admin/jobs/:job/run
// The job runs in the background; its report is logged when it finishes.
func (h *AdminHandler) RunJob(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "JOBS_DISABLED",
			"message": "background jobs are disabled",
		})
		return
	}

	job := c.Param("job")
	var run func() services.ReconcileReport
	switch job {
	case "payment-poll":
		run = h.jobs.RunPaymentPollNow
	case "supplier-retry":
		run = h.jobs.RunSupplierRetryNow
	default:
		c.JSON(http.StatusNotFound, gin.H{
			"error":   models.CodeNotFound,
			"message": "unknown job",
		})
		return
	}

	h.logger.WithField("job", job).Info("Job triggered by operator")
	go run()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "job started",
		"job":     job,
	})
}
