package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/models"
)

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	var (
		validation   *models.ValidationError
		conflict     *models.ConflictError
		completed    *models.AlreadyCompletedError
		transition   *models.InvalidTransitionError
		notFound     *models.NotFoundError
		forbidden    *models.ForbiddenError
		gateway      *models.GatewayError
		supplier     *models.SupplierError
		notCompleted *models.PaymentNotCompletedError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict), errors.As(err, &completed), errors.As(err, &transition):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &gateway), errors.As(err, &supplier):
		return http.StatusBadGateway
	case errors.As(err, &notCompleted):
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": code, "message": msg}. Unexpected errors are
// logged and their detail withheld from the caller.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"path":       c.FullPath(),
			"request_id": c.GetString("request_id"),
		}).Error("Request failed")
		c.JSON(status, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "An unexpected error occurred",
		})
		return
	}

	c.JSON(status, gin.H{
		"error":   models.ErrorCode(err),
		"message": err.Error(),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   models.CodeValidation,
		"message": message,
	})
}
