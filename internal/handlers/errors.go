package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/services"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
	"github.com/smarttransit/rideshare-core/pkg/payment"
)

// respondError maps service errors to HTTP responses. Anything unrecognised is a 500.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var seatsErr *services.SeatsUnavailableError
	var paymentErr *services.PaymentFailedError
	var methodErr *payment.UnsupportedMethodError
	var decryptErr *encryption.DecryptionError

	switch {
	case errors.Is(err, services.ErrTripNotFound),
		errors.Is(err, services.ErrBookingNotFound),
		errors.Is(err, services.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})

	case errors.Is(err, services.ErrNotTripOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error(), "code": "NOT_TRIP_OWNER"})

	case errors.Is(err, services.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})

	case errors.Is(err, services.ErrTicketInvalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_ticket", "message": err.Error(), "code": "TICKET_INVALID"})

	case errors.Is(err, services.ErrTicketAlreadyScanned):
		c.JSON(http.StatusConflict, gin.H{"error": "already_scanned", "message": err.Error(), "code": "TICKET_ALREADY_SCANNED"})

	case errors.Is(err, services.ErrInvalidTripTransition),
		errors.Is(err, services.ErrInvalidBookingTransition),
		errors.Is(err, services.ErrNotCashBooking),
		errors.Is(err, services.ErrDuplicatePlate):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})

	case errors.Is(err, services.ErrPaymentOutcomeUnknown):
		c.JSON(http.StatusAccepted, gin.H{"error": "payment_pending", "message": err.Error(), "code": "PAYMENT_OUTCOME_UNKNOWN"})

	case errors.As(err, &seatsErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "seats_unavailable",
			"message":   err.Error(),
			"requested": seatsErr.Requested,
			"available": seatsErr.Available,
		})

	case errors.As(err, &paymentErr):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment_failed", "message": paymentErr.Message, "code": paymentErr.Code})

	case errors.As(err, &methodErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_payment_method", "message": err.Error()})

	case errors.As(err, &decryptErr):
		logger.WithField("reason", decryptErr.Reason).Error("Stored value could not be decrypted")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "stored value is unreadable"})

	default:
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An unexpected error occurred"})
	}
}
