package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/pkg/payment"
)

// maxWebhookBody matches the limit Stripe documents for event payloads
const maxWebhookBody = 65536

// WebhookVerifier is implemented by payment.StripeStrategy
type WebhookVerifier interface {
	HandleWebhook(payload []byte, signature string) (*payment.WebhookOutcome, error)
}

// WebhookApplier is implemented by services.BookingOrchestratorService
type WebhookApplier interface {
	HandlePaymentWebhook(ctx context.Context, method string, outcome *payment.WebhookOutcome) error
}

// WebhookHandler receives gateway callbacks
type WebhookHandler struct {
	stripe   WebhookVerifier
	bookings WebhookApplier
	logger   *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(stripe WebhookVerifier, bookings WebhookApplier, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		stripe:   stripe,
		bookings: bookings,
		logger:   logger,
	}
}

// ============================================================================
// STRIPE - POST /api/v1/webhooks/stripe
// ============================================================================

// Stripe verifies and applies a Stripe event. A non-2xx answer makes Stripe redeliver.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read body"})
		return
	}

	outcome, err := h.stripe.HandleWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.WithError(err).WithField("ip", c.ClientIP()).Warn("Rejected Stripe webhook")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	if err := h.bookings.HandlePaymentWebhook(c.Request.Context(), payment.MethodStripe, outcome); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":   outcome.EventID,
			"event_type": outcome.EventType,
		}).Error("Failed to apply Stripe webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not applied"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
