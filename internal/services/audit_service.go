package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/smarttransit/rideshare-core/pkg/payment"
)

// AuditService writes the payment audit trail. A failed write is logged and
// never aborts the payment flow that produced it.
type AuditService struct {
	store  PaymentAuditStore
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(store PaymentAuditStore, logger *logrus.Logger) *AuditService {
	return &AuditService{
		store:  store,
		logger: logger,
	}
}

// LogPayment records the outcome of a settlement attempt
func (s *AuditService) LogPayment(ctx context.Context, booking *models.Booking, result *payment.Result, source models.PaymentEventSource, start time.Time) {
	eventType := models.PaymentEventProcessed
	if !result.Success {
		eventType = models.PaymentEventFailed
	}

	audit := models.NewPaymentAudit(eventType, source).
		SetBooking(booking.ID, booking.PaymentMethod).
		SetAmount(booking.TotalPrice, booking.Currency).
		SetOutcome(result.Success, result.Status, result.TransactionID).
		SetError(result.Code, result.Error)
	if !start.IsZero() {
		audit.SetProcessingTime(start)
	}

	s.write(ctx, audit)
}

// LogRefund records a refund attempt made during cancellation
func (s *AuditService) LogRefund(ctx context.Context, booking *models.Booking, result *payment.Result, source models.PaymentEventSource) {
	eventType := models.PaymentEventRefundProcessed
	if !result.Success {
		eventType = models.PaymentEventRefundFailed
	}

	s.write(ctx, models.NewPaymentAudit(eventType, source).
		SetBooking(booking.ID, booking.PaymentMethod).
		SetAmount(booking.TotalPrice, booking.Currency).
		SetOutcome(result.Success, result.Status, result.TransactionID).
		SetError(result.Code, result.Error))
}

// LogCashConfirmed records a driver confirming a cash collection
func (s *AuditService) LogCashConfirmed(ctx context.Context, booking *models.Booking, result *payment.Result) {
	s.write(ctx, models.NewPaymentAudit(models.PaymentEventCashConfirmed, models.PaymentSourceDriver).
		SetBooking(booking.ID, booking.PaymentMethod).
		SetAmount(booking.TotalPrice, booking.Currency).
		SetOutcome(result.Success, result.Status, result.TransactionID))
}

// LogReconciliationUnknown records a status check that could not decide an in-flight payment
func (s *AuditService) LogReconciliationUnknown(ctx context.Context, booking *models.Booking, result *payment.Result) {
	audit := models.NewPaymentAudit(models.PaymentEventReconciliationUnknown, models.PaymentSourceSystem).
		SetBooking(booking.ID, booking.PaymentMethod).
		SetAmount(booking.TotalPrice, booking.Currency).
		SetMetadata(map[string]interface{}{"booking_age_seconds": int(time.Since(booking.CreatedAt).Seconds())})
	if result != nil {
		audit.SetOutcome(false, result.Status, result.TransactionID).SetError(result.Code, result.Error)
	}
	s.write(ctx, audit)
}

// LogWebhook records a verified gateway webhook
func (s *AuditService) LogWebhook(ctx context.Context, method string, outcome *payment.WebhookOutcome) {
	audit := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceStripeWebhook).
		SetOutcome(outcome.Outcome == payment.WebhookSucceeded, outcome.Outcome, outcome.TransactionID).
		SetMetadata(map[string]interface{}{
			"event_id":   outcome.EventID,
			"event_type": outcome.EventType,
			"reference":  outcome.Reference,
		})
	audit.PaymentMethod = method
	if outcome.Amount > 0 {
		audit.SetAmount(outcome.Amount, outcome.Currency)
	}
	if outcome.Message != "" {
		audit.SetError("", outcome.Message)
	}
	s.write(ctx, audit)
}

// IsDuplicateWebhook reports whether the gateway event was already processed
func (s *AuditService) IsDuplicateWebhook(ctx context.Context, eventID string) (bool, error) {
	return s.store.HasWebhookEvent(ctx, eventID)
}

func (s *AuditService) write(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.store.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"booking_id": audit.BookingID,
		}).Error("Payment audit entry lost")
	}
}
