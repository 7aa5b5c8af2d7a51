package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
	"github.com/smarttransit/rideshare-core/pkg/payment"
)

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	StaleAfter time.Duration // in-flight holds older than this are reconciled
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		StaleAfter: 5 * time.Minute,
	}
}

// BookingEvent is the payload published for every booking state change
type BookingEvent struct {
	BookingID     uuid.UUID            `json:"booking_id"`
	TripID        uuid.UUID            `json:"trip_id"`
	PassengerID   uuid.UUID            `json:"passenger_id"`
	NumSeats      int                  `json:"num_seats"`
	Status        models.BookingStatus `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	PaymentMethod string               `json:"payment_method"`
	Reason        string               `json:"reason,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// BookingOrchestratorService runs the Reserve → Settle → Ticket flow and its
// reverse on cancellation
type BookingOrchestratorService struct {
	inventory *TripInventoryService
	bookings  BookingStore
	router    *payment.Router
	signer    TicketSigner
	audit     *AuditService
	publisher EventPublisher
	config    BookingOrchestratorConfig
	logger    *logrus.Logger
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	inventory *TripInventoryService,
	bookings BookingStore,
	router *payment.Router,
	signer TicketSigner,
	audit *AuditService,
	publisher EventPublisher,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	// A hold must outlive the longest settlement call before it counts as abandoned
	if config.StaleAfter < 2*router.Timeout() {
		config.StaleAfter = 2 * router.Timeout()
	}

	return &BookingOrchestratorService{
		inventory: inventory,
		bookings:  bookings,
		router:    router,
		signer:    signer,
		audit:     audit,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
}

// ============================================================================
// CREATE
// ============================================================================

// CreateBooking reserves seats, settles payment and issues a ticket. Seats are
// reserved before any payment is attempted and released again if it fails.
func (s *BookingOrchestratorService) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.CreateBookingResult, error) {
	// 1. Validate request
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !s.router.IsRegistered(method) {
		return nil, &payment.UnsupportedMethodError{Method: req.PaymentMethod}
	}

	// 2. Reserve seats (fails fast, no payment attempted)
	if err := s.inventory.ReserveSeats(ctx, req.TripID, req.NumSeats); err != nil {
		return nil, err
	}

	// 3. Persist the hold so the decremented inventory always has a booking behind it
	booking := &models.Booking{
		ID:            uuid.New(),
		TripID:        req.TripID,
		PassengerID:   req.PassengerID,
		NumSeats:      req.NumSeats,
		TotalPrice:    req.TotalPrice,
		Currency:      req.Currency,
		PaymentMethod: method,
	}
	if req.Payment.OrderID != "" {
		orderID := req.Payment.OrderID
		booking.PaymentTransactionID = &orderID
	}

	if err := s.bookings.CreateHold(ctx, booking); err != nil {
		if relErr := s.inventory.ReleaseSeats(context.WithoutCancel(ctx), req.TripID, req.NumSeats); relErr != nil {
			s.logger.WithError(relErr).WithFields(logrus.Fields{
				"trip_id": req.TripID,
				"seats":   req.NumSeats,
			}).Error("Failed to release seats after hold insert failure")
		}
		return nil, fmt.Errorf("failed to record booking: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"trip_id":    booking.TripID,
		"method":     method,
		"seats":      booking.NumSeats,
	})

	// 4. Settle under the router timeout
	start := time.Now()
	result, err := s.router.ProcessPayment(ctx, method, payment.PaymentData{
		Reference:       booking.ID.String(),
		Amount:          req.TotalPrice,
		Currency:        req.Currency,
		PassengerID:     req.PassengerID.String(),
		Description:     fmt.Sprintf("%d seat(s) on trip %s", req.NumSeats, req.TripID),
		Card:            req.Payment.Card,
		PaymentMethodID: req.Payment.PaymentMethodID,
		OrderID:         req.Payment.OrderID,
		CustomerEmail:   req.Payment.CustomerEmail,
		Recurring:       req.Payment.Recurring,
	})

	// Everything past settlement must be recorded even if the caller leaves now
	persistCtx := context.WithoutCancel(ctx)

	if err != nil {
		s.rollbackHold(persistCtx, booking)
		return nil, err
	}

	// 5. The caller gave up mid-payment: the outcome is unknown, keep the hold
	if result.IsPending() || (ctx.Err() != nil && !result.Success) {
		log.WithField("code", result.Code).Warn("Payment outcome unknown; booking left in flight for reconciliation")
		s.audit.LogReconciliationUnknown(persistCtx, booking, result)
		return nil, ErrPaymentOutcomeUnknown
	}

	// 6. Failure: drop the hold and give the seats back in one transaction
	if !result.Success {
		s.audit.LogPayment(persistCtx, booking, result, models.PaymentSourceBackend, start)
		s.rollbackHold(persistCtx, booking)
		log.WithField("code", result.Code).Info("Payment failed; reservation rolled back")
		return nil, &PaymentFailedError{Method: method, Code: result.Code, Message: result.Error}
	}

	// 7. Success
	s.audit.LogPayment(persistCtx, booking, result, models.PaymentSourceBackend, start)
	if err := s.finaliseSettlement(persistCtx, booking, result); err != nil {
		log.WithError(err).Error("Payment settled but booking could not be updated")
		return nil, fmt.Errorf("%w: %v", ErrPaymentOutcomeUnknown, err)
	}

	// The trip may have been cancelled while the payment was in flight
	closed, err := s.cancelIfTripClosed(persistCtx, booking)
	if err != nil {
		log.WithError(err).Warn("Could not check trip status after settlement")
	} else if closed.Status == models.BookingStatusCancelled {
		log.Info("Trip closed during payment; booking cancelled")
		return nil, &SeatsUnavailableError{TripID: booking.TripID, Requested: booking.NumSeats}
	}

	token := s.issueTicket(persistCtx, booking)

	// 8. Publish
	s.publish(persistCtx, EventBookingCreated, booking, "")

	log.WithFields(logrus.Fields{
		"status":         booking.Status,
		"payment_status": booking.PaymentStatus,
		"ticket_issued":  token != "",
	}).Info("Booking created")

	return &models.CreateBookingResult{
		Booking:      booking,
		TicketToken:  token,
		Instructions: result.Instructions,
	}, nil
}

// finaliseSettlement moves an in-flight hold to its settled state
func (s *BookingOrchestratorService) finaliseSettlement(ctx context.Context, booking *models.Booking, result *payment.Result) error {
	status, paymentStatus := models.BookingStatusConfirmed, models.PaymentStatusPaid
	if result.Status == payment.StatusPendingCash {
		// Nothing is charged until the driver confirms collection
		status, paymentStatus = models.BookingStatusPending, models.PaymentStatusUnpaid
	}

	ok, err := s.bookings.MarkSettled(ctx, booking.ID, status, paymentStatus, result.TransactionID, result.Status)
	if err != nil {
		return err
	}
	if !ok {
		// Settled concurrently (webhook or sweep); take whatever is stored
		current, err := s.bookings.GetByID(ctx, booking.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrBookingNotFound
		}
		*booking = *current
		return nil
	}

	booking.Status = status
	booking.PaymentStatus = paymentStatus
	booking.PaymentInFlight = false
	state := result.Status
	booking.PaymentState = &state
	if result.TransactionID != "" {
		txID := result.TransactionID
		booking.PaymentTransactionID = &txID
	}
	return nil
}

// rollbackHold deletes an unsettled hold and releases its seats exactly once
func (s *BookingOrchestratorService) rollbackHold(ctx context.Context, booking *models.Booking) {
	deleted, err := s.bookings.DeleteHoldAndReleaseSeats(ctx, booking)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"trip_id":    booking.TripID,
		}).Error("Failed to roll back booking hold; reconciliation sweep will retry")
		return
	}
	if !deleted {
		s.logger.WithField("booking_id", booking.ID).Debug("Booking hold already resolved")
	}
}

// issueTicket signs and stores the ticket. Failure is logged and leaves the
// booking ticketless for the retry sweep.
func (s *BookingOrchestratorService) issueTicket(ctx context.Context, booking *models.Booking) string {
	if booking.TicketToken != nil {
		return *booking.TicketToken
	}

	issuedAt := time.Now()
	token, err := s.signer.SignTicket(encryption.TicketData{
		BookingID:   booking.ID.String(),
		TripID:      booking.TripID.String(),
		PassengerID: booking.PassengerID.String(),
		Seats:       booking.NumSeats,
		IssuedAt:    issuedAt.UnixMilli(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Ticket signing failed; booking kept without ticket")
		return ""
	}

	stored, err := s.bookings.SetTicket(ctx, booking.ID, token, issuedAt)
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to store ticket")
		return ""
	}
	if !stored {
		current, err := s.bookings.GetByID(ctx, booking.ID)
		if err != nil || current == nil || current.TicketToken == nil {
			return ""
		}
		*booking = *current
		return *current.TicketToken
	}

	booking.TicketToken = &token
	booking.TicketIssuedAt = &issuedAt
	return token
}

// ============================================================================
// READ / RECONCILE
// ============================================================================

// GetBooking returns the booking, reconciling it first if its payment has
// been in flight for longer than StaleAfter
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !s.isStale(booking) {
		return booking, nil
	}

	reconciled, err := s.reconcile(ctx, booking)
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Reconciliation failed; returning stored booking")
		return booking, nil
	}
	if reconciled == nil {
		return nil, ErrBookingNotFound
	}
	return reconciled, nil
}

func (s *BookingOrchestratorService) getBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}
	return booking, nil
}

func (s *BookingOrchestratorService) isStale(booking *models.Booking) bool {
	return booking.PaymentInFlight && time.Since(booking.CreatedAt) >= s.config.StaleAfter
}

// reconcile decides an abandoned in-flight payment. Returns the updated
// booking, the unchanged booking when the outcome is still unknown, or nil
// when the hold was rolled back.
func (s *BookingOrchestratorService) reconcile(ctx context.Context, booking *models.Booking) (*models.Booking, error) {
	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"method":     booking.PaymentMethod,
	})

	strategy, err := s.router.Strategy(booking.PaymentMethod)
	if err != nil {
		return booking, err
	}

	// Offline methods never moved money, so an abandoned hold is simply dropped
	if !strategy.RequiresOnline() {
		s.rollbackHold(ctx, booking)
		log.Info("Abandoned offline payment rolled back")
		return nil, nil
	}

	query := payment.StatusQuery{Reference: booking.ID.String()}
	if booking.PaymentTransactionID != nil {
		query.TransactionID = *booking.PaymentTransactionID
	}
	result, err := s.router.CheckStatus(ctx, booking.PaymentMethod, query)
	if err != nil {
		return booking, err
	}

	switch {
	case result.Success:
		s.audit.LogPayment(ctx, booking, result, models.PaymentSourceSystem, time.Time{})
		if err := s.finaliseSettlement(ctx, booking, result); err != nil {
			return booking, err
		}
		s.issueTicket(ctx, booking)
		s.publish(ctx, EventBookingCreated, booking, "")
		log.Info("In-flight payment reconciled as settled")
		return s.cancelIfTripClosed(ctx, booking)

	case result.IsPending():
		s.audit.LogReconciliationUnknown(ctx, booking, result)
		log.WithField("code", result.Code).Warn("In-flight payment outcome still unknown")
		return booking, nil

	default:
		s.audit.LogPayment(ctx, booking, result, models.PaymentSourceSystem, time.Time{})
		s.rollbackHold(ctx, booking)
		log.WithField("code", result.Code).Info("In-flight payment reconciled as failed; reservation rolled back")
		return nil, nil
	}
}

// cancelIfTripClosed refunds a late-settled booking whose trip was closed meanwhile
func (s *BookingOrchestratorService) cancelIfTripClosed(ctx context.Context, booking *models.Booking) (*models.Booking, error) {
	trip, err := s.inventory.GetTrip(ctx, booking.TripID)
	if err != nil {
		return booking, err
	}
	if trip.Status != models.TripStatusCancelled && trip.Status != models.TripStatusDeleted {
		return booking, nil
	}
	return s.CancelBooking(ctx, booking.ID, "trip "+string(trip.Status))
}

// ReconcileStalePayments resolves abandoned in-flight payments. Returns the
// number of bookings whose outcome was decided.
func (s *BookingOrchestratorService) ReconcileStalePayments(ctx context.Context, limit int) (int, error) {
	stale, err := s.bookings.ListStaleInFlight(ctx, time.Now().Add(-s.config.StaleAfter), limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, booking := range stale {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		updated, err := s.reconcile(ctx, booking)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Reconciliation failed")
			continue
		}
		if updated == nil || !updated.PaymentInFlight {
			resolved++
		}
	}
	return resolved, nil
}

// RetryPendingTickets signs tickets for settled bookings that have none.
// Returns the number of tickets issued.
func (s *BookingOrchestratorService) RetryPendingTickets(ctx context.Context, limit int) (int, error) {
	bookings, err := s.bookings.ListMissingTickets(ctx, limit)
	if err != nil {
		return 0, err
	}

	issued := 0
	for _, booking := range bookings {
		if s.issueTicket(ctx, booking) != "" {
			issued++
		}
	}
	return issued, nil
}

// ============================================================================
// CANCEL / COMPLETE
// ============================================================================

// CancelBooking refunds (when paid) and then releases seats. Calling it again
// on a cancelled booking returns the booking unchanged.
func (s *BookingOrchestratorService) CancelBooking(ctx context.Context, bookingID uuid.UUID, reason string) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.BookingStatusCancelled:
		return booking, nil
	case models.BookingStatusCompleted:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidBookingTransition, booking.Status, models.BookingStatusCancelled)
	}

	if booking.PaymentInFlight {
		if !s.isStale(booking) {
			return nil, ErrPaymentOutcomeUnknown
		}
		reconciled, err := s.reconcile(ctx, booking)
		if err != nil {
			return nil, err
		}
		if reconciled == nil {
			return nil, ErrBookingNotFound
		}
		if reconciled.PaymentInFlight {
			return nil, ErrPaymentOutcomeUnknown
		}
		if reconciled.Status == models.BookingStatusCancelled {
			return reconciled, nil
		}
		booking = reconciled
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"trip_id":    booking.TripID,
		"method":     booking.PaymentMethod,
	})
	persistCtx := context.WithoutCancel(ctx)

	// Refund precedes release
	if booking.PaymentStatus == models.PaymentStatusPaid {
		refundData := payment.RefundData{
			Reference: booking.ID.String(),
			Amount:    booking.TotalPrice,
			Currency:  booking.Currency,
			Reason:    reason,
		}
		if booking.PaymentTransactionID != nil {
			refundData.TransactionID = *booking.PaymentTransactionID
		}

		// The router timeout bounds the call; the caller leaving must not turn a
		// completed refund into a reported failure
		result, err := s.router.RefundPayment(persistCtx, booking.PaymentMethod, refundData)
		if err != nil {
			return nil, err
		}

		s.audit.LogRefund(persistCtx, booking, result, models.PaymentSourceBackend)
		if result.Success {
			if _, err := s.bookings.MarkRefunded(persistCtx, booking.ID, result.Status); err != nil {
				return nil, fmt.Errorf("refund issued but not recorded: %w", err)
			}
			booking.PaymentStatus = models.PaymentStatusRefunded
			log.Info("Booking refunded")
		} else {
			log.WithField("code", result.Code).Warn("Refund not completed; flagged for manual follow-up")
			s.publish(persistCtx, EventBookingRefundFailed, booking, result.Code)
		}
	}

	cancelled, released, err := s.bookings.CancelAndReleaseSeats(persistCtx, booking, reason)
	if err != nil {
		return nil, err
	}

	current, err := s.getBooking(persistCtx, booking.ID)
	if err != nil {
		return nil, err
	}
	if cancelled {
		log.WithField("seats_released", released).Info("Booking cancelled")
		s.publish(persistCtx, EventBookingCancelled, current, reason)
	} else if current.Status != models.BookingStatusCancelled {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidBookingTransition, current.Status, models.BookingStatusCancelled)
	}
	return current, nil
}

// CompleteBooking moves a confirmed booking to completed
func (s *BookingOrchestratorService) CompleteBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.BookingStatusCompleted {
		return booking, nil
	}
	if !booking.Status.CanTransitionTo(models.BookingStatusCompleted) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidBookingTransition, booking.Status, models.BookingStatusCompleted)
	}

	ok, err := s.bookings.Complete(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	current, err := s.getBooking(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	if !ok && current.Status != models.BookingStatusCompleted {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidBookingTransition, current.Status, models.BookingStatusCompleted)
	}
	if ok {
		s.publish(ctx, EventBookingCompleted, current, "")
	}
	return current, nil
}

// StartTrip moves the driver's trip to in_progress
func (s *BookingOrchestratorService) StartTrip(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
	return s.inventory.TransitionAsDriver(ctx, tripID, driverID, models.TripStatusInProgress)
}

// CompleteTrip completes the trip and every confirmed booking on it. Cash
// bookings never confirmed by the driver stay pending and are reported.
func (s *BookingOrchestratorService) CompleteTrip(ctx context.Context, tripID, driverID uuid.UUID) (*models.CompleteTripResult, error) {
	trip, err := s.inventory.TransitionAsDriver(ctx, tripID, driverID, models.TripStatusCompleted)
	if err != nil {
		return nil, err
	}

	bookings, err := s.bookings.ListByTrip(ctx, tripID, models.BookingStatusPending, models.BookingStatusConfirmed)
	if err != nil {
		return nil, err
	}

	result := &models.CompleteTripResult{
		Trip:            trip,
		Completed:       []*models.Booking{},
		OutstandingCash: []*models.Booking{},
	}
	for _, booking := range bookings {
		if booking.IsAwaitingCash() {
			result.OutstandingCash = append(result.OutstandingCash, booking)
			s.publish(ctx, EventBookingCashOutstanding, booking, "")
			continue
		}
		if booking.Status != models.BookingStatusConfirmed {
			continue
		}
		completed, err := s.CompleteBooking(ctx, booking.ID)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to complete booking")
			continue
		}
		result.Completed = append(result.Completed, completed)
	}

	if len(result.OutstandingCash) > 0 {
		s.logger.WithFields(logrus.Fields{
			"trip_id":     tripID,
			"outstanding": len(result.OutstandingCash),
		}).Warn("Trip completed with unconfirmed cash payments")
	}

	return result, nil
}

// CancelTrip cancels the trip and then every active booking on it, refunding paid ones
func (s *BookingOrchestratorService) CancelTrip(ctx context.Context, tripID, driverID uuid.UUID, reason string) (*models.CancelTripResult, error) {
	trip, err := s.inventory.TransitionAsDriver(ctx, tripID, driverID, models.TripStatusCancelled)
	if err != nil {
		return nil, err
	}

	bookings, err := s.bookings.ListByTrip(ctx, tripID, models.BookingStatusPending, models.BookingStatusConfirmed)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "trip cancelled by driver"
	}

	result := &models.CancelTripResult{
		Trip:          trip,
		Cancelled:     []*models.Booking{},
		RefundsFailed: []*models.Booking{},
	}
	for _, booking := range bookings {
		cancelled, err := s.CancelBooking(ctx, booking.ID, reason)
		if err != nil {
			// In-flight holds are cancelled once reconciliation settles them
			s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Booking not cancelled with its trip")
			continue
		}
		result.Cancelled = append(result.Cancelled, cancelled)
		if cancelled.PaymentStatus == models.PaymentStatusPaid {
			result.RefundsFailed = append(result.RefundsFailed, cancelled)
		}
	}

	return result, nil
}

// ============================================================================
// DRIVER / GATEWAY CALLBACKS
// ============================================================================

// ConfirmCashPayment records that the trip's driver collected the cash for a booking
func (s *BookingOrchestratorService) ConfirmCashPayment(ctx context.Context, bookingID, driverID uuid.UUID) (*models.Booking, error) {
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	trip, err := s.inventory.GetTrip(ctx, booking.TripID)
	if err != nil {
		return nil, err
	}
	if !trip.IsOwnedBy(driverID) {
		return nil, ErrNotTripOwner
	}

	if booking.PaymentMethod == payment.MethodCash && booking.PaymentStatus == models.PaymentStatusPaid {
		return booking, nil
	}
	if !booking.IsAwaitingCash() || !booking.IsActive() {
		return nil, ErrNotCashBooking
	}

	txID := ""
	if booking.PaymentTransactionID != nil {
		txID = *booking.PaymentTransactionID
	}
	result, err := s.router.ConfirmCashPayment(ctx, txID, booking.TotalPrice)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &PaymentFailedError{Method: payment.MethodCash, Code: result.Code, Message: result.Error}
	}

	persistCtx := context.WithoutCancel(ctx)
	if _, err := s.bookings.MarkCashPaid(persistCtx, booking.ID, result.TransactionID, result.Status); err != nil {
		return nil, err
	}
	s.audit.LogCashConfirmed(persistCtx, booking, result)

	current, err := s.getBooking(persistCtx, booking.ID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"driver_id":  driverID,
	}).Info("Cash payment confirmed")
	s.publish(persistCtx, EventBookingConfirmed, current, "")

	return current, nil
}

// HandlePaymentWebhook applies a verified gateway event to its booking.
// Redelivered events are ignored.
func (s *BookingOrchestratorService) HandlePaymentWebhook(ctx context.Context, method string, outcome *payment.WebhookOutcome) error {
	log := s.logger.WithFields(logrus.Fields{
		"event_id":   outcome.EventID,
		"event_type": outcome.EventType,
		"method":     method,
	})

	if outcome.EventID != "" {
		duplicate, err := s.audit.IsDuplicateWebhook(ctx, outcome.EventID)
		if err != nil {
			return err
		}
		if duplicate {
			log.Debug("Duplicate webhook ignored")
			return nil
		}
	}

	// Recorded only once applied, so a redelivery after a failure is processed again
	if err := s.applyWebhook(ctx, method, outcome, log); err != nil {
		return err
	}
	s.audit.LogWebhook(ctx, method, outcome)
	return nil
}

func (s *BookingOrchestratorService) applyWebhook(ctx context.Context, method string, outcome *payment.WebhookOutcome, log *logrus.Entry) error {
	if outcome.Outcome == payment.WebhookIgnored || outcome.Reference == "" {
		return nil
	}
	bookingID, err := uuid.Parse(outcome.Reference)
	if err != nil {
		log.WithField("reference", outcome.Reference).Warn("Webhook reference is not a booking id")
		return nil
	}

	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking == nil {
		if outcome.Outcome == payment.WebhookSucceeded {
			return s.refundOrphanedPayment(ctx, method, bookingID, outcome)
		}
		return nil
	}

	switch outcome.Outcome {
	case payment.WebhookSucceeded:
		if !booking.PaymentInFlight {
			return nil
		}
		result := &payment.Result{
			Success:       true,
			TransactionID: outcome.TransactionID,
			Amount:        outcome.Amount,
			Currency:      outcome.Currency,
			Status:        payment.StatusSucceeded,
		}
		if err := s.finaliseSettlement(ctx, booking, result); err != nil {
			return err
		}
		s.issueTicket(ctx, booking)
		s.publish(ctx, EventBookingCreated, booking, "")
		_, err := s.cancelIfTripClosed(ctx, booking)
		return err

	case payment.WebhookFailed:
		if booking.PaymentInFlight {
			s.rollbackHold(ctx, booking)
		}

	case payment.WebhookRefunded:
		if booking.PaymentStatus == models.PaymentStatusPaid {
			if _, err := s.bookings.MarkRefunded(ctx, booking.ID, payment.StatusRefunded); err != nil {
				return err
			}
			log.WithField("booking_id", booking.ID).Warn("Payment refunded outside the booking flow")
		}
	}
	return nil
}

// refundOrphanedPayment reverses a capture whose hold was already rolled back
func (s *BookingOrchestratorService) refundOrphanedPayment(ctx context.Context, method string, bookingID uuid.UUID, outcome *payment.WebhookOutcome) error {
	ctx = context.WithoutCancel(ctx)
	result, err := s.router.RefundPayment(ctx, method, payment.RefundData{
		Reference:     bookingID.String(),
		TransactionID: outcome.TransactionID,
		Amount:        outcome.Amount,
		Currency:      outcome.Currency,
		Reason:        "booking no longer exists",
	})
	if err != nil {
		return err
	}

	orphan := &models.Booking{ID: bookingID, PaymentMethod: method, TotalPrice: outcome.Amount, Currency: outcome.Currency}
	s.audit.LogRefund(ctx, orphan, result, models.PaymentSourceStripeWebhook)
	if !result.Success {
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"code":       result.Code,
		}).Error("Payment captured for a rolled back booking could not be refunded")
		return fmt.Errorf("orphaned payment refund failed: %s", result.Code)
	}
	return nil
}

func (s *BookingOrchestratorService) publish(ctx context.Context, routingKey string, booking *models.Booking, reason string) {
	if s.publisher == nil {
		return
	}
	event := BookingEvent{
		BookingID:     booking.ID,
		TripID:        booking.TripID,
		PassengerID:   booking.PassengerID,
		NumSeats:      booking.NumSeats,
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		PaymentMethod: booking.PaymentMethod,
		Reason:        reason,
		OccurredAt:    time.Now(),
	}
	if err := s.publisher.Publish(ctx, routingKey, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":  booking.ID,
			"routing_key": routingKey,
		}).Warn("Failed to publish booking event")
	}
}
