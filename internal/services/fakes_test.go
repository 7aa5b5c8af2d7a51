package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
)

// memDB keeps trips and bookings behind one mutex so the composite booking
// operations are atomic, as their SQL transactions are
type memDB struct {
	mu       sync.Mutex
	trips    map[uuid.UUID]*models.Trip
	bookings map[uuid.UUID]*models.Booking

	failCreateHold error
	failSettle     error
}

func newMemDB() *memDB {
	return &memDB{
		trips:    map[uuid.UUID]*models.Trip{},
		bookings: map[uuid.UUID]*models.Booking{},
	}
}

func (db *memDB) releaseLocked(tripID uuid.UUID, n int) {
	if trip, ok := db.trips[tripID]; ok {
		trip.AvailableSeats += n
		if trip.AvailableSeats > trip.TotalSeats {
			trip.AvailableSeats = trip.TotalSeats
		}
	}
}

func copyBooking(b *models.Booking) *models.Booking {
	c := *b
	return &c
}

// ============================================================================
// TripStore
// ============================================================================

type memTripStore struct{ db *memDB }

func (s *memTripStore) Create(ctx context.Context, trip *models.Trip) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if trip.ID == uuid.Nil {
		trip.ID = uuid.New()
	}
	now := time.Now()
	trip.CreatedAt, trip.UpdatedAt = now, now
	trip.AvailableSeats = trip.TotalSeats
	trip.Status = models.TripStatusActive

	c := *trip
	s.db.trips[trip.ID] = &c
	return nil
}

func (s *memTripStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	trip, ok := s.db.trips[id]
	if !ok {
		return nil, nil
	}
	c := *trip
	return &c, nil
}

func (s *memTripStore) ReserveSeats(ctx context.Context, id uuid.UUID, n int) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	trip, ok := s.db.trips[id]
	if !ok || trip.Status != models.TripStatusActive || trip.AvailableSeats < n {
		return false, nil
	}
	trip.AvailableSeats -= n
	return true, nil
}

func (s *memTripStore) ReleaseSeats(ctx context.Context, id uuid.UUID, n int) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.trips[id]; !ok {
		return false, nil
	}
	s.db.releaseLocked(id, n)
	return true, nil
}

func (s *memTripStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.TripStatus) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	trip, ok := s.db.trips[id]
	if !ok || trip.Status != from {
		return false, nil
	}
	trip.Status = to
	now := time.Now()
	switch to {
	case models.TripStatusInProgress:
		trip.StartedAt = &now
	case models.TripStatusCompleted:
		trip.CompletedAt = &now
	case models.TripStatusCancelled:
		trip.CancelledAt = &now
	}
	return true, nil
}

// ============================================================================
// BookingStore
// ============================================================================

type memBookingStore struct{ db *memDB }

func (s *memBookingStore) CreateHold(ctx context.Context, booking *models.Booking) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if s.db.failCreateHold != nil {
		return s.db.failCreateHold
	}
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	now := time.Now()
	booking.CreatedAt, booking.UpdatedAt = now, now
	booking.Status = models.BookingStatusPending
	booking.PaymentStatus = models.PaymentStatusUnpaid
	booking.PaymentInFlight = true
	booking.SeatsReleased = false

	s.db.bookings[booking.ID] = copyBooking(booking)
	return nil
}

func (s *memBookingStore) DeleteHoldAndReleaseSeats(ctx context.Context, booking *models.Booking) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	stored, ok := s.db.bookings[booking.ID]
	if !ok || !stored.PaymentInFlight || stored.SeatsReleased {
		return false, nil
	}
	delete(s.db.bookings, booking.ID)
	s.db.releaseLocked(stored.TripID, stored.NumSeats)
	return true, nil
}

func (s *memBookingStore) MarkSettled(ctx context.Context, id uuid.UUID, status models.BookingStatus, paymentStatus models.PaymentStatus, transactionID, state string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if s.db.failSettle != nil {
		return false, s.db.failSettle
	}
	b, ok := s.db.bookings[id]
	if !ok || !b.PaymentInFlight {
		return false, nil
	}
	b.Status = status
	b.PaymentStatus = paymentStatus
	if transactionID != "" {
		b.PaymentTransactionID = &transactionID
	}
	b.PaymentState = &state
	b.PaymentInFlight = false
	return true, nil
}

func (s *memBookingStore) MarkCashPaid(ctx context.Context, id uuid.UUID, transactionID, state string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	b, ok := s.db.bookings[id]
	if !ok || b.PaymentMethod != "cash" || b.PaymentStatus == models.PaymentStatusPaid || !b.IsActive() {
		return false, nil
	}
	b.PaymentStatus = models.PaymentStatusPaid
	if b.Status == models.BookingStatusPending {
		b.Status = models.BookingStatusConfirmed
	}
	if transactionID != "" {
		b.PaymentTransactionID = &transactionID
	}
	b.PaymentState = &state
	return true, nil
}

func (s *memBookingStore) MarkRefunded(ctx context.Context, id uuid.UUID, state string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	b, ok := s.db.bookings[id]
	if !ok || b.PaymentStatus != models.PaymentStatusPaid {
		return false, nil
	}
	b.PaymentStatus = models.PaymentStatusRefunded
	b.PaymentState = &state
	return true, nil
}

func (s *memBookingStore) CancelAndReleaseSeats(ctx context.Context, booking *models.Booking, reason string) (bool, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	b, ok := s.db.bookings[booking.ID]
	if !ok {
		return false, false, nil
	}

	cancelled := false
	if b.Status != models.BookingStatusCancelled && b.Status != models.BookingStatusCompleted {
		now := time.Now()
		b.Status = models.BookingStatusCancelled
		b.CancelledAt = &now
		b.PaymentInFlight = false
		if reason != "" {
			b.CancelReason = &reason
		}
		cancelled = true
	}

	released := false
	if b.Status == models.BookingStatusCancelled && !b.SeatsReleased {
		b.SeatsReleased = true
		s.db.releaseLocked(b.TripID, b.NumSeats)
		released = true
	}
	return cancelled, released, nil
}

func (s *memBookingStore) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	b, ok := s.db.bookings[id]
	if !ok || b.Status != models.BookingStatusConfirmed {
		return false, nil
	}
	now := time.Now()
	b.Status = models.BookingStatusCompleted
	b.CompletedAt = &now
	return true, nil
}

func (s *memBookingStore) SetTicket(ctx context.Context, id uuid.UUID, token string, issuedAt time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	b, ok := s.db.bookings[id]
	if !ok || b.TicketToken != nil {
		return false, nil
	}
	b.TicketToken = &token
	b.TicketIssuedAt = &issuedAt
	return true, nil
}

func (s *memBookingStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	b, ok := s.db.bookings[id]
	if !ok {
		return nil, nil
	}
	return copyBooking(b), nil
}

func (s *memBookingStore) ListByTrip(ctx context.Context, tripID uuid.UUID, statuses ...models.BookingStatus) ([]*models.Booking, error) {
	return s.list(func(b *models.Booking) bool {
		if b.TripID != tripID {
			return false
		}
		for _, status := range statuses {
			if b.Status == status {
				return true
			}
		}
		return false
	}, 0), nil
}

func (s *memBookingStore) ListStaleInFlight(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	return s.list(func(b *models.Booking) bool {
		return b.PaymentInFlight && b.CreatedAt.Before(cutoff)
	}, limit), nil
}

func (s *memBookingStore) ListMissingTickets(ctx context.Context, limit int) ([]*models.Booking, error) {
	return s.list(func(b *models.Booking) bool {
		return b.TicketToken == nil && !b.PaymentInFlight && b.IsActive()
	}, limit), nil
}

func (s *memBookingStore) list(match func(*models.Booking) bool, limit int) []*models.Booking {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := []*models.Booking{}
	for _, b := range s.db.bookings {
		if match(b) {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// backdate makes a hold look abandoned
func (db *memDB) backdate(id uuid.UUID, age time.Duration) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.bookings[id].CreatedAt = time.Now().Add(-age)
}

// ============================================================================
// Audit, events, signer
// ============================================================================

type memAuditStore struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (s *memAuditStore) Log(ctx context.Context, audit *models.PaymentAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, audit)
	return nil
}

func (s *memAuditStore) HasWebhookEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.EventType == models.PaymentEventWebhookReceived && e.Metadata["event_id"] == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memAuditStore) count(eventType models.PaymentEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type publishedEvent struct {
	routingKey string
	event      BookingEvent
}

type memPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *memPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	event, _ := payload.(BookingEvent)
	p.events = append(p.events, publishedEvent{routingKey: routingKey, event: event})
	return nil
}

func (p *memPublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.routingKey == routingKey {
			n++
		}
	}
	return n
}

// flakySigner wraps the real signer and can be told to fail
type flakySigner struct {
	*encryption.Service
	mu   sync.Mutex
	fail bool
}

func (s *flakySigner) SignTicket(ticket encryption.TicketData) (string, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return "", &encryption.EncryptionError{Reason: "signing unavailable", Err: errors.New("hsm offline")}
	}
	return s.Service.SignTicket(ticket)
}

func (s *flakySigner) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
