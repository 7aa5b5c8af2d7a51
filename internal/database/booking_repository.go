package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/rideshare-core/internal/models"
)

const bookingColumns = `
	id, trip_id, passenger_id, num_seats, total_price, currency,
	status, payment_status, payment_method, payment_transaction_id, payment_state,
	payment_in_flight, seats_released, cancel_reason, ticket_token, ticket_issued_at,
	created_at, updated_at, cancelled_at, completed_at`

// BookingRepository handles booking persistence. Every state change is a
// conditional update so concurrent callers cannot apply the same change twice.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ============================================================================
// HOLD / SETTLEMENT
// ============================================================================

// CreateHold inserts the booking row that backs a seat reservation while
// payment is being settled
func (r *BookingRepository) CreateHold(ctx context.Context, booking *models.Booking) error {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	now := time.Now()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Status = models.BookingStatusPending
	booking.PaymentStatus = models.PaymentStatusUnpaid
	booking.PaymentInFlight = true

	query := `
		INSERT INTO bookings (
			id, trip_id, passenger_id, num_seats, total_price, currency,
			status, payment_status, payment_method, payment_transaction_id,
			payment_in_flight, seats_released, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, FALSE, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		booking.ID, booking.TripID, booking.PassengerID, booking.NumSeats, booking.TotalPrice, booking.Currency,
		booking.Status, booking.PaymentStatus, booking.PaymentMethod, booking.PaymentTransactionID,
		booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking hold: %w", err)
	}
	return nil
}

// DeleteHoldAndReleaseSeats removes an unsettled hold and gives its seats
// back in one transaction. Returns false if the hold was already settled or removed.
func (r *BookingRepository) DeleteHoldAndReleaseSeats(ctx context.Context, booking *models.Booking) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM bookings
		WHERE id = $1 AND payment_in_flight = TRUE AND seats_released = FALSE`,
		booking.ID)
	if err != nil {
		return false, fmt.Errorf("failed to delete booking hold: %w", err)
	}
	deleted, err := affectedOne(result)
	if err != nil || !deleted {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, releaseSeatsQuery, booking.TripID, booking.NumSeats); err != nil {
		return false, fmt.Errorf("failed to release seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit hold rollback: %w", err)
	}
	return true, nil
}

// MarkSettled records a successful settlement on an in-flight hold
func (r *BookingRepository) MarkSettled(ctx context.Context, id uuid.UUID, status models.BookingStatus, paymentStatus models.PaymentStatus, transactionID, state string) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $2,
		    payment_status = $3,
		    payment_transaction_id = COALESCE(NULLIF($4, ''), payment_transaction_id),
		    payment_state = $5,
		    payment_in_flight = FALSE,
		    updated_at = NOW()
		WHERE id = $1 AND payment_in_flight = TRUE`

	result, err := r.db.ExecContext(ctx, query, id, string(status), string(paymentStatus), transactionID, state)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking settled: %w", err)
	}
	return affectedOne(result)
}

// MarkCashPaid records a driver-confirmed cash collection
func (r *BookingRepository) MarkCashPaid(ctx context.Context, id uuid.UUID, transactionID, state string) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'paid',
		    status = CASE WHEN status = 'pending' THEN 'confirmed' ELSE status END,
		    payment_transaction_id = COALESCE(NULLIF($2, ''), payment_transaction_id),
		    payment_state = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND payment_method = 'cash'
		  AND payment_status <> 'paid'
		  AND status IN ('pending', 'confirmed')`

	result, err := r.db.ExecContext(ctx, query, id, transactionID, state)
	if err != nil {
		return false, fmt.Errorf("failed to mark cash paid: %w", err)
	}
	return affectedOne(result)
}

// MarkRefunded flips a paid booking to refunded. A second call is a no-op.
func (r *BookingRepository) MarkRefunded(ctx context.Context, id uuid.UUID, state string) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'refunded',
		    payment_state = $2,
		    updated_at = NOW()
		WHERE id = $1 AND payment_status = 'paid'`

	result, err := r.db.ExecContext(ctx, query, id, state)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking refunded: %w", err)
	}
	return affectedOne(result)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// CancelAndReleaseSeats marks the booking cancelled and releases its seats in
// one transaction. Seats are released only if seats_released flips in this call.
func (r *BookingRepository) CancelAndReleaseSeats(ctx context.Context, booking *models.Booking, reason string) (cancelled bool, released bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
		    cancel_reason = NULLIF($2, ''),
		    cancelled_at = COALESCE(cancelled_at, NOW()),
		    payment_in_flight = FALSE,
		    updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('cancelled', 'completed')`,
		booking.ID, reason)
	if err != nil {
		return false, false, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if cancelled, err = affectedOne(result); err != nil {
		return false, false, err
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE bookings
		SET seats_released = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'cancelled' AND seats_released = FALSE`,
		booking.ID)
	if err != nil {
		return false, false, fmt.Errorf("failed to flag seats released: %w", err)
	}
	if released, err = affectedOne(result); err != nil {
		return false, false, err
	}

	if released {
		if _, err := tx.ExecContext(ctx, releaseSeatsQuery, booking.TripID, booking.NumSeats); err != nil {
			return false, false, fmt.Errorf("failed to release seats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return cancelled, released, nil
}

// Complete moves a confirmed booking to completed
func (r *BookingRepository) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'completed',
		    completed_at = COALESCE(completed_at, NOW()),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete booking: %w", err)
	}
	return affectedOne(result)
}

// SetTicket stores the signed ticket token once
func (r *BookingRepository) SetTicket(ctx context.Context, id uuid.UUID, token string, issuedAt time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET ticket_token = $2, ticket_issued_at = $3, updated_at = NOW()
		WHERE id = $1 AND ticket_token IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, token, issuedAt)
	if err != nil {
		return false, fmt.Errorf("failed to set ticket: %w", err)
	}
	return affectedOne(result)
}

// ============================================================================
// QUERIES
// ============================================================================

// GetByID returns the booking, or nil if it does not exist
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// ListByTrip returns the trip's bookings in any of statuses, oldest first
func (r *BookingRepository) ListByTrip(ctx context.Context, tripID uuid.UUID, statuses ...models.BookingStatus) ([]*models.Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	query, args, err := sqlx.In(`
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE trip_id = ? AND status IN (?)
		ORDER BY created_at ASC`, tripID, values)
	if err != nil {
		return nil, fmt.Errorf("failed to build trip bookings query: %w", err)
	}

	bookings := []*models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list trip bookings: %w", err)
	}
	return bookings, nil
}

// ListStaleInFlight returns holds whose settlement outcome is still unknown
// and that were created before cutoff
func (r *BookingRepository) ListStaleInFlight(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	bookings := []*models.Booking{}
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE payment_in_flight = TRUE AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight bookings: %w", err)
	}
	return bookings, nil
}

// ListMissingTickets returns settled, active bookings that have no ticket yet
func (r *BookingRepository) ListMissingTickets(ctx context.Context, limit int) ([]*models.Booking, error) {
	bookings := []*models.Booking{}
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE ticket_token IS NULL
		  AND payment_in_flight = FALSE
		  AND status IN ('pending', 'confirmed')
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings missing tickets: %w", err)
	}
	return bookings, nil
}
