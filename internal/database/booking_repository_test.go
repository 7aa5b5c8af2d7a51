package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBooking() *models.Booking {
	return &models.Booking{
		ID:            uuid.New(),
		TripID:        uuid.New(),
		PassengerID:   uuid.New(),
		NumSeats:      2,
		TotalPrice:    2400,
		Currency:      "DZD",
		PaymentMethod: "cib",
	}
}

func TestBookingRepository_CreateHold(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)
	booking := testBooking()

	mock.ExpectExec(`INSERT INTO bookings`).
		WithArgs(booking.ID, booking.TripID, booking.PassengerID, 2, 2400.0, "DZD",
			models.BookingStatusPending, models.PaymentStatusUnpaid, "cib", nil,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateHold(context.Background(), booking))
	assert.True(t, booking.PaymentInFlight)
	assert.Equal(t, models.BookingStatusPending, booking.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_DeleteHoldAndReleaseSeats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)
	booking := testBooking()

	t.Run("Deletes And Releases", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM bookings`).
			WithArgs(booking.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE trips`).
			WithArgs(booking.TripID, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ok, err := repo.DeleteHoldAndReleaseSeats(context.Background(), booking)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Already Settled Leaves Seats Alone", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM bookings`).
			WithArgs(booking.ID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		ok, err := repo.DeleteHoldAndReleaseSeats(context.Background(), booking)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Release Failure Rolls Back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM bookings`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE trips`).
			WillReturnError(fmt.Errorf("deadlock detected"))
		mock.ExpectRollback()

		ok, err := repo.DeleteHoldAndReleaseSeats(context.Background(), booking)
		assert.Error(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_CancelAndReleaseSeats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)
	booking := testBooking()

	t.Run("First Cancel Releases", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings\s+SET status = 'cancelled'`).
			WithArgs(booking.ID, "passenger request").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`SET seats_released = TRUE`).
			WithArgs(booking.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE trips`).
			WithArgs(booking.TripID, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		cancelled, released, err := repo.CancelAndReleaseSeats(context.Background(), booking, "passenger request")
		require.NoError(t, err)
		assert.True(t, cancelled)
		assert.True(t, released)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Repeat Cancel Releases Nothing", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings\s+SET status = 'cancelled'`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`SET seats_released = TRUE`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		cancelled, released, err := repo.CancelAndReleaseSeats(context.Background(), booking, "passenger request")
		require.NoError(t, err)
		assert.False(t, cancelled)
		assert.False(t, released)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_MarkSettled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)
	id := uuid.New()

	mock.ExpectExec(`SET status = \$2,\s+payment_status = \$3`).
		WithArgs(id, "confirmed", "paid", "TX-1", "succeeded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkSettled(context.Background(), id, models.BookingStatusConfirmed, models.PaymentStatusPaid, "TX-1", "succeeded")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_MarkRefundedOnlyOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)
	id := uuid.New()

	mock.ExpectExec(`SET payment_status = 'refunded'`).
		WithArgs(id, "refunded").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET payment_status = 'refunded'`).
		WithArgs(id, "refunded").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkRefunded(context.Background(), id, "refunded")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkRefunded(context.Background(), id, "refunded")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_ListByTrip(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)
	tripID := uuid.New()
	now := time.Now()
	state := "pending_cash_payment"

	columns := []string{
		"id", "trip_id", "passenger_id", "num_seats", "total_price", "currency",
		"status", "payment_status", "payment_method", "payment_transaction_id", "payment_state",
		"payment_in_flight", "seats_released", "cancel_reason", "ticket_token", "ticket_issued_at",
		"created_at", "updated_at", "cancelled_at", "completed_at",
	}

	mock.ExpectQuery(`FROM bookings\s+WHERE trip_id = \$1 AND status IN \(\$2, \$3\)`).
		WithArgs(tripID, "pending", "confirmed").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(uuid.New().String(), tripID.String(), uuid.New().String(), 1, 800.0, "DZD",
				"pending", "unpaid", "cash", "CASH-1", state,
				false, false, nil, nil, nil,
				now, now, nil, nil).
			AddRow(uuid.New().String(), tripID.String(), uuid.New().String(), 2, 1600.0, "DZD",
				"confirmed", "paid", "cib", "TX-2", "succeeded",
				false, false, nil, "token", now,
				now, now, nil, nil))

	bookings, err := repo.ListByTrip(context.Background(), tripID, models.BookingStatusPending, models.BookingStatusConfirmed)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.True(t, bookings[0].IsAwaitingCash())
	assert.False(t, bookings[1].IsAwaitingCash())
	assert.Equal(t, models.PaymentStatusPaid, bookings[1].PaymentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_ListByTripWithoutStatuses(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)

	bookings, err := repo.ListByTrip(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, bookings)
	assert.NoError(t, mock.ExpectationsWereMet())
}
