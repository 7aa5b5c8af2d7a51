package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/rideshare-core/pkg/validator"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled},
}

// CanTransitionTo reports whether s -> next is an allowed edge
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus represents the money side of a booking
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Booking is a passenger's claim on seats of one trip
type Booking struct {
	ID          uuid.UUID `json:"id" db:"id"`
	TripID      uuid.UUID `json:"trip_id" db:"trip_id"`
	PassengerID uuid.UUID `json:"passenger_id" db:"passenger_id"`
	NumSeats    int       `json:"num_seats" db:"num_seats"`
	TotalPrice  float64   `json:"total_price" db:"total_price"` // stored as supplied by the caller
	Currency    string    `json:"currency" db:"currency"`

	Status               BookingStatus `json:"status" db:"status"`
	PaymentStatus        PaymentStatus `json:"payment_status" db:"payment_status"`
	PaymentMethod        string        `json:"payment_method" db:"payment_method"`
	PaymentTransactionID *string       `json:"payment_transaction_id,omitempty" db:"payment_transaction_id"`
	PaymentState         *string       `json:"payment_state,omitempty" db:"payment_state"` // strategy status tag

	// Settlement bookkeeping
	PaymentInFlight bool `json:"payment_in_flight" db:"payment_in_flight"`
	SeatsReleased   bool `json:"-" db:"seats_released"`

	CancelReason   *string    `json:"cancel_reason,omitempty" db:"cancel_reason"`
	TicketToken    *string    `json:"ticket_token,omitempty" db:"ticket_token"`
	TicketIssuedAt *time.Time `json:"ticket_issued_at,omitempty" db:"ticket_issued_at"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsAwaitingCash reports whether the driver still has to collect a cash payment
func (b *Booking) IsAwaitingCash() bool {
	return b.PaymentMethod == "cash" &&
		b.PaymentStatus != PaymentStatusPaid &&
		b.PaymentState != nil && *b.PaymentState == "pending_cash_payment"
}

// IsActive reports whether the booking still holds seats
func (b *Booking) IsActive() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// CreateBookingRequest is the input of the booking flow
type CreateBookingRequest struct {
	TripID        uuid.UUID `json:"trip_id" validate:"required"`
	PassengerID   uuid.UUID `json:"passenger_id" validate:"required"`
	NumSeats      int       `json:"num_seats" validate:"required,min=1"`
	TotalPrice    float64   `json:"total_price" validate:"gt=0"`
	Currency      string    `json:"currency" validate:"required,len=3,uppercase"`
	PaymentMethod string    `json:"payment_method" validate:"required"`

	Payment PaymentDetails `json:"payment"`
}

// PaymentDetails carries method-specific payment input. Never persisted.
type PaymentDetails struct {
	Card            *validator.CardDetails `json:"-"`
	PaymentMethodID string                 `json:"payment_method_id,omitempty"`
	OrderID         string                 `json:"order_id,omitempty"`
	CustomerEmail   string                 `json:"customer_email,omitempty" validate:"omitempty,email"`
	Recurring       bool                   `json:"recurring,omitempty"`
}

// CreateBookingResult is returned after a successful booking
type CreateBookingResult struct {
	Booking      *Booking `json:"booking"`
	TicketToken  string   `json:"ticket_token,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// CompleteTripResult reports what happened to a trip's bookings on completion
type CompleteTripResult struct {
	Trip            *Trip      `json:"trip"`
	Completed       []*Booking `json:"completed"`
	OutstandingCash []*Booking `json:"outstanding_cash"`
}

// CancelTripResult reports what happened to a trip's bookings on cancellation
type CancelTripResult struct {
	Trip          *Trip      `json:"trip"`
	Cancelled     []*Booking `json:"cancelled"`
	RefundsFailed []*Booking `json:"refunds_failed"`
}
