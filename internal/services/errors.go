package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrTripNotFound             = errors.New("trip not found")
	ErrBookingNotFound          = errors.New("booking not found")
	ErrVehicleNotFound          = errors.New("vehicle not found")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrInvalidTripTransition    = errors.New("invalid trip status transition")
	ErrInvalidBookingTransition = errors.New("invalid booking status transition")
	ErrNotTripOwner             = errors.New("trip does not belong to this driver")
	ErrNotCashBooking           = errors.New("booking is not awaiting a cash payment")
	ErrDuplicatePlate           = errors.New("a vehicle with this license plate is already registered")
	ErrTicketInvalid            = errors.New("ticket is invalid")
	ErrTicketAlreadyScanned     = errors.New("ticket has already been scanned")

	// ErrPaymentOutcomeUnknown means the caller gave up while a payment was
	// being settled. The booking stays in flight until reconciled.
	ErrPaymentOutcomeUnknown = errors.New("payment outcome unknown")
)

// SeatsUnavailableError is returned when a trip cannot supply the requested seats
type SeatsUnavailableError struct {
	TripID    uuid.UUID
	Requested int
	Available int
}

func (e *SeatsUnavailableError) Error() string {
	return fmt.Sprintf("trip %s has %d seats available, %d requested", e.TripID, e.Available, e.Requested)
}

// PaymentFailedError is returned when settlement was declined or could not complete.
// Seats are already released when this is returned.
type PaymentFailedError struct {
	Method  string
	Code    string
	Message string
}

func (e *PaymentFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s payment failed: %s", e.Method, e.Code)
	}
	return fmt.Sprintf("%s payment failed: %s (%s)", e.Method, e.Code, e.Message)
}
