package models

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus represents the lifecycle state of a trip
type TripStatus string

const (
	TripStatusActive     TripStatus = "active"      // Published, seats can be reserved
	TripStatusInProgress TripStatus = "in_progress" // Driver has departed
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
	TripStatusDeleted    TripStatus = "deleted"
)

// tripTransitions lists the allowed edges of the trip state machine.
// Terminal states have no outgoing edges.
var tripTransitions = map[TripStatus][]TripStatus{
	TripStatusActive:     {TripStatusInProgress, TripStatusCancelled, TripStatusDeleted},
	TripStatusInProgress: {TripStatusCompleted},
}

// IsValid reports whether s is a known trip status
func (s TripStatus) IsValid() bool {
	switch s {
	case TripStatusActive, TripStatusInProgress, TripStatusCompleted, TripStatusCancelled, TripStatusDeleted:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s TripStatus) IsTerminal() bool {
	return s.IsValid() && len(tripTransitions[s]) == 0
}

// CanTransitionTo reports whether s -> next is an allowed edge
func (s TripStatus) CanTransitionTo(next TripStatus) bool {
	for _, allowed := range tripTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PricingStrategy is informational; callers compute the total price
type PricingStrategy string

const (
	PricingFixed   PricingStrategy = "fixed"
	PricingPerKm   PricingStrategy = "per_km"
	PricingDynamic PricingStrategy = "dynamic"
)

// Trip is a driver-published ride with a fixed seat inventory
type Trip struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	DriverID        uuid.UUID       `json:"driver_id" db:"driver_id"`
	VehicleID       *uuid.UUID      `json:"vehicle_id,omitempty" db:"vehicle_id"`
	TotalSeats      int             `json:"total_seats" db:"total_seats"`
	AvailableSeats  int             `json:"available_seats" db:"available_seats"`
	Status          TripStatus      `json:"status" db:"status"`
	PricePerSeat    float64         `json:"price_per_seat" db:"price_per_seat"`
	PricingStrategy PricingStrategy `json:"pricing_strategy" db:"pricing_strategy"`
	Currency        string          `json:"currency" db:"currency"`

	// Each stamp is written once, on its transition
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BookedSeats returns the number of seats currently held by bookings
func (t *Trip) BookedSeats() int {
	return t.TotalSeats - t.AvailableSeats
}

// IsOwnedBy reports whether driverID published the trip
func (t *Trip) IsOwnedBy(driverID uuid.UUID) bool {
	return t.DriverID == driverID
}

// CreateTripRequest is used when a driver publishes a trip
type CreateTripRequest struct {
	DriverID        uuid.UUID       `json:"driver_id" validate:"required"`
	VehicleID       *uuid.UUID      `json:"vehicle_id,omitempty"`
	TotalSeats      int             `json:"total_seats" validate:"required,min=1,max=60"`
	PricePerSeat    float64         `json:"price_per_seat" validate:"gte=0"`
	PricingStrategy PricingStrategy `json:"pricing_strategy" validate:"omitempty,oneof=fixed per_km dynamic"`
	Currency        string          `json:"currency" validate:"required,len=3,uppercase"`
}
