package services

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/models"
)

var validate = validator.New()

// TripInventoryService owns the trip state machine and the seat counter
type TripInventoryService struct {
	trips  TripStore
	logger *logrus.Logger
}

// NewTripInventoryService creates a new TripInventoryService
func NewTripInventoryService(trips TripStore, logger *logrus.Logger) *TripInventoryService {
	return &TripInventoryService{
		trips:  trips,
		logger: logger,
	}
}

// CreateTrip publishes a new active trip with every seat available
func (s *TripInventoryService) CreateTrip(ctx context.Context, req models.CreateTripRequest) (*models.Trip, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	pricing := req.PricingStrategy
	if pricing == "" {
		pricing = models.PricingFixed
	}

	trip := &models.Trip{
		ID:              uuid.New(),
		DriverID:        req.DriverID,
		VehicleID:       req.VehicleID,
		TotalSeats:      req.TotalSeats,
		AvailableSeats:  req.TotalSeats,
		Status:          models.TripStatusActive,
		PricePerSeat:    req.PricePerSeat,
		PricingStrategy: pricing,
		Currency:        req.Currency,
	}
	if err := s.trips.Create(ctx, trip); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":     trip.ID,
		"driver_id":   trip.DriverID,
		"total_seats": trip.TotalSeats,
	}).Info("Trip created")

	return trip, nil
}

// GetTrip returns the trip or ErrTripNotFound
func (s *TripInventoryService) GetTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, ErrTripNotFound
	}
	return trip, nil
}

// ReserveSeats atomically takes n seats from an active trip. Concurrent
// callers can never drive available_seats below zero.
func (s *TripInventoryService) ReserveSeats(ctx context.Context, tripID uuid.UUID, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: seat count must be at least 1", ErrInvalidRequest)
	}

	ok, err := s.trips.ReserveSeats(ctx, tripID, n)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	trip, err := s.GetTrip(ctx, tripID)
	if err != nil {
		return err
	}
	available := trip.AvailableSeats
	if trip.Status != models.TripStatusActive {
		available = 0
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":   tripID,
		"requested": n,
		"available": available,
		"status":    trip.Status,
	}).Info("Seat reservation rejected")

	return &SeatsUnavailableError{TripID: tripID, Requested: n, Available: available}
}

// ReleaseSeats returns n seats to the trip. Callers guard against releasing
// the same booking twice.
func (s *TripInventoryService) ReleaseSeats(ctx context.Context, tripID uuid.UUID, n int) error {
	if n < 1 {
		return nil
	}
	ok, err := s.trips.ReleaseSeats(ctx, tripID, n)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTripNotFound
	}
	return nil
}

// Transition moves the trip along one edge of its state machine
func (s *TripInventoryService) Transition(ctx context.Context, tripID uuid.UUID, to models.TripStatus) (*models.Trip, error) {
	trip, err := s.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, trip, to)
}

// TransitionAsDriver is Transition restricted to the trip's own driver
func (s *TripInventoryService) TransitionAsDriver(ctx context.Context, tripID, driverID uuid.UUID, to models.TripStatus) (*models.Trip, error) {
	trip, err := s.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !trip.IsOwnedBy(driverID) {
		return nil, ErrNotTripOwner
	}
	return s.transition(ctx, trip, to)
}

func (s *TripInventoryService) transition(ctx context.Context, trip *models.Trip, to models.TripStatus) (*models.Trip, error) {
	from := trip.Status
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTripTransition, from, to)
	}

	ok, err := s.trips.UpdateStatus(ctx, trip.ID, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else moved the trip first
		return nil, fmt.Errorf("%w: trip is no longer %s", ErrInvalidTripTransition, from)
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id": trip.ID,
		"from":    from,
		"to":      to,
	}).Info("Trip status changed")

	return s.GetTrip(ctx, trip.ID)
}
