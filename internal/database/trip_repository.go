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

const tripColumns = `
	id, driver_id, vehicle_id, total_seats, available_seats, status,
	price_per_seat, pricing_strategy, currency,
	started_at, completed_at, cancelled_at, created_at, updated_at`

// releaseSeatsQuery never lets available_seats exceed total_seats
const releaseSeatsQuery = `
	UPDATE trips
	SET available_seats = LEAST(total_seats, available_seats + $2),
	    updated_at = NOW()
	WHERE id = $1`

// TripRepository handles trip and seat inventory persistence
type TripRepository struct {
	db *sqlx.DB
}

// NewTripRepository creates a new TripRepository
func NewTripRepository(db *sqlx.DB) *TripRepository {
	return &TripRepository{db: db}
}

// Create inserts a new trip with all seats available
func (r *TripRepository) Create(ctx context.Context, trip *models.Trip) error {
	if trip.ID == uuid.Nil {
		trip.ID = uuid.New()
	}
	now := time.Now()
	trip.CreatedAt = now
	trip.UpdatedAt = now
	trip.AvailableSeats = trip.TotalSeats
	if trip.Status == "" {
		trip.Status = models.TripStatusActive
	}

	query := `
		INSERT INTO trips (
			id, driver_id, vehicle_id, total_seats, available_seats, status,
			price_per_seat, pricing_strategy, currency, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		trip.ID, trip.DriverID, trip.VehicleID, trip.TotalSeats, trip.AvailableSeats, trip.Status,
		trip.PricePerSeat, trip.PricingStrategy, trip.Currency, trip.CreatedAt, trip.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}
	return nil
}

// GetByID returns the trip, or nil if it does not exist
func (r *TripRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	var trip models.Trip
	err := r.db.GetContext(ctx, &trip, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return &trip, nil
}

// ReserveSeats decrements available seats in a single conditional statement.
// Returns false when the trip is not active or has fewer than n seats left.
func (r *TripRepository) ReserveSeats(ctx context.Context, id uuid.UUID, n int) (bool, error) {
	query := `
		UPDATE trips
		SET available_seats = available_seats - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'active'
		  AND available_seats >= $2`

	result, err := r.db.ExecContext(ctx, query, id, n)
	if err != nil {
		return false, fmt.Errorf("failed to reserve seats: %w", err)
	}
	return affectedOne(result)
}

// ReleaseSeats returns n seats to the trip, capped at total_seats
func (r *TripRepository) ReleaseSeats(ctx context.Context, id uuid.UUID, n int) (bool, error) {
	result, err := r.db.ExecContext(ctx, releaseSeatsQuery, id, n)
	if err != nil {
		return false, fmt.Errorf("failed to release seats: %w", err)
	}
	return affectedOne(result)
}

// UpdateStatus moves the trip from one status to another. The matching
// timestamp is stamped only if it is still NULL.
func (r *TripRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.TripStatus) (bool, error) {
	query := `
		UPDATE trips
		SET status = $3,
		    started_at = CASE WHEN $3 = 'in_progress' THEN COALESCE(started_at, NOW()) ELSE started_at END,
		    completed_at = CASE WHEN $3 = 'completed' THEN COALESCE(completed_at, NOW()) ELSE completed_at END,
		    cancelled_at = CASE WHEN $3 = 'cancelled' THEN COALESCE(cancelled_at, NOW()) ELSE cancelled_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("failed to update trip status: %w", err)
	}
	return affectedOne(result)
}

func affectedOne(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
