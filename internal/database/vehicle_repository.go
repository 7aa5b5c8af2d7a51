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

const vehicleColumns = `
	id, driver_id, make, model, color, seats,
	plate_ciphertext, plate_iv, plate_auth_tag, plate_salt, plate_key_version,
	plate_hash, plate_format, plate_legacy_value, created_at, updated_at`

// VehicleRepository handles vehicle persistence. Plates are stored as
// encrypted components plus a one-way hash.
type VehicleRepository struct {
	db *sqlx.DB
}

// NewVehicleRepository creates a new VehicleRepository
func NewVehicleRepository(db *sqlx.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// Create inserts a vehicle with an already encrypted plate
func (r *VehicleRepository) Create(ctx context.Context, v *models.Vehicle) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now()
	v.CreatedAt = now
	v.UpdatedAt = now

	query := `
		INSERT INTO vehicles (
			id, driver_id, make, model, color, seats,
			plate_ciphertext, plate_iv, plate_auth_tag, plate_salt, plate_key_version,
			plate_hash, plate_format, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.DriverID, v.Make, v.Model, v.Color, v.Seats,
		v.PlateCiphertext, v.PlateIV, v.PlateAuthTag, v.PlateSalt, v.PlateKeyVersion,
		v.PlateHash, v.PlateFormat, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create vehicle: %w", err)
	}
	return nil
}

// GetByID returns the vehicle, or nil if it does not exist
func (r *VehicleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var v models.Vehicle
	err := r.db.GetContext(ctx, &v, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return &v, nil
}

// ExistsByPlateHash reports whether a vehicle with this plate digest exists
func (r *VehicleRepository) ExistsByPlateHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM vehicles WHERE plate_hash = $1)`, hash)
	if err != nil {
		return false, fmt.Errorf("failed to check plate hash: %w", err)
	}
	return exists, nil
}

// ListLegacyPlates returns rows still holding a plaintext plate
func (r *VehicleRepository) ListLegacyPlates(ctx context.Context, limit int) ([]*models.Vehicle, error) {
	vehicles := []*models.Vehicle{}
	err := r.db.SelectContext(ctx, &vehicles, `
		SELECT `+vehicleColumns+`
		FROM vehicles
		WHERE plate_format = $1
		ORDER BY created_at ASC
		LIMIT $2`, models.PlateFormatLegacy, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy plates: %w", err)
	}
	return vehicles, nil
}

// ReplaceLegacyPlate swaps a legacy plaintext plate for its encrypted form.
// Returns false if the row was migrated concurrently.
func (r *VehicleRepository) ReplaceLegacyPlate(ctx context.Context, v *models.Vehicle) (bool, error) {
	query := `
		UPDATE vehicles
		SET plate_ciphertext = $2,
		    plate_iv = $3,
		    plate_auth_tag = $4,
		    plate_salt = $5,
		    plate_key_version = $6,
		    plate_hash = $7,
		    plate_format = $8,
		    plate_legacy_value = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND plate_format = $9`

	result, err := r.db.ExecContext(ctx, query,
		v.ID, v.PlateCiphertext, v.PlateIV, v.PlateAuthTag, v.PlateSalt, v.PlateKeyVersion,
		v.PlateHash, models.PlateFormatEncrypted, models.PlateFormatLegacy,
	)
	if err != nil {
		return false, fmt.Errorf("failed to replace legacy plate: %w", err)
	}
	return affectedOne(result)
}
