package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
)

// PlateFormat tells how a vehicle's plate is stored
type PlateFormat string

const (
	PlateFormatEncrypted PlateFormat = "aes-256-gcm"
	PlateFormatLegacy    PlateFormat = "legacy-plaintext" // rows written before encryption; migrated by cron
)

// Vehicle is a driver's car. The license plate never leaves the row in plaintext.
type Vehicle struct {
	ID       uuid.UUID `json:"id" db:"id"`
	DriverID uuid.UUID `json:"driver_id" db:"driver_id"`
	Make     string    `json:"make" db:"make"`
	Model    string    `json:"model" db:"model"`
	Color    string    `json:"color" db:"color"`
	Seats    int       `json:"seats" db:"seats"`

	PlateCiphertext  *string     `json:"-" db:"plate_ciphertext"`
	PlateIV          *string     `json:"-" db:"plate_iv"`
	PlateAuthTag     *string     `json:"-" db:"plate_auth_tag"`
	PlateSalt        *string     `json:"-" db:"plate_salt"`
	PlateKeyVersion  int         `json:"-" db:"plate_key_version"`
	PlateHash        string      `json:"-" db:"plate_hash"`
	PlateFormat      PlateFormat `json:"plate_format" db:"plate_format"`
	PlateLegacyValue *string     `json:"-" db:"plate_legacy_value"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EncryptedPlate returns the stored plate components, or nil for legacy rows
func (v *Vehicle) EncryptedPlate() *encryption.EncryptedField {
	if v.PlateFormat != PlateFormatEncrypted || v.PlateCiphertext == nil || v.PlateIV == nil || v.PlateAuthTag == nil || v.PlateSalt == nil {
		return nil
	}
	return &encryption.EncryptedField{
		Ciphertext: *v.PlateCiphertext,
		IV:         *v.PlateIV,
		AuthTag:    *v.PlateAuthTag,
		Salt:       *v.PlateSalt,
		Version:    v.PlateKeyVersion,
	}
}

// SetEncryptedPlate stores encrypted plate components and clears any legacy value
func (v *Vehicle) SetEncryptedPlate(field *encryption.EncryptedField) {
	v.PlateCiphertext = &field.Ciphertext
	v.PlateIV = &field.IV
	v.PlateAuthTag = &field.AuthTag
	v.PlateSalt = &field.Salt
	v.PlateKeyVersion = field.Version
	v.PlateFormat = PlateFormatEncrypted
	v.PlateLegacyValue = nil
}

// RegisterVehicleRequest is used when a driver adds a vehicle
type RegisterVehicleRequest struct {
	DriverID     uuid.UUID `json:"driver_id" validate:"required"`
	Make         string    `json:"make" validate:"required,max=50"`
	Model        string    `json:"model" validate:"required,max=50"`
	Color        string    `json:"color" validate:"max=30"`
	Seats        int       `json:"seats" validate:"required,min=1,max=60"`
	LicensePlate string    `json:"license_plate" validate:"required,min=2,max=20"`
}
