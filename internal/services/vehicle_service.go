package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
)

// VehicleService registers vehicles and guards their license plates
type VehicleService struct {
	vehicles  VehicleStore
	encryptor FieldEncryptor
	logger    *logrus.Logger
}

// NewVehicleService creates a new vehicle service
func NewVehicleService(vehicles VehicleStore, encryptor FieldEncryptor, logger *logrus.Logger) *VehicleService {
	return &VehicleService{
		vehicles:  vehicles,
		encryptor: encryptor,
		logger:    logger,
	}
}

// NormalisePlate uppercases a plate and strips spaces and dashes
func NormalisePlate(plate string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(plate)))
}

// RegisterVehicle stores a vehicle with its plate encrypted. A plate can only be
// registered once.
func (s *VehicleService) RegisterVehicle(ctx context.Context, req models.RegisterVehicleRequest) (*models.Vehicle, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	plate := NormalisePlate(req.LicensePlate)
	if plate == "" {
		return nil, fmt.Errorf("%w: license plate is empty", ErrInvalidRequest)
	}

	hash := s.encryptor.Hash(plate)
	exists, err := s.vehicles.ExistsByPlateHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicatePlate
	}

	field, err := s.encryptor.Encrypt(plate)
	if err != nil {
		return nil, err
	}

	vehicle := &models.Vehicle{
		DriverID:  req.DriverID,
		Make:      req.Make,
		Model:     req.Model,
		Color:     req.Color,
		Seats:     req.Seats,
		PlateHash: hash,
	}
	vehicle.SetEncryptedPlate(field)

	if err := s.vehicles.Create(ctx, vehicle); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"vehicle_id": vehicle.ID,
		"driver_id":  vehicle.DriverID,
	}).Info("Vehicle registered")
	return vehicle, nil
}

// RevealPlate returns the plaintext plate. Legacy rows are returned as stored.
func (s *VehicleService) RevealPlate(ctx context.Context, vehicleID uuid.UUID) (string, error) {
	vehicle, err := s.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		return "", err
	}
	if vehicle == nil {
		return "", ErrVehicleNotFound
	}

	if vehicle.PlateFormat == models.PlateFormatLegacy {
		if vehicle.PlateLegacyValue == nil {
			return "", &encryption.DecryptionError{Reason: "legacy plate is missing"}
		}
		s.logger.WithField("vehicle_id", vehicle.ID).Warn("Serving a plate that is not yet encrypted")
		return *vehicle.PlateLegacyValue, nil
	}

	field := vehicle.EncryptedPlate()
	if field == nil {
		return "", &encryption.DecryptionError{Reason: "encrypted plate components are missing"}
	}
	return s.encryptor.Decrypt(field)
}

// MigrateLegacyPlates encrypts up to limit plaintext plates and returns how many
// rows were migrated. A row that fails is logged and skipped.
func (s *VehicleService) MigrateLegacyPlates(ctx context.Context, limit int) (int, error) {
	vehicles, err := s.vehicles.ListLegacyPlates(ctx, limit)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, vehicle := range vehicles {
		if ctx.Err() != nil {
			return migrated, ctx.Err()
		}
		if vehicle.PlateLegacyValue == nil {
			s.logger.WithField("vehicle_id", vehicle.ID).Warn("Legacy vehicle row has no plate")
			continue
		}

		plate := NormalisePlate(*vehicle.PlateLegacyValue)
		field, err := s.encryptor.Encrypt(plate)
		if err != nil {
			s.logger.WithError(err).WithField("vehicle_id", vehicle.ID).Error("Failed to encrypt legacy plate")
			continue
		}
		vehicle.PlateHash = s.encryptor.Hash(plate)
		vehicle.SetEncryptedPlate(field)

		ok, err := s.vehicles.ReplaceLegacyPlate(ctx, vehicle)
		if err != nil {
			s.logger.WithError(err).WithField("vehicle_id", vehicle.ID).Error("Failed to store migrated plate")
			continue
		}
		if ok {
			migrated++
		}
	}

	if migrated > 0 {
		s.logger.WithField("migrated", migrated).Info("Legacy plates encrypted")
	}
	return migrated, nil
}
