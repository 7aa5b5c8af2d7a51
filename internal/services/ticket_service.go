package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/smarttransit/rideshare-core/internal/utils"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
	"github.com/yeqown/go-qrcode"
)

// TicketService verifies, renders and scans signed tickets
type TicketService struct {
	signer    TicketSigner
	bookings  BookingStore
	inventory *TripInventoryService
	scans     ScanRegistry
	logger    *logrus.Logger
}

// NewTicketService creates a new ticket service
func NewTicketService(signer TicketSigner, bookings BookingStore, inventory *TripInventoryService, scans ScanRegistry, logger *logrus.Logger) *TicketService {
	return &TicketService{
		signer:    signer,
		bookings:  bookings,
		inventory: inventory,
		scans:     scans,
		logger:    logger,
	}
}

// Verify checks the token signature only. A nil result means the token is invalid.
func (s *TicketService) Verify(token string) *encryption.TicketData {
	return s.signer.VerifyTicket(token)
}

// RenderQR encodes the token as a JPEG QR code
func (s *TicketService) RenderQR(token string) ([]byte, error) {
	if s.signer.VerifyTicket(token) == nil {
		return nil, ErrTicketInvalid
	}

	qrc, err := qrcode.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to build QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := qrc.SaveTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return buf.Bytes(), nil
}

// Scan validates a ticket presented at boarding. The first scan of a booking is
// recorded; later scans return ErrTicketAlreadyScanned with the first record.
func (s *TicketService) Scan(ctx context.Context, token string, scannerID uuid.UUID, userAgent, ip string) (*models.ScanTicketResult, error) {
	ticket := s.signer.VerifyTicket(token)
	if ticket == nil {
		return nil, ErrTicketInvalid
	}

	booking, err := s.matchBooking(ctx, ticket, token)
	if err != nil {
		return nil, err
	}

	trip, err := s.inventory.GetTrip(ctx, booking.TripID)
	if err != nil {
		return nil, err
	}
	if !trip.IsOwnedBy(scannerID) {
		return nil, ErrNotTripOwner
	}

	scan := &models.TicketScan{
		BookingID: booking.ID,
		ScannerID: scannerID,
		Device:    utils.ParseUserAgent(userAgent),
		IPAddress: ip,
		ScannedAt: time.Now().UTC(),
	}

	first, recorded, err := s.scans.RecordFirstScan(ctx, scan)
	if err != nil {
		return nil, err
	}

	result := &models.ScanTicketResult{Booking: booking, Scan: recorded, FirstScan: first}
	if !first {
		s.logger.WithFields(logrus.Fields{
			"booking_id":  booking.ID,
			"scanner_id":  scannerID,
			"device_type": scan.Device.DeviceType,
		}).Warn("Ticket presented again after boarding")
		return result, ErrTicketAlreadyScanned
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"trip_id":    booking.TripID,
		"seats":      booking.NumSeats,
	}).Info("Ticket scanned")
	return result, nil
}

// matchBooking loads the booking a ticket names and checks every embedded field.
// Only the token currently stored on the booking is accepted.
func (s *TicketService) matchBooking(ctx context.Context, ticket *encryption.TicketData, token string) (*models.Booking, error) {
	bookingID, err := uuid.Parse(ticket.BookingID)
	if err != nil {
		return nil, ErrTicketInvalid
	}

	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil || !booking.IsActive() || booking.TicketToken == nil {
		return nil, ErrTicketInvalid
	}

	if booking.TripID.String() != ticket.TripID ||
		booking.PassengerID.String() != ticket.PassengerID ||
		booking.NumSeats != ticket.Seats {
		return nil, ErrTicketInvalid
	}
	if subtle.ConstantTimeCompare([]byte(*booking.TicketToken), []byte(token)) != 1 {
		return nil, ErrTicketInvalid
	}

	return booking, nil
}
