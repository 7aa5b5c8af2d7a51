package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
)

// TripStore is implemented by database.TripRepository
type TripStore interface {
	Create(ctx context.Context, trip *models.Trip) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error)
	ReserveSeats(ctx context.Context, id uuid.UUID, n int) (bool, error)
	ReleaseSeats(ctx context.Context, id uuid.UUID, n int) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.TripStatus) (bool, error)
}

// BookingStore is implemented by database.BookingRepository
type BookingStore interface {
	CreateHold(ctx context.Context, booking *models.Booking) error
	DeleteHoldAndReleaseSeats(ctx context.Context, booking *models.Booking) (bool, error)
	MarkSettled(ctx context.Context, id uuid.UUID, status models.BookingStatus, paymentStatus models.PaymentStatus, transactionID, state string) (bool, error)
	MarkCashPaid(ctx context.Context, id uuid.UUID, transactionID, state string) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, state string) (bool, error)
	CancelAndReleaseSeats(ctx context.Context, booking *models.Booking, reason string) (cancelled bool, released bool, err error)
	Complete(ctx context.Context, id uuid.UUID) (bool, error)
	SetTicket(ctx context.Context, id uuid.UUID, token string, issuedAt time.Time) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	ListByTrip(ctx context.Context, tripID uuid.UUID, statuses ...models.BookingStatus) ([]*models.Booking, error)
	ListStaleInFlight(ctx context.Context, cutoff time.Time, limit int) ([]*models.Booking, error)
	ListMissingTickets(ctx context.Context, limit int) ([]*models.Booking, error)
}

// VehicleStore is implemented by database.VehicleRepository
type VehicleStore interface {
	Create(ctx context.Context, v *models.Vehicle) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	ExistsByPlateHash(ctx context.Context, hash string) (bool, error)
	ListLegacyPlates(ctx context.Context, limit int) ([]*models.Vehicle, error)
	ReplaceLegacyPlate(ctx context.Context, v *models.Vehicle) (bool, error)
}

// PaymentAuditStore is implemented by database.PaymentAuditRepository
type PaymentAuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	HasWebhookEvent(ctx context.Context, eventID string) (bool, error)
}

// EventPublisher is implemented by messaging.RabbitMQPublisher
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// TicketSigner signs and verifies ticket tokens; *encryption.Service satisfies it
type TicketSigner interface {
	SignTicket(ticket encryption.TicketData) (string, error)
	VerifyTicket(token string) *encryption.TicketData
}

// Booking event routing keys
const (
	EventBookingCreated         = "booking.created"
	EventBookingConfirmed       = "booking.confirmed"
	EventBookingCancelled       = "booking.cancelled"
	EventBookingCompleted       = "booking.completed"
	EventBookingRefundFailed    = "booking.refund_failed"
	EventBookingCashOutstanding = "booking.cash_outstanding"
)

// ScanRegistry is implemented by database.TicketScanRepository
type ScanRegistry interface {
	RecordFirstScan(ctx context.Context, scan *models.TicketScan) (bool, *models.TicketScan, error)
}

// FieldEncryptor protects sensitive columns; *encryption.Service satisfies it
type FieldEncryptor interface {
	Encrypt(plaintext string) (*encryption.EncryptedField, error)
	Decrypt(field *encryption.EncryptedField) (string, error)
	Hash(data string) string
}
