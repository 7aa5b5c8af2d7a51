package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/rideshare-core/internal/utils"
)

// TicketScan is the record kept for the first accepted scan of a ticket
type TicketScan struct {
	BookingID uuid.UUID        `json:"booking_id"`
	ScannerID uuid.UUID        `json:"scanner_id"`
	Device    utils.DeviceInfo `json:"device"`
	IPAddress string           `json:"ip_address,omitempty"`
	ScannedAt time.Time        `json:"scanned_at"`
}

// ScanTicketRequest is sent by a driver's scanner app
type ScanTicketRequest struct {
	Token string `json:"token" binding:"required"`
}

// ScanTicketResult tells the scanner whether to board the passenger
type ScanTicketResult struct {
	Booking   *Booking    `json:"booking"`
	Scan      *TicketScan `json:"scan"`
	FirstScan bool        `json:"first_scan"`
}
