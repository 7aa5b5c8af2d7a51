package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/smarttransit/rideshare-core/internal/models"
)

const ticketScanKeyPrefix = "ticket:scan:"

// TicketScanRepository remembers which tickets were already scanned
type TicketScanRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTicketScanRepository creates a scan registry. Records expire after ttl.
func NewTicketScanRepository(rdb *redis.Client, ttl time.Duration) *TicketScanRepository {
	return &TicketScanRepository{rdb: rdb, ttl: ttl}
}

func ticketScanKey(bookingID uuid.UUID) string {
	return ticketScanKeyPrefix + bookingID.String()
}

// RecordFirstScan stores scan unless the booking was already scanned. It returns
// true for the first scan; otherwise the earlier record is returned.
func (r *TicketScanRepository) RecordFirstScan(ctx context.Context, scan *models.TicketScan) (bool, *models.TicketScan, error) {
	payload, err := json.Marshal(scan)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal ticket scan: %w", err)
	}

	key := ticketScanKey(scan.BookingID)
	stored, err := r.rdb.SetNX(ctx, key, string(payload), r.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("failed to record ticket scan: %w", err)
	}
	if stored {
		return true, scan, nil
	}

	previous, err := r.GetScan(ctx, scan.BookingID)
	if err != nil {
		return false, nil, err
	}
	return false, previous, nil
}

// GetScan returns the recorded scan for a booking, or nil if none exists
func (r *TicketScanRepository) GetScan(ctx context.Context, bookingID uuid.UUID) (*models.TicketScan, error) {
	raw, err := r.rdb.Get(ctx, ticketScanKey(bookingID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket scan: %w", err)
	}

	var scan models.TicketScan
	if err := json.Unmarshal([]byte(raw), &scan); err != nil {
		return nil, fmt.Errorf("failed to decode ticket scan: %w", err)
	}
	return &scan, nil
}
