package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventProcessed             PaymentEventType = "payment_processed"
	PaymentEventFailed                PaymentEventType = "payment_failed"
	PaymentEventRefundProcessed       PaymentEventType = "refund_processed"
	PaymentEventRefundFailed          PaymentEventType = "refund_failed"
	PaymentEventWebhookReceived       PaymentEventType = "webhook_received"
	PaymentEventCashConfirmed         PaymentEventType = "cash_confirmed"
	PaymentEventReconciliationUnknown PaymentEventType = "reconciliation_unknown"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend       PaymentEventSource = "backend"
	PaymentSourceStripeWebhook PaymentEventSource = "stripe_webhook"
	PaymentSourceDriver        PaymentEventSource = "driver"
	PaymentSourceSystem        PaymentEventSource = "system"
)

// JSONB is a custom type for handling JSONB columns
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
// Returns JSON as string for compatibility with simple protocol mode.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return nil
}

// PaymentAudit represents an immutable audit log entry for payment events.
// Card data and credentials are never recorded.
type PaymentAudit struct {
	ID            uuid.UUID          `json:"id" db:"id"`
	BookingID     *uuid.UUID         `json:"booking_id,omitempty" db:"booking_id"`
	PaymentMethod string             `json:"payment_method" db:"payment_method"`
	EventType     PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource   PaymentEventSource `json:"event_source" db:"event_source"`

	TransactionID *string  `json:"transaction_id,omitempty" db:"transaction_id"`
	Amount        *float64 `json:"amount,omitempty" db:"amount"`
	Currency      *string  `json:"currency,omitempty" db:"currency"`
	Success       bool     `json:"success" db:"success"`
	Status        *string  `json:"status,omitempty" db:"status"`

	// Error tracking
	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	Metadata         JSONB `json:"metadata,omitempty" db:"metadata"`
	ProcessingTimeMs *int  `json:"processing_time_ms,omitempty" db:"processing_time_ms"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking sets the booking the event belongs to
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID, method string) *PaymentAudit {
	pa.BookingID = &bookingID
	pa.PaymentMethod = method
	return pa
}

// SetAmount sets the amount and currency involved
func (pa *PaymentAudit) SetAmount(amount float64, currency string) *PaymentAudit {
	pa.Amount = &amount
	if currency != "" {
		pa.Currency = &currency
	}
	return pa
}

// SetOutcome records the normalized gateway outcome
func (pa *PaymentAudit) SetOutcome(success bool, status, transactionID string) *PaymentAudit {
	pa.Success = success
	if status != "" {
		pa.Status = &status
	}
	if transactionID != "" {
		pa.TransactionID = &transactionID
	}
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(code, message string) *PaymentAudit {
	if code != "" {
		pa.ErrorCode = &code
	}
	if message != "" {
		pa.ErrorMessage = &message
	}
	return pa
}

// SetMetadata attaches extra, non-sensitive context
func (pa *PaymentAudit) SetMetadata(metadata map[string]interface{}) *PaymentAudit {
	pa.Metadata = JSONB(metadata)
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}
