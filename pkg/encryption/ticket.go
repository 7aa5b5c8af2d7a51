package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TicketSignatureLength is the number of hex characters kept from the HMAC
const TicketSignatureLength = 16

var ticketEncoding = base64.RawURLEncoding.Strict()

// TicketData is the minimal record embedded in a ticket QR payload
type TicketData struct {
	BookingID   string `json:"bookingId"`
	TripID      string `json:"tripId"`
	PassengerID string `json:"passengerId"`
	Seats       int    `json:"seats"`
	IssuedAt    int64  `json:"issuedAt"` // epoch millis
}

type ticketEnvelope struct {
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// SignTicket serialises the ticket, signs it with the master secret and returns an
// opaque token suitable for a QR code. IssuedAt is stamped when zero.
func (s *Service) SignTicket(ticket TicketData) (string, error) {
	if len(s.masterSecret) == 0 {
		return "", &EncryptionError{Reason: "master secret is not configured"}
	}
	if ticket.IssuedAt == 0 {
		ticket.IssuedAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(ticket)
	if err != nil {
		return "", &EncryptionError{Reason: "failed to serialise ticket", Err: err}
	}

	envelope, err := json.Marshal(ticketEnvelope{
		Data:      data,
		Signature: s.ticketSignature(data),
	})
	if err != nil {
		return "", &EncryptionError{Reason: "failed to serialise ticket envelope", Err: err}
	}

	return ticketEncoding.EncodeToString(envelope), nil
}

// VerifyTicket returns the embedded ticket only if the token is well formed, canonical
// and carries a matching signature. Any other input yields nil.
func (s *Service) VerifyTicket(token string) *TicketData {
	if token == "" || len(s.masterSecret) == 0 {
		return nil
	}

	raw, err := ticketEncoding.DecodeString(token)
	if err != nil {
		return nil
	}

	var envelope ticketEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	if len(envelope.Data) == 0 || len(envelope.Signature) != TicketSignatureLength {
		return nil
	}

	// Reject anything that does not re-encode to the exact same token
	canonical, err := json.Marshal(ticketEnvelope{Data: envelope.Data, Signature: envelope.Signature})
	if err != nil || ticketEncoding.EncodeToString(canonical) != token {
		return nil
	}

	expected := s.ticketSignature(envelope.Data)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(envelope.Signature)) != 1 {
		return nil
	}

	var ticket TicketData
	if err := json.Unmarshal(envelope.Data, &ticket); err != nil {
		return nil
	}
	if ticket.BookingID == "" || ticket.TripID == "" || ticket.Seats < 1 {
		return nil
	}
	return &ticket
}

func (s *Service) ticketSignature(data []byte) string {
	mac := hmac.New(sha256.New, s.masterSecret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))[:TicketSignatureLength]
}
