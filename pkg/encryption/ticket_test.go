package encryption

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTicket() TicketData {
	return TicketData{
		BookingID:   "7b1e4c52-8d0e-4b8f-a3a7-51f1a0e2d9c1",
		TripID:      "c0a8012e-1111-4d2a-9e4e-0b5c7e3f6a10",
		PassengerID: "5f2d9b8a-2222-4c1e-8f3a-9d7e6c5b4a30",
		Seats:       2,
		IssuedAt:    1760700000000,
	}
}

func TestSignTicket_VerifyRoundTrip(t *testing.T) {
	service := NewService(testMasterSecret)
	ticket := sampleTicket()

	token, err := service.SignTicket(ticket)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	verified := service.VerifyTicket(token)
	require.NotNil(t, verified)
	assert.Equal(t, ticket, *verified)
}

func TestSignTicket_StampsIssuedAt(t *testing.T) {
	service := NewService(testMasterSecret)
	ticket := sampleTicket()
	ticket.IssuedAt = 0

	before := time.Now().UnixMilli()
	token, err := service.SignTicket(ticket)
	require.NoError(t, err)

	verified := service.VerifyTicket(token)
	require.NotNil(t, verified)
	assert.GreaterOrEqual(t, verified.IssuedAt, before)
}

func TestSignTicket_MissingMasterSecret(t *testing.T) {
	_, err := NewService("").SignTicket(sampleTicket())
	var encErr *EncryptionError
	assert.ErrorAs(t, err, &encErr)
}

func TestVerifyTicket_AnyMutatedByteIsRejected(t *testing.T) {
	service := NewService(testMasterSecret)

	token, err := service.SignTicket(sampleTicket())
	require.NoError(t, err)

	alphabet := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	for i := 0; i < len(token); i++ {
		mutated := []byte(token)
		// pick a replacement different from the original character
		for _, c := range []byte(alphabet) {
			if c != token[i] {
				mutated[i] = c
				break
			}
		}
		assert.Nil(t, service.VerifyTicket(string(mutated)), "mutation at %d accepted", i)
	}
}

func TestVerifyTicket_ForgedSignature(t *testing.T) {
	service := NewService(testMasterSecret)

	data, err := json.Marshal(sampleTicket())
	require.NoError(t, err)

	forged, err := json.Marshal(ticketEnvelope{Data: data, Signature: "0123456789abcdef"})
	require.NoError(t, err)

	assert.Nil(t, service.VerifyTicket(base64.RawURLEncoding.EncodeToString(forged)))
}

func TestVerifyTicket_SignedWithAnotherSecret(t *testing.T) {
	token, err := NewService("another-secret").SignTicket(sampleTicket())
	require.NoError(t, err)

	assert.Nil(t, NewService(testMasterSecret).VerifyTicket(token))
}

func TestVerifyTicket_Garbage(t *testing.T) {
	service := NewService(testMasterSecret)

	inputs := []string{
		"",
		"not-a-token",
		"!!!!",
		base64.RawURLEncoding.EncodeToString([]byte("{}")),
		base64.RawURLEncoding.EncodeToString([]byte(`{"data":null,"signature":""}`)),
		base64.RawURLEncoding.EncodeToString([]byte("[1,2,3]")),
		base64.StdEncoding.EncodeToString([]byte(`{"data":{},"signature":"0123456789abcdef"}`)),
	}

	for _, input := range inputs {
		assert.Nil(t, service.VerifyTicket(input), "input %q accepted", input)
	}
}
