package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/smarttransit/rideshare-core/internal/services"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
	"github.com/stretchr/testify/assert"
)

type stubTickets struct {
	valid       map[string]*encryption.TicketData
	scanErr     error
	scanResult  *models.ScanTicketResult
	lastScanner uuid.UUID
	lastAgent   string
}

func (s *stubTickets) Verify(token string) *encryption.TicketData {
	return s.valid[token]
}

func (s *stubTickets) RenderQR(token string) ([]byte, error) {
	if s.valid[token] == nil {
		return nil, services.ErrTicketInvalid
	}
	return []byte{0xFF, 0xD8, 0xFF}, nil
}

func (s *stubTickets) Scan(ctx context.Context, token string, scannerID uuid.UUID, userAgent, ip string) (*models.ScanTicketResult, error) {
	s.lastScanner, s.lastAgent = scannerID, userAgent
	return s.scanResult, s.scanErr
}

func setupTicketRouter(scannerID uuid.UUID, tickets *stubTickets) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewTicketHandler(tickets, testLogger())

	router.POST("/tickets/verify", h.Verify)
	router.GET("/tickets/qr", h.QR)
	router.POST("/tickets/scan", asUser(scannerID, "scanner"), h.Scan)
	return router
}

func TestTicketHandler_Verify(t *testing.T) {
	tickets := &stubTickets{valid: map[string]*encryption.TicketData{
		"good": {BookingID: "b-1", TripID: "t-1", PassengerID: "p-1", Seats: 2, IssuedAt: 1700000000000},
	}}
	router := setupTicketRouter(uuid.New(), tickets)

	tests := []struct {
		name     string
		body     string
		code     int
		contains string
	}{
		{"valid", `{"token":"good"}`, http.StatusOK, `"valid":true`},
		{"invalid", `{"token":"forged"}`, http.StatusOK, `"valid":false`},
		{"missing token", `{}`, http.StatusBadRequest, "invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/tickets/verify", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}
}

func TestTicketHandler_QR(t *testing.T) {
	tickets := &stubTickets{valid: map[string]*encryption.TicketData{"good": {BookingID: "b-1"}}}
	router := setupTicketRouter(uuid.New(), tickets)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tickets/qr?token=good", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tickets/qr?token=forged", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tickets/qr", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTicketHandler_Scan(t *testing.T) {
	scannerID := uuid.New()
	booking := &models.Booking{ID: uuid.New(), NumSeats: 2, Status: models.BookingStatusConfirmed}
	tickets := &stubTickets{scanResult: &models.ScanTicketResult{
		Booking:   booking,
		Scan:      &models.TicketScan{BookingID: booking.ID, ScannerID: scannerID, ScannedAt: time.Now()},
		FirstScan: true,
	}}
	router := setupTicketRouter(scannerID, tickets)

	req := httptest.NewRequest(http.MethodPost, "/tickets/scan", bytes.NewBufferString(`{"token":"good"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ScannerApp/2.1 (Linux; Android 12)")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"first_scan":true`)
	assert.Equal(t, scannerID, tickets.lastScanner)
	assert.Equal(t, "ScannerApp/2.1 (Linux; Android 12)", tickets.lastAgent)
}

func TestTicketHandler_ScanReplay(t *testing.T) {
	first := &models.TicketScan{BookingID: uuid.New(), ScannedAt: time.Now().Add(-time.Hour)}
	tickets := &stubTickets{
		scanResult: &models.ScanTicketResult{Scan: first, FirstScan: false},
		scanErr:    services.ErrTicketAlreadyScanned,
	}
	router := setupTicketRouter(uuid.New(), tickets)

	req := httptest.NewRequest(http.MethodPost, "/tickets/scan", bytes.NewBufferString(`{"token":"good"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "TICKET_ALREADY_SCANNED")
	assert.Contains(t, w.Body.String(), first.BookingID.String())
}

func TestTicketHandler_ScanInvalid(t *testing.T) {
	router := setupTicketRouter(uuid.New(), &stubTickets{scanErr: services.ErrTicketInvalid})

	req := httptest.NewRequest(http.MethodPost, "/tickets/scan", bytes.NewBufferString(`{"token":"forged"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
