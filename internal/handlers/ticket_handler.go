package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/middleware"
	"github.com/smarttransit/rideshare-core/internal/models"
	"github.com/smarttransit/rideshare-core/internal/services"
	"github.com/smarttransit/rideshare-core/internal/utils"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
)

// TicketOperations is implemented by services.TicketService
type TicketOperations interface {
	Verify(token string) *encryption.TicketData
	RenderQR(token string) ([]byte, error)
	Scan(ctx context.Context, token string, scannerID uuid.UUID, userAgent, ip string) (*models.ScanTicketResult, error)
}

// TicketHandler serves ticket verification, QR rendering and boarding scans
type TicketHandler struct {
	tickets TicketOperations
	logger  *logrus.Logger
}

// NewTicketHandler creates a new TicketHandler
func NewTicketHandler(tickets TicketOperations, logger *logrus.Logger) *TicketHandler {
	return &TicketHandler{
		tickets: tickets,
		logger:  logger,
	}
}

// ============================================================================
// VERIFY - POST /api/v1/tickets/verify
// ============================================================================

// Verify checks a ticket signature and returns the embedded data
func (h *TicketHandler) Verify(c *gin.Context) {
	var req models.ScanTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	ticket := h.tickets.Verify(req.Token)
	if ticket == nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "ticket": ticket})
}

// ============================================================================
// QR - GET /api/v1/tickets/qr?token=
// ============================================================================

// QR renders a ticket token as a JPEG QR code
func (h *TicketHandler) QR(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	image, err := h.tickets.RenderQR(token)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", image)
}

// ============================================================================
// SCAN - POST /api/v1/tickets/scan (scanner role)
// ============================================================================

// Scan validates a ticket at boarding. A repeated scan answers 409 with the first scan.
func (h *TicketHandler) Scan(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req models.ScanTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := h.tickets.Scan(c.Request.Context(), req.Token, userCtx.UserID, utils.GetUserAgent(c), utils.GetRealIP(c))
	if errors.Is(err, services.ErrTicketAlreadyScanned) && result != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":      "already_scanned",
			"code":       "TICKET_ALREADY_SCANNED",
			"first_scan": result.Scan,
		})
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
