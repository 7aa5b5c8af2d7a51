package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/middleware"
	"github.com/smarttransit/rideshare-core/internal/models"
)

// DriverOperations is implemented by services.BookingOrchestratorService
type DriverOperations interface {
	ConfirmCashPayment(ctx context.Context, bookingID, driverID uuid.UUID) (*models.Booking, error)
	StartTrip(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error)
	CompleteTrip(ctx context.Context, tripID, driverID uuid.UUID) (*models.CompleteTripResult, error)
	CancelTrip(ctx context.Context, tripID, driverID uuid.UUID, reason string) (*models.CancelTripResult, error)
}

// VehicleRegistrar is implemented by services.VehicleService
type VehicleRegistrar interface {
	RegisterVehicle(ctx context.Context, req models.RegisterVehicleRequest) (*models.Vehicle, error)
}

// DriverHandler handles driver actions on trips, bookings and vehicles
type DriverHandler struct {
	bookings DriverOperations
	vehicles VehicleRegistrar
	logger   *logrus.Logger
}

// NewDriverHandler creates a new DriverHandler
func NewDriverHandler(bookings DriverOperations, vehicles VehicleRegistrar, logger *logrus.Logger) *DriverHandler {
	return &DriverHandler{
		bookings: bookings,
		vehicles: vehicles,
		logger:   logger,
	}
}

type cancelTripRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type registerVehicleRequest struct {
	Make         string `json:"make" binding:"required"`
	Model        string `json:"model" binding:"required"`
	Color        string `json:"color"`
	Seats        int    `json:"seats" binding:"required"`
	LicensePlate string `json:"license_plate" binding:"required"`
}

// ============================================================================
// CONFIRM CASH - POST /api/v1/driver/bookings/:id/confirm-cash
// ============================================================================

// ConfirmCash records that the driver collected a cash payment
func (h *DriverHandler) ConfirmCash(c *gin.Context) {
	driverID, bookingID, ok := h.driverAndPathID(c)
	if !ok {
		return
	}

	booking, err := h.bookings.ConfirmCashPayment(c.Request.Context(), bookingID, driverID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ============================================================================
// TRIP LIFECYCLE - POST /api/v1/driver/trips/:id/{start,complete,cancel}
// ============================================================================

// StartTrip moves the trip to in_progress
func (h *DriverHandler) StartTrip(c *gin.Context) {
	driverID, tripID, ok := h.driverAndPathID(c)
	if !ok {
		return
	}

	trip, err := h.bookings.StartTrip(c.Request.Context(), tripID, driverID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, trip)
}

// CompleteTrip completes the trip and its confirmed bookings
func (h *DriverHandler) CompleteTrip(c *gin.Context) {
	driverID, tripID, ok := h.driverAndPathID(c)
	if !ok {
		return
	}

	result, err := h.bookings.CompleteTrip(c.Request.Context(), tripID, driverID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trip":             result.Trip,
		"completed":        len(result.Completed),
		"outstanding_cash": result.OutstandingCash,
	})
}

// CancelTrip cancels the trip and refunds its paid bookings
func (h *DriverHandler) CancelTrip(c *gin.Context) {
	driverID, tripID, ok := h.driverAndPathID(c)
	if !ok {
		return
	}

	var req cancelTripRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by driver"
	}

	result, err := h.bookings.CancelTrip(c.Request.Context(), tripID, driverID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trip":           result.Trip,
		"cancelled":      len(result.Cancelled),
		"refunds_failed": result.RefundsFailed,
	})
}

// ============================================================================
// VEHICLES - POST /api/v1/driver/vehicles
// ============================================================================

// RegisterVehicle adds a vehicle for the calling driver
func (h *DriverHandler) RegisterVehicle(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req registerVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	vehicle, err := h.vehicles.RegisterVehicle(c.Request.Context(), models.RegisterVehicleRequest{
		DriverID:     userCtx.UserID,
		Make:         req.Make,
		Model:        req.Model,
		Color:        req.Color,
		Seats:        req.Seats,
		LicensePlate: req.LicensePlate,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, vehicle)
}

func (h *DriverHandler) driverAndPathID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return uuid.Nil, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, uuid.Nil, false
	}

	return userCtx.UserID, id, true
}
