package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smarttransit/rideshare-core/pkg/payment"
)

// Pinger is satisfied by *sqlx.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// MethodLister is implemented by payment.Router
type MethodLister interface {
	AvailableMethods() []payment.MethodInfo
}

// HealthCheck reports database reachability
func HealthCheck(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"timestamp": time.Now().UTC(),
		})
	}
}

// PaymentMethods lists the registered payment methods
func PaymentMethods(methods MethodLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"methods": methods.AvailableMethods()})
	}
}
