package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/rideshare-core/internal/config"
	"github.com/smarttransit/rideshare-core/internal/database"
	"github.com/smarttransit/rideshare-core/internal/handlers"
	"github.com/smarttransit/rideshare-core/internal/messaging"
	"github.com/smarttransit/rideshare-core/internal/middleware"
	"github.com/smarttransit/rideshare-core/internal/services"
	"github.com/smarttransit/rideshare-core/pkg/encryption"
	"github.com/smarttransit/rideshare-core/pkg/jwt"
	"github.com/smarttransit/rideshare-core/pkg/payment"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit Rideshare Booking Core")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	logger.WithFields(cfg.Redacted()).Info("Configuration loaded")

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.WithField("driver", cfg.Database.Driver).Info("Database connection established")

	// Repositories
	tripRepository := database.NewTripRepository(db)
	bookingRepository := database.NewBookingRepository(db)
	vehicleRepository := database.NewVehicleRepository(db)
	auditRepository := database.NewPaymentAuditRepository(db, logger)

	// Ticket scan registry
	logger.Info("Connecting to Redis...")
	redisClient, err := database.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	scanRepository := database.NewTicketScanRepository(redisClient, cfg.Redis.ScanRecordTTL)

	// Booking events
	var publisher services.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rabbit.Close()
		publisher = rabbit
		logger.WithField("exchange", cfg.RabbitMQ.Exchange).Info("Publishing booking events to RabbitMQ")
	} else {
		publisher = messaging.NewLogPublisher(logger)
		logger.Warn("RABBITMQ_URL not set, booking events are only logged")
	}

	// Payment strategies
	encryptionService := encryption.NewService(cfg.Encryption.MasterSecret)
	strategies, stripeStrategy := buildStrategies(cfg)
	router, err := payment.NewRouter(cfg.Payment.Timeout, logger, strategies...)
	if err != nil {
		logger.Fatalf("Failed to build payment router: %v", err)
	}
	for _, method := range router.AvailableMethods() {
		logger.WithFields(logrus.Fields{
			"method":          method.Method,
			"requires_online": method.RequiresOnline,
		}).Info("Payment method registered")
	}

	// Services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.TokenExpiry, cfg.JWT.Issuer)
	inventoryService := services.NewTripInventoryService(tripRepository, logger)
	auditService := services.NewAuditService(auditRepository, logger)
	orchestrator := services.NewBookingOrchestratorService(
		inventoryService,
		bookingRepository,
		router,
		encryptionService,
		auditService,
		publisher,
		services.BookingOrchestratorConfig{StaleAfter: cfg.Payment.StaleAfter},
		logger,
	)
	ticketService := services.NewTicketService(encryptionService, bookingRepository, inventoryService, scanRepository, logger)
	vehicleService := services.NewVehicleService(vehicleRepository, encryptionService, logger)

	// Background sweeps
	cronService := services.NewCronService(orchestrator, vehicleService, services.CronSchedules{
		TicketRetry:  cfg.Cron.TicketRetrySchedule,
		Reconcile:    cfg.Cron.ReconcileSchedule,
		PlateMigrate: cfg.Cron.PlateMigrateSchedule,
		BatchSize:    cfg.Cron.BatchSize,
	}, logger)
	if cfg.Cron.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	} else {
		logger.Warn("Cron disabled; stale payments are only reconciled on read")
	}

	// Handlers
	ticketHandler := handlers.NewTicketHandler(ticketService, logger)
	driverHandler := handlers.NewDriverHandler(orchestrator, vehicleService, logger)

	// Initialize Gin router
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/health", handlers.HealthCheck(db))

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/payment-methods", handlers.PaymentMethods(router))

		// Gateway callbacks authenticate by signature, not JWT
		if stripeStrategy != nil {
			webhookHandler := handlers.NewWebhookHandler(stripeStrategy, orchestrator, logger)
			v1.POST("/webhooks/stripe", webhookHandler.Stripe)
		}

		tickets := v1.Group("/tickets")
		tickets.Use(middleware.AuthMiddleware(jwtService))
		{
			tickets.POST("/verify", ticketHandler.Verify)
			tickets.GET("/qr", ticketHandler.QR)
			tickets.POST("/scan", middleware.RequireRole(jwt.RoleDriver, jwt.RoleScanner), ticketHandler.Scan)
		}

		driver := v1.Group("/driver")
		driver.Use(middleware.AuthMiddleware(jwtService), middleware.RequireRole(jwt.RoleDriver))
		{
			driver.POST("/vehicles", driverHandler.RegisterVehicle)
			driver.POST("/bookings/:id/confirm-cash", driverHandler.ConfirmCash)
			driver.POST("/trips/:id/start", driverHandler.StartTrip)
			driver.POST("/trips/:id/complete", driverHandler.CompleteTrip)
			driver.POST("/trips/:id/cancel", driverHandler.CancelTrip)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Payment.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if cfg.Cron.Enabled {
		logger.Info("Stopping cron service...")
		cronService.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// buildStrategies returns the enabled payment strategies. The Stripe strategy is
// also returned on its own because it verifies webhooks.
func buildStrategies(cfg *config.Config) ([]payment.Strategy, *payment.StripeStrategy) {
	currency := []string{cfg.Payment.DefaultCurrency}
	var strategies []payment.Strategy

	if cfg.Payment.Cash.Enabled {
		strategies = append(strategies, payment.NewCashStrategy(currency))
	}

	domestic := []struct {
		network string
		display string
		card    config.DomesticCardConfig
	}{
		{payment.MethodCIB, "CIB", cfg.Payment.CIB},
		{payment.MethodEdahabia, "Edahabia", cfg.Payment.Edahabia},
	}
	for _, d := range domestic {
		if !d.card.Enabled {
			continue
		}
		var gateway payment.InterbankClient
		if !d.card.Offline {
			gateway = payment.NewInterbankGateway(payment.InterbankGatewayConfig{
				BaseURL:        d.card.GatewayURL,
				TerminalID:     d.card.TerminalID,
				TerminalSecret: d.card.TerminalSecret,
				Timeout:        cfg.Payment.Timeout,
			})
		}
		strategies = append(strategies, payment.NewDomesticCardStrategy(payment.DomesticCardConfig{
			Network:         d.network,
			DisplayName:     d.display,
			Offline:         d.card.Offline,
			IssuerPrefixes:  d.card.IssuerPrefixes,
			DeclinePrefixes: d.card.DeclinePrefixes,
			Currencies:      currency,
		}, gateway))
	}

	var stripeStrategy *payment.StripeStrategy
	if cfg.Payment.Stripe.Enabled {
		stripeStrategy = payment.NewStripeStrategy(payment.StripeConfig{
			SecretKey:     cfg.Payment.Stripe.SecretKey,
			WebhookSecret: cfg.Payment.Stripe.WebhookSecret,
			Currencies:    cfg.Payment.Stripe.Currencies,
		})
		strategies = append(strategies, stripeStrategy)
	}

	if cfg.Payment.PayPal.Enabled {
		strategies = append(strategies, payment.NewPayPalStrategy(payment.PayPalConfig{
			Environment:  cfg.Payment.PayPal.Environment,
			ClientID:     cfg.Payment.PayPal.ClientID,
			ClientSecret: cfg.Payment.PayPal.ClientSecret,
			ReturnURL:    cfg.Payment.PayPal.ReturnURL,
			CancelURL:    cfg.Payment.PayPal.CancelURL,
			Currencies:   cfg.Payment.PayPal.Currencies,
			Timeout:      cfg.Payment.Timeout,
		}))
	}

	return strategies, stripeStrategy
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// The query string is left out: ticket tokens travel in it
		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if userCtx, ok := middleware.GetUserContext(c); ok {
			fields["user_id"] = userCtx.UserID
			fields["roles"] = userCtx.Roles
		}

		entry := logger.WithFields(fields)
		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}
