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

	"github.com/tourlink/booking-backend/internal/app"
	"github.com/tourlink/booking-backend/internal/config"
	"github.com/tourlink/booking-backend/internal/handlers"
	"github.com/tourlink/booking-backend/internal/middleware"
	"github.com/tourlink/booking-backend/internal/services"
	"github.com/tourlink/booking-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.NewLogger(cfg.Server.LogLevel)
	logger.Info("Starting TourLink Booking Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	components, err := app.Build(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		logger.Fatalf("Failed to initialise services: %v", err)
	}
	defer components.Close()

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// Background reconciliation
	var cronService *services.CronService
	var jobs handlers.JobRunner
	if cfg.Cron.Enabled {
		cronService = services.NewCronService(components.Orchestrator, cfg.Cron, logger)
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
		jobs = cronService
		logger.Info("✓ Cron service started - payment polling and supplier retry enabled")
	} else {
		logger.Info("Cron service disabled (CRON_ENABLED=false)")
	}

	bookingHandler := handlers.NewBookingOrchestratorHandler(components.Orchestrator, logger)
	adminHandler := handlers.NewAdminHandler(components.Orchestrator, components.Markups, jobs, logger)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(requestLogger(logger))

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthCheckHandler(components))

	v1 := router.Group("/api/v1")
	{
		bookings := v1.Group("/bookings")
		{
			// Gateway callback, authenticated by the event lookup not a token
			bookings.POST("/payment-webhook", bookingHandler.PaymentWebhook)

			authed := bookings.Group("")
			authed.Use(middleware.AuthMiddleware(jwtService))
			{
				authed.POST("/create-with-payment", bookingHandler.CreateWithPayment)
				authed.GET("/verify-payment/:bookingId", bookingHandler.VerifyPayment)
				authed.POST("/confirm-payment", bookingHandler.ConfirmPayment)
				authed.POST("/cancel/:bookingId", bookingHandler.CancelBooking)
				authed.GET("/tickets/:bookingId", bookingHandler.GetTickets)
				authed.GET("", bookingHandler.ListBookings)
				authed.GET("/:bookingId", bookingHandler.GetBooking)
			}
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService), middleware.RequireAdmin())
		{
			admin.POST("/bookings/:bookingId/retry-supplier", adminHandler.RetrySupplier)
			admin.POST("/bookings/:bookingId/refund", adminHandler.RefundBooking)
			admin.POST("/markup-rules", adminHandler.CreateMarkupRule)
			admin.PUT("/users/:userId/markup", adminHandler.SetUserMarkup)
			admin.GET("/jobs", adminHandler.GetJobStatus)
			admin.POST("/jobs/:job/run", adminHandler.RunJob)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout(),
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

	if cronService != nil {
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

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      c.Request.URL.RawQuery,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": middleware.GetRequestID(c),
			"has_auth":   c.GetHeader("Authorization") != "",
		}

		// Add user context if available
		if userID, exists := c.Get("user_id"); exists {
			fields["user_id"] = userID
		}
		if role, exists := c.Get("role"); exists {
			fields["role"] = role
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

// healthCheckHandler reports database and Redis reachability
func healthCheckHandler(components *app.Components) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		checks := gin.H{}
		healthy := true
		for name, err := range components.Health(ctx) {
			if err != nil {
				healthy = false
				checks[name] = "unhealthy: " + err.Error()
				continue
			}
			checks[name] = "healthy"
		}

		status := http.StatusOK
		overall := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":    overall,
			"checks":    checks,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
