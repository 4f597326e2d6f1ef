package app

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/config"
	"github.com/tourlink/booking-backend/internal/database"
	"github.com/tourlink/booking-backend/internal/lock"
	"github.com/tourlink/booking-backend/internal/services"
)

// Components are the wired collaborators shared by the server and the CLIs
type Components struct {
	DB           *database.PostgresDB
	Redis        *redis.Client // nil when REDIS_URL is empty
	Bookings     *database.BookingRepository
	Transactions *database.PaymentTransactionRepository
	Markups      *database.MarkupRepository
	Orchestrator *services.BookingOrchestratorService
}

// NewLogger creates the JSON logger at the configured level
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

// Build connects to Postgres and Redis and wires the booking pipeline
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Components, error) {
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")

	c := &Components{
		DB:           db,
		Bookings:     database.NewBookingRepository(db.DB),
		Transactions: database.NewPaymentTransactionRepository(db.DB, logger),
		Markups:      database.NewMarkupRepository(db.DB),
	}

	// Booking lock: Redis when configured, otherwise only the guarded updates apply
	var locker lock.Locker = lock.NoopLocker{}
	if cfg.Redis.URL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.Redis = client
		locker = lock.NewRedisLocker(client, cfg.Redis.LockTTL, cfg.Redis.LockWait, logger)
		logger.Info("Redis booking lock enabled")
	} else {
		logger.Warn("REDIS_URL not set, booking lock disabled")
	}

	archive, err := services.NewDocumentArchive(cfg.Storage, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialise document archive: %w", err)
	}

	gateway := services.NewPaymentGatewayService(&cfg.Gateway, cfg.Booking.FrontendURL, logger)
	supplier := services.NewSupplierService(&cfg.Supplier, logger)
	pricing := services.NewPricingService(c.Markups)

	orchestratorCfg := services.DefaultOrchestratorConfig()
	if cfg.Booking.DefaultCurrency != "" {
		orchestratorCfg.DefaultCurrency = cfg.Booking.DefaultCurrency
	}
	orchestratorCfg.EnforceTotal = cfg.Booking.EnforceTotal
	if cfg.Supplier.MaxAttempts > 0 {
		orchestratorCfg.SupplierMaxAttempts = cfg.Supplier.MaxAttempts
	}
	if cfg.Cron.PaymentPollAfter > 0 {
		orchestratorCfg.PaymentPollAfter = cfg.Cron.PaymentPollAfter
	}
	if cfg.Cron.BatchSize > 0 {
		orchestratorCfg.BatchSize = cfg.Cron.BatchSize
	}

	c.Orchestrator = services.NewBookingOrchestratorService(
		c.Bookings,
		c.Transactions,
		pricing,
		gateway,
		supplier,
		locker,
		archive,
		orchestratorCfg,
		logger,
	)
	return c, nil
}

// Close releases the database pool and the Redis client
func (c *Components) Close() {
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

// Health pings every backing store
func (c *Components) Health(ctx context.Context) map[string]error {
	status := map[string]error{"database": c.DB.Health(ctx)}
	if c.Redis != nil {
		status["redis"] = c.Redis.Ping(ctx).Err()
	}
	return status
}
