package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tourlink/booking-backend/internal/models"
)

const transactionColumns = `
	id, booking_id, payment_intent_id, gateway, payment_method,
	amount, currency, status, source,
	raw_response, metadata, error_message,
	completed_at, created_at, updated_at`

// PaymentTransactionRepository keeps one row per payment attempt
type PaymentTransactionRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentTransactionRepository creates a new payment transaction repository
func NewPaymentTransactionRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentTransactionRepository {
	return &PaymentTransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new payment attempt
func (r *PaymentTransactionRepository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn == nil {
		return fmt.Errorf("payment transaction cannot be nil")
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	now := time.Now()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	query := `
		INSERT INTO payment_transactions (
			id, booking_id, payment_intent_id, gateway, payment_method,
			amount, currency, status, source,
			raw_response, metadata, error_message,
			completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $14
		)`

	_, err := r.db.ExecContext(ctx, query,
		txn.ID, txn.BookingID, txn.PaymentIntentID, txn.Gateway, txn.Method,
		txn.Amount, txn.Currency, txn.Status, txn.Source,
		txn.RawResponse, txn.Metadata, txn.ErrorMessage,
		txn.CompletedAt, now,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":        txn.BookingID,
			"payment_intent_id": txn.PaymentIntentID,
		}).Error("Failed to record payment transaction")
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"transaction_id":    txn.ID,
		"payment_intent_id": txn.PaymentIntentID,
		"status":            txn.Status,
	}).Debug("Payment transaction recorded")

	return nil
}

// Complete moves a PENDING attempt to a final status.
// Returns false when the attempt was already final, so at most one
// attempt per intent ever reaches PAID.
func (r *PaymentTransactionRepository) Complete(ctx context.Context, intentID string, status models.PaymentStatus, source models.TransactionSource, payload *models.GatewayPayload) (bool, error) {
	query := `
		UPDATE payment_transactions SET
			status = $2,
			source = $3,
			raw_response = COALESCE($4, raw_response),
			completed_at = NOW(),
			updated_at = NOW()
		WHERE payment_intent_id = $1
			AND status = $5`

	result, err := r.db.ExecContext(ctx, query, intentID, status, source, payload, models.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkRefunded moves the PAID attempt of a booking to REFUNDED
func (r *PaymentTransactionRepository) MarkRefunded(ctx context.Context, bookingID uuid.UUID, payload *models.GatewayPayload) error {
	query := `
		UPDATE payment_transactions SET
			status = $2,
			source = $3,
			raw_response = COALESCE($4, raw_response),
			updated_at = NOW()
		WHERE booking_id = $1
			AND status = $5`

	_, err := r.db.ExecContext(ctx, query,
		bookingID, models.PaymentStatusRefunded, models.TransactionSourceOperator, payload, models.PaymentStatusPaid,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payment transaction refunded: %w", err)
	}
	return nil
}

// GetByIntentID retrieves the attempt for a gateway session
func (r *PaymentTransactionRepository) GetByIntentID(ctx context.Context, intentID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.GetContext(ctx, &txn,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE payment_intent_id = $1`, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment transaction: %w", err)
	}
	return &txn, nil
}

// GetLatestByBookingID returns the most recent attempt for a booking
func (r *PaymentTransactionRepository) GetLatestByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.PaymentTransaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE booking_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var txn models.PaymentTransaction
	err := r.db.GetContext(ctx, &txn, query, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest payment transaction: %w", err)
	}
	return &txn, nil
}

// ListByBookingID returns every attempt for a booking, oldest first
func (r *PaymentTransactionRepository) ListByBookingID(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentTransaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	txns := []models.PaymentTransaction{}
	if err := r.db.SelectContext(ctx, &txns, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list payment transactions: %w", err)
	}
	return txns, nil
}
