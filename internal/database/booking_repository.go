package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tourlink/booking-backend/internal/models"
)

const bookingColumns = `
	id, reference, client_reference_no, user_id, b2b_account_id,
	total_net, total_markup, total_gross, currency,
	state, status,
	payment_method, payment_intent_id, payment_gateway, payment_status, paid_at,
	supplier_booking_id, supplier_status, supplier_response, supplier_failure_kind,
	supplier_attempts, synced_at,
	passengers, tour_items,
	cancellation_reason, cancelled_at,
	created_at, updated_at`

// BookingRepository owns every write to the bookings table.
// Each state change is a single conditional UPDATE so concurrent webhook,
// polling and client confirmations cannot overwrite each other.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ============================================================================
// CREATE / REUSE
// ============================================================================

// CreateOrReuse inserts a booking for draft.Reference, or overwrites the
// mutable fields of an uncompleted booking with the same reference.
// Returns AlreadyCompletedError when the existing booking was ever paid.
func (r *BookingRepository) CreateOrReuse(ctx context.Context, draft *models.Booking) (*models.Booking, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Lock any existing row for this reference
	var existing models.Booking
	err = tx.GetContext(ctx, &existing,
		`SELECT `+bookingColumns+` FROM bookings WHERE reference = $1 FOR UPDATE`,
		draft.Reference)

	var booking models.Booking
	reused := false

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// 2a. Fresh reference
		if err := r.insert(ctx, tx, draft, &booking); err != nil {
			return nil, false, err
		}

	case err != nil:
		return nil, false, fmt.Errorf("failed to load booking by reference: %w", err)

	default:
		// 2b. Reuse in place unless completed or owned by someone else
		if existing.IsCompleted() {
			return nil, false, &models.AlreadyCompletedError{Reference: existing.Reference}
		}
		if existing.UserID != draft.UserID {
			return nil, false, &models.ConflictError{Message: fmt.Sprintf("reference %s belongs to another account", draft.Reference)}
		}
		if !models.CanTransition(existing.State, models.StateAwaitingPayment) {
			return nil, false, &models.InvalidTransitionError{
				BookingID: existing.ID.String(),
				From:      existing.State,
				To:        models.StateAwaitingPayment,
			}
		}
		if err := r.resetForReuse(ctx, tx, existing.ID, draft, &booking); err != nil {
			return nil, false, err
		}
		reused = true
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit booking: %w", err)
	}
	return &booking, reused, nil
}

func (r *BookingRepository) insert(ctx context.Context, tx *sqlx.Tx, draft *models.Booking, dest *models.Booking) error {
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	now := time.Now()

	query := `
		INSERT INTO bookings (
			id, reference, client_reference_no, user_id, b2b_account_id,
			total_net, total_markup, total_gross, currency,
			state, status,
			payment_method, payment_status,
			supplier_status, supplier_failure_kind, supplier_attempts,
			passengers, tour_items,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			$12, $13,
			$14, '', 0,
			$15, $16,
			$17, $17
		)
		ON CONFLICT (reference) DO NOTHING
		RETURNING ` + bookingColumns

	err := tx.GetContext(ctx, dest, query,
		draft.ID, draft.Reference, draft.ClientReferenceNo, draft.UserID, draft.B2BAccountID,
		draft.TotalNet, draft.TotalMarkup, draft.TotalGross, draft.Currency,
		models.StateAwaitingPayment, models.BookingStatusAwaitingPayment,
		draft.PaymentMethod, models.PaymentStatusPending,
		models.SupplierStatusNotSubmitted,
		draft.Passengers, draft.TourItems,
		now,
	)
	if errors.Is(err, sql.ErrNoRows) || IsUniqueViolation(err) {
		// Another request inserted the same reference between our SELECT and INSERT
		return &models.ConflictError{Message: fmt.Sprintf("booking %s is being created by another request, retry", draft.Reference)}
	}
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (r *BookingRepository) resetForReuse(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, draft *models.Booking, dest *models.Booking) error {
	query := `
		UPDATE bookings SET
			client_reference_no = $2,
			b2b_account_id = $3,
			total_net = $4,
			total_markup = $5,
			total_gross = $6,
			currency = $7,
			payment_method = $8,
			passengers = $9,
			tour_items = $10,
			state = $11,
			status = $12,
			payment_status = $13,
			payment_intent_id = NULL,
			payment_gateway = NULL,
			supplier_status = $14,
			supplier_failure_kind = '',
			supplier_response = NULL,
			cancellation_reason = NULL,
			cancelled_at = NULL,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + bookingColumns

	err := tx.GetContext(ctx, dest, query,
		id, draft.ClientReferenceNo, draft.B2BAccountID,
		draft.TotalNet, draft.TotalMarkup, draft.TotalGross, draft.Currency,
		draft.PaymentMethod, draft.Passengers, draft.TourItems,
		models.StateAwaitingPayment, models.BookingStatusAwaitingPayment, models.PaymentStatusPending,
		models.SupplierStatusNotSubmitted,
	)
	if err != nil {
		return fmt.Errorf("failed to reuse booking: %w", err)
	}
	return nil
}

// ============================================================================
// GUARDED TRANSITIONS
// ============================================================================

// AttachPaymentSession records the gateway session and moves the booking to
// PAYMENT_OPENED. payment_status is left untouched.
func (r *BookingRepository) AttachPaymentSession(ctx context.Context, bookingID uuid.UUID, session *models.PaymentSession) error {
	query := `
		UPDATE bookings SET
			payment_intent_id = $2,
			payment_gateway = $3,
			state = $4,
			updated_at = NOW()
		WHERE id = $1
			AND payment_status = $5
			AND state = ANY($6)`

	result, err := r.db.ExecContext(ctx, query,
		bookingID, session.PaymentIntentID, session.Gateway,
		models.StatePaymentOpened, models.PaymentStatusPending,
		pq.Array(models.TransitionSources(models.StatePaymentOpened)),
	)
	if err != nil {
		return fmt.Errorf("failed to attach payment session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &models.InvalidTransitionError{BookingID: bookingID.String(), To: models.StatePaymentOpened}
	}
	return nil
}

// TransitionPayment moves payment_status out of PENDING.
// applied is false when nothing changed because the booking already holds
// the requested status or is already PAID; this is how duplicate webhooks
// become no-ops.
func (r *BookingRepository) TransitionPayment(ctx context.Context, bookingID uuid.UUID, status models.PaymentStatus, gatewayReference string) (*models.Booking, bool, error) {
	state, bookingStatus, ok := models.PaymentTransitionTarget(status)
	if !ok {
		return nil, false, fmt.Errorf("unsupported payment transition to %s", status)
	}

	query := `
		UPDATE bookings SET
			payment_status = $2,
			state = $3,
			status = $4,
			paid_at = CASE WHEN $5 THEN NOW() ELSE paid_at END,
			payment_intent_id = COALESCE(NULLIF($6, ''), payment_intent_id),
			updated_at = NOW()
		WHERE id = $1
			AND payment_status = $7
			AND state = ANY($8)
		RETURNING ` + bookingColumns

	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query,
		bookingID, status, state, bookingStatus,
		status == models.PaymentStatusPaid, gatewayReference,
		models.PaymentStatusPending, pq.Array(models.TransitionSources(state)),
	)
	if err == nil {
		return &booking, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to transition payment: %w", err)
	}

	// Guard did not match: decide between idempotent no-op and a real conflict
	current, err := r.GetByID(ctx, bookingID)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, &models.NotFoundError{Entity: "booking", ID: bookingID.String()}
	}
	if current.PaymentStatus == models.PaymentStatusPaid || current.PaymentStatus == status {
		return current, false, nil
	}
	return nil, false, &models.InvalidTransitionError{BookingID: bookingID.String(), From: current.State, To: state}
}

// RecordSupplierOutcome stores the result of a supplier call.
// Payment columns are never touched; CONFIRMED requires payment_status PAID.
func (r *BookingRepository) RecordSupplierOutcome(ctx context.Context, bookingID uuid.UUID, outcome *models.SupplierOutcome) (*models.Booking, error) {
	var nextState models.BookingState
	switch outcome.Status {
	case models.SupplierStatusConfirmed:
		nextState = models.StateConfirmed
	case models.SupplierStatusPending:
		nextState = models.StateSupplierSubmitted
	case models.SupplierStatusFailed:
		// Rejections keep the booking where it is; it still needs a refund or manual retry
	default:
		return nil, fmt.Errorf("unsupported supplier outcome %s", outcome.Status)
	}

	query := `
		UPDATE bookings SET
			supplier_status = $2,
			supplier_booking_id = COALESCE($3, supplier_booking_id),
			supplier_response = $4,
			supplier_failure_kind = $5,
			supplier_attempts = supplier_attempts + 1,
			synced_at = NOW(),
			state = COALESCE(NULLIF($6, ''), state),
			status = CASE WHEN $7 THEN $8 ELSE status END,
			updated_at = NOW()
		WHERE id = $1
			AND payment_status = $9
			AND state = ANY($10)
		RETURNING ` + bookingColumns

	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query,
		bookingID, outcome.Status, outcome.SupplierBookingID, outcome.Payload, outcome.FailureKind,
		string(nextState),
		outcome.Status == models.SupplierStatusConfirmed, models.BookingStatusConfirmed,
		models.PaymentStatusPaid,
		pq.Array(models.TransitionSources(models.StateSupplierSubmitted)),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.InvalidTransitionError{BookingID: bookingID.String(), To: models.StateSupplierSubmitted}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record supplier outcome: %w", err)
	}
	return &booking, nil
}

// MarkCancelled records a cancellation locally, whatever the supplier said.
// Cancelling an already cancelled booking returns it unchanged.
func (r *BookingRepository) MarkCancelled(ctx context.Context, bookingID uuid.UUID, reason string, supplierPayload *models.SupplierPayload) (*models.Booking, error) {
	query := `
		UPDATE bookings SET
			state = $2,
			status = $3,
			payment_status = CASE WHEN payment_status = $4 THEN payment_status ELSE $5 END,
			supplier_status = $6,
			supplier_response = COALESCE($7, supplier_response),
			cancellation_reason = $8,
			cancelled_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
			AND state = ANY($9)
		RETURNING ` + bookingColumns

	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query,
		bookingID, models.StateCancelled, models.BookingStatusCancelled,
		models.PaymentStatusRefunded, models.PaymentStatusCancelled,
		models.SupplierStatusCancelled, supplierPayload, reason,
		pq.Array(models.TransitionSources(models.StateCancelled)),
	)
	if err == nil {
		return &booking, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}

	current, err := r.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &models.NotFoundError{Entity: "booking", ID: bookingID.String()}
	}
	if current.State == models.StateCancelled {
		return current, nil
	}
	return nil, &models.InvalidTransitionError{BookingID: bookingID.String(), From: current.State, To: models.StateCancelled}
}

// MarkRefunded closes a paid booking that the supplier never confirmed
func (r *BookingRepository) MarkRefunded(ctx context.Context, bookingID uuid.UUID, reason string) (*models.Booking, error) {
	query := `
		UPDATE bookings SET
			payment_status = $2,
			state = $3,
			status = $4,
			cancellation_reason = COALESCE(cancellation_reason, $5),
			cancelled_at = COALESCE(cancelled_at, NOW()),
			updated_at = NOW()
		WHERE id = $1
			AND paid_at IS NOT NULL
			AND payment_status = ANY($6)
			AND status <> $7
		RETURNING ` + bookingColumns

	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query,
		bookingID, models.PaymentStatusRefunded, models.StateCancelled, models.BookingStatusCancelled, reason,
		pq.Array([]string{string(models.PaymentStatusPaid), string(models.PaymentStatusCancelled)}),
		models.BookingStatusConfirmed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.ConflictError{Message: fmt.Sprintf("booking %s is not refundable", bookingID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark booking refunded: %w", err)
	}
	return &booking, nil
}

// ============================================================================
// QUERIES
// ============================================================================

// GetByID retrieves a booking by ID. Returns nil, nil when not found.
func (r *BookingRepository) GetByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
}

// GetByPaymentIntentID finds the booking a gateway session belongs to, also
// through superseded sessions recorded in payment_transactions
func (r *BookingRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE payment_intent_id = $1
			OR id = (SELECT booking_id FROM payment_transactions WHERE payment_intent_id = $1 LIMIT 1)
		LIMIT 1`
	return r.getOne(ctx, query, intentID)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// ListByUser returns a user's bookings, newest first
func (r *BookingRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	bookings := []models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ListSupplierRetryCandidates returns paid bookings whose supplier submission
// never happened or failed for infrastructure reasons. Rows touched after
// idleSince are skipped so in-flight submissions are left alone.
func (r *BookingRepository) ListSupplierRetryCandidates(ctx context.Context, maxAttempts int, idleSince time.Time, limit int) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE payment_status = $1
			AND state = ANY($2)
			AND (
				supplier_status = $3
				OR (supplier_status = $4 AND supplier_failure_kind = $5)
			)
			AND supplier_attempts < $6
			AND updated_at < $7
		ORDER BY updated_at ASC
		LIMIT $8`

	bookings := []models.Booking{}
	err := r.db.SelectContext(ctx, &bookings, query,
		models.PaymentStatusPaid,
		pq.Array(models.TransitionSources(models.StateSupplierSubmitted)),
		models.SupplierStatusNotSubmitted,
		models.SupplierStatusPending, models.SupplierFailureInfrastructure,
		maxAttempts, idleSince, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list supplier retry candidates: %w", err)
	}
	return bookings, nil
}

// ListOpenPaymentSessions returns bookings with an open session that has not
// been confirmed since openedBefore
func (r *BookingRepository) ListOpenPaymentSessions(ctx context.Context, method models.PaymentMethod, openedBefore time.Time, limit int) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE state = $1
			AND payment_status = $2
			AND payment_method = $3
			AND updated_at < $4
		ORDER BY updated_at ASC
		LIMIT $5`

	bookings := []models.Booking{}
	err := r.db.SelectContext(ctx, &bookings, query,
		models.StatePaymentOpened, models.PaymentStatusPending, method, openedBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open payment sessions: %w", err)
	}
	return bookings, nil
}
