package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/lock"
	"github.com/tourlink/booking-backend/internal/models"
)

// BookingStore is the booking repository as seen by the orchestrator
type BookingStore interface {
	CreateOrReuse(ctx context.Context, draft *models.Booking) (*models.Booking, bool, error)
	AttachPaymentSession(ctx context.Context, bookingID uuid.UUID, session *models.PaymentSession) error
	TransitionPayment(ctx context.Context, bookingID uuid.UUID, status models.PaymentStatus, gatewayReference string) (*models.Booking, bool, error)
	RecordSupplierOutcome(ctx context.Context, bookingID uuid.UUID, outcome *models.SupplierOutcome) (*models.Booking, error)
	MarkCancelled(ctx context.Context, bookingID uuid.UUID, reason string, supplierPayload *models.SupplierPayload) (*models.Booking, error)
	MarkRefunded(ctx context.Context, bookingID uuid.UUID, reason string) (*models.Booking, error)
	GetByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error)
	ListSupplierRetryCandidates(ctx context.Context, maxAttempts int, idleSince time.Time, limit int) ([]models.Booking, error)
	ListOpenPaymentSessions(ctx context.Context, method models.PaymentMethod, openedBefore time.Time, limit int) ([]models.Booking, error)
}

// TransactionStore is the payment transaction log
type TransactionStore interface {
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	Complete(ctx context.Context, intentID string, status models.PaymentStatus, source models.TransactionSource, payload *models.GatewayPayload) (bool, error)
	MarkRefunded(ctx context.Context, bookingID uuid.UUID, payload *models.GatewayPayload) error
	GetByIntentID(ctx context.Context, intentID string) (*models.PaymentTransaction, error)
	GetLatestByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.PaymentTransaction, error)
	ListByBookingID(ctx context.Context, bookingID uuid.UUID) ([]models.PaymentTransaction, error)
}

// PaymentGateway opens and checks payment sessions
type PaymentGateway interface {
	OpenSession(ctx context.Context, params OpenSessionParams) SessionResult
	VerifyStatus(ctx context.Context, method models.PaymentMethod, intentID string) StatusResult
	Refund(ctx context.Context, method models.PaymentMethod, intentID string, amount float64) RefundResult
	ParseWebhookEvent(body []byte) (*WebhookEvent, error)
}

// TourSupplier submits, cancels and tickets bookings upstream
type TourSupplier interface {
	Submit(ctx context.Context, booking *models.Booking) SupplierResult
	Cancel(ctx context.Context, booking *models.Booking, reason string) SupplierResult
	FetchTickets(ctx context.Context, booking *models.Booking) SupplierResult
}

// TourPricer prices booking lines for a caller
type TourPricer interface {
	PriceTourItems(ctx context.Context, items []models.TourItem, userID uuid.UUID, b2bAccountID *uuid.UUID) ([]models.TourItem, models.PriceBreakdown, error)
}

// Caller is the authenticated identity behind a request
type Caller struct {
	UserID       uuid.UUID
	B2BAccountID *uuid.UUID
	IsAdmin      bool
}

// ConfirmInput is a payment outcome reported by a webhook, the client or a poll
type ConfirmInput struct {
	IntentID    string
	BookingHint *uuid.UUID
	Status      models.PaymentStatus
	Source      models.TransactionSource
	Payload     *models.GatewayPayload
}

// ReconcileReport summarizes one background reconciliation run
type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	DefaultCurrency     string
	EnforceTotal        bool
	SupplierMaxAttempts int
	SupplierRetryIdle   time.Duration // minimum age of a failed submission before retry
	PaymentPollAfter    time.Duration // minimum age of an open session before polling
	BatchSize           int
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		DefaultCurrency:     "AED",
		EnforceTotal:        true,
		SupplierMaxAttempts: 5,
		SupplierRetryIdle:   2 * time.Minute,
		PaymentPollAfter:    3 * time.Minute,
		BatchSize:           50,
	}
}

// BookingOrchestratorService drives a booking through
// create -> payment -> supplier submission.
// Webhooks, client confirmations and background polls all converge on
// ConfirmPayment.
type BookingOrchestratorService struct {
	bookings     BookingStore
	transactions TransactionStore
	pricing      TourPricer
	gateway      PaymentGateway
	supplier     TourSupplier
	locker       lock.Locker
	archive      DocumentArchive
	config       BookingOrchestratorConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	bookings BookingStore,
	transactions TransactionStore,
	pricing TourPricer,
	gateway PaymentGateway,
	supplier TourSupplier,
	locker lock.Locker,
	archive DocumentArchive,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &BookingOrchestratorService{
		bookings:     bookings,
		transactions: transactions,
		pricing:      pricing,
		gateway:      gateway,
		supplier:     supplier,
		locker:       locker,
		archive:      archive,
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// ============================================================================
// CREATE WITH PAYMENT
// ============================================================================

// CreateWithPayment prices and persists a booking, then opens a payment
// session. Resubmitting an unpaid reference reuses the existing booking.
func (s *BookingOrchestratorService) CreateWithPayment(
	ctx context.Context,
	caller Caller,
	req *models.CreateBookingRequest,
	meta models.RequestMeta,
) (*models.CreateBookingResponse, error) {
	// 1. Validate request
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	// 2. Price every line for this caller
	items, price, err := s.pricing.PriceTourItems(ctx, req.TourItems, caller.UserID, caller.B2BAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to price booking: %w", err)
	}
	if s.config.EnforceTotal && req.TotalGross > 0 && !models.AmountsMatch(req.TotalGross, price.Gross) {
		return nil, models.NewPriceMismatchError(price.Gross, req.TotalGross)
	}

	// 3. Allocate or reuse the reference
	reference := req.Reference
	if reference == "" {
		reference, err = models.GenerateBookingReference(s.now())
		if err != nil {
			return nil, err
		}
	}

	draft := &models.Booking{
		ID:                uuid.New(),
		Reference:         reference,
		ClientReferenceNo: req.ClientReferenceNo,
		UserID:            caller.UserID,
		B2BAccountID:      caller.B2BAccountID,
		TotalNet:          price.Net,
		TotalMarkup:       price.Markup,
		TotalGross:        price.Gross,
		Currency:          currency,
		State:             models.StateAwaitingPayment,
		Status:            models.BookingStatusAwaitingPayment,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     models.PaymentStatusPending,
		SupplierStatus:    models.SupplierStatusNotSubmitted,
		Passengers:        req.Passengers,
		TourItems:         items,
	}

	booking, reused, err := s.bookings.CreateOrReuse(ctx, draft)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"reference":      booking.Reference,
		"reused":         reused,
		"payment_method": booking.PaymentMethod,
		"total_gross":    booking.TotalGross,
		"request_id":     meta.RequestID,
	})

	// 4. Open the payment session
	result := s.gateway.OpenSession(ctx, OpenSessionParams{
		BookingID: booking.ID,
		UserID:    booking.UserID,
		Reference: booking.Reference,
		Amount:    booking.TotalGross,
		Currency:  booking.Currency,
		Method:    booking.PaymentMethod,
	})
	if result.Failure != nil {
		log.WithFields(logrus.Fields{
			"failure_kind": result.Failure.Kind,
			"http_status":  result.Failure.HTTPStatus,
		}).Error("Failed to open payment session: " + result.Failure.Message)

		s.recordFailedAttempt(ctx, booking, meta, result.Failure.Message, result.Payload, log)

		// The booking must not stay ambiguous; FAILED lets the caller resubmit the same reference
		if _, _, err := s.bookings.TransitionPayment(ctx, booking.ID, models.PaymentStatusFailed, ""); err != nil {
			log.WithError(err).Error("Failed to mark booking payment as failed")
		}
		return nil, result.Err()
	}
	session := result.Session

	// 5. Persist the session
	if err := s.bookings.AttachPaymentSession(ctx, booking.ID, session); err != nil {
		log.WithError(err).WithField("payment_intent_id", session.PaymentIntentID).
			Error("Failed to attach payment session; abandoning it")

		// A late capture on this session is matched through its transaction row
		txn := models.NewPaymentTransaction(booking, session).
			SetRawResponse(result.Payload).
			SetRequestMeta(meta).
			SetError("session could not be attached: " + err.Error())
		if err := s.transactions.Create(ctx, txn); err != nil {
			log.WithError(err).Error("Failed to record abandoned payment session")
		}
		if _, _, err := s.bookings.TransitionPayment(ctx, booking.ID, models.PaymentStatusFailed, ""); err != nil {
			log.WithError(err).Error("Failed to mark booking payment as failed")
		}
		return nil, err
	}
	booking.State = models.StatePaymentOpened
	booking.PaymentIntentID = &session.PaymentIntentID
	booking.PaymentGateway = &session.Gateway

	txn := models.NewPaymentTransaction(booking, session).
		SetRawResponse(result.Payload).
		SetRequestMeta(meta)
	if err := s.transactions.Create(ctx, txn); err != nil {
		// The booking already points at the session; confirmation still works without the log row
		log.WithError(err).Error("Failed to record payment transaction")
	}

	log.WithFields(logrus.Fields{
		"payment_intent_id": session.PaymentIntentID,
		"gateway":           session.Gateway,
	}).Info("Booking created with payment session")

	return &models.CreateBookingResponse{
		Booking:            booking.Summary(),
		Reused:             reused,
		PaymentIntentID:    session.PaymentIntentID,
		PaymentRedirectURL: session.RedirectURL,
		Gateway:            session.Gateway,
		ExpiresAt:          session.ExpiresAt,
		BankTransfer:       session.Instructions,
	}, nil
}

// recordFailedAttempt stores a session open that failed, with the gateway's answer
func (s *BookingOrchestratorService) recordFailedAttempt(ctx context.Context, booking *models.Booking, meta models.RequestMeta, message string, payload *models.GatewayPayload, log *logrus.Entry) {
	intentID := "failed_" + uuid.NewString()
	if payload != nil && payload.IntentID != "" {
		intentID = payload.IntentID
	}

	txn := models.NewPaymentTransaction(booking, &models.PaymentSession{
		PaymentIntentID: intentID,
		Gateway:         GatewayForMethod(booking.PaymentMethod),
		Method:          booking.PaymentMethod,
	}).
		SetRawResponse(payload).
		SetRequestMeta(meta).
		SetError(message)
	completedAt := s.now()
	txn.Status = models.PaymentStatusFailed
	txn.CompletedAt = &completedAt

	if err := s.transactions.Create(ctx, txn); err != nil {
		log.WithError(err).Error("Failed to record failed payment attempt")
	}
}

// ============================================================================
// CONFIRM PAYMENT
// ============================================================================

// ConfirmPayment applies a payment outcome to the booking behind IntentID.
// A PAID outcome is applied at most once; the caller that applies it also
// submits the booking to the supplier.
func (s *BookingOrchestratorService) ConfirmPayment(ctx context.Context, in ConfirmInput) (*models.ConfirmationResult, error) {
	// 1. Resolve the booking from the gateway session
	booking, err := s.bookings.GetByPaymentIntentID(ctx, in.IntentID)
	if err != nil {
		return nil, err
	}
	if booking == nil || (in.BookingHint != nil && *in.BookingHint != booking.ID) {
		return nil, &models.NotFoundError{Entity: "payment intent", ID: in.IntentID}
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id":        booking.ID,
		"reference":         booking.Reference,
		"payment_intent_id": in.IntentID,
		"source":            in.Source,
		"status":            in.Status,
	})

	// 2. A capture on a session the booking moved away from never pays it
	if in.Status == models.PaymentStatusPaid &&
		(booking.PaymentIntentID == nil || *booking.PaymentIntentID != in.IntentID) {
		return s.applySupersededCapture(ctx, booking, in, log)
	}

	// 3. Already paid: duplicate delivery
	if booking.PaymentStatus == models.PaymentStatusPaid {
		log.Info("Payment already confirmed, ignoring duplicate")
		return duplicateResult(booking), nil
	}

	if in.Status != models.PaymentStatusPaid {
		return s.applyPaymentFailure(ctx, booking, in, log)
	}

	// 4. Serialize confirmation for this booking
	release, err := s.locker.Acquire(ctx, lock.BookingKey(booking.ID.String()))
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		log.Info("Confirmation already in progress elsewhere")
		return duplicateResult(booking), nil
	case err != nil:
		// The conditional update below is still authoritative
		log.WithError(err).Warn("Booking lock unavailable, relying on conditional update")
	default:
		defer release()
	}

	// 5. PENDING -> PAID; exactly one caller gets applied=true
	paid, applied, err := s.bookings.TransitionPayment(ctx, booking.ID, models.PaymentStatusPaid, in.IntentID)
	if err != nil {
		var invalid *models.InvalidTransitionError
		if errors.As(err, &invalid) {
			log.WithError(err).Error("Payment captured for a booking that can no longer be paid; refund required")
		}
		return nil, err
	}
	if !applied {
		log.Info("Payment already confirmed by a concurrent caller")
		return duplicateResult(paid), nil
	}

	if _, err := s.transactions.Complete(ctx, in.IntentID, models.PaymentStatusPaid, in.Source, in.Payload); err != nil {
		log.WithError(err).Error("Failed to complete payment transaction")
	}
	log.Info("Payment confirmed")

	// 6. Hand the paid booking to the supplier
	updated, res, err := s.submitToSupplier(ctx, paid)
	if err != nil {
		return nil, err
	}

	return &models.ConfirmationResult{
		Booking:   updated.Summary(),
		Submitted: true,
		Message:   res.Message,
	}, nil
}

// applyPaymentFailure records a failed or cancelled payment for the
// booking's current session. Outcomes for superseded sessions are ignored.
func (s *BookingOrchestratorService) applyPaymentFailure(ctx context.Context, booking *models.Booking, in ConfirmInput, log *logrus.Entry) (*models.ConfirmationResult, error) {
	if booking.PaymentIntentID == nil || *booking.PaymentIntentID != in.IntentID {
		log.Info("Ignoring outcome for a superseded payment session")
		if _, err := s.transactions.Complete(ctx, in.IntentID, in.Status, in.Source, in.Payload); err != nil {
			log.WithError(err).Warn("Failed to close superseded payment transaction")
		}
		return &models.ConfirmationResult{Booking: booking.Summary(), Duplicate: true, Message: "payment session superseded"}, nil
	}

	updated, applied, err := s.bookings.TransitionPayment(ctx, booking.ID, in.Status, in.IntentID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return duplicateResult(updated), nil
	}

	if _, err := s.transactions.Complete(ctx, in.IntentID, in.Status, in.Source, in.Payload); err != nil {
		log.WithError(err).Error("Failed to complete payment transaction")
	}
	log.Warn("Payment did not succeed")

	return &models.ConfirmationResult{
		Booking: updated.Summary(),
		Message: fmt.Sprintf("payment %s", strings.ToLower(string(in.Status))),
	}, nil
}

// applySupersededCapture records money taken on a session the booking no
// longer points at. The booking keeps its current session and total; the
// capture is flagged for refund.
func (s *BookingOrchestratorService) applySupersededCapture(ctx context.Context, booking *models.Booking, in ConfirmInput, log *logrus.Entry) (*models.ConfirmationResult, error) {
	fresh, err := s.transactions.Complete(ctx, in.IntentID, models.PaymentStatusPaid, in.Source, in.Payload)
	if err != nil {
		log.WithError(err).Error("Failed to record capture on superseded payment session")
	}

	fields := logrus.Fields{"booking_total": booking.TotalGross}
	if booking.PaymentIntentID != nil {
		fields["current_payment_intent_id"] = *booking.PaymentIntentID
	}
	if txn, err := s.transactions.GetByIntentID(ctx, in.IntentID); err == nil && txn != nil {
		fields["captured_amount"] = txn.Amount
		fields["captured_currency"] = txn.Currency
	}
	if fresh {
		log.WithFields(fields).Error("Payment captured on a superseded session; refund required")
	}

	return &models.ConfirmationResult{
		Booking:        booking.Summary(),
		RefundRequired: true,
		Message:        "payment captured on a superseded session; refund required",
	}, nil
}

func duplicateResult(b *models.Booking) *models.ConfirmationResult {
	return &models.ConfirmationResult{
		Booking:   b.Summary(),
		Duplicate: true,
		Message:   "payment already processed",
	}
}

// submitToSupplier submits a paid booking and records the outcome
func (s *BookingOrchestratorService) submitToSupplier(ctx context.Context, booking *models.Booking) (*models.Booking, SupplierResult, error) {
	res := s.supplier.Submit(ctx, booking)

	updated, err := s.bookings.RecordSupplierOutcome(ctx, booking.ID, res.ToOutcome())
	if err != nil {
		log := s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":          booking.ID,
			"supplier_booking_id": res.BookingID,
		})
		log.Error("Failed to record supplier outcome")
		if res.Accepted() && res.BookingID != "" {
			s.releaseSupplierBooking(ctx, booking, res.BookingID, log)
		}
		return nil, res, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id":          booking.ID,
		"reference":           booking.Reference,
		"supplier_outcome":    res.Outcome,
		"supplier_booking_id": res.BookingID,
		"attempts":            updated.SupplierAttempts,
	})
	switch {
	case res.Outcome == SupplierConfirmed:
		log.Info("Booking confirmed by supplier")
	case res.Outcome == SupplierPending:
		log.Info("Supplier accepted booking, awaiting confirmation")
	case updated.NeedsCompensation():
		log.Warn("Supplier rejected a paid booking; refund or manual retry required: " + res.Message)
	default:
		log.Warn("Supplier unavailable, submission will be retried: " + res.Message)
	}
	return updated, res, nil
}

// releaseSupplierBooking cancels a supplier booking the local record does
// not know about, such as one accepted while the booking was being cancelled
func (s *BookingOrchestratorService) releaseSupplierBooking(ctx context.Context, booking *models.Booking, supplierBookingID string, log *logrus.Entry) {
	held := *booking
	held.SupplierBookingID = &supplierBookingID

	res := s.supplier.Cancel(ctx, &held, "Booking changed during supplier submission")
	if !res.Accepted() {
		log.WithField("supplier_outcome", res.Outcome).
			Error("Unrecorded supplier booking is still open; manual cancellation required: " + res.Message)
		return
	}
	log.Warn("Cancelled unrecorded supplier booking")
}

// ============================================================================
// ENTRY POINTS THAT CONVERGE ON CONFIRM
// ============================================================================

// HandleWebhook processes a gateway notification. Unknown sessions and
// ignored event types are acknowledged without error.
func (s *BookingOrchestratorService) HandleWebhook(ctx context.Context, body []byte) (*models.ConfirmationResult, error) {
	event, err := s.gateway.ParseWebhookEvent(body)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"event_type":        event.Type,
		"payment_intent_id": event.IntentID,
	})
	if !event.Handled {
		log.Info("Ignoring webhook event type")
		return &models.ConfirmationResult{Message: "event ignored"}, nil
	}

	in := ConfirmInput{
		IntentID: event.IntentID,
		Status:   event.Status,
		Source:   models.TransactionSourceWebhook,
		Payload:  event.Payload,
	}
	if hint, err := uuid.Parse(event.BookingID); err == nil {
		in.BookingHint = &hint
	}

	result, err := s.ConfirmPayment(ctx, in)
	var notFound *models.NotFoundError
	if errors.As(err, &notFound) {
		log.Warn("Webhook for unknown payment intent")
		return &models.ConfirmationResult{Message: "unknown payment intent"}, nil
	}
	return result, err
}

// ConfirmFromClient handles the customer's return from the payment page.
// The gateway is asked directly; the client's word is never trusted.
func (s *BookingOrchestratorService) ConfirmFromClient(ctx context.Context, caller Caller, req *models.ConfirmPaymentRequest) (*models.ConfirmationResult, error) {
	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		return nil, models.NewValidationError("booking_id", "invalid booking id")
	}

	booking, err := s.loadForCaller(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentStatus == models.PaymentStatusPaid {
		return duplicateResult(booking), nil
	}

	status := s.gateway.VerifyStatus(ctx, booking.PaymentMethod, req.PaymentIntentID)
	if status.Failure != nil {
		return nil, status.Err()
	}
	if status.State == models.PaymentStatusPending {
		return nil, &models.PaymentNotCompletedError{State: status.GatewayState}
	}

	return s.ConfirmPayment(ctx, ConfirmInput{
		IntentID:    req.PaymentIntentID,
		BookingHint: &booking.ID,
		Status:      status.State,
		Source:      models.TransactionSourceClient,
		Payload:     status.Payload,
	})
}

// VerifyPayment returns the booking with its payment attempts. An
// open wallet session is polled so the caller sees the gateway's state.
func (s *BookingOrchestratorService) VerifyPayment(ctx context.Context, caller Caller, bookingID uuid.UUID) (*models.VerifyPaymentResponse, error) {
	booking, err := s.loadForCaller(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}

	resp := &models.VerifyPaymentResponse{}
	if booking.State == models.StatePaymentOpened && booking.PaymentIntentID != nil &&
		booking.PaymentMethod == models.PaymentMethodWalletRedirect {
		status := s.gateway.VerifyStatus(ctx, booking.PaymentMethod, *booking.PaymentIntentID)
		resp.GatewayPoll = status.GatewayState

		if status.Failure == nil && status.State != models.PaymentStatusPending {
			result, err := s.ConfirmPayment(ctx, ConfirmInput{
				IntentID: *booking.PaymentIntentID,
				Status:   status.State,
				Source:   models.TransactionSourcePoll,
				Payload:  status.Payload,
			})
			if err != nil {
				return nil, err
			}
			if refreshed, err := s.bookings.GetByID(ctx, bookingID); err == nil && refreshed != nil {
				booking = refreshed
			} else {
				s.logger.WithField("booking_id", bookingID).Debug(result.Message)
			}
		}
	}

	txn, err := s.transactions.GetLatestByBookingID(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.transactions.ListByBookingID(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	resp.Booking = booking.Summary()
	resp.Transaction = txn
	resp.Attempts = attempts
	return resp, nil
}

// ============================================================================
// CANCEL / TICKETS
// ============================================================================

// CancelBooking cancels upstream when the supplier holds the booking, then
// records the cancellation locally whatever the supplier answered.
func (s *BookingOrchestratorService) CancelBooking(ctx context.Context, caller Caller, bookingID uuid.UUID, reason string) (*models.BookingSummary, error) {
	// Confirmation holds this lock while it talks to the supplier
	release, err := s.locker.Acquire(ctx, lock.BookingKey(bookingID.String()))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, &models.ConflictError{Message: "booking is being processed, try again shortly"}
		}
		s.logger.WithError(err).Warn("Booking lock unavailable, relying on conditional update")
	} else {
		defer release()
	}

	booking, err := s.loadForCaller(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.State == models.StateCancelled {
		summary := booking.Summary()
		return &summary, nil
	}
	if reason == "" {
		reason = "User requested cancellation"
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"reference":  booking.Reference,
	})

	var supplierPayload *models.SupplierPayload
	if booking.SupplierBookingID != nil &&
		(booking.SupplierStatus == models.SupplierStatusConfirmed || booking.SupplierStatus == models.SupplierStatusPending) {
		res := s.supplier.Cancel(ctx, booking, reason)
		supplierPayload = res.Payload
		if !res.Accepted() {
			log.WithField("supplier_outcome", res.Outcome).
				Error("Supplier cancellation failed, cancelling locally; follow up required: " + res.Message)
		}
	}

	updated, err := s.bookings.MarkCancelled(ctx, booking.ID, reason, supplierPayload)
	if err != nil {
		return nil, err
	}

	if updated.PaidAt != nil && updated.PaymentStatus != models.PaymentStatusRefunded {
		log.Warn("Paid booking cancelled; refund pending")
	}
	log.Info("Booking cancelled")

	summary := updated.Summary()
	return &summary, nil
}

// GetTickets fetches the supplier tickets and archives a voucher for them
func (s *BookingOrchestratorService) GetTickets(ctx context.Context, caller Caller, bookingID uuid.UUID) (*models.TicketsResponse, error) {
	booking, err := s.loadForCaller(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.SupplierStatus != models.SupplierStatusConfirmed || booking.SupplierBookingID == nil {
		return nil, &models.ConflictError{Message: "tickets are available once the supplier confirms the booking"}
	}

	res := s.supplier.FetchTickets(ctx, booking)
	if err := res.Err(); err != nil {
		return nil, err
	}

	resp := &models.TicketsResponse{
		Booking: booking.Summary(),
		Tickets: res.Tickets,
	}

	if s.archive != nil {
		pdf, filename, err := BuildVoucherPDF(booking, res.Tickets, s.now())
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to build voucher")
			return resp, nil
		}
		url, err := s.archive.Put(ctx, "vouchers/"+filename, pdf, "application/pdf")
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to archive voucher")
			return resp, nil
		}
		resp.VoucherURL = url
	}
	return resp, nil
}

// ============================================================================
// OPERATOR COMPENSATION
// ============================================================================

// RetrySupplierSubmission resubmits a paid booking the supplier has not confirmed
func (s *BookingOrchestratorService) RetrySupplierSubmission(ctx context.Context, bookingID uuid.UUID) (*models.ConfirmationResult, error) {
	release, err := s.locker.Acquire(ctx, lock.BookingKey(bookingID.String()))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, &models.ConflictError{Message: "booking is being processed, try again shortly"}
		}
		s.logger.WithError(err).Warn("Booking lock unavailable, relying on conditional update")
	} else {
		defer release()
	}

	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, &models.NotFoundError{Entity: "booking", ID: bookingID.String()}
	}
	if booking.PaymentStatus != models.PaymentStatusPaid {
		return nil, &models.ConflictError{Message: "only paid bookings can be submitted to the supplier"}
	}
	if booking.SupplierStatus == models.SupplierStatusConfirmed || booking.SupplierStatus == models.SupplierStatusCancelled {
		return nil, &models.ConflictError{Message: fmt.Sprintf("supplier booking is already %s", booking.SupplierStatus)}
	}

	updated, res, err := s.submitToSupplier(ctx, booking)
	if err != nil {
		return nil, err
	}
	return &models.ConfirmationResult{
		Booking:   updated.Summary(),
		Submitted: true,
		Message:   res.Message,
	}, nil
}

// RefundBooking refunds a paid booking the supplier never fulfilled.
// Wallet payments are refunded through the gateway; card and bank transfers
// are refunded by the operator outside the system and only recorded here.
func (s *BookingOrchestratorService) RefundBooking(ctx context.Context, bookingID uuid.UUID, reason string) (*models.BookingSummary, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, &models.NotFoundError{Entity: "booking", ID: bookingID.String()}
	}
	if booking.PaidAt == nil || booking.PaymentIntentID == nil {
		return nil, &models.ConflictError{Message: "booking was never paid"}
	}
	if booking.PaymentStatus == models.PaymentStatusRefunded {
		summary := booking.Summary()
		return &summary, nil
	}
	if booking.Status == models.BookingStatusConfirmed {
		return nil, &models.ConflictError{Message: "cancel the confirmed booking before refunding"}
	}
	if reason == "" {
		reason = "Refunded by operator"
	}

	res := s.gateway.Refund(ctx, booking.PaymentMethod, *booking.PaymentIntentID, booking.TotalGross)
	if res.Failure != nil && res.Failure.Kind != models.GatewayFailureUnsupportedMethod {
		return nil, res.Err()
	}

	updated, err := s.bookings.MarkRefunded(ctx, booking.ID, reason)
	if err != nil {
		return nil, err
	}
	if err := s.transactions.MarkRefunded(ctx, booking.ID, res.Payload); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to record refund on transaction")
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"reference":  booking.Reference,
		"refund_id":  res.RefundID,
		"manual":     res.Failure != nil,
	}).Info("Booking refunded")

	summary := updated.Summary()
	return &summary, nil
}

// ============================================================================
// READS
// ============================================================================

// GetBooking returns one of the caller's bookings
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, caller Caller, bookingID uuid.UUID) (*models.Booking, error) {
	return s.loadForCaller(ctx, caller, bookingID)
}

// ListBookings returns the caller's bookings
func (s *BookingOrchestratorService) ListBookings(ctx context.Context, caller Caller, limit, offset int) ([]models.BookingSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	bookings, err := s.bookings.ListByUser(ctx, caller.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.BookingSummary, 0, len(bookings))
	for i := range bookings {
		summaries = append(summaries, bookings[i].Summary())
	}
	return summaries, nil
}

func (s *BookingOrchestratorService) loadForCaller(ctx context.Context, caller Caller, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, &models.NotFoundError{Entity: "booking", ID: bookingID.String()}
	}
	if !caller.IsAdmin && !booking.IsOwnedBy(caller.UserID) {
		return nil, &models.ForbiddenError{Message: "you do not have access to this booking"}
	}
	return booking, nil
}

// ============================================================================
// BACKGROUND RECONCILIATION
// ============================================================================

// ReconcileOpenPayments polls wallet sessions that have been open longer than
// PaymentPollAfter, for when webhook delivery was lost
func (s *BookingOrchestratorService) ReconcileOpenPayments(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	openedBefore := s.now().Add(-s.config.PaymentPollAfter)
	bookings, err := s.bookings.ListOpenPaymentSessions(ctx, models.PaymentMethodWalletRedirect, openedBefore, s.config.BatchSize)
	if err != nil {
		return report, err
	}

	for i := range bookings {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		booking := &bookings[i]
		report.Scanned++
		if booking.PaymentIntentID == nil {
			continue
		}

		log := s.logger.WithFields(logrus.Fields{
			"booking_id":        booking.ID,
			"payment_intent_id": *booking.PaymentIntentID,
		})

		status := s.gateway.VerifyStatus(ctx, booking.PaymentMethod, *booking.PaymentIntentID)
		if status.Failure != nil {
			report.Errors++
			log.WithField("failure_kind", status.Failure.Kind).Warn("Payment poll failed: " + status.Failure.Message)
			continue
		}
		if status.State == models.PaymentStatusPending {
			report.Pending++
			continue
		}

		result, err := s.ConfirmPayment(ctx, ConfirmInput{
			IntentID: *booking.PaymentIntentID,
			Status:   status.State,
			Source:   models.TransactionSourcePoll,
			Payload:  status.Payload,
		})
		if err != nil {
			report.Errors++
			log.WithError(err).Error("Failed to apply polled payment state")
			continue
		}
		if status.State == models.PaymentStatusPaid && !result.Duplicate {
			report.Confirmed++
		} else if status.State != models.PaymentStatusPaid {
			report.Failed++
		}
	}

	return report, nil
}

// RetryPendingSupplierSubmissions resubmits paid bookings whose submission
// failed for infrastructure reasons. Business rejections are left to operators.
func (s *BookingOrchestratorService) RetryPendingSupplierSubmissions(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	idleSince := s.now().Add(-s.config.SupplierRetryIdle)
	candidates, err := s.bookings.ListSupplierRetryCandidates(ctx, s.config.SupplierMaxAttempts, idleSince, s.config.BatchSize)
	if err != nil {
		return report, err
	}

	for i := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		bookingID := candidates[i].ID

		release, err := s.locker.Acquire(ctx, lock.BookingKey(bookingID.String()))
		if errors.Is(err, lock.ErrNotAcquired) {
			report.Pending++
			continue
		}
		if err == nil {
			res, retryErr := s.retryOne(ctx, bookingID)
			release()
			err = retryErr
			if err == nil {
				switch res {
				case SupplierConfirmed:
					report.Confirmed++
				case SupplierRejected:
					report.Failed++
				default:
					report.Pending++
				}
				continue
			}
		}

		report.Errors++
		s.logger.WithError(err).WithField("booking_id", bookingID).Error("Supplier retry failed")
	}

	return report, nil
}

// retryOne re-reads the booking under the lock and resubmits it if it is
// still waiting on the supplier
func (s *BookingOrchestratorService) retryOne(ctx context.Context, bookingID uuid.UUID) (SupplierOutcomeKind, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if booking == nil || booking.PaymentStatus != models.PaymentStatusPaid {
		return SupplierPending, nil
	}
	eligible := booking.SupplierStatus == models.SupplierStatusNotSubmitted ||
		(booking.SupplierStatus == models.SupplierStatusPending && booking.SupplierFailureKind == models.SupplierFailureInfrastructure)
	if !eligible {
		return SupplierPending, nil
	}

	_, res, err := s.submitToSupplier(ctx, booking)
	if err != nil {
		return "", err
	}
	return res.Outcome, nil
}
