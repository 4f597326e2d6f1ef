package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/config"
	"github.com/tourlink/booking-backend/internal/models"
)

const (
	GatewayWallet = "ZIINA"
	GatewayCard   = "CARD"
	GatewayBank   = "BANK_TRANSFER"
)

// GatewayForMethod names the gateway that handles a payment method
func GatewayForMethod(method models.PaymentMethod) string {
	switch method {
	case models.PaymentMethodCard:
		return GatewayCard
	case models.PaymentMethodBankTransfer:
		return GatewayBank
	}
	return GatewayWallet
}

// Webhook event types sent by the wallet gateway
const (
	WebhookPaymentSucceeded = "payment_intent.succeeded"
	WebhookPaymentFailed    = "payment_intent.payment_failed"
	WebhookPaymentCanceled  = "payment_intent.canceled"
)

// PaymentGatewayService opens and verifies payment sessions.
// Wallet payments go to the hosted gateway, card and bank transfer sessions
// are created locally.
type PaymentGatewayService struct {
	config      *config.GatewayConfig
	frontendURL string
	logger      *logrus.Logger
	client      *http.Client
	now         func() time.Time
}

// ZiinaIntentRequest is the body of POST /payment_intent
type ZiinaIntentRequest struct {
	Amount            int64             `json:"amount"` // minor units
	CurrencyCode      string            `json:"currency_code"`
	Message           string            `json:"message"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
	FailureURL        string            `json:"failure_url"`
	Test              bool              `json:"test"`
	TransactionSource string            `json:"transaction_source"`
	Expiry            string            `json:"expiry"` // unix millis as string
	AllowTips         bool              `json:"allow_tips"`
	Metadata          map[string]string `json:"metadata"`
}

// ZiinaIntentResponse is the subset of the payment intent we rely on
type ZiinaIntentResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency_code"`
	Message     string `json:"message,omitempty"`
}

// ZiinaRefundRequest is the body of POST /refunds
type ZiinaRefundRequest struct {
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount,omitempty"`
}

// ZiinaRefundResponse is the subset of the refund we rely on
type ZiinaRefundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ZiinaWebhookEnvelope is the webhook body
type ZiinaWebhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// OpenSessionParams describes the payment to open
type OpenSessionParams struct {
	BookingID uuid.UUID
	UserID    uuid.UUID
	Reference string
	Amount    float64
	Currency  string
	Method    models.PaymentMethod
}

// SessionResult holds either an opened Session or a Failure.
// Payload always records what the gateway returned.
type SessionResult struct {
	Session *models.PaymentSession
	Failure *models.GatewayFailure
	Payload *models.GatewayPayload
}

// Err converts a failure into a GatewayError
func (r SessionResult) Err() error {
	return failureErr(r.Failure)
}

// StatusResult is the outcome of a status poll
type StatusResult struct {
	State        models.PaymentStatus
	GatewayState string
	Failure      *models.GatewayFailure
	Payload      *models.GatewayPayload
}

// Err converts a failure into a GatewayError
func (r StatusResult) Err() error {
	return failureErr(r.Failure)
}

// RefundResult is the outcome of a refund request
type RefundResult struct {
	RefundID string
	Status   string
	Failure  *models.GatewayFailure
	Payload  *models.GatewayPayload
}

// Err converts a failure into a GatewayError
func (r RefundResult) Err() error {
	return failureErr(r.Failure)
}

// WebhookEvent is a parsed gateway notification
type WebhookEvent struct {
	Type      string
	IntentID  string
	BookingID string // from metadata, may be empty
	Status    models.PaymentStatus
	Handled   bool // false for event types the pipeline ignores
	Payload   *models.GatewayPayload
}

func failureErr(f *models.GatewayFailure) error {
	if f == nil {
		return nil
	}
	return &models.GatewayError{Kind: string(f.Kind), Message: f.Message}
}

// NewPaymentGatewayService creates a new gateway adapter
func NewPaymentGatewayService(cfg *config.GatewayConfig, frontendURL string, logger *logrus.Logger) *PaymentGatewayService {
	return &PaymentGatewayService{
		config:      cfg,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		now: time.Now,
	}
}

// OpenSession opens a payment session for the given method
func (s *PaymentGatewayService) OpenSession(ctx context.Context, params OpenSessionParams) SessionResult {
	switch params.Method {
	case models.PaymentMethodWalletRedirect:
		return s.openWalletSession(ctx, params)
	case models.PaymentMethodCard:
		return s.openCardSession(params)
	case models.PaymentMethodBankTransfer:
		return s.openBankTransferSession(params)
	default:
		failure := &models.GatewayFailure{
			Kind:    models.GatewayFailureUnsupportedMethod,
			Message: fmt.Sprintf("payment method %q is not supported", params.Method),
		}
		return SessionResult{Failure: failure, Payload: s.errorPayload(failure, nil)}
	}
}

func (s *PaymentGatewayService) openWalletSession(ctx context.Context, params OpenSessionParams) SessionResult {
	now := s.now()
	bookingID := params.BookingID.String()

	req := ZiinaIntentRequest{
		Amount:            models.ToMinorUnits(params.Amount),
		CurrencyCode:      params.Currency,
		Message:           fmt.Sprintf("Payment for tour booking - Ref: %s", params.Reference),
		SuccessURL:        fmt.Sprintf("%s/payment-success?bookingId=%s&paymentIntentId={payment_intent_id}", s.frontendURL, bookingID),
		CancelURL:         fmt.Sprintf("%s/payment-cancelled?bookingId=%s", s.frontendURL, bookingID),
		FailureURL:        fmt.Sprintf("%s/payment-failed?bookingId=%s", s.frontendURL, bookingID),
		Test:              s.config.TestMode,
		TransactionSource: "directApi",
		Expiry:            strconv.FormatInt(now.Add(s.config.SessionExpiry).UnixMilli(), 10),
		AllowTips:         false,
		Metadata: map[string]string{
			"bookingId": bookingID,
			"userId":    params.UserID.String(),
			"reference": params.Reference,
		},
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"reference":  params.Reference,
		"amount":     req.Amount,
		"currency":   req.CurrencyCode,
	}).Info("Opening wallet payment intent")

	body, status, failure := s.do(ctx, http.MethodPost, "/payment_intent", req)
	if failure != nil {
		return SessionResult{Failure: failure, Payload: s.errorPayload(failure, body)}
	}

	var intent ZiinaIntentResponse
	if err := json.Unmarshal(body, &intent); err != nil {
		failure := &models.GatewayFailure{
			Kind:       models.GatewayFailureContractViolation,
			HTTPStatus: status,
			Message:    "malformed payment intent response",
		}
		return SessionResult{Failure: failure, Payload: s.errorPayload(failure, body)}
	}

	if intent.RedirectURL == "" || intent.ID == "" {
		failure := &models.GatewayFailure{
			Kind:       models.GatewayFailureContractViolation,
			HTTPStatus: status,
			Message:    "no redirect URL received from payment gateway",
		}
		return SessionResult{Failure: failure, Payload: s.errorPayload(failure, body)}
	}

	expiresAt := now.Add(s.config.SessionExpiry)
	return SessionResult{
		Session: &models.PaymentSession{
			PaymentIntentID: intent.ID,
			RedirectURL:     intent.RedirectURL,
			Gateway:         GatewayWallet,
			Method:          models.PaymentMethodWalletRedirect,
			ExpiresAt:       &expiresAt,
		},
		Payload: &models.GatewayPayload{
			Kind:        models.GatewayPayloadWalletIntent,
			IntentID:    intent.ID,
			State:       intent.Status,
			RedirectURL: intent.RedirectURL,
			Raw:         models.RawJSON(body),
			ReceivedAt:  now,
		},
	}
}

// openCardSession creates a hosted card page session
func (s *PaymentGatewayService) openCardSession(params OpenSessionParams) SessionResult {
	now := s.now()
	intentID := fmt.Sprintf("card_%d_%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	redirect := fmt.Sprintf("%s/card-payment?bookingId=%s", s.frontendURL, params.BookingID)

	return SessionResult{
		Session: &models.PaymentSession{
			PaymentIntentID: intentID,
			RedirectURL:     redirect,
			Gateway:         GatewayCard,
			Method:          models.PaymentMethodCard,
		},
		Payload: &models.GatewayPayload{
			Kind:        models.GatewayPayloadCardSession,
			IntentID:    intentID,
			RedirectURL: redirect,
			ReceivedAt:  now,
		},
	}
}

// openBankTransferSession issues a transfer reference and instructions
func (s *PaymentGatewayService) openBankTransferSession(params OpenSessionParams) SessionResult {
	now := s.now()
	transferRef := fmt.Sprintf("BANK-%s-%d", params.Reference, now.UnixMilli())
	due := now.Add(s.config.Bank.DueIn)

	details := &models.BankTransferDetails{
		BankName:      s.config.Bank.BankName,
		AccountName:   s.config.Bank.AccountName,
		AccountNumber: s.config.Bank.AccountNumber,
		IBAN:          s.config.Bank.IBAN,
		SwiftCode:     s.config.Bank.SwiftCode,
		Reference:     transferRef,
		Amount:        models.RoundMoney(params.Amount),
		Currency:      params.Currency,
		DueDate:       due,
	}

	return SessionResult{
		Session: &models.PaymentSession{
			PaymentIntentID: transferRef,
			Gateway:         GatewayBank,
			Method:          models.PaymentMethodBankTransfer,
			ExpiresAt:       &due,
			Instructions:    details,
		},
		Payload: &models.GatewayPayload{
			Kind:       models.GatewayPayloadBankTransfer,
			IntentID:   transferRef,
			Bank:       details,
			ReceivedAt: now,
		},
	}
}

// VerifyStatus asks the gateway for the current state of a session.
// Card and bank transfer sessions have no remote state and stay pending
// until confirmed by an operator or webhook.
func (s *PaymentGatewayService) VerifyStatus(ctx context.Context, method models.PaymentMethod, intentID string) StatusResult {
	if method != models.PaymentMethodWalletRedirect {
		return StatusResult{
			State:   models.PaymentStatusPending,
			Payload: &models.GatewayPayload{Kind: models.GatewayPayloadStatusCheck, IntentID: intentID, State: "manual", ReceivedAt: s.now()},
		}
	}

	body, status, failure := s.do(ctx, http.MethodGet, "/payment_intent/"+url.PathEscape(intentID), nil)
	if failure != nil {
		return StatusResult{State: models.PaymentStatusPending, Failure: failure, Payload: s.errorPayload(failure, body)}
	}

	var intent ZiinaIntentResponse
	if err := json.Unmarshal(body, &intent); err != nil {
		failure := &models.GatewayFailure{
			Kind:       models.GatewayFailureContractViolation,
			HTTPStatus: status,
			Message:    "malformed payment intent response",
		}
		return StatusResult{State: models.PaymentStatusPending, Failure: failure, Payload: s.errorPayload(failure, body)}
	}

	return StatusResult{
		State:        MapGatewayState(intent.Status),
		GatewayState: intent.Status,
		Payload: &models.GatewayPayload{
			Kind:       models.GatewayPayloadStatusCheck,
			IntentID:   intentID,
			State:      intent.Status,
			Raw:        models.RawJSON(body),
			ReceivedAt: s.now(),
		},
	}
}

// MapGatewayState maps a wallet intent status to a payment status
func MapGatewayState(state string) models.PaymentStatus {
	switch strings.ToLower(state) {
	case "completed", "succeeded":
		return models.PaymentStatusPaid
	case "failed":
		return models.PaymentStatusFailed
	case "canceled", "cancelled":
		return models.PaymentStatusCancelled
	default:
		return models.PaymentStatusPending
	}
}

// Refund refunds a captured wallet payment
func (s *PaymentGatewayService) Refund(ctx context.Context, method models.PaymentMethod, intentID string, amount float64) RefundResult {
	if method != models.PaymentMethodWalletRedirect {
		failure := &models.GatewayFailure{
			Kind:    models.GatewayFailureUnsupportedMethod,
			Message: fmt.Sprintf("refunds for %s payments are handled manually", method),
		}
		return RefundResult{Failure: failure, Payload: s.errorPayload(failure, nil)}
	}

	req := ZiinaRefundRequest{PaymentIntent: intentID}
	if amount > 0 {
		req.Amount = models.ToMinorUnits(amount)
	}

	body, status, failure := s.do(ctx, http.MethodPost, "/refunds", req)
	if failure != nil {
		return RefundResult{Failure: failure, Payload: s.errorPayload(failure, body)}
	}

	var refund ZiinaRefundResponse
	if err := json.Unmarshal(body, &refund); err != nil {
		failure := &models.GatewayFailure{
			Kind:       models.GatewayFailureContractViolation,
			HTTPStatus: status,
			Message:    "malformed refund response",
		}
		return RefundResult{Failure: failure, Payload: s.errorPayload(failure, body)}
	}

	return RefundResult{
		RefundID: refund.ID,
		Status:   refund.Status,
		Payload: &models.GatewayPayload{
			Kind:       models.GatewayPayloadRefund,
			IntentID:   intentID,
			State:      refund.Status,
			Raw:        models.RawJSON(body),
			ReceivedAt: s.now(),
		},
	}
}

// ParseWebhookEvent decodes a gateway notification
func (s *PaymentGatewayService) ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var env ZiinaWebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, models.NewValidationError("body", "invalid webhook payload")
	}
	if env.Type == "" {
		return nil, models.NewValidationError("type", "webhook event type is required")
	}

	event := &WebhookEvent{
		Type:      env.Type,
		IntentID:  env.Data.Object.ID,
		BookingID: env.Data.Object.Metadata["bookingId"],
		Handled:   true,
		Payload: &models.GatewayPayload{
			Kind:       models.GatewayPayloadWebhook,
			IntentID:   env.Data.Object.ID,
			EventType:  env.Type,
			State:      env.Data.Object.Status,
			Raw:        models.RawJSON(body),
			ReceivedAt: s.now(),
		},
	}

	switch env.Type {
	case WebhookPaymentSucceeded:
		event.Status = models.PaymentStatusPaid
	case WebhookPaymentFailed:
		event.Status = models.PaymentStatusFailed
	case WebhookPaymentCanceled:
		event.Status = models.PaymentStatusCancelled
	default:
		event.Handled = false
	}

	if event.Handled && event.IntentID == "" {
		return nil, models.NewValidationError("data.object.id", "payment intent id is required")
	}
	return event, nil
}

// do sends a JSON request and classifies the failure modes
func (s *PaymentGatewayService) do(ctx context.Context, method, path string, payload interface{}) ([]byte, int, *models.GatewayFailure) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, &models.GatewayFailure{Kind: models.GatewayFailureContractViolation, Message: fmt.Sprintf("failed to marshal request: %v", err)}
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.config.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, 0, &models.GatewayFailure{Kind: models.GatewayFailureTransport, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		msg := fmt.Sprintf("payment gateway unavailable: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "payment gateway timed out"
		}
		s.logger.WithError(err).WithField("path", path).Error("Payment gateway request failed")
		return nil, 0, &models.GatewayFailure{Kind: models.GatewayFailureTransport, Message: msg}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &models.GatewayFailure{Kind: models.GatewayFailureTransport, HTTPStatus: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	s.logger.WithFields(logrus.Fields{
		"path":        path,
		"status_code": resp.StatusCode,
	}).Debug("Payment gateway response")

	if resp.StatusCode >= 500 {
		return body, resp.StatusCode, &models.GatewayFailure{
			Kind:       models.GatewayFailureTransport,
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("payment gateway returned status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode >= 400 {
		return body, resp.StatusCode, &models.GatewayFailure{
			Kind:       models.GatewayFailureRejected,
			HTTPStatus: resp.StatusCode,
			Message:    gatewayMessage(body, resp.StatusCode),
		}
	}
	return body, resp.StatusCode, nil
}

func (s *PaymentGatewayService) errorPayload(failure *models.GatewayFailure, body []byte) *models.GatewayPayload {
	return &models.GatewayPayload{
		Kind:       models.GatewayPayloadError,
		Failure:    failure,
		Raw:        models.RawJSON(body),
		ReceivedAt: s.now(),
	}
}

func gatewayMessage(body []byte, status int) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return fmt.Sprintf("payment gateway rejected the request (status %d)", status)
}
