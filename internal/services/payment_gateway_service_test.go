package services

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourlink/booking-backend/internal/config"
	"github.com/tourlink/booking-backend/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *PaymentGatewayService {
	t.Helper()
	baseURL := "http://127.0.0.1:1"
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		baseURL = srv.URL
	}

	cfg := &config.GatewayConfig{
		BaseURL:       baseURL,
		Token:         "gw-token",
		TestMode:      true,
		Timeout:       200 * time.Millisecond,
		SessionExpiry: 15 * time.Minute,
		Bank: config.BankDetails{
			BankName:    "Example Bank",
			AccountName: "Tour Company LLC",
			IBAN:        "AE070331234567890123456",
			DueIn:       24 * time.Hour,
		},
	}
	gw := NewPaymentGatewayService(cfg, "https://tours.example.com/", testLogger())
	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	gw.now = func() time.Time { return fixed }
	return gw
}

func sessionParams(method models.PaymentMethod) OpenSessionParams {
	return OpenSessionParams{
		BookingID: uuid.MustParse("8c3f1d8e-0d59-4a8e-9a3b-2f4b4f7f6b11"),
		UserID:    uuid.MustParse("0b0e8f4e-1a0c-4d1e-8f7a-8d3c5b7a9e22"),
		Reference: "REF-1",
		Amount:    300,
		Currency:  "AED",
		Method:    method,
	}
}

func TestOpenSession_Wallet_Success(t *testing.T) {
	var got ZiinaIntentRequest
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment_intent", r.URL.Path)
		assert.Equal(t, "Bearer gw-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","status":"requires_payment_instrument","redirect_url":"https://pay.example/pi_123"}`))
	})

	res := gw.OpenSession(t.Context(), sessionParams(models.PaymentMethodWalletRedirect))
	require.Nil(t, res.Failure)
	require.NoError(t, res.Err())
	require.NotNil(t, res.Session)

	assert.Equal(t, "pi_123", res.Session.PaymentIntentID)
	assert.Equal(t, "https://pay.example/pi_123", res.Session.RedirectURL)
	assert.Equal(t, GatewayWallet, res.Session.Gateway)
	assert.Equal(t, models.GatewayPayloadWalletIntent, res.Payload.Kind)

	assert.Equal(t, int64(30000), got.Amount)
	assert.Equal(t, "AED", got.CurrencyCode)
	assert.True(t, got.Test)
	assert.Equal(t, "https://tours.example.com/payment-success?bookingId=8c3f1d8e-0d59-4a8e-9a3b-2f4b4f7f6b11&paymentIntentId={payment_intent_id}", got.SuccessURL)
	assert.Contains(t, got.CancelURL, "/payment-cancelled?bookingId=8c3f1d8e")
	assert.Equal(t, "REF-1", got.Metadata["reference"])
	assert.Equal(t, "1790856900000", got.Expiry)
}

func TestOpenSession_Wallet_MissingRedirect(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pi_123","status":"requires_payment_instrument"}`))
	})

	res := gw.OpenSession(t.Context(), sessionParams(models.PaymentMethodWalletRedirect))
	require.NotNil(t, res.Failure)
	assert.Nil(t, res.Session)
	assert.Equal(t, models.GatewayFailureContractViolation, res.Failure.Kind)
	assert.Equal(t, models.GatewayPayloadError, res.Payload.Kind)
	assert.Equal(t, "PAYMENT_GATEWAY_CONTRACT_VIOLATION", models.ErrorCode(res.Err()))
}

func TestOpenSession_Wallet_Rejected(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"amount below minimum"}`))
	})

	res := gw.OpenSession(t.Context(), sessionParams(models.PaymentMethodWalletRedirect))
	require.NotNil(t, res.Failure)
	assert.Equal(t, models.GatewayFailureRejected, res.Failure.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Failure.HTTPStatus)
	assert.Equal(t, "amount below minimum", res.Failure.Message)
}

func TestOpenSession_Wallet_Timeout(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	res := gw.OpenSession(t.Context(), sessionParams(models.PaymentMethodWalletRedirect))
	require.NotNil(t, res.Failure)
	assert.Equal(t, models.GatewayFailureTransport, res.Failure.Kind)
}

func TestOpenSession_Wallet_ServerError(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	res := gw.OpenSession(t.Context(), sessionParams(models.PaymentMethodWalletRedirect))
	require.NotNil(t, res.Failure)
	assert.Equal(t, models.GatewayFailureTransport, res.Failure.Kind)
	assert.Equal(t, http.StatusBadGateway, res.Failure.HTTPStatus)
}

func TestOpenSession_Card(t *testing.T) {
	gw := newTestGateway(t, nil)

	res := gw.OpenSession(t.Context(), sessionParams(models.PaymentMethodCard))
	require.NoError(t, res.Err())
	assert.Regexp(t, `^card_1790856000000_[0-9a-f]{12}$`, res.Session.PaymentIntentID)

	again := gw.OpenSession(t.Context(), OpenSessionParams{BookingID: uuid.New(), Method: models.PaymentMethodCard})
	assert.NotEqual(t, res.Session.PaymentIntentID, again.Session.PaymentIntentID)
	assert.Equal(t, "https://tours.example.com/card-payment?bookingId=8c3f1d8e-0d59-4a8e-9a3b-2f4b4f7f6b11", res.Session.RedirectURL)
	assert.Equal(t, GatewayCard, res.Session.Gateway)
}

func TestOpenSession_BankTransfer(t *testing.T) {
	gw := newTestGateway(t, nil)

	res := gw.OpenSession(t.Context(), sessionParams(models.PaymentMethodBankTransfer))
	require.NoError(t, res.Err())
	assert.Equal(t, "BANK-REF-1-1790856000000", res.Session.PaymentIntentID)
	require.NotNil(t, res.Session.Instructions)
	assert.Equal(t, "Example Bank", res.Session.Instructions.BankName)
	assert.Equal(t, 300.0, res.Session.Instructions.Amount)
	assert.Equal(t, time.Date(2026, 10, 2, 12, 0, 0, 0, time.UTC), res.Session.Instructions.DueDate)
	assert.Empty(t, res.Session.RedirectURL)
}

func TestOpenSession_UnsupportedMethod(t *testing.T) {
	gw := newTestGateway(t, nil)

	res := gw.OpenSession(t.Context(), sessionParams("cash"))
	require.NotNil(t, res.Failure)
	assert.Equal(t, models.GatewayFailureUnsupportedMethod, res.Failure.Kind)
}

func TestVerifyStatus_Wallet(t *testing.T) {
	tests := []struct {
		gatewayState string
		want         models.PaymentStatus
	}{
		{"completed", models.PaymentStatusPaid},
		{"succeeded", models.PaymentStatusPaid},
		{"failed", models.PaymentStatusFailed},
		{"canceled", models.PaymentStatusCancelled},
		{"pending", models.PaymentStatusPending},
		{"requires_user_action", models.PaymentStatusPending},
	}

	for _, tc := range tests {
		t.Run(tc.gatewayState, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/payment_intent/pi_123", r.URL.Path)
				_, _ = w.Write([]byte(`{"id":"pi_123","status":"` + tc.gatewayState + `"}`))
			})

			res := gw.VerifyStatus(t.Context(), models.PaymentMethodWalletRedirect, "pi_123")
			require.NoError(t, res.Err())
			assert.Equal(t, tc.want, res.State)
			assert.Equal(t, tc.gatewayState, res.GatewayState)
		})
	}
}

func TestVerifyStatus_ManualMethodsStayPending(t *testing.T) {
	gw := newTestGateway(t, nil)

	res := gw.VerifyStatus(t.Context(), models.PaymentMethodBankTransfer, "BANK-REF-1-1")
	require.NoError(t, res.Err())
	assert.Equal(t, models.PaymentStatusPending, res.State)
}

func TestRefund(t *testing.T) {
	var got ZiinaRefundRequest
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"rf_1","status":"pending"}`))
	})

	res := gw.Refund(t.Context(), models.PaymentMethodWalletRedirect, "pi_123", 300)
	require.NoError(t, res.Err())
	assert.Equal(t, "rf_1", res.RefundID)
	assert.Equal(t, "pi_123", got.PaymentIntent)
	assert.Equal(t, int64(30000), got.Amount)

	manual := gw.Refund(t.Context(), models.PaymentMethodCard, "card_1", 300)
	require.NotNil(t, manual.Failure)
	assert.Equal(t, models.GatewayFailureUnsupportedMethod, manual.Failure.Kind)
}

func TestParseWebhookEvent(t *testing.T) {
	gw := newTestGateway(t, nil)

	event, err := gw.ParseWebhookEvent([]byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","status":"completed","metadata":{"bookingId":"b-1"}}}}`))
	require.NoError(t, err)
	assert.True(t, event.Handled)
	assert.Equal(t, models.PaymentStatusPaid, event.Status)
	assert.Equal(t, "pi_123", event.IntentID)
	assert.Equal(t, "b-1", event.BookingID)
	assert.Equal(t, models.GatewayPayloadWebhook, event.Payload.Kind)

	event, err = gw.ParseWebhookEvent([]byte(`{"type":"payment_intent.canceled","data":{"object":{"id":"pi_9"}}}`))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, event.Status)

	event, err = gw.ParseWebhookEvent([]byte(`{"type":"refund.created","data":{"object":{"id":"rf_1"}}}`))
	require.NoError(t, err)
	assert.False(t, event.Handled)

	_, err = gw.ParseWebhookEvent([]byte(`not json`))
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	_, err = gw.ParseWebhookEvent([]byte(`{"type":"payment_intent.succeeded","data":{"object":{}}}`))
	assert.Error(t, err)
}
