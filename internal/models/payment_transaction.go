package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a custom type for handling free-form JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
// Returns JSON as string for compatibility with pgx simple protocol mode
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	return unmarshalJSONColumn(value, j)
}

// TransactionSource identifies what created or last updated a transaction
type TransactionSource string

const (
	TransactionSourceCheckout TransactionSource = "checkout"
	TransactionSourceWebhook  TransactionSource = "webhook"
	TransactionSourceClient   TransactionSource = "client_confirmation"
	TransactionSourcePoll     TransactionSource = "status_poll"
	TransactionSourceOperator TransactionSource = "operator"
)

// PaymentTransaction is one payment attempt against the gateway
type PaymentTransaction struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	BookingID       uuid.UUID         `json:"booking_id" db:"booking_id"`
	PaymentIntentID string            `json:"payment_intent_id" db:"payment_intent_id"`
	Gateway         string            `json:"gateway" db:"gateway"`
	Method          PaymentMethod     `json:"payment_method" db:"payment_method"`
	Amount          float64           `json:"amount" db:"amount"`
	Currency        string            `json:"currency" db:"currency"`
	Status          PaymentStatus     `json:"status" db:"status"`
	Source          TransactionSource `json:"source" db:"source"`
	RawResponse     *GatewayPayload   `json:"-" db:"raw_response"`
	Metadata        JSONB             `json:"metadata,omitempty" db:"metadata"`
	ErrorMessage    *string           `json:"error_message,omitempty" db:"error_message"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// NewPaymentTransaction creates a pending transaction for a booking session
func NewPaymentTransaction(booking *Booking, session *PaymentSession) *PaymentTransaction {
	return &PaymentTransaction{
		ID:              uuid.New(),
		BookingID:       booking.ID,
		PaymentIntentID: session.PaymentIntentID,
		Gateway:         session.Gateway,
		Method:          session.Method,
		Amount:          booking.TotalGross,
		Currency:        booking.Currency,
		Status:          PaymentStatusPending,
		Source:          TransactionSourceCheckout,
		Metadata:        JSONB{},
	}
}

// SetRawResponse attaches the gateway payload
func (t *PaymentTransaction) SetRawResponse(p *GatewayPayload) *PaymentTransaction {
	t.RawResponse = p
	return t
}

// SetError records an error message
func (t *PaymentTransaction) SetError(msg string) *PaymentTransaction {
	t.ErrorMessage = &msg
	return t
}

// SetRequestMeta records who initiated the attempt
func (t *PaymentTransaction) SetRequestMeta(meta RequestMeta) *PaymentTransaction {
	if t.Metadata == nil {
		t.Metadata = JSONB{}
	}
	if meta.IPAddress != "" {
		t.Metadata["ip_address"] = meta.IPAddress
	}
	if meta.RequestID != "" {
		t.Metadata["request_id"] = meta.RequestID
	}
	if meta.Device != nil {
		t.Metadata["device"] = meta.Device
	}
	return t
}

// RequestMeta describes the HTTP request behind a pipeline call
type RequestMeta struct {
	IPAddress string
	RequestID string
	Device    map[string]interface{}
}
