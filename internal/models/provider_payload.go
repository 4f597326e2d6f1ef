package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ============================================================================
// SUPPLIER PAYLOADS
// ============================================================================

// SupplierPayloadKind tags the shape stored in SupplierPayload
type SupplierPayloadKind string

const (
	SupplierPayloadBooking      SupplierPayloadKind = "booking"
	SupplierPayloadCancellation SupplierPayloadKind = "cancellation"
	SupplierPayloadTickets      SupplierPayloadKind = "tickets"
	SupplierPayloadError        SupplierPayloadKind = "error"
)

// SupplierBookingResult is one entry of the supplier's booking result array
type SupplierBookingResult struct {
	BookingID       int64  `json:"bookingId"`
	ServiceUniqueID string `json:"serviceUniqueId,omitempty"`
	Status          string `json:"status,omitempty"`
	ConfirmationNo  string `json:"confirmationNo,omitempty"`
}

// SupplierTicket is one downloadable ticket returned by the supplier
type SupplierTicket struct {
	ServiceUniqueID string `json:"serviceUniqueId,omitempty"`
	TicketURL       string `json:"ticketURL,omitempty"`
	TicketPDFURL    string `json:"ticketPdfUrl,omitempty"`
	Status          string `json:"status,omitempty"`
}

// SupplierFailure captures a rejection or outage for diagnostics
type SupplierFailure struct {
	Kind       SupplierFailureKind `json:"kind"`
	HTTPStatus int                 `json:"http_status,omitempty"`
	StatusCode int                 `json:"status_code,omitempty"`
	Message    string              `json:"message"`
}

// SupplierPayload is the raw supplier response persisted on a booking.
// Exactly one of the typed fields is set according to Kind; Raw always keeps
// the body as received.
type SupplierPayload struct {
	Kind         SupplierPayloadKind     `json:"kind"`
	Bookings     []SupplierBookingResult `json:"bookings,omitempty"`
	Tickets      []SupplierTicket        `json:"tickets,omitempty"`
	Failure      *SupplierFailure        `json:"failure,omitempty"`
	Cancellation *string                 `json:"cancellation,omitempty"`
	Raw          json.RawMessage         `json:"raw,omitempty"`
	ReceivedAt   time.Time               `json:"received_at"`
}

// Value implements the driver.Valuer interface
func (p *SupplierPayload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return marshalJSONColumn(p)
}

// Scan implements the sql.Scanner interface
func (p *SupplierPayload) Scan(value interface{}) error {
	return unmarshalJSONColumn(value, p)
}

// ============================================================================
// GATEWAY PAYLOADS
// ============================================================================

// GatewayPayloadKind tags the shape stored in GatewayPayload
type GatewayPayloadKind string

const (
	GatewayPayloadWalletIntent GatewayPayloadKind = "wallet_intent"
	GatewayPayloadCardSession  GatewayPayloadKind = "card_session"
	GatewayPayloadBankTransfer GatewayPayloadKind = "bank_transfer"
	GatewayPayloadWebhook      GatewayPayloadKind = "webhook_event"
	GatewayPayloadStatusCheck  GatewayPayloadKind = "status_check"
	GatewayPayloadRefund       GatewayPayloadKind = "refund"
	GatewayPayloadError        GatewayPayloadKind = "error"
)

// GatewayFailureKind distinguishes the ways a gateway call can fail
type GatewayFailureKind string

const (
	GatewayFailureTransport         GatewayFailureKind = "transport"
	GatewayFailureRejected          GatewayFailureKind = "rejected"
	GatewayFailureContractViolation GatewayFailureKind = "contract_violation"
	GatewayFailureUnsupportedMethod GatewayFailureKind = "unsupported_method"
)

// GatewayFailure is a failed gateway interaction
type GatewayFailure struct {
	Kind       GatewayFailureKind `json:"kind"`
	HTTPStatus int                `json:"http_status,omitempty"`
	Message    string             `json:"message"`
}

// GatewayPayload is the raw gateway interaction persisted on a transaction
type GatewayPayload struct {
	Kind        GatewayPayloadKind   `json:"kind"`
	IntentID    string               `json:"intent_id,omitempty"`
	State       string               `json:"state,omitempty"`
	EventType   string               `json:"event_type,omitempty"`
	RedirectURL string               `json:"redirect_url,omitempty"`
	Bank        *BankTransferDetails `json:"bank,omitempty"`
	Failure     *GatewayFailure      `json:"failure,omitempty"`
	Raw         json.RawMessage      `json:"raw,omitempty"`
	ReceivedAt  time.Time            `json:"received_at"`
}

// Value implements the driver.Valuer interface
func (p *GatewayPayload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return marshalJSONColumn(p)
}

// Scan implements the sql.Scanner interface
func (p *GatewayPayload) Scan(value interface{}) error {
	return unmarshalJSONColumn(value, p)
}

// RawJSON returns body as a RawMessage when it is valid JSON, otherwise the
// body quoted as a JSON string.
func RawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

// SupplierOutcome is what the repository records after a supplier call
type SupplierOutcome struct {
	Status            SupplierStatus
	SupplierBookingID *string
	FailureKind       SupplierFailureKind
	Payload           *SupplierPayload
}
