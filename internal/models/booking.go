package models

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tourlink/booking-backend/pkg/validator"
)

var contactValidator = validator.NewContactValidator()

// ============================================================================
// PASSENGERS & TOUR ITEMS (JSONB columns)
// ============================================================================

// PaxType is the passenger age band used by the supplier
type PaxType string

const (
	PaxAdult  PaxType = "Adult"
	PaxChild  PaxType = "Child"
	PaxInfant PaxType = "Infant"
)

// Passenger is one traveller on a booking
type Passenger struct {
	ServiceType       string  `json:"serviceType,omitempty"`
	Prefix            string  `json:"prefix"`
	FirstName         string  `json:"firstName"`
	LastName          string  `json:"lastName"`
	Email             string  `json:"email"`
	Mobile            string  `json:"mobile"`
	Nationality       string  `json:"nationality"`
	Message           string  `json:"message,omitempty"`
	LeadPassenger     bool    `json:"leadPassenger"`
	PaxType           PaxType `json:"paxType"`
	ClientReferenceNo string  `json:"clientReferenceNo,omitempty"`
}

// FullName returns "Prefix First Last"
func (p Passenger) FullName() string {
	if p.Prefix == "" {
		return p.FirstName + " " + p.LastName
	}
	return fmt.Sprintf("%s %s %s", p.Prefix, p.FirstName, p.LastName)
}

// TourItem is one tour option line on a booking
type TourItem struct {
	ServiceUniqueID int     `json:"serviceUniqueId"`
	TourID          int     `json:"tourId"`
	OptionID        int     `json:"optionId"`
	TourDate        string  `json:"tourDate"` // YYYY-MM-DD
	TimeSlotID      *int    `json:"timeSlotId,omitempty"`
	StartTime       string  `json:"startTime,omitempty"`
	TransferID      int     `json:"transferId"`
	Pickup          string  `json:"pickup,omitempty"`
	Adult           int     `json:"adult"`
	Child           int     `json:"child"`
	Infant          int     `json:"infant"`
	AdultRate       float64 `json:"adultRate"`
	ChildRate       float64 `json:"childRate"`
	ServiceTotal    float64 `json:"serviceTotal"` // net line total
	Markup          float64 `json:"markup"`
	GrossTotal      float64 `json:"grossTotal"`
}

// NetTotal is the supplier cost of the line (infants travel free)
func (t TourItem) NetTotal() float64 {
	return RoundMoney(float64(t.Adult)*t.AdultRate + float64(t.Child)*t.ChildRate)
}

// ProductID is the key markup rules are scoped by
func (t TourItem) ProductID() string {
	return fmt.Sprintf("%d", t.TourID)
}

// PassengerList is stored as a JSONB array
type PassengerList []Passenger

// Value implements the driver.Valuer interface
func (l PassengerList) Value() (driver.Value, error) {
	return marshalJSONColumn(l)
}

// Scan implements the sql.Scanner interface
func (l *PassengerList) Scan(value interface{}) error {
	return unmarshalJSONColumn(value, l)
}

// Lead returns the lead passenger
func (l PassengerList) Lead() (Passenger, bool) {
	for _, p := range l {
		if p.LeadPassenger {
			return p, true
		}
	}
	return Passenger{}, false
}

// TourItemList is stored as a JSONB array
type TourItemList []TourItem

// Value implements the driver.Valuer interface
func (l TourItemList) Value() (driver.Value, error) {
	return marshalJSONColumn(l)
}

// Scan implements the sql.Scanner interface
func (l *TourItemList) Scan(value interface{}) error {
	return unmarshalJSONColumn(value, l)
}

// ============================================================================
// BOOKING
// ============================================================================

// Booking is the lifecycle record of a tour booking
type Booking struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Reference         string     `json:"reference" db:"reference"`
	ClientReferenceNo string     `json:"client_reference_no" db:"client_reference_no"`
	UserID            uuid.UUID  `json:"user_id" db:"user_id"`
	B2BAccountID      *uuid.UUID `json:"b2b_account_id,omitempty" db:"b2b_account_id"`

	TotalNet    float64 `json:"total_net" db:"total_net"`
	TotalMarkup float64 `json:"total_markup" db:"total_markup"`
	TotalGross  float64 `json:"total_gross" db:"total_gross"`
	Currency    string  `json:"currency" db:"currency"`

	State  BookingState  `json:"state" db:"state"`
	Status BookingStatus `json:"status" db:"status"`

	PaymentMethod   PaymentMethod `json:"payment_method" db:"payment_method"`
	PaymentIntentID *string       `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	PaymentGateway  *string       `json:"payment_gateway,omitempty" db:"payment_gateway"`
	PaymentStatus   PaymentStatus `json:"payment_status" db:"payment_status"`
	PaidAt          *time.Time    `json:"paid_at,omitempty" db:"paid_at"`

	SupplierBookingID   *string             `json:"supplier_booking_id,omitempty" db:"supplier_booking_id"`
	SupplierStatus      SupplierStatus      `json:"supplier_status" db:"supplier_status"`
	SupplierResponse    *SupplierPayload    `json:"-" db:"supplier_response"`
	SupplierFailureKind SupplierFailureKind `json:"supplier_failure_kind,omitempty" db:"supplier_failure_kind"`
	SupplierAttempts    int                 `json:"supplier_attempts" db:"supplier_attempts"`
	SyncedAt            *time.Time          `json:"synced_at,omitempty" db:"synced_at"`

	Passengers PassengerList `json:"passengers" db:"passengers"`
	TourItems  TourItemList  `json:"tour_items" db:"tour_items"`

	CancellationReason *string    `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsCompleted reports whether the reference is frozen.
// A booking that was ever paid keeps its reference even after cancellation.
func (b *Booking) IsCompleted() bool {
	return b.PaymentStatus == PaymentStatusPaid ||
		b.PaymentStatus == PaymentStatusRefunded ||
		b.Status == BookingStatusConfirmed ||
		b.PaidAt != nil
}

// NeedsCompensation is true when money was captured but the supplier rejected the booking
func (b *Booking) NeedsCompensation() bool {
	return b.PaymentStatus == PaymentStatusPaid &&
		b.SupplierStatus == SupplierStatusFailed &&
		b.SupplierFailureKind == SupplierFailureBusiness
}

// IsOwnedBy checks booking ownership
func (b *Booking) IsOwnedBy(userID uuid.UUID) bool {
	return b.UserID == userID
}

// PaxCounts sums the passenger counts of all tour items
func (b *Booking) PaxCounts() (adult, child, infant int) {
	for _, t := range b.TourItems {
		adult += t.Adult
		child += t.Child
		infant += t.Infant
	}
	return
}

// ============================================================================
// REQUEST / RESPONSE DTOs
// ============================================================================

// CreateBookingRequest is the body of POST /bookings/create-with-payment
type CreateBookingRequest struct {
	Reference         string        `json:"reference,omitempty"`
	ClientReferenceNo string        `json:"clientReferenceNo"`
	PaymentMethod     PaymentMethod `json:"paymentMethod"`
	Currency          string        `json:"currency,omitempty"`
	TotalGross        float64       `json:"totalGross"`
	Passengers        []Passenger   `json:"passengers"`
	TourItems         []TourItem    `json:"tourDetails"`
}

const maxPassengersPerBooking = 50

// Validate performs structural validation of the booking payload
func (r *CreateBookingRequest) Validate() error {
	if !r.PaymentMethod.IsValid() {
		return NewValidationError("paymentMethod", "must be wallet-redirect, card or bank-transfer")
	}
	if len(r.TourItems) == 0 {
		return NewValidationError("tourDetails", "at least one tour item is required")
	}
	if len(r.Passengers) == 0 {
		return NewValidationError("passengers", "at least one passenger is required")
	}
	if len(r.Passengers) > maxPassengersPerBooking {
		return NewValidationError("passengers", fmt.Sprintf("maximum %d passengers per booking", maxPassengersPerBooking))
	}
	if r.TotalGross < 0 {
		return NewValidationError("totalGross", "must not be negative")
	}

	var wantAdult, wantChild, wantInfant int
	for i, t := range r.TourItems {
		field := fmt.Sprintf("tourDetails[%d]", i)
		if t.TourID <= 0 || t.OptionID <= 0 {
			return NewValidationError(field, "tourId and optionId must be positive integers")
		}
		if t.ServiceUniqueID <= 0 || t.ServiceUniqueID > 999999 {
			return NewValidationError(field+".serviceUniqueId", "must be a 6-digit integer")
		}
		if _, err := time.Parse("2006-01-02", t.TourDate); err != nil {
			return NewValidationError(field+".tourDate", "must be a YYYY-MM-DD date")
		}
		if t.Adult < 0 || t.Child < 0 || t.Infant < 0 {
			return NewValidationError(field, "pax counts must not be negative")
		}
		if t.Adult+t.Child+t.Infant == 0 {
			return NewValidationError(field, "at least one traveller is required")
		}
		if t.AdultRate < 0 || t.ChildRate < 0 {
			return NewValidationError(field, "rates must not be negative")
		}
		wantAdult = max(wantAdult, t.Adult)
		wantChild = max(wantChild, t.Child)
		wantInfant = max(wantInfant, t.Infant)
	}

	leads := 0
	var gotAdult, gotChild, gotInfant int
	for i, p := range r.Passengers {
		if err := p.validate(fmt.Sprintf("passengers[%d]", i)); err != nil {
			return err
		}
		if p.LeadPassenger {
			leads++
		}
		switch p.PaxType {
		case PaxAdult:
			gotAdult++
		case PaxChild:
			gotChild++
		case PaxInfant:
			gotInfant++
		}
	}
	if leads != 1 {
		return NewValidationError("passengers", "exactly one lead passenger is required")
	}
	if gotAdult != wantAdult || gotChild != wantChild || gotInfant != wantInfant {
		return NewValidationError("passengers", fmt.Sprintf(
			"passenger count mismatch: expected %d adult/%d child/%d infant, got %d/%d/%d",
			wantAdult, wantChild, wantInfant, gotAdult, gotChild, gotInfant))
	}
	return nil
}

func (p Passenger) validate(field string) error {
	switch p.Prefix {
	case "Mr.", "Ms.", "Mrs.":
	default:
		return NewValidationError(field+".prefix", "must be Mr., Ms. or Mrs.")
	}
	if p.FirstName == "" || p.LastName == "" {
		return NewValidationError(field, "first and last name are required")
	}
	switch p.PaxType {
	case PaxAdult, PaxChild, PaxInfant:
	default:
		return NewValidationError(field+".paxType", "must be Adult, Child or Infant")
	}
	if p.LeadPassenger && p.PaxType != PaxAdult {
		return NewValidationError(field, "lead passenger must be an adult")
	}
	if p.LeadPassenger || p.Email != "" {
		if !contactValidator.IsValidEmail(p.Email) {
			return NewValidationError(field+".email", "invalid email format")
		}
	}
	if p.LeadPassenger || p.Mobile != "" {
		if !contactValidator.IsValidMobile(p.Mobile) {
			return NewValidationError(field+".mobile", "invalid mobile number")
		}
	}
	if p.LeadPassenger && p.Nationality == "" {
		return NewValidationError(field+".nationality", "nationality is required for the lead passenger")
	}
	return nil
}

// PaymentSession is what the gateway adapter hands back for a booking
type PaymentSession struct {
	PaymentIntentID string                 `json:"payment_intent_id"`
	RedirectURL     string                 `json:"payment_redirect_url,omitempty"`
	Gateway         string                 `json:"gateway"`
	Method          PaymentMethod          `json:"payment_method"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
	Instructions    *BankTransferDetails   `json:"bank_transfer,omitempty"`
	Extra           map[string]interface{} `json:"-"`
}

// BankTransferDetails are shown to the customer for manual transfers
type BankTransferDetails struct {
	BankName      string    `json:"bank_name"`
	AccountName   string    `json:"account_name"`
	AccountNumber string    `json:"account_number"`
	IBAN          string    `json:"iban"`
	SwiftCode     string    `json:"swift_code"`
	Reference     string    `json:"reference"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	DueDate       time.Time `json:"due_date"`
}

// BookingSummary is the caller facing view of a booking
type BookingSummary struct {
	ID                uuid.UUID      `json:"id"`
	Reference         string         `json:"reference"`
	ClientReferenceNo string         `json:"client_reference_no"`
	State             BookingState   `json:"state"`
	Status            BookingStatus  `json:"status"`
	PaymentStatus     PaymentStatus  `json:"payment_status"`
	SupplierStatus    SupplierStatus `json:"supplier_status"`
	SupplierBookingID *string        `json:"supplier_booking_id,omitempty"`
	TotalNet          float64        `json:"total_net"`
	TotalMarkup       float64        `json:"total_markup"`
	TotalGross        float64        `json:"total_gross"`
	Currency          string         `json:"currency"`
	PaymentMethod     PaymentMethod  `json:"payment_method"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Summary builds the caller facing view
func (b *Booking) Summary() BookingSummary {
	return BookingSummary{
		ID:                b.ID,
		Reference:         b.Reference,
		ClientReferenceNo: b.ClientReferenceNo,
		State:             b.State,
		Status:            b.Status,
		PaymentStatus:     b.PaymentStatus,
		SupplierStatus:    b.SupplierStatus,
		SupplierBookingID: b.SupplierBookingID,
		TotalNet:          b.TotalNet,
		TotalMarkup:       b.TotalMarkup,
		TotalGross:        b.TotalGross,
		Currency:          b.Currency,
		PaymentMethod:     b.PaymentMethod,
		CreatedAt:         b.CreatedAt,
	}
}

// CreateBookingResponse is returned by POST /bookings/create-with-payment
type CreateBookingResponse struct {
	Booking            BookingSummary       `json:"booking"`
	Reused             bool                 `json:"reused"`
	PaymentIntentID    string               `json:"payment_intent_id"`
	PaymentRedirectURL string               `json:"payment_redirect_url,omitempty"`
	Gateway            string               `json:"gateway"`
	ExpiresAt          *time.Time           `json:"expires_at,omitempty"`
	BankTransfer       *BankTransferDetails `json:"bank_transfer,omitempty"`
}

// ConfirmPaymentRequest is the body of POST /bookings/confirm-payment
type ConfirmPaymentRequest struct {
	BookingID       string `json:"booking_id" binding:"required"`
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

// CancelBookingRequest is the optional body of POST /bookings/cancel/:id
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// VerifyPaymentResponse is returned by GET /bookings/verify-payment/:id
type VerifyPaymentResponse struct {
	Booking     BookingSummary       `json:"booking"`
	Transaction *PaymentTransaction  `json:"transaction,omitempty"`
	Attempts    []PaymentTransaction `json:"attempts"`
	GatewayPoll string               `json:"gateway_state,omitempty"`
}

// ConfirmationResult reports what a confirmation attempt did
type ConfirmationResult struct {
	Booking        BookingSummary `json:"booking"`
	Duplicate      bool           `json:"duplicate"`
	Submitted      bool           `json:"supplier_submitted"`
	RefundRequired bool           `json:"refund_required,omitempty"`
	Message        string         `json:"message"`
}

// TicketsResponse is returned by GET /bookings/tickets/:id
type TicketsResponse struct {
	Booking    BookingSummary   `json:"booking"`
	Tickets    []SupplierTicket `json:"tickets"`
	VoucherURL string           `json:"voucher_url,omitempty"`
}

// GenerateBookingReference generates a booking reference
// Format: TL-YYYYMMDD-XXXXXX
// Uniqueness is enforced by the bookings.reference constraint.
func GenerateBookingReference(now time.Time) (string, error) {
	randomBytes := make([]byte, 3)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("TL-%s-%s", now.Format("20060102"), strings.ToUpper(hex.EncodeToString(randomBytes))), nil
}

// ============================================================================
// JSON COLUMN HELPERS
// ============================================================================

// Returns JSON as string for compatibility with pgx simple protocol mode
func marshalJSONColumn(v interface{}) (driver.Value, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func unmarshalJSONColumn(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.New("unsupported type for JSON column")
	}
}
