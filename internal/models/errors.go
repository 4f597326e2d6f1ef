package models

import (
	"errors"
	"fmt"
	"strings"
)

// Stable error codes returned to API callers
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeConflict            = "CONFLICT"
	CodeAlreadyCompleted    = "BOOKING_ALREADY_COMPLETED"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeInvalidTransition   = "INVALID_STATE_TRANSITION"
	CodePriceMismatch       = "PRICE_MISMATCH"
	CodePaymentNotCompleted = "PAYMENT_NOT_COMPLETED"
)

// CodedError is implemented by every error that carries a stable code
type CodedError interface {
	error
	Code() string
}

// ValidationError is returned for malformed input, before anything is persisted
type ValidationError struct {
	Field   string
	Message string
	code    string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Code() string {
	if e.code != "" {
		return e.code
	}
	return CodeValidation
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewPriceMismatchError reports a client total that disagrees with the computed one
func NewPriceMismatchError(expected, got float64) *ValidationError {
	return &ValidationError{
		Field:   "totalGross",
		Message: fmt.Sprintf("expected %.2f, got %.2f", expected, got),
		code:    CodePriceMismatch,
	}
}

// AlreadyCompletedError means the reference belongs to a paid or confirmed booking
type AlreadyCompletedError struct {
	Reference string
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("booking %s is already paid or confirmed", e.Reference)
}

func (e *AlreadyCompletedError) Code() string { return CodeAlreadyCompleted }

// ConflictError is a generic state conflict
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }
func (e *ConflictError) Code() string  { return CodeConflict }

// NotFoundError is returned when an entity does not exist
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Code() string { return CodeNotFound }

// ForbiddenError is returned when the caller does not own the booking
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }
func (e *ForbiddenError) Code() string  { return CodeForbidden }

// InvalidTransitionError means a guarded update matched no row
type InvalidTransitionError struct {
	BookingID string
	From      BookingState
	To        BookingState
}

func (e *InvalidTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("booking %s cannot move to %s", e.BookingID, e.To)
	}
	return fmt.Sprintf("booking %s cannot move from %s to %s", e.BookingID, e.From, e.To)
}

func (e *InvalidTransitionError) Code() string { return CodeInvalidTransition }

// GatewayError surfaces a payment gateway failure to the caller
type GatewayError struct {
	Kind    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Code() string { return "PAYMENT_GATEWAY_" + upper(e.Kind) }

// SupplierError surfaces a supplier failure to the caller
type SupplierError struct {
	Kind    string
	Message string
}

func (e *SupplierError) Error() string {
	return fmt.Sprintf("supplier %s: %s", e.Kind, e.Message)
}

func (e *SupplierError) Code() string { return "SUPPLIER_" + upper(e.Kind) }

// PaymentNotCompletedError is returned when the gateway has not captured the payment
type PaymentNotCompletedError struct {
	State string
}

func (e *PaymentNotCompletedError) Error() string {
	return fmt.Sprintf("payment not completed (gateway state: %s)", e.State)
}

func (e *PaymentNotCompletedError) Code() string { return CodePaymentNotCompleted }

// ErrorCode extracts the stable code of err, or "" if it has none
func ErrorCode(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}

func upper(s string) string {
	return strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToUpper(s))
}
