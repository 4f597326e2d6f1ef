package models

// ============================================================================
// PIPELINE STATE MACHINE
// ============================================================================

// BookingState is the single pipeline state of a booking.
// status, payment_status and supplier_status are projections written in the
// same UPDATE as state.
type BookingState string

const (
	StateAwaitingPayment   BookingState = "AWAITING_PAYMENT"   // Created or reused, no session yet
	StatePaymentOpened     BookingState = "PAYMENT_OPENED"     // Gateway session attached
	StatePaid              BookingState = "PAID"               // Payment captured, supplier not confirmed
	StateSupplierSubmitted BookingState = "SUPPLIER_SUBMITTED" // Sent to supplier, outcome pending or retryable
	StateConfirmed         BookingState = "CONFIRMED"          // Supplier confirmed
	StateFailed            BookingState = "FAILED"             // Payment session could not be opened or payment failed
	StateCancelled         BookingState = "CANCELLED"
)

// bookingTransitions lists, for every target state, the states it may be
// entered from.
var bookingTransitions = map[BookingState][]BookingState{
	StateAwaitingPayment:   {StateAwaitingPayment, StatePaymentOpened, StateFailed, StateCancelled},
	StatePaymentOpened:     {StateAwaitingPayment},
	StatePaid:              {StateAwaitingPayment, StatePaymentOpened},
	StateSupplierSubmitted: {StatePaid, StateSupplierSubmitted},
	StateConfirmed:         {StatePaid, StateSupplierSubmitted},
	StateFailed:            {StateAwaitingPayment, StatePaymentOpened},
	StateCancelled:         {StateAwaitingPayment, StatePaymentOpened, StatePaid, StateSupplierSubmitted, StateConfirmed, StateFailed},
}

// CanTransition reports whether a booking in state from may move to state to.
func CanTransition(from, to BookingState) bool {
	for _, s := range bookingTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// TransitionSources returns the states a booking may be in to enter target,
// as strings ready for a "state = ANY($n)" guard.
func TransitionSources(target BookingState) []string {
	sources := bookingTransitions[target]
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

// ============================================================================
// PROJECTED STATUSES
// ============================================================================

// BookingStatus is the customer facing lifecycle status
type BookingStatus string

const (
	BookingStatusAwaitingPayment BookingStatus = "AWAITING_PAYMENT"
	BookingStatusPending         BookingStatus = "PENDING" // Paid, waiting on supplier
	BookingStatusConfirmed       BookingStatus = "CONFIRMED"
	BookingStatusCancelled       BookingStatus = "CANCELLED"
	BookingStatusFailed          BookingStatus = "FAILED"
	BookingStatusSuccess         BookingStatus = "SUCCESS"
)

// PaymentStatus is the payment status of a booking or a transaction
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// SupplierStatus tracks the booking on the supplier side
type SupplierStatus string

const (
	SupplierStatusNotSubmitted SupplierStatus = "NOT_SUBMITTED"
	SupplierStatusPending      SupplierStatus = "PENDING"
	SupplierStatusConfirmed    SupplierStatus = "CONFIRMED"
	SupplierStatusFailed       SupplierStatus = "FAILED"
	SupplierStatusCancelled    SupplierStatus = "CANCELLED"
)

// SupplierFailureKind separates supplier rejections from outages in stored data
type SupplierFailureKind string

const (
	SupplierFailureNone           SupplierFailureKind = ""
	SupplierFailureBusiness       SupplierFailureKind = "business"
	SupplierFailureInfrastructure SupplierFailureKind = "infrastructure"
)

// PaymentMethod selects the gateway strategy
type PaymentMethod string

const (
	PaymentMethodWalletRedirect PaymentMethod = "wallet-redirect"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodBankTransfer   PaymentMethod = "bank-transfer"
)

// IsValid checks if the payment method is supported
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodWalletRedirect, PaymentMethodCard, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// PaymentTransitionTarget returns the state and booking status that a
// payment transition to status produces. ok is false for statuses that are
// not reachable through a payment transition (PENDING, REFUNDED).
func PaymentTransitionTarget(status PaymentStatus) (state BookingState, bookingStatus BookingStatus, ok bool) {
	switch status {
	case PaymentStatusPaid:
		return StatePaid, BookingStatusPending, true
	case PaymentStatusFailed:
		return StateFailed, BookingStatusFailed, true
	case PaymentStatusCancelled:
		return StateCancelled, BookingStatusCancelled, true
	}
	return "", "", false
}
