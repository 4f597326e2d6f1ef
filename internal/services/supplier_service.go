package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/config"
	"github.com/tourlink/booking-backend/internal/models"
)

// SupplierOutcomeKind classifies a supplier call
type SupplierOutcomeKind string

const (
	SupplierConfirmed    SupplierOutcomeKind = "confirmed"
	SupplierPending      SupplierOutcomeKind = "pending"
	SupplierRejected     SupplierOutcomeKind = "rejected"
	SupplierInfraFailure SupplierOutcomeKind = "infra_failure"
)

// SupplierService talks to the tour supplier booking API
type SupplierService struct {
	config *config.SupplierConfig
	logger *logrus.Logger
	client *http.Client
	now    func() time.Time
}

// SupplierTourDetail is one line of a supplier booking request
type SupplierTourDetail struct {
	ServiceUniqueID int     `json:"serviceUniqueId"`
	TourID          int     `json:"tourId"`
	OptionID        int     `json:"optionId"`
	Adult           int     `json:"adult"`
	Child           int     `json:"child"`
	Infant          int     `json:"infant"`
	TourDate        string  `json:"tourDate"`
	TimeSlotID      *int    `json:"timeSlotId"`
	StartTime       string  `json:"startTime"`
	TransferID      int     `json:"transferId"`
	Pickup          string  `json:"pickup"`
	AdultRate       float64 `json:"adultRate"`
	ChildRate       float64 `json:"childRate"`
	ServiceTotal    float64 `json:"serviceTotal"`
}

// SupplierPassenger is one passenger of a supplier booking request
type SupplierPassenger struct {
	ServiceType       string `json:"serviceType"`
	Prefix            string `json:"prefix"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	Email             string `json:"email"`
	Mobile            string `json:"mobile"`
	Nationality       string `json:"nationality"`
	Message           string `json:"message"`
	LeadPassenger     bool   `json:"leadPassenger"`
	PaxType           string `json:"paxType"`
	ClientReferenceNo string `json:"clientReferenceNo"`
}

// SupplierBookingRequest is the body of POST /api/Booking/bookings
type SupplierBookingRequest struct {
	UniqueNo    string               `json:"uniqueNo"`
	TourDetails []SupplierTourDetail `json:"TourDetails"`
	Passengers  []SupplierPassenger  `json:"passengers"`
}

// SupplierCancelRequest is the body of POST /api/Booking/cancelbooking
type SupplierCancelRequest struct {
	BookingID          int64  `json:"bookingId"`
	ReferenceNo        string `json:"referenceNo"`
	CancellationReason string `json:"cancellationReason"`
}

// SupplierBookedOption identifies one booked line for ticket retrieval
type SupplierBookedOption struct {
	ServiceUniqueID int   `json:"serviceUniqueId"`
	BookingID       int64 `json:"bookingId"`
}

// SupplierTicketsRequest is the body of POST /api/Booking/GetBookedTickets
type SupplierTicketsRequest struct {
	UniqNO       string                 `json:"uniqNO"`
	ReferenceNo  string                 `json:"referenceNo"`
	BookedOption []SupplierBookedOption `json:"bookedOption"`
}

// supplierEnvelope is the common response wrapper
type supplierEnvelope struct {
	StatusCode int             `json:"statuscode"`
	Error      string          `json:"error"`
	Result     json.RawMessage `json:"result"`
}

// SupplierResult is the classified outcome of a supplier call
type SupplierResult struct {
	Outcome   SupplierOutcomeKind
	BookingID string // supplier booking id, empty unless accepted
	Status    string // supplier's own status text
	Tickets   []models.SupplierTicket
	Payload   *models.SupplierPayload
	Message   string
}

// Accepted reports whether the supplier took the request
func (r SupplierResult) Accepted() bool {
	return r.Outcome == SupplierConfirmed || r.Outcome == SupplierPending
}

// Err converts a failed outcome into a SupplierError
func (r SupplierResult) Err() error {
	switch r.Outcome {
	case SupplierRejected:
		return &models.SupplierError{Kind: string(models.SupplierFailureBusiness), Message: r.Message}
	case SupplierInfraFailure:
		return &models.SupplierError{Kind: string(models.SupplierFailureInfrastructure), Message: r.Message}
	}
	return nil
}

// ToOutcome maps a submission result onto the columns the repository records
func (r SupplierResult) ToOutcome() *models.SupplierOutcome {
	outcome := &models.SupplierOutcome{Payload: r.Payload}
	if r.BookingID != "" {
		id := r.BookingID
		outcome.SupplierBookingID = &id
	}

	switch r.Outcome {
	case SupplierConfirmed:
		outcome.Status = models.SupplierStatusConfirmed
	case SupplierPending:
		outcome.Status = models.SupplierStatusPending
	case SupplierRejected:
		outcome.Status = models.SupplierStatusFailed
		outcome.FailureKind = models.SupplierFailureBusiness
	default:
		outcome.Status = models.SupplierStatusPending
		outcome.FailureKind = models.SupplierFailureInfrastructure
	}
	return outcome
}

// NewSupplierService creates a new supplier adapter
func NewSupplierService(cfg *config.SupplierConfig, logger *logrus.Logger) *SupplierService {
	return &SupplierService{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		now: time.Now,
	}
}

// BuildBookingRequest maps a booking to the supplier payload.
// The booking reference is the supplier's idempotency key.
func BuildBookingRequest(booking *models.Booking) *SupplierBookingRequest {
	req := &SupplierBookingRequest{
		UniqueNo:    booking.Reference,
		TourDetails: make([]SupplierTourDetail, 0, len(booking.TourItems)),
		Passengers:  make([]SupplierPassenger, 0, len(booking.Passengers)),
	}

	for _, t := range booking.TourItems {
		serviceTotal := t.ServiceTotal
		if serviceTotal == 0 {
			serviceTotal = t.NetTotal()
		}
		req.TourDetails = append(req.TourDetails, SupplierTourDetail{
			ServiceUniqueID: t.ServiceUniqueID,
			TourID:          t.TourID,
			OptionID:        t.OptionID,
			Adult:           t.Adult,
			Child:           t.Child,
			Infant:          t.Infant,
			TourDate:        t.TourDate,
			TimeSlotID:      t.TimeSlotID,
			StartTime:       t.StartTime,
			TransferID:      t.TransferID,
			Pickup:          t.Pickup,
			AdultRate:       t.AdultRate,
			ChildRate:       t.ChildRate,
			ServiceTotal:    serviceTotal,
		})
	}

	for _, p := range booking.Passengers {
		clientRef := p.ClientReferenceNo
		if clientRef == "" {
			clientRef = booking.ClientReferenceNo
		}
		req.Passengers = append(req.Passengers, SupplierPassenger{
			ServiceType:       p.ServiceType,
			Prefix:            p.Prefix,
			FirstName:         p.FirstName,
			LastName:          p.LastName,
			Email:             p.Email,
			Mobile:            p.Mobile,
			Nationality:       p.Nationality,
			Message:           p.Message,
			LeadPassenger:     p.LeadPassenger,
			PaxType:           string(p.PaxType),
			ClientReferenceNo: clientRef,
		})
	}
	return req
}

// Submit sends a paid booking to the supplier
func (s *SupplierService) Submit(ctx context.Context, booking *models.Booking) SupplierResult {
	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"reference":  booking.Reference,
	})
	log.Info("Submitting booking to supplier")

	env, result := s.call(ctx, "/api/Booking/bookings", BuildBookingRequest(booking), models.SupplierPayloadBooking)
	if env == nil {
		log.WithField("outcome", result.Outcome).Warn(result.Message)
		return result
	}

	var entries []models.SupplierBookingResult
	if len(env.Result) > 0 && string(env.Result) != "null" {
		if err := json.Unmarshal(env.Result, &entries); err != nil {
			return s.infraResult(result.Payload, models.SupplierPayloadBooking, 0, "malformed supplier booking result")
		}
	}
	result.Payload.Bookings = entries

	if len(entries) == 0 || entries[0].BookingID == 0 {
		// Accepted without a booking id yet
		result.Outcome = SupplierPending
		result.Message = "supplier accepted the booking without confirmation"
		log.Warn(result.Message)
		return result
	}

	result.BookingID = strconv.FormatInt(entries[0].BookingID, 10)
	result.Status = entries[0].Status
	if isSupplierPendingStatus(entries[0].Status) {
		result.Outcome = SupplierPending
		result.Message = "supplier booking is on request"
	} else {
		result.Outcome = SupplierConfirmed
		result.Message = "supplier booking confirmed"
	}

	log.WithFields(logrus.Fields{
		"supplier_booking_id": result.BookingID,
		"outcome":             result.Outcome,
	}).Info("Supplier submission finished")
	return result
}

// Cancel cancels a confirmed booking on the supplier side
func (s *SupplierService) Cancel(ctx context.Context, booking *models.Booking, reason string) SupplierResult {
	supplierID, err := supplierBookingID(booking)
	if err != nil {
		return SupplierResult{
			Outcome: SupplierRejected,
			Message: err.Error(),
			Payload: s.errorPayload(models.SupplierPayloadCancellation, models.SupplierFailureBusiness, 0, 0, err.Error(), nil),
		}
	}
	if reason == "" {
		reason = "User requested cancellation"
	}

	req := SupplierCancelRequest{
		BookingID:          supplierID,
		ReferenceNo:        booking.Reference,
		CancellationReason: reason,
	}

	env, result := s.call(ctx, "/api/Booking/cancelbooking", req, models.SupplierPayloadCancellation)
	if env == nil {
		return result
	}

	status := "cancelled"
	var text string
	if json.Unmarshal(env.Result, &text) == nil && text != "" {
		status = text
	}
	result.Payload.Cancellation = &status
	result.Outcome = SupplierConfirmed
	result.BookingID = strconv.FormatInt(supplierID, 10)
	result.Status = status
	result.Message = "supplier booking cancelled"
	return result
}

// FetchTickets returns the supplier's tickets for a confirmed booking
func (s *SupplierService) FetchTickets(ctx context.Context, booking *models.Booking) SupplierResult {
	supplierID, err := supplierBookingID(booking)
	if err != nil {
		return SupplierResult{
			Outcome: SupplierRejected,
			Message: err.Error(),
			Payload: s.errorPayload(models.SupplierPayloadTickets, models.SupplierFailureBusiness, 0, 0, err.Error(), nil),
		}
	}

	req := SupplierTicketsRequest{
		UniqNO:      booking.Reference,
		ReferenceNo: booking.Reference,
	}
	for _, t := range booking.TourItems {
		req.BookedOption = append(req.BookedOption, SupplierBookedOption{
			ServiceUniqueID: t.ServiceUniqueID,
			BookingID:       supplierID,
		})
	}

	env, result := s.call(ctx, "/api/Booking/GetBookedTickets", req, models.SupplierPayloadTickets)
	if env == nil {
		return result
	}

	tickets, err := decodeTickets(env.Result)
	if err != nil {
		return s.infraResult(result.Payload, models.SupplierPayloadTickets, 0, "malformed supplier tickets result")
	}
	result.Payload.Tickets = tickets
	result.Tickets = tickets
	result.Outcome = SupplierConfirmed
	result.BookingID = strconv.FormatInt(supplierID, 10)
	result.Message = fmt.Sprintf("%d tickets retrieved", len(tickets))
	return result
}

// call posts a request and classifies the response.
// A nil envelope means the call failed and result describes why.
func (s *SupplierService) call(ctx context.Context, path string, payload interface{}, kind models.SupplierPayloadKind) (*supplierEnvelope, SupplierResult) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, SupplierResult{
			Outcome: SupplierRejected,
			Message: fmt.Sprintf("failed to marshal supplier request: %v", err),
			Payload: s.errorPayload(kind, models.SupplierFailureBusiness, 0, 0, err.Error(), nil),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.config.BaseURL, "/")+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, s.infraResult(nil, kind, 0, fmt.Sprintf("failed to create supplier request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		msg := fmt.Sprintf("supplier unavailable: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "supplier request timed out"
		}
		s.logger.WithError(err).WithField("path", path).Error("Supplier request failed")
		return nil, s.infraResult(nil, kind, 0, msg)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, s.infraResult(nil, kind, resp.StatusCode, fmt.Sprintf("failed to read supplier response: %v", err))
	}

	if isInfraHTTPStatus(resp.StatusCode) {
		p := s.errorPayload(kind, models.SupplierFailureInfrastructure, resp.StatusCode, 0,
			fmt.Sprintf("supplier returned status %d", resp.StatusCode), body)
		return nil, SupplierResult{Outcome: SupplierInfraFailure, Message: p.Failure.Message, Payload: p}
	}

	var env supplierEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		p := s.errorPayload(kind, models.SupplierFailureInfrastructure, resp.StatusCode, 0, "malformed supplier response", body)
		return nil, SupplierResult{Outcome: SupplierInfraFailure, Message: p.Failure.Message, Payload: p}
	}

	if resp.StatusCode >= 400 || env.StatusCode != http.StatusOK || env.Error != "" {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("supplier rejected the request (status %d)", firstNonZero(env.StatusCode, resp.StatusCode))
		}
		p := s.errorPayload(kind, models.SupplierFailureBusiness, resp.StatusCode, env.StatusCode, msg, body)
		return nil, SupplierResult{Outcome: SupplierRejected, Message: msg, Payload: p}
	}

	return &env, SupplierResult{
		Payload: &models.SupplierPayload{
			Kind:       kind,
			Raw:        models.RawJSON(body),
			ReceivedAt: s.now(),
		},
	}
}

func (s *SupplierService) infraResult(prev *models.SupplierPayload, kind models.SupplierPayloadKind, httpStatus int, msg string) SupplierResult {
	var raw []byte
	if prev != nil {
		raw = prev.Raw
	}
	p := s.errorPayload(kind, models.SupplierFailureInfrastructure, httpStatus, 0, msg, raw)
	return SupplierResult{Outcome: SupplierInfraFailure, Message: msg, Payload: p}
}

func (s *SupplierService) errorPayload(kind models.SupplierPayloadKind, failureKind models.SupplierFailureKind, httpStatus, statusCode int, msg string, body []byte) *models.SupplierPayload {
	return &models.SupplierPayload{
		Kind: models.SupplierPayloadError,
		Failure: &models.SupplierFailure{
			Kind:       failureKind,
			HTTPStatus: httpStatus,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("%s: %s", kind, msg),
		},
		Raw:        models.RawJSON(body),
		ReceivedAt: s.now(),
	}
}

// isInfraHTTPStatus lists responses worth retrying
func isInfraHTTPStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func isSupplierPendingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "on request", "onrequest", "processing":
		return true
	}
	return false
}

func supplierBookingID(booking *models.Booking) (int64, error) {
	if booking.SupplierBookingID == nil || *booking.SupplierBookingID == "" {
		return 0, fmt.Errorf("booking %s has no supplier booking id", booking.Reference)
	}
	id, err := strconv.ParseInt(*booking.SupplierBookingID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid supplier booking id %q", *booking.SupplierBookingID)
	}
	return id, nil
}

// decodeTickets accepts either a ticket array or a single ticket object
func decodeTickets(raw json.RawMessage) ([]models.SupplierTicket, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []models.SupplierTicket{}, nil
	}
	var tickets []models.SupplierTicket
	if err := json.Unmarshal(raw, &tickets); err == nil {
		return tickets, nil
	}
	var single models.SupplierTicket
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []models.SupplierTicket{single}, nil
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
