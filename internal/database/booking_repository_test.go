package database

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourlink/booking-backend/internal/models"
)

var bookingColumnNames = []string{
	"id", "reference", "client_reference_no", "user_id", "b2b_account_id",
	"total_net", "total_markup", "total_gross", "currency",
	"state", "status",
	"payment_method", "payment_intent_id", "payment_gateway", "payment_status", "paid_at",
	"supplier_booking_id", "supplier_status", "supplier_response", "supplier_failure_kind",
	"supplier_attempts", "synced_at",
	"passengers", "tour_items",
	"cancellation_reason", "cancelled_at",
	"created_at", "updated_at",
}

type bookingRowOpts struct {
	id             uuid.UUID
	userID         uuid.UUID
	reference      string
	state          models.BookingState
	status         models.BookingStatus
	paymentStatus  models.PaymentStatus
	supplierStatus models.SupplierStatus
	intentID       interface{}
	supplierID     interface{}
	paidAt         interface{}
}

func bookingRow(o bookingRowOpts) []driver.Value {
	now := time.Now()
	return []driver.Value{
		o.id.String(), o.reference, "CLI-1", o.userID.String(), nil,
		250.0, 50.0, 300.0, "AED",
		string(o.state), string(o.status),
		"wallet-redirect", o.intentID, nil, string(o.paymentStatus), o.paidAt,
		o.supplierID, string(o.supplierStatus), nil, "",
		int64(0), nil,
		[]byte(`[{"prefix":"Mr.","firstName":"Sam","lastName":"Lee","leadPassenger":true,"paxType":"Adult"}]`),
		[]byte(`[{"tourId":11,"optionId":22,"tourDate":"2026-12-01","adult":1}]`),
		nil, nil,
		now, now,
	}
}

func newBookingRepo(t *testing.T) (*BookingRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewBookingRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func draftBooking(userID uuid.UUID) *models.Booking {
	return &models.Booking{
		Reference:         "REF-1",
		ClientReferenceNo: "CLI-1",
		UserID:            userID,
		TotalNet:          250,
		TotalMarkup:       50,
		TotalGross:        300,
		Currency:          "AED",
		PaymentMethod:     models.PaymentMethodWalletRedirect,
		Passengers:        models.PassengerList{{FirstName: "Sam", LastName: "Lee", LeadPassenger: true, PaxType: models.PaxAdult}},
		TourItems:         models.TourItemList{{TourID: 11, OptionID: 22, TourDate: "2026-12-01", Adult: 1}},
	}
}

func TestBookingRepository_CreateOrReuse(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("Creates new booking", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		draft := draftBooking(userID)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .* FROM bookings WHERE reference = \$1 FOR UPDATE`).
			WithArgs("REF-1").
			WillReturnRows(sqlmock.NewRows(bookingColumnNames))
		mock.ExpectQuery(`INSERT INTO bookings`).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: uuid.New(), userID: userID, reference: "REF-1",
				state: models.StateAwaitingPayment, status: models.BookingStatusAwaitingPayment,
				paymentStatus: models.PaymentStatusPending, supplierStatus: models.SupplierStatusNotSubmitted,
			})...))
		mock.ExpectCommit()

		booking, reused, err := repo.CreateOrReuse(ctx, draft)
		require.NoError(t, err)
		assert.False(t, reused)
		assert.Equal(t, "REF-1", booking.Reference)
		assert.Equal(t, models.StateAwaitingPayment, booking.State)
		assert.Equal(t, models.PaymentStatusPending, booking.PaymentStatus)
		assert.Equal(t, models.SupplierStatusNotSubmitted, booking.SupplierStatus)
		require.Len(t, booking.Passengers, 1)
		assert.True(t, booking.Passengers[0].LeadPassenger)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Reuses failed booking in place", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		existingID := uuid.New()
		draft := draftBooking(userID)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .* FROM bookings WHERE reference = \$1 FOR UPDATE`).
			WithArgs("REF-1").
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: existingID, userID: userID, reference: "REF-1",
				state: models.StateFailed, status: models.BookingStatusFailed,
				paymentStatus: models.PaymentStatusFailed, supplierStatus: models.SupplierStatusNotSubmitted,
			})...))
		mock.ExpectQuery(`UPDATE bookings SET`).
			WithArgs(existingID, sqlmock.AnyArg(), sqlmock.AnyArg(),
				250.0, 50.0, 300.0, "AED",
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				"AWAITING_PAYMENT", "AWAITING_PAYMENT", "PENDING", "NOT_SUBMITTED").
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: existingID, userID: userID, reference: "REF-1",
				state: models.StateAwaitingPayment, status: models.BookingStatusAwaitingPayment,
				paymentStatus: models.PaymentStatusPending, supplierStatus: models.SupplierStatusNotSubmitted,
			})...))
		mock.ExpectCommit()

		booking, reused, err := repo.CreateOrReuse(ctx, draft)
		require.NoError(t, err)
		assert.True(t, reused)
		assert.Equal(t, existingID, booking.ID)
		assert.Equal(t, models.PaymentStatusPending, booking.PaymentStatus)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rejects paid reference", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .* FROM bookings WHERE reference = \$1 FOR UPDATE`).
			WithArgs("REF-1").
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: uuid.New(), userID: userID, reference: "REF-1",
				state: models.StatePaid, status: models.BookingStatusPending,
				paymentStatus: models.PaymentStatusPaid, supplierStatus: models.SupplierStatusNotSubmitted,
				paidAt: time.Now(),
			})...))
		mock.ExpectRollback()

		booking, _, err := repo.CreateOrReuse(ctx, draftBooking(userID))
		assert.Nil(t, booking)

		var completed *models.AlreadyCompletedError
		require.ErrorAs(t, err, &completed)
		assert.Equal(t, "REF-1", completed.Reference)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rejects reference owned by another user", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .* FROM bookings WHERE reference = \$1 FOR UPDATE`).
			WithArgs("REF-1").
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: uuid.New(), userID: uuid.New(), reference: "REF-1",
				state: models.StatePaymentOpened, status: models.BookingStatusAwaitingPayment,
				paymentStatus: models.PaymentStatusPending, supplierStatus: models.SupplierStatusNotSubmitted,
			})...))
		mock.ExpectRollback()

		_, _, err := repo.CreateOrReuse(ctx, draftBooking(userID))
		var conflict *models.ConflictError
		assert.ErrorAs(t, err, &conflict)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_TransitionPayment(t *testing.T) {
	ctx := context.Background()
	bookingID := uuid.New()
	userID := uuid.New()

	t.Run("Applies PAID from PENDING", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectQuery(`UPDATE bookings SET`).
			WithArgs(bookingID, "PAID", "PAID", "PENDING", true, "pi_123", "PENDING", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: bookingID, userID: userID, reference: "REF-1",
				state: models.StatePaid, status: models.BookingStatusPending,
				paymentStatus: models.PaymentStatusPaid, supplierStatus: models.SupplierStatusNotSubmitted,
				intentID: "pi_123", paidAt: time.Now(),
			})...))

		booking, applied, err := repo.TransitionPayment(ctx, bookingID, models.PaymentStatusPaid, "pi_123")
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, models.PaymentStatusPaid, booking.PaymentStatus)
		assert.NotNil(t, booking.PaidAt)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Second PAID is a no-op", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectQuery(`UPDATE bookings SET`).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames))
		mock.ExpectQuery(`SELECT .* FROM bookings WHERE id = \$1`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: bookingID, userID: userID, reference: "REF-1",
				state: models.StateConfirmed, status: models.BookingStatusConfirmed,
				paymentStatus: models.PaymentStatusPaid, supplierStatus: models.SupplierStatusConfirmed,
				intentID: "pi_123", supplierID: "778899", paidAt: time.Now(),
			})...))

		booking, applied, err := repo.TransitionPayment(ctx, bookingID, models.PaymentStatusPaid, "pi_123")
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, models.StateConfirmed, booking.State)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FAILED after PAID is ignored", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectQuery(`UPDATE bookings SET`).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames))
		mock.ExpectQuery(`SELECT .* FROM bookings WHERE id = \$1`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: bookingID, userID: userID, reference: "REF-1",
				state: models.StatePaid, status: models.BookingStatusPending,
				paymentStatus: models.PaymentStatusPaid, supplierStatus: models.SupplierStatusNotSubmitted,
			})...))

		booking, applied, err := repo.TransitionPayment(ctx, bookingID, models.PaymentStatusFailed, "")
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, models.PaymentStatusPaid, booking.PaymentStatus)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Cancelled booking cannot become PAID", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectQuery(`UPDATE bookings SET`).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames))
		mock.ExpectQuery(`SELECT .* FROM bookings WHERE id = \$1`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: bookingID, userID: userID, reference: "REF-1",
				state: models.StateCancelled, status: models.BookingStatusCancelled,
				paymentStatus: models.PaymentStatusCancelled, supplierStatus: models.SupplierStatusCancelled,
			})...))

		_, _, err := repo.TransitionPayment(ctx, bookingID, models.PaymentStatusPaid, "pi_123")
		var invalid *models.InvalidTransitionError
		assert.ErrorAs(t, err, &invalid)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rejects unsupported target", func(t *testing.T) {
		repo, _, done := newBookingRepo(t)
		defer done()

		_, _, err := repo.TransitionPayment(ctx, bookingID, models.PaymentStatusRefunded, "")
		assert.Error(t, err)
	})
}

func TestBookingRepository_AttachPaymentSession(t *testing.T) {
	ctx := context.Background()
	bookingID := uuid.New()
	session := &models.PaymentSession{PaymentIntentID: "pi_123", Gateway: "ziina"}

	t.Run("Success", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectExec(`UPDATE bookings SET`).
			WithArgs(bookingID, "pi_123", "ziina", "PAYMENT_OPENED", "PENDING", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.AttachPaymentSession(ctx, bookingID, session))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Guard rejects non pending booking", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectExec(`UPDATE bookings SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.AttachPaymentSession(ctx, bookingID, session)
		var invalid *models.InvalidTransitionError
		assert.ErrorAs(t, err, &invalid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_RecordSupplierOutcome(t *testing.T) {
	ctx := context.Background()
	bookingID := uuid.New()
	userID := uuid.New()

	t.Run("Confirmed", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		supplierID := "778899"
		mock.ExpectQuery(`UPDATE bookings SET`).
			WithArgs(bookingID, "CONFIRMED", &supplierID, sqlmock.AnyArg(), "",
				"CONFIRMED", true, "CONFIRMED", "PAID", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: bookingID, userID: userID, reference: "REF-1",
				state: models.StateConfirmed, status: models.BookingStatusConfirmed,
				paymentStatus: models.PaymentStatusPaid, supplierStatus: models.SupplierStatusConfirmed,
				supplierID: supplierID, paidAt: time.Now(),
			})...))

		booking, err := repo.RecordSupplierOutcome(ctx, bookingID, &models.SupplierOutcome{
			Status:            models.SupplierStatusConfirmed,
			SupplierBookingID: &supplierID,
			Payload:           &models.SupplierPayload{Kind: models.SupplierPayloadBooking},
		})
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusConfirmed, booking.Status)
		assert.Equal(t, models.PaymentStatusPaid, booking.PaymentStatus)
		require.NotNil(t, booking.SupplierBookingID)
		assert.Equal(t, supplierID, *booking.SupplierBookingID)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Business rejection keeps state", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectQuery(`UPDATE bookings SET`).
			WithArgs(bookingID, "FAILED", nil, sqlmock.AnyArg(), "business",
				"", false, "CONFIRMED", "PAID", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
				id: bookingID, userID: userID, reference: "REF-1",
				state: models.StatePaid, status: models.BookingStatusPending,
				paymentStatus: models.PaymentStatusPaid, supplierStatus: models.SupplierStatusFailed,
				paidAt: time.Now(),
			})...))

		booking, err := repo.RecordSupplierOutcome(ctx, bookingID, &models.SupplierOutcome{
			Status:      models.SupplierStatusFailed,
			FailureKind: models.SupplierFailureBusiness,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatePaid, booking.State)
		assert.Equal(t, models.BookingStatusPending, booking.Status)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unpaid booking is rejected", func(t *testing.T) {
		repo, mock, done := newBookingRepo(t)
		defer done()

		mock.ExpectQuery(`UPDATE bookings SET`).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames))

		_, err := repo.RecordSupplierOutcome(ctx, bookingID, &models.SupplierOutcome{Status: models.SupplierStatusConfirmed})
		var invalid *models.InvalidTransitionError
		assert.ErrorAs(t, err, &invalid)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_MarkCancelled(t *testing.T) {
	ctx := context.Background()
	bookingID := uuid.New()

	repo, mock, done := newBookingRepo(t)
	defer done()

	mock.ExpectQuery(`UPDATE bookings SET`).
		WillReturnRows(sqlmock.NewRows(bookingColumnNames))
	mock.ExpectQuery(`SELECT .* FROM bookings WHERE id = \$1`).
		WithArgs(bookingID).
		WillReturnRows(sqlmock.NewRows(bookingColumnNames).AddRow(bookingRow(bookingRowOpts{
			id: bookingID, userID: uuid.New(), reference: "REF-1",
			state: models.StateCancelled, status: models.BookingStatusCancelled,
			paymentStatus: models.PaymentStatusCancelled, supplierStatus: models.SupplierStatusCancelled,
		})...))

	booking, err := repo.MarkCancelled(ctx, bookingID, "changed plans", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, booking.State)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_GetByID_NotFound(t *testing.T) {
	repo, mock, done := newBookingRepo(t)
	defer done()

	bookingID := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM bookings WHERE id = \$1`).
		WithArgs(bookingID).
		WillReturnRows(sqlmock.NewRows(bookingColumnNames))

	booking, err := repo.GetByID(context.Background(), bookingID)
	assert.NoError(t, err)
	assert.Nil(t, booking)
	assert.NoError(t, mock.ExpectationsWereMet())
}
