package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourlink/booking-backend/internal/models"
)

func newMarkupRepo(t *testing.T) (*MarkupRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewMarkupRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func TestMarkupRepository_FindActiveRule(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	productID := "11"

	t.Run("Found", func(t *testing.T) {
		repo, mock, done := newMarkupRepo(t)
		defer done()

		now := time.Now()
		mock.ExpectQuery(`SELECT .* FROM markup_rules`).
			WithArgs(accountID, productID).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "b2b_account_id", "product_id", "percentage", "is_active", "created_at", "updated_at",
			}).AddRow(uuid.New().String(), accountID.String(), productID, 20.0, true, now, now))

		rule, err := repo.FindActiveRule(ctx, &accountID, &productID)
		require.NoError(t, err)
		require.NotNil(t, rule)
		assert.Equal(t, 20.0, rule.Percentage)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not found", func(t *testing.T) {
		repo, mock, done := newMarkupRepo(t)
		defer done()

		mock.ExpectQuery(`SELECT .* FROM markup_rules`).
			WithArgs(nil, productID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		rule, err := repo.FindActiveRule(ctx, nil, &productID)
		require.NoError(t, err)
		assert.Nil(t, rule)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Needs a scope", func(t *testing.T) {
		repo, _, done := newMarkupRepo(t)
		defer done()

		_, err := repo.FindActiveRule(ctx, nil, nil)
		assert.Error(t, err)
	})
}

func TestMarkupRepository_CreateRule(t *testing.T) {
	ctx := context.Background()
	productID := "11"

	t.Run("Success", func(t *testing.T) {
		repo, mock, done := newMarkupRepo(t)
		defer done()

		mock.ExpectExec(`INSERT INTO markup_rules`).
			WithArgs(sqlmock.AnyArg(), nil, productID, 12.5, true, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rule := &models.MarkupRule{ProductID: &productID, Percentage: 12.5}
		require.NoError(t, repo.CreateRule(ctx, rule))
		assert.NotEqual(t, uuid.Nil, rule.ID)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Negative percentage rejected before insert", func(t *testing.T) {
		repo, mock, done := newMarkupRepo(t)
		defer done()

		err := repo.CreateRule(ctx, &models.MarkupRule{ProductID: &productID, Percentage: -5})
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "percentage", verr.Field)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkupRepository_SetUserMarkup(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("Upserts fixed markup", func(t *testing.T) {
		repo, mock, done := newMarkupRepo(t)
		defer done()

		mock.ExpectExec(`INSERT INTO user_markups`).
			WithArgs(userID, "fixed", 15.0).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.SetUserMarkup(ctx, userID, &models.Markup{Type: models.MarkupTypeFixed, Value: 15}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Negative value rejected", func(t *testing.T) {
		repo, _, done := newMarkupRepo(t)
		defer done()

		err := repo.SetUserMarkup(ctx, userID, &models.Markup{Type: models.MarkupTypePercentage, Value: -1})
		assert.Error(t, err)
	})
}

func TestMarkupRepository_GetAccountDefaultMarkup(t *testing.T) {
	repo, mock, done := newMarkupRepo(t)
	defer done()

	accountID := uuid.New()
	mock.ExpectQuery(`SELECT default_markup_percentage FROM b2b_accounts`).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"default_markup_percentage"}).AddRow(7.5))

	pct, err := repo.GetAccountDefaultMarkup(context.Background(), accountID)
	require.NoError(t, err)
	require.NotNil(t, pct)
	assert.Equal(t, 7.5, *pct)

	assert.NoError(t, mock.ExpectationsWereMet())
}
