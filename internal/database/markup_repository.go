package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tourlink/booking-backend/internal/models"
)

// MarkupRepository reads and writes markup rules, B2B account defaults and
// personal markups
type MarkupRepository struct {
	db *sqlx.DB
}

// NewMarkupRepository creates a new MarkupRepository
func NewMarkupRepository(db *sqlx.DB) *MarkupRepository {
	return &MarkupRepository{db: db}
}

// FindActiveRule returns the newest active rule with exactly this scope.
// A nil argument matches rules where that scope column is NULL.
func (r *MarkupRepository) FindActiveRule(ctx context.Context, b2bAccountID *uuid.UUID, productID *string) (*models.MarkupRule, error) {
	if b2bAccountID == nil && productID == nil {
		return nil, fmt.Errorf("markup rule lookup needs an account or a product")
	}

	query := `
		SELECT id, b2b_account_id, product_id, percentage, is_active, created_at, updated_at
		FROM markup_rules
		WHERE is_active = TRUE
			AND b2b_account_id IS NOT DISTINCT FROM $1
			AND product_id IS NOT DISTINCT FROM $2
		ORDER BY updated_at DESC
		LIMIT 1`

	var rule models.MarkupRule
	err := r.db.GetContext(ctx, &rule, query, b2bAccountID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find markup rule: %w", err)
	}
	return &rule, nil
}

// GetAccountDefaultMarkup returns the default percentage of a B2B account,
// or nil when the account does not exist
func (r *MarkupRepository) GetAccountDefaultMarkup(ctx context.Context, b2bAccountID uuid.UUID) (*float64, error) {
	var pct sql.NullFloat64
	err := r.db.GetContext(ctx, &pct,
		`SELECT default_markup_percentage FROM b2b_accounts WHERE id = $1`, b2bAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get b2b account markup: %w", err)
	}
	value := 0.0
	if pct.Valid {
		value = pct.Float64
	}
	return &value, nil
}

// GetUserMarkup returns the personal markup of a user, or nil when none is set
func (r *MarkupRepository) GetUserMarkup(ctx context.Context, userID uuid.UUID) (*models.Markup, error) {
	var markup models.Markup
	err := r.db.GetContext(ctx, &markup,
		`SELECT markup_type, value FROM user_markups WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user markup: %w", err)
	}
	return &markup, nil
}

// CreateRule validates and stores a new active rule
func (r *MarkupRepository) CreateRule(ctx context.Context, rule *models.MarkupRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	rule.ID = uuid.New()
	rule.IsActive = true
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt

	query := `
		INSERT INTO markup_rules (id, b2b_account_id, product_id, percentage, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.B2BAccountID, rule.ProductID, rule.Percentage, rule.IsActive, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create markup rule: %w", err)
	}
	return nil
}

// SetUserMarkup validates and upserts a personal markup
func (r *MarkupRepository) SetUserMarkup(ctx context.Context, userID uuid.UUID, markup *models.Markup) error {
	if err := markup.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO user_markups (user_id, markup_type, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			markup_type = EXCLUDED.markup_type,
			value = EXCLUDED.value,
			updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, userID, markup.Type, markup.Value); err != nil {
		return fmt.Errorf("failed to set user markup: %w", err)
	}
	return nil
}
