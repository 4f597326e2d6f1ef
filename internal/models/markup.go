package models

import (
	"time"

	"github.com/google/uuid"
)

// MarkupType is how a personal markup is applied
type MarkupType string

const (
	MarkupTypePercentage MarkupType = "percentage"
	MarkupTypeFixed      MarkupType = "fixed"
)

// MarkupSource names the precedence level that produced a markup
type MarkupSource string

const (
	MarkupSourceAccountProduct MarkupSource = "account_product_rule"
	MarkupSourceProduct        MarkupSource = "product_rule"
	MarkupSourceAccount        MarkupSource = "account_rule"
	MarkupSourceAccountDefault MarkupSource = "account_default"
	MarkupSourceUser           MarkupSource = "user_markup"
	MarkupSourceNone           MarkupSource = "none"
)

// MarkupRule is a percentage markup scoped to an account, a product or both
type MarkupRule struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	B2BAccountID *uuid.UUID `json:"b2b_account_id,omitempty" db:"b2b_account_id"`
	ProductID    *string    `json:"product_id,omitempty" db:"product_id"`
	Percentage   float64    `json:"percentage" db:"percentage"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Validate checks a rule before it is stored
func (r *MarkupRule) Validate() error {
	if r.Percentage < 0 {
		return NewValidationError("percentage", "markup must not be negative")
	}
	if r.B2BAccountID == nil && (r.ProductID == nil || *r.ProductID == "") {
		return NewValidationError("scope", "a rule needs a b2b account, a product or both")
	}
	return nil
}

// Markup is a resolved markup value
type Markup struct {
	Type   MarkupType   `json:"type" db:"markup_type"`
	Value  float64      `json:"value" db:"value"`
	Source MarkupSource `json:"source" db:"-"`
}

// Validate checks a personal markup before it is stored
func (m *Markup) Validate() error {
	switch m.Type {
	case MarkupTypePercentage, MarkupTypeFixed:
	default:
		return NewValidationError("type", "must be percentage or fixed")
	}
	if m.Value < 0 {
		return NewValidationError("value", "markup must not be negative")
	}
	return nil
}

// CreateMarkupRuleRequest is the body of POST /admin/markup-rules
type CreateMarkupRuleRequest struct {
	B2BAccountID *string `json:"b2b_account_id"`
	ProductID    *string `json:"product_id"`
	Percentage   float64 `json:"percentage"`
}

// SetUserMarkupRequest is the body of PUT /admin/users/:id/markup
type SetUserMarkupRequest struct {
	Type  MarkupType `json:"type" binding:"required"`
	Value float64    `json:"value"`
}

// PriceBreakdown is the output of the pricing engine
type PriceBreakdown struct {
	Net    float64      `json:"net"`
	Markup float64      `json:"markup"`
	Gross  float64      `json:"gross"`
	Source MarkupSource `json:"source"`
}
