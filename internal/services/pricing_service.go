package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tourlink/booking-backend/internal/models"
)

// MarkupSource is the read side of the markup store
type MarkupSource interface {
	FindActiveRule(ctx context.Context, b2bAccountID *uuid.UUID, productID *string) (*models.MarkupRule, error)
	GetAccountDefaultMarkup(ctx context.Context, b2bAccountID uuid.UUID) (*float64, error)
	GetUserMarkup(ctx context.Context, userID uuid.UUID) (*models.Markup, error)
}

// PricingContext identifies who is buying what
type PricingContext struct {
	UserID       uuid.UUID
	B2BAccountID *uuid.UUID
	ProductID    string
}

// PricingService resolves markups and computes net -> markup -> gross
type PricingService struct {
	markups MarkupSource
}

// NewPricingService creates a new PricingService
func NewPricingService(markups MarkupSource) *PricingService {
	return &PricingService{markups: markups}
}

// ComputePrice resolves the markup for the caller and product and applies it
func (s *PricingService) ComputePrice(ctx context.Context, basePrice float64, pc PricingContext) (*models.PriceBreakdown, error) {
	markup, err := s.ResolveMarkup(ctx, pc)
	if err != nil {
		return nil, err
	}
	breakdown := ApplyMarkup(basePrice, markup)
	return &breakdown, nil
}

// ResolveMarkup walks the precedence chain; the first match wins:
//  1. rule for (account, product)
//  2. rule for product only
//  3. rule for account only
//  4. the account's default percentage
//  5. the caller's personal markup
//  6. no markup
func (s *PricingService) ResolveMarkup(ctx context.Context, pc PricingContext) (models.Markup, error) {
	var productID *string
	if pc.ProductID != "" {
		productID = &pc.ProductID
	}

	type scope struct {
		account *uuid.UUID
		product *string
		source  models.MarkupSource
	}
	var scopes []scope
	if pc.B2BAccountID != nil && productID != nil {
		scopes = append(scopes, scope{pc.B2BAccountID, productID, models.MarkupSourceAccountProduct})
	}
	if productID != nil {
		scopes = append(scopes, scope{nil, productID, models.MarkupSourceProduct})
	}
	if pc.B2BAccountID != nil {
		scopes = append(scopes, scope{pc.B2BAccountID, nil, models.MarkupSourceAccount})
	}

	for _, sc := range scopes {
		rule, err := s.markups.FindActiveRule(ctx, sc.account, sc.product)
		if err != nil {
			return models.Markup{}, fmt.Errorf("failed to resolve %s: %w", sc.source, err)
		}
		if rule != nil {
			return models.Markup{Type: models.MarkupTypePercentage, Value: rule.Percentage, Source: sc.source}, nil
		}
	}

	if pc.B2BAccountID != nil {
		pct, err := s.markups.GetAccountDefaultMarkup(ctx, *pc.B2BAccountID)
		if err != nil {
			return models.Markup{}, fmt.Errorf("failed to resolve account default: %w", err)
		}
		if pct != nil {
			return models.Markup{Type: models.MarkupTypePercentage, Value: *pct, Source: models.MarkupSourceAccountDefault}, nil
		}
	}

	if pc.UserID != uuid.Nil {
		personal, err := s.markups.GetUserMarkup(ctx, pc.UserID)
		if err != nil {
			return models.Markup{}, fmt.Errorf("failed to resolve user markup: %w", err)
		}
		if personal != nil {
			personal.Source = models.MarkupSourceUser
			return *personal, nil
		}
	}

	return models.Markup{Type: models.MarkupTypePercentage, Value: 0, Source: models.MarkupSourceNone}, nil
}

// ApplyMarkup computes the price breakdown for a base price.
// A fixed markup is a flat amount added once, whatever the quantity.
func ApplyMarkup(basePrice float64, markup models.Markup) models.PriceBreakdown {
	net := models.RoundMoney(basePrice)

	var amount float64
	switch markup.Type {
	case models.MarkupTypeFixed:
		amount = markup.Value
	default:
		amount = net * markup.Value / 100
	}
	amount = models.RoundMoney(amount)

	return models.PriceBreakdown{
		Net:    net,
		Markup: amount,
		Gross:  models.RoundMoney(net + amount),
		Source: markup.Source,
	}
}

// PriceTourItems prices every line of a booking and returns the priced lines
// with booking totals. Each line is priced with its own product scope.
func (s *PricingService) PriceTourItems(ctx context.Context, items []models.TourItem, userID uuid.UUID, b2bAccountID *uuid.UUID) ([]models.TourItem, models.PriceBreakdown, error) {
	priced := make([]models.TourItem, len(items))
	var total models.PriceBreakdown

	for i, item := range items {
		breakdown, err := s.ComputePrice(ctx, item.NetTotal(), PricingContext{
			UserID:       userID,
			B2BAccountID: b2bAccountID,
			ProductID:    item.ProductID(),
		})
		if err != nil {
			return nil, models.PriceBreakdown{}, err
		}

		item.ServiceTotal = breakdown.Net
		item.Markup = breakdown.Markup
		item.GrossTotal = breakdown.Gross
		priced[i] = item

		total.Net += breakdown.Net
		total.Markup += breakdown.Markup
		total.Source = breakdown.Source
	}

	total.Net = models.RoundMoney(total.Net)
	total.Markup = models.RoundMoney(total.Markup)
	total.Gross = models.RoundMoney(total.Net + total.Markup)
	return priced, total, nil
}
