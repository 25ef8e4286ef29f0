package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/repositories"
)

var promoCaser = cases.Upper(language.Und)

// DiscountEngineDeps bundles collaborators for the discount engine.
type DiscountEngineDeps struct {
	PromoCodes repositories.PromoCodeRepository
	Clock      func() time.Time
}

type discountEngine struct {
	promoCodes repositories.PromoCodeRepository
	clock      func() time.Time
}

// NewDiscountEngine wires dependencies into a concrete DiscountEngine.
func NewDiscountEngine(deps DiscountEngineDeps) (DiscountEngine, error) {
	if deps.PromoCodes == nil {
		return nil, errors.New("discount engine: promo code repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &discountEngine{
		promoCodes: deps.PromoCodes,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Validate runs the eligibility chain in order, first failure wins:
// existence and active window, then scope, then minimum purchase.
func (e *discountEngine) Validate(ctx context.Context, cmd ValidatePromoCommand) (PromoApplication, error) {
	code := NormalizePromoCode(cmd.Code)
	if code == "" {
		return PromoApplication{}, fmt.Errorf("%w: promo code is required", ErrInvalidInput)
	}
	sellerID := strings.TrimSpace(cmd.SellerID)
	if sellerID == "" {
		return PromoApplication{}, fmt.Errorf("%w: seller id is required", ErrInvalidInput)
	}

	promo, err := e.promoCodes.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return PromoApplication{}, fmt.Errorf("%w: code %q does not exist", ErrPromoInvalid, code)
		}
		return PromoApplication{}, mapRepositoryError(err)
	}

	now := e.clock()
	if !promo.Active {
		return PromoApplication{}, fmt.Errorf("%w: code %q is not active", ErrPromoInvalid, code)
	}
	if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
		return PromoApplication{}, fmt.Errorf("%w: code %q is not active yet", ErrPromoInvalid, code)
	}
	if promo.EndsAt != nil && now.After(*promo.EndsAt) {
		return PromoApplication{}, fmt.Errorf("%w: code %q has expired", ErrPromoInvalid, code)
	}

	switch promo.Scope {
	case domain.PromoScopeGlobal:
	case domain.PromoScopeSeller:
		if promo.SellerID == nil || *promo.SellerID != sellerID {
			return PromoApplication{}, fmt.Errorf("%w: code %q does not apply to this seller", ErrPromoInvalid, code)
		}
	case domain.PromoScopeCategory:
		if promo.Category == nil || !itemsMatchCategory(cmd.Items, *promo.Category) {
			return PromoApplication{}, fmt.Errorf("%w: code %q does not apply to this category", ErrPromoInvalid, code)
		}
	default:
		return PromoApplication{}, fmt.Errorf("%w: code %q has unknown scope", ErrPromoInvalid, code)
	}

	var subtotal int64
	for _, item := range cmd.Items {
		subtotal += item.Subtotal()
	}
	if subtotal < promo.MinPurchase {
		return PromoApplication{}, fmt.Errorf("%w: code %q requires a minimum purchase of %d", ErrPromoInvalid, code, promo.MinPurchase)
	}

	if promo.Value <= 0 {
		return PromoApplication{}, fmt.Errorf("%w: code %q has no discount value", ErrPromoInvalid, code)
	}

	return PromoApplication{
		CodeID: promo.ID,
		Code:   code,
		Type:   promo.Type,
		Value:  promo.Value,
	}, nil
}

// itemsMatchCategory requires every targeted item to fall inside the code's
// category; the discount applies to the whole partition subtotal, so a single
// out-of-category item disqualifies the code.
func itemsMatchCategory(items []OrderItem, category string) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !strings.EqualFold(strings.TrimSpace(item.Category), strings.TrimSpace(category)) {
			return false
		}
	}
	return true
}

// NormalizePromoCode trims and upper-cases a user-supplied code with full
// unicode case mapping, matching how codes are stored.
func NormalizePromoCode(code string) string {
	return promoCaser.String(strings.TrimSpace(code))
}
