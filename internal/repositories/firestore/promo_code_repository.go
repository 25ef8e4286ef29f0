package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/yarmarok-dev/api/internal/domain"
	pfirestore "github.com/yarmarok-dev/api/internal/platform/firestore"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const promoCodeCollection = "promoCodes"

// PromoCodeRepository reads promo code definitions owned by the marketing subsystem.
type PromoCodeRepository struct {
	provider *pfirestore.Provider
}

// NewPromoCodeRepository constructs a Firestore-backed promo code reader.
func NewPromoCodeRepository(provider *pfirestore.Provider) (*PromoCodeRepository, error) {
	if provider == nil {
		return nil, errors.New("promo code repository requires firestore provider")
	}
	return &PromoCodeRepository{provider: provider}, nil
}

var _ repositories.PromoCodeRepository = (*PromoCodeRepository)(nil)

// FindByCode resolves a code by its normalised (upper-cased) form.
func (r *PromoCodeRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.PromoCode{}, errors.New("promo code is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PromoCode{}, err
	}

	iter := client.Collection(promoCodeCollection).
		Where("code", "==", code).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.PromoCode{}, pfirestore.WrapError("promo_codes.find", status.Error(codes.NotFound, "promo code not found"))
	}
	if err != nil {
		return domain.PromoCode{}, pfirestore.WrapError("promo_codes.find", err)
	}

	var doc promoCodeDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PromoCode{}, pfirestore.WrapError("promo_codes.find", err)
	}
	return toDomainPromoCode(snap.Ref.ID, doc), nil
}

type promoCodeDocument struct {
	Code        string     `firestore:"code"`
	Scope       string     `firestore:"scope"`
	SellerID    *string    `firestore:"sellerId,omitempty"`
	Category    *string    `firestore:"category,omitempty"`
	Type        string     `firestore:"type"`
	Value       int64      `firestore:"value"`
	MinPurchase int64      `firestore:"minPurchase"`
	Active      bool       `firestore:"active"`
	StartsAt    *time.Time `firestore:"startsAt,omitempty"`
	EndsAt      *time.Time `firestore:"endsAt,omitempty"`
}

func toDomainPromoCode(id string, doc promoCodeDocument) domain.PromoCode {
	return domain.PromoCode{
		ID:          id,
		Code:        doc.Code,
		Scope:       domain.PromoScope(doc.Scope),
		SellerID:    doc.SellerID,
		Category:    doc.Category,
		Type:        domain.DiscountType(doc.Type),
		Value:       doc.Value,
		MinPurchase: doc.MinPurchase,
		Active:      doc.Active,
		StartsAt:    doc.StartsAt,
		EndsAt:      doc.EndsAt,
	}
}
