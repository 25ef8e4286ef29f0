package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/yarmarok-dev/api/internal/domain"
	pfirestore "github.com/yarmarok-dev/api/internal/platform/firestore"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads the catalog projection used for item snapshotting.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, errors.New("product id is required")
	}

	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(doc.ID, doc.Data), nil
}

// FindByIDs resolves a batch of product ids. Missing ids are simply absent
// from the result; the caller decides whether that is an error.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = client.Collection(productCollection).Doc(id)
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.get_all", err)
	}

	products := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("products.get_all", err)
		}
		products[snap.Ref.ID] = toDomainProduct(snap.Ref.ID, doc)
	}
	return products, nil
}

type productDocument struct {
	SellerID string   `firestore:"sellerId"`
	Name     string   `firestore:"name"`
	Category string   `firestore:"category,omitempty"`
	Price    int64    `firestore:"price"`
	Currency string   `firestore:"currency"`
	Variants []string `firestore:"variants,omitempty"`
	Active   bool     `firestore:"active"`
}

func toDomainProduct(id string, doc productDocument) domain.Product {
	return domain.Product{
		ID:       id,
		SellerID: doc.SellerID,
		Name:     doc.Name,
		Category: doc.Category,
		Price:    doc.Price,
		Currency: doc.Currency,
		Variants: append([]string(nil), doc.Variants...),
		Active:   doc.Active,
	}
}
