package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	domain "github.com/yarmarok-dev/api/internal/domain"
)

type stubUserRepo struct {
	findFn func(context.Context, string) (domain.User, error)
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findFn != nil {
		return s.findFn(ctx, userID)
	}
	return domain.User{ID: userID, IsActive: true}, nil
}

type stubProductRepo struct {
	findFn    func(context.Context, string) (domain.Product, error)
	findIDsFn func(context.Context, []string) (map[string]domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, notFoundErr()
}

func (s *stubProductRepo) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findIDsFn != nil {
		return s.findIDsFn(ctx, productIDs)
	}
	return map[string]domain.Product{}, nil
}

func catalogOf(products ...domain.Product) *stubProductRepo {
	index := make(map[string]domain.Product, len(products))
	for _, product := range products {
		index[product.ID] = product
	}
	return &stubProductRepo{
		findIDsFn: func(_ context.Context, ids []string) (map[string]domain.Product, error) {
			found := make(map[string]domain.Product, len(ids))
			for _, id := range ids {
				if product, ok := index[id]; ok {
					found[id] = product
				}
			}
			return found, nil
		},
	}
}

func newTestPlanner(t *testing.T, users *stubUserRepo, products *stubProductRepo) OrderPlanner {
	t.Helper()
	seq := 0
	planner, err := NewOrderPlanner(OrderPlannerDeps{
		Users:    users,
		Products: products,
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("PLAN%04d", seq)
		},
	})
	if err != nil {
		t.Fatalf("new order planner: %v", err)
	}
	return planner
}

func TestPlanOrdersPartitionsBySeller(t *testing.T) {
	ctx := context.Background()
	products := catalogOf(
		domain.Product{ID: "prod-a", SellerID: "seller-1", Name: "Clay mug", Category: "ceramics"},
		domain.Product{ID: "prod-b", SellerID: "seller-2", Name: "Linen towel", Category: "textiles"},
		domain.Product{ID: "prod-c", SellerID: "seller-1", Name: "Clay bowl", Category: "ceramics"},
	)
	planner := newTestPlanner(t, &stubUserRepo{}, products)

	plans, err := planner.PlanOrders(ctx, PlanOrdersCommand{
		BuyerID: "buyer-1",
		Items: []domain.CartItem{
			{ProductID: "prod-a", Quantity: 2, UnitPrice: 500},
			{ProductID: "prod-b", Quantity: 1, UnitPrice: 900},
			{ProductID: "prod-c", Quantity: 1, UnitPrice: 700},
		},
		ShippingMethod: domain.ShippingMethodCourier,
		Currency:       "UAH",
	})
	if err != nil {
		t.Fatalf("plan orders: %v", err)
	}

	if len(plans) != 2 {
		t.Fatalf("expected 2 partitions got %d", len(plans))
	}
	// First-appearance order: seller-1 owns the first cart item.
	if plans[0].SellerID != "seller-1" || plans[1].SellerID != "seller-2" {
		t.Fatalf("unexpected partition order %s, %s", plans[0].SellerID, plans[1].SellerID)
	}
	if len(plans[0].Items) != 2 || len(plans[1].Items) != 1 {
		t.Fatalf("unexpected item split %d/%d", len(plans[0].Items), len(plans[1].Items))
	}
	if plans[0].Subtotal != 1700 {
		t.Fatalf("expected seller-1 subtotal 1700 got %d", plans[0].Subtotal)
	}
	if plans[1].Subtotal != 900 {
		t.Fatalf("expected seller-2 subtotal 900 got %d", plans[1].Subtotal)
	}
	if plans[0].Items[0].ProductName != "Clay mug" || plans[0].Items[0].Category != "ceramics" {
		t.Fatalf("expected catalog snapshot, got %+v", plans[0].Items[0])
	}
}

func TestPlanOrdersMissingProductFailsWholeCall(t *testing.T) {
	ctx := context.Background()
	products := catalogOf(domain.Product{ID: "prod-a", SellerID: "seller-1"})
	planner := newTestPlanner(t, &stubUserRepo{}, products)

	_, err := planner.PlanOrders(ctx, PlanOrdersCommand{
		BuyerID: "buyer-1",
		Items: []domain.CartItem{
			{ProductID: "prod-a", Quantity: 1, UnitPrice: 500},
			{ProductID: "prod-missing", Quantity: 1, UnitPrice: 500},
		},
		Currency: "UAH",
	})
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound got %v", err)
	}
}

func TestPlanOrdersRejectsDeclaredSellerMismatch(t *testing.T) {
	ctx := context.Background()
	products := catalogOf(domain.Product{ID: "prod-a", SellerID: "seller-1"})
	planner := newTestPlanner(t, &stubUserRepo{}, products)

	_, err := planner.PlanOrders(ctx, PlanOrdersCommand{
		BuyerID: "buyer-1",
		Items: []domain.CartItem{
			{ProductID: "prod-a", SellerID: "seller-2", Quantity: 1, UnitPrice: 500},
		},
		Currency: "UAH",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput got %v", err)
	}
}

func TestPlanOrdersUnknownBuyer(t *testing.T) {
	ctx := context.Background()
	users := &stubUserRepo{
		findFn: func(context.Context, string) (domain.User, error) {
			return domain.User{}, notFoundErr()
		},
	}
	planner := newTestPlanner(t, users, catalogOf())

	_, err := planner.PlanOrders(ctx, PlanOrdersCommand{
		BuyerID:  "ghost",
		Items:    []domain.CartItem{{ProductID: "prod-a", Quantity: 1, UnitPrice: 100}},
		Currency: "UAH",
	})
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound got %v", err)
	}
}

func TestPlanOrdersUnknownSeller(t *testing.T) {
	ctx := context.Background()
	users := &stubUserRepo{
		findFn: func(_ context.Context, id string) (domain.User, error) {
			if id == "seller-1" {
				return domain.User{}, notFoundErr()
			}
			return domain.User{ID: id}, nil
		},
	}
	products := catalogOf(domain.Product{ID: "prod-a", SellerID: "seller-1"})
	planner := newTestPlanner(t, users, products)

	_, err := planner.PlanOrders(ctx, PlanOrdersCommand{
		BuyerID:  "buyer-1",
		Items:    []domain.CartItem{{ProductID: "prod-a", Quantity: 1, UnitPrice: 100}},
		Currency: "UAH",
	})
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound got %v", err)
	}
}

func TestPlanOrdersValidatesInput(t *testing.T) {
	ctx := context.Background()
	planner := newTestPlanner(t, &stubUserRepo{}, catalogOf())

	cases := []struct {
		name string
		cmd  PlanOrdersCommand
	}{
		{"empty cart", PlanOrdersCommand{BuyerID: "b", Currency: "UAH"}},
		{"missing buyer", PlanOrdersCommand{Items: []domain.CartItem{{ProductID: "p", Quantity: 1}}, Currency: "UAH"}},
		{"missing currency", PlanOrdersCommand{BuyerID: "b", Items: []domain.CartItem{{ProductID: "p", Quantity: 1}}}},
		{"zero quantity", PlanOrdersCommand{BuyerID: "b", Items: []domain.CartItem{{ProductID: "p", Quantity: 0}}, Currency: "UAH"}},
		{"negative price", PlanOrdersCommand{BuyerID: "b", Items: []domain.CartItem{{ProductID: "p", Quantity: 1, UnitPrice: -5}}, Currency: "UAH"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := planner.PlanOrders(ctx, tc.cmd); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput got %v", err)
			}
		})
	}
}
