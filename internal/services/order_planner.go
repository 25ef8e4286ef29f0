package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/yarmarok-dev/api/internal/repositories"
)

// OrderPlannerDeps bundles collaborators for the planner.
type OrderPlannerDeps struct {
	Users       repositories.UserRepository
	Products    repositories.ProductRepository
	IDGenerator func() string
}

type orderPlanner struct {
	users    repositories.UserRepository
	products repositories.ProductRepository
	newID    func() string
}

// NewOrderPlanner wires dependencies into a concrete OrderPlanner.
func NewOrderPlanner(deps OrderPlannerDeps) (OrderPlanner, error) {
	if deps.Users == nil {
		return nil, errors.New("order planner: user repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order planner: product repository is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	return &orderPlanner{
		users:    deps.Users,
		products: deps.Products,
		newID:    idGen,
	}, nil
}

// PlanOrders partitions cart items by seller in first-appearance order and
// snapshots line items with their add-time prices. Reference resolution is
// all-or-nothing: a single missing product or seller fails the whole call and
// no plans are returned.
func (p *orderPlanner) PlanOrders(ctx context.Context, cmd PlanOrdersCommand) ([]OrderPlan, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer id is required", ErrInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return nil, fmt.Errorf("%w: cart must contain at least one item", ErrInvalidInput)
	}
	currency := strings.TrimSpace(cmd.Currency)
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, fmt.Errorf("%w: cart item product id is required", ErrInvalidInput)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: cart item quantity must be at least 1", ErrInvalidInput)
		}
		if item.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: cart item price cannot be negative", ErrInvalidInput)
		}
	}

	if _, err := p.users.FindByID(ctx, buyerID); err != nil {
		return nil, planReferenceError(err, "buyer "+buyerID)
	}

	productIDs := make([]string, 0, len(cmd.Items))
	seen := make(map[string]bool, len(cmd.Items))
	for _, item := range cmd.Items {
		id := strings.TrimSpace(item.ProductID)
		if !seen[id] {
			seen[id] = true
			productIDs = append(productIDs, id)
		}
	}

	products, err := p.products.FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	for _, id := range productIDs {
		if _, ok := products[id]; !ok {
			return nil, fmt.Errorf("%w: product %s", ErrReferenceNotFound, id)
		}
	}

	// Partition by the product's seller, keeping sellers in the order their
	// first item appears in the cart.
	sellerOrder := make([]string, 0, 4)
	partitions := make(map[string][]OrderItem, 4)
	for _, item := range cmd.Items {
		product := products[strings.TrimSpace(item.ProductID)]
		sellerID := product.SellerID
		if declared := strings.TrimSpace(item.SellerID); declared != "" && declared != sellerID {
			return nil, fmt.Errorf("%w: product %s does not belong to seller %s", ErrInvalidInput, product.ID, declared)
		}
		if _, ok := partitions[sellerID]; !ok {
			sellerOrder = append(sellerOrder, sellerID)
		}
		partitions[sellerID] = append(partitions[sellerID], OrderItem{
			ID:          orderItemIDPrefix + p.newID(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Category:    product.Category,
			VariantID:   cloneStringPtr(item.VariantID),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Kind:        item.Kind,
		})
	}

	for _, sellerID := range sellerOrder {
		if _, err := p.users.FindByID(ctx, sellerID); err != nil {
			return nil, planReferenceError(err, "seller "+sellerID)
		}
	}

	plans := make([]OrderPlan, 0, len(sellerOrder))
	for _, sellerID := range sellerOrder {
		items := partitions[sellerID]
		var subtotal int64
		for _, item := range items {
			subtotal += item.Subtotal()
		}
		plans = append(plans, OrderPlan{
			SellerID:       sellerID,
			Items:          items,
			Subtotal:       subtotal,
			Currency:       currency,
			ShippingMethod: cmd.ShippingMethod,
		})
	}

	return plans, nil
}

func planReferenceError(err error, ref string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrReferenceNotFound, ref)
	}
	return mapRepositoryError(err)
}
