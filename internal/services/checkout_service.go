package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/repositories"
)

// Partition failure codes reported to the caller. Checkout never fails a
// partition silently.
const (
	partitionFailureReference   = "reference_not_found"
	partitionFailureShipping    = "shipping_unavailable"
	partitionFailureInvalid     = "invalid_input"
	partitionFailurePersistence = "persistence_failed"
	partitionFailureInternal    = "internal_error"
)

// partitionFailureCode classifies a partition-aborting error for the outcome
// report. Persistence is reserved for storage errors; anything unclassified
// surfaces as internal rather than masquerading as one of the known classes.
func partitionFailureCode(err error) string {
	var repoErr repositories.RepositoryError
	switch {
	case errors.Is(err, ErrReferenceNotFound):
		return partitionFailureReference
	case errors.Is(err, ErrShippingUnavailable):
		return partitionFailureShipping
	case errors.Is(err, ErrInvalidInput):
		return partitionFailureInvalid
	case errors.Is(err, ErrOrderConflict), errors.As(err, &repoErr):
		return partitionFailurePersistence
	default:
		return partitionFailureInternal
	}
}

// CheckoutServiceDeps bundles collaborators for the checkout orchestrator.
type CheckoutServiceDeps struct {
	Planner    OrderPlanner
	Discounts  DiscountEngine
	Shipping   ShippingResolver
	Orders     OrderService
	Settlement SettlementService
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	planner    OrderPlanner
	discounts  DiscountEngine
	shipping   ShippingResolver
	orders     OrderService
	settlement SettlementService
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Planner == nil {
		return nil, errors.New("checkout service: order planner is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("checkout service: discount engine is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("checkout service: shipping resolver is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		planner:    deps.Planner,
		discounts:  deps.Discounts,
		shipping:   deps.Shipping,
		orders:     deps.Orders,
		settlement: deps.Settlement,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Checkout plans the cart, then commits each seller partition independently:
// discount, shipping quote, and persistence must all succeed for a partition
// to produce an order; a failing partition is reported and skipped while the
// others stand (at-least-one-of-N, never all-or-nothing across sellers).
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: buyer id is required", ErrInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: cart must contain at least one item", ErrInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddress.Recipient) == "" || strings.TrimSpace(cmd.ShippingAddress.Line1) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: shipping address is incomplete", ErrInvalidInput)
	}
	switch cmd.ShippingMethod {
	case domain.ShippingMethodCourier, domain.ShippingMethodNationalPost:
	default:
		return CheckoutResult{}, fmt.Errorf("%w: unknown shipping method %q", ErrInvalidInput, cmd.ShippingMethod)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodEscrow, domain.PaymentMethodDirect:
	default:
		return CheckoutResult{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, cmd.PaymentMethod)
	}

	plans, err := s.planner.PlanOrders(ctx, PlanOrdersCommand{
		BuyerID:        buyerID,
		Items:          cmd.Items,
		ShippingMethod: cmd.ShippingMethod,
		Currency:       cmd.Currency,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	result := CheckoutResult{Outcomes: make([]PartitionOutcome, 0, len(plans))}
	createdIDs := make([]string, 0, len(plans))
	promoCode := strings.TrimSpace(cmd.PromoCode)

	for _, plan := range plans {
		outcome := s.commitPartition(ctx, buyerID, plan, promoCode, cmd)
		if outcome.Created {
			createdIDs = append(createdIDs, outcome.OrderID)
			result.OrdersCreated++
		} else {
			s.logger(ctx, "checkout.partition.skipped", map[string]any{
				"buyer":  buyerID,
				"seller": plan.SellerID,
				"code":   outcome.FailureCode,
				"reason": outcome.FailureReason,
			})
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	if ref := strings.TrimSpace(cmd.TransactionRef); ref != "" && len(createdIDs) > 0 && s.settlement != nil {
		if _, err := s.settlement.SettlePayment(ctx, SettlePaymentCommand{
			TransactionRef: ref,
			OrderIDs:       createdIDs,
			ActorID:        buyerID,
		}); err != nil {
			// Orders stay pending; the client retries settlement on its own.
			result.SettlementError = err.Error()
			s.logger(ctx, "checkout.settlement.failed", map[string]any{
				"buyer": buyerID,
				"ref":   ref,
				"error": err.Error(),
			})
		} else {
			result.Settled = true
		}
	}

	return result, nil
}

func (s *checkoutService) commitPartition(ctx context.Context, buyerID string, plan OrderPlan, promoCode string, cmd CheckoutCommand) PartitionOutcome {
	outcome := PartitionOutcome{SellerID: plan.SellerID}

	var discount int64
	var promoCodeID *string
	if promoCode != "" {
		application, err := s.discounts.Validate(ctx, ValidatePromoCommand{
			Code:     promoCode,
			SellerID: plan.SellerID,
			Items:    plan.Items,
		})
		switch {
		case err == nil:
			discount = application.Amount(plan.Subtotal)
			promoCodeID = valuePtr(application.CodeID)
			outcome.PromoApplied = true
		case errors.Is(err, ErrPromoInvalid):
			// Reported, never aborting: the partition proceeds undiscounted.
			outcome.PromoReason = err.Error()
		default:
			outcome.FailureCode = partitionFailureCode(err)
			outcome.FailureReason = err.Error()
			return outcome
		}
	}

	shippingCost, err := s.shipping.Quote(ctx, ShippingQuoteRequest{
		SellerID: plan.SellerID,
		Items:    plan.Items,
		Method:   plan.ShippingMethod,
	})
	if err != nil {
		outcome.FailureCode = partitionFailureShipping
		if !errors.Is(err, ErrShippingUnavailable) {
			err = fmt.Errorf("%w: %v", ErrShippingUnavailable, err)
		}
		outcome.FailureReason = err.Error()
		return outcome
	}

	order, err := s.orders.Create(ctx, CreateOrderCommand{
		BuyerID:         buyerID,
		Plan:            plan,
		PromoCodeID:     promoCodeID,
		Discount:        discount,
		ShippingCost:    shippingCost,
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   cmd.PaymentMethod,
		ActorID:         buyerID,
	})
	if err != nil {
		outcome.FailureCode = partitionFailureCode(err)
		outcome.FailureReason = err.Error()
		return outcome
	}

	outcome.Created = true
	outcome.OrderID = order.ID
	outcome.Total = order.Totals.Total
	return outcome
}
