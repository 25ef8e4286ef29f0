package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	domain "github.com/yarmarok-dev/api/internal/domain"
)

type stubPlanner struct {
	planFn func(context.Context, PlanOrdersCommand) ([]OrderPlan, error)
}

func (s *stubPlanner) PlanOrders(ctx context.Context, cmd PlanOrdersCommand) ([]OrderPlan, error) {
	if s.planFn != nil {
		return s.planFn(ctx, cmd)
	}
	return nil, errors.New("not implemented")
}

type stubDiscounts struct {
	validateFn func(context.Context, ValidatePromoCommand) (PromoApplication, error)
}

func (s *stubDiscounts) Validate(ctx context.Context, cmd ValidatePromoCommand) (PromoApplication, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, cmd)
	}
	return PromoApplication{}, fmt.Errorf("%w: unknown code", ErrPromoInvalid)
}

type stubShipping struct {
	quoteFn func(context.Context, ShippingQuoteRequest) (int64, error)
}

func (s *stubShipping) Quote(ctx context.Context, req ShippingQuoteRequest) (int64, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, req)
	}
	return 100, nil
}

type stubOrderService struct {
	createFn     func(context.Context, CreateOrderCommand) (Order, error)
	transitionFn func(context.Context, OrderStatusTransitionCommand) (Order, error)
	waybillFn    func(context.Context, GenerateWaybillCommand) (Order, error)
	getFn        func(context.Context, string) (Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListPurchases(context.Context, ListOrdersQuery) (domain.CursorPage[Order], error) {
	return domain.CursorPage[Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) ListSales(context.Context, ListOrdersQuery) (domain.CursorPage[Order], error) {
	return domain.CursorPage[Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GenerateWaybill(ctx context.Context, cmd GenerateWaybillCommand) (Order, error) {
	if s.waybillFn != nil {
		return s.waybillFn(ctx, cmd)
	}
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      cmd.OrderID,
		TargetStatus: domain.OrderStatusCancelled,
		ActorID:      cmd.ActorID,
		Reason:       cmd.Reason,
	})
}

type stubSettlementService struct {
	settleFn  func(context.Context, SettlePaymentCommand) (SettlementResult, error)
	releaseFn func(context.Context, ReleaseEscrowCommand) (LedgerEntry, error)
}

func (s *stubSettlementService) SettlePayment(ctx context.Context, cmd SettlePaymentCommand) (SettlementResult, error) {
	if s.settleFn != nil {
		return s.settleFn(ctx, cmd)
	}
	return SettlementResult{}, errors.New("not implemented")
}

func (s *stubSettlementService) ReleaseEscrow(ctx context.Context, cmd ReleaseEscrowCommand) (LedgerEntry, error) {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, cmd)
	}
	return LedgerEntry{}, errors.New("not implemented")
}

func (s *stubSettlementService) WatchConfirmation(context.Context, WatchConfirmationCommand) {}

func twoSellerPlans() []OrderPlan {
	return []OrderPlan{
		testPlan("seller-1", OrderItem{ID: "itm_a", ProductID: "prod-a", Quantity: 2, UnitPrice: 500}),
		testPlan("seller-2", OrderItem{ID: "itm_b", ProductID: "prod-b", Quantity: 1, UnitPrice: 900}),
	}
}

func checkoutCommand() CheckoutCommand {
	return CheckoutCommand{
		BuyerID: "buyer-1",
		Items: []domain.CartItem{
			{ProductID: "prod-a", Quantity: 2, UnitPrice: 500},
			{ProductID: "prod-b", Quantity: 1, UnitPrice: 900},
		},
		ShippingMethod:  domain.ShippingMethodCourier,
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodEscrow,
		Currency:        "UAH",
	}
}

func newTestCheckoutService(t *testing.T, deps CheckoutServiceDeps) CheckoutService {
	t.Helper()
	if deps.Planner == nil {
		deps.Planner = &stubPlanner{
			planFn: func(context.Context, PlanOrdersCommand) ([]OrderPlan, error) {
				return twoSellerPlans(), nil
			},
		}
	}
	if deps.Discounts == nil {
		deps.Discounts = &stubDiscounts{}
	}
	if deps.Shipping == nil {
		deps.Shipping = &stubShipping{}
	}
	if deps.Orders == nil {
		seq := 0
		deps.Orders = &stubOrderService{
			createFn: func(_ context.Context, cmd CreateOrderCommand) (Order, error) {
				seq++
				return Order{
					ID:     fmt.Sprintf("ord_%d", seq),
					Status: domain.OrderStatusPending,
					Totals: buildOrderTotals(cmd.Plan.Subtotal, cmd.Discount, cmd.ShippingCost, cmd.AddOns),
				}, nil
			},
		}
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return svc
}

func TestCheckoutCreatesOrderPerSeller(t *testing.T) {
	ctx := context.Background()
	var created []CreateOrderCommand
	seq := 0
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd CreateOrderCommand) (Order, error) {
			created = append(created, cmd)
			seq++
			return Order{ID: fmt.Sprintf("ord_%d", seq), Totals: OrderTotals{Total: cmd.Plan.Subtotal + cmd.ShippingCost}}, nil
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Orders: orders})

	result, err := svc.Checkout(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.OrdersCreated != 2 {
		t.Fatalf("expected 2 orders got %d", result.OrdersCreated)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 create calls got %d", len(created))
	}
	if created[0].Plan.SellerID != "seller-1" || created[1].Plan.SellerID != "seller-2" {
		t.Fatalf("unexpected partition order %s, %s", created[0].Plan.SellerID, created[1].Plan.SellerID)
	}
	for _, outcome := range result.Outcomes {
		if !outcome.Created || outcome.FailureCode != "" {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	}
	if result.Settled {
		t.Fatal("no transaction ref supplied; orders must stay pending")
	}
}

func TestCheckoutShippingFailureSkipsOnlyThatPartition(t *testing.T) {
	ctx := context.Background()
	shipping := &stubShipping{
		quoteFn: func(_ context.Context, req ShippingQuoteRequest) (int64, error) {
			if req.SellerID == "seller-1" {
				return 0, fmt.Errorf("%w: carrier returned status 502", ErrShippingUnavailable)
			}
			return 60, nil
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Shipping: shipping})

	result, err := svc.Checkout(ctx, checkoutCommand())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.OrdersCreated != 1 {
		t.Fatalf("expected 1 order got %d", result.OrdersCreated)
	}
	first := result.Outcomes[0]
	if first.Created || first.FailureCode != "shipping_unavailable" || first.FailureReason == "" {
		t.Fatalf("unexpected first outcome %+v", first)
	}
	second := result.Outcomes[1]
	if !second.Created {
		t.Fatalf("second partition must survive, got %+v", second)
	}
}

func TestCheckoutInvalidPromoDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	discounts := &stubDiscounts{
		validateFn: func(context.Context, ValidatePromoCommand) (PromoApplication, error) {
			return PromoApplication{}, fmt.Errorf("%w: code has expired", ErrPromoInvalid)
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Discounts: discounts})

	cmd := checkoutCommand()
	cmd.PromoCode = "EXPIRED"
	result, err := svc.Checkout(ctx, cmd)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.OrdersCreated != 2 {
		t.Fatalf("expected 2 orders got %d", result.OrdersCreated)
	}
	for _, outcome := range result.Outcomes {
		if !outcome.Created {
			t.Fatalf("partition must proceed undiscounted, got %+v", outcome)
		}
		if outcome.PromoApplied {
			t.Fatalf("promo must not apply, got %+v", outcome)
		}
		if !strings.Contains(outcome.PromoReason, "expired") {
			t.Fatalf("expected promo reason, got %+v", outcome)
		}
	}
}

func TestCheckoutAppliesValidPromoPerPartition(t *testing.T) {
	ctx := context.Background()
	discounts := &stubDiscounts{
		validateFn: func(_ context.Context, cmd ValidatePromoCommand) (PromoApplication, error) {
			if cmd.SellerID != "seller-1" {
				return PromoApplication{}, fmt.Errorf("%w: wrong seller", ErrPromoInvalid)
			}
			return PromoApplication{CodeID: "promo-1", Type: domain.DiscountTypePercentage, Value: 10}, nil
		},
	}
	var created []CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd CreateOrderCommand) (Order, error) {
			created = append(created, cmd)
			return Order{ID: "ord_" + cmd.Plan.SellerID}, nil
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Discounts: discounts, Orders: orders})

	cmd := checkoutCommand()
	cmd.PromoCode = "TEN"
	result, err := svc.Checkout(ctx, cmd)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !result.Outcomes[0].PromoApplied || result.Outcomes[1].PromoApplied {
		t.Fatalf("promo must apply only to seller-1, got %+v", result.Outcomes)
	}
	if created[0].Discount != 100 {
		t.Fatalf("expected 10%% of 1000 got %d", created[0].Discount)
	}
	if created[0].PromoCodeID == nil || *created[0].PromoCodeID != "promo-1" {
		t.Fatalf("expected promo code id, got %v", created[0].PromoCodeID)
	}
	if created[1].Discount != 0 || created[1].PromoCodeID != nil {
		t.Fatalf("seller-2 must stay undiscounted, got %+v", created[1])
	}
}

func TestCheckoutSettlesWhenTransactionRefSupplied(t *testing.T) {
	ctx := context.Background()
	var settled *SettlePaymentCommand
	settlement := &stubSettlementService{
		settleFn: func(_ context.Context, cmd SettlePaymentCommand) (SettlementResult, error) {
			settled = &cmd
			return SettlementResult{}, nil
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Settlement: settlement})

	cmd := checkoutCommand()
	cmd.TransactionRef = "pi_abc"
	result, err := svc.Checkout(ctx, cmd)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !result.Settled {
		t.Fatal("expected settled result")
	}
	if settled == nil {
		t.Fatal("expected settlement call")
	}
	if settled.TransactionRef != "pi_abc" || len(settled.OrderIDs) != 2 {
		t.Fatalf("unexpected settlement command %+v", settled)
	}
}

func TestCheckoutReportsSettlementFailure(t *testing.T) {
	ctx := context.Background()
	settlement := &stubSettlementService{
		settleFn: func(context.Context, SettlePaymentCommand) (SettlementResult, error) {
			return SettlementResult{}, fmt.Errorf("%w: amount mismatch", ErrPaymentVerificationFailed)
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Settlement: settlement})

	cmd := checkoutCommand()
	cmd.TransactionRef = "pi_bad"
	result, err := svc.Checkout(ctx, cmd)
	if err != nil {
		t.Fatalf("checkout must not fail on settlement errors, got %v", err)
	}
	if result.Settled {
		t.Fatal("expected unsettled result")
	}
	if result.SettlementError == "" {
		t.Fatal("expected settlement error to be reported")
	}
	if result.OrdersCreated != 2 {
		t.Fatalf("orders must stay created, got %d", result.OrdersCreated)
	}
}

func TestCheckoutPartitionFailureCodesFollowErrorClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"reference", fmt.Errorf("%w: product missing", ErrReferenceNotFound), partitionFailureReference},
		{"invalid", fmt.Errorf("%w: quantity must be positive", ErrInvalidInput), partitionFailureInvalid},
		{"conflict", fmt.Errorf("%w: duplicate order number", ErrOrderConflict), partitionFailurePersistence},
		{"repository", fmt.Errorf("order: repository unavailable: %w", &stubRepoError{unavailable: true}), partitionFailurePersistence},
		{"unclassified", errors.New("carrier webhook misbehaved"), partitionFailureInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{
				createFn: func(context.Context, CreateOrderCommand) (Order, error) {
					return Order{}, tc.err
				},
			}
			svc := newTestCheckoutService(t, CheckoutServiceDeps{Orders: orders})

			result, err := svc.Checkout(context.Background(), checkoutCommand())
			if err != nil {
				t.Fatalf("checkout: %v", err)
			}
			for _, outcome := range result.Outcomes {
				if outcome.Created {
					t.Fatal("expected every partition to fail")
				}
				if outcome.FailureCode != tc.want {
					t.Fatalf("expected failure code %s got %s", tc.want, outcome.FailureCode)
				}
			}
		})
	}
}

func TestCheckoutPlannerFailureAbortsWholeCall(t *testing.T) {
	ctx := context.Background()
	planner := &stubPlanner{
		planFn: func(context.Context, PlanOrdersCommand) ([]OrderPlan, error) {
			return nil, fmt.Errorf("%w: product prod-x", ErrReferenceNotFound)
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Planner: planner})

	if _, err := svc.Checkout(ctx, checkoutCommand()); !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound got %v", err)
	}
}

func TestCheckoutValidatesRequest(t *testing.T) {
	ctx := context.Background()
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	cases := []struct {
		name   string
		mutate func(*CheckoutCommand)
	}{
		{"missing buyer", func(cmd *CheckoutCommand) { cmd.BuyerID = "" }},
		{"empty cart", func(cmd *CheckoutCommand) { cmd.Items = nil }},
		{"missing recipient", func(cmd *CheckoutCommand) { cmd.ShippingAddress.Recipient = "" }},
		{"unknown shipping method", func(cmd *CheckoutCommand) { cmd.ShippingMethod = "pigeon" }},
		{"unknown payment method", func(cmd *CheckoutCommand) { cmd.PaymentMethod = "cheque" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := checkoutCommand()
			tc.mutate(&cmd)
			if _, err := svc.Checkout(ctx, cmd); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput got %v", err)
			}
		})
	}
}
