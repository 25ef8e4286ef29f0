package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/platform/auth"
	"github.com/yarmarok-dev/api/internal/services"
)

type checkoutServiceStub struct {
	checkoutFn func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *checkoutServiceStub) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, cmd)
	}
	return services.CheckoutResult{}, errors.New("not implemented")
}

type orderServiceStub struct {
	getFn        func(context.Context, string) (services.Order, error)
	listFn       func(context.Context, services.ListOrdersQuery) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	waybillFn    func(context.Context, services.GenerateWaybillCommand) (services.Order, error)
}

func (s *orderServiceStub) Create(context.Context, services.CreateOrderCommand) (services.Order, error) {
	return services.Order{}, errors.New("not implemented")
}

func (s *orderServiceStub) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *orderServiceStub) ListPurchases(ctx context.Context, query services.ListOrdersQuery) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *orderServiceStub) ListSales(ctx context.Context, query services.ListOrdersQuery) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *orderServiceStub) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *orderServiceStub) GenerateWaybill(ctx context.Context, cmd services.GenerateWaybillCommand) (services.Order, error) {
	if s.waybillFn != nil {
		return s.waybillFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *orderServiceStub) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	return s.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      cmd.OrderID,
		TargetStatus: domain.OrderStatusCancelled,
		ActorID:      cmd.ActorID,
		Reason:       cmd.Reason,
	})
}

type settlementServiceStub struct {
	settleFn func(context.Context, services.SettlePaymentCommand) (services.SettlementResult, error)
	watchFn  func(context.Context, services.WatchConfirmationCommand)
}

func (s *settlementServiceStub) SettlePayment(ctx context.Context, cmd services.SettlePaymentCommand) (services.SettlementResult, error) {
	if s.settleFn != nil {
		return s.settleFn(ctx, cmd)
	}
	return services.SettlementResult{}, errors.New("not implemented")
}

func (s *settlementServiceStub) ReleaseEscrow(context.Context, services.ReleaseEscrowCommand) (services.LedgerEntry, error) {
	return services.LedgerEntry{}, errors.New("not implemented")
}

func (s *settlementServiceStub) WatchConfirmation(ctx context.Context, cmd services.WatchConfirmationCommand) {
	if s.watchFn != nil {
		s.watchFn(ctx, cmd)
	}
}

type disputeServiceStub struct {
	openFn    func(context.Context, services.OpenDisputeCommand) (services.Order, error)
	appendFn  func(context.Context, services.AppendDisputeMessageCommand) (services.DisputeMessage, error)
	listFn    func(context.Context, string) ([]services.DisputeMessage, error)
	resolveFn func(context.Context, services.ResolveDisputeCommand) (services.Order, error)
}

func (s *disputeServiceStub) Open(ctx context.Context, cmd services.OpenDisputeCommand) (services.Order, error) {
	if s.openFn != nil {
		return s.openFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *disputeServiceStub) AppendMessage(ctx context.Context, cmd services.AppendDisputeMessageCommand) (services.DisputeMessage, error) {
	if s.appendFn != nil {
		return s.appendFn(ctx, cmd)
	}
	return services.DisputeMessage{}, errors.New("not implemented")
}

func (s *disputeServiceStub) ListMessages(ctx context.Context, orderID string) ([]services.DisputeMessage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, nil
}

func (s *disputeServiceStub) Resolve(ctx context.Context, cmd services.ResolveDisputeCommand) (services.Order, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func newOrdersRouter(h *OrderHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/orders", h.Routes)
	return r
}

func identified(req *http.Request, uid string, roles ...string) *http.Request {
	identity := &auth.Identity{UID: uid, Roles: roles}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
}

func sampleOrder(status domain.OrderStatus) services.Order {
	created := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:       "ord_1",
		Number:   "YA-00000001",
		BuyerID:  "buyer-1",
		SellerID: "seller-1",
		Status:   status,
		Currency: "UAH",
		Totals:   services.OrderTotals{Subtotal: 1000, Shipping: 80, Total: 1080},
		Items: []services.OrderItem{
			{ID: "itm_1", ProductID: "prod-1", ProductName: "Clay mug", Quantity: 2, UnitPrice: 500},
		},
		ShippingMethod: domain.ShippingMethodCourier,
		PaymentMethod:  domain.PaymentMethodEscrow,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

const checkoutBody = `{
	"items": [{"product_id": "prod-1", "quantity": 2, "unit_price": 500}],
	"shipping_method": "courier",
	"shipping_address": {"recipient": "Olena K", "line1": "12 Khreshchatyk St", "city": "Kyiv", "postal_code": "01001", "country": "UA"},
	"payment_method": "escrow",
	"currency": "uah"
}`

func TestCheckoutEndpointCreatesOrders(t *testing.T) {
	var captured *services.CheckoutCommand
	checkout := &checkoutServiceStub{
		checkoutFn: func(_ context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			captured = &cmd
			return services.CheckoutResult{
				Outcomes: []services.PartitionOutcome{
					{SellerID: "seller-1", OrderID: "ord_1", Total: 1080, Created: true},
				},
				OrdersCreated: 1,
			}, nil
		},
	}
	h := NewOrderHandlers(nil, checkout, &orderServiceStub{}, nil, nil)
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(checkoutBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1", auth.RoleBuyer))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured == nil {
		t.Fatal("expected checkout call")
	}
	if captured.BuyerID != "buyer-1" || captured.Currency != "UAH" {
		t.Fatalf("unexpected command %+v", captured)
	}

	var payload checkoutResponse
	decodeJSONBody(t, rec, &payload)
	if payload.OrdersCreated != 1 || len(payload.Outcomes) != 1 || !payload.Outcomes[0].Created {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCheckoutEndpointAllPartitionsFailed(t *testing.T) {
	checkout := &checkoutServiceStub{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{
				Outcomes: []services.PartitionOutcome{
					{SellerID: "seller-1", FailureCode: "shipping_unavailable", FailureReason: "carrier down"},
				},
			}, nil
		},
	}
	h := NewOrderHandlers(nil, checkout, &orderServiceStub{}, nil, nil)
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(checkoutBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
	var payload checkoutResponse
	decodeJSONBody(t, rec, &payload)
	if len(payload.Outcomes) != 1 || payload.Outcomes[0].FailureCode != "shipping_unavailable" {
		t.Fatalf("failure must be reported, got %+v", payload)
	}
}

func TestCheckoutEndpointRequiresIdentity(t *testing.T) {
	h := NewOrderHandlers(nil, &checkoutServiceStub{}, &orderServiceStub{}, nil, nil)
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(checkoutBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestCheckoutEndpointRateLimitsPerBuyer(t *testing.T) {
	checkout := &checkoutServiceStub{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{OrdersCreated: 1}, nil
		},
	}
	h := NewOrderHandlers(nil, checkout, &orderServiceStub{}, nil, nil,
		WithCheckoutRateLimiter(2, time.Minute))
	router := newOrdersRouter(h)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(checkoutBody))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, identified(req, "buyer-1"))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated {
		t.Fatalf("first two requests must pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request must be limited, got %v", codes)
	}
}

func TestGetOrderVisibility(t *testing.T) {
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusPaid)
			order.ID = id
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, nil)
	router := newOrdersRouter(h)

	cases := []struct {
		name  string
		uid   string
		roles []string
		want  int
	}{
		{"buyer", "buyer-1", nil, http.StatusOK},
		{"seller", "seller-1", nil, http.StatusOK},
		{"moderator", "mod-1", []string{auth.RoleModerator}, http.StatusOK},
		{"outsider", "user-9", []string{auth.RoleBuyer}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, identified(req, tc.uid, tc.roles...))
			if rec.Code != tc.want {
				t.Fatalf("expected %d got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPatchOrderRoleMatrix(t *testing.T) {
	cases := []struct {
		name   string
		uid    string
		roles  []string
		status string
		want   int
	}{
		{"seller ships", "seller-1", nil, "shipped", http.StatusOK},
		{"buyer cannot ship", "buyer-1", nil, "shipped", http.StatusForbidden},
		{"buyer confirms delivery", "buyer-1", nil, "delivered", http.StatusOK},
		{"seller cannot confirm delivery", "seller-1", nil, "delivered", http.StatusForbidden},
		{"buyer completes", "buyer-1", nil, "completed", http.StatusOK},
		{"admin cancels", "admin-1", []string{auth.RoleAdmin}, "cancelled", http.StatusOK},
		{"buyer cannot cancel", "buyer-1", nil, "cancelled", http.StatusForbidden},
		{"paid is reserved for settlement", "seller-1", nil, "paid", http.StatusBadRequest},
		{"disputed has its own surface", "buyer-1", nil, "disputed", http.StatusBadRequest},
		{"unknown status", "buyer-1", nil, "archived", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &orderServiceStub{
				getFn: func(_ context.Context, id string) (services.Order, error) {
					order := sampleOrder(domain.OrderStatusPaid)
					order.ID = id
					return order, nil
				},
				transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
					order := sampleOrder(cmd.TargetStatus)
					order.ID = cmd.OrderID
					return order, nil
				},
			}
			h := NewOrderHandlers(nil, nil, orders, nil, nil)
			router := newOrdersRouter(h)

			body := fmt.Sprintf(`{"status": %q}`, tc.status)
			req := httptest.NewRequest(http.MethodPatch, "/orders/ord_1", strings.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, identified(req, tc.uid, tc.roles...))
			if rec.Code != tc.want {
				t.Fatalf("expected %d got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPatchOrderMapsInvalidTransition(t *testing.T) {
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusPending)
			order.ID = id
			return order, nil
		},
		transitionFn: func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: pending -> shipped", services.ErrOrderInvalidState)
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, nil)
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_1", strings.NewReader(`{"status": "shipped"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "seller-1"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
}

func TestPatchOrderSellerSuppliesTrackingNumber(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusPaid)
			order.ID = id
			return order, nil
		},
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(cmd.TargetStatus)
			order.ID = cmd.OrderID
			tracking := cmd.TrackingNumber
			order.TrackingNumber = &tracking
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, nil)
	router := newOrdersRouter(h)

	body := `{"status": "shipped", "tracking_number": "RR123456789UA"}`
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "seller-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured.TrackingNumber != "RR123456789UA" {
		t.Fatalf("expected tracking number in command, got %q", captured.TrackingNumber)
	}
}

func TestPatchOrderTrackingRequiresShippedStatus(t *testing.T) {
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusShipped)
			order.ID = id
			return order, nil
		},
		transitionFn: func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error) {
			t.Fatal("transition must not run")
			return services.Order{}, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, nil)
	router := newOrdersRouter(h)

	body := `{"status": "delivered", "tracking_number": "RR123456789UA"}`
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestGenerateWaybillSellerOnly(t *testing.T) {
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusPaid)
			order.ID = id
			return order, nil
		},
		waybillFn: func(_ context.Context, cmd services.GenerateWaybillCommand) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusShipped)
			order.ID = cmd.OrderID
			tracking := "59000000000001"
			order.TrackingNumber = &tracking
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, nil)
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/generate-waybill", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "seller-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	var payload orderResponse
	decodeJSONBody(t, rec, &payload)
	if payload.Order.TrackingNumber == "" || payload.Order.Status != "shipped" {
		t.Fatalf("unexpected payload %+v", payload.Order)
	}

	req = httptest.NewRequest(http.MethodPost, "/orders/ord_1/generate-waybill", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyer got %d", rec.Code)
	}
}

func TestListPurchasesPassesFilters(t *testing.T) {
	var captured services.ListOrdersQuery
	orders := &orderServiceStub{
		listFn: func(_ context.Context, query services.ListOrdersQuery) (domain.CursorPage[services.Order], error) {
			captured = query
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder(domain.OrderStatusPaid)},
				NextPageToken: "tok_next",
			}, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, nil)
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/orders/purchases?status=paid,shipped&page_size=5&page_token=tok_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if captured.UserID != "buyer-1" {
		t.Fatalf("unexpected user %q", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != "paid" || captured.Status[1] != "shipped" {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "tok_1" {
		t.Fatalf("unexpected pagination %+v", captured.Pagination)
	}

	var payload orderListResponse
	decodeJSONBody(t, rec, &payload)
	if len(payload.Items) != 1 || payload.NextPageToken != "tok_next" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestSettlePaymentEndpoint(t *testing.T) {
	record := domain.SettlementRecord{
		TransactionRef: "pi_abc",
		Rail:           "stripe",
		PaymentMethod:  domain.PaymentMethodEscrow,
		Amount:         1080,
		Currency:       "UAH",
		OrderIDs:       []string{"ord_1"},
		VerifiedAt:     time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
	}
	replayed := false
	settlements := &settlementServiceStub{
		settleFn: func(_ context.Context, cmd services.SettlePaymentCommand) (services.SettlementResult, error) {
			if cmd.TransactionRef != "pi_abc" || len(cmd.OrderIDs) != 1 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.SettlementResult{Record: record, Replayed: replayed}, nil
		},
	}
	h := NewOrderHandlers(nil, nil, &orderServiceStub{}, settlements, nil)
	router := newOrdersRouter(h)

	body := `{"transaction_ref": "pi_abc", "order_ids": ["ord_1"]}`
	req := httptest.NewRequest(http.MethodPost, "/orders/settlements", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}

	replayed = true
	req = httptest.NewRequest(http.MethodPost, "/orders/settlements", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay got %d", rec.Code)
	}
	var payload settlementResponse
	decodeJSONBody(t, rec, &payload)
	if !payload.Replayed || payload.Amount != 1080 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestSettlePaymentEndpointVerificationFailure(t *testing.T) {
	settlements := &settlementServiceStub{
		settleFn: func(context.Context, services.SettlePaymentCommand) (services.SettlementResult, error) {
			return services.SettlementResult{}, fmt.Errorf("%w: amount mismatch", services.ErrPaymentVerificationFailed)
		},
	}
	h := NewOrderHandlers(nil, nil, &orderServiceStub{}, settlements, nil)
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/orders/settlements", strings.NewReader(`{"transaction_ref": "pi_abc", "order_ids": ["ord_1"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
}

func TestOpenDisputeAsBuyer(t *testing.T) {
	var captured *services.OpenDisputeCommand
	disputes := &disputeServiceStub{
		openFn: func(_ context.Context, cmd services.OpenDisputeCommand) (services.Order, error) {
			captured = &cmd
			return sampleOrder(domain.OrderStatusDisputed), nil
		},
	}
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusShipped)
			order.ID = id
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, disputes)
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/disputes", strings.NewReader(`{"reason": "item arrived broken"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured == nil || captured.Role != domain.DisputeRoleBuyer || captured.Reason != "item arrived broken" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestOpenDisputeOutsiderForbidden(t *testing.T) {
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusShipped)
			order.ID = id
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, &disputeServiceStub{})
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/disputes", strings.NewReader(`{"reason": "nope"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "user-9"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestResolveDisputeRequiresModerator(t *testing.T) {
	resolved := false
	disputes := &disputeServiceStub{
		resolveFn: func(_ context.Context, cmd services.ResolveDisputeCommand) (services.Order, error) {
			resolved = true
			if cmd.Resolution != domain.DisputeResolutionSeller {
				t.Fatalf("unexpected resolution %s", cmd.Resolution)
			}
			return sampleOrder(domain.OrderStatusCompleted), nil
		},
	}
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusDisputed)
			order.ID = id
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, disputes)
	router := newOrdersRouter(h)

	body := `{"resolution": "seller", "reason": "evidence supports the seller"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/disputes/resolve", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "buyer-1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("participants must not resolve, got %d", rec.Code)
	}
	if resolved {
		t.Fatal("resolve must not be called for non-moderators")
	}

	req = httptest.NewRequest(http.MethodPost, "/orders/ord_1/disputes/resolve", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "mod-1", auth.RoleModerator))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if !resolved {
		t.Fatal("expected resolve call")
	}
}

func TestAppendDisputeMessageUsesParticipantRole(t *testing.T) {
	var captured *services.AppendDisputeMessageCommand
	disputes := &disputeServiceStub{
		appendFn: func(_ context.Context, cmd services.AppendDisputeMessageCommand) (services.DisputeMessage, error) {
			captured = &cmd
			return services.DisputeMessage{
				ID:      "dsp_1",
				OrderID: cmd.OrderID,
				Role:    cmd.Role,
				Body:    cmd.Body,
			}, nil
		},
	}
	orders := &orderServiceStub{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			order := sampleOrder(domain.OrderStatusDisputed)
			order.ID = id
			return order, nil
		},
	}
	h := NewOrderHandlers(nil, nil, orders, nil, disputes)
	router := newOrdersRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/disputes/messages", strings.NewReader(`{"body": "photos attached"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, identified(req, "seller-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured == nil || captured.Role != domain.DisputeRoleSeller {
		t.Fatalf("unexpected command %+v", captured)
	}
}
