package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/platform/auth"
	"github.com/yarmarok-dev/api/internal/platform/httpx"
	"github.com/yarmarok-dev/api/internal/services"
)

const (
	defaultOrderPageSize    = 20
	maxOrderPageSize        = 100
	maxCheckoutBodySize     = 64 * 1024
	maxOrderPatchBodySize   = 4 * 1024
	maxSettlementBodySize   = 16 * 1024
	checkoutRateLimit       = 10
	checkoutRateLimitWindow = time.Minute
)

// patchableStatuses maps PATCH targets to the roles allowed to request them.
// Payment confirmation and dispute transitions have dedicated surfaces and are
// rejected here.
var patchableStatuses = map[domain.OrderStatus][]string{
	domain.OrderStatusShipped:   {auth.RoleSeller, auth.RoleAdmin},
	domain.OrderStatusDelivered: {auth.RoleBuyer, auth.RoleAdmin},
	domain.OrderStatusCompleted: {auth.RoleBuyer, auth.RoleAdmin},
	domain.OrderStatusCancelled: {auth.RoleAdmin},
}

// OrderHandlers exposes checkout, order lifecycle, and settlement endpoints
// for authenticated users.
type OrderHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	orders      services.OrderService
	settlements services.SettlementService
	disputes    services.DisputeService
	limiter     rateLimiter
	settleMW    []func(http.Handler) http.Handler
}

// OrderHandlersOption customises order handler construction.
type OrderHandlersOption func(*OrderHandlers)

// WithSettlementMiddleware wraps the settlement endpoint, typically with the
// idempotency middleware.
func WithSettlementMiddleware(mw ...func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.settleMW = append(h.settleMW, mw...)
	}
}

// WithCheckoutRateLimiter bounds checkout attempts per buyer.
func WithCheckoutRateLimiter(limit int, window time.Duration) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs the order handler group.
func NewOrderHandlers(
	authn *auth.Authenticator,
	checkout services.CheckoutService,
	orders services.OrderService,
	settlements services.SettlementService,
	disputes services.DisputeService,
	opts ...OrderHandlersOption,
) *OrderHandlers {
	h := &OrderHandlers{
		authn:       authn,
		checkout:    checkout,
		orders:      orders,
		settlements: settlements,
		disputes:    disputes,
		limiter:     newSimpleRateLimiter(checkoutRateLimit, checkoutRateLimitWindow, nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.checkoutCart)
	r.Get("/purchases", h.listPurchases)
	r.Get("/sales", h.listSales)
	r.With(h.settleMW...).Post("/settlements", h.settlePayment)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.patchOrder)
	r.Post("/{orderID}/generate-waybill", h.generateWaybill)
	h.registerDisputeRoutes(r)
}

type checkoutItemRequest struct {
	ProductID string  `json:"product_id"`
	SellerID  string  `json:"seller_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int64   `json:"quantity"`
	UnitPrice int64   `json:"unit_price"`
	Kind      string  `json:"kind"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items"`
	ShippingMethod  string                `json:"shipping_method"`
	ShippingAddress addressPayload        `json:"shipping_address"`
	PaymentMethod   string                `json:"payment_method"`
	PromoCode       string                `json:"promo_code"`
	TransactionRef  string                `json:"transaction_ref"`
	Currency        string                `json:"currency"`
}

type partitionOutcomePayload struct {
	SellerID      string `json:"seller_id"`
	OrderID       string `json:"order_id,omitempty"`
	Total         int64  `json:"total,omitempty"`
	Created       bool   `json:"created"`
	FailureCode   string `json:"failure_code,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	PromoApplied  bool   `json:"promo_applied,omitempty"`
	PromoReason   string `json:"promo_reason,omitempty"`
}

type checkoutResponse struct {
	Outcomes        []partitionOutcomePayload `json:"outcomes"`
	OrdersCreated   int                       `json:"orders_created"`
	Settled         bool                      `json:"settled,omitempty"`
	SettlementError string                    `json:"settlement_error,omitempty"`
}

func (h *OrderHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "items must contain at least one entry", http.StatusBadRequest))
		return
	}

	items := make([]services.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CartItem{
			ProductID: strings.TrimSpace(item.ProductID),
			SellerID:  strings.TrimSpace(item.SellerID),
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Kind:      domain.PurchaseKind(strings.ToLower(strings.TrimSpace(item.Kind))),
		})
	}

	cmd := services.CheckoutCommand{
		BuyerID:         identity.UID,
		Items:           items,
		ShippingMethod:  domain.ShippingMethod(strings.ToLower(strings.TrimSpace(req.ShippingMethod))),
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		PromoCode:       strings.TrimSpace(req.PromoCode),
		TransactionRef:  strings.TrimSpace(req.TransactionRef),
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := checkoutResponse{
		Outcomes:        make([]partitionOutcomePayload, 0, len(result.Outcomes)),
		OrdersCreated:   result.OrdersCreated,
		Settled:         result.Settled,
		SettlementError: result.SettlementError,
	}
	for _, outcome := range result.Outcomes {
		payload.Outcomes = append(payload.Outcomes, partitionOutcomePayload{
			SellerID:      outcome.SellerID,
			OrderID:       outcome.OrderID,
			Total:         outcome.Total,
			Created:       outcome.Created,
			FailureCode:   outcome.FailureCode,
			FailureReason: outcome.FailureReason,
			PromoApplied:  outcome.PromoApplied,
			PromoReason:   outcome.PromoReason,
		})
	}

	// Checkout succeeds iff at least one partition produced an order; the
	// outcome list is returned either way so no failure stays silent.
	status := http.StatusCreated
	if result.OrdersCreated == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSONResponse(w, status, payload)
}

func (h *OrderHandlers) listPurchases(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, func(ctx context.Context, query services.ListOrdersQuery) (domain.CursorPage[services.Order], error) {
		return h.orders.ListPurchases(ctx, query)
	})
}

func (h *OrderHandlers) listSales(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, func(ctx context.Context, query services.ListOrdersQuery) (domain.CursorPage[services.Order], error) {
		return h.orders.ListSales(ctx, query)
	})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request, list func(context.Context, services.ListOrdersQuery) (domain.CursorPage[services.Order], error)) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := list(ctx, services.ListOrdersQuery{
		UserID: strings.TrimSpace(identity.UID),
		Status: parseFilterValues(query["status"]),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, order, ok := h.loadOrderForIdentity(w, r)
	if !ok {
		return
	}

	if !canViewOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type patchOrderRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	TrackingNumber string `json:"tracking_number"`
}

func (h *OrderHandlers) patchOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, order, ok := h.loadOrderForIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderPatchBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req patchOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	roles, patchable := patchableStatuses[target]
	if !patchable {
		switch target {
		case domain.OrderStatusPaid:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paid is assigned by payment settlement, not by status update", http.StatusBadRequest))
		case domain.OrderStatusDisputed:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "disputes are opened via the dispute endpoints", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of shipped, delivered, completed, cancelled", http.StatusBadRequest))
		}
		return
	}

	tracking := strings.TrimSpace(req.TrackingNumber)
	if tracking != "" && target != domain.OrderStatusShipped {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "tracking_number is only accepted with the shipped status", http.StatusBadRequest))
		return
	}

	if !h.authoriseTransition(identity, order, roles) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to apply this status", http.StatusForbidden))
		return
	}

	updated, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:        order.ID,
		TargetStatus:   target,
		ActorID:        identity.UID,
		Reason:         strings.TrimSpace(req.Reason),
		TrackingNumber: tracking,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

func (h *OrderHandlers) generateWaybill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, order, ok := h.loadOrderForIdentity(w, r)
	if !ok {
		return
	}

	if !identityMatches(identity, order.SellerID) && !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "only the seller may issue a waybill", http.StatusForbidden))
		return
	}

	updated, err := h.orders.GenerateWaybill(ctx, services.GenerateWaybillCommand{
		OrderID: order.ID,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

type settlePaymentRequest struct {
	TransactionRef string   `json:"transaction_ref"`
	OrderIDs       []string `json:"order_ids"`
}

type settlementResponse struct {
	TransactionRef string   `json:"transaction_ref"`
	Rail           string   `json:"rail"`
	PaymentMethod  string   `json:"payment_method"`
	Amount         int64    `json:"amount"`
	Currency       string   `json:"currency"`
	OrderIDs       []string `json:"order_ids"`
	VerifiedAt     string   `json:"verified_at"`
	Replayed       bool     `json:"replayed"`
}

func (h *OrderHandlers) settlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlements == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxSettlementBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req settlePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.settlements.SettlePayment(ctx, services.SettlePaymentCommand{
		TransactionRef: strings.TrimSpace(req.TransactionRef),
		OrderIDs:       req.OrderIDs,
		ActorID:        identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, buildSettlementPayload(result))
}

func buildSettlementPayload(result services.SettlementResult) settlementResponse {
	return settlementResponse{
		TransactionRef: result.Record.TransactionRef,
		Rail:           result.Record.Rail,
		PaymentMethod:  string(result.Record.PaymentMethod),
		Amount:         result.Record.Amount,
		Currency:       result.Record.Currency,
		OrderIDs:       append([]string(nil), result.Record.OrderIDs...),
		VerifiedAt:     formatTime(result.Record.VerifiedAt),
		Replayed:       result.Replayed,
	}
}

// loadOrderForIdentity resolves the authenticated identity and the addressed
// order, writing the error response itself when either is missing.
func (h *OrderHandlers) loadOrderForIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, services.Order, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, services.Order{}, false
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, services.Order{}, false
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return nil, services.Order{}, false
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return nil, services.Order{}, false
	}
	return identity, order, true
}

func (h *OrderHandlers) authoriseTransition(identity *auth.Identity, order services.Order, roles []string) bool {
	if identity.HasRole(auth.RoleAdmin) {
		return true
	}
	for _, role := range roles {
		switch role {
		case auth.RoleBuyer:
			if identityMatches(identity, order.BuyerID) {
				return true
			}
		case auth.RoleSeller:
			if identityMatches(identity, order.SellerID) {
				return true
			}
		}
	}
	return false
}

func canViewOrder(identity *auth.Identity, order services.Order) bool {
	if identityMatches(identity, order.BuyerID) || identityMatches(identity, order.SellerID) {
		return true
	}
	return identity.HasAnyRole(auth.RoleModerator, auth.RoleAdmin)
}

func identityMatches(identity *auth.Identity, userID string) bool {
	if identity == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(identity.UID), strings.TrimSpace(userID))
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderSummaryPayload struct {
	ID             string `json:"id"`
	Number         string `json:"number,omitempty"`
	BuyerID        string `json:"buyer_id"`
	SellerID       string `json:"seller_id"`
	Status         string `json:"status"`
	Currency       string `json:"currency"`
	Total          int64  `json:"total"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type orderPayload struct {
	ID              string              `json:"id"`
	Number          string              `json:"number,omitempty"`
	BuyerID         string              `json:"buyer_id"`
	SellerID        string              `json:"seller_id"`
	Status          string              `json:"status"`
	Currency        string              `json:"currency"`
	Totals          orderTotalsPayload  `json:"totals"`
	Items           []orderItemPayload  `json:"items"`
	PromoCodeID     *string             `json:"promo_code_id,omitempty"`
	ShippingMethod  string              `json:"shipping_method"`
	ShippingAddress addressPayload      `json:"shipping_address"`
	PaymentMethod   string              `json:"payment_method"`
	TrackingNumber  string              `json:"tracking_number,omitempty"`
	TransactionRef  string              `json:"transaction_ref,omitempty"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at,omitempty"`
	PaidAt          string              `json:"paid_at,omitempty"`
	ShippedAt       string              `json:"shipped_at,omitempty"`
	DeliveredAt     string              `json:"delivered_at,omitempty"`
	DisputedAt      string              `json:"disputed_at,omitempty"`
	CompletedAt     string              `json:"completed_at,omitempty"`
	CancelledAt     string              `json:"cancelled_at,omitempty"`
	CancelReason    string              `json:"cancel_reason,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	AddOns   int64 `json:"add_ons"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Category    string  `json:"category,omitempty"`
	VariantID   *string `json:"variant_id,omitempty"`
	Quantity    int64   `json:"quantity"`
	UnitPrice   int64   `json:"unit_price"`
	Kind        string  `json:"kind"`
	Subtotal    int64   `json:"subtotal"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:             strings.TrimSpace(order.ID),
		Number:         strings.TrimSpace(order.Number),
		BuyerID:        strings.TrimSpace(order.BuyerID),
		SellerID:       strings.TrimSpace(order.SellerID),
		Status:         string(order.Status),
		Currency:       strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:          order.Totals.Total,
		TrackingNumber: trimOrEmpty(order.TrackingNumber),
		CreatedAt:      formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:       strings.TrimSpace(order.ID),
		Number:   strings.TrimSpace(order.Number),
		BuyerID:  strings.TrimSpace(order.BuyerID),
		SellerID: strings.TrimSpace(order.SellerID),
		Status:   string(order.Status),
		Currency: strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Shipping: order.Totals.Shipping,
			AddOns:   order.Totals.AddOns,
			Total:    order.Totals.Total,
		},
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		PromoCodeID:     order.PromoCodeID,
		ShippingMethod:  string(order.ShippingMethod),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		PaymentMethod:   string(order.PaymentMethod),
		TrackingNumber:  trimOrEmpty(order.TrackingNumber),
		TransactionRef:  trimOrEmpty(order.TransactionRef),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		PaidAt:          formatTime(pointerTime(order.PaidAt)),
		ShippedAt:       formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:     formatTime(pointerTime(order.DeliveredAt)),
		DisputedAt:      formatTime(pointerTime(order.DisputedAt)),
		CompletedAt:     formatTime(pointerTime(order.CompletedAt)),
		CancelledAt:     formatTime(pointerTime(order.CancelledAt)),
		CancelReason:    trimOrEmpty(order.CancelReason),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Category:    item.Category,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Kind:        string(item.Kind),
			Subtotal:    item.Subtotal(),
		})
	}

	return payload
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReferenceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("reference_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrPromoInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("promo_invalid", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShippingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_unavailable", err.Error(), http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
