package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventWaybillIssued = "order.waybill.issued"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"

	orderNumberCounter = "orders:number"
)

// orderStateTransitions encodes the forward-only lifecycle graph. Cancelled is
// reachable from every non-terminal state (administrative cancellation).
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:      {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:   {domain.OrderStatusDelivered, domain.OrderStatusDisputed, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered: {domain.OrderStatusCompleted, domain.OrderStatusDisputed, domain.OrderStatusCancelled},
	domain.OrderStatusDisputed:  {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Locks       *OrderLocks
	Escrow      EscrowReleaser
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork
	locks      *OrderLocks
	escrow     EscrowReleaser
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	locks := deps.Locks
	if locks == nil {
		locks = NewOrderLocks()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		counters:   deps.Counters,
		unitOfWork: unit,
		locks:      locks,
		escrow:     deps.Escrow,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrInvalidInput)
	}
	sellerID := strings.TrimSpace(cmd.Plan.SellerID)
	if sellerID == "" {
		return Order{}, fmt.Errorf("%w: seller id is required", ErrInvalidInput)
	}
	if len(cmd.Plan.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrInvalidInput)
	}
	currency := strings.TrimSpace(cmd.Plan.Currency)
	if currency == "" {
		return Order{}, fmt.Errorf("%w: currency is required", ErrInvalidInput)
	}
	if cmd.ShippingCost < 0 {
		return Order{}, fmt.Errorf("%w: shipping cost cannot be negative", ErrInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodEscrow, domain.PaymentMethodDirect:
	default:
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, cmd.PaymentMethod)
	}

	now := s.now()
	items := make([]OrderItem, len(cmd.Plan.Items))
	var subtotal int64
	for i, item := range cmd.Plan.Items {
		if item.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: item quantity must be at least 1", ErrInvalidInput)
		}
		copied := item
		if strings.TrimSpace(copied.ID) == "" {
			copied.ID = orderItemIDPrefix + s.newID()
		}
		copied.VariantID = cloneStringPtr(item.VariantID)
		items[i] = copied
		subtotal += copied.Subtotal()
	}

	number := ""
	if s.counters != nil {
		seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		number = fmt.Sprintf("YA-%08d", seq)
	}

	order := Order{
		ID:              orderIDPrefix + s.newID(),
		Number:          number,
		BuyerID:         buyerID,
		SellerID:        sellerID,
		Status:          domain.OrderStatusPending,
		Currency:        currency,
		Totals:          buildOrderTotals(subtotal, cmd.Discount, cmd.ShippingCost, cmd.AddOns),
		Items:           items,
		PromoCodeID:     cloneStringPtr(cmd.PromoCodeID),
		ShippingMethod:  cmd.Plan.ShippingMethod,
		ShippingAddress: cloneAddress(cmd.ShippingAddress),
		PaymentMethod:   cmd.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CurrentStatus: string(order.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    now,
		Metadata: map[string]any{
			"sellerId": sellerID,
			"total":    order.Totals.Total,
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListPurchases(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(query.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		BuyerID:    userID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListSales(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(query.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		SellerID:   userID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	target := cmd.TargetStatus
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrInvalidInput)
	}
	tracking := strings.ToUpper(strings.TrimSpace(cmd.TrackingNumber))
	if tracking != "" {
		if target != domain.OrderStatusShipped {
			return Order{}, fmt.Errorf("%w: tracking number is only set on shipped orders", ErrInvalidInput)
		}
		if !validTrackingNumber(tracking) {
			return Order{}, fmt.Errorf("%w: tracking number must be 8-32 letters and digits", ErrInvalidInput)
		}
	}

	unlock := s.locks.Acquire(orderID)
	defer unlock()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()
	prevStatus := order.Status

	changed, err := applyStatusTransition(&order, target, now)
	if err != nil {
		return Order{}, err
	}

	trackingChanged := false
	if tracking != "" && (order.TrackingNumber == nil || *order.TrackingNumber != tracking) {
		exists, err := s.orders.TrackingNumberExists(ctx, tracking)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		if exists {
			return Order{}, fmt.Errorf("%w: tracking number %s is already assigned", ErrOrderConflict, tracking)
		}
		order.TrackingNumber = &tracking
		order.UpdatedAt = now
		trackingChanged = true
	}

	if !changed {
		// A seller may correct the tracking number while the order stays
		// shipped; that is the only write a repeated transition performs.
		if trackingChanged {
			err = s.runInTx(ctx, func(txCtx context.Context) error {
				if err := s.orders.Update(txCtx, order); err != nil {
					return s.mapRepositoryError(err)
				}
				return nil
			})
			if err != nil {
				return Order{}, err
			}
		}
		// Retried request; the transition already happened. Escrow release is
		// re-attempted so a retry heals a previously failed release.
		if err := s.maybeReleaseEscrow(ctx, order, releaseTriggerFor(target), actor); err != nil {
			return Order{}, err
		}
		return order, nil
	}

	if target == domain.OrderStatusCancelled {
		if reason := strings.TrimSpace(cmd.Reason); reason != "" {
			order.CancelReason = &reason
		}
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if err := s.maybeReleaseEscrow(ctx, order, releaseTriggerFor(target), actor); err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}
	if trackingChanged {
		metadata["trackingNumber"] = tracking
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

func (s *orderService) GenerateWaybill(ctx context.Context, cmd GenerateWaybillCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	unlock := s.locks.Acquire(orderID)
	defer unlock()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if order.Status == domain.OrderStatusShipped && order.TrackingNumber != nil {
		return order, nil
	}
	if order.Status != domain.OrderStatusPaid {
		return Order{}, fmt.Errorf("%w: waybill requires paid order, was %q", ErrOrderInvalidState, order.Status)
	}

	tracking, err := s.assignTrackingNumber(ctx, order.ShippingMethod)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	prevStatus := order.Status
	order.TrackingNumber = &tracking
	if _, err := applyStatusTransition(&order, domain.OrderStatusShipped, now); err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventWaybillIssued,
		OrderID:        order.ID,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata: map[string]any{
			"trackingNumber": tracking,
		},
	})

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      cmd.OrderID,
		TargetStatus: domain.OrderStatusCancelled,
		ActorID:      cmd.ActorID,
		Reason:       cmd.Reason,
	})
}

// assignTrackingNumber derives a carrier-format number from fresh ULID entropy
// and probes the repository for collisions. The source system skipped the
// uniqueness check; one probe plus a single retry closes that gap.
func (s *orderService) assignTrackingNumber(ctx context.Context, method domain.ShippingMethod) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		tracking := formatTrackingNumber(method, s.newID())
		exists, err := s.orders.TrackingNumberExists(ctx, tracking)
		if err != nil {
			return "", s.mapRepositoryError(err)
		}
		if !exists {
			return tracking, nil
		}
	}
	return "", fmt.Errorf("%w: tracking number collision", ErrOrderConflict)
}

// validTrackingNumber accepts normalised carrier numbers: 8 to 32 uppercase
// letters and digits covers both national-post and courier formats.
func validTrackingNumber(tracking string) bool {
	if len(tracking) < 8 || len(tracking) > 32 {
		return false
	}
	for _, r := range tracking {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func formatTrackingNumber(method domain.ShippingMethod, seed string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	num := h.Sum64()
	if method == domain.ShippingMethodNationalPost {
		return fmt.Sprintf("RR%09dUA", num%1_000_000_000)
	}
	return fmt.Sprintf("59%012d", num%1_000_000_000_000)
}

// maybeReleaseEscrow releases custody after delivery confirmation or a
// seller-favorable resolution. The release itself is idempotent, so calling
// it on retried transitions is safe.
func (s *orderService) maybeReleaseEscrow(ctx context.Context, order Order, trigger string, actorID string) error {
	if trigger == "" || s.escrow == nil {
		return nil
	}
	if order.PaymentMethod != domain.PaymentMethodEscrow {
		return nil
	}
	if order.PaidAt == nil || order.TransactionRef == nil {
		return nil
	}
	_, err := s.escrow.ReleaseEscrow(ctx, ReleaseEscrowCommand{
		OrderID: order.ID,
		Trigger: trigger,
		ActorID: actorID,
	})
	return err
}

func releaseTriggerFor(target domain.OrderStatus) string {
	if target == domain.OrderStatusDelivered {
		return "delivery_confirmed"
	}
	return ""
}

// applyStatusTransition mutates the order in place. It returns false when the
// order is already in the target state (idempotent retry), and
// ErrOrderInvalidState for any step not present in the lifecycle graph.
func applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) (bool, error) {
	current := order.Status
	if current == target {
		return false, nil
	}
	if current.Terminal() {
		return false, fmt.Errorf("%w: order is %s", ErrOrderInvalidState, current)
	}
	if !canTransition(current, target) {
		return false, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusDisputed:
		order.DisputedAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}

	return true, nil
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapRepositoryError(err)
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReferenceNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// buildOrderTotals clamps the grand total at zero: a discount can wipe out the
// subtotal but never produce a negative order.
func buildOrderTotals(subtotal, discount, shipping, addOns int64) OrderTotals {
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	total := subtotal - discount + shipping + addOns
	if total < 0 {
		total = 0
	}
	return OrderTotals{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		AddOns:   addOns,
		Total:    total,
	}
}

func cloneAddress(addr Address) Address {
	cloned := addr
	cloned.Line2 = cloneStringPtr(addr.Line2)
	cloned.Region = cloneStringPtr(addr.Region)
	cloned.Phone = cloneStringPtr(addr.Phone)
	return cloned
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
