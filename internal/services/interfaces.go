package services

import (
	"context"
	"time"

	domain "github.com/yarmarok-dev/api/internal/domain"
	"github.com/yarmarok-dev/api/internal/repositories"
)

// Domain aliases keep service and handler signatures terse.
type (
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderPlan        = domain.OrderPlan
	OrderTotals      = domain.OrderTotals
	CartItem         = domain.CartItem
	Address          = domain.Address
	PromoCode        = domain.PromoCode
	DisputeMessage   = domain.DisputeMessage
	SettlementRecord = domain.SettlementRecord
	LedgerEntry      = domain.LedgerEntry
)

// OrderListFilter re-exports the repository filter for handler use.
type OrderListFilter = repositories.OrderListFilter

// Clock supplies the current time; implementations normalise to UTC.
type Clock func() time.Time

// IDGenerator mints opaque identifiers (ULIDs in production wiring).
type IDGenerator func() string

// Logger receives structured service events. A nil logger is a no-op.
type Logger func(ctx context.Context, event string, fields map[string]any)

// OrderPlanner partitions a flat cart by seller and prices each partition.
// Planning is all-or-nothing: any unresolvable product or seller reference
// fails the whole call with ErrReferenceNotFound.
type OrderPlanner interface {
	PlanOrders(ctx context.Context, cmd PlanOrdersCommand) ([]OrderPlan, error)
}

// PlanOrdersCommand carries the checkout cart into the planner.
type PlanOrdersCommand struct {
	BuyerID        string
	Items          []CartItem
	ShippingMethod domain.ShippingMethod
	Currency       string
}

// DiscountEngine validates promo codes against a seller partition.
type DiscountEngine interface {
	Validate(ctx context.Context, cmd ValidatePromoCommand) (PromoApplication, error)
}

// ValidatePromoCommand targets one seller partition's line items.
type ValidatePromoCommand struct {
	Code     string
	SellerID string
	Items    []OrderItem
}

// PromoApplication is the successful validation outcome. The caller computes
// the currency discount via Amount.
type PromoApplication struct {
	CodeID string
	Code   string
	Type   domain.DiscountType
	Value  int64
}

// Amount computes the discount for a partition subtotal. Percentage values
// take subtotal*value/100; fixed amounts are capped at the subtotal so a
// discount can never drive a total negative.
func (a PromoApplication) Amount(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	var discount int64
	switch a.Type {
	case domain.DiscountTypePercentage:
		discount = subtotal * a.Value / 100
	case domain.DiscountTypeFixedAmount:
		discount = a.Value
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return discount
}

// ShippingQuoteRequest asks the carrier boundary for a partition's cost.
type ShippingQuoteRequest struct {
	SellerID string
	Items    []OrderItem
	Method   domain.ShippingMethod
}

// ShippingResolver is the external carrier-rate boundary. Quote returns a
// non-negative cost or an error the orchestrator surfaces as
// ErrShippingUnavailable for the affected partition.
type ShippingResolver interface {
	Quote(ctx context.Context, req ShippingQuoteRequest) (int64, error)
}

// OrderService owns the order aggregate and its state machine.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListPurchases(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error)
	ListSales(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	GenerateWaybill(ctx context.Context, cmd GenerateWaybillCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CreateOrderCommand persists one planned seller partition as an order.
type CreateOrderCommand struct {
	BuyerID         string
	Plan            OrderPlan
	PromoCodeID     *string
	Discount        int64
	ShippingCost    int64
	AddOns          int64
	ShippingAddress Address
	PaymentMethod   domain.PaymentMethod
	ActorID         string
}

// ListOrdersQuery selects orders by participant, newest first.
type ListOrdersQuery struct {
	UserID     string
	Status     []string
	Pagination domain.Pagination
}

// OrderStatusTransitionCommand requests one state-machine step.
// TrackingNumber optionally assigns or corrects the carrier tracking number;
// it is accepted only with the shipped target.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   domain.OrderStatus
	ActorID        string
	Reason         string
	TrackingNumber string
}

// GenerateWaybillCommand issues a tracking number and ships the order.
type GenerateWaybillCommand struct {
	OrderID string
	ActorID string
}

// CancelOrderCommand is the administrative cancellation path.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// CheckoutService orchestrates multi-seller checkout with partition-level
// atomicity: each seller partition commits or fails independently.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// CheckoutCommand is the POST /orders payload after validation.
type CheckoutCommand struct {
	BuyerID         string
	Items           []CartItem
	ShippingMethod  domain.ShippingMethod
	ShippingAddress Address
	PaymentMethod   domain.PaymentMethod
	PromoCode       string
	// TransactionRef, when present, is verified synchronously so orders are
	// created already paid. Absent, orders start pending and settle later.
	TransactionRef string
	Currency       string
}

// PartitionOutcome reports one seller partition's result. Skipped partitions
// carry a failure code and reason; silence on failure is forbidden.
type PartitionOutcome struct {
	SellerID      string
	OrderID       string
	Total         int64
	Created       bool
	FailureCode   string
	FailureReason string
	PromoApplied  bool
	PromoReason   string
}

// CheckoutResult aggregates per-seller outcomes for the caller. When a
// transaction reference was supplied, Settled reports whether the created
// orders were marked paid in the same request; otherwise they remain pending.
type CheckoutResult struct {
	Outcomes        []PartitionOutcome
	OrdersCreated   int
	Settled         bool
	SettlementError string
}

// SettlementService correlates externally verified payments with orders.
type SettlementService interface {
	// SettlePayment is idempotent per transaction reference: a replay returns
	// the stored record without side effects.
	SettlePayment(ctx context.Context, cmd SettlePaymentCommand) (SettlementResult, error)
	// ReleaseEscrow moves a settled order's funds from platform custody to the
	// seller's withdrawable balance. Applied at most once per order.
	ReleaseEscrow(ctx context.Context, cmd ReleaseEscrowCommand) (LedgerEntry, error)
	// WatchConfirmation polls the payment rail until the reference confirms,
	// then settles. Fire-and-forget: it returns immediately and stops when the
	// supplied context is cancelled.
	WatchConfirmation(ctx context.Context, cmd WatchConfirmationCommand)
}

// SettlePaymentCommand correlates one transaction reference with the orders
// created in a checkout session.
type SettlePaymentCommand struct {
	TransactionRef string
	OrderIDs       []string
	ActorID        string
}

// SettlementResult carries the settlement record; Replayed marks an
// idempotent no-op.
type SettlementResult struct {
	Record   SettlementRecord
	Replayed bool
}

// EscrowReleaser is the narrow release capability the order and dispute
// services need; the settlement service satisfies it.
type EscrowReleaser interface {
	ReleaseEscrow(ctx context.Context, cmd ReleaseEscrowCommand) (LedgerEntry, error)
}

// ReleaseEscrowCommand names the release trigger for the audit trail.
type ReleaseEscrowCommand struct {
	OrderID string
	Trigger string
	ActorID string
}

// WatchConfirmationCommand configures the background confirmation poll.
type WatchConfirmationCommand struct {
	TransactionRef string
	OrderIDs       []string
	Interval       time.Duration
	Timeout        time.Duration
}

// DisputeService owns the post-sale dispute workflow.
type DisputeService interface {
	Open(ctx context.Context, cmd OpenDisputeCommand) (Order, error)
	AppendMessage(ctx context.Context, cmd AppendDisputeMessageCommand) (DisputeMessage, error)
	ListMessages(ctx context.Context, orderID string) ([]DisputeMessage, error)
	Resolve(ctx context.Context, cmd ResolveDisputeCommand) (Order, error)
}

// OpenDisputeCommand opens a dispute on a shipped or delivered order.
type OpenDisputeCommand struct {
	OrderID string
	ActorID string
	Role    domain.DisputeRole
	Reason  string
}

// AppendDisputeMessageCommand appends one message to the order's thread.
type AppendDisputeMessageCommand struct {
	OrderID string
	ActorID string
	Role    domain.DisputeRole
	Body    string
}

// ResolveDisputeCommand closes a dispute with a moderation decision.
type ResolveDisputeCommand struct {
	OrderID    string
	Resolution domain.DisputeResolution
	ActorID    string
	Reason     string
}

// SystemService reports process and dependency health for probes.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
}
