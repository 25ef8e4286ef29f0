package domain

import "time"

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending marks an order awaiting payment settlement.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid marks an order whose payment has been confirmed.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped marks an order with an issued waybill.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered marks an order whose receipt the buyer confirmed.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusDisputed marks an order under dispute review.
	OrderStatusDisputed OrderStatus = "disputed"
	// OrderStatusCompleted is terminal; escrowed funds are released to the seller.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions may be applied.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// PaymentMethod distinguishes platform custody from peer-to-peer settlement.
type PaymentMethod string

const (
	// PaymentMethodEscrow routes funds through the platform treasury until release.
	PaymentMethodEscrow PaymentMethod = "escrow"
	// PaymentMethodDirect sends funds straight to the seller; the engine records the reference only.
	PaymentMethodDirect PaymentMethod = "direct"
)

// PurchaseKind classifies a line item's pricing tier.
type PurchaseKind string

const (
	PurchaseKindRetail    PurchaseKind = "retail"
	PurchaseKindWholesale PurchaseKind = "wholesale"
)

// ShippingMethod enumerates supported carriers.
type ShippingMethod string

const (
	// ShippingMethodCourier is the commercial courier network.
	ShippingMethodCourier ShippingMethod = "courier"
	// ShippingMethodNationalPost is the national postal operator.
	ShippingMethodNationalPost ShippingMethod = "national_post"
)

// Address is the shipping destination snapshot copied onto an order at creation.
// Later edits to the buyer's address book never touch persisted orders.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	Region     *string
	PostalCode string
	Country    string
	Phone      *string
}

// CartItem is the request-scoped checkout input. Carts are owned by the client;
// the engine never persists them.
type CartItem struct {
	ProductID string
	SellerID  string
	VariantID *string
	Quantity  int64
	// UnitPrice is the price captured when the item was added to the cart,
	// in the smallest currency unit.
	UnitPrice int64
	Kind      PurchaseKind
}

// OrderItem snapshots a cart item at purchase time. An item belongs to exactly
// one order and never outlives it.
type OrderItem struct {
	ID          string
	ProductID   string
	ProductName string
	Category    string
	VariantID   *string
	Quantity    int64
	UnitPrice   int64
	Kind        PurchaseKind
}

// Subtotal returns quantity times the purchase-time unit price.
func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * i.Quantity
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
// Total never goes below zero and is frozen once status leaves pending.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	AddOns   int64
	Total    int64
}

// Order is the aggregate owned by the engine: exactly one buyer, exactly one
// seller, a non-empty ordered item list, and a monotonic status.
type Order struct {
	ID              string
	BuyerID         string
	SellerID        string
	Number          string
	Status          OrderStatus
	Currency        string
	Totals          OrderTotals
	Items           []OrderItem
	PromoCodeID     *string
	ShippingMethod  ShippingMethod
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	TrackingNumber  *string
	TransactionRef  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	DisputedAt      *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	CancelReason    *string
}

// OrderPlan is one seller partition of a checkout cart, independently
// committable as a single order.
type OrderPlan struct {
	SellerID       string
	Items          []OrderItem
	Subtotal       int64
	Currency       string
	ShippingMethod ShippingMethod
}

// PromoScope restricts where a promo code may apply.
type PromoScope string

const (
	PromoScopeGlobal   PromoScope = "global"
	PromoScopeCategory PromoScope = "category"
	PromoScopeSeller   PromoScope = "seller"
)

// DiscountType selects the discount formula.
type DiscountType string

const (
	// DiscountTypePercentage discounts subtotal*value/100.
	DiscountTypePercentage DiscountType = "percentage"
	// DiscountTypeFixedAmount discounts min(value, subtotal) per seller partition.
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

// PromoCode is an external aggregate consumed read-only: the engine validates
// and applies, it never owns the code lifecycle.
type PromoCode struct {
	ID          string
	Code        string
	Scope       PromoScope
	SellerID    *string
	Category    *string
	Type        DiscountType
	Value       int64
	MinPurchase int64
	Active      bool
	StartsAt    *time.Time
	EndsAt      *time.Time
}

// DisputeRole identifies who authored a dispute thread message.
type DisputeRole string

const (
	DisputeRoleBuyer     DisputeRole = "buyer"
	DisputeRoleSeller    DisputeRole = "seller"
	DisputeRoleModerator DisputeRole = "moderator"
)

// DisputeResolution records the moderation outcome of a dispute.
type DisputeResolution string

const (
	// DisputeResolutionBuyer cancels the order in the buyer's favor.
	DisputeResolutionBuyer DisputeResolution = "buyer"
	// DisputeResolutionSeller completes the order in the seller's favor.
	DisputeResolutionSeller DisputeResolution = "seller"
)

// DisputeMessage is one entry of the append-only thread keyed by order id.
type DisputeMessage struct {
	ID        string
	OrderID   string
	AuthorID  string
	Role      DisputeRole
	Body      string
	CreatedAt time.Time
}

// SettlementRecord persists the outcome of one settlement, keyed by the
// external transaction reference. A replayed reference returns this record
// unchanged instead of settling again.
type SettlementRecord struct {
	TransactionRef string
	Rail           string
	PaymentMethod  PaymentMethod
	Amount         int64
	Currency       string
	Recipient      string
	OrderIDs       []string
	VerifiedAt     time.Time
	CreatedAt      time.Time
}

// LedgerAccountKind distinguishes platform custody from seller balances.
type LedgerAccountKind string

const (
	// LedgerAccountTreasury is the platform-held escrow custody account.
	LedgerAccountTreasury LedgerAccountKind = "treasury"
	// LedgerAccountSeller is a seller's withdrawable balance.
	LedgerAccountSeller LedgerAccountKind = "seller"
)

// LedgerEntryKind classifies balance mutations.
type LedgerEntryKind string

const (
	// LedgerEntryEscrowHold records funds entering platform custody.
	LedgerEntryEscrowHold LedgerEntryKind = "escrow_hold"
	// LedgerEntryEscrowRelease moves held funds to the seller balance.
	LedgerEntryEscrowRelease LedgerEntryKind = "escrow_release"
)

// LedgerEntry is an append-only balance mutation. The running balance lives
// on the account, maintained atomically alongside each append.
type LedgerEntry struct {
	ID             string
	AccountID      string
	OrderID        string
	TransactionRef string
	Kind           LedgerEntryKind
	Amount         int64
	Currency       string
	CreatedAt      time.Time
}

// User is the engine's read-only projection of the external identity record.
type User struct {
	ID            string
	DisplayName   string
	WalletAddress string
	Roles         []string
	IsActive      bool
	CreatedAt     time.Time
}

// HasRole reports whether the user carries the given role claim.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Product is the engine's read-only catalog projection used for snapshotting.
type Product struct {
	ID       string
	SellerID string
	Name     string
	Category string
	Price    int64
	Currency string
	Variants []string
	Active   bool
}

// Health status values reported by dependency probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck captures one dependency probe outcome.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport summarises downstream dependency status for readiness checks.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
