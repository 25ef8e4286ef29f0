package repositories

import (
	"context"
	"time"

	domain "github.com/yarmarok-dev/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	DisputeMessages() DisputeMessageRepository
	PromoCodes() PromoCodeRepository
	Settlements() SettlementRepository
	Ledger() LedgerRepository
	Users() UserRepository
	Products() ProductRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates. Insert writes the header and all
// line items as a single atomic document.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// TrackingNumberExists probes for waybill collisions before assignment.
	TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error)
}

// OrderListFilter narrows order listings by participant, status, and date range.
type OrderListFilter struct {
	BuyerID    string
	SellerID   string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// DisputeMessageRepository stores the append-only dispute thread per order.
type DisputeMessageRepository interface {
	Append(ctx context.Context, message domain.DisputeMessage) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.DisputeMessage, error)
}

// PromoCodeRepository reads promo code definitions owned by an external subsystem.
type PromoCodeRepository interface {
	FindByCode(ctx context.Context, code string) (domain.PromoCode, error)
}

// SettlementRepository keys settlement outcomes by external transaction reference.
// Insert must fail with a conflict when the reference already exists.
type SettlementRepository interface {
	Insert(ctx context.Context, record domain.SettlementRecord) error
	FindByTransactionRef(ctx context.Context, transactionRef string) (domain.SettlementRecord, error)
}

// LedgerRepository applies balance mutations as append-only entries with a
// transactionally maintained running balance per account.
type LedgerRepository interface {
	Append(ctx context.Context, accountKind domain.LedgerAccountKind, ownerID string, entry domain.LedgerEntry) (domain.LedgerEntry, error)
	Balance(ctx context.Context, accountKind domain.LedgerAccountKind, ownerID string) (int64, error)
	// FindEntryByOrder returns the first entry of the given kind applied for the
	// order, guarding double application. Absence maps to a not-found error.
	FindEntryByOrder(ctx context.Context, orderID string, kind domain.LedgerEntryKind) (domain.LedgerEntry, error)
}

// UserRepository resolves buyer/seller ids against the identity projection.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// ProductRepository resolves product ids against the catalog projection.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
