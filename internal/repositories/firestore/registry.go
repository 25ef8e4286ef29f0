package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/yarmarok-dev/api/internal/platform/firestore"
	"github.com/yarmarok-dev/api/internal/repositories"
)

type txContextKey struct{}

// txFromContext returns the transaction started by Registry.RunInTx, if any.
// Repositories route their reads and writes through it so a unit of work
// commits atomically.
func txFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// Registry wires the Firestore-backed repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider

	orders      *OrderRepository
	disputes    *DisputeMessageRepository
	promoCodes  *PromoCodeRepository
	settlements *SettlementRepository
	ledger      *LedgerRepository
	users       *UserRepository
	products    *ProductRepository
	counters    *CounterRepository
	health      repositories.HealthRepository
}

// NewRegistry constructs all repositories over a shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	disputes, err := NewDisputeMessageRepository(provider)
	if err != nil {
		return nil, err
	}
	promoCodes, err := NewPromoCodeRepository(provider)
	if err != nil {
		return nil, err
	}
	settlements, err := NewSettlementRepository(provider)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedgerRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:    provider,
		orders:      orders,
		disputes:    disputes,
		promoCodes:  promoCodes,
		settlements: settlements,
		ledger:      ledger,
		users:       users,
		products:    products,
		counters:    counters,
		health:      health,
	}, nil
}

var _ repositories.Registry = (*Registry)(nil)

func (r *Registry) Orders() repositories.OrderRepository                   { return r.orders }
func (r *Registry) DisputeMessages() repositories.DisputeMessageRepository { return r.disputes }
func (r *Registry) PromoCodes() repositories.PromoCodeRepository           { return r.promoCodes }
func (r *Registry) Settlements() repositories.SettlementRepository         { return r.settlements }
func (r *Registry) Ledger() repositories.LedgerRepository                  { return r.ledger }
func (r *Registry) Users() repositories.UserRepository                     { return r.users }
func (r *Registry) Products() repositories.ProductRepository               { return r.products }
func (r *Registry) Counters() repositories.CounterRepository               { return r.counters }
func (r *Registry) Health() repositories.HealthRepository                  { return r.health }

// RunInTx executes fn inside one Firestore transaction. Repository calls made
// with the supplied context participate in it. Firestore requires all reads
// to happen before the first write within a transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		// Already inside a transaction; nested units of work join it.
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(txCtx, txContextKey{}, tx))
	})
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
