package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised transaction states shared across rails.
type Status string

const (
	// StatusPending indicates the rail has seen the transaction but not finalised it.
	StatusPending Status = "pending"
	// StatusConfirmed indicates the rail reports the transaction as final.
	StatusConfirmed Status = "confirmed"
	// StatusFailed indicates the transaction was rejected or reverted.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedRail is returned when no rail can serve the reference.
	ErrUnsupportedRail = errors.New("payments: unsupported rail")
	// ErrTransactionNotFound is returned when the rail has no record of the reference.
	ErrTransactionNotFound = errors.New("payments: transaction not found")
)

// Transaction is the rail-neutral view of one externally settled payment.
// The rail is authoritative; the engine only observes.
type Transaction struct {
	Reference   string
	Rail        string
	Status      Status
	Amount      int64
	Currency    string
	Sender      string
	Recipient   string
	ConfirmedAt *time.Time
	Raw         map[string]any
}

// Rail looks up externally settled transactions for verification.
type Rail interface {
	LookupTransaction(ctx context.Context, reference string) (Transaction, error)
}

// Manager routes transaction references to the rail that issued them.
type Manager struct {
	rails        map[string]Rail
	defaultRail  string
	prefixRoutes map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultRail overrides the rail used when no prefix route matches.
func WithDefaultRail(rail string) ManagerOption {
	return func(m *Manager) {
		m.defaultRail = strings.TrimSpace(strings.ToLower(rail))
	}
}

// WithPrefixRoutes maps reference prefixes (e.g. "pi_", "0x") to rail keys.
func WithPrefixRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.prefixRoutes == nil {
			m.prefixRoutes = make(map[string]string, len(routes))
		}
		for prefix, rail := range routes {
			m.prefixRoutes[prefix] = strings.TrimSpace(strings.ToLower(rail))
		}
	}
}

// NewManager constructs a Manager over the supplied rails.
func NewManager(rails map[string]Rail, opts ...ManagerOption) (*Manager, error) {
	if len(rails) == 0 {
		return nil, errors.New("payments: at least one rail is required")
	}
	copyMap := make(map[string]Rail, len(rails))
	for k, v := range rails {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid rail registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{rails: copyMap}
	if len(copyMap) == 1 {
		for key := range copyMap {
			m.defaultRail = key
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveRail(reference string) (string, Rail, error) {
	if m == nil || len(m.rails) == 0 {
		return "", nil, errors.New("payments: no rails registered")
	}
	for prefix, key := range m.prefixRoutes {
		if prefix != "" && strings.HasPrefix(reference, prefix) {
			if rail, ok := m.rails[key]; ok {
				return key, rail, nil
			}
		}
	}
	if def := m.defaultRail; def != "" {
		if rail, ok := m.rails[def]; ok {
			return def, rail, nil
		}
	}
	return "", nil, ErrUnsupportedRail
}

// Lookup resolves the rail by reference shape and fetches the transaction.
func (m *Manager) Lookup(ctx context.Context, reference string) (Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Transaction{}, errors.New("payments: transaction reference is required")
	}
	key, rail, err := m.resolveRail(reference)
	if err != nil {
		return Transaction{}, err
	}
	tx, err := rail.LookupTransaction(ctx, reference)
	if err != nil {
		return Transaction{}, err
	}
	tx.Rail = key
	return tx, nil
}
