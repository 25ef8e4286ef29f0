package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/yarmarok-dev/api/internal/domain"
	pfirestore "github.com/yarmarok-dev/api/internal/platform/firestore"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const (
	ledgerAccountCollection = "ledgerAccounts"
	ledgerEntryCollection   = "ledgerEntries"
)

// LedgerRepository stores append-only balance mutations. Account balances are
// maintained with write-only increments so appends compose with transactions
// that have already performed their reads.
type LedgerRepository struct {
	provider *pfirestore.Provider
}

// NewLedgerRepository constructs a Firestore-backed ledger.
func NewLedgerRepository(provider *pfirestore.Provider) (*LedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger repository requires firestore provider")
	}
	return &LedgerRepository{provider: provider}, nil
}

var _ repositories.LedgerRepository = (*LedgerRepository)(nil)

// Append writes the entry and bumps the account balance atomically.
func (r *LedgerRepository) Append(ctx context.Context, accountKind domain.LedgerAccountKind, ownerID string, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if strings.TrimSpace(entry.ID) == "" {
		return domain.LedgerEntry{}, errors.New("ledger entry id is required")
	}
	accountID, err := ledgerAccountID(accountKind, ownerID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	entry.AccountID = accountID
	entryRef := client.Collection(ledgerEntryCollection).Doc(entry.ID)
	accountRef := client.Collection(ledgerAccountCollection).Doc(accountID)
	entryDoc := fromDomainLedgerEntry(entry)

	apply := func(tx *firestore.Transaction) error {
		if err := tx.Create(entryRef, entryDoc); err != nil {
			return err
		}
		return tx.Set(accountRef, accountSetPayload(accountKind, ownerID, entry), firestore.MergeAll)
	}

	if tx, ok := txFromContext(ctx); ok {
		if err := apply(tx); err != nil {
			return domain.LedgerEntry{}, pfirestore.WrapError("ledger.append", err)
		}
		return entry, nil
	}

	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return apply(tx)
	})
	if err != nil {
		return domain.LedgerEntry{}, pfirestore.WrapError("ledger.append", err)
	}
	return entry, nil
}

// Balance reads the running balance for the account; a missing account is zero.
func (r *LedgerRepository) Balance(ctx context.Context, accountKind domain.LedgerAccountKind, ownerID string) (int64, error) {
	accountID, err := ledgerAccountID(accountKind, ownerID)
	if err != nil {
		return 0, err
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	snap, err := client.Collection(ledgerAccountCollection).Doc(accountID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, pfirestore.WrapError("ledger.balance", err)
	}

	var doc ledgerAccountDocument
	if err := snap.DataTo(&doc); err != nil {
		return 0, pfirestore.WrapError("ledger.balance", err)
	}
	return doc.Balance, nil
}

// FindEntryByOrder returns the first entry of the given kind for the order.
func (r *LedgerRepository) FindEntryByOrder(ctx context.Context, orderID string, kind domain.LedgerEntryKind) (domain.LedgerEntry, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.LedgerEntry{}, errors.New("order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	query := client.Collection(ledgerEntryCollection).
		Where("orderId", "==", orderID).
		Where("kind", "==", string(kind)).
		Limit(1)

	var iter *firestore.DocumentIterator
	if tx, ok := txFromContext(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.LedgerEntry{}, pfirestore.WrapError("ledger.find_entry", status.Error(codes.NotFound, "ledger entry not found"))
	}
	if err != nil {
		return domain.LedgerEntry{}, pfirestore.WrapError("ledger.find_entry", err)
	}

	var doc ledgerEntryDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.LedgerEntry{}, pfirestore.WrapError("ledger.find_entry", err)
	}
	return toDomainLedgerEntry(snap.Ref.ID, doc), nil
}

func ledgerAccountID(kind domain.LedgerAccountKind, ownerID string) (string, error) {
	switch kind {
	case domain.LedgerAccountTreasury:
		return "treasury", nil
	case domain.LedgerAccountSeller:
		ownerID = strings.TrimSpace(ownerID)
		if ownerID == "" {
			return "", errors.New("seller account requires an owner id")
		}
		return "seller_" + ownerID, nil
	default:
		return "", errors.New("unknown ledger account kind")
	}
}

func accountSetPayload(kind domain.LedgerAccountKind, ownerID string, entry domain.LedgerEntry) map[string]any {
	return map[string]any{
		"kind":      string(kind),
		"ownerId":   strings.TrimSpace(ownerID),
		"balance":   firestore.Increment(entry.Amount),
		"currency":  entry.Currency,
		"updatedAt": entry.CreatedAt,
	}
}

type ledgerAccountDocument struct {
	Kind      string    `firestore:"kind"`
	OwnerID   string    `firestore:"ownerId"`
	Balance   int64     `firestore:"balance"`
	Currency  string    `firestore:"currency"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type ledgerEntryDocument struct {
	AccountID      string    `firestore:"accountId"`
	OrderID        string    `firestore:"orderId"`
	TransactionRef string    `firestore:"transactionRef"`
	Kind           string    `firestore:"kind"`
	Amount         int64     `firestore:"amount"`
	Currency       string    `firestore:"currency"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func fromDomainLedgerEntry(entry domain.LedgerEntry) ledgerEntryDocument {
	return ledgerEntryDocument{
		AccountID:      entry.AccountID,
		OrderID:        entry.OrderID,
		TransactionRef: entry.TransactionRef,
		Kind:           string(entry.Kind),
		Amount:         entry.Amount,
		Currency:       entry.Currency,
		CreatedAt:      entry.CreatedAt,
	}
}

func toDomainLedgerEntry(id string, doc ledgerEntryDocument) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:             id,
		AccountID:      doc.AccountID,
		OrderID:        doc.OrderID,
		TransactionRef: doc.TransactionRef,
		Kind:           domain.LedgerEntryKind(doc.Kind),
		Amount:         doc.Amount,
		Currency:       doc.Currency,
		CreatedAt:      doc.CreatedAt,
	}
}
