package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/yarmarok-dev/api/internal/domain"
	pfirestore "github.com/yarmarok-dev/api/internal/platform/firestore"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const settlementCollection = "settlements"

// SettlementRepository keys settlement records by external transaction
// reference. The reference is hashed into the document id so arbitrary
// rail formats (payment intent ids, chain hashes) stay path-safe.
type SettlementRepository struct {
	base     *pfirestore.BaseRepository[settlementDocument]
	provider *pfirestore.Provider
}

// NewSettlementRepository constructs a Firestore-backed settlement store.
func NewSettlementRepository(provider *pfirestore.Provider) (*SettlementRepository, error) {
	if provider == nil {
		return nil, errors.New("settlement repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[settlementDocument](provider, settlementCollection, nil, nil)
	return &SettlementRepository{base: base, provider: provider}, nil
}

var _ repositories.SettlementRepository = (*SettlementRepository)(nil)

// Insert records one settlement; a duplicate reference fails with a conflict.
func (r *SettlementRepository) Insert(ctx context.Context, record domain.SettlementRecord) error {
	ref := strings.TrimSpace(record.TransactionRef)
	if ref == "" {
		return errors.New("transaction reference is required")
	}
	docRef, err := r.base.DocumentRef(ctx, settlementDocID(ref))
	if err != nil {
		return err
	}
	doc := fromDomainSettlement(record)

	if tx, ok := txFromContext(ctx); ok {
		return pfirestore.WrapError("settlements.insert", tx.Create(docRef, doc))
	}
	_, err = docRef.Create(ctx, doc)
	return pfirestore.WrapError("settlements.insert", err)
}

func (r *SettlementRepository) FindByTransactionRef(ctx context.Context, transactionRef string) (domain.SettlementRecord, error) {
	transactionRef = strings.TrimSpace(transactionRef)
	if transactionRef == "" {
		return domain.SettlementRecord{}, errors.New("transaction reference is required")
	}
	docRef, err := r.base.DocumentRef(ctx, settlementDocID(transactionRef))
	if err != nil {
		return domain.SettlementRecord{}, err
	}

	var snap *firestore.DocumentSnapshot
	if tx, ok := txFromContext(ctx); ok {
		snap, err = tx.Get(docRef)
	} else {
		snap, err = docRef.Get(ctx)
	}
	if err != nil {
		return domain.SettlementRecord{}, pfirestore.WrapError("settlements.get", err)
	}

	var doc settlementDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.SettlementRecord{}, pfirestore.WrapError("settlements.get", err)
	}
	return toDomainSettlement(doc), nil
}

func settlementDocID(transactionRef string) string {
	sum := sha256.Sum256([]byte(transactionRef))
	return hex.EncodeToString(sum[:16])
}

type settlementDocument struct {
	TransactionRef string    `firestore:"transactionRef"`
	Rail           string    `firestore:"rail"`
	PaymentMethod  string    `firestore:"paymentMethod"`
	Amount         int64     `firestore:"amount"`
	Currency       string    `firestore:"currency"`
	Recipient      string    `firestore:"recipient,omitempty"`
	OrderIDs       []string  `firestore:"orderIds"`
	VerifiedAt     time.Time `firestore:"verifiedAt"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func fromDomainSettlement(record domain.SettlementRecord) settlementDocument {
	return settlementDocument{
		TransactionRef: record.TransactionRef,
		Rail:           record.Rail,
		PaymentMethod:  string(record.PaymentMethod),
		Amount:         record.Amount,
		Currency:       record.Currency,
		Recipient:      record.Recipient,
		OrderIDs:       append([]string(nil), record.OrderIDs...),
		VerifiedAt:     record.VerifiedAt,
		CreatedAt:      record.CreatedAt,
	}
}

func toDomainSettlement(doc settlementDocument) domain.SettlementRecord {
	return domain.SettlementRecord{
		TransactionRef: doc.TransactionRef,
		Rail:           doc.Rail,
		PaymentMethod:  domain.PaymentMethod(doc.PaymentMethod),
		Amount:         doc.Amount,
		Currency:       doc.Currency,
		Recipient:      doc.Recipient,
		OrderIDs:       append([]string(nil), doc.OrderIDs...),
		VerifiedAt:     doc.VerifiedAt,
		CreatedAt:      doc.CreatedAt,
	}
}
