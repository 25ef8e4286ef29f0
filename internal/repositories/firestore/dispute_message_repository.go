package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/yarmarok-dev/api/internal/domain"
	pfirestore "github.com/yarmarok-dev/api/internal/platform/firestore"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const disputeMessageCollection = "disputeMessages"

// DisputeMessageRepository stores the append-only dispute thread per order.
type DisputeMessageRepository struct {
	base     *pfirestore.BaseRepository[disputeMessageDocument]
	provider *pfirestore.Provider
}

// NewDisputeMessageRepository constructs a Firestore-backed dispute thread store.
func NewDisputeMessageRepository(provider *pfirestore.Provider) (*DisputeMessageRepository, error) {
	if provider == nil {
		return nil, errors.New("dispute message repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[disputeMessageDocument](provider, disputeMessageCollection, nil, nil)
	return &DisputeMessageRepository{base: base, provider: provider}, nil
}

var _ repositories.DisputeMessageRepository = (*DisputeMessageRepository)(nil)

// Append writes one message; messages are never updated or deleted.
func (r *DisputeMessageRepository) Append(ctx context.Context, message domain.DisputeMessage) error {
	if strings.TrimSpace(message.ID) == "" {
		return errors.New("dispute message id is required")
	}
	ref, err := r.base.DocumentRef(ctx, message.ID)
	if err != nil {
		return err
	}
	doc := disputeMessageDocument{
		OrderID:   message.OrderID,
		AuthorID:  message.AuthorID,
		Role:      string(message.Role),
		Body:      message.Body,
		CreatedAt: message.CreatedAt,
	}

	if tx, ok := txFromContext(ctx); ok {
		return pfirestore.WrapError("dispute_messages.append", tx.Create(ref, doc))
	}
	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("dispute_messages.append", err)
}

// ListByOrder returns the thread oldest first.
func (r *DisputeMessageRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.DisputeMessage, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(disputeMessageCollection).
		Where("orderId", "==", orderID).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var messages []domain.DisputeMessage
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("dispute_messages.list", err)
		}
		var doc disputeMessageDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("dispute_messages.list", err)
		}
		messages = append(messages, domain.DisputeMessage{
			ID:        snap.Ref.ID,
			OrderID:   doc.OrderID,
			AuthorID:  doc.AuthorID,
			Role:      domain.DisputeRole(doc.Role),
			Body:      doc.Body,
			CreatedAt: doc.CreatedAt,
		})
	}
	return messages, nil
}

type disputeMessageDocument struct {
	OrderID   string    `firestore:"orderId"`
	AuthorID  string    `firestore:"authorId"`
	Role      string    `firestore:"role"`
	Body      string    `firestore:"body"`
	CreatedAt time.Time `firestore:"createdAt"`
}
