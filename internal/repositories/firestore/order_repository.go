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
	"github.com/yarmarok-dev/api/internal/platform/pagination"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const (
	orderCollection = "orders"

	defaultOrderPageSize = 50
	maxOrderPageSize     = 100
)

// OrderRepository persists order aggregates in Firestore. The header and its
// line items live in one document, so a partition commits atomically.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Insert writes the order and fails with a conflict when the id exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := fromDomainOrder(order)

	if tx, ok := txFromContext(ctx); ok {
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}
	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("orders.insert", err)
}

// Update overwrites the stored order. Callers serialise writes per order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := fromDomainOrder(order)

	if tx, ok := txFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc))
	}
	_, err = ref.Set(ctx, doc)
	return pfirestore.WrapError("orders.update", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var snap *firestore.DocumentSnapshot
	if tx, ok := txFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}

	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return toDomainOrder(snap.Ref.ID, doc), nil
}

// List returns orders newest first with cursor-based paging.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	query := client.Collection(orderCollection).Query
	if buyerID := strings.TrimSpace(filter.BuyerID); buyerID != "" {
		query = query.Where("buyerId", "==", buyerID)
	}
	if sellerID := strings.TrimSpace(filter.SellerID); sellerID != "" {
		query = query.Where("sellerId", "==", sellerID)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", statusValues(filter.Status))
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}
	if len(cursor.StartAfter) > 0 {
		query = query.StartAfter(cursor.StartAfter...)
	}
	// One extra row decides whether another page exists.
	query = query.Limit(pageSize + 1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var (
		orders   []domain.Order
		lastSnap *firestore.DocumentSnapshot
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		if len(orders) == pageSize {
			lastSnap = snap
			break
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		orders = append(orders, toDomainOrder(snap.Ref.ID, doc))
		lastSnap = snap
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) == pageSize && lastSnap != nil {
		last := orders[len(orders)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// TrackingNumberExists probes for an already-assigned waybill number.
func (r *OrderRepository) TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return false, errors.New("tracking number is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, err
	}

	iter := client.Collection(orderCollection).
		Where("trackingNumber", "==", trackingNumber).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	_, err = iter.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, pfirestore.WrapError("orders.tracking_exists", err)
	}
	return true, nil
}

func statusValues(statuses []string) []any {
	out := make([]any, 0, len(statuses))
	for _, s := range statuses {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

type orderDocument struct {
	BuyerID         string              `firestore:"buyerId"`
	SellerID        string              `firestore:"sellerId"`
	Number          string              `firestore:"number,omitempty"`
	Status          string              `firestore:"status"`
	Currency        string              `firestore:"currency"`
	Subtotal        int64               `firestore:"subtotal"`
	Discount        int64               `firestore:"discount"`
	Shipping        int64               `firestore:"shipping"`
	AddOns          int64               `firestore:"addOns"`
	Total           int64               `firestore:"total"`
	Items           []orderItemDocument `firestore:"items"`
	PromoCodeID     *string             `firestore:"promoCodeId,omitempty"`
	ShippingMethod  string              `firestore:"shippingMethod"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	TrackingNumber  *string             `firestore:"trackingNumber,omitempty"`
	TransactionRef  *string             `firestore:"transactionRef,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	PaidAt          *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	DisputedAt      *time.Time          `firestore:"disputedAt,omitempty"`
	CompletedAt     *time.Time          `firestore:"completedAt,omitempty"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason    *string             `firestore:"cancelReason,omitempty"`
}

type orderItemDocument struct {
	ID          string  `firestore:"id"`
	ProductID   string  `firestore:"productId"`
	ProductName string  `firestore:"productName"`
	Category    string  `firestore:"category,omitempty"`
	VariantID   *string `firestore:"variantId,omitempty"`
	Quantity    int64   `firestore:"quantity"`
	UnitPrice   int64   `firestore:"unitPrice"`
	Kind        string  `firestore:"kind"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	Region     *string `firestore:"region,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Category:    item.Category,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Kind:        string(item.Kind),
		}
	}

	return orderDocument{
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		Number:         order.Number,
		Status:         string(order.Status),
		Currency:       order.Currency,
		Subtotal:       order.Totals.Subtotal,
		Discount:       order.Totals.Discount,
		Shipping:       order.Totals.Shipping,
		AddOns:         order.Totals.AddOns,
		Total:          order.Totals.Total,
		Items:          items,
		PromoCodeID:    order.PromoCodeID,
		ShippingMethod: string(order.ShippingMethod),
		ShippingAddress: addressDocument{
			Recipient:  order.ShippingAddress.Recipient,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			Region:     order.ShippingAddress.Region,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		PaymentMethod:  string(order.PaymentMethod),
		TrackingNumber: order.TrackingNumber,
		TransactionRef: order.TransactionRef,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
		PaidAt:         order.PaidAt,
		ShippedAt:      order.ShippedAt,
		DeliveredAt:    order.DeliveredAt,
		DisputedAt:     order.DisputedAt,
		CompletedAt:    order.CompletedAt,
		CancelledAt:    order.CancelledAt,
		CancelReason:   order.CancelReason,
	}
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, len(doc.Items))
	for i, item := range doc.Items {
		items[i] = domain.OrderItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Category:    item.Category,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Kind:        domain.PurchaseKind(item.Kind),
		}
	}

	return domain.Order{
		ID:       id,
		BuyerID:  doc.BuyerID,
		SellerID: doc.SellerID,
		Number:   doc.Number,
		Status:   domain.OrderStatus(doc.Status),
		Currency: doc.Currency,
		Totals: domain.OrderTotals{
			Subtotal: doc.Subtotal,
			Discount: doc.Discount,
			Shipping: doc.Shipping,
			AddOns:   doc.AddOns,
			Total:    doc.Total,
		},
		Items:          items,
		PromoCodeID:    doc.PromoCodeID,
		ShippingMethod: domain.ShippingMethod(doc.ShippingMethod),
		ShippingAddress: domain.Address{
			Recipient:  doc.ShippingAddress.Recipient,
			Line1:      doc.ShippingAddress.Line1,
			Line2:      doc.ShippingAddress.Line2,
			City:       doc.ShippingAddress.City,
			Region:     doc.ShippingAddress.Region,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
			Phone:      doc.ShippingAddress.Phone,
		},
		PaymentMethod:  domain.PaymentMethod(doc.PaymentMethod),
		TrackingNumber: doc.TrackingNumber,
		TransactionRef: doc.TransactionRef,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		PaidAt:         doc.PaidAt,
		ShippedAt:      doc.ShippedAt,
		DeliveredAt:    doc.DeliveredAt,
		DisputedAt:     doc.DisputedAt,
		CompletedAt:    doc.CompletedAt,
		CancelledAt:    doc.CancelledAt,
		CancelReason:   doc.CancelReason,
	}
}
