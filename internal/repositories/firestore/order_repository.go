package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/steadfast-intl/api/internal/domain"
	pfirestore "github.com/steadfast-intl/api/internal/platform/firestore"
	"github.com/steadfast-intl/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order records within Firestore.
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
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document. Joins an ambient transaction when
// present; the create fails with a conflict if the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Create(ref, doc); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	doc := encodeOrderDocument(order)

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		return nil
	}
	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

// FindByCartID resolves the order created for a cart, if any. Used as the
// idempotency probe before reconciling a payment event.
func (r *OrderRepository) FindByCartID(ctx context.Context, cartID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: cart id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("cartId", "==", id).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByCartId", status.Error(codes.NotFound, fmt.Sprintf("order for cart %s not found", id)))
	}
	doc := docs[0]
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

// List returns a page of orders ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statuses := normaliseOrderStatuses(filter.Status)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statuses) > 10 {
				statuses = statuses[:10]
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

func normaliseOrderStatuses(statuses []string) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalised := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, status := range statuses {
		trimmed := strings.TrimSpace(status)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalised = append(normalised, trimmed)
	}
	return normalised
}

type orderDocument struct {
	Number           string             `firestore:"number"`
	TrackingNumber   string             `firestore:"trackingNumber,omitempty"`
	UserID           string             `firestore:"userId"`
	CartID           string             `firestore:"cartId"`
	Items            []cartItemDocument `firestore:"items"`
	Total            int64              `firestore:"total"`
	Address          string             `firestore:"address,omitempty"`
	PaymentStatus    string             `firestore:"paymentStatus"`
	PaymentReference string             `firestore:"paymentReference,omitempty"`
	Status           string             `firestore:"status"`
	StatusColor      string             `firestore:"statusColor"`
	RefundStatus     string             `firestore:"refundStatus"`
	RefundedAmount   int64              `firestore:"refundedAmount"`
	CreatedAt        time.Time          `firestore:"createdAt"`
	UpdatedAt        time.Time          `firestore:"updatedAt"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	now := time.Now().UTC()
	createdAt := order.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	status := order.Status
	if status == "" {
		status = domain.OrderStatusProcessing
	}
	statusColor := strings.TrimSpace(order.StatusColor)
	if statusColor == "" {
		statusColor = status.DisplayColor()
	}
	refundStatus := order.RefundStatus
	if refundStatus == "" {
		refundStatus = domain.RefundNotRequested
	}

	doc := orderDocument{
		Number:           strings.TrimSpace(order.Number),
		TrackingNumber:   strings.TrimSpace(order.TrackingNumber),
		UserID:           strings.TrimSpace(order.UserID),
		CartID:           strings.TrimSpace(order.CartID),
		Total:            order.Total,
		Address:          strings.TrimSpace(order.Address),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentReference: strings.TrimSpace(order.PaymentReference),
		Status:           string(status),
		StatusColor:      statusColor,
		RefundStatus:     string(refundStatus),
		RefundedAmount:   order.RefundedAmount,
		CreatedAt:        createdAt,
		UpdatedAt:        now,
	}
	doc.Items = make([]cartItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ProductID:      item.ProductID,
			VariationID:    item.VariationID,
			ProductName:    item.ProductName,
			VariationTitle: item.VariationTitle,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			LineTotal:      item.LineTotal,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string, createTime, updateTime time.Time) domain.Order {
	order := domain.Order{
		ID:               id,
		Number:           d.Number,
		TrackingNumber:   d.TrackingNumber,
		UserID:           d.UserID,
		CartID:           d.CartID,
		Total:            d.Total,
		Address:          d.Address,
		PaymentStatus:    domain.CartPaymentStatus(d.PaymentStatus),
		PaymentReference: d.PaymentReference,
		Status:           domain.OrderStatus(d.Status),
		StatusColor:      d.StatusColor,
		RefundStatus:     domain.RefundStatus(d.RefundStatus),
		RefundedAmount:   d.RefundedAmount,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = createTime
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = updateTime
	}
	if order.StatusColor == "" {
		order.StatusColor = order.Status.DisplayColor()
	}
	order.Items = make([]domain.CartItem, 0, len(d.Items))
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.CartItem{
			ProductID:      item.ProductID,
			VariationID:    item.VariationID,
			ProductName:    item.ProductName,
			VariationTitle: item.VariationTitle,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			LineTotal:      item.LineTotal,
		})
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
