package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/steadfast-intl/api/internal/domain"
	pfirestore "github.com/steadfast-intl/api/internal/platform/firestore"
	"github.com/steadfast-intl/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists checkout snapshots within Firestore.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the cart document. A cart ID is allocated by the caller and
// may only be written once.
func (r *CartRepository) Insert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	ref, err := r.base.DocumentRef(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}

	doc := encodeCartDocument(cart)
	result, err := ref.Create(ctx, doc)
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.insert", err)
	}

	saved := cloneCart(cart)
	saved.ID = cartID
	saved.CreatedAt = doc.CreatedAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// FindByID loads the cart snapshot. The returned UpdatedAt carries the
// document's server update time, suitable as a Finalize precondition.
func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

// ListByUser returns the user's carts ordered by most recent creation.
func (r *CartRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Cart], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Cart]{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Cart]{}, errors.New("cart repository: user id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Cart]{}, fmt.Errorf("cart repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", uid)
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
		return domain.CursorPage[domain.Cart]{}, err
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

	items := make([]domain.Cart, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Cart]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Finalize flips the cart to Paid/Completed and records the gateway reference.
// The write carries a precondition pinning the document to expectedUpdate, so
// of two concurrent finalize attempts at most one commits; the other fails
// with a conflict. Joins an ambient transaction when present; the write is
// blind and may follow transactional reads.
func (r *CartRepository) Finalize(ctx context.Context, cartID string, reference string, expectedUpdate time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}
	if expectedUpdate.IsZero() {
		return domain.Cart{}, errors.New("cart repository: expected update time is required")
	}

	now := time.Now().UTC()
	updates := []firestore.Update{
		{Path: "paymentStatus", Value: string(domain.CartPaymentPaid)},
		{Path: "status", Value: string(domain.CartStatusCompleted)},
		{Path: "paymentReference", Value: strings.TrimSpace(reference)},
		{Path: "updatedAt", Value: now},
	}
	precondition := firestore.LastUpdateTime(expectedUpdate.UTC())

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return domain.Cart{}, err
		}
		if err := tx.Update(ref, updates, precondition); err != nil {
			return domain.Cart{}, pfirestore.WrapError("carts.finalize", err)
		}
		return domain.Cart{
			ID:               id,
			PaymentStatus:    domain.CartPaymentPaid,
			Status:           domain.CartStatusCompleted,
			PaymentReference: strings.TrimSpace(reference),
			UpdatedAt:        now,
		}, nil
	}

	result, err := r.base.Update(ctx, id, updates, precondition)
	if err != nil {
		return domain.Cart{}, err
	}

	cart, err := r.FindByID(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.UpdatedAt = result.UpdateTime
	return cart, nil
}

// SetPaymentStatus records a payment state change without finalizing the cart.
func (r *CartRepository) SetPaymentStatus(ctx context.Context, cartID string, payment domain.CartPaymentStatus, status domain.CartStatus) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := time.Now().UTC()
	updates := []firestore.Update{
		{Path: "paymentStatus", Value: string(payment)},
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: now},
	}

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return domain.Cart{}, err
		}
		if err := tx.Update(ref, updates); err != nil {
			return domain.Cart{}, pfirestore.WrapError("carts.setPaymentStatus", err)
		}
		return domain.Cart{ID: id, PaymentStatus: payment, Status: status, UpdatedAt: now}, nil
	}

	if _, err := r.base.Update(ctx, id, updates); err != nil {
		return domain.Cart{}, err
	}
	return r.FindByID(ctx, id)
}

func cloneCart(cart domain.Cart) domain.Cart {
	dup := cart
	if cart.Items != nil {
		dup.Items = make([]domain.CartItem, len(cart.Items))
		copy(dup.Items, cart.Items)
	}
	if cart.Coupon != nil {
		coupon := *cart.Coupon
		dup.Coupon = &coupon
	}
	return dup
}

type cartDocument struct {
	UserID           string               `firestore:"userId"`
	BuyerFirstName   string               `firestore:"buyerFirstName,omitempty"`
	BuyerLastName    string               `firestore:"buyerLastName,omitempty"`
	BuyerEmail       string               `firestore:"buyerEmail"`
	Items            []cartItemDocument   `firestore:"items"`
	Subtotal         int64                `firestore:"subtotal"`
	Discount         int64                `firestore:"discount"`
	Total            int64                `firestore:"total"`
	Coupon           *cartCouponDocument  `firestore:"coupon,omitempty"`
	Address          string               `firestore:"address,omitempty"`
	PaymentStatus    string               `firestore:"paymentStatus"`
	Status           string               `firestore:"status"`
	PaymentReference string               `firestore:"paymentReference,omitempty"`
	CreatedAt        time.Time            `firestore:"createdAt"`
	UpdatedAt        time.Time            `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID      string `firestore:"productId,omitempty"`
	VariationID    string `firestore:"variationId,omitempty"`
	ProductName    string `firestore:"productName"`
	VariationTitle string `firestore:"variationTitle,omitempty"`
	UnitPrice      int64  `firestore:"unitPrice"`
	Quantity       int    `firestore:"quantity"`
	LineTotal      int64  `firestore:"lineTotal"`
}

type cartCouponDocument struct {
	Code            string    `firestore:"code"`
	DiscountPercent int       `firestore:"discountPercent"`
	AppliedAt       time.Time `firestore:"appliedAt"`
}

func encodeCartDocument(cart domain.Cart) cartDocument {
	now := time.Now().UTC()
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}

	paymentStatus := cart.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = domain.CartPaymentPending
	}
	status := cart.Status
	if status == "" {
		status = domain.CartStatusPending
	}

	doc := cartDocument{
		UserID:           strings.TrimSpace(cart.UserID),
		BuyerFirstName:   strings.TrimSpace(cart.BuyerFirstName),
		BuyerLastName:    strings.TrimSpace(cart.BuyerLastName),
		BuyerEmail:       strings.TrimSpace(cart.BuyerEmail),
		Subtotal:         cart.Subtotal,
		Discount:         cart.Discount,
		Total:            cart.Total,
		Address:          strings.TrimSpace(cart.Address),
		PaymentStatus:    string(paymentStatus),
		Status:           string(status),
		PaymentReference: strings.TrimSpace(cart.PaymentReference),
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}
	doc.Items = make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
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
	if cart.Coupon != nil {
		doc.Coupon = &cartCouponDocument{
			Code:            cart.Coupon.Code,
			DiscountPercent: cart.Coupon.DiscountPercent,
			AppliedAt:       cart.Coupon.AppliedAt.UTC(),
		}
	}
	return doc
}

func (d cartDocument) toDomain(id string, createTime, updateTime time.Time) domain.Cart {
	cart := domain.Cart{
		ID:               id,
		UserID:           d.UserID,
		BuyerFirstName:   d.BuyerFirstName,
		BuyerLastName:    d.BuyerLastName,
		BuyerEmail:       d.BuyerEmail,
		Subtotal:         d.Subtotal,
		Discount:         d.Discount,
		Total:            d.Total,
		Address:          d.Address,
		PaymentStatus:    domain.CartPaymentStatus(d.PaymentStatus),
		Status:           domain.CartStatus(d.Status),
		PaymentReference: d.PaymentReference,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        updateTime,
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = createTime
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = d.UpdatedAt
	}
	cart.Items = make([]domain.CartItem, 0, len(d.Items))
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:      item.ProductID,
			VariationID:    item.VariationID,
			ProductName:    item.ProductName,
			VariationTitle: item.VariationTitle,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			LineTotal:      item.LineTotal,
		})
	}
	if d.Coupon != nil {
		cart.Coupon = &domain.AppliedCoupon{
			Code:            d.Coupon.Code,
			DiscountPercent: d.Coupon.DiscountPercent,
			AppliedAt:       d.Coupon.AppliedAt,
		}
	}
	return cart
}

var _ repositories.CartRepository = (*CartRepository)(nil)
