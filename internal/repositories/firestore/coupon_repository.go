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

const couponCollection = "coupons"

// CouponRepository maintains the discount code ledger. Documents are keyed by
// the normalised coupon code so settlement can address them without a query.
type CouponRepository struct {
	base     *pfirestore.BaseRepository[couponDocument]
	provider *pfirestore.Provider
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponCollection, nil, nil)
	return &CouponRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates or replaces the ledger entry for the coupon code.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	code := normaliseCouponCode(coupon.Code)
	if code == "" {
		return errors.New("coupon repository: coupon code is required")
	}

	now := time.Now().UTC()
	createdAt := coupon.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := couponDocument{
		Code:            code,
		DiscountPercent: coupon.DiscountPercent,
		Balance:         coupon.Balance,
		UsageCount:      coupon.UsageCount,
		CreatedAt:       createdAt,
		UpdatedAt:       now,
	}
	if coupon.ExpiresAt != nil {
		expires := coupon.ExpiresAt.UTC()
		doc.ExpiresAt = &expires
	}

	if _, err := r.base.Set(ctx, code, doc); err != nil {
		return err
	}
	return nil
}

// Delete removes the ledger entry for the coupon code.
func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	normalised := normaliseCouponCode(code)
	if normalised == "" {
		return errors.New("coupon repository: coupon code is required")
	}
	ref, err := r.base.DocumentRef(ctx, normalised)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("coupons.delete", err)
	}
	return nil
}

// FindByCode loads the ledger entry for the coupon code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalised := normaliseCouponCode(code)
	if normalised == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}
	doc, err := r.base.Get(ctx, normalised)
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

// List returns a page of coupons ordered by code.
func (r *CouponRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	startAfter := strings.TrimSpace(pager.PageToken)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if startAfter != "" {
			q = q.StartAfter(startAfter)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		nextToken = valueDocs[len(valueDocs)-1].ID
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Coupon, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Coupon]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Settle adds amount to the coupon balance and increments the usage count.
// Inside an ambient transaction the write is a blind field transform and the
// returned coupon carries only the code; standalone calls run their own
// transaction and return the updated ledger entry.
func (r *CouponRepository) Settle(ctx context.Context, code string, amount int64, now time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalised := normaliseCouponCode(code)
	if normalised == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}
	if amount < 0 {
		return domain.Coupon{}, fmt.Errorf("coupon repository: settle amount must not be negative, got %d", amount)
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	updates := []firestore.Update{
		{Path: "balance", Value: firestore.Increment(amount)},
		{Path: "usageCount", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: now},
	}

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, normalised)
		if err != nil {
			return domain.Coupon{}, err
		}
		if err := tx.Update(ref, updates); err != nil {
			return domain.Coupon{}, pfirestore.WrapError("coupons.settle", err)
		}
		return domain.Coupon{ID: normalised, Code: normalised, UpdatedAt: now}, nil
	}

	var settled domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, normalised)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return err
		}
		if err != nil {
			return err
		}

		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", normalised, err)
		}
		doc.Balance += amount
		doc.UsageCount++
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		settled = doc.toDomain(normalised, snap.CreateTime, now)
		return nil
	})
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.settle", err)
	}
	return settled, nil
}

func normaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type couponDocument struct {
	Code            string     `firestore:"code"`
	DiscountPercent int        `firestore:"discountPercent"`
	ExpiresAt       *time.Time `firestore:"expiresAt,omitempty"`
	Balance         int64      `firestore:"balance"`
	UsageCount      int        `firestore:"usageCount"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

func (d couponDocument) toDomain(id string, createTime, updateTime time.Time) domain.Coupon {
	coupon := domain.Coupon{
		ID:              id,
		Code:            d.Code,
		DiscountPercent: d.DiscountPercent,
		Balance:         d.Balance,
		UsageCount:      d.UsageCount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if coupon.Code == "" {
		coupon.Code = id
	}
	if d.ExpiresAt != nil {
		expires := *d.ExpiresAt
		coupon.ExpiresAt = &expires
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = createTime
	}
	if coupon.UpdatedAt.IsZero() {
		coupon.UpdatedAt = updateTime
	}
	return coupon
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
