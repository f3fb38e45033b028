package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/repositories"
)

var (
	// ErrCouponInvalidInput indicates the caller supplied invalid coupon fields.
	ErrCouponInvalidInput = errors.New("coupons: invalid input")
	// ErrCouponNotFound indicates the code does not exist.
	ErrCouponNotFound = errors.New("coupons: not found")
	// ErrCouponExpired indicates the code is past its expiration date.
	ErrCouponExpired = errors.New("coupons: expired")
	// ErrCouponConflict indicates the code already exists.
	ErrCouponConflict = errors.New("coupons: conflict")
	// ErrCouponUnavailable indicates coupon dependencies are currently unavailable.
	ErrCouponUnavailable = errors.New("coupons: unavailable")
)

// CouponServiceDeps wires the dependencies required by the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewCouponService constructs a CouponService validating required dependencies.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		coupons: deps.Coupons,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCoupon registers a new discount code. Codes are normalised to upper
// case so lookups are case-insensitive.
func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	if s == nil || s.coupons == nil {
		return Coupon{}, ErrCouponUnavailable
	}
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if cmd.DiscountPercent <= 0 || cmd.DiscountPercent > 100 {
		return Coupon{}, fmt.Errorf("%w: discount must be between 1 and 100", ErrCouponInvalidInput)
	}
	now := s.now()
	if cmd.ExpiresAt != nil && cmd.ExpiresAt.Before(now) {
		return Coupon{}, fmt.Errorf("%w: expiration must be in the future", ErrCouponInvalidInput)
	}

	if _, err := s.coupons.FindByCode(ctx, code); err == nil {
		return Coupon{}, fmt.Errorf("%w: code %s exists", ErrCouponConflict, code)
	} else if !isNotFound(err) {
		return Coupon{}, s.translateError(err)
	}

	coupon := domain.Coupon{
		ID:              code,
		Code:            code,
		DiscountPercent: cmd.DiscountPercent,
		ExpiresAt:       cmd.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return Coupon{}, s.translateError(err)
	}
	s.logger(ctx, "coupons.created", map[string]any{
		"code":     code,
		"discount": cmd.DiscountPercent,
	})
	return coupon, nil
}

// DeleteCoupon removes a discount code.
func (s *couponService) DeleteCoupon(ctx context.Context, code string) error {
	if s == nil || s.coupons == nil {
		return ErrCouponUnavailable
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrCouponInvalidInput
	}
	if err := s.coupons.Delete(ctx, code); err != nil {
		return s.translateError(err)
	}
	return nil
}

// GetCoupon fetches one coupon by code.
func (s *couponService) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	if s == nil || s.coupons == nil {
		return Coupon{}, ErrCouponUnavailable
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return Coupon{}, ErrCouponInvalidInput
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return Coupon{}, s.translateError(err)
	}
	return coupon, nil
}

// ListCoupons pages the coupon ledger.
func (s *couponService) ListCoupons(ctx context.Context, pager Pagination) (CursorPage[Coupon], error) {
	if s == nil || s.coupons == nil {
		return CursorPage[Coupon]{}, ErrCouponUnavailable
	}
	page, err := s.coupons.List(ctx, pager)
	if err != nil {
		return CursorPage[Coupon]{}, s.translateError(err)
	}
	return page, nil
}

// ValidateCoupon resolves a code for checkout use.
func (s *couponService) ValidateCoupon(ctx context.Context, code string) (Coupon, error) {
	coupon, err := s.GetCoupon(ctx, code)
	if err != nil {
		return Coupon{}, err
	}
	if coupon.Expired(s.now()) {
		return Coupon{}, fmt.Errorf("%w: code %s", ErrCouponExpired, coupon.Code)
	}
	return coupon, nil
}

// SyncCoupons imports feed entries as an idempotent upsert. Invalid entries
// are skipped rather than failing the whole batch; existing codes keep their
// balance and usage counters.
func (s *couponService) SyncCoupons(ctx context.Context, entries []CouponSyncEntry) (CouponSyncResult, error) {
	if s == nil || s.coupons == nil {
		return CouponSyncResult{}, ErrCouponUnavailable
	}
	var result CouponSyncResult
	now := s.now()
	for _, entry := range entries {
		code := strings.ToUpper(strings.TrimSpace(entry.Code))
		if code == "" || entry.DiscountPercent <= 0 || entry.DiscountPercent > 100 {
			result.Skipped++
			continue
		}

		coupon := domain.Coupon{
			ID:              code,
			Code:            code,
			DiscountPercent: entry.DiscountPercent,
			ExpiresAt:       entry.ExpiresAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		existing, err := s.coupons.FindByCode(ctx, code)
		switch {
		case err == nil:
			coupon.Balance = existing.Balance
			coupon.UsageCount = existing.UsageCount
			coupon.CreatedAt = existing.CreatedAt
			if err := s.coupons.Insert(ctx, coupon); err != nil {
				return result, s.translateError(err)
			}
			result.Updated++
		case isNotFound(err):
			if err := s.coupons.Insert(ctx, coupon); err != nil {
				return result, s.translateError(err)
			}
			result.Created++
		default:
			return result, s.translateError(err)
		}
	}
	s.logger(ctx, "coupons.synced", map[string]any{
		"created": result.Created,
		"updated": result.Updated,
		"skipped": result.Skipped,
	})
	return result, nil
}

func (s *couponService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCouponNotFound
		case repoErr.IsConflict():
			return ErrCouponConflict
		default:
			return ErrCouponUnavailable
		}
	}
	return ErrCouponUnavailable
}
