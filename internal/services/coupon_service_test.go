package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/steadfast-intl/api/internal/domain"
)

func newCouponDeps(repo *fakeCouponRepo, now time.Time) CouponServiceDeps {
	return CouponServiceDeps{
		Coupons: repo,
		Clock:   func() time.Time { return now },
	}
}

func TestCouponServiceCreateNormalizesCode(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	var inserted domain.Coupon
	repo := &fakeCouponRepo{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{}, repoErrStub{notFound: true}
		},
		insertFunc: func(ctx context.Context, coupon domain.Coupon) error {
			inserted = coupon
			return nil
		},
	}
	svc, err := NewCouponService(newCouponDeps(repo, now))
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}

	expiry := now.AddDate(0, 1, 0)
	coupon, err := svc.CreateCoupon(context.Background(), CreateCouponCommand{
		Code:            "  save10 ",
		DiscountPercent: 10,
		ExpiresAt:       &expiry,
	})
	if err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}
	if coupon.Code != "SAVE10" || coupon.ID != "SAVE10" {
		t.Fatalf("code not normalized: %q / %q", coupon.Code, coupon.ID)
	}
	if inserted.DiscountPercent != 10 {
		t.Fatalf("discount = %d, want 10", inserted.DiscountPercent)
	}
	if inserted.ExpiresAt == nil || !inserted.ExpiresAt.Equal(expiry) {
		t.Fatalf("expiry not persisted: %v", inserted.ExpiresAt)
	}
	if !inserted.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", inserted.CreatedAt, now)
	}
}

func TestCouponServiceCreateRejectsInvalidInput(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	cases := []struct {
		name string
		cmd  CreateCouponCommand
	}{
		{"empty code", CreateCouponCommand{Code: " ", DiscountPercent: 10}},
		{"zero discount", CreateCouponCommand{Code: "X", DiscountPercent: 0}},
		{"excessive discount", CreateCouponCommand{Code: "X", DiscountPercent: 101}},
		{"past expiry", CreateCouponCommand{Code: "X", DiscountPercent: 5, ExpiresAt: &past}},
	}
	repo := &fakeCouponRepo{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{}, repoErrStub{notFound: true}
		},
	}
	svc, err := NewCouponService(newCouponDeps(repo, now))
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	for _, tc := range cases {
		if _, err := svc.CreateCoupon(context.Background(), tc.cmd); !errors.Is(err, ErrCouponInvalidInput) {
			t.Fatalf("%s: err = %v, want ErrCouponInvalidInput", tc.name, err)
		}
	}
}

func TestCouponServiceCreateRejectsDuplicate(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	repo := &fakeCouponRepo{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{ID: code, Code: code}, nil
		},
	}
	svc, err := NewCouponService(newCouponDeps(repo, now))
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	if _, err := svc.CreateCoupon(context.Background(), CreateCouponCommand{Code: "SAVE10", DiscountPercent: 10}); !errors.Is(err, ErrCouponConflict) {
		t.Fatalf("err = %v, want ErrCouponConflict", err)
	}
}

func TestCouponServiceValidateRejectsExpired(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	repo := &fakeCouponRepo{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{ID: code, Code: code, DiscountPercent: 10, ExpiresAt: &expired}, nil
		},
	}
	svc, err := NewCouponService(newCouponDeps(repo, now))
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	if _, err := svc.ValidateCoupon(context.Background(), "SAVE10"); !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("err = %v, want ErrCouponExpired", err)
	}
}

func TestCouponServiceValidateUnknownCode(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	repo := &fakeCouponRepo{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{}, repoErrStub{notFound: true}
		},
	}
	svc, err := NewCouponService(newCouponDeps(repo, now))
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	if _, err := svc.ValidateCoupon(context.Background(), "NOPE"); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("err = %v, want ErrCouponNotFound", err)
	}
}

func TestCouponServiceDelete(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	var deleted string
	repo := &fakeCouponRepo{
		deleteFunc: func(ctx context.Context, code string) error {
			deleted = code
			return nil
		},
	}
	svc, err := NewCouponService(newCouponDeps(repo, now))
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	if err := svc.DeleteCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatalf("DeleteCoupon: %v", err)
	}
	if deleted != "SAVE10" {
		t.Fatalf("deleted = %q, want SAVE10", deleted)
	}
}

func TestCouponServiceSyncUpsertsFeed(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	created := now.Add(-48 * time.Hour)
	var inserted []domain.Coupon
	repo := &fakeCouponRepo{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			if code == "SAVE10" {
				return domain.Coupon{
					ID: code, Code: code, DiscountPercent: 5,
					Balance: 500, UsageCount: 2, CreatedAt: created,
				}, nil
			}
			return domain.Coupon{}, repoErrStub{notFound: true}
		},
		insertFunc: func(ctx context.Context, coupon domain.Coupon) error {
			inserted = append(inserted, coupon)
			return nil
		},
	}
	svc, err := NewCouponService(newCouponDeps(repo, now))
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}

	result, err := svc.SyncCoupons(context.Background(), []CouponSyncEntry{
		{Code: "save10", DiscountPercent: 10},
		{Code: "FRESH15", DiscountPercent: 15},
		{Code: "", DiscountPercent: 20},
		{Code: "BROKEN", DiscountPercent: 0},
	})
	if err != nil {
		t.Fatalf("SyncCoupons: %v", err)
	}
	if result.Created != 1 || result.Updated != 1 || result.Skipped != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(inserted) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(inserted))
	}
	updated := inserted[0]
	if updated.Code != "SAVE10" || updated.DiscountPercent != 10 {
		t.Fatalf("unexpected updated coupon %#v", updated)
	}
	if updated.Balance != 500 || updated.UsageCount != 2 || !updated.CreatedAt.Equal(created) {
		t.Fatalf("expected ledger fields preserved, got %#v", updated)
	}
	if inserted[1].Code != "FRESH15" || inserted[1].DiscountPercent != 15 {
		t.Fatalf("unexpected created coupon %#v", inserted[1])
	}
}
