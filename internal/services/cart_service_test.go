package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/payments"
)

func int64Ptr(v int64) *int64 { return &v }

func catalogFixture() map[string]domain.Product {
	return map[string]domain.Product{
		"prd_bulb": {
			ID:       "prd_bulb",
			Name:     "Bulb-9w",
			Type:     domain.ProductTypeSimple,
			Price:    1000,
			Quantity: 5,
		},
		"prd_cable": {
			ID:   "prd_cable",
			Name: "Armored Cable",
			Type: domain.ProductTypeVariable,
			Variations: []domain.VariationOption{
				{ID: "var_25m", Title: "25m", Price: 5000, SalePrice: int64Ptr(4500), Quantity: 3},
				{ID: "var_50m", Title: "50m", Price: 9000, Quantity: 0, Disabled: true},
			},
		},
	}
}

func newCartDeps(now time.Time) CartServiceDeps {
	catalog := catalogFixture()
	return CartServiceDeps{
		Carts: &fakeCartRepo{
			insertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
				return cart, nil
			},
		},
		Products: &fakeProductRepo{
			findFunc: func(ctx context.Context, productID string) (domain.Product, error) {
				if product, ok := catalog[productID]; ok {
					return product, nil
				}
				return domain.Product{}, &repoErrStub{notFound: true}
			},
		},
		Coupons: &fakeCouponRepo{},
		Gateway: &fakeGateway{
			initFunc: func(ctx context.Context, _ payments.PaymentContext, req payments.InitializeRequest) (payments.CheckoutSession, error) {
				return payments.CheckoutSession{
					Reference:   "ps_ref_1",
					Provider:    "paystack",
					AccessCode:  "access_1",
					RedirectURL: "https://checkout.example.com/access_1",
				}, nil
			},
		},
		Clock: func() time.Time { return now },
	}
}

func TestCartServiceCreateCartWithCoupon(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	var saved domain.Cart
	var initReq payments.InitializeRequest

	deps := newCartDeps(now)
	deps.Carts = &fakeCartRepo{
		insertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	deps.Coupons = &fakeCouponRepo{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			if code != "SAVE10" {
				t.Fatalf("unexpected coupon lookup %s", code)
			}
			return domain.Coupon{ID: "SAVE10", Code: "SAVE10", DiscountPercent: 10}, nil
		},
	}
	deps.Gateway = &fakeGateway{
		initFunc: func(ctx context.Context, pCtx payments.PaymentContext, req payments.InitializeRequest) (payments.CheckoutSession, error) {
			initReq = req
			return payments.CheckoutSession{Reference: "ps_ref_1", Provider: "paystack", RedirectURL: "https://checkout.example.com/a"}, nil
		},
	}

	service, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	intent, err := service.CreateCart(ctx, CreateCartCommand{
		UserID:    "user-1",
		FirstName: "Ama",
		LastName:  "Mensah",
		Email:     "ama@example.com",
		Items: []CartItemRequest{
			{ProductID: "prd_bulb", Quantity: 2},
			{ProductID: "prd_cable", VariationID: "var_25m", Quantity: 1},
		},
		CouponCode: "SAVE10",
		Address:    "12 Ring Road, Accra, Greater Accra",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 2x1000 + 1x4500 sale price, minus 10%.
	if saved.Subtotal != 6500 {
		t.Fatalf("expected subtotal 6500, got %d", saved.Subtotal)
	}
	if saved.Discount != 650 || saved.Total != 5850 {
		t.Fatalf("expected discount 650 and total 5850, got %d/%d", saved.Discount, saved.Total)
	}
	if len(saved.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(saved.Items))
	}
	if saved.Items[0].ProductName != "Bulb-9w" || saved.Items[0].LineTotal != 2000 {
		t.Fatalf("unexpected first item %#v", saved.Items[0])
	}
	if saved.Items[1].VariationTitle != "25m" || saved.Items[1].UnitPrice != 4500 {
		t.Fatalf("unexpected second item %#v", saved.Items[1])
	}
	if saved.Coupon == nil || saved.Coupon.Code != "SAVE10" {
		t.Fatalf("expected applied coupon, got %#v", saved.Coupon)
	}
	if saved.PaymentStatus != domain.CartPaymentPending || saved.Status != domain.CartStatusPending {
		t.Fatalf("new cart must be pending, got %s/%s", saved.PaymentStatus, saved.Status)
	}

	if initReq.Amount != 5850 {
		t.Fatalf("expected gateway amount 5850, got %d", initReq.Amount)
	}
	if initReq.Currency != "NGN" {
		t.Fatalf("expected default currency NGN, got %q", initReq.Currency)
	}
	if initReq.Metadata.CartID != saved.ID || initReq.Metadata.UserID != "user-1" {
		t.Fatalf("metadata must echo cart correlation, got %#v", initReq.Metadata)
	}
	if initReq.Metadata.FormattedAddress != "12 Ring Road, Accra, Greater Accra" {
		t.Fatalf("unexpected metadata address %q", initReq.Metadata.FormattedAddress)
	}

	if intent.Reference != "ps_ref_1" || intent.RedirectURL == "" {
		t.Fatalf("unexpected checkout intent %#v", intent)
	}
}

func TestCartServiceRejectsDisabledVariation(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	service, err := NewCartService(newCartDeps(now))
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.CreateCart(context.Background(), CreateCartCommand{
		UserID:  "user-1",
		Email:   "ama@example.com",
		Items:   []CartItemRequest{{ProductID: "prd_cable", VariationID: "var_50m", Quantity: 1}},
		Address: "somewhere",
	})
	if !errors.Is(err, ErrCheckoutProductUnavailable) {
		t.Fatalf("expected ErrCheckoutProductUnavailable, got %v", err)
	}
}

func TestCartServiceRejectsVariableProductWithoutVariation(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	service, err := NewCartService(newCartDeps(now))
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.CreateCart(context.Background(), CreateCartCommand{
		UserID:  "user-1",
		Email:   "ama@example.com",
		Items:   []CartItemRequest{{ProductID: "prd_cable", Quantity: 1}},
		Address: "somewhere",
	})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
}

func TestCartServiceRejectsExpiredCoupon(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-24 * time.Hour)

	deps := newCartDeps(now)
	deps.Coupons = &fakeCouponRepo{
		findFunc: func(context.Context, string) (domain.Coupon, error) {
			return domain.Coupon{Code: "OLD", DiscountPercent: 10, ExpiresAt: &expired}, nil
		},
	}
	service, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.CreateCart(context.Background(), CreateCartCommand{
		UserID:     "user-1",
		Email:      "ama@example.com",
		Items:      []CartItemRequest{{ProductID: "prd_bulb", Quantity: 1}},
		CouponCode: "OLD",
		Address:    "somewhere",
	})
	if !errors.Is(err, ErrCheckoutCouponInvalid) {
		t.Fatalf("expected ErrCheckoutCouponInvalid, got %v", err)
	}
}

func TestCartServiceRejectsUnknownProduct(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	service, err := NewCartService(newCartDeps(now))
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.CreateCart(context.Background(), CreateCartCommand{
		UserID:  "user-1",
		Email:   "ama@example.com",
		Items:   []CartItemRequest{{ProductID: "prd_missing", Quantity: 1}},
		Address: "somewhere",
	})
	if !errors.Is(err, ErrCheckoutProductUnavailable) {
		t.Fatalf("expected ErrCheckoutProductUnavailable, got %v", err)
	}
}

func TestCartServiceGatewayFailure(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	inserted := false

	deps := newCartDeps(now)
	deps.Carts = &fakeCartRepo{
		insertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			inserted = true
			return cart, nil
		},
	}
	deps.Gateway = &fakeGateway{
		initFunc: func(context.Context, payments.PaymentContext, payments.InitializeRequest) (payments.CheckoutSession, error) {
			return payments.CheckoutSession{}, errors.New("gateway 502")
		},
	}
	service, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.CreateCart(context.Background(), CreateCartCommand{
		UserID:  "user-1",
		Email:   "ama@example.com",
		Items:   []CartItemRequest{{ProductID: "prd_bulb", Quantity: 1}},
		Address: "somewhere",
	})
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}
	if !inserted {
		t.Fatal("cart should persist before the gateway call")
	}
}

func TestCartServiceResolvesStoredAddress(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	var saved domain.Cart

	deps := newCartDeps(now)
	deps.Carts = &fakeCartRepo{
		insertFunc: func(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	deps.Addresses = &fakeAddressRepo{
		getFunc: func(ctx context.Context, userID, addressID string) (domain.Address, error) {
			if userID != "user-1" || addressID != "addr_1" {
				t.Fatalf("unexpected address lookup %s/%s", userID, addressID)
			}
			return domain.Address{ID: "addr_1", FormattedAddress: "Flat 3, Osu, Accra, Greater Accra"}, nil
		},
	}
	service, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.CreateCart(context.Background(), CreateCartCommand{
		UserID:    "user-1",
		Email:     "ama@example.com",
		Items:     []CartItemRequest{{ProductID: "prd_bulb", Quantity: 1}},
		AddressID: "addr_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Address != "Flat 3, Osu, Accra, Greater Accra" {
		t.Fatalf("expected stored address on cart, got %q", saved.Address)
	}
}

type fakeAddressRepo struct {
	listFunc       func(ctx context.Context, userID string) ([]domain.Address, error)
	getFunc        func(ctx context.Context, userID, addressID string) (domain.Address, error)
	insertFunc     func(ctx context.Context, addr domain.Address, limit int) (domain.Address, error)
	updateFunc     func(ctx context.Context, addr domain.Address) (domain.Address, error)
	deleteFunc     func(ctx context.Context, userID, addressID string) error
	setDefaultFunc func(ctx context.Context, userID, addressID string) (domain.Address, error)
}

func (f *fakeAddressRepo) List(ctx context.Context, userID string) ([]domain.Address, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, userID)
	}
	return nil, nil
}

func (f *fakeAddressRepo) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if f.getFunc != nil {
		return f.getFunc(ctx, userID, addressID)
	}
	return domain.Address{}, &repoErrStub{notFound: true}
}

func (f *fakeAddressRepo) Insert(ctx context.Context, addr domain.Address, limit int) (domain.Address, error) {
	if f.insertFunc != nil {
		return f.insertFunc(ctx, addr, limit)
	}
	return addr, nil
}

func (f *fakeAddressRepo) Update(ctx context.Context, addr domain.Address) (domain.Address, error) {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, addr)
	}
	return addr, nil
}

func (f *fakeAddressRepo) Delete(ctx context.Context, userID, addressID string) error {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, userID, addressID)
	}
	return nil
}

func (f *fakeAddressRepo) SetDefault(ctx context.Context, userID, addressID string) (domain.Address, error) {
	if f.setDefaultFunc != nil {
		return f.setDefaultFunc(ctx, userID, addressID)
	}
	return domain.Address{}, &repoErrStub{notFound: true}
}
