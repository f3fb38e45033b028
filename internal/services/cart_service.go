package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/payments"
	"github.com/steadfast-intl/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutProductUnavailable indicates a requested product or variation
	// does not exist or cannot be purchased.
	ErrCheckoutProductUnavailable = errors.New("checkout: product unavailable")
	// ErrCheckoutCouponInvalid indicates the supplied coupon is unknown or expired.
	ErrCheckoutCouponInvalid = errors.New("checkout: coupon invalid")
	// ErrCheckoutCartNotFound indicates the referenced cart does not exist.
	ErrCheckoutCartNotFound = errors.New("checkout: cart not found")
	// ErrCheckoutPaymentFailed indicates the gateway session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment session failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// cartGateway abstracts payments.Manager for easier testing.
type cartGateway interface {
	InitializeTransaction(ctx context.Context, paymentCtx payments.PaymentContext, req payments.InitializeRequest) (payments.CheckoutSession, error)
}

// CartServiceDeps wires the dependencies required by the cart service.
type CartServiceDeps struct {
	Carts     repositories.CartRepository
	Products  repositories.ProductRepository
	Coupons   repositories.CouponRepository
	Addresses repositories.AddressRepository
	Gateway   cartGateway
	Currency  string
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	coupons   repositories.CouponRepository
	addresses repositories.AddressRepository
	gateway   cartGateway
	currency  string
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCartService constructs a CartService validating required dependencies.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("cart service: coupon repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("cart service: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrencyCode
	}
	return &cartService{
		carts:     deps.Carts,
		products:  deps.Products,
		coupons:   deps.Coupons,
		addresses: deps.Addresses,
		gateway:   deps.Gateway,
		currency:  currency,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCart snapshots the requested items against the catalog, applies an
// optional coupon, persists the cart, and opens a gateway session. The session
// metadata carries the cart id so the webhook can correlate the charge back
// without re-deriving any state.
func (s *cartService) CreateCart(ctx context.Context, cmd CreateCartCommand) (CheckoutIntent, error) {
	if s == nil || s.carts == nil {
		return CheckoutIntent{}, ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	email := strings.TrimSpace(cmd.Email)
	if userID == "" || email == "" {
		return CheckoutIntent{}, fmt.Errorf("%w: user id and email are required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return CheckoutIntent{}, fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}

	address, err := s.resolveAddress(ctx, userID, cmd)
	if err != nil {
		return CheckoutIntent{}, err
	}

	now := s.now()
	items, subtotal, err := s.snapshotItems(ctx, cmd.Items)
	if err != nil {
		return CheckoutIntent{}, err
	}

	var applied *domain.AppliedCoupon
	var discount int64
	if code := strings.TrimSpace(cmd.CouponCode); code != "" {
		coupon, err := s.resolveCoupon(ctx, code, now)
		if err != nil {
			return CheckoutIntent{}, err
		}
		discount = subtotal * int64(coupon.DiscountPercent) / 100
		applied = &domain.AppliedCoupon{
			Code:            coupon.Code,
			DiscountPercent: coupon.DiscountPercent,
			AppliedAt:       now,
		}
	}

	cart := domain.Cart{
		ID:             "crt_" + ulid.Make().String(),
		UserID:         userID,
		BuyerFirstName: strings.TrimSpace(cmd.FirstName),
		BuyerLastName:  strings.TrimSpace(cmd.LastName),
		BuyerEmail:     email,
		Items:          items,
		Subtotal:       subtotal,
		Discount:       discount,
		Total:          subtotal - discount,
		Coupon:         applied,
		Address:        address,
		PaymentStatus:  domain.CartPaymentPending,
		Status:         domain.CartStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	saved, err := s.carts.Insert(ctx, cart)
	if err != nil {
		return CheckoutIntent{}, s.translateError(err)
	}

	session, err := s.gateway.InitializeTransaction(ctx, payments.PaymentContext{Currency: s.currency}, payments.InitializeRequest{
		Amount:      saved.Total,
		Currency:    s.currency,
		Email:       email,
		CallbackURL: strings.TrimSpace(cmd.CallbackURL),
		Metadata: payments.SessionMetadata{
			CartID:           saved.ID,
			UserID:           userID,
			BuyerEmail:       email,
			FormattedAddress: address,
		},
	})
	if err != nil {
		s.logger(ctx, "checkout.session_failed", map[string]any{
			"cart_id": saved.ID,
			"error":   err.Error(),
		})
		return CheckoutIntent{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	s.logger(ctx, "checkout.cart_created", map[string]any{
		"cart_id":   saved.ID,
		"user_id":   userID,
		"total":     saved.Total,
		"reference": session.Reference,
	})
	return CheckoutIntent{
		Cart:        saved,
		Provider:    session.Provider,
		Reference:   session.Reference,
		AccessCode:  session.AccessCode,
		RedirectURL: session.RedirectURL,
	}, nil
}

// GetCart fetches one cart by id.
func (s *cartService) GetCart(ctx context.Context, cartID string) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCheckoutUnavailable
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return Cart{}, ErrCheckoutInvalidInput
	}
	cart, err := s.carts.FindByID(ctx, cartID)
	if err != nil {
		return Cart{}, s.translateError(err)
	}
	return cart, nil
}

// ListCarts pages a user's checkout history, newest first.
func (s *cartService) ListCarts(ctx context.Context, userID string, pager Pagination) (CursorPage[Cart], error) {
	if s == nil || s.carts == nil {
		return CursorPage[Cart]{}, ErrCheckoutUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CursorPage[Cart]{}, ErrCheckoutInvalidInput
	}
	page, err := s.carts.ListByUser(ctx, userID, pager)
	if err != nil {
		return CursorPage[Cart]{}, s.translateError(err)
	}
	return page, nil
}

func (s *cartService) resolveAddress(ctx context.Context, userID string, cmd CreateCartCommand) (string, error) {
	if addressID := strings.TrimSpace(cmd.AddressID); addressID != "" {
		if s.addresses == nil {
			return "", ErrCheckoutUnavailable
		}
		addr, err := s.addresses.Get(ctx, userID, addressID)
		if err != nil {
			if isNotFound(err) {
				return "", fmt.Errorf("%w: address %s", ErrCheckoutInvalidInput, addressID)
			}
			return "", s.translateError(err)
		}
		return addr.FormattedAddress, nil
	}
	address := strings.TrimSpace(cmd.Address)
	if address == "" {
		return "", fmt.Errorf("%w: delivery address is required", ErrCheckoutInvalidInput)
	}
	return address, nil
}

// snapshotItems freezes catalog names and prices into line items so later
// catalog edits cannot change what the buyer agreed to pay.
func (s *cartService) snapshotItems(ctx context.Context, requests []CartItemRequest) ([]domain.CartItem, int64, error) {
	items := make([]domain.CartItem, 0, len(requests))
	var subtotal int64
	for _, req := range requests {
		if req.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: item quantity must be positive", ErrCheckoutInvalidInput)
		}
		productID := strings.TrimSpace(req.ProductID)
		if productID == "" {
			return nil, 0, fmt.Errorf("%w: item product id is required", ErrCheckoutInvalidInput)
		}
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			if isNotFound(err) {
				return nil, 0, fmt.Errorf("%w: product %s", ErrCheckoutProductUnavailable, productID)
			}
			return nil, 0, s.translateError(err)
		}

		item := domain.CartItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    req.Quantity,
		}
		if variationID := strings.TrimSpace(req.VariationID); variationID != "" {
			variation, ok := findVariation(product, variationID)
			if !ok || variation.Disabled {
				return nil, 0, fmt.Errorf("%w: variation %s of product %s", ErrCheckoutProductUnavailable, variationID, product.ID)
			}
			item.VariationID = variation.ID
			item.VariationTitle = variation.Title
			item.UnitPrice = variation.EffectivePrice()
		} else {
			if product.Type == domain.ProductTypeVariable {
				return nil, 0, fmt.Errorf("%w: product %s requires a variation", ErrCheckoutInvalidInput, product.ID)
			}
			item.UnitPrice = product.EffectivePrice()
		}
		item.LineTotal = item.UnitPrice * int64(item.Quantity)
		subtotal += item.LineTotal
		items = append(items, item)
	}
	return items, subtotal, nil
}

func (s *cartService) resolveCoupon(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return domain.Coupon{}, fmt.Errorf("%w: unknown code %s", ErrCheckoutCouponInvalid, code)
		}
		return domain.Coupon{}, s.translateError(err)
	}
	if coupon.Expired(now) {
		return domain.Coupon{}, fmt.Errorf("%w: code %s expired", ErrCheckoutCouponInvalid, code)
	}
	return coupon, nil
}

func (s *cartService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCheckoutCartNotFound
		case repoErr.IsConflict():
			return ErrCheckoutInvalidInput
		default:
			return ErrCheckoutUnavailable
		}
	}
	return ErrCheckoutUnavailable
}

func findVariation(product domain.Product, variationID string) (domain.VariationOption, bool) {
	for _, option := range product.Variations {
		if option.ID == variationID {
			return option, true
		}
	}
	return domain.VariationOption{}, false
}
