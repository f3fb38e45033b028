package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/payments"
	"github.com/steadfast-intl/api/internal/repositories"
)

const testWebhookSecret = "sk_test_webhook_secret"

func signBody(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func pendingCart(now time.Time) domain.Cart {
	return domain.Cart{
		ID:             "crt_01HTEST",
		UserID:         "user-1",
		BuyerFirstName: "Ama",
		BuyerLastName:  "Mensah",
		BuyerEmail:     "ama@example.com",
		Items: []domain.CartItem{
			{
				ProductID:   "prd_bulb",
				ProductName: "Bulb-9w",
				UnitPrice:   1000,
				Quantity:    2,
				LineTotal:   2000,
			},
		},
		Subtotal:      2000,
		Total:         2000,
		Address:       "12 Ring Road, Accra, Greater Accra",
		PaymentStatus: domain.CartPaymentPending,
		Status:        domain.CartStatusPending,
		CreatedAt:     now.Add(-time.Hour),
		UpdatedAt:     now.Add(-30 * time.Minute),
	}
}

func successEventBody(cartID, reference string) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"amount":2000,"currency":"GHS","status":"success","metadata":{"cartId":%q,"userId":"user-1","buyerEmail":"ama@example.com","formattedAddress":"12 Ring Road, Accra, Greater Accra"}}}`, reference, cartID))
}

func newReconciliationDeps(t *testing.T, now time.Time) ReconciliationServiceDeps {
	t.Helper()
	verifier, err := payments.NewWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("unexpected verifier error: %v", err)
	}
	return ReconciliationServiceDeps{
		Carts:      &fakeCartRepo{},
		Products:   &fakeProductRepo{},
		Coupons:    &fakeCouponRepo{},
		Orders:     &fakeOrderRepo{},
		Counters:   &fakeCounterRepo{nextFunc: func(context.Context, string, int64) (int64, error) { return 7, nil }},
		UnitOfWork: &fakeUnitOfWork{},
		Verifier:   verifier,
		Gateway: &fakeGateway{
			verifyFunc: func(ctx context.Context, _ payments.PaymentContext, reference string) (payments.PaymentDetails, error) {
				return payments.PaymentDetails{Reference: reference, Status: payments.StatusSucceeded, Amount: 2000}, nil
			},
		},
		Clock: func() time.Time { return now },
	}
}

func TestReconciliationFulfillsVerifiedCharge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)

	var decremented []repositories.StockAdjustment
	var finalizedRef string
	var finalizedExpected time.Time
	var insertedOrder domain.Order
	var published []OrderNotificationMessage
	var verifiedRef string
	txRan := false

	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(ctx context.Context, cartID string) (domain.Cart, error) {
			if cartID != cart.ID {
				t.Fatalf("unexpected cart id %s", cartID)
			}
			return cart, nil
		},
		finalizeFunc: func(ctx context.Context, cartID, reference string, expected time.Time) (domain.Cart, error) {
			if !txRan {
				t.Fatal("finalize ran outside the transaction")
			}
			finalizedRef = reference
			finalizedExpected = expected
			return cart, nil
		},
	}
	deps.Products = &fakeProductRepo{
		decrementFunc: func(ctx context.Context, adjustments []repositories.StockAdjustment) error {
			decremented = adjustments
			return nil
		},
	}
	deps.Orders = &fakeOrderRepo{
		insertFunc: func(ctx context.Context, order domain.Order) error {
			insertedOrder = order
			return nil
		},
	}
	deps.UnitOfWork = &fakeUnitOfWork{
		runFunc: func(ctx context.Context, fn func(ctx context.Context) error) error {
			txRan = true
			return fn(ctx)
		},
	}
	deps.Gateway = &fakeGateway{
		verifyFunc: func(ctx context.Context, _ payments.PaymentContext, reference string) (payments.PaymentDetails, error) {
			verifiedRef = reference
			return payments.PaymentDetails{Reference: reference, Status: payments.StatusSucceeded, Amount: 2000}, nil
		},
	}
	deps.Notifications = &fakeNotifier{
		dispatchFunc: func(ctx context.Context, msg OrderNotificationMessage) error {
			published = append(published, msg)
			return nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody(cart.ID, "ref-123")
	result, err := service.HandleWebhookEvent(ctx, body, signBody(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeFulfilled {
		t.Fatalf("expected fulfilled outcome, got %s", result.Outcome)
	}
	if verifiedRef != "ref-123" {
		t.Fatalf("expected gateway verification for ref-123, got %q", verifiedRef)
	}
	if len(decremented) != 1 || decremented[0].ProductID != "prd_bulb" || decremented[0].Quantity != 2 {
		t.Fatalf("unexpected stock adjustments %#v", decremented)
	}
	if finalizedRef != "ref-123" {
		t.Fatalf("expected cart finalized with ref-123, got %q", finalizedRef)
	}
	if !finalizedExpected.Equal(cart.UpdatedAt) {
		t.Fatalf("expected finalize precondition %v, got %v", cart.UpdatedAt, finalizedExpected)
	}
	if insertedOrder.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected order status Processing, got %s", insertedOrder.Status)
	}
	if insertedOrder.Number != "SF-2025-000007" {
		t.Fatalf("unexpected order number %s", insertedOrder.Number)
	}
	if insertedOrder.CartID != cart.ID || insertedOrder.Total != 2000 {
		t.Fatalf("order does not mirror cart snapshot: %#v", insertedOrder)
	}
	if insertedOrder.Address != cart.Address {
		t.Fatalf("expected order address %q, got %q", cart.Address, insertedOrder.Address)
	}
	if result.OrderID != insertedOrder.ID || result.OrderNumber != insertedOrder.Number {
		t.Fatalf("result does not reference created order: %#v", result)
	}
	if len(published) != 1 || published[0].Kind != NotificationOrderConfirmation {
		t.Fatalf("expected one confirmation notification, got %#v", published)
	}
	if published[0].RecipientName != "Ama Mensah" || published[0].Total != 2000 {
		t.Fatalf("unexpected notification payload %#v", published[0])
	}
}

func TestReconciliationReplayIsNoOp(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)
	cart.PaymentStatus = domain.CartPaymentPaid
	cart.Status = domain.CartStatusCompleted

	gatewayCalled := false
	decrementCalled := false

	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) { return cart, nil },
	}
	deps.Products = &fakeProductRepo{
		decrementFunc: func(context.Context, []repositories.StockAdjustment) error {
			decrementCalled = true
			return nil
		},
	}
	deps.Orders = &fakeOrderRepo{
		findByCartFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_existing", Number: "SF-2025-000001"}, nil
		},
	}
	deps.Gateway = &fakeGateway{
		verifyFunc: func(ctx context.Context, _ payments.PaymentContext, reference string) (payments.PaymentDetails, error) {
			gatewayCalled = true
			return payments.PaymentDetails{Status: payments.StatusSucceeded, Amount: 2000}, nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody(cart.ID, "ref-123")
	result, err := service.HandleWebhookEvent(ctx, body, signBody(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", result.Outcome)
	}
	if result.OrderID != "ord_existing" || result.OrderNumber != "SF-2025-000001" {
		t.Fatalf("expected existing order identifiers, got %#v", result)
	}
	if gatewayCalled {
		t.Fatal("replay must not call the gateway")
	}
	if decrementCalled {
		t.Fatal("replay must not touch stock")
	}
}

func TestReconciliationRejectsTamperedBody(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	findCalled := false
	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) {
			findCalled = true
			return domain.Cart{}, nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody("crt_01HTEST", "ref-123")
	signature := signBody(body)
	body[len(body)-2] ^= 0x01

	if _, err := service.HandleWebhookEvent(ctx, body, signature); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if findCalled {
		t.Fatal("signature failure must have no side effects")
	}
}

func TestReconciliationVerificationFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)

	txRan := false
	var published []OrderNotificationMessage
	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) { return cart, nil },
	}
	deps.UnitOfWork = &fakeUnitOfWork{
		runFunc: func(ctx context.Context, fn func(ctx context.Context) error) error {
			txRan = true
			return fn(ctx)
		},
	}
	deps.Gateway = &fakeGateway{
		verifyFunc: func(context.Context, payments.PaymentContext, string) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{Status: payments.StatusFailed}, nil
		},
	}
	deps.Notifications = &fakeNotifier{
		dispatchFunc: func(ctx context.Context, msg OrderNotificationMessage) error {
			published = append(published, msg)
			return nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody(cart.ID, "ref-123")
	if _, err := service.HandleWebhookEvent(ctx, body, signBody(body)); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	if txRan {
		t.Fatal("unverified charge must not reach the transaction")
	}
	if len(published) != 1 || published[0].Kind != NotificationPaymentFailed {
		t.Fatalf("expected one payment_failed notification for the buyer, got %#v", published)
	}
	if published[0].RecipientEmail != cart.BuyerEmail {
		t.Fatalf("expected notification addressed to %q, got %q", cart.BuyerEmail, published[0].RecipientEmail)
	}
}

func TestReconciliationAmountMismatch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)

	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) { return cart, nil },
	}
	deps.Gateway = &fakeGateway{
		verifyFunc: func(context.Context, payments.PaymentContext, string) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{Status: payments.StatusSucceeded, Amount: 500}, nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody(cart.ID, "ref-123")
	if _, err := service.HandleWebhookEvent(ctx, body, signBody(body)); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestReconciliationInsufficientStockAborts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)

	orderInserted := false
	finalized := false
	var alerts []OrderNotificationMessage

	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) { return cart, nil },
		finalizeFunc: func(context.Context, string, string, time.Time) (domain.Cart, error) {
			finalized = true
			return cart, nil
		},
	}
	deps.Products = &fakeProductRepo{
		decrementFunc: func(context.Context, []repositories.StockAdjustment) error {
			return repositories.NewStockError(repositories.StockErrorInsufficient, "stock below requested quantity", nil)
		},
	}
	deps.Orders = &fakeOrderRepo{
		insertFunc: func(context.Context, domain.Order) error {
			orderInserted = true
			return nil
		},
	}
	deps.Notifications = &fakeNotifier{
		dispatchFunc: func(ctx context.Context, msg OrderNotificationMessage) error {
			alerts = append(alerts, msg)
			return nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody(cart.ID, "ref-123")
	if _, err := service.HandleWebhookEvent(ctx, body, signBody(body)); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if orderInserted {
		t.Fatal("no order may be created when stock cannot be decremented")
	}
	if finalized {
		t.Fatal("cart must stay pending when stock cannot be decremented")
	}
	if len(alerts) != 1 || alerts[0].Kind != NotificationStockAlert {
		t.Fatalf("expected one stock alert, got %#v", alerts)
	}
}

func TestReconciliationSettlesCoupon(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)
	cart.Coupon = &domain.AppliedCoupon{Code: "SAVE10", DiscountPercent: 10, AppliedAt: cart.CreatedAt}
	cart.Discount = 200
	cart.Total = 1800

	var settledCode string
	var settledAmount int64

	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) { return cart, nil },
		finalizeFunc: func(context.Context, string, string, time.Time) (domain.Cart, error) {
			return cart, nil
		},
	}
	deps.Products = &fakeProductRepo{
		decrementFunc: func(context.Context, []repositories.StockAdjustment) error { return nil },
	}
	deps.Coupons = &fakeCouponRepo{
		findFunc: func(ctx context.Context, code string) (domain.Coupon, error) {
			return domain.Coupon{ID: "SAVE10", Code: "SAVE10", DiscountPercent: 10}, nil
		},
		settleFunc: func(ctx context.Context, code string, amount int64, _ time.Time) (domain.Coupon, error) {
			settledCode = code
			settledAmount = amount
			return domain.Coupon{Code: code}, nil
		},
	}
	deps.Orders = &fakeOrderRepo{
		insertFunc: func(context.Context, domain.Order) error { return nil },
	}
	deps.Gateway = &fakeGateway{
		verifyFunc: func(context.Context, payments.PaymentContext, string) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{Status: payments.StatusSucceeded, Amount: 1800}, nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody(cart.ID, "ref-123")
	result, err := service.HandleWebhookEvent(ctx, body, signBody(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeFulfilled {
		t.Fatalf("expected fulfilled, got %s", result.Outcome)
	}
	if settledCode != "SAVE10" || settledAmount != 200 {
		t.Fatalf("expected SAVE10 settled for 200, got %s/%d", settledCode, settledAmount)
	}
}

func TestReconciliationMissingCouponIsNotFatal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)
	cart.Coupon = &domain.AppliedCoupon{Code: "GONE", DiscountPercent: 10}
	cart.Discount = 200
	cart.Total = 1800

	settleCalled := false
	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) { return cart, nil },
		finalizeFunc: func(context.Context, string, string, time.Time) (domain.Cart, error) {
			return cart, nil
		},
	}
	deps.Products = &fakeProductRepo{
		decrementFunc: func(context.Context, []repositories.StockAdjustment) error { return nil },
	}
	deps.Coupons = &fakeCouponRepo{
		findFunc: func(context.Context, string) (domain.Coupon, error) {
			return domain.Coupon{}, &repoErrStub{notFound: true}
		},
		settleFunc: func(ctx context.Context, code string, amount int64, _ time.Time) (domain.Coupon, error) {
			settleCalled = true
			return domain.Coupon{}, nil
		},
	}
	deps.Orders = &fakeOrderRepo{
		insertFunc: func(context.Context, domain.Order) error { return nil },
	}
	deps.Gateway = &fakeGateway{
		verifyFunc: func(context.Context, payments.PaymentContext, string) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{Status: payments.StatusSucceeded, Amount: 1800}, nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody(cart.ID, "ref-123")
	result, err := service.HandleWebhookEvent(ctx, body, signBody(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeFulfilled {
		t.Fatalf("expected fulfilled despite missing coupon, got %s", result.Outcome)
	}
	if settleCalled {
		t.Fatal("missing coupon must be skipped, not settled")
	}
}

func TestReconciliationConflictResolvesToReplay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)

	calls := 0
	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) {
			calls++
			if calls == 1 {
				return cart, nil
			}
			paid := cart
			paid.PaymentStatus = domain.CartPaymentPaid
			paid.Status = domain.CartStatusCompleted
			return paid, nil
		},
		finalizeFunc: func(context.Context, string, string, time.Time) (domain.Cart, error) {
			return domain.Cart{}, &repoErrStub{conflict: true}
		},
	}
	deps.Products = &fakeProductRepo{
		decrementFunc: func(context.Context, []repositories.StockAdjustment) error { return nil },
	}
	deps.Orders = &fakeOrderRepo{
		findByCartFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_winner", Number: "SF-2025-000002"}, nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody(cart.ID, "ref-123")
	result, err := service.HandleWebhookEvent(ctx, body, signBody(body))
	if err != nil {
		t.Fatalf("expected idempotent resolution, got %v", err)
	}
	if result.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed after losing the race, got %s", result.Outcome)
	}
	if result.OrderID != "ord_winner" {
		t.Fatalf("expected winner's order id, got %s", result.OrderID)
	}
}

func TestReconciliationChargeFailedEvent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)

	var setPayment domain.CartPaymentStatus
	var setStatus domain.CartStatus
	var published []OrderNotificationMessage

	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) { return cart, nil },
		setStatusFunc: func(ctx context.Context, cartID string, payment domain.CartPaymentStatus, status domain.CartStatus) (domain.Cart, error) {
			setPayment = payment
			setStatus = status
			return cart, nil
		},
	}
	deps.Notifications = &fakeNotifier{
		dispatchFunc: func(ctx context.Context, msg OrderNotificationMessage) error {
			published = append(published, msg)
			return nil
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := []byte(fmt.Sprintf(`{"event":"charge.failed","data":{"reference":"ref-123","amount":2000,"status":"failed","metadata":{"cartId":%q,"userId":"user-1","buyerEmail":"ama@example.com","formattedAddress":"12 Ring Road, Accra, Greater Accra"}}}`, cart.ID))
	result, err := service.HandleWebhookEvent(ctx, body, signBody(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeChargeFailed {
		t.Fatalf("expected charge_failed, got %s", result.Outcome)
	}
	if setPayment != domain.CartPaymentFailed || setStatus != domain.CartStatusPending {
		t.Fatalf("expected cart marked Failed/Pending, got %s/%s", setPayment, setStatus)
	}
	if len(published) != 1 || published[0].Kind != NotificationPaymentFailed {
		t.Fatalf("expected one payment_failed notification, got %#v", published)
	}
}

func TestReconciliationNotificationFailureDoesNotFail(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cart := pendingCart(now)

	deps := newReconciliationDeps(t, now)
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) { return cart, nil },
		finalizeFunc: func(context.Context, string, string, time.Time) (domain.Cart, error) {
			return cart, nil
		},
	}
	deps.Products = &fakeProductRepo{
		decrementFunc: func(context.Context, []repositories.StockAdjustment) error { return nil },
	}
	deps.Orders = &fakeOrderRepo{
		insertFunc: func(context.Context, domain.Order) error { return nil },
	}
	deps.Notifications = &fakeNotifier{
		dispatchFunc: func(context.Context, OrderNotificationMessage) error {
			return errors.New("smtp relay down")
		},
	}

	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := successEventBody(cart.ID, "ref-123")
	result, err := service.HandleWebhookEvent(ctx, body, signBody(body))
	if err != nil {
		t.Fatalf("notification failure must not fail fulfilment: %v", err)
	}
	if result.Outcome != OutcomeFulfilled {
		t.Fatalf("expected fulfilled, got %s", result.Outcome)
	}
}

func TestReconciliationIgnoresUnknownEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	deps := newReconciliationDeps(t, now)
	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	body := []byte(`{"event":"transfer.success","data":{}}`)
	result, err := service.HandleWebhookEvent(ctx, body, signBody(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", result.Outcome)
	}
}

// Shared stub repositories ---------------------------------------------------

type fakeCartRepo struct {
	insertFunc    func(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	findFunc      func(ctx context.Context, cartID string) (domain.Cart, error)
	listFunc      func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Cart], error)
	finalizeFunc  func(ctx context.Context, cartID, reference string, expected time.Time) (domain.Cart, error)
	setStatusFunc func(ctx context.Context, cartID string, payment domain.CartPaymentStatus, status domain.CartStatus) (domain.Cart, error)
}

func (f *fakeCartRepo) Insert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if f.insertFunc != nil {
		return f.insertFunc(ctx, cart)
	}
	return cart, nil
}

func (f *fakeCartRepo) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	if f.findFunc != nil {
		return f.findFunc(ctx, cartID)
	}
	return domain.Cart{}, errors.New("not implemented")
}

func (f *fakeCartRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Cart], error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, userID, pager)
	}
	return domain.CursorPage[domain.Cart]{}, nil
}

func (f *fakeCartRepo) Finalize(ctx context.Context, cartID, reference string, expected time.Time) (domain.Cart, error) {
	if f.finalizeFunc != nil {
		return f.finalizeFunc(ctx, cartID, reference, expected)
	}
	return domain.Cart{}, errors.New("not implemented")
}

func (f *fakeCartRepo) SetPaymentStatus(ctx context.Context, cartID string, payment domain.CartPaymentStatus, status domain.CartStatus) (domain.Cart, error) {
	if f.setStatusFunc != nil {
		return f.setStatusFunc(ctx, cartID, payment, status)
	}
	return domain.Cart{}, errors.New("not implemented")
}

type fakeProductRepo struct {
	insertFunc    func(ctx context.Context, product domain.Product) error
	updateFunc    func(ctx context.Context, product domain.Product) error
	deleteFunc    func(ctx context.Context, productID string) error
	findFunc      func(ctx context.Context, productID string) (domain.Product, error)
	findSlugFunc  func(ctx context.Context, slug string) (domain.Product, error)
	findNameFunc  func(ctx context.Context, name string) (domain.Product, error)
	listFunc      func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
	decrementFunc func(ctx context.Context, adjustments []repositories.StockAdjustment) error
	adjustFunc    func(ctx context.Context, adjustment repositories.StockAdjustment) (domain.Product, error)
}

func (f *fakeProductRepo) Insert(ctx context.Context, product domain.Product) error {
	if f.insertFunc != nil {
		return f.insertFunc(ctx, product)
	}
	return nil
}

func (f *fakeProductRepo) Update(ctx context.Context, product domain.Product) error {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, product)
	}
	return nil
}

func (f *fakeProductRepo) Delete(ctx context.Context, productID string) error {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, productID)
	}
	return nil
}

func (f *fakeProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if f.findFunc != nil {
		return f.findFunc(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (f *fakeProductRepo) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if f.findSlugFunc != nil {
		return f.findSlugFunc(ctx, slug)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (f *fakeProductRepo) FindByName(ctx context.Context, name string) (domain.Product, error) {
	if f.findNameFunc != nil {
		return f.findNameFunc(ctx, name)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (f *fakeProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (f *fakeProductRepo) DecrementStock(ctx context.Context, adjustments []repositories.StockAdjustment) error {
	if f.decrementFunc != nil {
		return f.decrementFunc(ctx, adjustments)
	}
	return errors.New("not implemented")
}

func (f *fakeProductRepo) AdjustStock(ctx context.Context, adjustment repositories.StockAdjustment) (domain.Product, error) {
	if f.adjustFunc != nil {
		return f.adjustFunc(ctx, adjustment)
	}
	return domain.Product{}, errors.New("not implemented")
}

type fakeCouponRepo struct {
	insertFunc func(ctx context.Context, coupon domain.Coupon) error
	deleteFunc func(ctx context.Context, code string) error
	findFunc   func(ctx context.Context, code string) (domain.Coupon, error)
	listFunc   func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)
	settleFunc func(ctx context.Context, code string, amount int64, now time.Time) (domain.Coupon, error)
}

func (f *fakeCouponRepo) Insert(ctx context.Context, coupon domain.Coupon) error {
	if f.insertFunc != nil {
		return f.insertFunc(ctx, coupon)
	}
	return nil
}

func (f *fakeCouponRepo) Delete(ctx context.Context, code string) error {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, code)
	}
	return nil
}

func (f *fakeCouponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if f.findFunc != nil {
		return f.findFunc(ctx, code)
	}
	return domain.Coupon{}, &repoErrStub{notFound: true}
}

func (f *fakeCouponRepo) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, pager)
	}
	return domain.CursorPage[domain.Coupon]{}, nil
}

func (f *fakeCouponRepo) Settle(ctx context.Context, code string, amount int64, now time.Time) (domain.Coupon, error) {
	if f.settleFunc != nil {
		return f.settleFunc(ctx, code, amount, now)
	}
	return domain.Coupon{}, errors.New("not implemented")
}

type fakeOrderRepo struct {
	insertFunc     func(ctx context.Context, order domain.Order) error
	updateFunc     func(ctx context.Context, order domain.Order) error
	findFunc       func(ctx context.Context, orderID string) (domain.Order, error)
	findByCartFunc func(ctx context.Context, cartID string) (domain.Order, error)
	listFunc       func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (f *fakeOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if f.insertFunc != nil {
		return f.insertFunc(ctx, order)
	}
	return nil
}

func (f *fakeOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, order)
	}
	return nil
}

func (f *fakeOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if f.findFunc != nil {
		return f.findFunc(ctx, orderID)
	}
	return domain.Order{}, &repoErrStub{notFound: true}
}

func (f *fakeOrderRepo) FindByCartID(ctx context.Context, cartID string) (domain.Order, error) {
	if f.findByCartFunc != nil {
		return f.findByCartFunc(ctx, cartID)
	}
	return domain.Order{}, &repoErrStub{notFound: true}
}

func (f *fakeOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type fakeCounterRepo struct {
	nextFunc      func(ctx context.Context, counterID string, step int64) (int64, error)
	configureFunc func(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

func (f *fakeCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if f.nextFunc != nil {
		return f.nextFunc(ctx, counterID, step)
	}
	return 1, nil
}

func (f *fakeCounterRepo) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if f.configureFunc != nil {
		return f.configureFunc(ctx, counterID, cfg)
	}
	return nil
}

type fakeUnitOfWork struct {
	runFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (f *fakeUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.runFunc != nil {
		return f.runFunc(ctx, fn)
	}
	return fn(ctx)
}

type fakeGateway struct {
	initFunc   func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.InitializeRequest) (payments.CheckoutSession, error)
	verifyFunc func(ctx context.Context, paymentCtx payments.PaymentContext, reference string) (payments.PaymentDetails, error)
	refundFunc func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

func (f *fakeGateway) InitializeTransaction(ctx context.Context, paymentCtx payments.PaymentContext, req payments.InitializeRequest) (payments.CheckoutSession, error) {
	if f.initFunc != nil {
		return f.initFunc(ctx, paymentCtx, req)
	}
	return payments.CheckoutSession{}, errors.New("not implemented")
}

func (f *fakeGateway) VerifyTransaction(ctx context.Context, paymentCtx payments.PaymentContext, reference string) (payments.PaymentDetails, error) {
	if f.verifyFunc != nil {
		return f.verifyFunc(ctx, paymentCtx, reference)
	}
	return payments.PaymentDetails{}, errors.New("not implemented")
}

func (f *fakeGateway) Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	if f.refundFunc != nil {
		return f.refundFunc(ctx, paymentCtx, req)
	}
	return payments.PaymentDetails{}, errors.New("not implemented")
}

type fakeNotifier struct {
	dispatchFunc func(ctx context.Context, msg OrderNotificationMessage) error
}

func (f *fakeNotifier) Dispatch(ctx context.Context, msg OrderNotificationMessage) error {
	if f.dispatchFunc != nil {
		return f.dispatchFunc(ctx, msg)
	}
	return nil
}

type repoErrStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoErrStub) Error() string { return "repository error" }

func (e repoErrStub) IsNotFound() bool { return e.notFound }

func (e repoErrStub) IsConflict() bool { return e.conflict }

func (e repoErrStub) IsUnavailable() bool { return e.unavailable }
