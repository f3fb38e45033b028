package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/payments"
	"github.com/steadfast-intl/api/internal/repositories"
)

func processingOrder(now time.Time) domain.Order {
	return domain.Order{
		ID:               "ord_1",
		Number:           "SF-2025-000001",
		UserID:           "user-1",
		CartID:           "crt_1",
		Total:            2000,
		Address:          "12 Ring Road, Accra, Greater Accra",
		PaymentStatus:    domain.CartPaymentPaid,
		PaymentReference: "ref-123",
		Status:           domain.OrderStatusProcessing,
		StatusColor:      domain.OrderStatusProcessing.DisplayColor(),
		RefundStatus:     domain.RefundNotRequested,
		CreatedAt:        now.Add(-time.Hour),
		UpdatedAt:        now.Add(-time.Hour),
	}
}

func newOrderDeps(now time.Time, order domain.Order) OrderServiceDeps {
	return OrderServiceDeps{
		Orders: &fakeOrderRepo{
			findFunc: func(context.Context, string) (domain.Order, error) { return order, nil },
		},
		Carts: &fakeCartRepo{
			findFunc: func(context.Context, string) (domain.Cart, error) {
				return domain.Cart{ID: order.CartID, BuyerEmail: "ama@example.com", BuyerFirstName: "Ama"}, nil
			},
		},
		UnitOfWork: &fakeUnitOfWork{},
		Gateway:    &fakeGateway{},
		Clock:      func() time.Time { return now },
	}
}

func TestOrderServiceUpdateStatusToDelivered(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	order := processingOrder(now)

	var updated domain.Order
	var notified []OrderNotificationMessage

	deps := newOrderDeps(now, order)
	deps.Orders = &fakeOrderRepo{
		findFunc: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFunc: func(ctx context.Context, o domain.Order) error {
			updated = o
			return nil
		},
	}
	deps.Notifications = &fakeNotifier{
		dispatchFunc: func(ctx context.Context, msg OrderNotificationMessage) error {
			notified = append(notified, msg)
			return nil
		},
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	result, err := service.UpdateStatus(context.Background(), "ord_1", domain.OrderStatusDelivered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected Delivered, got %s", result.Status)
	}
	if updated.StatusColor != "#32CD32" {
		t.Fatalf("expected delivered color #32CD32, got %s", updated.StatusColor)
	}
	if len(notified) != 1 || notified[0].Kind != NotificationStatusUpdate {
		t.Fatalf("expected one status notification, got %#v", notified)
	}
	if notified[0].RecipientEmail != "ama@example.com" {
		t.Fatalf("expected buyer email from cart, got %q", notified[0].RecipientEmail)
	}
}

func TestOrderServiceUpdateStatusRejectsUnknownTarget(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	service, err := NewOrderService(newOrderDeps(now, processingOrder(now)))
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	if _, err := service.UpdateStatus(context.Background(), "ord_1", domain.OrderStatus("Shipped")); !errors.Is(err, ErrOrderInvalidStatus) {
		t.Fatalf("expected ErrOrderInvalidStatus, got %v", err)
	}
	if _, err := service.UpdateStatus(context.Background(), "ord_1", domain.OrderStatusProcessing); !errors.Is(err, ErrOrderInvalidStatus) {
		t.Fatalf("expected ErrOrderInvalidStatus for Processing target, got %v", err)
	}
}

func TestOrderServiceCancelRevertsCartAndRefunds(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	order := processingOrder(now)

	var refundReq payments.RefundRequest
	var updatedOrder domain.Order
	var cartPayment domain.CartPaymentStatus
	var cartStatus domain.CartStatus
	txRan := false

	deps := newOrderDeps(now, order)
	deps.Gateway = &fakeGateway{
		refundFunc: func(ctx context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
			refundReq = req
			return payments.PaymentDetails{Status: payments.StatusRefunded}, nil
		},
	}
	deps.Orders = &fakeOrderRepo{
		findFunc: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFunc: func(ctx context.Context, o domain.Order) error {
			if !txRan {
				t.Fatal("order update must run inside the transaction")
			}
			updatedOrder = o
			return nil
		},
	}
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) {
			return domain.Cart{ID: order.CartID, BuyerEmail: "ama@example.com"}, nil
		},
		setStatusFunc: func(ctx context.Context, cartID string, payment domain.CartPaymentStatus, status domain.CartStatus) (domain.Cart, error) {
			cartPayment = payment
			cartStatus = status
			return domain.Cart{ID: cartID}, nil
		},
	}
	deps.UnitOfWork = &fakeUnitOfWork{
		runFunc: func(ctx context.Context, fn func(ctx context.Context) error) error {
			txRan = true
			return fn(ctx)
		},
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	result, err := service.Cancel(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.OrderStatusCancelled || result.StatusColor != "#FF0000" {
		t.Fatalf("unexpected cancelled order %#v", result)
	}
	if refundReq.Reference != "ref-123" {
		t.Fatalf("expected refund for ref-123, got %q", refundReq.Reference)
	}
	if cartPayment != domain.CartPaymentPending || cartStatus != domain.CartStatusPending {
		t.Fatalf("expected cart reverted to Pending, got %s/%s", cartPayment, cartStatus)
	}
	if updatedOrder.RefundStatus != domain.RefundRequested {
		t.Fatalf("expected refund requested on cancel, got %s", updatedOrder.RefundStatus)
	}
}

func TestOrderServiceCancelAbortsWhenRefundFails(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	order := processingOrder(now)

	orderUpdated := false
	cartTouched := false

	deps := newOrderDeps(now, order)
	deps.Gateway = &fakeGateway{
		refundFunc: func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{}, errors.New("refund rejected")
		},
	}
	deps.Orders = &fakeOrderRepo{
		findFunc: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFunc: func(context.Context, domain.Order) error {
			orderUpdated = true
			return nil
		},
	}
	deps.Carts = &fakeCartRepo{
		findFunc: func(context.Context, string) (domain.Cart, error) { return domain.Cart{}, nil },
		setStatusFunc: func(context.Context, string, domain.CartPaymentStatus, domain.CartStatus) (domain.Cart, error) {
			cartTouched = true
			return domain.Cart{}, nil
		},
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	if _, err := service.Cancel(context.Background(), "ord_1"); !errors.Is(err, ErrOrderRefundFailed) {
		t.Fatalf("expected ErrOrderRefundFailed, got %v", err)
	}
	if orderUpdated || cartTouched {
		t.Fatal("refund failure must abort the cancellation without writes")
	}
}

func TestOrderServiceCancelTwiceRejected(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	order := processingOrder(now)
	order.Status = domain.OrderStatusCancelled

	service, err := NewOrderService(newOrderDeps(now, order))
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	if _, err := service.Cancel(context.Background(), "ord_1"); !errors.Is(err, ErrOrderAlreadyCancelled) {
		t.Fatalf("expected ErrOrderAlreadyCancelled, got %v", err)
	}
}

func TestOrderServiceRequestRefund(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	order := processingOrder(now)
	order.Status = domain.OrderStatusDelivered

	var updated domain.Order
	deps := newOrderDeps(now, order)
	deps.Orders = &fakeOrderRepo{
		findFunc: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFunc: func(ctx context.Context, o domain.Order) error {
			updated = o
			return nil
		},
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	result, err := service.RequestRefund(context.Background(), "ord_1", 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RefundStatus != domain.RefundRequested || result.Status != domain.OrderStatusRefunded {
		t.Fatalf("unexpected refund state %#v", result)
	}
	if updated.RefundedAmount != 2000 || updated.StatusColor != "#808080" {
		t.Fatalf("unexpected persisted order %#v", updated)
	}
}

func TestOrderServiceRequestRefundRejectsWrongState(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	order := processingOrder(now)
	order.Status = domain.OrderStatusInTransit

	service, err := NewOrderService(newOrderDeps(now, order))
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	if _, err := service.RequestRefund(context.Background(), "ord_1", 500); !errors.Is(err, ErrOrderRefundNotAllowed) {
		t.Fatalf("expected ErrOrderRefundNotAllowed, got %v", err)
	}
}

func TestOrderServiceCompleteRefund(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	order := processingOrder(now)
	order.Status = domain.OrderStatusRefunded
	order.RefundStatus = domain.RefundRequested
	order.RefundedAmount = 1500

	var refundReq payments.RefundRequest
	var updated domain.Order

	deps := newOrderDeps(now, order)
	deps.Gateway = &fakeGateway{
		refundFunc: func(ctx context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
			refundReq = req
			return payments.PaymentDetails{Status: payments.StatusRefunded}, nil
		},
	}
	deps.Orders = &fakeOrderRepo{
		findFunc: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFunc: func(ctx context.Context, o domain.Order) error {
			updated = o
			return nil
		},
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	result, err := service.CompleteRefund(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RefundStatus != domain.RefundCompleted {
		t.Fatalf("expected Completed, got %s", result.RefundStatus)
	}
	if refundReq.Amount == nil || *refundReq.Amount != 1500 {
		t.Fatalf("expected partial refund of 1500, got %#v", refundReq.Amount)
	}
	if updated.RefundStatus != domain.RefundCompleted {
		t.Fatalf("unexpected persisted refund state %s", updated.RefundStatus)
	}
}

func TestOrderServiceCompleteRefundMarksFailureOnGatewayError(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	order := processingOrder(now)
	order.RefundStatus = domain.RefundRequested
	order.RefundedAmount = 1500

	var persisted []domain.RefundStatus
	deps := newOrderDeps(now, order)
	deps.Gateway = &fakeGateway{
		refundFunc: func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error) {
			return payments.PaymentDetails{}, errors.New("gateway 500")
		},
	}
	deps.Orders = &fakeOrderRepo{
		findFunc: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFunc: func(ctx context.Context, o domain.Order) error {
			persisted = append(persisted, o.RefundStatus)
			return nil
		},
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	if _, err := service.CompleteRefund(context.Background(), "ord_1"); !errors.Is(err, ErrOrderRefundFailed) {
		t.Fatalf("expected ErrOrderRefundFailed, got %v", err)
	}
	if len(persisted) != 1 || persisted[0] != domain.RefundFailed {
		t.Fatalf("expected RefundFailed persisted, got %#v", persisted)
	}
}

func TestOrderServiceListMapsQuery(t *testing.T) {
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	from := now.Add(-30 * 24 * time.Hour)

	var gotFilter repositories.OrderListFilter
	deps := newOrderDeps(now, processingOrder(now))
	deps.Orders = &fakeOrderRepo{
		listFunc: func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			gotFilter = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{processingOrder(now)}}, nil
		},
	}
	service, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	page, err := service.ListOrders(context.Background(), OrderListQuery{
		UserID: "user-1",
		Status: []OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusInTransit},
		From:   &from,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 order, got %d", len(page.Items))
	}
	if gotFilter.UserID != "user-1" || len(gotFilter.Status) != 2 {
		t.Fatalf("unexpected filter %#v", gotFilter)
	}
	if gotFilter.DateRange.From == nil || !gotFilter.DateRange.From.Equal(from) {
		t.Fatalf("expected from filter %v, got %#v", from, gotFilter.DateRange.From)
	}
}
