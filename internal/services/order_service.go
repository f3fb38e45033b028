package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/payments"
	"github.com/steadfast-intl/api/internal/repositories"
)

var (
	// ErrOrderNotFound indicates the referenced order does not exist.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrOrderInvalidInput indicates the caller supplied invalid parameters.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderInvalidStatus rejects a status value outside the state machine.
	ErrOrderInvalidStatus = errors.New("orders: invalid status transition")
	// ErrOrderAlreadyCancelled rejects cancelling an order twice.
	ErrOrderAlreadyCancelled = errors.New("orders: already cancelled")
	// ErrOrderRefundNotAllowed rejects a refund request from the wrong state.
	ErrOrderRefundNotAllowed = errors.New("orders: refund not allowed")
	// ErrOrderRefundFailed indicates the gateway rejected the refund call.
	ErrOrderRefundFailed = errors.New("orders: refund failed")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("orders: unavailable")
)

// updateStatusTargets are the states an operator may move an order into.
// Processing is entry-only and the refund states are reached through the
// refund operations.
var updateStatusTargets = map[domain.OrderStatus]bool{
	domain.OrderStatusInTransit: true,
	domain.OrderStatusArrived:   true,
	domain.OrderStatusDelivered: true,
	domain.OrderStatusCancelled: true,
}

// orderGateway abstracts payments.Manager for easier testing.
type orderGateway interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Carts         repositories.CartRepository
	UnitOfWork    repositories.UnitOfWork
	Gateway       orderGateway
	Notifications NotificationService
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	carts         repositories.CartRepository
	uow           repositories.UnitOfWork
	gateway       orderGateway
	notifications NotificationService
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("order service: unit of work is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:        deps.Orders,
		carts:         deps.Carts,
		uow:           deps.UnitOfWork,
		gateway:       deps.Gateway,
		notifications: deps.Notifications,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetOrder fetches one order by id.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	return order, nil
}

// ListOrders pages orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return CursorPage[Order]{}, ErrOrderUnavailable
	}
	statuses := make([]string, 0, len(query.Status))
	for _, status := range query.Status {
		statuses = append(statuses, string(status))
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: strings.TrimSpace(query.UserID),
		Status: statuses,
		DateRange: domain.RangeQuery[time.Time]{
			From: query.From,
			To:   query.To,
		},
		Pagination: query.Pagination,
	})
	if err != nil {
		return CursorPage[Order]{}, s.translateError(err)
	}
	return page, nil
}

// UpdateStatus advances the fulfilment state machine. The display color is a
// pure function of the status and is refreshed on every transition.
func (s *orderService) UpdateStatus(ctx context.Context, orderID string, status OrderStatus) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	if !updateStatusTargets[status] {
		return Order{}, fmt.Errorf("%w: %q", ErrOrderInvalidStatus, status)
	}
	if status == domain.OrderStatusCancelled {
		return s.Cancel(ctx, orderID)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRefunded {
		return Order{}, fmt.Errorf("%w: order is %s", ErrOrderInvalidStatus, order.Status)
	}

	order.Status = status
	order.StatusColor = status.DisplayColor()
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateError(err)
	}
	s.logger(ctx, "orders.status_updated", map[string]any{
		"order_id": order.ID,
		"status":   string(status),
	})
	s.notifyBuyer(ctx, order, NotificationStatusUpdate)
	return order, nil
}

// Cancel marks the order Cancelled and frees its cart for a fresh checkout.
// The gateway refund is issued first; if the gateway rejects it nothing is
// written, so a cancelled order always has its money on the way back.
func (s *orderService) Cancel(ctx context.Context, orderID string) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, ErrOrderAlreadyCancelled
	}

	if _, err := s.gateway.Refund(ctx, payments.PaymentContext{}, payments.RefundRequest{
		Reference: order.PaymentReference,
		Reason:    "requested_by_customer",
	}); err != nil {
		s.logger(ctx, "orders.cancel_refund_failed", map[string]any{
			"order_id":  order.ID,
			"reference": order.PaymentReference,
			"error":     err.Error(),
		})
		return Order{}, fmt.Errorf("%w: %v", ErrOrderRefundFailed, err)
	}

	now := s.now()
	order.Status = domain.OrderStatusCancelled
	order.StatusColor = domain.OrderStatusCancelled.DisplayColor()
	order.RefundStatus = domain.RefundRequested
	order.UpdatedAt = now

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		_, err := s.carts.SetPaymentStatus(ctx, order.CartID, domain.CartPaymentPending, domain.CartStatusPending)
		return err
	})
	if err != nil {
		return Order{}, s.translateError(err)
	}
	s.logger(ctx, "orders.cancelled", map[string]any{
		"order_id": order.ID,
		"cart_id":  order.CartID,
	})
	s.notifyBuyer(ctx, order, NotificationStatusUpdate)
	return order, nil
}

// RequestRefund opens the refund sub-flow. Only delivered or still-processing
// orders qualify.
func (s *orderService) RequestRefund(ctx context.Context, orderID string, amount int64) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusDelivered && order.Status != domain.OrderStatusProcessing {
		return Order{}, fmt.Errorf("%w: order is %s", ErrOrderRefundNotAllowed, order.Status)
	}
	if order.RefundStatus == domain.RefundRequested || order.RefundStatus == domain.RefundCompleted {
		return Order{}, fmt.Errorf("%w: refund already %s", ErrOrderRefundNotAllowed, order.RefundStatus)
	}
	if amount <= 0 || amount > order.Total {
		return Order{}, fmt.Errorf("%w: refund amount out of range", ErrOrderInvalidInput)
	}

	order.RefundStatus = domain.RefundRequested
	order.RefundedAmount = amount
	order.Status = domain.OrderStatusRefunded
	order.StatusColor = domain.OrderStatusRefunded.DisplayColor()
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateError(err)
	}
	s.logger(ctx, "orders.refund_requested", map[string]any{
		"order_id": order.ID,
		"amount":   amount,
	})
	return order, nil
}

// CompleteRefund settles a previously requested refund through the gateway.
func (s *orderService) CompleteRefund(ctx context.Context, orderID string) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.RefundStatus != domain.RefundRequested {
		return Order{}, fmt.Errorf("%w: refund is %s", ErrOrderRefundNotAllowed, order.RefundStatus)
	}

	amount := order.RefundedAmount
	if _, err := s.gateway.Refund(ctx, payments.PaymentContext{}, payments.RefundRequest{
		Reference: order.PaymentReference,
		Amount:    &amount,
		Reason:    "requested_by_customer",
	}); err != nil {
		order.RefundStatus = domain.RefundFailed
		order.UpdatedAt = s.now()
		if updateErr := s.orders.Update(ctx, order); updateErr != nil {
			s.logger(ctx, "orders.refund_state_write_failed", map[string]any{
				"order_id": order.ID,
				"error":    updateErr.Error(),
			})
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderRefundFailed, err)
	}

	order.RefundStatus = domain.RefundCompleted
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateError(err)
	}
	s.logger(ctx, "orders.refund_completed", map[string]any{
		"order_id": order.ID,
		"amount":   amount,
	})
	s.notifyBuyer(ctx, order, NotificationStatusUpdate)
	return order, nil
}

// notifyBuyer resolves the buyer contact from the linked cart and dispatches
// a status notification. Failures are logged only.
func (s *orderService) notifyBuyer(ctx context.Context, order Order, kind string) {
	if s.notifications == nil {
		return
	}
	cart, err := s.carts.FindByID(ctx, order.CartID)
	if err != nil {
		s.logger(ctx, "orders.notify_skip", map[string]any{
			"order_id": order.ID,
			"cart_id":  order.CartID,
			"error":    err.Error(),
		})
		return
	}
	if err := s.notifications.Dispatch(ctx, OrderNotificationMessage{
		Kind:           kind,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		CartID:         order.CartID,
		RecipientEmail: cart.BuyerEmail,
		RecipientName:  cart.BuyerName(),
		Total:          order.Total,
		QueuedAt:       s.now(),
	}); err != nil {
		s.logger(ctx, "orders.notify_failed", map[string]any{
			"order_id": order.ID,
			"kind":     kind,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderInvalidStatus
		default:
			return ErrOrderUnavailable
		}
	}
	return ErrOrderUnavailable
}
