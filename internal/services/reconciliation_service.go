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

const (
	defaultVerifyTimeout      = 15 * time.Second
	defaultReconcileTxTimeout = 30 * time.Second
	orderNumberCounterPrefix  = "orders"
)

var (
	// ErrSignatureInvalid rejects a webhook whose signature does not match the raw body.
	ErrSignatureInvalid = errors.New("reconciliation: webhook signature invalid")
	// ErrMalformedEvent rejects a webhook body that cannot be decoded or lacks
	// the correlation metadata required to locate a cart.
	ErrMalformedEvent = errors.New("reconciliation: malformed webhook event")
	// ErrVerificationFailed indicates the gateway's own verify endpoint did not
	// confirm the charge as successful. Ambiguous verifications (timeouts)
	// resolve to this error; fulfilment never proceeds on doubt.
	ErrVerificationFailed = errors.New("reconciliation: gateway verification failed")
	// ErrAmountMismatch indicates the verified charge amount does not cover the cart total.
	ErrAmountMismatch = errors.New("reconciliation: charge amount does not match cart total")
	// ErrCartNotFound indicates the event referenced a cart that does not exist.
	ErrCartNotFound = errors.New("reconciliation: cart not found")
	// ErrInsufficientStock indicates fulfilment would oversell; the transaction
	// was rolled back and the condition needs operator attention.
	ErrInsufficientStock = errors.New("reconciliation: insufficient stock")
	// ErrReconciliationConflict indicates a concurrent delivery raced this one
	// and neither outcome could be confirmed; the gateway should redeliver.
	ErrReconciliationConflict = errors.New("reconciliation: concurrent modification")
	// ErrReconciliationUnavailable indicates a dependency failure; the gateway
	// should redeliver.
	ErrReconciliationUnavailable = errors.New("reconciliation: unavailable")
)

// reconciliationGateway abstracts payments.Manager for easier testing.
type reconciliationGateway interface {
	VerifyTransaction(ctx context.Context, paymentCtx payments.PaymentContext, reference string) (payments.PaymentDetails, error)
}

// signatureVerifier abstracts payments.WebhookVerifier.
type signatureVerifier interface {
	Verify(body []byte, signature string) bool
}

// ReconciliationServiceDeps wires the dependencies required by the reconciliation service.
type ReconciliationServiceDeps struct {
	Carts         repositories.CartRepository
	Products      repositories.ProductRepository
	Coupons       repositories.CouponRepository
	Orders        repositories.OrderRepository
	Counters      repositories.CounterRepository
	UnitOfWork    repositories.UnitOfWork
	Verifier      signatureVerifier
	Gateway       reconciliationGateway
	Notifications NotificationService
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	VerifyTimeout time.Duration
	TxTimeout     time.Duration
}

type reconciliationService struct {
	carts         repositories.CartRepository
	products      repositories.ProductRepository
	coupons       repositories.CouponRepository
	orders        repositories.OrderRepository
	counters      repositories.CounterRepository
	uow           repositories.UnitOfWork
	verifier      signatureVerifier
	gateway       reconciliationGateway
	notifications NotificationService
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
	verifyTimeout time.Duration
	txTimeout     time.Duration
}

// NewReconciliationService constructs a ReconciliationService validating required dependencies.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Carts == nil {
		return nil, errors.New("reconciliation service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("reconciliation service: product repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("reconciliation service: coupon repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("reconciliation service: counter repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("reconciliation service: unit of work is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("reconciliation service: webhook verifier is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("reconciliation service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	verifyTimeout := deps.VerifyTimeout
	if verifyTimeout <= 0 {
		verifyTimeout = defaultVerifyTimeout
	}
	txTimeout := deps.TxTimeout
	if txTimeout <= 0 {
		txTimeout = defaultReconcileTxTimeout
	}

	return &reconciliationService{
		carts:         deps.Carts,
		products:      deps.Products,
		coupons:       deps.Coupons,
		orders:        deps.Orders,
		counters:      deps.Counters,
		uow:           deps.UnitOfWork,
		verifier:      deps.Verifier,
		gateway:       deps.Gateway,
		notifications: deps.Notifications,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:        logger,
		verifyTimeout: verifyTimeout,
		txTimeout:     txTimeout,
	}, nil
}

// HandleWebhookEvent authenticates and processes one gateway delivery. The
// signature is recomputed over the exact raw bytes received; nothing runs
// before that check passes.
func (s *reconciliationService) HandleWebhookEvent(ctx context.Context, body []byte, signature string) (ReconciliationResult, error) {
	if s == nil || s.verifier == nil {
		return ReconciliationResult{}, ErrReconciliationUnavailable
	}
	if !s.verifier.Verify(body, signature) {
		s.logger(ctx, "reconciliation.signature_invalid", map[string]any{
			"body_bytes": len(body),
		})
		return ReconciliationResult{}, ErrSignatureInvalid
	}

	event, err := payments.ParseWebhookEvent(body)
	if err != nil {
		return ReconciliationResult{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch event.Event {
	case payments.EventChargeSuccess:
		return s.reconcile(ctx, event.Data.Reference, event.Data.Metadata.CartID)
	case payments.EventChargeFailed:
		return s.recordChargeFailure(ctx, event.Data)
	default:
		s.logger(ctx, "reconciliation.event_ignored", map[string]any{
			"event": event.Event,
		})
		return ReconciliationResult{Outcome: OutcomeIgnored}, nil
	}
}

// ReconcileReference re-runs the success path for a known reference and cart.
func (s *reconciliationService) ReconcileReference(ctx context.Context, reference string, cartID string) (ReconciliationResult, error) {
	if s == nil || s.carts == nil {
		return ReconciliationResult{}, ErrReconciliationUnavailable
	}
	reference = strings.TrimSpace(reference)
	cartID = strings.TrimSpace(cartID)
	if reference == "" || cartID == "" {
		return ReconciliationResult{}, fmt.Errorf("%w: reference and cart id are required", ErrMalformedEvent)
	}
	return s.reconcile(ctx, reference, cartID)
}

// reconcile is the success pipeline. The idempotency gate runs first so
// replayed deliveries stay cheap; the finalize precondition inside the
// transaction closes the race two concurrent deliveries can still win past
// the gate.
func (s *reconciliationService) reconcile(ctx context.Context, reference, cartID string) (ReconciliationResult, error) {
	result := ReconciliationResult{CartID: cartID, Reference: reference}

	cart, err := s.carts.FindByID(ctx, cartID)
	if err != nil {
		return ReconciliationResult{}, s.translateError(err)
	}

	if cart.PaymentStatus == domain.CartPaymentPaid || cart.Status == domain.CartStatusCompleted {
		return s.alreadyProcessed(ctx, result)
	}

	details, err := s.verifyCharge(ctx, reference)
	if err != nil {
		s.logger(ctx, "reconciliation.verification_failed", map[string]any{
			"reference": reference,
			"cart_id":   cartID,
			"error":     err.Error(),
		})
		s.dispatch(ctx, OrderNotificationMessage{
			Kind:           NotificationPaymentFailed,
			CartID:         cart.ID,
			RecipientEmail: cart.BuyerEmail,
			RecipientName:  cart.BuyerName(),
			Total:          cart.Total,
			QueuedAt:       s.now(),
		})
		return ReconciliationResult{}, err
	}
	if details.Amount < cart.Total {
		s.logger(ctx, "reconciliation.amount_mismatch", map[string]any{
			"reference":  reference,
			"cart_id":    cartID,
			"charged":    details.Amount,
			"cart_total": cart.Total,
		})
		return ReconciliationResult{}, ErrAmountMismatch
	}

	// A missing coupon code is logged and skipped rather than failing the
	// delivery; the blind settlement write inside the transaction cannot
	// tolerate an absent document.
	settleCoupon := false
	if cart.Coupon != nil && cart.Coupon.Code != "" {
		if _, err := s.coupons.FindByCode(ctx, cart.Coupon.Code); err != nil {
			if !isNotFound(err) {
				return ReconciliationResult{}, s.translateError(err)
			}
			s.logger(ctx, "reconciliation.coupon_missing", map[string]any{
				"cart_id": cartID,
				"code":    cart.Coupon.Code,
			})
		} else {
			settleCoupon = true
		}
	}

	now := s.now()
	order, err := s.buildOrder(ctx, cart, reference, now)
	if err != nil {
		return ReconciliationResult{}, err
	}
	adjustments := stockAdjustments(cart.Items)

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	txErr := s.uow.RunInTx(txCtx, func(ctx context.Context) error {
		if err := s.products.DecrementStock(ctx, adjustments); err != nil {
			return err
		}
		if settleCoupon {
			if _, err := s.coupons.Settle(ctx, cart.Coupon.Code, cart.Discount, now); err != nil {
				return err
			}
		}
		if _, err := s.carts.Finalize(ctx, cart.ID, reference, cart.UpdatedAt); err != nil {
			return err
		}
		return s.orders.Insert(ctx, order)
	})
	if txErr != nil {
		return s.handleTxFailure(ctx, result, cart, txErr)
	}

	result.Outcome = OutcomeFulfilled
	result.OrderID = order.ID
	result.OrderNumber = order.Number
	s.logger(ctx, "reconciliation.fulfilled", map[string]any{
		"reference":    reference,
		"cart_id":      cartID,
		"order_id":     order.ID,
		"order_number": order.Number,
	})

	s.dispatch(ctx, OrderNotificationMessage{
		Kind:           NotificationOrderConfirmation,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		CartID:         cart.ID,
		RecipientEmail: cart.BuyerEmail,
		RecipientName:  cart.BuyerName(),
		Total:          cart.Total,
		QueuedAt:       s.now(),
	})
	return result, nil
}

// verifyCharge asks the gateway whether the charge really succeeded. The
// webhook payload's own status claim is never trusted.
func (s *reconciliationService) verifyCharge(ctx context.Context, reference string) (payments.PaymentDetails, error) {
	verifyCtx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()
	details, err := s.gateway.VerifyTransaction(verifyCtx, payments.PaymentContext{}, reference)
	if err != nil {
		return payments.PaymentDetails{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if details.Status != payments.StatusSucceeded {
		return payments.PaymentDetails{}, fmt.Errorf("%w: gateway status %q", ErrVerificationFailed, details.Status)
	}
	return details, nil
}

// buildOrder freezes the cart snapshot into an order document. The id and
// sequence number are allocated before the transaction; a number burnt on a
// failed commit leaves a gap, never a duplicate.
func (s *reconciliationService) buildOrder(ctx context.Context, cart domain.Cart, reference string, now time.Time) (domain.Order, error) {
	counterID := fmt.Sprintf("%s:%d", orderNumberCounterPrefix, now.Year())
	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return domain.Order{}, s.translateError(err)
	}
	items := make([]domain.CartItem, len(cart.Items))
	copy(items, cart.Items)
	return domain.Order{
		ID:               "ord_" + ulid.Make().String(),
		Number:           fmt.Sprintf("SF-%d-%06d", now.Year(), seq),
		UserID:           cart.UserID,
		CartID:           cart.ID,
		Items:            items,
		Total:            cart.Total,
		Address:          cart.Address,
		PaymentStatus:    domain.CartPaymentPaid,
		PaymentReference: reference,
		Status:           domain.OrderStatusProcessing,
		StatusColor:      domain.OrderStatusProcessing.DisplayColor(),
		RefundStatus:     domain.RefundNotRequested,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// handleTxFailure classifies a rolled-back transaction. A conflict means a
// concurrent delivery beat this one to the finalize write; re-probing the cart
// turns that into an idempotent success instead of a spurious 5xx.
func (s *reconciliationService) handleTxFailure(ctx context.Context, result ReconciliationResult, cart domain.Cart, txErr error) (ReconciliationResult, error) {
	if repositories.IsInsufficientStock(txErr) {
		s.logger(ctx, "reconciliation.insufficient_stock", map[string]any{
			"reference": result.Reference,
			"cart_id":   cart.ID,
			"error":     txErr.Error(),
		})
		s.dispatch(ctx, OrderNotificationMessage{
			Kind:           NotificationStockAlert,
			CartID:         cart.ID,
			RecipientEmail: cart.BuyerEmail,
			RecipientName:  cart.BuyerName(),
			Total:          cart.Total,
			QueuedAt:       s.now(),
		})
		return ReconciliationResult{}, fmt.Errorf("%w: %v", ErrInsufficientStock, txErr)
	}

	if isConflict(txErr) {
		if current, err := s.carts.FindByID(ctx, cart.ID); err == nil && current.PaymentStatus == domain.CartPaymentPaid {
			return s.alreadyProcessed(ctx, result)
		}
		s.logger(ctx, "reconciliation.conflict", map[string]any{
			"reference": result.Reference,
			"cart_id":   cart.ID,
			"error":     txErr.Error(),
		})
		return ReconciliationResult{}, ErrReconciliationConflict
	}

	s.logger(ctx, "reconciliation.tx_failed", map[string]any{
		"reference": result.Reference,
		"cart_id":   cart.ID,
		"error":     txErr.Error(),
	})
	return ReconciliationResult{}, s.translateError(txErr)
}

// alreadyProcessed resolves the order created by the earlier delivery so the
// caller still gets stable identifiers back.
func (s *reconciliationService) alreadyProcessed(ctx context.Context, result ReconciliationResult) (ReconciliationResult, error) {
	result.Outcome = OutcomeAlreadyProcessed
	if order, err := s.orders.FindByCartID(ctx, result.CartID); err == nil {
		result.OrderID = order.ID
		result.OrderNumber = order.Number
	}
	s.logger(ctx, "reconciliation.already_processed", map[string]any{
		"reference": result.Reference,
		"cart_id":   result.CartID,
	})
	return result, nil
}

// recordChargeFailure marks the cart's payment as failed and tells the buyer.
// The cart stays Pending so a fresh checkout attempt can reuse it.
func (s *reconciliationService) recordChargeFailure(ctx context.Context, charge payments.WebhookCharge) (ReconciliationResult, error) {
	result := ReconciliationResult{
		Outcome:   OutcomeChargeFailed,
		CartID:    charge.Metadata.CartID,
		Reference: charge.Reference,
	}
	cart, err := s.carts.FindByID(ctx, charge.Metadata.CartID)
	if err != nil {
		return ReconciliationResult{}, s.translateError(err)
	}
	if cart.PaymentStatus == domain.CartPaymentPaid {
		// A failure event racing a processed success changes nothing.
		return s.alreadyProcessed(ctx, result)
	}
	if _, err := s.carts.SetPaymentStatus(ctx, cart.ID, domain.CartPaymentFailed, domain.CartStatusPending); err != nil {
		return ReconciliationResult{}, s.translateError(err)
	}
	s.logger(ctx, "reconciliation.charge_failed", map[string]any{
		"reference": charge.Reference,
		"cart_id":   cart.ID,
	})
	s.dispatch(ctx, OrderNotificationMessage{
		Kind:           NotificationPaymentFailed,
		CartID:         cart.ID,
		RecipientEmail: cart.BuyerEmail,
		RecipientName:  cart.BuyerName(),
		Total:          cart.Total,
		QueuedAt:       s.now(),
	})
	return result, nil
}

// dispatch hands a message to the notification service. Failures are logged
// and never propagate; fulfilment is already committed when this runs.
func (s *reconciliationService) dispatch(ctx context.Context, msg OrderNotificationMessage) {
	if s.notifications == nil {
		return
	}
	if err := s.notifications.Dispatch(ctx, msg); err != nil {
		s.logger(ctx, "reconciliation.notification_failure", map[string]any{
			"kind":     msg.Kind,
			"cart_id":  msg.CartID,
			"order_id": msg.OrderID,
			"error":    err.Error(),
		})
	}
}

func (s *reconciliationService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrReconciliationConflict
		default:
			return ErrReconciliationUnavailable
		}
	}
	return ErrReconciliationUnavailable
}

func stockAdjustments(items []domain.CartItem) []repositories.StockAdjustment {
	adjustments := make([]repositories.StockAdjustment, 0, len(items))
	for _, item := range items {
		adjustments = append(adjustments, repositories.StockAdjustment{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
		})
	}
	return adjustments
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
