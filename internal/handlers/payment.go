package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/steadfast-intl/api/internal/platform/httpx"
	"github.com/steadfast-intl/api/internal/services"
)

const (
	maxWebhookBodySize  = 512 * 1024
	signatureHeaderName = "x-paystack-signature"
)

// PaymentHandlers exposes the gateway webhook and the back-office refund and
// reconciliation endpoints.
type PaymentHandlers struct {
	reconciler services.ReconciliationService
	orders     services.OrderService
}

// NewPaymentHandlers constructs the payment endpoints.
func NewPaymentHandlers(reconciler services.ReconciliationService, orders services.OrderService) *PaymentHandlers {
	return &PaymentHandlers{
		reconciler: reconciler,
		orders:     orders,
	}
}

// Routes wires the unauthenticated webhook endpoint. The gateway authenticates
// itself through the signature header, not a bearer token.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/webhook", h.webhook)
}

// AdminRoutes wires the operator refund and recovery endpoints.
func (h *PaymentHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/refund", h.completeRefund)
	r.Post("/reconcile", h.reconcile)
}

// webhook reads the raw body before any JSON decoding so the signature is
// computed over the exact bytes the gateway signed.
func (h *PaymentHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "reconciliation service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	signature := strings.TrimSpace(r.Header.Get(signatureHeaderName))
	result, err := h.reconciler.HandleWebhookEvent(ctx, body, signature)
	if err != nil {
		h.writeReconciliationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, reconciliationResponse{
		Outcome:     string(result.Outcome),
		CartID:      result.CartID,
		Reference:   result.Reference,
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
	})
}

func (h *PaymentHandlers) completeRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req refundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CompleteRefund(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *PaymentHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "reconciliation service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req reconcileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	reference := strings.TrimSpace(req.Reference)
	cartID := strings.TrimSpace(req.CartID)
	if reference == "" || cartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reference and cart_id are required", http.StatusBadRequest))
		return
	}

	result, err := h.reconciler.ReconcileReference(ctx, reference, cartID)
	if err != nil {
		h.writeReconciliationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reconciliationResponse{
		Outcome:     string(result.Outcome),
		CartID:      result.CartID,
		Reference:   result.Reference,
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
	})
}

func (h *PaymentHandlers) writeReconciliationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "webhook signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrMalformedEvent):
		httpx.WriteError(ctx, w, httpx.NewError("malformed_event", "webhook payload could not be parsed", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "no cart matches the event metadata", http.StatusNotFound))
	case errors.Is(err, services.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", "charged amount does not cover the cart total", http.StatusBadRequest))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "stock was exhausted before fulfilment", http.StatusConflict))
	case errors.Is(err, services.ErrReconciliationConflict):
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_conflict", "concurrent reconciliation detected; retry", http.StatusConflict))
	case errors.Is(err, services.ErrVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("verification_failed", "gateway verification did not confirm the charge", http.StatusBadGateway))
	case errors.Is(err, services.ErrReconciliationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "reconciliation dependencies unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "webhook processing failed", http.StatusInternalServerError))
	}
}

type reconciliationResponse struct {
	Outcome     string `json:"outcome"`
	CartID      string `json:"cart_id,omitempty"`
	Reference   string `json:"reference,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
}

type refundRequest struct {
	OrderID string `json:"order_id"`
}

type reconcileRequest struct {
	Reference string `json:"reference"`
	CartID    string `json:"cart_id"`
}
