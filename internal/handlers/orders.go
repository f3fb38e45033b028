package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/steadfast-intl/api/internal/platform/auth"
	"github.com/steadfast-intl/api/internal/platform/httpx"
	"github.com/steadfast-intl/api/internal/services"
)

const maxOrderBodySize = 16 * 1024

// OrderHandlers exposes buyer-facing order history and the back-office
// fulfilment endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs handlers over the order service.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the buyer-facing order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listMyOrders)
	r.Get("/{orderID}", h.getMyOrder)
	r.Post("/{orderID}/refund", h.requestRefund)
}

// AdminRoutes wires the back-office fulfilment endpoints.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/cancel", h.cancel)
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	query := buildOrderListQuery(r)
	query.UserID = identity.UID
	h.writeOrderList(ctx, w, query)
}

func (h *OrderHandlers) getMyOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.UserID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.UserID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	// An omitted body or amount requests a full refund.
	var req refundAmountRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		writeBodyError(ctx, w, err)
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}
	amount := req.Amount
	if amount == 0 {
		amount = order.Total
	}

	updated, err := h.orders.RequestRefund(ctx, orderID, amount)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	query := buildOrderListQuery(r)
	query.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	h.writeOrderList(ctx, w, query)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	status := services.OrderStatus(strings.TrimSpace(req.Status))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.UpdateStatus(ctx, orderID, status)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.Cancel(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) writeOrderList(ctx context.Context, w http.ResponseWriter, query services.OrderListQuery) {
	page, err := h.orders.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        items,
		NextPageToken: page.NextPageToken,
	})
}

func buildOrderListQuery(r *http.Request) services.OrderListQuery {
	query := services.OrderListQuery{Pagination: parsePager(r)}
	for _, raw := range r.URL.Query()["status"] {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			query.Status = append(query.Status, services.OrderStatus(raw))
		}
	}
	if from, ok := parseTimeQuery(r, "from"); ok {
		query.From = &from
	}
	if to, ok := parseTimeQuery(r, "to"); ok {
		query.To = &to
	}
	return query
}

func parseTimeQuery(r *http.Request, key string) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidStatus):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderAlreadyCancelled):
		httpx.WriteError(ctx, w, httpx.NewError("order_cancelled", "order is already cancelled", http.StatusConflict))
	case errors.Is(err, services.ErrOrderRefundNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("refund_not_allowed", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderRefundFailed):
		httpx.WriteError(ctx, w, httpx.NewError("refund_failed", "gateway refund failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID               string            `json:"id"`
	Number           string            `json:"number"`
	TrackingNumber   string            `json:"tracking_number,omitempty"`
	UserID           string            `json:"user_id"`
	CartID           string            `json:"cart_id"`
	Items            []cartItemPayload `json:"items"`
	Total            int64             `json:"total"`
	Address          string            `json:"address,omitempty"`
	PaymentStatus    string            `json:"payment_status"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	Status           string            `json:"status"`
	StatusColor      string            `json:"status_color"`
	RefundStatus     string            `json:"refund_status"`
	RefundedAmount   int64             `json:"refunded_amount,omitempty"`
	CreatedAt        string            `json:"created_at,omitempty"`
	UpdatedAt        string            `json:"updated_at,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type refundAmountRequest struct {
	Amount int64 `json:"amount"`
}

func buildOrderPayload(order services.Order) orderPayload {
	return orderPayload{
		ID:               order.ID,
		Number:           order.Number,
		TrackingNumber:   order.TrackingNumber,
		UserID:           order.UserID,
		CartID:           order.CartID,
		Items:            buildCartItems(order.Items),
		Total:            order.Total,
		Address:          order.Address,
		PaymentStatus:    string(order.PaymentStatus),
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		StatusColor:      order.StatusColor,
		RefundStatus:     string(order.RefundStatus),
		RefundedAmount:   order.RefundedAmount,
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
}
