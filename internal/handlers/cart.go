package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/steadfast-intl/api/internal/platform/auth"
	"github.com/steadfast-intl/api/internal/platform/httpx"
	"github.com/steadfast-intl/api/internal/services"
)

const maxCartBodySize = 32 * 1024

// CartHandlers exposes the checkout endpoint and cart lookups.
type CartHandlers struct {
	authn   *auth.Authenticator
	carts   services.CartService
	limiter rateLimiter
}

// NewCartHandlers constructs handlers enforcing Firebase authentication
// before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, limiter rateLimiter) *CartHandlers {
	return &CartHandlers{
		authn:   authn,
		carts:   carts,
		limiter: limiter,
	}
}

// Routes wires the buyer-facing cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/checkout", h.checkout)
	r.Get("/{cartID}", h.getCart)
	r.Get("/", h.listCarts)
}

// AdminRoutes wires the back-office cart listing.
func (h *CartHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listCartsForUser)
}

func (h *CartHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.CreateCartCommand{
		UserID:      identity.UID,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Email:       strings.TrimSpace(req.Email),
		CouponCode:  strings.TrimSpace(req.CouponCode),
		AddressID:   strings.TrimSpace(req.AddressID),
		Address:     strings.TrimSpace(req.Address),
		CallbackURL: strings.TrimSpace(req.CallbackURL),
	}
	if cmd.Email == "" {
		cmd.Email = identity.Email
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CartItemRequest{
			ProductID:   strings.TrimSpace(item.ProductID),
			VariationID: strings.TrimSpace(item.VariationID),
			Quantity:    item.Quantity,
		})
	}

	intent, err := h.carts.CreateCart(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Cart:        buildCartPayload(intent.Cart),
		Provider:    intent.Provider,
		Reference:   intent.Reference,
		AccessCode:  intent.AccessCode,
		RedirectURL: intent.RedirectURL,
	})
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	cartID := strings.TrimSpace(chi.URLParam(r, "cartID"))
	cart, err := h.carts.GetCart(ctx, cartID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	if cart.UserID != identity.UID && !identity.HasRole("admin") {
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) listCarts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	h.writeCartList(ctx, w, identity.UID, parsePager(r))
}

func (h *CartHandlers) listCartsForUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	h.writeCartList(ctx, w, userID, parsePager(r))
}

func (h *CartHandlers) writeCartList(ctx context.Context, w http.ResponseWriter, userID string, pager services.Pagination) {
	page, err := h.carts.ListCarts(ctx, userID, pager)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	items := make([]cartPayload, 0, len(page.Items))
	for _, cart := range page.Items {
		items = append(items, buildCartPayload(cart))
	}
	writeJSONResponse(w, http.StatusOK, cartListResponse{
		Carts:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_init_failed", "payment session could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

type checkoutRequest struct {
	FirstName   string                `json:"first_name"`
	LastName    string                `json:"last_name"`
	Email       string                `json:"email"`
	Items       []checkoutItemRequest `json:"items"`
	CouponCode  string                `json:"coupon_code"`
	AddressID   string                `json:"address_id"`
	Address     string                `json:"address"`
	CallbackURL string                `json:"callback_url"`
}

type checkoutItemRequest struct {
	ProductID   string `json:"product_id"`
	VariationID string `json:"variation_id"`
	Quantity    int    `json:"quantity"`
}

type checkoutResponse struct {
	Cart        cartPayload `json:"cart"`
	Provider    string      `json:"provider"`
	Reference   string      `json:"reference"`
	AccessCode  string      `json:"access_code,omitempty"`
	RedirectURL string      `json:"redirect_url"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartListResponse struct {
	Carts         []cartPayload `json:"carts"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type cartPayload struct {
	ID               string               `json:"id"`
	UserID           string               `json:"user_id"`
	BuyerName        string               `json:"buyer_name,omitempty"`
	BuyerEmail       string               `json:"buyer_email,omitempty"`
	Items            []cartItemPayload    `json:"items"`
	Subtotal         int64                `json:"subtotal"`
	Discount         int64                `json:"discount"`
	Total            int64                `json:"total"`
	Coupon           *appliedCouponPayout `json:"coupon,omitempty"`
	Address          string               `json:"address,omitempty"`
	PaymentStatus    string               `json:"payment_status"`
	Status           string               `json:"status"`
	PaymentReference string               `json:"payment_reference,omitempty"`
	CreatedAt        string               `json:"created_at,omitempty"`
	UpdatedAt        string               `json:"updated_at,omitempty"`
}

type appliedCouponPayout struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
}

type cartItemPayload struct {
	ProductID      string `json:"product_id"`
	VariationID    string `json:"variation_id,omitempty"`
	ProductName    string `json:"product_name"`
	VariationTitle string `json:"variation_title,omitempty"`
	UnitPrice      int64  `json:"unit_price"`
	Quantity       int    `json:"quantity"`
	LineTotal      int64  `json:"line_total"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:               cart.ID,
		UserID:           cart.UserID,
		BuyerName:        cart.BuyerName(),
		BuyerEmail:       cart.BuyerEmail,
		Items:            buildCartItems(cart.Items),
		Subtotal:         cart.Subtotal,
		Discount:         cart.Discount,
		Total:            cart.Total,
		Address:          cart.Address,
		PaymentStatus:    string(cart.PaymentStatus),
		Status:           string(cart.Status),
		PaymentReference: cart.PaymentReference,
		CreatedAt:        formatTime(cart.CreatedAt),
		UpdatedAt:        formatTime(cart.UpdatedAt),
	}
	if cart.Coupon != nil {
		payload.Coupon = &appliedCouponPayout{
			Code:            cart.Coupon.Code,
			DiscountPercent: cart.Coupon.DiscountPercent,
		}
	}
	return payload
}

func buildCartItems(items []services.CartItem) []cartItemPayload {
	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, cartItemPayload{
			ProductID:      item.ProductID,
			VariationID:    item.VariationID,
			ProductName:    item.ProductName,
			VariationTitle: item.VariationTitle,
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			LineTotal:      item.LineTotal,
		})
	}
	return payload
}
