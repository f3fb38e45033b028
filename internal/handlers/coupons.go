package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/steadfast-intl/api/internal/platform/httpx"
	"github.com/steadfast-intl/api/internal/services"
)

const (
	maxCouponBodySize     = 8 * 1024
	maxCouponSyncBodySize = 256 * 1024
)

// CouponHandlers exposes coupon validation for the storefront and coupon
// management for the back office.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs handlers over the coupon service.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes wires the public coupon validation endpoint.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/validate", h.validate)
}

// AdminRoutes wires the coupon management endpoints.
func (h *CouponHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/sync", h.sync)
	r.Get("/{code}", h.get)
	r.Delete("/{code}", h.delete)
}

func (h *CouponHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req validateCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.ValidateCoupon(ctx, strings.TrimSpace(req.Code))
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}
	page, err := h.coupons.ListCoupons(ctx, parsePager(r))
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}
	items := make([]couponPayload, 0, len(page.Items))
	for _, coupon := range page.Items {
		items = append(items, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, couponListResponse{
		Coupons:       items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CouponHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.CreateCouponCommand{
		Code:            strings.TrimSpace(req.Code),
		DiscountPercent: req.DiscountPercent,
	}
	if raw := strings.TrimSpace(req.ExpiresAt); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expires_at must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.ExpiresAt = &ts
	}

	coupon, err := h.coupons.CreateCoupon(ctx, cmd)
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxCouponSyncBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req syncCouponsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if len(req.Coupons) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupons list is required", http.StatusBadRequest))
		return
	}

	entries := make([]services.CouponSyncEntry, 0, len(req.Coupons))
	for _, item := range req.Coupons {
		entry := services.CouponSyncEntry{
			Code:            strings.TrimSpace(item.Code),
			DiscountPercent: item.DiscountPercent,
		}
		if raw := strings.TrimSpace(item.ExpiresAt); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expires_at must be an RFC3339 timestamp", http.StatusBadRequest))
				return
			}
			entry.ExpiresAt = &ts
		}
		entries = append(entries, entry)
	}

	result, err := h.coupons.SyncCoupons(ctx, entries)
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, syncCouponsResponse{
		Created: result.Created,
		Updated: result.Updated,
		Skipped: result.Skipped,
	})
}

func (h *CouponHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	coupon, err := h.coupons.GetCoupon(ctx, code)
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if err := h.coupons.DeleteCoupon(ctx, code); err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CouponHandlers) writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_conflict", "coupon already exists", http.StatusConflict))
	case errors.Is(err, services.ErrCouponUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "coupon operation failed", http.StatusInternalServerError))
	}
}

type validateCouponRequest struct {
	Code string `json:"code"`
}

type createCouponRequest struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
	ExpiresAt       string `json:"expires_at"`
}

type syncCouponsRequest struct {
	Coupons []createCouponRequest `json:"coupons"`
}

type syncCouponsResponse struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

type couponResponse struct {
	Coupon couponPayload `json:"coupon"`
}

type couponListResponse struct {
	Coupons       []couponPayload `json:"coupons"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type couponPayload struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	Balance         int64  `json:"balance"`
	UsageCount      int    `json:"usage_count"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func buildCouponPayload(coupon services.Coupon) couponPayload {
	payload := couponPayload{
		Code:            coupon.Code,
		DiscountPercent: coupon.DiscountPercent,
		Balance:         coupon.Balance,
		UsageCount:      coupon.UsageCount,
		CreatedAt:       formatTime(coupon.CreatedAt),
		UpdatedAt:       formatTime(coupon.UpdatedAt),
	}
	if coupon.ExpiresAt != nil {
		payload.ExpiresAt = formatTime(*coupon.ExpiresAt)
	}
	return payload
}
