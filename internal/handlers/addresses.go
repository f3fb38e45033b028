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

const maxAddressBodySize = 16 * 1024

// AddressHandlers exposes the customer address book.
type AddressHandlers struct {
	authn     *auth.Authenticator
	addresses services.AddressService
}

// NewAddressHandlers constructs handlers enforcing Firebase authentication
// before invoking the address service.
func NewAddressHandlers(authn *auth.Authenticator, addresses services.AddressService) *AddressHandlers {
	return &AddressHandlers{
		authn:     authn,
		addresses: addresses,
	}
}

// Routes wires the address book endpoints.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{addressID}", h.get)
	r.Put("/{addressID}", h.update)
	r.Delete("/{addressID}", h.delete)
	r.Post("/{addressID}/default", h.setDefault)
}

func (h *AddressHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(ctx, w)
	if !ok {
		return
	}
	addrs, err := h.addresses.ListAddresses(ctx, identity.UID)
	if err != nil {
		h.writeAddressError(ctx, w, err)
		return
	}
	items := make([]addressPayload, 0, len(addrs))
	for _, addr := range addrs {
		items = append(items, buildAddressPayload(addr))
	}
	writeJSONResponse(w, http.StatusOK, addressListResponse{Addresses: items})
}

func (h *AddressHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(ctx, w)
	if !ok {
		return
	}
	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	addr, err := h.addresses.GetAddress(ctx, identity.UID, addressID)
	if err != nil {
		h.writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressResponse{Address: buildAddressPayload(addr)})
}

func (h *AddressHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(ctx, w)
	if !ok {
		return
	}
	cmd, ok := h.decodeCommand(ctx, w, r, identity.UID)
	if !ok {
		return
	}
	addr, err := h.addresses.CreateAddress(ctx, cmd)
	if err != nil {
		h.writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, addressResponse{Address: buildAddressPayload(addr)})
}

func (h *AddressHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(ctx, w)
	if !ok {
		return
	}
	cmd, ok := h.decodeCommand(ctx, w, r, identity.UID)
	if !ok {
		return
	}
	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	addr, err := h.addresses.UpdateAddress(ctx, addressID, cmd)
	if err != nil {
		h.writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressResponse{Address: buildAddressPayload(addr)})
}

func (h *AddressHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(ctx, w)
	if !ok {
		return
	}
	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	if err := h.addresses.DeleteAddress(ctx, identity.UID, addressID); err != nil {
		h.writeAddressError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AddressHandlers) setDefault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireService(ctx, w)
	if !ok {
		return
	}
	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	addr, err := h.addresses.SetDefaultAddress(ctx, identity.UID, addressID)
	if err != nil {
		h.writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressResponse{Address: buildAddressPayload(addr)})
}

func (h *AddressHandlers) requireService(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.addresses == nil {
		httpx.WriteError(ctx, w, httpx.NewError("addresses_unavailable", "address service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requireIdentity(ctx, w)
}

func (h *AddressHandlers) decodeCommand(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string) (services.UpsertAddressCommand, bool) {
	body, err := readLimitedBody(r, maxAddressBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return services.UpsertAddressCommand{}, false
	}
	var req addressRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return services.UpsertAddressCommand{}, false
	}
	return services.UpsertAddressCommand{
		UserID:           userID,
		PhoneNumber:      strings.TrimSpace(req.PhoneNumber),
		AlternativePhone: strings.TrimSpace(req.AlternativePhone),
		Email:            strings.TrimSpace(req.Email),
		City:             strings.TrimSpace(req.City),
		DeliveryAddress:  strings.TrimSpace(req.DeliveryAddress),
		Region:           strings.TrimSpace(req.Region),
		ZipCode:          strings.TrimSpace(req.ZipCode),
	}, true
}

func (h *AddressHandlers) writeAddressError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAddressInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAddressLimitReached):
		httpx.WriteError(ctx, w, httpx.NewError("address_limit_reached", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrAddressUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("addresses_unavailable", "address service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("address_error", "address operation failed", http.StatusInternalServerError))
	}
}

type addressListResponse struct {
	Addresses []addressPayload `json:"addresses"`
}

type addressResponse struct {
	Address addressPayload `json:"address"`
}

type addressRequest struct {
	PhoneNumber      string `json:"phone_number"`
	AlternativePhone string `json:"alternative_phone"`
	Email            string `json:"email"`
	City             string `json:"city"`
	DeliveryAddress  string `json:"delivery_address"`
	Region           string `json:"region"`
	ZipCode          string `json:"zip_code"`
}

type addressPayload struct {
	ID               string `json:"id"`
	PhoneNumber      string `json:"phone_number"`
	AlternativePhone string `json:"alternative_phone,omitempty"`
	Email            string `json:"email,omitempty"`
	City             string `json:"city"`
	DeliveryAddress  string `json:"delivery_address"`
	Region           string `json:"region"`
	ZipCode          string `json:"zip_code,omitempty"`
	FormattedAddress string `json:"formatted_address"`
	Default          bool   `json:"default"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:               addr.ID,
		PhoneNumber:      addr.PhoneNumber,
		AlternativePhone: addr.AlternativePhone,
		Email:            addr.Email,
		City:             addr.City,
		DeliveryAddress:  addr.DeliveryAddress,
		Region:           addr.Region,
		ZipCode:          addr.ZipCode,
		FormattedAddress: addr.FormattedAddress,
		Default:          addr.Default,
		CreatedAt:        formatTime(addr.CreatedAt),
		UpdatedAt:        formatTime(addr.UpdatedAt),
	}
}
