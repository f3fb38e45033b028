package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/steadfast-intl/api/internal/platform/httpx"
	"github.com/steadfast-intl/api/internal/services"
)

const maxProductBodySize = 64 * 1024

// ProductHandlers exposes the public catalog and the back-office catalog
// management endpoints.
type ProductHandlers struct {
	catalog services.CatalogService
}

// NewProductHandlers constructs handlers over the catalog service.
func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes wires the public catalog endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{idOrSlug}", h.getProduct)
}

// AdminRoutes wires the catalog management endpoints. Callers mount these
// behind admin authentication.
func (h *ProductHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createProduct)
	r.Put("/{productID}", h.updateProduct)
	r.Delete("/{productID}", h.deleteProduct)
	r.Post("/{productID}/restock", h.restock)
	r.Post("/{productID}/images", h.uploadImage)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := services.ProductListQuery{
		Search:     strings.TrimSpace(r.URL.Query().Get("search")),
		Pagination: parsePager(r),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		productType := services.ProductType(raw)
		query.Type = &productType
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("tag")); raw != "" {
		query.Tag = &raw
	}
	if price, ok := parseInt64Query(r, "min_price"); ok {
		query.MinPrice = &price
	}
	if price, ok := parseInt64Query(r, "max_price"); ok {
		query.MaxPrice = &price
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("sort")); raw == "asc" || raw == "desc" {
		query.SortOrder = services.SortOrder(raw)
	}

	page, err := h.catalog.ListProducts(ctx, query)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Products:      items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	idOrSlug := strings.TrimSpace(chi.URLParam(r, "idOrSlug"))
	product, err := h.catalog.GetProduct(ctx, idOrSlug)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeProductCommand(w, r)
	if !ok {
		return
	}
	product, err := h.catalog.CreateProduct(ctx, cmd)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeProductCommand(w, r)
	if !ok {
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	product, err := h.catalog.UpdateProduct(ctx, productID, cmd)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if err := h.catalog.DeleteProduct(ctx, productID); err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxProductBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req restockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	product, err := h.catalog.Restock(ctx, services.RestockCommand{
		ProductID:   strings.TrimSpace(chi.URLParam(r, "productID")),
		VariationID: strings.TrimSpace(req.VariationID),
		Delta:       req.Delta,
	})
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) uploadImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))

	r.Body = http.MaxBytesReader(w, r.Body, maxImageUploadSize)
	if err := r.ParseMultipartForm(maxImageUploadSize); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "image upload must be multipart form data", http.StatusBadRequest))
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "image file is required", http.StatusBadRequest))
		return
	}
	defer func() {
		_ = file.Close()
	}()

	product, err := h.catalog.UploadProductImage(ctx, productID, services.ImageUpload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        file,
	})
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) decodeProductCommand(w http.ResponseWriter, r *http.Request) (services.UpsertProductCommand, bool) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return services.UpsertProductCommand{}, false
	}
	body, err := readLimitedBody(r, maxProductBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return services.UpsertProductCommand{}, false
	}
	var req productRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return services.UpsertProductCommand{}, false
	}
	return req.toCommand(), true
}

func (h *ProductHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("product_conflict", "product already exists", http.StatusConflict))
	case errors.Is(err, services.ErrCatalogInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "catalog operation failed", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func parseInt64Query(r *http.Request, key string) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID          string             `json:"id"`
	Slug        string             `json:"slug"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Type        string             `json:"type"`
	Image       mediaPayload       `json:"image"`
	Gallery     []mediaPayload     `json:"gallery,omitempty"`
	Price       int64              `json:"price,omitempty"`
	SalePrice   *int64             `json:"sale_price,omitempty"`
	Quantity    int                `json:"quantity"`
	MinPrice    int64              `json:"min_price"`
	MaxPrice    int64              `json:"max_price"`
	Tags        []tagPayload       `json:"tags,omitempty"`
	Variations  []variationPayload `json:"variation_options,omitempty"`
	CreatedAt   string             `json:"created_at,omitempty"`
	UpdatedAt   string             `json:"updated_at,omitempty"`
}

type mediaPayload struct {
	ID        string `json:"id,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Original  string `json:"original,omitempty"`
}

type tagPayload struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

type variationPayload struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	SKU       string             `json:"sku,omitempty"`
	Price     int64              `json:"price"`
	SalePrice *int64             `json:"sale_price,omitempty"`
	Quantity  int                `json:"quantity"`
	Disabled  bool               `json:"disabled,omitempty"`
	Options   []attributePayload `json:"options,omitempty"`
}

type attributePayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func buildProductPayload(product services.Product) productPayload {
	payload := productPayload{
		ID:          product.ID,
		Slug:        product.Slug,
		Name:        product.Name,
		Description: product.Description,
		Type:        string(product.Type),
		Image:       mediaPayload{ID: product.Image.ID, Thumbnail: product.Image.Thumbnail, Original: product.Image.Original},
		Price:       product.Price,
		SalePrice:   product.SalePrice,
		Quantity:    product.Quantity,
		MinPrice:    product.MinPrice,
		MaxPrice:    product.MaxPrice,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
	for _, media := range product.Gallery {
		payload.Gallery = append(payload.Gallery, mediaPayload{ID: media.ID, Thumbnail: media.Thumbnail, Original: media.Original})
	}
	for _, tag := range product.Tags {
		payload.Tags = append(payload.Tags, tagPayload{ID: tag.ID, Name: tag.Name, Slug: tag.Slug})
	}
	for _, variation := range product.Variations {
		entry := variationPayload{
			ID:        variation.ID,
			Title:     variation.Title,
			SKU:       variation.SKU,
			Price:     variation.Price,
			SalePrice: variation.SalePrice,
			Quantity:  variation.Quantity,
			Disabled:  variation.Disabled,
		}
		for _, attr := range variation.Options {
			entry.Options = append(entry.Options, attributePayload{Name: attr.Name, Value: attr.Value})
		}
		payload.Variations = append(payload.Variations, entry)
	}
	return payload
}

type productRequest struct {
	Slug        string             `json:"slug"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Type        string             `json:"type"`
	Image       mediaPayload       `json:"image"`
	Gallery     []mediaPayload     `json:"gallery"`
	Price       int64              `json:"price"`
	SalePrice   *int64             `json:"sale_price"`
	Quantity    int                `json:"quantity"`
	Tags        []tagPayload       `json:"tags"`
	Variations  []variationPayload `json:"variation_options"`
}

func (req productRequest) toCommand() services.UpsertProductCommand {
	cmd := services.UpsertProductCommand{
		Slug:        strings.TrimSpace(req.Slug),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Type:        services.ProductType(strings.TrimSpace(req.Type)),
		Image:       services.Media{ID: req.Image.ID, Thumbnail: req.Image.Thumbnail, Original: req.Image.Original},
		Price:       req.Price,
		SalePrice:   req.SalePrice,
		Quantity:    req.Quantity,
	}
	for _, media := range req.Gallery {
		cmd.Gallery = append(cmd.Gallery, services.Media{ID: media.ID, Thumbnail: media.Thumbnail, Original: media.Original})
	}
	for _, tag := range req.Tags {
		cmd.Tags = append(cmd.Tags, services.Tag{ID: tag.ID, Name: strings.TrimSpace(tag.Name), Slug: strings.TrimSpace(tag.Slug)})
	}
	for _, variation := range req.Variations {
		option := services.VariationOption{
			ID:        strings.TrimSpace(variation.ID),
			Title:     strings.TrimSpace(variation.Title),
			SKU:       strings.TrimSpace(variation.SKU),
			Price:     variation.Price,
			SalePrice: variation.SalePrice,
			Quantity:  variation.Quantity,
			Disabled:  variation.Disabled,
		}
		for _, attr := range variation.Options {
			option.Options = append(option.Options, services.VariationAttribute{Name: attr.Name, Value: attr.Value})
		}
		cmd.Variations = append(cmd.Variations, option)
	}
	return cmd
}

type restockRequest struct {
	VariationID string `json:"variation_id"`
	Delta       int    `json:"delta"`
}
