package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/platform/storage"
	"github.com/steadfast-intl/api/internal/repositories"
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// slugFolder strips combining marks so accented names map to plain ASCII slugs.
var slugFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogProductNotFound indicates the referenced product does not exist.
	ErrCatalogProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogConflict indicates a concurrent modification or duplicate slug.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogUnavailable indicates catalog dependencies are currently unavailable.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
	// ErrCatalogInsufficientStock indicates a restock delta would take a counter below zero.
	ErrCatalogInsufficientStock = errors.New("catalog: insufficient stock")
)

// CatalogServiceDeps wires the dependencies required by the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Media    MediaUploader
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	media    MediaUploader
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCatalogService constructs a CatalogService validating required dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products: deps.Products,
		media:    deps.Media,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateProduct validates and persists a new catalog entry.
func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if s == nil || s.products == nil {
		return Product{}, ErrCatalogUnavailable
	}
	product, err := s.buildProduct(cmd)
	if err != nil {
		return Product{}, err
	}
	now := s.now()
	product.ID = "prd_" + ulid.Make().String()
	product.CreatedAt = now
	product.UpdatedAt = now
	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.translateError(err)
	}
	s.logger(ctx, "catalog.product_created", map[string]any{
		"product_id": product.ID,
		"slug":       product.Slug,
	})
	return product, nil
}

// UpdateProduct replaces the writable fields of an existing entry. The derived
// price bounds are recomputed from the submitted variation options.
func (s *catalogService) UpdateProduct(ctx context.Context, productID string, cmd UpsertProductCommand) (Product, error) {
	if s == nil || s.products == nil {
		return Product{}, ErrCatalogUnavailable
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, ErrCatalogInvalidInput
	}
	existing, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.translateError(err)
	}
	product, err := s.buildProduct(cmd)
	if err != nil {
		return Product{}, err
	}
	product.ID = existing.ID
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.now()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.translateError(err)
	}
	return product, nil
}

// DeleteProduct removes a catalog entry.
func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	if s == nil || s.products == nil {
		return ErrCatalogUnavailable
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ErrCatalogInvalidInput
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return s.translateError(err)
	}
	return nil
}

// GetProduct resolves by id first, then by slug for storefront URLs.
func (s *catalogService) GetProduct(ctx context.Context, idOrSlug string) (Product, error) {
	if s == nil || s.products == nil {
		return Product{}, ErrCatalogUnavailable
	}
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return Product{}, ErrCatalogInvalidInput
	}
	product, err := s.products.FindByID(ctx, idOrSlug)
	if err == nil {
		return product, nil
	}
	if !isNotFound(err) {
		return Product{}, s.translateError(err)
	}
	product, err = s.products.FindBySlug(ctx, idOrSlug)
	if err != nil {
		return Product{}, s.translateError(err)
	}
	return product, nil
}

// ListProducts pages the catalog with the storefront filters.
func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (CursorPage[Product], error) {
	if s == nil || s.products == nil {
		return CursorPage[Product]{}, ErrCatalogUnavailable
	}
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Type: query.Type,
		Tag:  query.Tag,
		PriceRange: domain.RangeQuery[int64]{
			From: query.MinPrice,
			To:   query.MaxPrice,
		},
		Search:     strings.TrimSpace(query.Search),
		SortOrder:  query.SortOrder,
		Pagination: query.Pagination,
	})
	if err != nil {
		return CursorPage[Product]{}, s.translateError(err)
	}
	return page, nil
}

// Restock adjusts one stock counter by a signed delta.
func (s *catalogService) Restock(ctx context.Context, cmd RestockCommand) (Product, error) {
	if s == nil || s.products == nil {
		return Product{}, ErrCatalogUnavailable
	}
	if strings.TrimSpace(cmd.ProductID) == "" || cmd.Delta == 0 {
		return Product{}, ErrCatalogInvalidInput
	}
	product, err := s.products.AdjustStock(ctx, repositories.StockAdjustment{
		ProductID:   strings.TrimSpace(cmd.ProductID),
		VariationID: strings.TrimSpace(cmd.VariationID),
		Quantity:    -cmd.Delta,
	})
	if err != nil {
		if repositories.IsInsufficientStock(err) {
			return Product{}, fmt.Errorf("%w: %v", ErrCatalogInsufficientStock, err)
		}
		return Product{}, s.translateError(err)
	}
	s.logger(ctx, "catalog.restocked", map[string]any{
		"product_id":   cmd.ProductID,
		"variation_id": cmd.VariationID,
		"delta":        cmd.Delta,
	})
	return product, nil
}

// UploadProductImage streams the image to the media store and appends it to
// the product gallery. The first uploaded image also becomes the primary one.
func (s *catalogService) UploadProductImage(ctx context.Context, productID string, upload ImageUpload) (Product, error) {
	if s == nil || s.products == nil {
		return Product{}, ErrCatalogUnavailable
	}
	if s.media == nil {
		return Product{}, fmt.Errorf("%w: media store not configured", ErrCatalogUnavailable)
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, ErrCatalogInvalidInput
	}
	fileName := strings.TrimSpace(upload.FileName)
	if fileName == "" || upload.Data == nil {
		return Product{}, fmt.Errorf("%w: image file name and body are required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.translateError(err)
	}

	// ULID prefix keeps successive uploads from overwriting each other.
	objectPath, err := storage.BuildObjectPath(storage.PurposeProductImage, storage.PathParams{
		ProductID: product.ID,
		FileName:  ulid.Make().String() + "_" + fileName,
	})
	if err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}
	url, err := s.media.Upload(ctx, objectPath, upload.ContentType, upload.Data)
	if err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	media := domain.Media{
		ID:        ulid.Make().String(),
		Thumbnail: url,
		Original:  url,
	}
	if product.Image.Original == "" {
		product.Image = media
	}
	product.Gallery = append(product.Gallery, media)
	product.UpdatedAt = s.now()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.translateError(err)
	}
	s.logger(ctx, "catalog.image_uploaded", map[string]any{
		"product_id": product.ID,
		"object":     objectPath,
	})
	return product, nil
}

// buildProduct normalises a command into a domain product and recomputes the
// derived price bounds.
func (s *catalogService) buildProduct(cmd UpsertProductCommand) (Product, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	productType := cmd.Type
	if productType == "" {
		productType = domain.ProductTypeSimple
	}
	if productType != domain.ProductTypeSimple && productType != domain.ProductTypeVariable {
		return Product{}, fmt.Errorf("%w: unknown product type %q", ErrCatalogInvalidInput, cmd.Type)
	}

	product := domain.Product{
		Slug:        slugify(firstNonEmpty(cmd.Slug, name)),
		Name:        name,
		Description: strings.TrimSpace(cmd.Description),
		Type:        productType,
		Image:       cmd.Image,
		Gallery:     cmd.Gallery,
		Tags:        cmd.Tags,
	}

	switch productType {
	case domain.ProductTypeSimple:
		if cmd.Price <= 0 {
			return Product{}, fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
		}
		if cmd.Quantity < 0 {
			return Product{}, fmt.Errorf("%w: quantity must not be negative", ErrCatalogInvalidInput)
		}
		if cmd.SalePrice != nil && (*cmd.SalePrice <= 0 || *cmd.SalePrice > cmd.Price) {
			return Product{}, fmt.Errorf("%w: sale price must be positive and below the list price", ErrCatalogInvalidInput)
		}
		product.Price = cmd.Price
		product.SalePrice = cmd.SalePrice
		product.Quantity = cmd.Quantity
		effective := product.EffectivePrice()
		product.MinPrice = effective
		product.MaxPrice = effective
	case domain.ProductTypeVariable:
		if len(cmd.Variations) == 0 {
			return Product{}, fmt.Errorf("%w: variable product requires variation options", ErrCatalogInvalidInput)
		}
		variations := make([]domain.VariationOption, len(cmd.Variations))
		copy(variations, cmd.Variations)
		for i := range variations {
			if variations[i].ID == "" {
				variations[i].ID = "var_" + ulid.Make().String()
			}
			if variations[i].Price <= 0 {
				return Product{}, fmt.Errorf("%w: variation %s price must be positive", ErrCatalogInvalidInput, variations[i].Title)
			}
			if variations[i].Quantity < 0 {
				return Product{}, fmt.Errorf("%w: variation %s quantity must not be negative", ErrCatalogInvalidInput, variations[i].Title)
			}
		}
		product.Variations = variations
		min, max := priceBounds(variations)
		product.MinPrice = min
		product.MaxPrice = max
	}
	return product, nil
}

// priceBounds derives min/max from each option's effective price. Disabled
// options do not contribute.
func priceBounds(variations []domain.VariationOption) (int64, int64) {
	var min, max int64
	seeded := false
	for _, option := range variations {
		if option.Disabled {
			continue
		}
		price := option.EffectivePrice()
		if !seeded {
			min, max = price, price
			seeded = true
			continue
		}
		if price < min {
			min = price
		}
		if price > max {
			max = price
		}
	}
	return min, max
}

func (s *catalogService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCatalogProductNotFound
		case repoErr.IsConflict():
			return ErrCatalogConflict
		default:
			return ErrCatalogUnavailable
		}
	}
	return ErrCatalogUnavailable
}

func slugify(value string) string {
	if folded, _, err := transform.String(slugFolder, value); err == nil {
		value = folded
	}
	slug := strings.ToLower(strings.TrimSpace(value))
	slug = slugSanitizer.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
