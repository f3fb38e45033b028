package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/repositories"
)

func TestCatalogServiceCreateSimpleProduct(t *testing.T) {
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	var inserted domain.Product

	service, err := NewCatalogService(CatalogServiceDeps{
		Products: &fakeProductRepo{
			insertFunc: func(ctx context.Context, product domain.Product) error {
				inserted = product
				return nil
			},
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	product, err := service.CreateProduct(context.Background(), UpsertProductCommand{
		Name:      "LED Bulb 9w",
		Price:     1000,
		SalePrice: int64Ptr(800),
		Quantity:  5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.Slug != "led-bulb-9w" {
		t.Fatalf("expected derived slug, got %q", product.Slug)
	}
	if product.MinPrice != 800 || product.MaxPrice != 800 {
		t.Fatalf("expected price bounds from sale price, got %d/%d", product.MinPrice, product.MaxPrice)
	}
	if inserted.ID == "" || !inserted.CreatedAt.Equal(now) {
		t.Fatalf("unexpected persisted product %#v", inserted)
	}
}

func TestCatalogServiceVariablePriceBounds(t *testing.T) {
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	service, err := NewCatalogService(CatalogServiceDeps{
		Products: &fakeProductRepo{
			insertFunc: func(context.Context, domain.Product) error { return nil },
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	product, err := service.CreateProduct(context.Background(), UpsertProductCommand{
		Name: "Armored Cable",
		Type: domain.ProductTypeVariable,
		Variations: []domain.VariationOption{
			{Title: "25m", Price: 5000, SalePrice: int64Ptr(4500), Quantity: 3},
			{Title: "50m", Price: 9000, Quantity: 2},
			{Title: "100m", Price: 16000, Quantity: 1, Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.MinPrice != 4500 || product.MaxPrice != 9000 {
		t.Fatalf("expected bounds 4500/9000 excluding disabled option, got %d/%d", product.MinPrice, product.MaxPrice)
	}
	if product.MinPrice > product.MaxPrice {
		t.Fatal("min price must never exceed max price")
	}
	for _, variation := range product.Variations {
		if variation.ID == "" {
			t.Fatal("expected generated variation ids")
		}
	}
}

func TestCatalogServiceUpdateRecomputesBounds(t *testing.T) {
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	existing := domain.Product{
		ID:        "prd_cable",
		Slug:      "armored-cable",
		Name:      "Armored Cable",
		Type:      domain.ProductTypeVariable,
		MinPrice:  4500,
		MaxPrice:  9000,
		CreatedAt: now.Add(-48 * time.Hour),
	}

	var updated domain.Product
	service, err := NewCatalogService(CatalogServiceDeps{
		Products: &fakeProductRepo{
			findFunc: func(context.Context, string) (domain.Product, error) { return existing, nil },
			updateFunc: func(ctx context.Context, product domain.Product) error {
				updated = product
				return nil
			},
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.UpdateProduct(context.Background(), "prd_cable", UpsertProductCommand{
		Name: "Armored Cable",
		Type: domain.ProductTypeVariable,
		Variations: []domain.VariationOption{
			{ID: "var_25m", Title: "25m", Price: 5200, Quantity: 3},
			{ID: "var_50m", Title: "50m", Price: 9900, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.MinPrice != 5200 || updated.MaxPrice != 9900 {
		t.Fatalf("expected recomputed bounds 5200/9900, got %d/%d", updated.MinPrice, updated.MaxPrice)
	}
	if !updated.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatal("update must preserve the creation timestamp")
	}
	if updated.ID != "prd_cable" {
		t.Fatalf("update must preserve the id, got %s", updated.ID)
	}
}

func TestCatalogServiceRejectsInvalidInput(t *testing.T) {
	service, err := NewCatalogService(CatalogServiceDeps{Products: &fakeProductRepo{}})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	cases := []UpsertProductCommand{
		{Name: ""},
		{Name: "No price"},
		{Name: "Negative stock", Price: 100, Quantity: -1},
		{Name: "Sale above list", Price: 100, SalePrice: int64Ptr(150)},
		{Name: "Variable no options", Type: domain.ProductTypeVariable},
	}
	for _, cmd := range cases {
		if _, err := service.CreateProduct(context.Background(), cmd); !errors.Is(err, ErrCatalogInvalidInput) {
			t.Fatalf("expected ErrCatalogInvalidInput for %+v, got %v", cmd, err)
		}
	}
}

func TestCatalogServiceGetFallsBackToSlug(t *testing.T) {
	product := domain.Product{ID: "prd_bulb", Slug: "led-bulb-9w", Name: "LED Bulb 9w"}

	service, err := NewCatalogService(CatalogServiceDeps{
		Products: &fakeProductRepo{
			findFunc: func(context.Context, string) (domain.Product, error) {
				return domain.Product{}, &repoErrStub{notFound: true}
			},
			findSlugFunc: func(ctx context.Context, slug string) (domain.Product, error) {
				if slug != "led-bulb-9w" {
					t.Fatalf("unexpected slug lookup %q", slug)
				}
				return product, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	got, err := service.GetProduct(context.Background(), "led-bulb-9w")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "prd_bulb" {
		t.Fatalf("unexpected product %#v", got)
	}
}

func TestCatalogServiceRestock(t *testing.T) {
	var adjustment repositories.StockAdjustment
	service, err := NewCatalogService(CatalogServiceDeps{
		Products: &fakeProductRepo{
			adjustFunc: func(ctx context.Context, adj repositories.StockAdjustment) (domain.Product, error) {
				adjustment = adj
				return domain.Product{ID: adj.ProductID, Quantity: 10}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	product, err := service.Restock(context.Background(), RestockCommand{ProductID: "prd_bulb", Delta: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adjustment.Quantity != -5 {
		t.Fatalf("expected adjustment quantity -5 for a restock of 5, got %d", adjustment.Quantity)
	}
	if product.Quantity != 10 {
		t.Fatalf("unexpected product %#v", product)
	}
}

func TestCatalogServiceRestockInsufficient(t *testing.T) {
	service, err := NewCatalogService(CatalogServiceDeps{
		Products: &fakeProductRepo{
			adjustFunc: func(context.Context, repositories.StockAdjustment) (domain.Product, error) {
				return domain.Product{}, repositories.NewStockError(repositories.StockErrorInsufficient, "counter would go negative", nil)
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	if _, err := service.Restock(context.Background(), RestockCommand{ProductID: "prd_bulb", Delta: -20}); !errors.Is(err, ErrCatalogInsufficientStock) {
		t.Fatalf("expected ErrCatalogInsufficientStock, got %v", err)
	}
}

func TestCatalogServiceUploadImage(t *testing.T) {
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	var updated domain.Product
	var uploadedPath, uploadedType string

	service, err := NewCatalogService(CatalogServiceDeps{
		Products: &fakeProductRepo{
			findFunc: func(ctx context.Context, productID string) (domain.Product, error) {
				return domain.Product{ID: productID, Slug: "desk-lamp", Name: "Desk Lamp"}, nil
			},
			updateFunc: func(ctx context.Context, product domain.Product) error {
				updated = product
				return nil
			},
		},
		Media: &fakeMediaUploader{
			uploadFunc: func(ctx context.Context, objectPath, contentType string, data io.Reader) (string, error) {
				uploadedPath = objectPath
				uploadedType = contentType
				return "https://storage.googleapis.com/media-bucket/" + objectPath, nil
			},
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	product, err := service.UploadProductImage(context.Background(), "prd_1", ImageUpload{
		FileName:    "lamp.png",
		ContentType: "image/png",
		Data:        strings.NewReader("png-bytes"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(uploadedPath, "media/products/prd_1/") || !strings.HasSuffix(uploadedPath, "_lamp.png") {
		t.Fatalf("unexpected object path %q", uploadedPath)
	}
	if uploadedType != "image/png" {
		t.Fatalf("expected content type image/png, got %q", uploadedType)
	}
	if len(product.Gallery) != 1 || product.Gallery[0].Original == "" {
		t.Fatalf("expected gallery entry, got %#v", product.Gallery)
	}
	if product.Image.Original != product.Gallery[0].Original {
		t.Fatalf("expected first upload to become the primary image, got %#v", product.Image)
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated timestamp %v, got %v", now, updated.UpdatedAt)
	}
}

func TestCatalogServiceUploadImageWithoutStore(t *testing.T) {
	service, err := NewCatalogService(CatalogServiceDeps{Products: &fakeProductRepo{}})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.UploadProductImage(context.Background(), "prd_1", ImageUpload{
		FileName: "lamp.png",
		Data:     strings.NewReader("png-bytes"),
	})
	if !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
}

type fakeMediaUploader struct {
	uploadFunc func(ctx context.Context, objectPath, contentType string, data io.Reader) (string, error)
}

func (f *fakeMediaUploader) Upload(ctx context.Context, objectPath, contentType string, data io.Reader) (string, error) {
	if f.uploadFunc != nil {
		return f.uploadFunc(ctx, objectPath, contentType, data)
	}
	return "", errors.New("not implemented")
}

func TestSlugifyFoldsDiacritics(t *testing.T) {
	cases := map[string]string{
		"Café Au Lait":   "cafe-au-lait",
		"Jalapeño Sauce": "jalapeno-sauce",
		"  LED Bulb 9w ": "led-bulb-9w",
	}
	for input, want := range cases {
		if got := slugify(input); got != want {
			t.Fatalf("slugify(%q) = %q, want %q", input, got, want)
		}
	}
}
