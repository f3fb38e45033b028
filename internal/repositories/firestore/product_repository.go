package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/steadfast-intl/api/internal/domain"
	pfirestore "github.com/steadfast-intl/api/internal/platform/firestore"
	"github.com/steadfast-intl/api/internal/platform/pagination"
	"github.com/steadfast-intl/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository persists catalog entries and their stock counters.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the product document. Fails when the ID is already taken.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update replaces the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}
	if _, err := r.base.Set(ctx, id, encodeProductDocument(product)); err != nil {
		return err
	}
	return nil
}

// Delete removes the product document.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("products.delete", err)
	}
	return nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

// FindBySlug resolves a product by its storefront slug.
func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	return r.findByField(ctx, "slug", strings.TrimSpace(slug), "products.findBySlug")
}

// FindByName resolves a product by its exact display name.
func (r *ProductRepository) FindByName(ctx context.Context, name string) (domain.Product, error) {
	return r.findByField(ctx, "name", strings.TrimSpace(name), "products.findByName")
}

func (r *ProductRepository) findByField(ctx context.Context, field, value, op string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if value == "" {
		return domain.Product{}, fmt.Errorf("product repository: %s is required", field)
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.WrapError(op, status.Error(codes.NotFound, fmt.Sprintf("product with %s %q not found", field, value)))
	}
	doc := docs[0]
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

// List returns a page of products ordered by most recent creation.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("product repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	direction := firestore.Desc
	if filter.SortOrder == domain.SortAsc {
		direction = firestore.Asc
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Type != nil {
			q = q.Where("type", "==", string(*filter.Type))
		}
		if filter.Tag != nil && strings.TrimSpace(*filter.Tag) != "" {
			q = q.Where("tagSlugs", "array-contains", strings.TrimSpace(*filter.Tag))
		}
		if filter.PriceRange.From != nil {
			q = q.Where("minPrice", ">=", *filter.PriceRange.From)
		}
		if filter.PriceRange.To != nil {
			q = q.Where("minPrice", "<=", *filter.PriceRange.To)
		}

		q = q.OrderBy("createdAt", direction).OrderBy(firestore.DocumentID, direction)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	items := make([]domain.Product, 0, len(valueDocs))
	for _, doc := range valueDocs {
		product := doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime)
		if search != "" && !strings.Contains(strings.ToLower(product.Name), search) {
			continue
		}
		items = append(items, product)
	}

	return domain.CursorPage[domain.Product]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// DecrementStock subtracts the given quantities from their stock counters.
// All adjustments commit together or not at all. When the context carries an
// ambient transaction the reads and writes join it; in that case the caller
// must sequence this call before any write-only repository operations because
// Firestore transactions reject reads issued after writes.
func (r *ProductRepository) DecrementStock(ctx context.Context, adjustments []repositories.StockAdjustment) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(adjustments) == 0 {
		return nil
	}
	for _, adj := range adjustments {
		if strings.TrimSpace(adj.ProductID) == "" && strings.TrimSpace(adj.ProductName) == "" {
			return repositories.NewStockError(repositories.StockErrorInvalidInput, "stock adjustment requires a product id or name", nil)
		}
		if adj.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorInvalidInput, fmt.Sprintf("stock adjustment quantity must be positive, got %d", adj.Quantity), nil)
		}
	}

	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return r.decrementInTx(ctx, tx, adjustments)
	}
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return r.decrementInTx(ctx, tx, adjustments)
	})
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return stockErr
	}
	if err != nil {
		return pfirestore.WrapError("products.decrementStock", err)
	}
	return nil
}

func (r *ProductRepository) decrementInTx(ctx context.Context, tx *firestore.Transaction, adjustments []repositories.StockAdjustment) error {
	type pendingWrite struct {
		ref     *firestore.DocumentRef
		updates []firestore.Update
	}

	// Reads first; Firestore forbids reads after the first transactional write.
	writes := make([]pendingWrite, 0, len(adjustments))
	for _, adj := range adjustments {
		ref, snap, err := r.resolveForStock(ctx, tx, adj)
		if err != nil {
			return err
		}

		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", ref.ID, err)
		}

		updates, err := stockUpdates(ref.ID, doc, adj)
		if err != nil {
			return err
		}
		writes = append(writes, pendingWrite{ref: ref, updates: updates})
	}

	for _, write := range writes {
		if err := tx.Update(write.ref, write.updates); err != nil {
			return err
		}
	}
	return nil
}

func (r *ProductRepository) resolveForStock(ctx context.Context, tx *firestore.Transaction, adj repositories.StockAdjustment) (*firestore.DocumentRef, *firestore.DocumentSnapshot, error) {
	if id := strings.TrimSpace(adj.ProductID); id != "" {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil, nil, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), err)
		}
		if err != nil {
			return nil, nil, err
		}
		return ref, snap, nil
	}

	// Name fallback for carts captured before product IDs were denormalised.
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	name := strings.TrimSpace(adj.ProductName)
	query := client.Collection(productCollection).Where("name", "==", name).Limit(1)
	snaps, err := tx.Documents(query).GetAll()
	if err != nil {
		return nil, nil, err
	}
	if len(snaps) == 0 {
		return nil, nil, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product named %q not found", name), nil)
	}
	return snaps[0].Ref, snaps[0], nil
}

func stockUpdates(productID string, doc productDocument, adj repositories.StockAdjustment) ([]firestore.Update, error) {
	now := time.Now().UTC()

	variationID := strings.TrimSpace(adj.VariationID)
	if variationID == "" {
		remaining := doc.Quantity - adj.Quantity
		if remaining < 0 {
			return nil, repositories.NewStockError(
				repositories.StockErrorInsufficient,
				fmt.Sprintf("product %s has %d in stock, requested %d", productID, doc.Quantity, adj.Quantity),
				nil,
			)
		}
		return []firestore.Update{
			{Path: "quantity", Value: remaining},
			{Path: "updatedAt", Value: now},
		}, nil
	}

	for i, variation := range doc.Variations {
		if variation.ID != variationID {
			continue
		}
		remaining := variation.Quantity - adj.Quantity
		if remaining < 0 {
			return nil, repositories.NewStockError(
				repositories.StockErrorInsufficient,
				fmt.Sprintf("variation %s of product %s has %d in stock, requested %d", variationID, productID, variation.Quantity, adj.Quantity),
				nil,
			)
		}
		variations := make([]variationDocument, len(doc.Variations))
		copy(variations, doc.Variations)
		variations[i].Quantity = remaining
		return []firestore.Update{
			{Path: "variations", Value: variations},
			{Path: "updatedAt", Value: now},
		}, nil
	}
	return nil, repositories.NewStockError(
		repositories.StockErrorVariationNotFound,
		fmt.Sprintf("variation %s not found on product %s", variationID, productID),
		nil,
	)
}

// AdjustStock adds delta quantity to a single counter and returns the updated product.
func (r *ProductRepository) AdjustStock(ctx context.Context, adjustment repositories.StockAdjustment) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(adjustment.ProductID)
	if id == "" {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "stock adjustment requires a product id", nil)
	}

	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), err)
		}
		if err != nil {
			return err
		}

		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", ref.ID, err)
		}

		now := time.Now().UTC()
		variationID := strings.TrimSpace(adjustment.VariationID)
		if variationID == "" {
			next := doc.Quantity + adjustment.Quantity
			if next < 0 {
				return repositories.NewStockError(
					repositories.StockErrorInsufficient,
					fmt.Sprintf("product %s has %d in stock, adjustment %d would go negative", id, doc.Quantity, adjustment.Quantity),
					nil,
				)
			}
			doc.Quantity = next
		} else {
			found := false
			for i := range doc.Variations {
				if doc.Variations[i].ID != variationID {
					continue
				}
				next := doc.Variations[i].Quantity + adjustment.Quantity
				if next < 0 {
					return repositories.NewStockError(
						repositories.StockErrorInsufficient,
						fmt.Sprintf("variation %s of product %s has %d in stock, adjustment %d would go negative", variationID, id, doc.Variations[i].Quantity, adjustment.Quantity),
						nil,
					)
				}
				doc.Variations[i].Quantity = next
				found = true
				break
			}
			if !found {
				return repositories.NewStockError(
					repositories.StockErrorVariationNotFound,
					fmt.Sprintf("variation %s not found on product %s", variationID, id),
					nil,
				)
			}
		}
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(ref.ID, snap.CreateTime, now)
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return domain.Product{}, stockErr
		}
		return domain.Product{}, pfirestore.WrapError("products.adjustStock", err)
	}
	return updated, nil
}

func encodeListToken(ts time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{ts.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	docID, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}

type productDocument struct {
	Slug        string              `firestore:"slug"`
	Name        string              `firestore:"name"`
	Description string              `firestore:"description,omitempty"`
	Type        string              `firestore:"type"`
	Image       *mediaDocument      `firestore:"image,omitempty"`
	Gallery     []mediaDocument     `firestore:"gallery,omitempty"`
	Price       int64               `firestore:"price"`
	SalePrice   *int64              `firestore:"salePrice,omitempty"`
	Quantity    int                 `firestore:"quantity"`
	MinPrice    int64               `firestore:"minPrice"`
	MaxPrice    int64               `firestore:"maxPrice"`
	Tags        []tagDocument       `firestore:"tags,omitempty"`
	TagSlugs    []string            `firestore:"tagSlugs,omitempty"`
	Variations  []variationDocument `firestore:"variations,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
}

type mediaDocument struct {
	ID        string `firestore:"id,omitempty"`
	Thumbnail string `firestore:"thumbnail,omitempty"`
	Original  string `firestore:"original,omitempty"`
}

type tagDocument struct {
	ID   string `firestore:"id,omitempty"`
	Name string `firestore:"name"`
	Slug string `firestore:"slug"`
}

type variationDocument struct {
	ID        string                       `firestore:"id"`
	Title     string                       `firestore:"title"`
	SKU       string                       `firestore:"sku,omitempty"`
	Price     int64                        `firestore:"price"`
	SalePrice *int64                       `firestore:"salePrice,omitempty"`
	Quantity  int                          `firestore:"quantity"`
	Disabled  bool                         `firestore:"disabled"`
	Options   []variationAttributeDocument `firestore:"options,omitempty"`
}

type variationAttributeDocument struct {
	Name  string `firestore:"name"`
	Value string `firestore:"value"`
}

func encodeProductDocument(product domain.Product) productDocument {
	now := time.Now().UTC()
	createdAt := product.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := product.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}

	doc := productDocument{
		Slug:        strings.TrimSpace(product.Slug),
		Name:        strings.TrimSpace(product.Name),
		Description: product.Description,
		Type:        string(product.Type),
		Price:       product.Price,
		SalePrice:   cloneInt64(product.SalePrice),
		Quantity:    product.Quantity,
		MinPrice:    product.MinPrice,
		MaxPrice:    product.MaxPrice,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}

	if product.Image != (domain.Media{}) {
		doc.Image = &mediaDocument{
			ID:        product.Image.ID,
			Thumbnail: product.Image.Thumbnail,
			Original:  product.Image.Original,
		}
	}
	for _, media := range product.Gallery {
		doc.Gallery = append(doc.Gallery, mediaDocument{
			ID:        media.ID,
			Thumbnail: media.Thumbnail,
			Original:  media.Original,
		})
	}
	for _, tag := range product.Tags {
		doc.Tags = append(doc.Tags, tagDocument{ID: tag.ID, Name: tag.Name, Slug: tag.Slug})
		if slug := strings.TrimSpace(tag.Slug); slug != "" {
			doc.TagSlugs = append(doc.TagSlugs, slug)
		}
	}
	for _, variation := range product.Variations {
		doc.Variations = append(doc.Variations, encodeVariationDocument(variation))
	}
	return doc
}

func encodeVariationDocument(variation domain.VariationOption) variationDocument {
	doc := variationDocument{
		ID:        variation.ID,
		Title:     variation.Title,
		SKU:       variation.SKU,
		Price:     variation.Price,
		SalePrice: cloneInt64(variation.SalePrice),
		Quantity:  variation.Quantity,
		Disabled:  variation.Disabled,
	}
	for _, attr := range variation.Options {
		doc.Options = append(doc.Options, variationAttributeDocument{Name: attr.Name, Value: attr.Value})
	}
	return doc
}

func (d productDocument) toDomain(id string, createTime, updateTime time.Time) domain.Product {
	product := domain.Product{
		ID:          id,
		Slug:        d.Slug,
		Name:        d.Name,
		Description: d.Description,
		Type:        domain.ProductType(d.Type),
		Price:       d.Price,
		SalePrice:   cloneInt64(d.SalePrice),
		Quantity:    d.Quantity,
		MinPrice:    d.MinPrice,
		MaxPrice:    d.MaxPrice,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = createTime
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = updateTime
	}
	if d.Image != nil {
		product.Image = domain.Media{ID: d.Image.ID, Thumbnail: d.Image.Thumbnail, Original: d.Image.Original}
	}
	for _, media := range d.Gallery {
		product.Gallery = append(product.Gallery, domain.Media{ID: media.ID, Thumbnail: media.Thumbnail, Original: media.Original})
	}
	for _, tag := range d.Tags {
		product.Tags = append(product.Tags, domain.Tag{ID: tag.ID, Name: tag.Name, Slug: tag.Slug})
	}
	for _, variation := range d.Variations {
		option := domain.VariationOption{
			ID:        variation.ID,
			Title:     variation.Title,
			SKU:       variation.SKU,
			Price:     variation.Price,
			SalePrice: cloneInt64(variation.SalePrice),
			Quantity:  variation.Quantity,
			Disabled:  variation.Disabled,
		}
		for _, attr := range variation.Options {
			option.Options = append(option.Options, domain.VariationAttribute{Name: attr.Name, Value: attr.Value})
		}
		product.Variations = append(product.Variations, option)
	}
	return product
}

func cloneInt64(value *int64) *int64 {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
