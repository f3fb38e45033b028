package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/steadfast-intl/api/internal/domain"
	pfirestore "github.com/steadfast-intl/api/internal/platform/firestore"
	"github.com/steadfast-intl/api/internal/repositories"
)

const postCollection = "posts"

// PostRepository persists blog articles within Firestore.
type PostRepository struct {
	base *pfirestore.BaseRepository[postDocument]
}

// NewPostRepository constructs a Firestore-backed post repository.
func NewPostRepository(provider *pfirestore.Provider) (*PostRepository, error) {
	if provider == nil {
		return nil, errors.New("post repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[postDocument](provider, postCollection, nil, nil)
	return &PostRepository{base: base}, nil
}

// Insert creates the post document.
func (r *PostRepository) Insert(ctx context.Context, post domain.BlogPost) error {
	if r == nil || r.base == nil {
		return errors.New("post repository not initialised")
	}
	id := strings.TrimSpace(post.ID)
	if id == "" {
		return errors.New("post repository: post id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodePostDocument(post)); err != nil {
		return pfirestore.WrapError("posts.insert", err)
	}
	return nil
}

// Update replaces the post document.
func (r *PostRepository) Update(ctx context.Context, post domain.BlogPost) error {
	if r == nil || r.base == nil {
		return errors.New("post repository not initialised")
	}
	id := strings.TrimSpace(post.ID)
	if id == "" {
		return errors.New("post repository: post id is required")
	}
	if _, err := r.base.Set(ctx, id, encodePostDocument(post)); err != nil {
		return err
	}
	return nil
}

// Delete removes the post document.
func (r *PostRepository) Delete(ctx context.Context, postID string) error {
	if r == nil || r.base == nil {
		return errors.New("post repository not initialised")
	}
	id := strings.TrimSpace(postID)
	if id == "" {
		return errors.New("post repository: post id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("posts.delete", err)
	}
	return nil
}

// FindByID fetches a single post.
func (r *PostRepository) FindByID(ctx context.Context, postID string) (domain.BlogPost, error) {
	if r == nil || r.base == nil {
		return domain.BlogPost{}, errors.New("post repository not initialised")
	}
	id := strings.TrimSpace(postID)
	if id == "" {
		return domain.BlogPost{}, errors.New("post repository: post id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.BlogPost{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

// List returns a page of posts ordered by most recent publication.
func (r *PostRepository) List(ctx context.Context, filter repositories.PostListFilter) (domain.CursorPage[domain.BlogPost], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.BlogPost]{}, errors.New("post repository not initialised")
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
			return domain.CursorPage[domain.BlogPost]{}, fmt.Errorf("post repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Category != nil && strings.TrimSpace(*filter.Category) != "" {
			q = q.Where("category", "==", strings.TrimSpace(*filter.Category))
		}
		if filter.Tag != nil && strings.TrimSpace(*filter.Tag) != "" {
			q = q.Where("tags", "array-contains", strings.TrimSpace(*filter.Tag))
		}

		q = q.OrderBy("publishedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.BlogPost]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.PublishedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.BlogPost, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.BlogPost]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type postDocument struct {
	Category         string    `firestore:"category"`
	Tags             []string  `firestore:"tags,omitempty"`
	Title            string    `firestore:"title"`
	Author           string    `firestore:"author,omitempty"`
	Avatar           string    `firestore:"avatar,omitempty"`
	ThumbImage       string    `firestore:"thumbImage,omitempty"`
	CoverImage       string    `firestore:"coverImage,omitempty"`
	SubImages        []string  `firestore:"subImages,omitempty"`
	ShortDescription string    `firestore:"shortDescription,omitempty"`
	Description      string    `firestore:"description"`
	PublishedAt      time.Time `firestore:"publishedAt"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func encodePostDocument(post domain.BlogPost) postDocument {
	now := time.Now().UTC()
	createdAt := post.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	publishedAt := post.PublishedAt.UTC()
	if publishedAt.IsZero() {
		publishedAt = createdAt
	}

	doc := postDocument{
		Category:         strings.TrimSpace(post.Category),
		Title:            strings.TrimSpace(post.Title),
		Author:           strings.TrimSpace(post.Author),
		Avatar:           strings.TrimSpace(post.Avatar),
		ThumbImage:       strings.TrimSpace(post.ThumbImage),
		CoverImage:       strings.TrimSpace(post.CoverImage),
		ShortDescription: post.ShortDescription,
		Description:      post.Description,
		PublishedAt:      publishedAt,
		CreatedAt:        createdAt,
		UpdatedAt:        now,
	}
	for _, tag := range post.Tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			doc.Tags = append(doc.Tags, trimmed)
		}
	}
	for _, image := range post.SubImages {
		if trimmed := strings.TrimSpace(image); trimmed != "" {
			doc.SubImages = append(doc.SubImages, trimmed)
		}
	}
	return doc
}

func (d postDocument) toDomain(id string, createTime, updateTime time.Time) domain.BlogPost {
	post := domain.BlogPost{
		ID:               id,
		Category:         d.Category,
		Tags:             append([]string(nil), d.Tags...),
		Title:            d.Title,
		Author:           d.Author,
		Avatar:           d.Avatar,
		ThumbImage:       d.ThumbImage,
		CoverImage:       d.CoverImage,
		SubImages:        append([]string(nil), d.SubImages...),
		ShortDescription: d.ShortDescription,
		Description:      d.Description,
		PublishedAt:      d.PublishedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = createTime
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = updateTime
	}
	if post.PublishedAt.IsZero() {
		post.PublishedAt = post.CreatedAt
	}
	return post
}

var _ repositories.PostRepository = (*PostRepository)(nil)
