package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/steadfast-intl/api/internal/domain"
	"github.com/steadfast-intl/api/internal/platform/storage"
	"github.com/steadfast-intl/api/internal/repositories"
)

var (
	// ErrContentInvalidInput indicates the caller supplied invalid article fields.
	ErrContentInvalidInput = errors.New("content: invalid input")
	// ErrContentPostNotFound indicates the referenced article does not exist.
	ErrContentPostNotFound = errors.New("content: post not found")
	// ErrContentUnavailable indicates content dependencies are currently unavailable.
	ErrContentUnavailable = errors.New("content: unavailable")
)

// defaultPostAuthor is stamped on articles submitted without a byline.
const defaultPostAuthor = "Steadfast International"

// ContentServiceDeps wires the dependencies required by the content service.
// Media is optional; without it image uploads are rejected as unavailable.
type ContentServiceDeps struct {
	Posts repositories.PostRepository
	Media MediaUploader
	Clock func() time.Time
}

type contentService struct {
	posts  repositories.PostRepository
	media  MediaUploader
	now    func() time.Time
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentService constructs a ContentService validating required dependencies.
func NewContentService(deps ContentServiceDeps) (ContentService, error) {
	if deps.Posts == nil {
		return nil, errors.New("content service: post repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &contentService{
		posts: deps.Posts,
		media: deps.Media,
		now: func() time.Time {
			return clock().UTC()
		},
		// UGC policy for article bodies, strict policy for plain-text fields.
		policy: bluemonday.UGCPolicy(),
		strict: bluemonday.StrictPolicy(),
	}, nil
}

// CreatePost sanitizes and persists a new article.
func (s *contentService) CreatePost(ctx context.Context, cmd UpsertPostCommand) (BlogPost, error) {
	if s == nil || s.posts == nil {
		return BlogPost{}, ErrContentUnavailable
	}
	post, err := s.buildPost(cmd)
	if err != nil {
		return BlogPost{}, err
	}
	now := s.now()
	post.ID = "post_" + ulid.Make().String()
	post.CreatedAt = now
	post.UpdatedAt = now
	if post.PublishedAt.IsZero() {
		post.PublishedAt = now
	}
	if err := s.posts.Insert(ctx, post); err != nil {
		return BlogPost{}, s.translateError(err)
	}
	return post, nil
}

// UpdatePost replaces an existing article's writable fields.
func (s *contentService) UpdatePost(ctx context.Context, postID string, cmd UpsertPostCommand) (BlogPost, error) {
	if s == nil || s.posts == nil {
		return BlogPost{}, ErrContentUnavailable
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return BlogPost{}, ErrContentInvalidInput
	}
	existing, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return BlogPost{}, s.translateError(err)
	}
	post, err := s.buildPost(cmd)
	if err != nil {
		return BlogPost{}, err
	}
	post.ID = existing.ID
	post.CreatedAt = existing.CreatedAt
	post.UpdatedAt = s.now()
	if post.PublishedAt.IsZero() {
		post.PublishedAt = existing.PublishedAt
	}
	if err := s.posts.Update(ctx, post); err != nil {
		return BlogPost{}, s.translateError(err)
	}
	return post, nil
}

// DeletePost removes an article.
func (s *contentService) DeletePost(ctx context.Context, postID string) error {
	if s == nil || s.posts == nil {
		return ErrContentUnavailable
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return ErrContentInvalidInput
	}
	if err := s.posts.Delete(ctx, postID); err != nil {
		return s.translateError(err)
	}
	return nil
}

// GetPost fetches one article by id.
func (s *contentService) GetPost(ctx context.Context, postID string) (BlogPost, error) {
	if s == nil || s.posts == nil {
		return BlogPost{}, ErrContentUnavailable
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return BlogPost{}, ErrContentInvalidInput
	}
	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return BlogPost{}, s.translateError(err)
	}
	return post, nil
}

// ListPosts pages published articles, newest first.
func (s *contentService) ListPosts(ctx context.Context, query PostListQuery) (CursorPage[BlogPost], error) {
	if s == nil || s.posts == nil {
		return CursorPage[BlogPost]{}, ErrContentUnavailable
	}
	page, err := s.posts.List(ctx, repositories.PostListFilter{
		Category:   query.Category,
		Tag:        query.Tag,
		Pagination: query.Pagination,
	})
	if err != nil {
		return CursorPage[BlogPost]{}, s.translateError(err)
	}
	return page, nil
}

// UploadPostImage streams the image to the media store and records the
// resulting public URL on the article.
func (s *contentService) UploadPostImage(ctx context.Context, postID string, upload ImageUpload) (BlogPost, error) {
	if s == nil || s.posts == nil {
		return BlogPost{}, ErrContentUnavailable
	}
	if s.media == nil {
		return BlogPost{}, fmt.Errorf("%w: media store not configured", ErrContentUnavailable)
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return BlogPost{}, ErrContentInvalidInput
	}

	var purpose storage.MediaPurpose
	kind := strings.ToLower(strings.TrimSpace(upload.Kind))
	switch kind {
	case "thumb":
		purpose = storage.PurposePostThumb
	case "cover":
		purpose = storage.PurposePostCover
	default:
		return BlogPost{}, fmt.Errorf("%w: image kind must be thumb or cover", ErrContentInvalidInput)
	}
	if upload.Data == nil {
		return BlogPost{}, fmt.Errorf("%w: image body is required", ErrContentInvalidInput)
	}

	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return BlogPost{}, s.translateError(err)
	}

	fileName := strings.TrimSpace(upload.FileName)
	if fileName == "" {
		return BlogPost{}, fmt.Errorf("%w: file name is required", ErrContentInvalidInput)
	}
	// ULID prefix keeps successive uploads from overwriting each other.
	objectPath, err := storage.BuildObjectPath(purpose, storage.PathParams{
		PostID:   post.ID,
		FileName: ulid.Make().String() + "_" + fileName,
	})
	if err != nil {
		return BlogPost{}, fmt.Errorf("%w: %v", ErrContentInvalidInput, err)
	}

	url, err := s.media.Upload(ctx, objectPath, upload.ContentType, upload.Data)
	if err != nil {
		return BlogPost{}, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	switch kind {
	case "thumb":
		post.ThumbImage = url
	case "cover":
		post.CoverImage = url
	}
	post.UpdatedAt = s.now()
	if err := s.posts.Update(ctx, post); err != nil {
		return BlogPost{}, s.translateError(err)
	}
	return post, nil
}

func (s *contentService) buildPost(cmd UpsertPostCommand) (BlogPost, error) {
	title := strings.TrimSpace(s.strict.Sanitize(cmd.Title))
	if title == "" {
		return BlogPost{}, fmt.Errorf("%w: title is required", ErrContentInvalidInput)
	}
	description := strings.TrimSpace(s.policy.Sanitize(cmd.Description))
	if description == "" {
		return BlogPost{}, fmt.Errorf("%w: description is required", ErrContentInvalidInput)
	}
	tags := make([]string, 0, len(cmd.Tags))
	for _, tag := range cmd.Tags {
		if trimmed := strings.TrimSpace(s.strict.Sanitize(tag)); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	author := strings.TrimSpace(s.strict.Sanitize(cmd.Author))
	if author == "" {
		author = defaultPostAuthor
	}
	post := domain.BlogPost{
		Category:         strings.TrimSpace(s.strict.Sanitize(cmd.Category)),
		Tags:             tags,
		Title:            title,
		Author:           author,
		Avatar:           strings.TrimSpace(cmd.Avatar),
		ThumbImage:       strings.TrimSpace(cmd.ThumbImage),
		CoverImage:       strings.TrimSpace(cmd.CoverImage),
		SubImages:        cmd.SubImages,
		ShortDescription: strings.TrimSpace(s.strict.Sanitize(cmd.ShortDescription)),
		Description:      description,
	}
	if cmd.PublishedAt != nil {
		post.PublishedAt = cmd.PublishedAt.UTC()
	}
	return post, nil
}

func (s *contentService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrContentPostNotFound
		default:
			return ErrContentUnavailable
		}
	}
	return ErrContentUnavailable
}
