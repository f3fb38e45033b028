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

type fakePostRepo struct {
	insertFunc func(ctx context.Context, post domain.BlogPost) error
	updateFunc func(ctx context.Context, post domain.BlogPost) error
	deleteFunc func(ctx context.Context, postID string) error
	findFunc   func(ctx context.Context, postID string) (domain.BlogPost, error)
	listFunc   func(ctx context.Context, filter repositories.PostListFilter) (domain.CursorPage[domain.BlogPost], error)
}

func (f *fakePostRepo) Insert(ctx context.Context, post domain.BlogPost) error {
	if f.insertFunc != nil {
		return f.insertFunc(ctx, post)
	}
	return nil
}

func (f *fakePostRepo) Update(ctx context.Context, post domain.BlogPost) error {
	if f.updateFunc != nil {
		return f.updateFunc(ctx, post)
	}
	return nil
}

func (f *fakePostRepo) Delete(ctx context.Context, postID string) error {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, postID)
	}
	return nil
}

func (f *fakePostRepo) FindByID(ctx context.Context, postID string) (domain.BlogPost, error) {
	if f.findFunc != nil {
		return f.findFunc(ctx, postID)
	}
	return domain.BlogPost{}, &repoErrStub{notFound: true}
}

func (f *fakePostRepo) List(ctx context.Context, filter repositories.PostListFilter) (domain.CursorPage[domain.BlogPost], error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.BlogPost]{}, nil
}

func TestContentServiceSanitizesMarkup(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var saved domain.BlogPost

	service, err := NewContentService(ContentServiceDeps{
		Posts: &fakePostRepo{
			insertFunc: func(ctx context.Context, post domain.BlogPost) error {
				saved = post
				return nil
			},
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	post, err := service.CreatePost(context.Background(), UpsertPostCommand{
		Category:    "wiring",
		Title:       `Cable care <script>alert("x")</script>`,
		Author:      "Kofi",
		Description: `<p>Keep cables <b>dry</b>.</p><script>alert("x")</script>`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(post.Title, "<script>") || strings.Contains(post.Title, "alert") {
		t.Fatalf("title not sanitized: %q", post.Title)
	}
	if strings.Contains(post.Description, "script") {
		t.Fatalf("description not sanitized: %q", post.Description)
	}
	if !strings.Contains(post.Description, "<b>dry</b>") {
		t.Fatalf("benign markup should survive: %q", post.Description)
	}
	if !saved.PublishedAt.Equal(now) {
		t.Fatalf("expected publish default to now, got %v", saved.PublishedAt)
	}
	if saved.ID == "" {
		t.Fatal("expected generated post id")
	}
}

func TestContentServiceRequiresTitleAndBody(t *testing.T) {
	service, err := NewContentService(ContentServiceDeps{Posts: &fakePostRepo{}})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	if _, err := service.CreatePost(context.Background(), UpsertPostCommand{Description: "body"}); !errors.Is(err, ErrContentInvalidInput) {
		t.Fatalf("expected ErrContentInvalidInput for missing title, got %v", err)
	}
	if _, err := service.CreatePost(context.Background(), UpsertPostCommand{Title: "t"}); !errors.Is(err, ErrContentInvalidInput) {
		t.Fatalf("expected ErrContentInvalidInput for missing description, got %v", err)
	}
}

func TestContentServiceUpdatePreservesTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	created := now.Add(-72 * time.Hour)
	published := now.Add(-48 * time.Hour)
	existing := domain.BlogPost{
		ID:          "post_1",
		Title:       "Original",
		Description: "<p>original</p>",
		CreatedAt:   created,
		PublishedAt: published,
	}

	var updated domain.BlogPost
	service, err := NewContentService(ContentServiceDeps{
		Posts: &fakePostRepo{
			findFunc: func(context.Context, string) (domain.BlogPost, error) { return existing, nil },
			updateFunc: func(ctx context.Context, post domain.BlogPost) error {
				updated = post
				return nil
			},
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.UpdatePost(context.Background(), "post_1", UpsertPostCommand{
		Title:       "Updated title",
		Description: "<p>updated</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.CreatedAt.Equal(created) {
		t.Fatal("update must preserve creation time")
	}
	if !updated.PublishedAt.Equal(published) {
		t.Fatal("update without explicit publish time must preserve the original")
	}
	if updated.ID != "post_1" {
		t.Fatalf("unexpected id %s", updated.ID)
	}
}

func TestContentServiceGetMissingPost(t *testing.T) {
	service, err := NewContentService(ContentServiceDeps{Posts: &fakePostRepo{}})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	if _, err := service.GetPost(context.Background(), "post_missing"); !errors.Is(err, ErrContentPostNotFound) {
		t.Fatalf("expected ErrContentPostNotFound, got %v", err)
	}
}

func TestContentServiceUploadThumbImage(t *testing.T) {
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	var updated domain.BlogPost
	var uploadedPath string

	service, err := NewContentService(ContentServiceDeps{
		Posts: &fakePostRepo{
			findFunc: func(ctx context.Context, postID string) (domain.BlogPost, error) {
				return domain.BlogPost{ID: postID, Title: "Launch Notes"}, nil
			},
			updateFunc: func(ctx context.Context, post domain.BlogPost) error {
				updated = post
				return nil
			},
		},
		Media: &fakeMediaUploader{
			uploadFunc: func(ctx context.Context, objectPath, contentType string, data io.Reader) (string, error) {
				uploadedPath = objectPath
				return "https://storage.googleapis.com/media-bucket/" + objectPath, nil
			},
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	post, err := service.UploadPostImage(context.Background(), "post_1", ImageUpload{
		Kind:        "thumb",
		FileName:    "banner.jpg",
		ContentType: "image/jpeg",
		Data:        strings.NewReader("jpg-bytes"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(uploadedPath, "media/posts/post_1/thumb/") || !strings.HasSuffix(uploadedPath, "_banner.jpg") {
		t.Fatalf("unexpected object path %q", uploadedPath)
	}
	if post.ThumbImage == "" || post.CoverImage != "" {
		t.Fatalf("expected only thumb image set, got %#v", post)
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated timestamp %v, got %v", now, updated.UpdatedAt)
	}
}

func TestContentServiceUploadImageRejectsUnknownKind(t *testing.T) {
	service, err := NewContentService(ContentServiceDeps{
		Posts: &fakePostRepo{},
		Media: &fakeMediaUploader{},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	_, err = service.UploadPostImage(context.Background(), "post_1", ImageUpload{
		Kind:     "hero",
		FileName: "banner.jpg",
		Data:     strings.NewReader("jpg-bytes"),
	})
	if !errors.Is(err, ErrContentInvalidInput) {
		t.Fatalf("expected ErrContentInvalidInput, got %v", err)
	}
}
