package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/steadfast-intl/api/internal/services"
)

func TestPostHandlersListFilters(t *testing.T) {
	var captured services.PostListQuery
	service := &stubContentService{
		listFunc: func(ctx context.Context, query services.PostListQuery) (services.CursorPage[services.BlogPost], error) {
			captured = query
			return services.CursorPage[services.BlogPost]{
				Items: []services.BlogPost{{ID: "post_1", Title: "Launch Notes"}},
			}, nil
		},
	}

	handler := NewPostHandlers(service)
	router := chi.NewRouter()
	router.Route("/posts", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/posts?category=news&tag=release", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Category == nil || *captured.Category != "news" {
		t.Fatalf("expected category filter news, got %#v", captured.Category)
	}
	if captured.Tag == nil || *captured.Tag != "release" {
		t.Fatalf("expected tag filter release, got %#v", captured.Tag)
	}

	var resp postListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Posts) != 1 || resp.Posts[0].Title != "Launch Notes" {
		t.Fatalf("unexpected list response %#v", resp)
	}
}

func TestPostHandlersCreateParsesPublishedAt(t *testing.T) {
	var captured services.UpsertPostCommand
	service := &stubContentService{
		createFunc: func(ctx context.Context, cmd services.UpsertPostCommand) (services.BlogPost, error) {
			captured = cmd
			return services.BlogPost{ID: "post_1", Title: cmd.Title}, nil
		},
	}

	handler := NewPostHandlers(service)
	router := chi.NewRouter()
	router.Route("/admin/posts", handler.AdminRoutes)

	body := `{"title":" Launch Notes ","author":"Editorial","category":"news","description":"<p>We shipped.</p>","published_at":"2024-07-01T09:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/posts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Title != "Launch Notes" {
		t.Fatalf("expected trimmed title, got %q", captured.Title)
	}
	if captured.PublishedAt == nil || !captured.PublishedAt.Equal(time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected published_at parsed, got %#v", captured.PublishedAt)
	}
}

func TestPostHandlersCreateRejectsBadTimestamp(t *testing.T) {
	handler := NewPostHandlers(&stubContentService{})
	router := chi.NewRouter()
	router.Route("/admin/posts", handler.AdminRoutes)

	req := httptest.NewRequest(http.MethodPost, "/admin/posts", strings.NewReader(`{"title":"Launch Notes","description":"x","published_at":"yesterday"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPostHandlersGetNotFound(t *testing.T) {
	service := &stubContentService{
		getFunc: func(ctx context.Context, postID string) (services.BlogPost, error) {
			return services.BlogPost{}, services.ErrContentPostNotFound
		},
	}

	handler := NewPostHandlers(service)
	router := chi.NewRouter()
	router.Route("/posts", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/posts/post_9", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestPostHandlersDelete(t *testing.T) {
	service := &stubContentService{
		deleteFunc: func(ctx context.Context, postID string) error {
			if postID != "post_1" {
				t.Fatalf("unexpected post id %q", postID)
			}
			return nil
		},
	}

	handler := NewPostHandlers(service)
	router := chi.NewRouter()
	router.Route("/admin/posts", handler.AdminRoutes)

	req := httptest.NewRequest(http.MethodDelete, "/admin/posts/post_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestPostHandlersUploadImageDefaultsKind(t *testing.T) {
	var capturedUpload services.ImageUpload
	service := &stubContentService{
		uploadFunc: func(ctx context.Context, postID string, upload services.ImageUpload) (services.BlogPost, error) {
			capturedUpload = upload
			return services.BlogPost{ID: postID, Title: "Launch Notes"}, nil
		},
	}

	handler := NewPostHandlers(service)
	router := chi.NewRouter()
	router.Route("/admin/posts", handler.AdminRoutes)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image", "banner.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("jpg-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/posts/post_1/images", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedUpload.Kind != "thumb" {
		t.Fatalf("expected default kind thumb, got %q", capturedUpload.Kind)
	}
	if capturedUpload.FileName != "banner.jpg" {
		t.Fatalf("expected file name banner.jpg, got %q", capturedUpload.FileName)
	}
}

func TestPostHandlersUploadImageCoverKind(t *testing.T) {
	var capturedKind string
	service := &stubContentService{
		uploadFunc: func(ctx context.Context, postID string, upload services.ImageUpload) (services.BlogPost, error) {
			capturedKind = upload.Kind
			return services.BlogPost{ID: postID}, nil
		},
	}

	handler := NewPostHandlers(service)
	router := chi.NewRouter()
	router.Route("/admin/posts", handler.AdminRoutes)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("kind", "cover"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := form.CreateFormFile("image", "cover.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("jpg-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/posts/post_1/images", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedKind != "cover" {
		t.Fatalf("expected kind cover, got %q", capturedKind)
	}
}

type stubContentService struct {
	createFunc func(ctx context.Context, cmd services.UpsertPostCommand) (services.BlogPost, error)
	updateFunc func(ctx context.Context, postID string, cmd services.UpsertPostCommand) (services.BlogPost, error)
	deleteFunc func(ctx context.Context, postID string) error
	getFunc    func(ctx context.Context, postID string) (services.BlogPost, error)
	listFunc   func(ctx context.Context, query services.PostListQuery) (services.CursorPage[services.BlogPost], error)
	uploadFunc func(ctx context.Context, postID string, upload services.ImageUpload) (services.BlogPost, error)
}

func (s *stubContentService) CreatePost(ctx context.Context, cmd services.UpsertPostCommand) (services.BlogPost, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.BlogPost{}, errors.New("not implemented")
}

func (s *stubContentService) UpdatePost(ctx context.Context, postID string, cmd services.UpsertPostCommand) (services.BlogPost, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, postID, cmd)
	}
	return services.BlogPost{}, errors.New("not implemented")
}

func (s *stubContentService) DeletePost(ctx context.Context, postID string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, postID)
	}
	return errors.New("not implemented")
}

func (s *stubContentService) GetPost(ctx context.Context, postID string) (services.BlogPost, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, postID)
	}
	return services.BlogPost{}, errors.New("not implemented")
}

func (s *stubContentService) ListPosts(ctx context.Context, query services.PostListQuery) (services.CursorPage[services.BlogPost], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, query)
	}
	return services.CursorPage[services.BlogPost]{}, errors.New("not implemented")
}

func (s *stubContentService) UploadPostImage(ctx context.Context, postID string, upload services.ImageUpload) (services.BlogPost, error) {
	if s.uploadFunc != nil {
		return s.uploadFunc(ctx, postID, upload)
	}
	return services.BlogPost{}, errors.New("not implemented")
}
