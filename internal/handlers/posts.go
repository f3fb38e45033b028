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
	maxPostBodySize    = 256 * 1024
	maxImageUploadSize = 5 << 20
)

// PostHandlers exposes the public blog and the back-office article editor.
type PostHandlers struct {
	content services.ContentService
}

// NewPostHandlers constructs handlers over the content service.
func NewPostHandlers(content services.ContentService) *PostHandlers {
	return &PostHandlers{content: content}
}

// Routes wires the public blog endpoints.
func (h *PostHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listPosts)
	r.Get("/{postID}", h.getPost)
}

// AdminRoutes wires the article management endpoints.
func (h *PostHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createPost)
	r.Put("/{postID}", h.updatePost)
	r.Delete("/{postID}", h.deletePost)
	r.Post("/{postID}/images", h.uploadImage)
}

func (h *PostHandlers) listPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_unavailable", "content service is unavailable", http.StatusServiceUnavailable))
		return
	}
	query := services.PostListQuery{Pagination: parsePager(r)}
	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
		query.Category = &raw
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("tag")); raw != "" {
		query.Tag = &raw
	}

	page, err := h.content.ListPosts(ctx, query)
	if err != nil {
		h.writeContentError(ctx, w, err)
		return
	}
	items := make([]postPayload, 0, len(page.Items))
	for _, post := range page.Items {
		items = append(items, buildPostPayload(post))
	}
	writeJSONResponse(w, http.StatusOK, postListResponse{
		Posts:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *PostHandlers) getPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_unavailable", "content service is unavailable", http.StatusServiceUnavailable))
		return
	}
	postID := strings.TrimSpace(chi.URLParam(r, "postID"))
	post, err := h.content.GetPost(ctx, postID)
	if err != nil {
		h.writeContentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, postResponse{Post: buildPostPayload(post)})
}

func (h *PostHandlers) createPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeCommand(ctx, w, r)
	if !ok {
		return
	}
	post, err := h.content.CreatePost(ctx, cmd)
	if err != nil {
		h.writeContentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, postResponse{Post: buildPostPayload(post)})
}

func (h *PostHandlers) updatePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.decodeCommand(ctx, w, r)
	if !ok {
		return
	}
	postID := strings.TrimSpace(chi.URLParam(r, "postID"))
	post, err := h.content.UpdatePost(ctx, postID, cmd)
	if err != nil {
		h.writeContentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, postResponse{Post: buildPostPayload(post)})
}

func (h *PostHandlers) deletePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_unavailable", "content service is unavailable", http.StatusServiceUnavailable))
		return
	}
	postID := strings.TrimSpace(chi.URLParam(r, "postID"))
	if err := h.content.DeletePost(ctx, postID); err != nil {
		h.writeContentError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PostHandlers) uploadImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_unavailable", "content service is unavailable", http.StatusServiceUnavailable))
		return
	}
	postID := strings.TrimSpace(chi.URLParam(r, "postID"))

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

	kind := strings.TrimSpace(r.FormValue("kind"))
	if kind == "" {
		kind = "thumb"
	}
	post, err := h.content.UploadPostImage(ctx, postID, services.ImageUpload{
		Kind:        kind,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        file,
	})
	if err != nil {
		h.writeContentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, postResponse{Post: buildPostPayload(post)})
}

func (h *PostHandlers) decodeCommand(ctx context.Context, w http.ResponseWriter, r *http.Request) (services.UpsertPostCommand, bool) {
	if h.content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_unavailable", "content service is unavailable", http.StatusServiceUnavailable))
		return services.UpsertPostCommand{}, false
	}
	body, err := readLimitedBody(r, maxPostBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return services.UpsertPostCommand{}, false
	}
	var req postRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return services.UpsertPostCommand{}, false
	}

	cmd := services.UpsertPostCommand{
		Category:         strings.TrimSpace(req.Category),
		Tags:             req.Tags,
		Title:            strings.TrimSpace(req.Title),
		Author:           strings.TrimSpace(req.Author),
		Avatar:           strings.TrimSpace(req.Avatar),
		ThumbImage:       strings.TrimSpace(req.ThumbImage),
		CoverImage:       strings.TrimSpace(req.CoverImage),
		SubImages:        req.SubImages,
		ShortDescription: req.ShortDescription,
		Description:      req.Description,
	}
	if raw := strings.TrimSpace(req.PublishedAt); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "published_at must be an RFC3339 timestamp", http.StatusBadRequest))
			return services.UpsertPostCommand{}, false
		}
		cmd.PublishedAt = &ts
	}
	return cmd, true
}

func (h *PostHandlers) writeContentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrContentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrContentPostNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("post_not_found", "post not found", http.StatusNotFound))
	case errors.Is(err, services.ErrContentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("content_unavailable", "content service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("content_error", "content operation failed", http.StatusInternalServerError))
	}
}

type postListResponse struct {
	Posts         []postPayload `json:"posts"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type postResponse struct {
	Post postPayload `json:"post"`
}

type postRequest struct {
	Category         string   `json:"category"`
	Tags             []string `json:"tags"`
	Title            string   `json:"title"`
	Author           string   `json:"author"`
	Avatar           string   `json:"avatar"`
	ThumbImage       string   `json:"thumb_image"`
	CoverImage       string   `json:"cover_image"`
	SubImages        []string `json:"sub_images"`
	ShortDescription string   `json:"short_description"`
	Description      string   `json:"description"`
	PublishedAt      string   `json:"published_at"`
}

type postPayload struct {
	ID               string   `json:"id"`
	Category         string   `json:"category,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Title            string   `json:"title"`
	Author           string   `json:"author,omitempty"`
	Avatar           string   `json:"avatar,omitempty"`
	ThumbImage       string   `json:"thumb_image,omitempty"`
	CoverImage       string   `json:"cover_image,omitempty"`
	SubImages        []string `json:"sub_images,omitempty"`
	ShortDescription string   `json:"short_description,omitempty"`
	Description      string   `json:"description"`
	PublishedAt      string   `json:"published_at,omitempty"`
	CreatedAt        string   `json:"created_at,omitempty"`
	UpdatedAt        string   `json:"updated_at,omitempty"`
}

func buildPostPayload(post services.BlogPost) postPayload {
	return postPayload{
		ID:               post.ID,
		Category:         post.Category,
		Tags:             post.Tags,
		Title:            post.Title,
		Author:           post.Author,
		Avatar:           post.Avatar,
		ThumbImage:       post.ThumbImage,
		CoverImage:       post.CoverImage,
		SubImages:        post.SubImages,
		ShortDescription: post.ShortDescription,
		Description:      post.Description,
		PublishedAt:      formatTime(post.PublishedAt),
		CreatedAt:        formatTime(post.CreatedAt),
		UpdatedAt:        formatTime(post.UpdatedAt),
	}
}
