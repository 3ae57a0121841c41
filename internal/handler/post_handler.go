package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/seqher/internal/blog"
	"github.com/hitoshi/seqher/internal/middleware"
	"github.com/hitoshi/seqher/internal/model"
)

// PostServiceInterface はブログ記事ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, author *model.AppUser, in blog.PostInput) (*model.Post, error)
	Update(ctx context.Context, id string, in blog.PostInput) (*model.Post, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]*model.Post, error)
	GetBySlug(ctx context.Context, slug string) (*model.Post, error)
	GetByID(ctx context.Context, id string) (*model.Post, error)
}

// PostImporterInterface は外部フィードからの記事取り込み。
type PostImporterInterface interface {
	Import(ctx context.Context, rawURL string) (*blog.ImportResult, error)
}

// PostHandler はブログ記事のHTTPハンドラー。
type PostHandler struct {
	service  PostServiceInterface
	importer PostImporterInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface, importer PostImporterInterface) *PostHandler {
	return &PostHandler{service: service, importer: importer}
}

type postRequest struct {
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Content string `json:"content"`
	ImageID string `json:"imageId"`
}

type importRequest struct {
	URL string `json:"url"`
}

type postResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Content   string    `json:"content"`
	ImageID   string    `json:"imageId"`
	Author    string    `json:"author"`
	SourceURL string    `json:"sourceUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (req postRequest) input() blog.PostInput {
	return blog.PostInput{Title: req.Title, Slug: req.Slug, Content: req.Content, ImageID: req.ImageID}
}

// List は記事を新しい順に返す。
// GET /api/posts, GET /api/admin/posts
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.List(r.Context(), queryLimit(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	res := make([]postResponse, len(posts))
	for i, p := range posts {
		res[i] = toPostResponse(p)
	}
	writeJSON(w, http.StatusOK, res)
}

// GetBySlug は公開記事を1件返す。
// GET /api/posts/{slug}
func (h *PostHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// GetByID は管理画面の編集用に記事を1件返す。
// GET /api/admin/posts/{id}
func (h *PostHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// Create は記事を作成する。著者はログイン中の管理者。
// POST /api/admin/posts
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	post, err := h.service.Create(r.Context(), currentUser(r), req.input())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(post))
}

// Update は記事を更新する。
// PUT /api/admin/posts/{id}
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	post, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// Delete は記事を削除する。
// DELETE /api/admin/posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import は外部サイトのフィードから記事を取り込む。
// POST /api/admin/posts/import
func (h *PostHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}
	result, err := h.importer.Import(r.Context(), req.URL)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func toPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:        p.ID,
		Title:     p.Title,
		Slug:      p.Slug,
		Content:   p.Content,
		ImageID:   p.ImageID,
		Author:    p.Author,
		SourceURL: p.SourceURL,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
