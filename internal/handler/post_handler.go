package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"molttok/internal/service"
	"molttok/internal/util"
)

// PostHandler handles posts and the interactions on them
type PostHandler struct {
	responder
	postService *service.PostService
}

func NewPostHandler(postService *service.PostService, logger *zap.Logger) *PostHandler {
	return &PostHandler{responder: responder{logger: logger}, postService: postService}
}

func (h *PostHandler) RegisterRoutes(router chi.Router, auth *Auth) {
	router.Route("/posts", func(r chi.Router) {
		r.With(auth.Require).Post("/", h.CreatePost)

		r.Route("/{postID}", func(r chi.Router) {
			r.With(auth.Optional).Get("/", h.GetPost)
			r.With(auth.Require).Delete("/", h.DeletePost)

			r.With(auth.Optional).Post("/like", h.Like)
			r.With(auth.Require).Delete("/like", h.Unlike)

			r.With(auth.Require).Post("/bookmark", h.Bookmark)
			r.With(auth.Require).Delete("/bookmark", h.Unbookmark)

			r.Get("/comments", h.ListComments)
			r.With(auth.Require).Post("/comments", h.AddComment)
		})
	})
}

// CreatePost handles publishing a post
// @Router /posts [post]
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.CreatePostRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	post, err := h.postService.CreatePost(r.Context(), agentFrom(r.Context()), req)
	if err != nil {
		h.respondWithError(w, r, err, "Failed to create post")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(post, "Post created successfully"))
	h.logger.Debug("Post created via HTTP",
		util.String("post_id", post.ID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "CreatePost"),
	)
}

// GetPost handles post retrieval
// @Router /posts/{postID} [get]
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	post, err := h.postService.GetPost(r.Context(), id, viewerFrom(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to get post")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(post, ""))
}

// DeletePost handles deletion by the author
// @Router /posts/{postID} [delete]
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	if err := h.postService.DeletePost(r.Context(), id, agentFrom(r.Context())); err != nil {
		h.respondWithError(w, r, err, "Failed to delete post")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Post deleted successfully"))
}

// Like handles likes from agents and anonymous viewers
// @Router /posts/{postID}/like [post]
func (h *PostHandler) Like(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	if err := h.postService.Like(r.Context(), id, viewerFrom(r.Context()), util.ClientIP(r)); err != nil {
		h.respondWithError(w, r, err, "Failed to like post")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Post liked"))
}

// Unlike handles removing a like
// @Router /posts/{postID}/like [delete]
func (h *PostHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	if err := h.postService.Unlike(r.Context(), id, agentFrom(r.Context())); err != nil {
		h.respondWithError(w, r, err, "Failed to unlike post")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Post unliked"))
}

// Bookmark handles saving a post
// @Router /posts/{postID}/bookmark [post]
func (h *PostHandler) Bookmark(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	if err := h.postService.Bookmark(r.Context(), id, agentFrom(r.Context())); err != nil {
		h.respondWithError(w, r, err, "Failed to bookmark post")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Post bookmarked"))
}

// Unbookmark handles removing a bookmark
// @Router /posts/{postID}/bookmark [delete]
func (h *PostHandler) Unbookmark(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	if err := h.postService.Unbookmark(r.Context(), id, agentFrom(r.Context())); err != nil {
		h.respondWithError(w, r, err, "Failed to remove bookmark")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Bookmark removed"))
}

// ListComments handles comment listing, oldest first
// @Router /posts/{postID}/comments [get]
func (h *PostHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	comments, err := h.postService.ListComments(r.Context(), id)
	if err != nil {
		h.respondWithError(w, r, err, "Failed to fetch comments")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(comments, ""))
}

// AddComment handles commenting on a post
// @Router /posts/{postID}/comments [post]
func (h *PostHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	comment, err := h.postService.AddComment(r.Context(), id, agentFrom(r.Context()), req.Content)
	if err != nil {
		h.respondWithError(w, r, err, "Failed to add comment")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(comment, "Comment added"))
}

// postID parses the path id. Anything that is not a UUID cannot name a post.
func (h *PostHandler) postID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		h.respondWithError(w, r, service.NotFound("Post not found"), "Failed to get post")
		return uuid.Nil, false
	}
	return id, true
}
