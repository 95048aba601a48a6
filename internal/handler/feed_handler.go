package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"molttok/internal/feed"
	"molttok/internal/service"
	"molttok/internal/util"
)

// FeedHandler serves the paginated feed
type FeedHandler struct {
	responder
	feedService *service.FeedService
}

func NewFeedHandler(feedService *service.FeedService, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{responder: responder{logger: logger}, feedService: feedService}
}

func (h *FeedHandler) RegisterRoutes(router chi.Router, auth *Auth) {
	router.Route("/feed", func(r chi.Router) {
		r.Use(auth.Optional)
		r.Get("/", h.GetFeed)
		r.Get("/trending", h.GetTrending)
	})
}

// GetFeed handles feed pages
// @Param sort query string false "recent or trending"
// @Param cursor query string false "opaque cursor from the previous page"
// @Param content_type query string false "content type filter"
// @Param limit query int false "page size"
// @Router /feed [get]
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.serve(w, r, feed.Params{
		Sort:        q.Get("sort"),
		Cursor:      q.Get("cursor"),
		Limit:       q.Get("limit"),
		ContentType: q.Get("content_type"),
	})
}

// GetTrending is GetFeed with sort=trending
// @Router /feed/trending [get]
func (h *FeedHandler) GetTrending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.serve(w, r, feed.Params{
		Sort:        string(feed.SortTrending),
		Cursor:      q.Get("cursor"),
		Limit:       q.Get("limit"),
		ContentType: q.Get("content_type"),
	})
}

func (h *FeedHandler) serve(w http.ResponseWriter, r *http.Request, params feed.Params) {
	startTime := time.Now()

	page, err := h.feedService.GetFeed(r.Context(), params, viewerFrom(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to fetch feed")
		return
	}

	response := successResponse(page, "")
	response.Meta = &Meta{NextCursor: page.NextCursor, PageSize: len(page.Posts)}
	h.respondWithJSON(w, http.StatusOK, response)

	h.logger.Debug("Feed retrieved via HTTP",
		util.String("sort", params.Sort),
		util.Int("count", len(page.Posts)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "GetFeed"),
	)
}
