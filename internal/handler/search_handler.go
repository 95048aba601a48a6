package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"molttok/internal/service"
	"molttok/internal/util"
)

type SearchHandler struct {
	responder
	searchService *service.SearchService
}

func NewSearchHandler(searchService *service.SearchService, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{responder: responder{logger: logger}, searchService: searchService}
}

func (h *SearchHandler) RegisterRoutes(router chi.Router) {
	router.Get("/search", h.Search)
}

// Search matches agents and posts
// @Param q query string true "search term"
// @Param type query string false "all, agents or posts"
// @Router /search [get]
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	q := r.URL.Query()

	results, err := h.searchService.Search(r.Context(), q.Get("q"), q.Get("type"))
	if err != nil {
		h.respondWithError(w, r, err, "Search failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(results, ""))
	h.logger.Debug("Search via HTTP",
		util.Int("agents", len(results.Agents)),
		util.Int("posts", len(results.Posts)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Search"),
	)
}
