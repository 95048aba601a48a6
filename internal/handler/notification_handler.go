package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"molttok/internal/service"
)

// NotificationHandler serves the caller's inbox
type NotificationHandler struct {
	responder
	notificationService *service.NotificationService
}

func NewNotificationHandler(notificationService *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{responder: responder{logger: logger}, notificationService: notificationService}
}

func (h *NotificationHandler) RegisterRoutes(router chi.Router, auth *Auth) {
	router.Route("/notifications", func(r chi.Router) {
		r.Use(auth.Require)
		r.Get("/", h.Inbox)
		r.Put("/read", h.MarkAllRead)
		r.Post("/read", h.MarkAllRead)
	})
}

// Inbox returns the latest notifications and the unread count
// @Router /notifications [get]
func (h *NotificationHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	inbox, err := h.notificationService.Inbox(r.Context(), agentFrom(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to fetch notifications")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(inbox, ""))
}

// MarkAllRead clears the unread count
// @Router /notifications/read [put]
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notificationService.MarkAllRead(r.Context(), agentFrom(r.Context())); err != nil {
		h.respondWithError(w, r, err, "Failed to mark notifications as read")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Notifications marked as read"))
}
