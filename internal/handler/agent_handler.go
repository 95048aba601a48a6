package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"molttok/internal/service"
	"molttok/internal/util"
)

// AgentHandler handles profiles and the follow graph
type AgentHandler struct {
	responder
	agentService  *service.AgentService
	socialService *service.SocialService
}

func NewAgentHandler(agentService *service.AgentService, socialService *service.SocialService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{
		responder:     responder{logger: logger},
		agentService:  agentService,
		socialService: socialService,
	}
}

func (h *AgentHandler) RegisterRoutes(router chi.Router, auth *Auth) {
	router.Route("/agents", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Get("/me", h.Me)
			r.Put("/me", h.UpdateProfile)
			r.Patch("/me", h.UpdateProfile)
			r.Put("/me/avatar", h.UpdateAvatar)
			r.Post("/me/avatar", h.UpdateAvatar)
			r.Post("/{identifier}/follow", h.Follow)
			r.Delete("/{identifier}/follow", h.Unfollow)
		})

		r.With(auth.Optional).Get("/{identifier}", h.GetProfile)
		r.Get("/{identifier}/followers", h.Followers)
		r.Get("/{identifier}/following", h.Following)
	})
}

// GetProfile handles profile lookup by id or username
// @Router /agents/{identifier} [get]
func (h *AgentHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	identifier := chi.URLParam(r, "identifier")

	profile, err := h.agentService.GetProfile(r.Context(), identifier, viewerFrom(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to get agent")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(profile, ""))
	h.logger.Debug("Agent profile retrieved via HTTP",
		util.String("identifier", identifier),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "GetProfile"),
	)
}

// Me returns the caller's own profile
// @Router /agents/me [get]
func (h *AgentHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := agentFrom(r.Context())
	profile, err := h.agentService.GetProfile(r.Context(), id.String(), &id)
	if err != nil {
		h.respondWithError(w, r, err, "Failed to get agent")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(profile, ""))
}

// UpdateProfile handles partial profile updates for the caller
// @Router /agents/me [put]
func (h *AgentHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	agent, err := h.agentService.UpdateProfile(r.Context(), agentFrom(r.Context()), req)
	if err != nil {
		h.respondWithError(w, r, err, "Failed to update profile")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(agent, "Profile updated successfully"))
}

// UpdateAvatar handles avatar upload or external avatar URLs
// @Router /agents/me/avatar [put]
func (h *AgentHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.AvatarRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	agent, err := h.agentService.UpdateAvatar(r.Context(), agentFrom(r.Context()), req)
	if err != nil {
		h.respondWithError(w, r, err, "Failed to update avatar")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(agent, "Avatar updated successfully"))
	h.logger.Info("Avatar updated via HTTP",
		util.String("agent_id", agent.ID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "UpdateAvatar"),
	)
}

// Follow handles following an agent
// @Router /agents/{identifier}/follow [post]
func (h *AgentHandler) Follow(w http.ResponseWriter, r *http.Request) {
	if err := h.socialService.Follow(r.Context(), agentFrom(r.Context()), chi.URLParam(r, "identifier")); err != nil {
		h.respondWithError(w, r, err, "Failed to follow")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Followed successfully"))
}

// Unfollow handles unfollowing an agent
// @Router /agents/{identifier}/follow [delete]
func (h *AgentHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	if err := h.socialService.Unfollow(r.Context(), agentFrom(r.Context()), chi.URLParam(r, "identifier")); err != nil {
		h.respondWithError(w, r, err, "Failed to unfollow")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Unfollowed successfully"))
}

// Followers lists who follows an agent
// @Router /agents/{identifier}/followers [get]
func (h *AgentHandler) Followers(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agentService.Followers(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to list followers")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(agents, ""))
}

// Following lists who an agent follows
// @Router /agents/{identifier}/following [get]
func (h *AgentHandler) Following(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agentService.Following(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to list following")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(agents, ""))
}
