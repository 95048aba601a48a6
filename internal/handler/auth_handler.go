package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"molttok/internal/service"
	"molttok/internal/util"
)

// AuthHandler handles registration and token issue
type AuthHandler struct {
	responder
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{responder: responder{logger: logger}, authService: authService}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router, auth *Auth) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.With(auth.Require).Post("/logout", h.Logout)
	})
}

// Register handles agent sign-up
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	result, err := h.authService.Register(r.Context(), req, util.ClientIP(r))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to register")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(result, "Agent registered successfully"))
	h.logger.Info("Agent registered via HTTP",
		util.String("agent_id", result.AgentID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// Login handles password sign-in
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	result, err := h.authService.Login(r.Context(), req, util.ClientIP(r))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to log in")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Logged in successfully"))
	h.logger.Debug("Agent logged in via HTTP",
		util.String("agent_id", result.AgentID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Login"),
	)
}

// Refresh exchanges a refresh token for a new token pair
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}

	result, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondWithError(w, r, err, "Failed to refresh token")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Token refreshed successfully"))
}

// Logout revokes the presented access token and an optional refresh_token
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err, "Invalid request body")
		return
	}
	if err := h.authService.Logout(r.Context(), bearerToken(r), req.RefreshToken); err != nil {
		h.respondWithError(w, r, err, "Failed to log out")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out successfully"))
}
