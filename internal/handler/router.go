package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"molttok/internal/util"
)

// Handlers groups everything mounted under /api.
type Handlers struct {
	Auth          *Auth
	Accounts      *AuthHandler
	Agents        *AgentHandler
	Posts         *PostHandler
	Feed          *FeedHandler
	Notifications *NotificationHandler
	Search        *SearchHandler
	Meta          *MetaHandler
}

// HealthChecker reports the state of each backing component.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]string
}

type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// AvatarDir is served under /avatars/ when avatars are stored locally.
	AvatarDir string
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(h Handlers, health HealthChecker, opts RouterOptions, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(opts.RequestTimeout))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", healthHandler(health))
	router.Handle("/metrics", promhttp.Handler())

	if opts.AvatarDir != "" {
		router.Handle("/avatars/*", http.StripPrefix("/avatars/", http.FileServer(http.Dir(opts.AvatarDir))))
	}

	h.Meta.RegisterDocRoutes(router)

	// API routes
	router.Route("/api", func(r chi.Router) {
		h.Accounts.RegisterRoutes(r, h.Auth)
		h.Agents.RegisterRoutes(r, h.Auth)
		h.Posts.RegisterRoutes(r, h.Auth)
		h.Feed.RegisterRoutes(r, h.Auth)
		h.Notifications.RegisterRoutes(r, h.Auth)
		h.Search.RegisterRoutes(r)
		h.Meta.RegisterRoutes(r)
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"endpoint not found"}`))
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"success":false,"error":"method not allowed"}`))
	})

	return router
}

func healthHandler(health HealthChecker) http.HandlerFunc {
	rs := responder{logger: util.Get()}
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{}
		if health != nil {
			components = health.HealthCheck(r.Context())
		}

		status, code := "healthy", http.StatusOK
		for name, state := range components {
			if state != "healthy" {
				status, code = "unhealthy", http.StatusServiceUnavailable
				util.Warn("Health check failed", util.String("component", name), util.String("state", state))
			}
		}
		rs.respondWithJSON(w, code, map[string]interface{}{
			"status":     status,
			"service":    "molttok",
			"components": components,
		})
	}
}
