package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"molttok/internal/metrics"
	"molttok/internal/service"
	"molttok/internal/util"
)

type ctxKey int

const agentIDKey ctxKey = iota

// LoggerMiddleware logs each request and stores a request-scoped logger,
// tagged with request_id and client_ip, for handlers and services.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			reqLogger := logger.With(
				util.String("request_id", middleware.GetReqID(r.Context())),
				util.String("client_ip", util.ClientIP(r)),
			)
			r = r.WithContext(util.WithLogger(r.Context(), reqLogger))
			defer func() {
				reqLogger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// MetricsMiddleware records request counts and latency by chi route pattern,
// so path parameters do not explode label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// TokenAuthenticator resolves a bearer token to an agent id.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (uuid.UUID, error)
}

// Auth attaches the caller's agent id to the request context.
type Auth struct {
	responder
	tokens TokenAuthenticator
}

func NewAuth(tokens TokenAuthenticator, logger *zap.Logger) *Auth {
	return &Auth{responder: responder{logger: logger}, tokens: tokens}
}

// Optional resolves the bearer token when one is present. A bad token is
// treated as anonymous.
func (a *Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := bearerToken(r); token != "" {
			if id, err := a.tokens.Authenticate(r.Context(), token); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), agentIDKey, id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Require rejects requests without a valid bearer token with 401.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			a.respondWithError(w, r, service.Unauthenticated(), "Authentication required")
			return
		}
		id, err := a.tokens.Authenticate(r.Context(), token)
		if err != nil {
			a.respondWithError(w, r, err, "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentIDKey, id)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// viewerFrom returns the authenticated agent, or nil for anonymous requests.
func viewerFrom(ctx context.Context) *uuid.UUID {
	id, ok := ctx.Value(agentIDKey).(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}

// agentFrom is for routes behind Require.
func agentFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(agentIDKey).(uuid.UUID)
	return id
}
