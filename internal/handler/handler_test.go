package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"molttok/internal/audit"
	"molttok/internal/config"
	"molttok/internal/feed"
	"molttok/internal/hashing"
	"molttok/internal/models"
	"molttok/internal/ratelimit"
	"molttok/internal/repository/memory"
	"molttok/internal/service"
	"molttok/internal/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Meta    *Meta           `json:"meta"`
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAuditor) Publish(e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAuditor) byAction(action string) []audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Event
	for _, e := range a.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type staticHealth map[string]string

func (h staticHealth) HealthCheck(context.Context) map[string]string { return h }

type testServer struct {
	router    chi.Router
	store     *memory.Store
	deps      *service.Dependencies
	clock     *clock
	auditor   *recordingAuditor
	avatarDir string
	agents    int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clk := &clock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	auditor := &recordingAuditor{}
	avatarDir := t.TempDir()
	avatars, err := storage.NewLocalStore(avatarDir, "http://molttok.test")
	require.NoError(t, err)

	deps := &service.Dependencies{
		Agents:        store,
		Posts:         store,
		Social:        store,
		Notifications: store,
		Sessions:      memory.NewSessionStore().WithClock(clk.Now),
		Limiter:       ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.WithClock(clk.Now)),
		Policies:      ratelimit.DefaultPolicies(),
		Hasher: hashing.NewHasher(config.HashingConfig{
			Argon2MemoryCost: 1024, Argon2TimeCost: 1, Argon2Parallelism: 1,
		}),
		Avatars:   avatars,
		Auditor:   auditor,
		Paginator: feed.NewPaginator(100, 100, 48*time.Hour, models.ContentTypeNames()).WithClock(clk.Now),
		Config: &config.Config{
			Environment: "test",
			DevMode:     true,
			Auth:        config.AuthConfig{AccessTokenTTL: 24 * time.Hour, RefreshTokenTTL: 30 * 24 * time.Hour},
		},
		Now: clk.Now,
	}

	return &testServer{
		router:    buildRouter(deps, staticHealth{"memory": "healthy"}, avatarDir),
		store:     store,
		deps:      deps,
		clock:     clk,
		auditor:   auditor,
		avatarDir: avatarDir,
	}
}

func buildRouter(deps *service.Dependencies, health HealthChecker, avatarDir string) chi.Router {
	logger := zap.NewNop()
	services := service.NewServiceFactory(deps)
	return NewRouter(Handlers{
		Auth:          NewAuth(services.AuthService(), logger),
		Accounts:      NewAuthHandler(services.AuthService(), logger),
		Agents:        NewAgentHandler(services.AgentService(), services.SocialService(), logger),
		Posts:         NewPostHandler(services.PostService(), logger),
		Feed:          NewFeedHandler(services.FeedService(), logger),
		Notifications: NewNotificationHandler(services.NotificationService(), logger),
		Search:        NewSearchHandler(services.SearchService(), logger),
		Meta:          NewMetaHandler(deps.Config.DevMode, deps.Auditor, logger),
	}, health, RouterOptions{AvatarDir: avatarDir}, logger)
}

type call struct {
	method string
	path   string
	body   interface{}
	token  string
	ip     string
}

func (s *testServer) do(t *testing.T, c call) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var body bytes.Buffer
	switch b := c.body.(type) {
	case nil:
	case string:
		body.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&body).Encode(b))
	}

	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ip != "" {
		req.Header.Set("X-Forwarded-For", c.ip)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *testServer) register(t *testing.T, username string) service.AuthResult {
	t.Helper()
	s.agents++
	rec, env := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/auth/register",
		body:   map[string]string{"username": username, "display_name": username, "password": "password1"},
		ip:     "198.51.100." + strconv.Itoa(s.agents),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res service.AuthResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

func (s *testServer) seedPost(t *testing.T, author uuid.UUID, createdAt time.Time) models.Post {
	t.Helper()
	p := models.Post{ID: uuid.New(), AgentID: author, ContentType: models.ContentText, Content: "hi", CreatedAt: createdAt}
	require.NoError(t, s.store.CreatePost(context.Background(), &p))
	return p
}

func TestRegisterAndPostWithBearerToken(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	assert.NotEmpty(t, alice.AuthToken)
	assert.NotEmpty(t, alice.RefreshToken)
	assert.Equal(t, "alice", alice.Username)

	rec, env := s.do(t, call{
		method: http.MethodPost, path: "/api/posts", token: alice.AuthToken,
		body: map[string]interface{}{"content_type": "ascii", "content": "(o_o)", "title": "#hello world"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	var post models.Post
	require.NoError(t, json.Unmarshal(env.Data, &post))
	assert.Equal(t, []string{"hello"}, post.Hashtags)
	assert.Equal(t, alice.AgentID, post.AgentID)

	rec, env = s.do(t, call{method: http.MethodGet, path: "/api/posts/" + post.ID.String(), token: alice.AuthToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &post))
	require.NotNil(t, post.HasLiked)
	assert.False(t, *post.HasLiked)
}

func TestRateLimitedRequestsGet429WithRetryAfter(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	create := call{
		method: http.MethodPost, path: "/api/posts", token: alice.AuthToken,
		body: map[string]string{"content_type": "text", "content": "one"},
	}

	rec, _ := s.do(t, create)
	require.Equal(t, http.StatusCreated, rec.Code)

	s.clock.Advance(20 * time.Second)
	rec, env := s.do(t, create)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Equal(t, 40, retryAfter)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 40, env.Meta.RetryAfter)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "posting too fast")

	s.clock.Advance(41 * time.Second)
	rec, _ = s.do(t, create)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestErrorTaxonomy(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bobby")
	post := s.seedPost(t, alice.AgentID, s.clock.Now())
	postPath := "/api/posts/" + post.ID.String()

	rec, _ := s.do(t, call{method: http.MethodPost, path: postPath + "/like", token: bob.AuthToken})
	require.Equal(t, http.StatusOK, rec.Code)

	cases := []struct {
		name   string
		call   call
		status int
		errMsg string
	}{
		{"missing token", call{method: http.MethodPost, path: "/api/posts", body: map[string]string{}}, http.StatusUnauthorized, "Authentication required"},
		{"bad token", call{method: http.MethodGet, path: "/api/notifications", token: "nope"}, http.StatusUnauthorized, "Invalid or expired token"},
		{"malformed json", call{method: http.MethodPost, path: "/api/auth/login", body: "{"}, http.StatusBadRequest, "Invalid JSON body"},
		{"validation", call{method: http.MethodPost, path: "/api/auth/register", body: map[string]string{"username": "x"}, ip: "203.0.113.9"}, http.StatusBadRequest, ""},
		{"bad login", call{method: http.MethodPost, path: "/api/auth/login", body: map[string]string{"username": "alice", "password": "wrong"}}, http.StatusUnauthorized, "Invalid username or password"},
		{"unknown agent", call{method: http.MethodGet, path: "/api/agents/ghost"}, http.StatusNotFound, "Agent not found"},
		{"non-uuid post", call{method: http.MethodGet, path: "/api/posts/not-a-uuid"}, http.StatusNotFound, "Post not found"},
		{"unknown post", call{method: http.MethodGet, path: "/api/posts/" + uuid.NewString()}, http.StatusNotFound, "Post not found"},
		{"duplicate like", call{method: http.MethodPost, path: postPath + "/like", token: bob.AuthToken}, http.StatusBadRequest, "Already liked"},
		{"self follow", call{method: http.MethodPost, path: "/api/agents/alice/follow", token: alice.AuthToken}, http.StatusBadRequest, "Cannot follow yourself"},
		{"not author", call{method: http.MethodDelete, path: postPath, token: bob.AuthToken}, http.StatusForbidden, "You can only delete your own posts"},
		{"malformed cursor", call{method: http.MethodGet, path: "/api/feed?cursor=%25%25%25"}, http.StatusBadRequest, "Invalid cursor"},
		{"unknown route", call{method: http.MethodGet, path: "/api/nope"}, http.StatusNotFound, "endpoint not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := s.do(t, tc.call)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.False(t, env.Success)
			if tc.errMsg != "" {
				assert.Equal(t, tc.errMsg, env.Error)
			}
		})
	}
}

type brokenFeed struct {
	*memory.Store
}

func (brokenFeed) ListFeed(context.Context, feed.Query) ([]models.Post, error) {
	return nil, errors.New("pq: connection reset by peer")
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	s := newTestServer(t)
	s.deps.Posts = brokenFeed{s.store}
	s.router = buildRouter(s.deps, nil, "")

	rec, env := s.do(t, call{method: http.MethodGet, path: "/api/feed"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", env.Error)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestFeedWalkOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	var want []uuid.UUID
	for i := 0; i < 23; i++ {
		p := s.seedPost(t, alice.AgentID, s.clock.Now().Add(-time.Duration(i)*time.Minute))
		want = append(want, p.ID)
	}

	fetch := func(_ context.Context, cursor string, limit int) (feed.Page[models.Post], error) {
		path := fmt.Sprintf("/api/feed?limit=%d", limit)
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		rec, env := s.do(t, call{method: http.MethodGet, path: path})
		if rec.Code != http.StatusOK {
			return feed.Page[models.Post]{}, fmt.Errorf("status %d", rec.Code)
		}
		var page service.FeedPage
		if err := json.Unmarshal(env.Data, &page); err != nil {
			return feed.Page[models.Post]{}, err
		}
		assert.Equal(t, page.NextCursor, env.Meta.NextCursor)
		return feed.Page[models.Post]{Items: page.Posts, NextCursor: page.NextCursor}, nil
	}

	var got []uuid.UUID
	pages := 0
	err := feed.Walk(context.Background(), 10, fetch, func(posts []models.Post) error {
		pages++
		for _, p := range posts {
			got = append(got, p.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Equal(t, want, got)
}

func TestAnonymousLikesAreLimitedByClientIP(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	post := s.seedPost(t, alice.AgentID, s.clock.Now())
	like := call{method: http.MethodPost, path: "/api/posts/" + post.ID.String() + "/like", ip: "192.0.2.50"}

	for i := 0; i < 20; i++ {
		rec, _ := s.do(t, like)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := s.do(t, like)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	like.ip = "192.0.2.51"
	rec, _ = s.do(t, like)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotificationsFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	bob := s.register(t, "bobby")

	rec, _ := s.do(t, call{method: http.MethodPost, path: "/api/agents/alice/follow", token: bob.AuthToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := s.do(t, call{method: http.MethodGet, path: "/api/notifications", token: alice.AuthToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var inbox service.Inbox
	require.NoError(t, json.Unmarshal(env.Data, &inbox))
	assert.Equal(t, int64(1), inbox.UnreadCount)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, "bobby", inbox.Notifications[0].FromAgent.Username)

	rec, _ = s.do(t, call{method: http.MethodPut, path: "/api/notifications/read", token: alice.AuthToken})
	require.Equal(t, http.StatusOK, rec.Code)

	_, env = s.do(t, call{method: http.MethodGet, path: "/api/notifications", token: alice.AuthToken})
	require.NoError(t, json.Unmarshal(env.Data, &inbox))
	assert.Zero(t, inbox.UnreadCount)
}

func TestProfileUpdateAndLookup(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")

	rec, _ := s.do(t, call{method: http.MethodPut, path: "/api/agents/me", token: alice.AuthToken, body: `{"bio": "ascii only"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := s.do(t, call{method: http.MethodGet, path: "/api/agents/ALICE"})
	require.Equal(t, http.StatusOK, rec.Code)
	var profile service.Profile
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	require.NotNil(t, profile.Agent.Bio)
	assert.Equal(t, "ascii only", *profile.Agent.Bio)
	assert.NotNil(t, profile.Posts)

	rec, env = s.do(t, call{method: http.MethodGet, path: "/api/agents/me", token: alice.AuthToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, alice.AgentID, profile.Agent.ID)
}

func TestRefreshAndLogout(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")

	rec, env := s.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", body: map[string]string{"refresh_token": alice.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed service.AuthResult
	require.NoError(t, json.Unmarshal(env.Data, &refreshed))
	assert.NotEqual(t, alice.AuthToken, refreshed.AuthToken)

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", body: map[string]string{"refresh_token": alice.RefreshToken}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, call{
		method: http.MethodPost, path: "/api/auth/logout", token: refreshed.AuthToken,
		body: map[string]string{"refresh_token": refreshed.RefreshToken},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(t, call{method: http.MethodGet, path: "/api/notifications", token: refreshed.AuthToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = s.do(t, call{method: http.MethodPost, path: "/api/auth/refresh", body: map[string]string{"refresh_token": refreshed.RefreshToken}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetaEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/heartbeat.md", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "HEARTBEAT_OK")

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/skill.json", nil))
	var manifest map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	assert.Equal(t, "molttok", manifest["name"])

	_, env := s.do(t, call{method: http.MethodGet, path: "/api/dev/status"})
	assert.JSONEq(t, `{"dev_mode": true}`, string(env.Data))

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "molttok_http_requests_total")
}

func TestAgentDocumentsAreServedAndAudited(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/skill.md", "/api/skill.md"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("User-Agent", "openclaw/1.2")
		req.Header.Set("X-Forwarded-For", "192.0.2.77")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
		assert.Contains(t, rec.Body.String(), "# MoltTok")
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/heartbeat.md", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	fetches := s.auditor.byAction(audit.ActionDocFetched)
	require.Len(t, fetches, 3)
	assert.Equal(t, "skill-md", fetches[0].Metadata["route"])
	assert.Equal(t, "openclaw/1.2", fetches[0].Metadata["user_agent"])
	assert.Equal(t, "192.0.2.77", fetches[0].IP)
	assert.Equal(t, "heartbeat-md", fetches[2].Metadata["route"])
}

func TestUnhealthyComponentGives503(t *testing.T) {
	router := buildRouter(newTestServer(t).deps, staticHealth{"postgres": "healthy", "redis": "dial tcp: refused"}, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "dial tcp: refused")
}

func TestLocalAvatarsAreServed(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.avatarDir, "a.png"), []byte("png"), 0o644))

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/avatars/a.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "bearer abc ")
	assert.Equal(t, "abc", bearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, bearerToken(req))
}

func TestErrorLogsCarryRequestScope(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responder{logger: zap.NewNop()}.respondWithError(w, r, errors.New("disk on fire"), "Failed")
	})
	h := middleware.RequestID(LoggerMiddleware(zap.New(core))(failing))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Forwarded-For", "192.0.2.9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	failures := logs.FilterMessage("HTTP request failed").All()
	require.Len(t, failures, 1)
	fields := failures[0].ContextMap()
	assert.NotEmpty(t, fields["request_id"])
	assert.Equal(t, "192.0.2.9", fields["client_ip"])

	access := logs.FilterMessage("HTTP request").All()
	require.Len(t, access, 1)
	assert.Equal(t, fields["request_id"], access[0].ContextMap()["request_id"])
}
