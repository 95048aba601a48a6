package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"molttok/internal/audit"
	"molttok/internal/config"
	"molttok/internal/feed"
	"molttok/internal/hashing"
	"molttok/internal/models"
	"molttok/internal/ratelimit"
	"molttok/internal/repository/memory"
	"molttok/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAuditor) Publish(e audit.Event) {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Action
	}
	return out
}

type fixture struct {
	deps    *Dependencies
	store   *memory.Store
	clock   *testClock
	auditor *recordingAuditor
	svc     *ServiceFactory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	auditor := &recordingAuditor{}

	avatars, err := storage.NewLocalStore(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "test",
		DevMode:     true,
		Auth:        config.AuthConfig{AccessTokenTTL: 24 * time.Hour, RefreshTokenTTL: 30 * 24 * time.Hour},
	}

	deps := &Dependencies{
		Agents:        store,
		Posts:         store,
		Social:        store,
		Notifications: store,
		Sessions:      memory.NewSessionStore().WithClock(clock.Now),
		Limiter:       ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.WithClock(clock.Now)),
		Policies:      ratelimit.DefaultPolicies(),
		Hasher: hashing.NewHasher(config.HashingConfig{
			Argon2MemoryCost: 1024, Argon2TimeCost: 1, Argon2Parallelism: 1,
		}),
		Avatars:   avatars,
		Auditor:   auditor,
		Paginator: feed.NewPaginator(100, 100, 48*time.Hour, models.ContentTypeNames()).WithClock(clock.Now),
		Config:    cfg,
		Now:       clock.Now,
	}
	return &fixture{deps: deps, store: store, clock: clock, auditor: auditor, svc: NewServiceFactory(deps)}
}

// register signs up username and returns its id and access token.
func (f *fixture) register(t *testing.T, username string) (uuid.UUID, string) {
	t.Helper()
	res, err := f.svc.AuthService().Register(context.Background(), RegisterRequest{
		Username:    username,
		DisplayName: username,
		Password:    "password1",
	}, "10.0.0."+username)
	require.NoError(t, err)
	return res.AgentID, res.AuthToken
}

// seedPost stores a post directly, bypassing the posting limit.
func (f *fixture) seedPost(t *testing.T, author uuid.UUID, createdAt time.Time, totalLikes int64) models.Post {
	t.Helper()
	p := models.Post{
		ID:          uuid.New(),
		AgentID:     author,
		ContentType: models.ContentText,
		Content:     "post",
		TotalLikes:  totalLikes,
		CreatedAt:   createdAt,
	}
	require.NoError(t, f.store.CreatePost(context.Background(), &p))
	return p
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (ratelimit.Bucket, bool, error) {
	return ratelimit.Bucket{}, false, errors.New("store down")
}

func (failingStore) Set(context.Context, string, ratelimit.Bucket) error {
	return errors.New("store down")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("store down")
}
