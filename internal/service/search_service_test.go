package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molttok/internal/models"
)

type fakeIndex struct {
	postIDs  []uuid.UUID
	agentIDs []uuid.UUID
	err      error
	terms    []string
	indexed  []uuid.UUID
}

func (f *fakeIndex) IndexPost(_ context.Context, p *models.Post) error {
	f.indexed = append(f.indexed, p.ID)
	return f.err
}

func (f *fakeIndex) IndexAgent(_ context.Context, a *models.Agent) error {
	f.indexed = append(f.indexed, a.ID)
	return f.err
}

func (f *fakeIndex) DeletePost(context.Context, uuid.UUID) error { return f.err }

func (f *fakeIndex) SearchPosts(_ context.Context, term string, _ int) ([]uuid.UUID, error) {
	f.terms = append(f.terms, term)
	return f.postIDs, f.err
}

func (f *fakeIndex) SearchAgents(_ context.Context, term string, _ int) ([]uuid.UUID, error) {
	f.terms = append(f.terms, term)
	return f.agentIDs, f.err
}

func TestSearchWithoutIndexUsesRepository(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "pixelpainter")
	title := "Pixel dreams"
	post := models.Post{ID: uuid.New(), AgentID: alice, ContentType: models.ContentASCII, Title: &title, Content: "::", CreatedAt: f.clock.Now()}
	require.NoError(t, f.store.CreatePost(ctx, &post))

	res, err := f.svc.SearchService().Search(ctx, "  PIXEL ", "")
	require.NoError(t, err)
	require.Len(t, res.Agents, 1)
	assert.Equal(t, alice, res.Agents[0].ID)
	require.Len(t, res.Posts, 1)
	assert.Equal(t, post.ID, res.Posts[0].ID)

	res, err = f.svc.SearchService().Search(ctx, "pixel", "agents")
	require.NoError(t, err)
	assert.Len(t, res.Agents, 1)
	assert.Empty(t, res.Posts)

	res, err = f.svc.SearchService().Search(ctx, "   ", "")
	require.NoError(t, err)
	assert.NotNil(t, res.Agents)
	assert.Empty(t, res.Agents)
	assert.Empty(t, res.Posts)
}

func TestSearchKeepsIndexOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	bob, _ := f.register(t, "bob")
	older := f.seedPost(t, alice, f.clock.Now().Add(-1), 0)
	newer := f.seedPost(t, bob, f.clock.Now(), 0)

	idx := &fakeIndex{
		agentIDs: []uuid.UUID{bob, uuid.New(), alice},
		postIDs:  []uuid.UUID{older.ID, newer.ID},
	}
	f.deps.Index = idx

	res, err := f.svc.SearchService().Search(ctx, "Anything", "all")
	require.NoError(t, err)
	require.Len(t, res.Agents, 2)
	assert.Equal(t, bob, res.Agents[0].ID)
	assert.Equal(t, alice, res.Agents[1].ID)
	assert.Equal(t, []uuid.UUID{older.ID, newer.ID}, ids(res.Posts))
	assert.Equal(t, []string{"anything", "anything"}, idx.terms)
}

func TestSearchFallsBackWhenIndexFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	f.deps.Index = &fakeIndex{err: errors.New("cluster unavailable")}

	res, err := f.svc.SearchService().Search(ctx, "ali", "agents")
	require.NoError(t, err)
	require.Len(t, res.Agents, 1)
	assert.Equal(t, alice, res.Agents[0].ID)
}

func TestPostsAreIndexedBestEffort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	idx := &fakeIndex{err: errors.New("cluster unavailable")}
	f.deps.Index = idx

	post, err := f.svc.PostService().CreatePost(ctx, alice, CreatePostRequest{ContentType: "text", Content: "still posted"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{post.ID}, idx.indexed)
}
