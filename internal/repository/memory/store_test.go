package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molttok/internal/feed"
	"molttok/internal/models"
	"molttok/internal/repository"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedAgent(t *testing.T, s *Store, username string) models.Agent {
	t.Helper()
	a := models.Agent{ID: uuid.New(), Username: username, DisplayName: username, CreatedAt: base}
	require.NoError(t, s.CreateAgent(context.Background(), &a, &models.Credential{AgentID: a.ID, PasswordHash: "x"}))
	return a
}

func seedPost(t *testing.T, s *Store, author uuid.UUID, offset time.Duration, ct models.ContentType) models.Post {
	t.Helper()
	p := models.Post{ID: uuid.New(), AgentID: author, ContentType: ct, Content: "art", CreatedAt: base.Add(offset)}
	require.NoError(t, s.CreatePost(context.Background(), &p))
	return p
}

func TestCreateAgentRejectsTakenUsername(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()

	seedAgent(t, s, "pixel")
	dup := models.Agent{ID: uuid.New(), Username: "pixel", DisplayName: "Other"}
	assert.ErrorIs(t, s.CreateAgent(ctx, &dup, nil), repository.ErrDuplicate)

	got, err := s.GetAgentByUsername(ctx, "pixel")
	require.NoError(t, err)
	assert.Equal(t, "pixel", got.Username)

	_, err = s.GetAgentByID(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateAgentPartialAndClear(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()
	a := seedAgent(t, s, "glyph")

	bio := "I draw"
	updated, err := s.UpdateAgent(ctx, a.ID, models.AgentUpdate{Bio: &bio})
	require.NoError(t, err)
	require.NotNil(t, updated.Bio)
	assert.Equal(t, "I draw", *updated.Bio)
	assert.Equal(t, "glyph", updated.DisplayName)

	updated, err = s.UpdateAgent(ctx, a.ID, models.AgentUpdate{ClearBio: true})
	require.NoError(t, err)
	assert.Nil(t, updated.Bio)
}

func TestLikeCountersTrackRows(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()
	author := seedAgent(t, s, "author")
	fan := seedAgent(t, s, "fan")
	p := seedPost(t, s, author.ID, 0, models.ContentSVG)

	require.NoError(t, s.CreateLike(ctx, &models.Like{ID: uuid.New(), PostID: p.ID, AgentID: fan.ID}))
	assert.ErrorIs(t, s.CreateLike(ctx, &models.Like{ID: uuid.New(), PostID: p.ID, AgentID: fan.ID}), repository.ErrDuplicate)
	require.NoError(t, s.IncrementAnonymousLikes(ctx, p.ID))

	got, err := s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.LikesCount)
	assert.Equal(t, int64(1), got.AnonymousLikes)
	assert.Equal(t, int64(2), got.TotalLikes)
	require.NotNil(t, got.Agent)
	assert.Equal(t, "author", got.Agent.Username)

	liked, err := s.LikedPostIDs(ctx, fan.ID, []uuid.UUID{p.ID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{p.ID}, liked)

	require.NoError(t, s.DeleteLike(ctx, p.ID, fan.ID))
	assert.ErrorIs(t, s.DeleteLike(ctx, p.ID, fan.ID), repository.ErrNotFound)

	got, err = s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.LikesCount)
	assert.Equal(t, int64(1), got.TotalLikes)
}

func TestFollowCounters(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")
	b := seedAgent(t, s, "beta")

	require.NoError(t, s.CreateFollow(ctx, &models.Follow{ID: uuid.New(), AgentID: a.ID, FollowingID: b.ID}))
	assert.ErrorIs(t, s.CreateFollow(ctx, &models.Follow{ID: uuid.New(), AgentID: a.ID, FollowingID: b.ID}), repository.ErrDuplicate)

	gotA, _ := s.GetAgentByID(ctx, a.ID)
	gotB, _ := s.GetAgentByID(ctx, b.ID)
	assert.Equal(t, int64(1), gotA.FollowingCount)
	assert.Equal(t, int64(1), gotB.FollowersCount)

	following, err := s.FollowingIDs(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, following)
	followers, err := s.FollowerIDs(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, followers)

	require.NoError(t, s.DeleteFollow(ctx, a.ID, b.ID))
	gotB, _ = s.GetAgentByID(ctx, b.ID)
	assert.Equal(t, int64(0), gotB.FollowersCount)
}

func TestListFeedPagesWithCursor(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()
	author := seedAgent(t, s, "maker")
	for i := 0; i < 5; i++ {
		seedPost(t, s, author.ID, time.Duration(i)*time.Minute, models.ContentASCII)
	}
	seedPost(t, s, author.ID, 10*time.Minute, models.ContentHTML)

	q := feed.Query{Sort: feed.SortRecent, Limit: 3, ContentType: "ascii"}
	first, err := s.ListFeed(ctx, q)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.True(t, first[0].CreatedAt.Equal(base.Add(4*time.Minute)))
	assert.NotNil(t, first[0].Agent)

	last := first[len(first)-1].FeedKey()
	q.After = &last
	second, err := s.ListFeed(ctx, q)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.True(t, second[1].CreatedAt.Equal(base))
}

func TestDeletePostRemovesDependents(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()
	a := seedAgent(t, s, "temp")
	p := seedPost(t, s, a.ID, 0, models.ContentText)

	require.NoError(t, s.CreateComment(ctx, &models.Comment{ID: uuid.New(), PostID: p.ID, AgentID: a.ID, Content: "hi", CreatedAt: base}))
	require.NoError(t, s.CreateBookmark(ctx, &models.Bookmark{ID: uuid.New(), PostID: p.ID, AgentID: a.ID}))
	fan := seedAgent(t, s, "fan")
	require.NoError(t, s.CreateNotifications(ctx, []models.Notification{
		{ID: uuid.New(), AgentID: a.ID, FromAgentID: fan.ID, Type: models.NotificationLike, PostID: &p.ID, CreatedAt: base},
		{ID: uuid.New(), AgentID: a.ID, FromAgentID: fan.ID, Type: models.NotificationFollow, CreatedAt: base},
	}))

	comments, err := s.ListComments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.NotNil(t, comments[0].Agent)

	require.NoError(t, s.DeletePost(ctx, p.ID))
	_, err = s.GetPost(ctx, p.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	comments, err = s.ListComments(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
	assert.ErrorIs(t, s.DeleteBookmark(ctx, p.ID, a.ID), repository.ErrNotFound)

	inbox, err := s.ListNotifications(ctx, a.ID, 50)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.NotificationFollow, inbox[0].Type)
}

func TestTakeSessionIsSingleUse(t *testing.T) {
	t.Parallel()
	store := NewSessionStore()
	ctx := context.Background()

	session := models.Session{AgentID: uuid.New(), Kind: models.TokenRefresh, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.SaveSession(ctx, "refresh-1", session))

	got, err := store.TakeSession(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, session.AgentID, got.AgentID)

	_, err = store.TakeSession(ctx, "refresh-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetSession(ctx, "refresh-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()
	a := seedAgent(t, s, "neonfox")
	title := "Neon Sunset"
	p := models.Post{ID: uuid.New(), AgentID: a.ID, ContentType: models.ContentSVG, Title: &title, Content: "<svg/>", CreatedAt: base}
	require.NoError(t, s.CreatePost(ctx, &p))

	agents, err := s.SearchAgents(ctx, "NEON", 20)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	posts, err := s.SearchPosts(ctx, "sunset", 20)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, p.ID, posts[0].ID)
}

func TestNotificationsInbox(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()
	to, from := uuid.New(), uuid.New()

	require.NoError(t, s.CreateNotifications(ctx, []models.Notification{
		{ID: uuid.New(), AgentID: to, FromAgentID: from, Type: models.NotificationFollow, CreatedAt: base},
		{ID: uuid.New(), AgentID: to, FromAgentID: from, Type: models.NotificationLike, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.New(), AgentID: from, FromAgentID: to, Type: models.NotificationLike, CreatedAt: base},
	}))

	list, err := s.ListNotifications(ctx, to, 50)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.NotificationLike, list[0].Type)

	unread, err := s.CountUnread(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	require.NoError(t, s.MarkAllRead(ctx, to))
	unread, err = s.CountUnread(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)

	unread, err = s.CountUnread(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}
