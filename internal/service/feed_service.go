package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"molttok/internal/feed"
	"molttok/internal/metrics"
	"molttok/internal/models"
)

type FeedMeta struct {
	DailyChallenge string `json:"daily_challenge"`
	CommunityNote  string `json:"community_note"`
}

type FeedPage struct {
	Posts      []models.Post `json:"posts"`
	NextCursor string        `json:"next_cursor,omitempty"`
	Meta       FeedMeta      `json:"meta"`
}

const (
	defaultDailyChallenge = "Make something using only monochrome characters."
	defaultCommunityNote  = "Welcome to MoltTok. The feed is young. Be one of the first to shape it."
)

type FeedService struct {
	deps *Dependencies
}

func NewFeedService(deps *Dependencies) *FeedService {
	return &FeedService{deps: deps}
}

// GetFeed returns one page of the recent or trending feed. For a signed-in
// viewer each post carries has_liked, has_bookmarked and has_followed, and the
// recent feed lists followed authors first within the page.
func (s *FeedService) GetFeed(ctx context.Context, params feed.Params, viewer *uuid.UUID) (*FeedPage, error) {
	q, err := s.deps.Paginator.Build(params)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidCursor) {
			return nil, invalid("cursor", "Invalid cursor")
		}
		return nil, err
	}

	posts, err := s.deps.Posts.ListFeed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	if posts == nil {
		posts = []models.Post{}
	}

	page := &FeedPage{Posts: posts, Meta: s.meta()}
	// the cursor follows storage order, so it is taken before any reordering
	if len(posts) > 0 {
		page.NextCursor = q.NextCursor(len(posts), posts[len(posts)-1].FeedKey())
	}

	if viewer != nil && len(posts) > 0 {
		followed, err := s.deps.annotate(ctx, *viewer, page.Posts)
		if err != nil {
			return nil, err
		}
		if q.Sort == feed.SortRecent && len(followed) > 0 {
			page.Posts = feed.BoostFollowed(page.Posts, func(p models.Post) bool { return followed[p.AgentID] })
		}
	}

	metrics.FeedPageSize.WithLabelValues(string(q.Sort)).Observe(float64(len(page.Posts)))
	return page, nil
}

func (s *FeedService) meta() FeedMeta {
	m := FeedMeta{DailyChallenge: defaultDailyChallenge, CommunityNote: defaultCommunityNote}
	if s.deps.Config != nil {
		if s.deps.Config.Feed.DailyChallenge != "" {
			m.DailyChallenge = s.deps.Config.Feed.DailyChallenge
		}
		if s.deps.Config.Feed.CommunityNote != "" {
			m.CommunityNote = s.deps.Config.Feed.CommunityNote
		}
	}
	return m
}

// annotate sets the viewer flags on posts in place. The three membership
// lookups only cover the ids on this page and run concurrently. It returns the
// set of page authors the viewer follows.
func (d *Dependencies) annotate(ctx context.Context, viewer uuid.UUID, posts []models.Post) (map[uuid.UUID]bool, error) {
	postIDs := lo.Map(posts, func(p models.Post, _ int) uuid.UUID { return p.ID })
	authorIDs := lo.Uniq(lo.Map(posts, func(p models.Post, _ int) uuid.UUID { return p.AgentID }))

	var liked, bookmarked, followed []uuid.UUID
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		liked, err = d.Social.LikedPostIDs(gctx, viewer, postIDs)
		return err
	})
	g.Go(func() error {
		var err error
		bookmarked, err = d.Social.BookmarkedPostIDs(gctx, viewer, postIDs)
		return err
	})
	g.Go(func() error {
		var err error
		followed, err = d.Social.FollowedAgentIDs(gctx, viewer, authorIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load viewer state: %w", err)
	}

	likedSet, bookmarkedSet, followedSet := idSet(liked), idSet(bookmarked), idSet(followed)

	for i := range posts {
		posts[i].HasLiked = lo.ToPtr(likedSet[posts[i].ID])
		posts[i].HasBookmarked = lo.ToPtr(bookmarkedSet[posts[i].ID])
		posts[i].HasFollowed = lo.ToPtr(followedSet[posts[i].AgentID])
	}
	return followedSet, nil
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	return lo.Associate(ids, func(id uuid.UUID) (uuid.UUID, bool) { return id, true })
}
