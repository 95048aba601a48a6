package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"molttok/internal/metrics"
	"molttok/internal/models"
)

const searchLimit = 20

type SearchResults struct {
	Agents []models.Agent `json:"agents"`
	Posts  []models.Post  `json:"posts"`
}

type SearchService struct {
	deps *Dependencies
}

func NewSearchService(deps *Dependencies) *SearchService {
	return &SearchService{deps: deps}
}

// Search matches agents by username or display name and posts by title or
// content. kind is "agents", "posts" or anything else for both. The search
// index is used when configured; if it fails the repository answers instead.
func (s *SearchService) Search(ctx context.Context, q, kind string) (*SearchResults, error) {
	results := &SearchResults{Agents: []models.Agent{}, Posts: []models.Post{}}
	term := strings.ToLower(strings.TrimSpace(q))
	if term == "" {
		return results, nil
	}

	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "posts" {
		agents, err := s.agents(ctx, term)
		if err != nil {
			return nil, err
		}
		results.Agents = agents
	}
	if kind != "agents" {
		posts, err := s.posts(ctx, term)
		if err != nil {
			return nil, err
		}
		results.Posts = posts
	}
	return results, nil
}

func (s *SearchService) agents(ctx context.Context, term string) ([]models.Agent, error) {
	if s.deps.Index != nil {
		ids, err := s.deps.Index.SearchAgents(ctx, term, searchLimit)
		if err == nil {
			agents, err := s.deps.Agents.GetAgentsByIDs(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("failed to load agents: %w", err)
			}
			return orderByIDs(ids, agents, func(a models.Agent) uuid.UUID { return a.ID }), nil
		}
		s.fallback(ctx, "agents", err)
	}

	agents, err := s.deps.Agents.SearchAgents(ctx, term, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search agents: %w", err)
	}
	return lo.Ternary(agents == nil, []models.Agent{}, agents), nil
}

func (s *SearchService) posts(ctx context.Context, term string) ([]models.Post, error) {
	if s.deps.Index != nil {
		ids, err := s.deps.Index.SearchPosts(ctx, term, searchLimit)
		if err == nil {
			posts, err := s.deps.Posts.GetPostsByIDs(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("failed to load posts: %w", err)
			}
			return orderByIDs(ids, posts, func(p models.Post) uuid.UUID { return p.ID }), nil
		}
		s.fallback(ctx, "posts", err)
	}

	posts, err := s.deps.Posts.SearchPosts(ctx, term, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search posts: %w", err)
	}
	return lo.Ternary(posts == nil, []models.Post{}, posts), nil
}

func (s *SearchService) fallback(ctx context.Context, kind string, err error) {
	metrics.SideEffectFailures.WithLabelValues("search_query").Inc()
	s.deps.logger(ctx).Warn("Search index query failed, falling back to repository",
		zap.String("kind", kind), zap.Error(err))
}

// orderByIDs returns items in the order of ids, dropping ids with no item.
func orderByIDs[T any](ids []uuid.UUID, items []T, id func(T) uuid.UUID) []T {
	byID := lo.KeyBy(items, id)
	out := make([]T, 0, len(ids))
	for _, want := range ids {
		if it, ok := byID[want]; ok {
			out = append(out, it)
		}
	}
	return out
}
