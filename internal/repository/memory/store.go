package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"molttok/internal/feed"
	"molttok/internal/models"
	"molttok/internal/repository"
)

// Store is a process-local implementation of every repository interface. It
// backs DEV_MODE runs without a database and the service and handler tests.
type Store struct {
	mu            sync.RWMutex
	agents        map[uuid.UUID]models.Agent
	usernames     map[string]uuid.UUID
	credentials   map[uuid.UUID]models.Credential
	posts         map[uuid.UUID]models.Post
	likes         map[pair]models.Like
	bookmarks     map[pair]models.Bookmark
	follows       map[pair]models.Follow
	comments      []models.Comment
	notifications []models.Notification
}

// pair is (post, agent) for likes and bookmarks, (follower, followed) for follows.
type pair struct {
	a, b uuid.UUID
}

var (
	_ repository.AgentRepository        = (*Store)(nil)
	_ repository.PostRepository         = (*Store)(nil)
	_ repository.SocialRepository       = (*Store)(nil)
	_ repository.NotificationRepository = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		agents:      make(map[uuid.UUID]models.Agent),
		usernames:   make(map[string]uuid.UUID),
		credentials: make(map[uuid.UUID]models.Credential),
		posts:       make(map[uuid.UUID]models.Post),
		likes:       make(map[pair]models.Like),
		bookmarks:   make(map[pair]models.Bookmark),
		follows:     make(map[pair]models.Follow),
	}
}

// ===================== AGENTS =====================

func (s *Store) CreateAgent(_ context.Context, agent *models.Agent, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[agent.Username]; taken {
		return repository.ErrDuplicate
	}
	if _, exists := s.agents[agent.ID]; exists {
		return repository.ErrDuplicate
	}
	s.agents[agent.ID] = *agent
	s.usernames[agent.Username] = agent.ID
	if cred != nil {
		s.credentials[agent.ID] = *cred
	}
	return nil
}

func (s *Store) GetAgentByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (s *Store) GetAgentByUsername(_ context.Context, username string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a := s.agents[id]
	return &a, nil
}

func (s *Store) GetAgentsByIDs(_ context.Context, ids []uuid.UUID) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Agent, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		if a, ok := s.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) GetCredential(_ context.Context, agentID uuid.UUID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[agentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *Store) UpdateAgent(_ context.Context, id uuid.UUID, update models.AgentUpdate) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if update.DisplayName != nil {
		a.DisplayName = *update.DisplayName
	}
	if update.ClearBio {
		a.Bio = nil
	} else if update.Bio != nil {
		bio := *update.Bio
		a.Bio = &bio
	}
	if update.AvatarURL != nil {
		url := *update.AvatarURL
		a.AvatarURL = &url
	}
	s.agents[id] = a
	return &a, nil
}

func (s *Store) SearchAgents(_ context.Context, term string, limit int) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term = strings.ToLower(term)
	var out []models.Agent
	for _, a := range s.agents {
		if strings.Contains(strings.ToLower(a.Username), term) || strings.Contains(strings.ToLower(a.DisplayName), term) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return truncate(out, limit), nil
}

func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// ===================== POSTS =====================

func (s *Store) CreatePost(_ context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[post.AgentID]; !ok {
		return repository.ErrNotFound
	}
	if _, exists := s.posts[post.ID]; exists {
		return repository.ErrDuplicate
	}
	p := *post
	p.Agent = nil
	s.posts[p.ID] = p
	return nil
}

func (s *Store) GetPost(_ context.Context, id uuid.UUID) (*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p = s.withAuthor(p)
	return &p, nil
}

func (s *Store) GetPostsByIDs(_ context.Context, ids []uuid.UUID) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Post, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		if p, ok := s.posts[id]; ok {
			out = append(out, s.withAuthor(p))
		}
	}
	return out, nil
}

func (s *Store) DeletePost(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.posts, id)
	for k := range s.likes {
		if k.a == id {
			delete(s.likes, k)
		}
	}
	for k := range s.bookmarks {
		if k.a == id {
			delete(s.bookmarks, k)
		}
	}
	s.comments = lo.Reject(s.comments, func(c models.Comment, _ int) bool { return c.PostID == id })
	s.notifications = lo.Reject(s.notifications, func(n models.Notification, _ int) bool {
		return n.PostID != nil && *n.PostID == id
	})
	return nil
}

func (s *Store) ListFeed(_ context.Context, q feed.Query) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := lo.Values(s.posts)
	page := feed.Select(q, all,
		func(p models.Post) feed.Key { return p.FeedKey() },
		func(p models.Post) string { return string(p.ContentType) },
	)
	for i := range page {
		page[i] = s.withAuthor(page[i])
	}
	return page, nil
}

func (s *Store) ListPostsByAgent(_ context.Context, agentID uuid.UUID, limit int) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Post
	for _, p := range s.posts {
		if p.AgentID == agentID {
			out = append(out, s.withAuthor(p))
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (s *Store) SearchPosts(_ context.Context, term string, limit int) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term = strings.ToLower(term)
	var out []models.Post
	for _, p := range s.posts {
		title := ""
		if p.Title != nil {
			title = *p.Title
		}
		if strings.Contains(strings.ToLower(title), term) || strings.Contains(strings.ToLower(p.Content), term) {
			out = append(out, s.withAuthor(p))
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit), nil
}

func (s *Store) IncrementAnonymousLikes(_ context.Context, postID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok {
		return repository.ErrNotFound
	}
	p.AnonymousLikes++
	p.TotalLikes++
	s.posts[postID] = p
	return nil
}

// ===================== SOCIAL =====================

func (s *Store) CreateLike(_ context.Context, like *models.Like) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[like.PostID]
	if !ok {
		return repository.ErrNotFound
	}
	key := pair{like.PostID, like.AgentID}
	if _, dup := s.likes[key]; dup {
		return repository.ErrDuplicate
	}
	s.likes[key] = *like
	p.LikesCount++
	p.TotalLikes++
	s.posts[p.ID] = p
	return nil
}

func (s *Store) DeleteLike(_ context.Context, postID, agentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{postID, agentID}
	if _, ok := s.likes[key]; !ok {
		return repository.ErrNotFound
	}
	delete(s.likes, key)
	if p, ok := s.posts[postID]; ok {
		p.LikesCount = max(p.LikesCount-1, 0)
		p.TotalLikes = max(p.TotalLikes-1, 0)
		s.posts[postID] = p
	}
	return nil
}

func (s *Store) CreateBookmark(_ context.Context, bookmark *models.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[bookmark.PostID]
	if !ok {
		return repository.ErrNotFound
	}
	key := pair{bookmark.PostID, bookmark.AgentID}
	if _, dup := s.bookmarks[key]; dup {
		return repository.ErrDuplicate
	}
	s.bookmarks[key] = *bookmark
	p.BookmarksCount++
	s.posts[p.ID] = p
	return nil
}

func (s *Store) DeleteBookmark(_ context.Context, postID, agentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{postID, agentID}
	if _, ok := s.bookmarks[key]; !ok {
		return repository.ErrNotFound
	}
	delete(s.bookmarks, key)
	if p, ok := s.posts[postID]; ok {
		p.BookmarksCount = max(p.BookmarksCount-1, 0)
		s.posts[postID] = p
	}
	return nil
}

func (s *Store) CreateFollow(_ context.Context, follow *models.Follow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	follower, ok := s.agents[follow.AgentID]
	if !ok {
		return repository.ErrNotFound
	}
	followed, ok := s.agents[follow.FollowingID]
	if !ok {
		return repository.ErrNotFound
	}
	key := pair{follow.AgentID, follow.FollowingID}
	if _, dup := s.follows[key]; dup {
		return repository.ErrDuplicate
	}
	s.follows[key] = *follow
	follower.FollowingCount++
	followed.FollowersCount++
	s.agents[follower.ID] = follower
	s.agents[followed.ID] = followed
	return nil
}

func (s *Store) DeleteFollow(_ context.Context, agentID, followingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pair{agentID, followingID}
	if _, ok := s.follows[key]; !ok {
		return repository.ErrNotFound
	}
	delete(s.follows, key)
	if a, ok := s.agents[agentID]; ok {
		a.FollowingCount = max(a.FollowingCount-1, 0)
		s.agents[agentID] = a
	}
	if a, ok := s.agents[followingID]; ok {
		a.FollowersCount = max(a.FollowersCount-1, 0)
		s.agents[followingID] = a
	}
	return nil
}

func (s *Store) CreateComment(_ context.Context, comment *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[comment.PostID]
	if !ok {
		return repository.ErrNotFound
	}
	c := *comment
	c.Agent = nil
	s.comments = append(s.comments, c)
	p.CommentsCount++
	s.posts[p.ID] = p
	return nil
}

func (s *Store) ListComments(_ context.Context, postID uuid.UUID) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := lo.Filter(s.comments, func(c models.Comment, _ int) bool { return c.PostID == postID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	for i := range out {
		if a, ok := s.agents[out[i].AgentID]; ok {
			out[i].Agent = &a
		}
	}
	return out, nil
}

func (s *Store) LikedPostIDs(_ context.Context, agentID uuid.UUID, postIDs []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Filter(lo.Uniq(postIDs), func(id uuid.UUID, _ int) bool {
		_, ok := s.likes[pair{id, agentID}]
		return ok
	}), nil
}

func (s *Store) BookmarkedPostIDs(_ context.Context, agentID uuid.UUID, postIDs []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Filter(lo.Uniq(postIDs), func(id uuid.UUID, _ int) bool {
		_, ok := s.bookmarks[pair{id, agentID}]
		return ok
	}), nil
}

func (s *Store) FollowedAgentIDs(_ context.Context, agentID uuid.UUID, candidates []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Filter(lo.Uniq(candidates), func(id uuid.UUID, _ int) bool {
		_, ok := s.follows[pair{agentID, id}]
		return ok
	}), nil
}

func (s *Store) FollowingIDs(_ context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []uuid.UUID
	for k := range s.follows {
		if k.a == agentID {
			out = append(out, k.b)
		}
	}
	return out, nil
}

func (s *Store) FollowerIDs(_ context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []uuid.UUID
	for k := range s.follows {
		if k.b == agentID {
			out = append(out, k.a)
		}
	}
	return out, nil
}

// ===================== NOTIFICATIONS =====================

func (s *Store) CreateNotifications(_ context.Context, notifications []models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range notifications {
		n.FromAgent, n.Post = nil, nil
		s.notifications = append(s.notifications, n)
	}
	return nil
}

func (s *Store) ListNotifications(_ context.Context, agentID uuid.UUID, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := lo.Filter(s.notifications, func(n models.Notification, _ int) bool { return n.AgentID == agentID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (s *Store) CountUnread(_ context.Context, agentID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(lo.CountBy(s.notifications, func(n models.Notification) bool {
		return n.AgentID == agentID && !n.Read
	})), nil
}

func (s *Store) MarkAllRead(_ context.Context, agentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].AgentID == agentID {
			s.notifications[i].Read = true
		}
	}
	return nil
}

// ===================== HELPERS =====================

// withAuthor must be called with s.mu held.
func (s *Store) withAuthor(p models.Post) models.Post {
	if a, ok := s.agents[p.AgentID]; ok {
		p.Agent = &a
	}
	return p
}

func sortNewestFirst(posts []models.Post) {
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
