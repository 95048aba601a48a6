package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"molttok/internal/feed"
	"molttok/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type AgentRepository interface {
	// CreateAgent stores the agent and its credential together. A taken
	// username yields ErrDuplicate.
	CreateAgent(ctx context.Context, agent *models.Agent, cred *models.Credential) error
	GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetAgentByUsername(ctx context.Context, username string) (*models.Agent, error)
	GetAgentsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Agent, error)
	GetCredential(ctx context.Context, agentID uuid.UUID) (*models.Credential, error)
	UpdateAgent(ctx context.Context, id uuid.UUID, update models.AgentUpdate) (*models.Agent, error)
	SearchAgents(ctx context.Context, term string, limit int) ([]models.Agent, error)
	HealthCheck(ctx context.Context) error
}

type PostRepository interface {
	CreatePost(ctx context.Context, post *models.Post) error
	// GetPost loads the post with its author.
	GetPost(ctx context.Context, id uuid.UUID) (*models.Post, error)
	GetPostsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Post, error)
	DeletePost(ctx context.Context, id uuid.UUID) error
	// ListFeed returns one page of posts, with authors, as described by q.
	ListFeed(ctx context.Context, q feed.Query) ([]models.Post, error)
	ListPostsByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Post, error)
	SearchPosts(ctx context.Context, term string, limit int) ([]models.Post, error)
	IncrementAnonymousLikes(ctx context.Context, postID uuid.UUID) error
}

// SocialRepository owns likes, bookmarks, follows and comments, and keeps the
// denormalised counters on posts and agents in step with them.
type SocialRepository interface {
	CreateLike(ctx context.Context, like *models.Like) error
	DeleteLike(ctx context.Context, postID, agentID uuid.UUID) error
	CreateBookmark(ctx context.Context, bookmark *models.Bookmark) error
	DeleteBookmark(ctx context.Context, postID, agentID uuid.UUID) error
	CreateFollow(ctx context.Context, follow *models.Follow) error
	DeleteFollow(ctx context.Context, agentID, followingID uuid.UUID) error
	CreateComment(ctx context.Context, comment *models.Comment) error
	ListComments(ctx context.Context, postID uuid.UUID) ([]models.Comment, error)

	// Membership lookups are restricted to the ids passed in.
	LikedPostIDs(ctx context.Context, agentID uuid.UUID, postIDs []uuid.UUID) ([]uuid.UUID, error)
	BookmarkedPostIDs(ctx context.Context, agentID uuid.UUID, postIDs []uuid.UUID) ([]uuid.UUID, error)
	FollowedAgentIDs(ctx context.Context, agentID uuid.UUID, candidates []uuid.UUID) ([]uuid.UUID, error)

	FollowingIDs(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error)
	FollowerIDs(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error)
}

type NotificationRepository interface {
	CreateNotifications(ctx context.Context, notifications []models.Notification) error
	ListNotifications(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, agentID uuid.UUID) (int64, error)
	MarkAllRead(ctx context.Context, agentID uuid.UUID) error
}

// SessionStore maps opaque bearer tokens to sessions. Sessions vanish once
// their ExpiresAt has passed.
type SessionStore interface {
	SaveSession(ctx context.Context, token string, session models.Session) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	// TakeSession returns and removes the session in one step, so a token can
	// be consumed only once.
	TakeSession(ctx context.Context, token string) (*models.Session, error)
}
