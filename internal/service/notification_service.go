package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"molttok/internal/models"
)

const inboxLimit = 50

type Inbox struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unread_count"`
}

type NotificationService struct {
	deps *Dependencies
}

func NewNotificationService(deps *Dependencies) *NotificationService {
	return &NotificationService{deps: deps}
}

// Inbox returns the latest notifications, newest first, with the sender and
// post filled in, and the number still unread.
func (s *NotificationService) Inbox(ctx context.Context, agentID uuid.UUID) (*Inbox, error) {
	var (
		notifications []models.Notification
		unread        int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		notifications, err = s.deps.Notifications.ListNotifications(gctx, agentID, inboxLimit)
		return err
	})
	g.Go(func() error {
		var err error
		unread, err = s.deps.Notifications.CountUnread(gctx, agentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}

	if err := s.hydrate(ctx, notifications); err != nil {
		return nil, err
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return &Inbox{Notifications: notifications, UnreadCount: unread}, nil
}

func (s *NotificationService) hydrate(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	agentIDs := lo.Uniq(lo.Map(notifications, func(n models.Notification, _ int) uuid.UUID { return n.FromAgentID }))
	postIDs := lo.Uniq(lo.FilterMap(notifications, func(n models.Notification, _ int) (uuid.UUID, bool) {
		if n.PostID == nil {
			return uuid.Nil, false
		}
		return *n.PostID, true
	}))

	var (
		agents []models.Agent
		posts  []models.Post
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agents, err = s.deps.Agents.GetAgentsByIDs(gctx, agentIDs)
		return err
	})
	g.Go(func() error {
		if len(postIDs) == 0 {
			return nil
		}
		var err error
		posts, err = s.deps.Posts.GetPostsByIDs(gctx, postIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to hydrate notifications: %w", err)
	}

	agentsByID := lo.KeyBy(agents, func(a models.Agent) uuid.UUID { return a.ID })
	postsByID := lo.KeyBy(posts, func(p models.Post) uuid.UUID { return p.ID })
	for i := range notifications {
		if a, ok := agentsByID[notifications[i].FromAgentID]; ok {
			notifications[i].FromAgent = &a
		}
		if notifications[i].PostID != nil {
			if p, ok := postsByID[*notifications[i].PostID]; ok {
				notifications[i].Post = &p
			}
		}
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, agentID uuid.UUID) error {
	if err := s.deps.Notifications.MarkAllRead(ctx, agentID); err != nil {
		return fmt.Errorf("failed to mark notifications as read: %w", err)
	}
	return nil
}
