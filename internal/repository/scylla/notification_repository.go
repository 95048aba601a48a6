package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"molttok/internal/models"
	"molttok/internal/repository"
	"molttok/internal/util"
)

// markReadBatchSize bounds the statements per batch. All rows in a batch share
// the agent's partition.
const markReadBatchSize = 100

// NotificationRepository stores each agent's inbox in a single partition,
// newest first.
type NotificationRepository struct {
	client *ScyllaClient
}

var _ repository.NotificationRepository = (*NotificationRepository)(nil)

func NewNotificationRepository(client *ScyllaClient) *NotificationRepository {
	return &NotificationRepository{client: client}
}

func (r *NotificationRepository) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	for _, n := range notifications {
		err := r.client.Query(ctx, r.client.Statements.InsertNotification, insertArgs(n)...).Exec()
		if err != nil {
			util.Error("Failed to create notification",
				zap.String("agent_id", n.AgentID.String()),
				zap.String("type", string(n.Type)),
				zap.Error(err))
			return fmt.Errorf("failed to create notification: %w", err)
		}
	}
	return nil
}

func insertArgs(n models.Notification) []interface{} {
	return []interface{}{
		gocql.UUID(n.AgentID),
		n.CreatedAt,
		gocql.UUID(n.ID),
		string(n.Type),
		gocql.UUID(n.FromAgentID),
		optionalUUID(n.PostID),
		optionalUUID(n.CommentID),
		n.Read,
	}
}

func (r *NotificationRepository) ListNotifications(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Notification, error) {
	iter := r.client.Query(ctx, r.client.Statements.ListNotifications, gocql.UUID(agentID), limit).Iter()

	var (
		out                         []models.Notification
		owner, id, from, post, cmnt gocql.UUID
		row                         models.Notification
		kind                        string
	)
	for iter.Scan(&owner, &row.CreatedAt, &id, &kind, &from, &post, &cmnt, &row.Read) {
		row.AgentID = uuid.UUID(owner)
		row.ID = uuid.UUID(id)
		row.Type = models.NotificationType(kind)
		row.FromAgentID = uuid.UUID(from)
		row.PostID = presentUUID(post)
		row.CommentID = presentUUID(cmnt)
		out = append(out, row)
		row = models.Notification{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var n int64
	err := r.eachUnread(ctx, agentID, func(inboxKey) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, agentID uuid.UUID) error {
	batch := r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	flush := func() error {
		if batch.Size() == 0 {
			return nil
		}
		if err := r.client.Session.ExecuteBatch(batch); err != nil {
			return err
		}
		batch = r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		return nil
	}

	err := r.eachUnread(ctx, agentID, func(row inboxKey) error {
		batch.Query(r.client.Statements.MarkRead, gocql.UUID(agentID), row.createdAt, row.id)
		if batch.Size() >= markReadBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		util.Error("Failed to mark notifications read",
			zap.String("agent_id", agentID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}

// inboxKey is the clustering key of one inbox row.
type inboxKey struct {
	createdAt time.Time
	id        gocql.UUID
}

func (r *NotificationRepository) eachUnread(ctx context.Context, agentID uuid.UUID, fn func(inboxKey) error) error {
	iter := r.client.Query(ctx, r.client.Statements.ListUnread, gocql.UUID(agentID)).Iter()

	var (
		createdAt time.Time
		id        gocql.UUID
		read      bool
	)
	for iter.Scan(&createdAt, &id, &read) {
		if read {
			continue
		}
		if err := fn(inboxKey{createdAt: createdAt, id: id}); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
}

func optionalUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return gocql.UUID(*id)
}

// presentUUID maps the zero UUID that gocql scans for a null column back to nil.
func presentUUID(id gocql.UUID) *uuid.UUID {
	if id == (gocql.UUID{}) {
		return nil
	}
	u := uuid.UUID(id)
	return &u
}
