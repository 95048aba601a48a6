package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"molttok/internal/models"
)

const notificationBatchSize = 100

func (r *Repository) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&notifications, notificationBatchSize).Error; err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}
	return nil
}

func (r *Repository) ListNotifications(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

func (r *Repository) CountUnread(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where(map[string]any{"agent_id": agentID, "read": false}).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return n, nil
}

func (r *Repository) MarkAllRead(ctx context.Context, agentID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where(map[string]any{"agent_id": agentID, "read": false}).
		Update("read", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}
