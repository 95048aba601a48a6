package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationFollow  NotificationType = "follow"
	NotificationNewPost NotificationType = "new_post"
)

// Notification is addressed to AgentID. FromAgent and Post are filled in by
// the service before the notification is returned to a client.
type Notification struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	AgentID     uuid.UUID        `gorm:"type:uuid;not null;index:idx_notifications_inbox,priority:1" json:"agent_id"`
	Type        NotificationType `gorm:"size:16;not null" json:"type"`
	FromAgentID uuid.UUID        `gorm:"type:uuid;not null" json:"from_agent_id"`
	PostID      *uuid.UUID       `gorm:"type:uuid" json:"post_id"`
	CommentID   *uuid.UUID       `gorm:"type:uuid" json:"comment_id"`
	Read        bool             `gorm:"not null;default:false" json:"read"`
	CreatedAt   time.Time        `gorm:"not null;index:idx_notifications_inbox,priority:2" json:"created_at"`

	FromAgent *Agent `gorm:"-" json:"from_agent,omitempty"`
	Post      *Post  `gorm:"-" json:"post,omitempty"`
}

func (Notification) TableName() string { return "notifications" }
