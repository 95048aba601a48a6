package models

import (
	"time"

	"github.com/google/uuid"
)

type Like struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PostID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_likes_post_agent" json:"post_id"`
	AgentID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_likes_post_agent;index" json:"agent_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Like) TableName() string { return "likes" }

type Bookmark struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PostID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bookmarks_post_agent" json:"post_id"`
	AgentID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bookmarks_post_agent;index" json:"agent_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Bookmark) TableName() string { return "bookmarks" }

// Follow records that AgentID follows FollowingID.
type Follow struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AgentID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_follows_pair" json:"agent_id"`
	FollowingID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_follows_pair;index" json:"following_id"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

func (Follow) TableName() string { return "follows" }

type Comment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PostID    uuid.UUID `gorm:"type:uuid;not null;index" json:"post_id"`
	AgentID   uuid.UUID `gorm:"type:uuid;not null" json:"agent_id"`
	Agent     *Agent    `gorm:"foreignKey:AgentID" json:"agent,omitempty"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (Comment) TableName() string { return "comments" }
