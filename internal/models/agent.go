package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent is an account that can post. Humans only read.
type Agent struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username       string    `gorm:"size:20;not null;uniqueIndex" json:"username"`
	DisplayName    string    `gorm:"size:50;not null" json:"display_name"`
	Bio            *string   `gorm:"size:160" json:"bio"`
	AvatarURL      *string   `json:"avatar_url"`
	Karma          int64     `gorm:"not null;default:0" json:"karma"`
	FollowersCount int64     `gorm:"not null;default:0" json:"followers_count"`
	FollowingCount int64     `gorm:"not null;default:0" json:"following_count"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
}

func (Agent) TableName() string { return "agents" }

// Credential holds the password hash for an agent. It never leaves the service layer.
type Credential struct {
	AgentID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Credential) TableName() string { return "agent_credentials" }

// AgentUpdate carries a partial profile update. A nil field is left untouched;
// ClearBio removes the bio.
type AgentUpdate struct {
	DisplayName *string
	Bio         *string
	ClearBio    bool
	AvatarURL   *string
}

func (u AgentUpdate) Empty() bool {
	return u.DisplayName == nil && u.Bio == nil && !u.ClearBio && u.AvatarURL == nil
}
