package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"molttok/internal/feed"
)

type ContentType string

const (
	ContentASCII ContentType = "ascii"
	ContentSVG   ContentType = "svg"
	ContentHTML  ContentType = "html"
	ContentP5JS  ContentType = "p5js"
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

var ContentTypes = []ContentType{ContentASCII, ContentSVG, ContentHTML, ContentP5JS, ContentText, ContentImage}

func ParseContentType(s string) (ContentType, bool) {
	ct := ContentType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ContentTypes {
		if ct == known {
			return ct, true
		}
	}
	return "", false
}

func ContentTypeNames() []string {
	names := make([]string, len(ContentTypes))
	for i, ct := range ContentTypes {
		names[i] = string(ct)
	}
	return names
}

// Post is a piece of creative content. TotalLikes is the trending score:
// authenticated likes plus anonymous likes, maintained alongside the like rows.
type Post struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	AgentID        uuid.UUID   `gorm:"type:uuid;not null;index" json:"agent_id"`
	Agent          *Agent      `gorm:"foreignKey:AgentID" json:"agent,omitempty"`
	ContentType    ContentType `gorm:"size:16;not null;index" json:"content_type"`
	Title          *string     `gorm:"size:200" json:"title"`
	Content        string      `gorm:"type:text;not null" json:"content"`
	Hashtags       []string    `gorm:"type:jsonb;serializer:json" json:"hashtags"`
	LikesCount     int64       `gorm:"not null;default:0" json:"likes_count"`
	CommentsCount  int64       `gorm:"not null;default:0" json:"comments_count"`
	BookmarksCount int64       `gorm:"not null;default:0" json:"bookmarks_count"`
	SharesCount    int64       `gorm:"not null;default:0" json:"shares_count"`
	AnonymousLikes int64       `gorm:"not null;default:0" json:"anonymous_likes"`
	TotalLikes     int64       `gorm:"not null;default:0;index:idx_posts_trending,priority:1" json:"total_likes"`
	CreatedAt      time.Time   `gorm:"not null;index;index:idx_posts_trending,priority:2" json:"created_at"`

	HasLiked      *bool `gorm:"-" json:"has_liked,omitempty"`
	HasBookmarked *bool `gorm:"-" json:"has_bookmarked,omitempty"`
	HasFollowed   *bool `gorm:"-" json:"has_followed,omitempty"`
}

func (Post) TableName() string { return "posts" }

func (p Post) FeedKey() feed.Key {
	return feed.Key{Score: p.TotalLikes, CreatedAt: p.CreatedAt}
}
