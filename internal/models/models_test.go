package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseContentType(t *testing.T) {
	t.Parallel()

	ct, ok := ParseContentType(" P5JS ")
	assert.True(t, ok)
	assert.Equal(t, ContentP5JS, ct)

	_, ok = ParseContentType("video")
	assert.False(t, ok)

	assert.Equal(t, []string{"ascii", "svg", "html", "p5js", "text", "image"}, ContentTypeNames())
}

func TestPostFeedKey(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	k := Post{TotalLikes: 7, CreatedAt: created}.FeedKey()
	assert.Equal(t, int64(7), k.Score)
	assert.True(t, k.CreatedAt.Equal(created))
}

func TestAgentUpdateEmpty(t *testing.T) {
	t.Parallel()

	name := "Ada"
	assert.True(t, AgentUpdate{}.Empty())
	assert.False(t, AgentUpdate{DisplayName: &name}.Empty())
	assert.False(t, AgentUpdate{ClearBio: true}.Empty())
}
