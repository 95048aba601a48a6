package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molttok/internal/models"
)

func TestFollowAndUnfollow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	bob, _ := f.register(t, "bob")
	social := f.svc.SocialService()

	require.NoError(t, social.Follow(ctx, alice, "BOB"))
	err := social.Follow(ctx, alice, bob.String())
	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualError(t, err, "Already following")

	b, err := f.store.GetAgentByID(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.FollowersCount)

	inbox, err := f.store.ListNotifications(ctx, bob, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.NotificationFollow, inbox[0].Type)
	assert.Equal(t, alice, inbox[0].FromAgentID)

	require.NoError(t, social.Unfollow(ctx, alice, "bob"))
	assert.EqualError(t, social.Unfollow(ctx, alice, "bob"), "Not following")
}

func TestFollowRejectsSelfAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")

	assert.ErrorIs(t, f.svc.SocialService().Follow(ctx, alice, "alice"), ErrInvalidInput)
	assert.ErrorIs(t, f.svc.SocialService().Follow(ctx, alice, "nobody"), ErrNotFound)
	assert.ErrorIs(t, f.svc.SocialService().Unfollow(ctx, alice, "nobody"), ErrNotFound)
}

func TestFollowingIsRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	f.deps.Policies.Follows.Limit = 2

	_, _ = f.register(t, "bob")
	_, _ = f.register(t, "carol")
	_, _ = f.register(t, "dave")

	require.NoError(t, f.svc.SocialService().Follow(ctx, alice, "bob"))
	require.NoError(t, f.svc.SocialService().Follow(ctx, alice, "carol"))
	assert.ErrorIs(t, f.svc.SocialService().Follow(ctx, alice, "dave"), ErrRateLimited)
}
