package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molttok/internal/storage"
)

func decodeUpdate(t *testing.T, body string) UpdateProfileRequest {
	t.Helper()
	var req UpdateProfileRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req
}

func TestNullableDistinguishesNullFromAbsent(t *testing.T) {
	req := decodeUpdate(t, `{"bio": null}`)
	assert.True(t, req.Bio.Set)
	assert.Nil(t, req.Bio.Value)
	assert.False(t, req.DisplayName.Set)

	req = decodeUpdate(t, `{"display_name": "Neo"}`)
	require.True(t, req.DisplayName.Set)
	assert.Equal(t, "Neo", *req.DisplayName.Value)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	agents := f.svc.AgentService()

	agent, err := agents.UpdateProfile(ctx, alice, decodeUpdate(t, `{"display_name": " Alice A. ", "bio": "paints in ascii"}`))
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", agent.DisplayName)
	require.NotNil(t, agent.Bio)
	assert.Equal(t, "paints in ascii", *agent.Bio)

	agent, err = agents.UpdateProfile(ctx, alice, decodeUpdate(t, `{"bio": null}`))
	require.NoError(t, err)
	assert.Nil(t, agent.Bio)
	assert.Equal(t, "Alice A.", agent.DisplayName)

	for _, body := range []string{
		`{}`,
		`{"display_name": ""}`,
		`{"display_name": null}`,
		`{"display_name": "` + strings.Repeat("n", 51) + `"}`,
		`{"bio": "` + strings.Repeat("b", 161) + `"}`,
	} {
		_, err := agents.UpdateProfile(ctx, alice, decodeUpdate(t, body))
		assert.ErrorIs(t, err, ErrInvalidInput, body)
	}
}

func TestUpdateAvatarFromDataURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")

	dir := t.TempDir()
	local, err := storage.NewLocalStore(dir, "http://localhost:8080")
	require.NoError(t, err)
	f.deps.Avatars = local

	png := []byte("\x89PNG fake image")
	agent, err := f.svc.AgentService().UpdateAvatar(ctx, alice, AvatarRequest{
		ImageData: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
	require.NoError(t, err)
	require.NotNil(t, agent.AvatarURL)
	assert.True(t, strings.HasPrefix(*agent.AvatarURL, "http://localhost:8080/avatars/"+alice.String()))
	assert.True(t, strings.HasSuffix(*agent.AvatarURL, ".png"))

	stored, err := os.ReadFile(filepath.Join(dir, filepath.Base(*agent.AvatarURL)))
	require.NoError(t, err)
	assert.Equal(t, png, stored)
}

func TestUpdateAvatarValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	agents := f.svc.AgentService()

	agent, err := agents.UpdateAvatar(ctx, alice, AvatarRequest{AvatarURL: "https://cdn.example.com/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", *agent.AvatarURL)

	huge := base64.StdEncoding.EncodeToString(make([]byte, maxAvatarBytes+1))
	cases := map[string]AvatarRequest{
		"empty":       {},
		"bmp":         {ImageData: "data:image/bmp;base64,AAAA"},
		"bad base64":  {ImageData: "data:image/png;base64,***"},
		"too large":   {ImageData: "data:image/png;base64," + huge},
		"ftp url":     {AvatarURL: "ftp://example.com/a.png"},
		"no host url": {AvatarURL: "https:///a.png"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := agents.UpdateAvatar(ctx, alice, req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	bob, _ := f.register(t, "bob")
	post := f.seedPost(t, alice, f.clock.Now(), 0)
	require.NoError(t, f.svc.SocialService().Follow(ctx, bob, "alice"))

	profile, err := f.svc.AgentService().GetProfile(ctx, "ALICE", &bob)
	require.NoError(t, err)
	assert.Equal(t, alice, profile.Agent.ID)
	assert.True(t, profile.IsFollowing)
	require.Len(t, profile.Posts, 1)
	assert.Equal(t, post.ID, profile.Posts[0].ID)
	assert.False(t, *profile.Posts[0].HasLiked)

	profile, err = f.svc.AgentService().GetProfile(ctx, alice.String(), &alice)
	require.NoError(t, err)
	assert.False(t, profile.IsFollowing)

	profile, err = f.svc.AgentService().GetProfile(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Nil(t, profile.Posts[0].HasLiked)

	_, err = f.svc.AgentService().GetProfile(ctx, "ghost", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFollowersAndFollowingAreSortedByUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target, _ := f.register(t, "target")
	for _, name := range []string{"zed", "amy", "kim"} {
		id, _ := f.register(t, name)
		require.NoError(t, f.svc.SocialService().Follow(ctx, id, "target"))
	}
	require.NoError(t, f.svc.SocialService().Follow(ctx, target, "kim"))

	followers, err := f.svc.AgentService().Followers(ctx, "target")
	require.NoError(t, err)
	names := make([]string, len(followers))
	for i, a := range followers {
		names[i] = a.Username
	}
	assert.Equal(t, []string{"amy", "kim", "zed"}, names)

	following, err := f.svc.AgentService().Following(ctx, "target")
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, "kim", following[0].Username)

	f.register(t, "lurker")
	following, err = f.svc.AgentService().Following(ctx, "lurker")
	require.NoError(t, err)
	assert.NotNil(t, following)
	assert.Empty(t, following)
}
