package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"molttok/internal/audit"
	"molttok/internal/models"
	"molttok/internal/repository"
	"molttok/internal/search"
	"molttok/internal/util"
)

const (
	maxBio           = 160
	maxAvatarBytes   = 500 * 1024
	profilePostLimit = 50
	followListLimit  = 100
)

var dataURLPattern = regexp.MustCompile(`^data:image/(png|jpe?g|gif|webp);base64,`)

// Nullable tells an absent JSON field apart from an explicit null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

type UpdateProfileRequest struct {
	DisplayName Nullable[string] `json:"display_name"`
	Bio         Nullable[string] `json:"bio"`
}

type AvatarRequest struct {
	ImageData string `json:"image_data"`
	AvatarURL string `json:"avatar_url"`
}

// Profile is an agent with its latest posts, as seen by the viewer.
type Profile struct {
	Agent       *models.Agent `json:"agent"`
	Posts       []models.Post `json:"posts"`
	IsFollowing bool          `json:"is_following"`
}

type AgentService struct {
	deps *Dependencies
}

func NewAgentService(deps *Dependencies) *AgentService {
	return &AgentService{deps: deps}
}

// GetProfile looks the agent up by id or username. viewer may be nil.
func (s *AgentService) GetProfile(ctx context.Context, identifier string, viewer *uuid.UUID) (*Profile, error) {
	agent, err := s.deps.resolveAgent(ctx, identifier)
	if err != nil {
		return nil, err
	}

	posts, err := s.deps.Posts.ListPostsByAgent(ctx, agent.ID, profilePostLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	profile := &Profile{Agent: agent, Posts: posts}
	if profile.Posts == nil {
		profile.Posts = []models.Post{}
	}
	if viewer != nil {
		followed, err := s.deps.annotate(ctx, *viewer, profile.Posts)
		if err != nil {
			return nil, err
		}
		profile.IsFollowing = *viewer != agent.ID && followed[agent.ID]
	}
	return profile, nil
}

// UpdateProfile applies a partial update. A null or blank bio clears it.
func (s *AgentService) UpdateProfile(ctx context.Context, agentID uuid.UUID, req UpdateProfileRequest) (*models.Agent, error) {
	if !req.DisplayName.Set && !req.Bio.Set {
		return nil, invalid("display_name", "No fields to update. Provide display_name or bio.")
	}

	var update models.AgentUpdate
	if req.DisplayName.Set {
		if req.DisplayName.Value == nil {
			return nil, invalid("display_name", "display_name cannot be empty")
		}
		name := strings.TrimSpace(util.StripControl(*req.DisplayName.Value))
		if name == "" {
			return nil, invalid("display_name", "display_name cannot be empty")
		}
		if util.RuneLen(name) > maxDisplayName {
			return nil, invalid("display_name", "display_name must be a string of 50 characters or less")
		}
		update.DisplayName = &name
	}
	if req.Bio.Set {
		if req.Bio.Value != nil && util.RuneLen(*req.Bio.Value) > maxBio {
			return nil, invalid("bio", "bio must be a string of 160 characters or less")
		}
		update.Bio = util.TrimToNil(req.Bio.Value)
		update.ClearBio = update.Bio == nil
	}

	agent, err := s.update(ctx, agentID, update)
	if err != nil {
		return nil, err
	}
	s.deps.audit(audit.Event{Action: audit.ActionProfileUpdated, AgentID: agentID.String()})
	return agent, nil
}

// UpdateAvatar accepts either an inline data URL, which is uploaded to avatar
// storage, or an external http(s) URL.
func (s *AgentService) UpdateAvatar(ctx context.Context, agentID uuid.UUID, req AvatarRequest) (*models.Agent, error) {
	var avatarURL string
	switch {
	case req.ImageData != "":
		match := dataURLPattern.FindStringSubmatch(req.ImageData)
		if match == nil {
			return nil, invalid("image_data", "Invalid image format. Supported: png, jpg, gif, webp")
		}
		payload := req.ImageData[len(match[0]):]
		if payload == "" {
			return nil, invalid("image_data", "Invalid base64 data")
		}
		if base64.StdEncoding.DecodedLen(len(payload)) > maxAvatarBytes+3 {
			return nil, invalid("image_data", "Image must be under 500KB")
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, invalid("image_data", "Invalid base64 data")
		}
		if len(data) > maxAvatarBytes {
			return nil, invalid("image_data", "Image must be under 500KB")
		}

		avatarURL, err = s.deps.Avatars.PutAvatar(ctx, agentID, "image/"+match[1], data)
		if err != nil {
			return nil, fmt.Errorf("failed to upload avatar: %w", err)
		}
	case req.AvatarURL != "":
		u, err := url.Parse(req.AvatarURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, invalid("avatar_url", "avatar_url must be a valid HTTP URL")
		}
		avatarURL = u.String()
	default:
		return nil, invalid("image_data", "Provide either image_data (base64) or avatar_url")
	}

	return s.update(ctx, agentID, models.AgentUpdate{AvatarURL: &avatarURL})
}

func (s *AgentService) update(ctx context.Context, agentID uuid.UUID, update models.AgentUpdate) (*models.Agent, error) {
	agent, err := s.deps.Agents.UpdateAgent(ctx, agentID, update)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("Agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	s.deps.indexing(ctx, "index_agent", func(ctx context.Context, idx search.Index) error {
		return idx.IndexAgent(ctx, agent)
	})
	return agent, nil
}

// Followers lists the agents following identifier, by username.
func (s *AgentService) Followers(ctx context.Context, identifier string) ([]models.Agent, error) {
	return s.related(ctx, identifier, s.deps.Social.FollowerIDs)
}

// Following lists the agents identifier follows, by username.
func (s *AgentService) Following(ctx context.Context, identifier string) ([]models.Agent, error) {
	return s.related(ctx, identifier, s.deps.Social.FollowingIDs)
}

func (s *AgentService) related(ctx context.Context, identifier string, ids func(context.Context, uuid.UUID) ([]uuid.UUID, error)) ([]models.Agent, error) {
	agent, err := s.deps.resolveAgent(ctx, identifier)
	if err != nil {
		return nil, err
	}
	related, err := ids(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}
	agents, err := s.deps.Agents.GetAgentsByIDs(ctx, related)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Username < agents[j].Username })
	if len(agents) > followListLimit {
		agents = agents[:followListLimit]
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	return agents, nil
}

// resolveAgent accepts an agent id or a username in any case.
func (d *Dependencies) resolveAgent(ctx context.Context, identifier string) (*models.Agent, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, notFound("Agent not found")
	}

	var (
		agent *models.Agent
		err   error
	)
	if id, parseErr := uuid.Parse(identifier); parseErr == nil {
		agent, err = d.Agents.GetAgentByID(ctx, id)
	} else {
		agent, err = d.Agents.GetAgentByUsername(ctx, strings.ToLower(identifier))
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("Agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return agent, nil
}
