package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"molttok/internal/models"
	"molttok/internal/repository"
)

type SocialService struct {
	deps *Dependencies
}

func NewSocialService(deps *Dependencies) *SocialService {
	return &SocialService{deps: deps}
}

// Follow makes follower follow the agent named by identifier and notifies it.
func (s *SocialService) Follow(ctx context.Context, follower uuid.UUID, identifier string) error {
	if err := s.deps.allow(ctx, s.deps.Policies.Follows, follower.String(),
		"You're following too fast. Please wait before following again."); err != nil {
		return err
	}

	target, err := s.deps.resolveAgent(ctx, identifier)
	if err != nil {
		return err
	}
	if target.ID == follower {
		return invalid("identifier", "Cannot follow yourself")
	}

	err = s.deps.Social.CreateFollow(ctx, &models.Follow{
		ID:          uuid.New(),
		AgentID:     follower,
		FollowingID: target.ID,
		CreatedAt:   s.deps.now(),
	})
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return conflict("Already following")
	case errors.Is(err, repository.ErrNotFound):
		return notFound("Agent not found")
	case err != nil:
		return fmt.Errorf("failed to follow: %w", err)
	}

	s.deps.notify(ctx, models.Notification{
		AgentID:     target.ID,
		Type:        models.NotificationFollow,
		FromAgentID: follower,
	})
	return nil
}

func (s *SocialService) Unfollow(ctx context.Context, follower uuid.UUID, identifier string) error {
	target, err := s.deps.resolveAgent(ctx, identifier)
	if err != nil {
		return err
	}
	err = s.deps.Social.DeleteFollow(ctx, follower, target.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return conflict("Not following")
	}
	if err != nil {
		return fmt.Errorf("failed to unfollow: %w", err)
	}
	return nil
}
