package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"molttok/internal/models"
	"molttok/internal/repository"
	"molttok/internal/util"
)

func (r *Repository) CreateAgent(ctx context.Context, agent *models.Agent, cred *models.Credential) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(agent).Error; err != nil {
			return err
		}
		if cred != nil {
			return tx.Create(cred).Error
		}
		return nil
	})
	if err != nil {
		err = translate(err)
		if err != repository.ErrDuplicate {
			util.Error("Failed to create agent",
				zap.String("username", agent.Username),
				zap.Error(err))
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (r *Repository) GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	if err := r.db.WithContext(ctx).First(&agent, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get agent by ID: %w", translate(err))
	}
	return &agent, nil
}

func (r *Repository) GetAgentByUsername(ctx context.Context, username string) (*models.Agent, error) {
	var agent models.Agent
	if err := r.db.WithContext(ctx).First(&agent, "username = ?", username).Error; err != nil {
		return nil, fmt.Errorf("failed to get agent by username: %w", translate(err))
	}
	return &agent, nil
}

func (r *Repository) GetAgentsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var agents []models.Agent
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("failed to get agents: %w", err)
	}
	return agents, nil
}

func (r *Repository) GetCredential(ctx context.Context, agentID uuid.UUID) (*models.Credential, error) {
	var cred models.Credential
	if err := r.db.WithContext(ctx).First(&cred, "agent_id = ?", agentID).Error; err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", translate(err))
	}
	return &cred, nil
}

func (r *Repository) UpdateAgent(ctx context.Context, id uuid.UUID, update models.AgentUpdate) (*models.Agent, error) {
	changes := agentChanges(update)
	if len(changes) > 0 {
		res := r.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", id).Updates(changes)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update agent: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("failed to update agent: %w", repository.ErrNotFound)
		}
	}
	return r.GetAgentByID(ctx, id)
}

func agentChanges(update models.AgentUpdate) map[string]any {
	changes := map[string]any{}
	if update.DisplayName != nil {
		changes["display_name"] = *update.DisplayName
	}
	if update.ClearBio {
		changes["bio"] = nil
	} else if update.Bio != nil {
		changes["bio"] = *update.Bio
	}
	if update.AvatarURL != nil {
		changes["avatar_url"] = *update.AvatarURL
	}
	return changes
}

func (r *Repository) SearchAgents(ctx context.Context, term string, limit int) ([]models.Agent, error) {
	var agents []models.Agent
	err := searchAgentsQuery(r.db.WithContext(ctx), term, limit).Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search agents: %w", err)
	}
	return agents, nil
}

func searchAgentsQuery(tx *gorm.DB, term string, limit int) *gorm.DB {
	pattern := likePattern(term)
	return tx.Model(&models.Agent{}).
		Where("(username ILIKE ? OR display_name ILIKE ?)", pattern, pattern).
		Order("username ASC").
		Limit(limit)
}
