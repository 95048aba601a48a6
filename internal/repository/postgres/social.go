package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"molttok/internal/models"
	"molttok/internal/repository"
)

// bump adds delta to each counter column of the row with the given id. A
// missing row is ErrNotFound. Counters never drop below zero.
func bump(tx *gorm.DB, model any, id uuid.UUID, delta int, columns ...string) error {
	changes := make(map[string]any, len(columns))
	for _, col := range columns {
		changes[col] = gorm.Expr(fmt.Sprintf("GREATEST(%s + ?, 0)", col), delta)
	}
	res := tx.Model(model).Where("id = ?", id).UpdateColumns(changes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) CreateLike(ctx context.Context, like *models.Like) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bump(tx, &models.Post{}, like.PostID, 1, "likes_count", "total_likes"); err != nil {
			return err
		}
		return tx.Create(like).Error
	})
	if err != nil {
		return fmt.Errorf("failed to like post: %w", translate(err))
	}
	return nil
}

func (r *Repository) DeleteLike(ctx context.Context, postID, agentID uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("post_id = ? AND agent_id = ?", postID, agentID).Delete(&models.Like{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return bump(tx, &models.Post{}, postID, -1, "likes_count", "total_likes")
	})
	if err != nil {
		return fmt.Errorf("failed to unlike post: %w", translate(err))
	}
	return nil
}

func (r *Repository) CreateBookmark(ctx context.Context, bookmark *models.Bookmark) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bump(tx, &models.Post{}, bookmark.PostID, 1, "bookmarks_count"); err != nil {
			return err
		}
		return tx.Create(bookmark).Error
	})
	if err != nil {
		return fmt.Errorf("failed to bookmark post: %w", translate(err))
	}
	return nil
}

func (r *Repository) DeleteBookmark(ctx context.Context, postID, agentID uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("post_id = ? AND agent_id = ?", postID, agentID).Delete(&models.Bookmark{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return bump(tx, &models.Post{}, postID, -1, "bookmarks_count")
	})
	if err != nil {
		return fmt.Errorf("failed to remove bookmark: %w", translate(err))
	}
	return nil
}

func (r *Repository) CreateFollow(ctx context.Context, follow *models.Follow) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bump(tx, &models.Agent{}, follow.AgentID, 1, "following_count"); err != nil {
			return err
		}
		if err := bump(tx, &models.Agent{}, follow.FollowingID, 1, "followers_count"); err != nil {
			return err
		}
		return tx.Create(follow).Error
	})
	if err != nil {
		return fmt.Errorf("failed to follow agent: %w", translate(err))
	}
	return nil
}

func (r *Repository) DeleteFollow(ctx context.Context, agentID, followingID uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("agent_id = ? AND following_id = ?", agentID, followingID).Delete(&models.Follow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		if err := bump(tx, &models.Agent{}, agentID, -1, "following_count"); err != nil {
			return err
		}
		return bump(tx, &models.Agent{}, followingID, -1, "followers_count")
	})
	if err != nil {
		return fmt.Errorf("failed to unfollow agent: %w", translate(err))
	}
	return nil
}

func (r *Repository) CreateComment(ctx context.Context, comment *models.Comment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bump(tx, &models.Post{}, comment.PostID, 1, "comments_count"); err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Create(comment).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", translate(err))
	}
	return nil
}

func (r *Repository) ListComments(ctx context.Context, postID uuid.UUID) ([]models.Comment, error) {
	var comments []models.Comment
	err := r.db.WithContext(ctx).
		Preload("Agent").
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

func (r *Repository) LikedPostIDs(ctx context.Context, agentID uuid.UUID, postIDs []uuid.UUID) ([]uuid.UUID, error) {
	return r.pluckMembership(ctx, &models.Like{}, "post_id", "agent_id = ? AND post_id IN ?", agentID, postIDs)
}

func (r *Repository) BookmarkedPostIDs(ctx context.Context, agentID uuid.UUID, postIDs []uuid.UUID) ([]uuid.UUID, error) {
	return r.pluckMembership(ctx, &models.Bookmark{}, "post_id", "agent_id = ? AND post_id IN ?", agentID, postIDs)
}

func (r *Repository) FollowedAgentIDs(ctx context.Context, agentID uuid.UUID, candidates []uuid.UUID) ([]uuid.UUID, error) {
	return r.pluckMembership(ctx, &models.Follow{}, "following_id", "agent_id = ? AND following_id IN ?", agentID, candidates)
}

func (r *Repository) pluckMembership(ctx context.Context, model any, column, where string, agentID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []uuid.UUID
	if err := r.db.WithContext(ctx).Model(model).Where(where, agentID, ids).Pluck(column, &out).Error; err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", column, err)
	}
	return out, nil
}

func (r *Repository) FollowingIDs(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	if err := r.db.WithContext(ctx).Model(&models.Follow{}).Where("agent_id = ?", agentID).Pluck("following_id", &out).Error; err != nil {
		return nil, fmt.Errorf("failed to list following: %w", err)
	}
	return out, nil
}

func (r *Repository) FollowerIDs(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	if err := r.db.WithContext(ctx).Model(&models.Follow{}).Where("following_id = ?", agentID).Pluck("agent_id", &out).Error; err != nil {
		return nil, fmt.Errorf("failed to list followers: %w", err)
	}
	return out, nil
}
