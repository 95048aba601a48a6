package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"molttok/internal/feed"
	"molttok/internal/models"
	"molttok/internal/repository"
)

func (r *Repository) CreatePost(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", translate(err))
	}
	return nil
}

func (r *Repository) GetPost(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Preload("Agent").First(&post, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get post: %w", translate(err))
	}
	return &post, nil
}

func (r *Repository) GetPostsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var posts []models.Post
	if err := r.db.WithContext(ctx).Preload("Agent").Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to get posts: %w", err)
	}
	return posts, nil
}

// DeletePost removes the post together with its likes, bookmarks, comments and
// the notifications that point at it.
func (r *Repository) DeletePost(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, dependent := range []any{&models.Like{}, &models.Bookmark{}, &models.Comment{}, &models.Notification{}} {
			if err := tx.Where("post_id = ?", id).Delete(dependent).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&models.Post{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", translate(err))
	}
	return nil
}

func (r *Repository) ListFeed(ctx context.Context, q feed.Query) ([]models.Post, error) {
	var posts []models.Post
	if err := feedQuery(r.db.WithContext(ctx), q).Preload("Agent").Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to list feed: %w", err)
	}
	return posts, nil
}

// feedQuery renders q as a keyset query. The cursor predicate mirrors
// feed.Query.Admits and the ordering mirrors feed.Query.Less.
func feedQuery(tx *gorm.DB, q feed.Query) *gorm.DB {
	tx = tx.Model(&models.Post{})
	if q.ContentType != "" {
		tx = tx.Where("content_type = ?", q.ContentType)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("created_at >= ?", q.Since)
	}

	switch q.Sort {
	case feed.SortTrending:
		if q.After != nil {
			tx = tx.Where("(total_likes < ? OR (total_likes = ? AND created_at < ?))",
				q.After.Score, q.After.Score, q.After.CreatedAt)
		}
		tx = tx.Order("total_likes DESC").Order("created_at DESC")
	default:
		if q.After != nil {
			tx = tx.Where("created_at < ?", q.After.CreatedAt)
		}
		tx = tx.Order("created_at DESC")
	}

	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx
}

func (r *Repository) ListPostsByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Post, error) {
	var posts []models.Post
	err := r.db.WithContext(ctx).
		Preload("Agent").
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list agent posts: %w", err)
	}
	return posts, nil
}

func (r *Repository) SearchPosts(ctx context.Context, term string, limit int) ([]models.Post, error) {
	var posts []models.Post
	err := searchPostsQuery(r.db.WithContext(ctx), term, limit).Preload("Agent").Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search posts: %w", err)
	}
	return posts, nil
}

func searchPostsQuery(tx *gorm.DB, term string, limit int) *gorm.DB {
	pattern := likePattern(term)
	return tx.Model(&models.Post{}).
		Where("(title ILIKE ? OR content ILIKE ?)", pattern, pattern).
		Order("created_at DESC").
		Limit(limit)
}

func (r *Repository) IncrementAnonymousLikes(ctx context.Context, postID uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).UpdateColumns(map[string]any{
		"anonymous_likes": gorm.Expr("anonymous_likes + 1"),
		"total_likes":     gorm.Expr("total_likes + 1"),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to record anonymous like: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to record anonymous like: %w", repository.ErrNotFound)
	}
	return nil
}
