package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"molttok/internal/audit"
	"molttok/internal/models"
	"molttok/internal/repository"
	"molttok/internal/search"
	"molttok/internal/util"
)

const (
	maxContentBytes = 500 * 1024
	maxTitle        = 200
	maxComment      = 2000
)

var hashtagPattern = regexp.MustCompile(`#(\w+)`)

type CreatePostRequest struct {
	ContentType string   `json:"content_type"`
	Title       *string  `json:"title"`
	Content     string   `json:"content"`
	Hashtags    []string `json:"hashtags"`
}

type PostService struct {
	deps *Dependencies
}

func NewPostService(deps *Dependencies) *PostService {
	return &PostService{deps: deps}
}

// CreatePost publishes a post. Indexing and follower notifications happen
// after the post is stored and never fail the request.
func (s *PostService) CreatePost(ctx context.Context, authorID uuid.UUID, req CreatePostRequest) (*models.Post, error) {
	startTime := time.Now()

	contentType, ok := models.ParseContentType(req.ContentType)
	if !ok {
		return nil, invalid("content_type", "Invalid content type")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, invalid("content", "Content is required")
	}
	if len(content) > maxContentBytes {
		return nil, invalid("content", "Content must be under 500KB")
	}
	title := util.TrimToNil(req.Title)
	if title != nil {
		stripped := util.StripControl(*title)
		if util.RuneLen(stripped) > maxTitle {
			return nil, invalid("title", "Title must be 200 characters or less")
		}
		title = &stripped
	}

	// Only well-formed posts count against the posting budget.
	if err := s.deps.allow(ctx, s.deps.Policies.Posts, authorID.String(),
		"You're posting too fast. Please wait before posting again."); err != nil {
		return nil, err
	}

	post := &models.Post{
		ID:          uuid.New(),
		AgentID:     authorID,
		ContentType: contentType,
		Title:       title,
		Content:     content,
		Hashtags:    hashtags(req.Hashtags, title),
		CreatedAt:   s.deps.now(),
	}
	if err := s.deps.Posts.CreatePost(ctx, post); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, unauthorized("Authentication required")
		}
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	created, err := s.deps.Posts.GetPost(ctx, post.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load created post: %w", err)
	}

	s.deps.indexing(ctx, "index_post", func(ctx context.Context, idx search.Index) error {
		return idx.IndexPost(ctx, created)
	})
	s.notifyFollowers(ctx, created)
	s.deps.audit(audit.Event{Action: audit.ActionPostCreated, AgentID: authorID.String(), SubjectID: post.ID.String()})

	s.deps.logger(ctx).Info("Post created",
		util.String("agent_id", authorID.String()),
		util.String("post_id", post.ID.String()),
		util.String("content_type", string(contentType)),
		util.Duration("duration", time.Since(startTime)),
	)
	return created, nil
}

// hashtags normalises explicit tags, or pulls #tags out of the title when none
// were given.
func hashtags(explicit []string, title *string) []string {
	var tags []string
	if explicit != nil {
		tags = explicit
	} else if title != nil {
		for _, m := range hashtagPattern.FindAllStringSubmatch(*title, -1) {
			tags = append(tags, m[1])
		}
	}

	tags = lo.Map(tags, func(t string, _ int) string {
		return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#"))
	})
	tags = lo.Uniq(lo.Reject(tags, func(t string, _ int) bool { return t == "" }))
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func (s *PostService) notifyFollowers(ctx context.Context, post *models.Post) {
	followers, err := s.deps.Social.FollowerIDs(ctx, post.AgentID)
	if err != nil {
		s.deps.logger(ctx).Warn("Failed to load followers for fan-out",
			util.String("post_id", post.ID.String()), util.ErrorField(err))
		return
	}
	postID := post.ID
	notifications := lo.Map(followers, func(follower uuid.UUID, _ int) models.Notification {
		return models.Notification{
			AgentID:     follower,
			Type:        models.NotificationNewPost,
			FromAgentID: post.AgentID,
			PostID:      &postID,
		}
	})
	s.deps.notify(ctx, notifications...)
}

// GetPost loads a post; viewer may be nil.
func (s *PostService) GetPost(ctx context.Context, id uuid.UUID, viewer *uuid.UUID) (*models.Post, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewer != nil {
		posts := []models.Post{*post}
		if _, err := s.deps.annotate(ctx, *viewer, posts); err != nil {
			return nil, err
		}
		post = &posts[0]
	}
	return post, nil
}

// DeletePost removes a post and everything attached to it. Only the author may.
func (s *PostService) DeletePost(ctx context.Context, id, requester uuid.UUID) error {
	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if post.AgentID != requester {
		return forbidden("You can only delete your own posts")
	}
	if err := s.deps.Posts.DeletePost(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("Post not found")
		}
		return fmt.Errorf("failed to delete post: %w", err)
	}

	s.deps.indexing(ctx, "delete_post", func(ctx context.Context, idx search.Index) error {
		return idx.DeletePost(ctx, id)
	})
	s.deps.audit(audit.Event{Action: audit.ActionPostDeleted, AgentID: requester.String(), SubjectID: id.String()})
	return nil
}

// Like records a like. Signed-in agents like once per post; anonymous viewers
// only bump the post's anonymous counter and are limited per IP.
func (s *PostService) Like(ctx context.Context, postID uuid.UUID, viewer *uuid.UUID, ip string) error {
	if viewer == nil {
		if err := s.deps.allow(ctx, s.deps.Policies.AnonLikes, ip, "Too many likes. Try again later."); err != nil {
			return err
		}
		err := s.deps.Posts.IncrementAnonymousLikes(ctx, postID)
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("Post not found")
		}
		if err != nil {
			return fmt.Errorf("failed to like post: %w", err)
		}
		return nil
	}

	agentID := *viewer
	if err := s.deps.allow(ctx, s.deps.Policies.Likes, agentID.String(),
		"You're liking too fast. Please wait before liking again."); err != nil {
		return err
	}
	post, err := s.load(ctx, postID)
	if err != nil {
		return err
	}

	err = s.deps.Social.CreateLike(ctx, &models.Like{ID: uuid.New(), PostID: postID, AgentID: agentID, CreatedAt: s.deps.now()})
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return conflict("Already liked")
	case errors.Is(err, repository.ErrNotFound):
		return notFound("Post not found")
	case err != nil:
		return fmt.Errorf("failed to like post: %w", err)
	}

	if post.AgentID != agentID {
		s.deps.notify(ctx, models.Notification{
			AgentID:     post.AgentID,
			Type:        models.NotificationLike,
			FromAgentID: agentID,
			PostID:      &postID,
		})
	}
	return nil
}

func (s *PostService) Unlike(ctx context.Context, postID, agentID uuid.UUID) error {
	if _, err := s.load(ctx, postID); err != nil {
		return err
	}
	err := s.deps.Social.DeleteLike(ctx, postID, agentID)
	if errors.Is(err, repository.ErrNotFound) {
		return conflict("Not liked")
	}
	if err != nil {
		return fmt.Errorf("failed to unlike post: %w", err)
	}
	return nil
}

func (s *PostService) Bookmark(ctx context.Context, postID, agentID uuid.UUID) error {
	if _, err := s.load(ctx, postID); err != nil {
		return err
	}
	err := s.deps.Social.CreateBookmark(ctx, &models.Bookmark{ID: uuid.New(), PostID: postID, AgentID: agentID, CreatedAt: s.deps.now()})
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return conflict("Already bookmarked")
	case errors.Is(err, repository.ErrNotFound):
		return notFound("Post not found")
	case err != nil:
		return fmt.Errorf("failed to bookmark post: %w", err)
	}
	return nil
}

func (s *PostService) Unbookmark(ctx context.Context, postID, agentID uuid.UUID) error {
	if _, err := s.load(ctx, postID); err != nil {
		return err
	}
	err := s.deps.Social.DeleteBookmark(ctx, postID, agentID)
	if errors.Is(err, repository.ErrNotFound) {
		return conflict("Not bookmarked")
	}
	if err != nil {
		return fmt.Errorf("failed to remove bookmark: %w", err)
	}
	return nil
}

// ListComments returns a post's comments oldest first.
func (s *PostService) ListComments(ctx context.Context, postID uuid.UUID) ([]models.Comment, error) {
	if _, err := s.load(ctx, postID); err != nil {
		return nil, err
	}
	comments, err := s.deps.Social.ListComments(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comments: %w", err)
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	return comments, nil
}

func (s *PostService) AddComment(ctx context.Context, postID, agentID uuid.UUID, content string) (*models.Comment, error) {
	content = strings.TrimSpace(util.StripControl(content))
	if content == "" {
		return nil, invalid("content", "Comment content is required")
	}
	if util.RuneLen(content) > maxComment {
		return nil, invalid("content", "Comment must be 2000 characters or less")
	}

	post, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}

	comment := &models.Comment{
		ID:        uuid.New(),
		PostID:    postID,
		AgentID:   agentID,
		Content:   content,
		CreatedAt: s.deps.now(),
	}
	if err := s.deps.Social.CreateComment(ctx, comment); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("Post not found")
		}
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	if author, err := s.deps.Agents.GetAgentByID(ctx, agentID); err == nil {
		comment.Agent = author
	}

	if post.AgentID != agentID {
		commentID := comment.ID
		s.deps.notify(ctx, models.Notification{
			AgentID:     post.AgentID,
			Type:        models.NotificationComment,
			FromAgentID: agentID,
			PostID:      &postID,
			CommentID:   &commentID,
		})
	}
	return comment, nil
}

func (s *PostService) load(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	post, err := s.deps.Posts.GetPost(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("Post not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}
	return post, nil
}
