package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"molttok/internal/client"
	"molttok/internal/models"
	"molttok/internal/util"
)

// Index is a full-text index over posts and agents. Searches return ids in
// relevance order; callers hydrate them from the repository.
type Index interface {
	IndexPost(ctx context.Context, post *models.Post) error
	IndexAgent(ctx context.Context, agent *models.Agent) error
	DeletePost(ctx context.Context, id uuid.UUID) error
	SearchPosts(ctx context.Context, term string, limit int) ([]uuid.UUID, error)
	SearchAgents(ctx context.Context, term string, limit int) ([]uuid.UUID, error)
}

type postDocument struct {
	AgentID     string    `json:"agent_id"`
	ContentType string    `json:"content_type"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content"`
	Hashtags    []string  `json:"hashtags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type agentDocument struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

type ElasticIndex struct {
	es          *client.ESClient
	postsIndex  string
	agentsIndex string
}

func NewElasticIndex(es *client.ESClient, postsIndex, agentsIndex string) *ElasticIndex {
	return &ElasticIndex{es: es, postsIndex: postsIndex, agentsIndex: agentsIndex}
}

func (i *ElasticIndex) IndexPost(ctx context.Context, post *models.Post) error {
	doc := postDocument{
		AgentID:     post.AgentID.String(),
		ContentType: string(post.ContentType),
		Title:       lo.FromPtr(post.Title),
		Content:     post.Content,
		Hashtags:    post.Hashtags,
		CreatedAt:   post.CreatedAt.UTC(),
	}
	res, err := i.es.IndexDocument(ctx, i.postsIndex, post.ID.String(), doc)
	if err != nil {
		return fmt.Errorf("failed to index post: %w", err)
	}
	if err := i.es.ParseResponse(res, nil); err != nil {
		return fmt.Errorf("failed to index post: %w", err)
	}
	return nil
}

func (i *ElasticIndex) IndexAgent(ctx context.Context, agent *models.Agent) error {
	doc := agentDocument{
		Username:    agent.Username,
		DisplayName: agent.DisplayName,
		Bio:         lo.FromPtr(agent.Bio),
		CreatedAt:   agent.CreatedAt.UTC(),
	}
	res, err := i.es.IndexDocument(ctx, i.agentsIndex, agent.ID.String(), doc)
	if err != nil {
		return fmt.Errorf("failed to index agent: %w", err)
	}
	if err := i.es.ParseResponse(res, nil); err != nil {
		return fmt.Errorf("failed to index agent: %w", err)
	}
	return nil
}

func (i *ElasticIndex) DeletePost(ctx context.Context, id uuid.UUID) error {
	res, err := i.es.DeleteDocument(ctx, i.postsIndex, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete post document: %w", err)
	}
	// a post that never made it into the index is already gone
	if res.StatusCode == 404 {
		res.Body.Close()
		return nil
	}
	if err := i.es.ParseResponse(res, nil); err != nil {
		return fmt.Errorf("failed to delete post document: %w", err)
	}
	return nil
}

// SearchPosts matches title, content and hashtags, newest first.
func (i *ElasticIndex) SearchPosts(ctx context.Context, term string, limit int) ([]uuid.UUID, error) {
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  term,
				"type":   "phrase_prefix",
				"fields": []string{"title^2", "content", "hashtags"},
			},
		},
		"sort":    []interface{}{map[string]interface{}{"created_at": "desc"}},
		"_source": false,
	}
	return i.search(ctx, i.postsIndex, query)
}

// SearchAgents matches username and display name by relevance.
func (i *ElasticIndex) SearchAgents(ctx context.Context, term string, limit int) ([]uuid.UUID, error) {
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  strings.ToLower(term),
				"type":   "bool_prefix",
				"fields": []string{"username^2", "display_name"},
			},
		},
		"_source": false,
	}
	return i.search(ctx, i.agentsIndex, query)
}

func (i *ElasticIndex) search(ctx context.Context, index string, query map[string]interface{}) ([]uuid.UUID, error) {
	res, err := i.es.Search(ctx, index, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", index, err)
	}

	var body searchResponse
	if err := i.es.ParseResponse(res, &body); err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", index, err)
	}

	ids := make([]uuid.UUID, 0, len(body.Hits.Hits))
	for _, hit := range body.Hits.Hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			util.Warn("Skipping search hit with invalid id", zap.String("index", index), zap.String("id", hit.ID))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
