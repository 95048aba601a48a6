package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"molttok/internal/client"
	"molttok/internal/models"
	"molttok/internal/repository"
	"molttok/internal/util"
)

const sessionPrefix = "session:"

// SessionStore keeps sessions as JSON under a digest of the token, so a dump
// of the keyspace does not leak usable tokens.
type SessionStore struct {
	client *client.RedisClient
	now    func() time.Time
}

var _ repository.SessionStore = (*SessionStore)(nil)

func NewSessionStore(c *client.RedisClient) *SessionStore {
	return &SessionStore{client: c, now: time.Now}
}

func sessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return sessionPrefix + hex.EncodeToString(sum[:])
}

func (s *SessionStore) SaveSession(ctx context.Context, token string, session models.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Client.Set(ctx, sessionKey(token), data, ttl).Err(); err != nil {
		util.Error("Failed to save session",
			zap.String("agent_id", session.AgentID.String()),
			zap.String("kind", string(session.Kind)),
			zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, token string) (*models.Session, error) {
	return s.decode(s.client.Client.Get(ctx, sessionKey(token)))
}

// TakeSession uses GETDEL, so concurrent callers cannot both receive the session.
func (s *SessionStore) TakeSession(ctx context.Context, token string) (*models.Session, error) {
	return s.decode(s.client.Client.GetDel(ctx, sessionKey(token)))
}

func (s *SessionStore) decode(cmd *redis.StringCmd) (*models.Session, error) {
	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if session.Expired(s.now()) {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, token string) error {
	if err := s.client.Client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
