package memory

import (
	"context"
	"sync"
	"time"

	"molttok/internal/models"
	"molttok/internal/repository"
)

// SessionStore keeps bearer-token sessions in process memory.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	now      func() time.Time
}

var _ repository.SessionStore = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]models.Session), now: time.Now}
}

// WithClock replaces the time source used for expiry.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	s.now = now
	return s
}

func (s *SessionStore) SaveSession(_ context.Context, token string, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, v := range s.sessions {
		if v.Expired(now) {
			delete(s.sessions, k)
		}
	}
	s.sessions[token] = session
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, token string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if session.Expired(s.now()) {
		delete(s.sessions, token)
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) TakeSession(_ context.Context, token string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(s.sessions, token)
	if session.Expired(s.now()) {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}
