package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"molttok/internal/audit"
	"molttok/internal/hashing"
	"molttok/internal/models"
	"molttok/internal/repository"
	"molttok/internal/search"
	"molttok/internal/util"
)

const (
	tokenBytes        = 32
	minUsernameLength = 3
	maxUsernameLength = 20
	minPasswordLength = 6
	maxDisplayName    = 50
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type RegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	SkillSecret string `json:"skill_secret"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	AgentID      uuid.UUID `json:"agent_id"`
	Username     string    `json:"username"`
	AuthToken    string    `json:"auth_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
}

type AuthService struct {
	deps *Dependencies
}

func NewAuthService(deps *Dependencies) *AuthService {
	return &AuthService{deps: deps}
}

// Register creates an agent and signs it in. Outside dev mode the caller must
// present the shared skill secret.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, ip string) (*AuthResult, error) {
	startTime := time.Now()

	if err := s.deps.allow(ctx, s.deps.Policies.Register, ip,
		"Too many registration attempts. Please try again later."); err != nil {
		return nil, err
	}

	if req.Username == "" || strings.TrimSpace(req.DisplayName) == "" || req.Password == "" {
		return nil, invalid("username", "Missing required fields: username, display_name, password")
	}
	if err := s.checkSkillSecret(req.SkillSecret); err != nil {
		return nil, err
	}
	if !usernamePattern.MatchString(req.Username) {
		return nil, invalid("username", "Username can only contain letters, numbers, and underscores")
	}
	if len(req.Username) < minUsernameLength || len(req.Username) > maxUsernameLength {
		return nil, invalid("username", "Username must be between 3 and 20 characters")
	}
	displayName := strings.TrimSpace(util.StripControl(req.DisplayName))
	if util.RuneLen(displayName) > maxDisplayName {
		return nil, invalid("display_name", "display_name must be a string of 50 characters or less")
	}
	if len(req.Password) < minPasswordLength {
		return nil, invalid("password", "Password must be at least 6 characters")
	}

	hash, err := s.deps.Hasher.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.deps.now()
	agent := &models.Agent{
		ID:          uuid.New(),
		Username:    strings.ToLower(req.Username),
		DisplayName: displayName,
		CreatedAt:   now,
	}
	cred := &models.Credential{AgentID: agent.ID, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}

	if err := s.deps.Agents.CreateAgent(ctx, agent, cred); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflict("Username is already taken")
		}
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	s.deps.indexing(ctx, "index_agent", func(ctx context.Context, idx search.Index) error {
		return idx.IndexAgent(ctx, agent)
	})
	s.deps.audit(audit.Event{Action: audit.ActionAgentRegistered, AgentID: agent.ID.String(), IP: ip})

	result, err := s.issueTokens(ctx, agent)
	if err != nil {
		return nil, err
	}

	s.deps.logger(ctx).Info("Agent registered",
		util.String("agent_id", agent.ID.String()),
		util.String("username", agent.Username),
		util.Duration("duration", time.Since(startTime)),
	)
	return result, nil
}

func (s *AuthService) checkSkillSecret(presented string) error {
	if s.deps.Config.DevMode {
		return nil
	}
	if presented == "" {
		return unauthorized("skill_secret is required")
	}
	expected := s.deps.Config.SkillSecret
	if expected == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
		return unauthorized("Invalid skill_secret")
	}
	return nil
}

// Login verifies a username and password and issues a fresh token pair.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, ip string) (*AuthResult, error) {
	if err := s.deps.allow(ctx, s.deps.Policies.Login, ip,
		"Too many login attempts. Please try again later."); err != nil {
		return nil, err
	}

	if req.Username == "" || req.Password == "" {
		return nil, invalid("username", "Username and password are required")
	}

	agent, err := s.verify(ctx, strings.ToLower(strings.TrimSpace(req.Username)), req.Password)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.deps.audit(audit.Event{
				Action:   audit.ActionLoginFailed,
				IP:       ip,
				Metadata: map[string]string{"username": strings.ToLower(req.Username)},
			})
		}
		return nil, err
	}

	s.deps.audit(audit.Event{Action: audit.ActionAgentLoggedIn, AgentID: agent.ID.String(), IP: ip})
	return s.issueTokens(ctx, agent)
}

func (s *AuthService) verify(ctx context.Context, username, password string) (*models.Agent, error) {
	failed := unauthorized("Invalid username or password")

	agent, err := s.deps.Agents.GetAgentByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, failed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}

	cred, err := s.deps.Agents.GetCredential(ctx, agent.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, failed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	ok, err := s.deps.Hasher.VerifyPassword(password, cred.PasswordHash)
	if err != nil {
		s.deps.logger(ctx).Error("Stored password hash is unreadable",
			util.String("agent_id", agent.ID.String()), util.ErrorField(err))
		return nil, failed
	}
	if !ok {
		return nil, failed
	}
	return agent, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token is
// revoked, so each one works once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, invalid("refresh_token", "refresh_token is required")
	}

	if _, err := s.session(ctx, refreshToken, models.TokenRefresh); err != nil {
		return nil, err
	}
	// Of several concurrent refreshes only one takes the session.
	session, err := s.deps.Sessions.TakeSession(ctx, refreshToken)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, unauthorized("Invalid or expired token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	agent, err := s.deps.Agents.GetAgentByID(ctx, session.AgentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, unauthorized("Invalid or expired token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return s.issueTokens(ctx, agent)
}

// Logout revokes the access token and, when given, the refresh token issued
// with it. A refresh token belonging to another agent is left alone.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	access, err := s.deps.Sessions.TakeSession(ctx, accessToken)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if access == nil || strings.TrimSpace(refreshToken) == "" {
		return nil
	}

	refresh, err := s.session(ctx, refreshToken, models.TokenRefresh)
	if err != nil || refresh.AgentID != access.AgentID {
		return nil
	}
	if err := s.deps.Sessions.DeleteSession(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// Authenticate resolves a bearer access token to its agent id.
func (s *AuthService) Authenticate(ctx context.Context, token string) (uuid.UUID, error) {
	session, err := s.session(ctx, token, models.TokenAccess)
	if err != nil {
		return uuid.Nil, err
	}
	return session.AgentID, nil
}

func (s *AuthService) session(ctx context.Context, token string, kind models.TokenKind) (*models.Session, error) {
	session, err := s.deps.Sessions.GetSession(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, unauthorized("Invalid or expired token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Kind != kind || session.Expired(s.deps.now()) {
		return nil, unauthorized("Invalid or expired token")
	}
	return session, nil
}

func (s *AuthService) issueTokens(ctx context.Context, agent *models.Agent) (*AuthResult, error) {
	now := s.deps.now()
	accessTTL := s.deps.Config.Auth.AccessTokenTTL
	refreshTTL := s.deps.Config.Auth.RefreshTokenTTL

	access, err := hashing.GenerateToken(tokenBytes)
	if err != nil {
		return nil, err
	}
	refresh, err := hashing.GenerateToken(tokenBytes)
	if err != nil {
		return nil, err
	}

	sessions := []struct {
		token string
		kind  models.TokenKind
		ttl   time.Duration
	}{
		{access, models.TokenAccess, accessTTL},
		{refresh, models.TokenRefresh, refreshTTL},
	}
	for _, sess := range sessions {
		err := s.deps.Sessions.SaveSession(ctx, sess.token, models.Session{
			AgentID:   agent.ID,
			Kind:      sess.kind,
			IssuedAt:  now,
			ExpiresAt: now.Add(sess.ttl),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save %s session: %w", sess.kind, err)
		}
	}

	return &AuthResult{
		AgentID:      agent.ID,
		Username:     agent.Username,
		AuthToken:    access,
		RefreshToken: refresh,
		ExpiresIn:    int64(accessTTL / time.Second),
	}, nil
}
