package ratelimit

import (
	"context"
	"time"

	"molttok/internal/config"
	"molttok/internal/metrics"
)

// Policy names an action and its budget. Keys are "<name>:<subject>", where
// the subject is an agent id for authenticated actions and a client IP otherwise.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (p Policy) Key(subject string) string {
	return p.Name + ":" + subject
}

type Policies struct {
	Posts     Policy
	Follows   Policy
	Likes     Policy
	AnonLikes Policy
	Login     Policy
	Register  Policy
}

func DefaultPolicies() Policies {
	return Policies{
		Posts:     Policy{Name: "posts", Limit: 1, Window: time.Minute},
		Follows:   Policy{Name: "follows", Limit: 20, Window: time.Hour},
		Likes:     Policy{Name: "likes", Limit: 30, Window: time.Hour},
		AnonLikes: Policy{Name: "anon-likes", Limit: 20, Window: time.Hour},
		Login:     Policy{Name: "login", Limit: 5, Window: 15 * time.Minute},
		Register:  Policy{Name: "register", Limit: 5, Window: time.Hour},
	}
}

func PoliciesFromConfig(cfg config.RateLimitConfig) Policies {
	p := DefaultPolicies()
	p.Posts.Limit, p.Posts.Window = cfg.PostsLimit, cfg.PostsWindow
	p.Follows.Limit, p.Follows.Window = cfg.FollowsLimit, cfg.FollowsWindow
	p.Likes.Limit, p.Likes.Window = cfg.LikesLimit, cfg.LikesWindow
	p.AnonLikes.Limit, p.AnonLikes.Window = cfg.AnonLikesLimit, cfg.AnonLikesWindow
	p.Login.Limit, p.Login.Window = cfg.LoginLimit, cfg.LoginWindow
	p.Register.Limit, p.Register.Window = cfg.RegisterLimit, cfg.RegisterWindow
	return p
}

// Allow checks subject against policy and records the decision.
func (l *Limiter) Allow(ctx context.Context, policy Policy, subject string) (Result, error) {
	res, err := l.Check(ctx, policy.Key(subject), policy.Limit, policy.Window)
	if err != nil {
		metrics.RateLimitDecisions.WithLabelValues(policy.Name, "error").Inc()
		return res, err
	}
	outcome := "allowed"
	if !res.Allowed {
		outcome = "rejected"
	}
	metrics.RateLimitDecisions.WithLabelValues(policy.Name, outcome).Inc()
	return res, nil
}
