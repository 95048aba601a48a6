package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"molttok/internal/audit"
	"molttok/internal/config"
	"molttok/internal/feed"
	"molttok/internal/hashing"
	"molttok/internal/metrics"
	"molttok/internal/models"
	"molttok/internal/ratelimit"
	"molttok/internal/repository"
	"molttok/internal/search"
	"molttok/internal/storage"
	"molttok/internal/util"
)

// Auditor accepts audit events without blocking. *audit.Publisher satisfies it.
type Auditor interface {
	Publish(e audit.Event)
}

// Dependencies are the collaborators shared by every service. Index and
// Auditor are optional.
type Dependencies struct {
	Agents        repository.AgentRepository
	Posts         repository.PostRepository
	Social        repository.SocialRepository
	Notifications repository.NotificationRepository
	Sessions      repository.SessionStore
	Limiter       *ratelimit.Limiter
	Policies      ratelimit.Policies
	Hasher        *hashing.Hasher
	Avatars       storage.AvatarStore
	Index         search.Index
	Auditor       Auditor
	Paginator     *feed.Paginator
	Config        *config.Config
	Logger        *zap.Logger
	Now           func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// logger prefers the request logger carried by ctx.
func (d *Dependencies) logger(ctx context.Context) *zap.Logger {
	base := d.Logger
	if base == nil {
		base = zap.NewNop()
	}
	return util.FromContext(ctx, base)
}

// allow consults the limiter for policy and subject. The limiter is a spam
// guard, so a failing store lets the call through.
func (d *Dependencies) allow(ctx context.Context, policy ratelimit.Policy, subject, message string) error {
	if d.Limiter == nil {
		return nil
	}
	res, err := d.Limiter.Allow(ctx, policy, subject)
	if err != nil {
		d.logger(ctx).Error("Rate limiter unavailable, allowing request",
			zap.String("policy", policy.Name),
			zap.Error(err))
		return nil
	}
	if res.Allowed {
		return nil
	}
	d.audit(audit.Event{
		Action:   audit.ActionRateLimited,
		Metadata: map[string]string{"policy": policy.Name, "subject": subject},
	})
	return &RateLimitError{Policy: policy.Name, RetryAfter: res.RetryAfter, Message: message}
}

func (d *Dependencies) audit(e audit.Event) {
	if d.Auditor != nil {
		d.Auditor.Publish(e)
	}
}

// notify stores notifications best-effort. A failure is logged and counted
// and never reaches the caller.
func (d *Dependencies) notify(ctx context.Context, notifications ...models.Notification) {
	if len(notifications) == 0 || d.Notifications == nil {
		return
	}
	now := d.now()
	for i := range notifications {
		if notifications[i].ID == uuid.Nil {
			notifications[i].ID = uuid.New()
		}
		if notifications[i].CreatedAt.IsZero() {
			notifications[i].CreatedAt = now
		}
	}
	if err := d.Notifications.CreateNotifications(ctx, notifications); err != nil {
		metrics.SideEffectFailures.WithLabelValues("notification").Inc()
		d.logger(ctx).Warn("Failed to store notifications",
			zap.String("type", string(notifications[0].Type)),
			zap.Int("count", len(notifications)),
			zap.Error(err))
	}
}

// indexing runs fn against the search index, if there is one, best-effort.
func (d *Dependencies) indexing(ctx context.Context, what string, fn func(ctx context.Context, idx search.Index) error) {
	if d.Index == nil {
		return
	}
	if err := fn(ctx, d.Index); err != nil {
		metrics.SideEffectFailures.WithLabelValues("search_index").Inc()
		d.logger(ctx).Warn("Failed to update search index", zap.String("op", what), zap.Error(err))
	}
}
