package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"molttok/internal/bucketing"
	"molttok/internal/util"
)

var ErrInvalidArgument = errors.New("ratelimit: invalid argument")

const (
	defaultSweepInterval = 60 * time.Second
	defaultStripes       = 64
)

// Result is the outcome of a Check. RetryAfter is in whole seconds and is
// zero whenever the call was allowed.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter int
}

// Limiter is a sliding-window limiter: a key may record at most limit calls
// within any trailing window.
type Limiter struct {
	store         Store
	stripes       *bucketing.Striper
	sweepInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger

	sweepMu   sync.Mutex
	lastSweep time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

func WithStripes(n int) Option {
	return func(l *Limiter) { l.stripes = bucketing.NewStriper(n) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:         store,
		stripes:       bucketing.NewStriper(defaultStripes),
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Check records a call against key if fewer than limit calls happened in the
// trailing window, and reports how many remain or how long to wait.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if key == "" || limit < 1 || window <= 0 {
		return Result{}, fmt.Errorf("%w: key=%q limit=%d window=%s", ErrInvalidArgument, key, limit, window)
	}

	now := l.now()
	l.maybeSweep(ctx, now)

	if atomic, ok := l.store.(AtomicStore); ok {
		rec, err := atomic.Record(ctx, key, limit, window, now)
		if err != nil {
			return Result{}, fmt.Errorf("ratelimit: record %s: %w", key, err)
		}
		if !rec.Allowed {
			return Result{Allowed: false, RetryAfter: retryAfter(rec.Oldest, window, now)}, nil
		}
		return Result{Allowed: true, Remaining: limit - rec.Count}, nil
	}

	unlock := l.stripes.Lock(key)
	defer unlock()

	bucket, _, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: get %s: %w", key, err)
	}

	live := prune(bucket.Timestamps, now.Add(-window))
	if len(live) >= limit {
		if len(live) != len(bucket.Timestamps) {
			if err := l.store.Set(ctx, key, Bucket{Timestamps: live, Window: window}); err != nil {
				return Result{}, fmt.Errorf("ratelimit: set %s: %w", key, err)
			}
		}
		return Result{Allowed: false, RetryAfter: retryAfter(oldest(live), window, now)}, nil
	}

	live = append(live, now)
	if err := l.store.Set(ctx, key, Bucket{Timestamps: live, Window: window}); err != nil {
		return Result{}, fmt.Errorf("ratelimit: set %s: %w", key, err)
	}
	return Result{Allowed: true, Remaining: limit - len(live)}, nil
}

// Sweep drops every key whose timestamps have all aged out of its window.
// It returns the number of keys removed.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.sweep(ctx, l.now())
}

func (l *Limiter) maybeSweep(ctx context.Context, now time.Time) {
	if _, ok := l.store.(Lister); !ok {
		return
	}

	l.sweepMu.Lock()
	if now.Sub(l.lastSweep) < l.sweepInterval {
		l.sweepMu.Unlock()
		return
	}
	l.lastSweep = now
	l.sweepMu.Unlock()

	removed, err := l.sweep(ctx, now)
	if err != nil {
		l.logger.Warn("Rate limit sweep failed", util.ErrorField(err))
		return
	}
	if removed > 0 {
		l.logger.Debug("Rate limit sweep completed", util.Int("removed", removed))
	}
}

func (l *Limiter) sweep(ctx context.Context, now time.Time) (int, error) {
	lister, ok := l.store.(Lister)
	if !ok {
		return 0, nil
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		unlock := l.stripes.Lock(key)
		bucket, found, err := l.store.Get(ctx, key)
		if err == nil && found && bucket.expired(now) {
			err = l.store.Delete(ctx, key)
			if err == nil {
				removed++
			}
		}
		unlock()
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// prune keeps the timestamps strictly after cutoff.
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	live := make([]time.Time, 0, len(timestamps)+1)
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	return live
}

func oldest(timestamps []time.Time) time.Time {
	first := timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts.Before(first) {
			first = ts
		}
	}
	return first
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) int {
	wait := oldest.Add(window).Sub(now)
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
