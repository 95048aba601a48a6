package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clock *fakeClock) (*Limiter, *MemoryStore) {
	store := NewMemoryStore()
	return NewLimiter(store, WithClock(clock.Now)), store
}

func TestCheckAllowsUpToLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLimiter(newFakeClock())

	for i := 1; i <= 5; i++ {
		res, err := l.Check(ctx, "likes:agent-1", 5, time.Hour)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
		assert.Equal(t, 5-i, res.Remaining)
		assert.Zero(t, res.RetryAfter)
	}

	res, err := l.Check(ctx, "likes:agent-1", 5, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Greater(t, res.RetryAfter, 0)
}

func TestSinglePostPerMinute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	l, _ := newTestLimiter(clock)

	first, err := l.Check(ctx, "posts:alice", 1, 60*time.Second)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Zero(t, first.Remaining)

	second, err := l.Check(ctx, "posts:alice", 1, 60*time.Second)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.GreaterOrEqual(t, second.RetryAfter, 1)
	assert.LessOrEqual(t, second.RetryAfter, 60)

	clock.Advance(30*time.Second + 400*time.Millisecond)
	third, err := l.Check(ctx, "posts:alice", 1, 60*time.Second)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 30, third.RetryAfter)
}

func TestWindowSlides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	l, _ := newTestLimiter(clock)

	res, _ := l.Check(ctx, "k", 2, 10*time.Second)
	assert.True(t, res.Allowed)

	clock.Advance(5 * time.Second)
	res, _ = l.Check(ctx, "k", 2, 10*time.Second)
	assert.True(t, res.Allowed)

	clock.Advance(time.Second)
	res, _ = l.Check(ctx, "k", 2, 10*time.Second)
	assert.False(t, res.Allowed)
	assert.Equal(t, 4, res.RetryAfter)

	// the first call is now exactly one window old and no longer counts
	clock.Advance(4 * time.Second)
	res, _ = l.Check(ctx, "k", 2, 10*time.Second)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.Remaining)
}

func TestExhaustedKeyRecoversAfterWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	l, _ := newTestLimiter(clock)

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "login:203.0.113.9", 3, 15*time.Minute)
		require.NoError(t, err)
	}
	res, _ := l.Check(ctx, "login:203.0.113.9", 3, 15*time.Minute)
	require.False(t, res.Allowed)

	clock.Advance(15*time.Minute + time.Millisecond)

	allowed := 0
	for i := 0; i < 5; i++ {
		res, err := l.Check(ctx, "login:203.0.113.9", 3, 15*time.Minute)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLimiter(newFakeClock())

	res, _ := l.Check(ctx, "posts:alice", 1, time.Minute)
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, "posts:alice", 1, time.Minute)
	assert.False(t, res.Allowed)

	res, _ = l.Check(ctx, "posts:bob", 1, time.Minute)
	assert.True(t, res.Allowed)
}

func TestCheckRejectsInvalidArguments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLimiter(newFakeClock())

	_, err := l.Check(ctx, "", 1, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = l.Check(ctx, "k", 0, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = l.Check(ctx, "k", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSweepIsThrottledAndRespectsEachWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	l := NewLimiter(store, WithClock(clock.Now), WithSweepInterval(time.Minute))

	_, _ = l.Check(ctx, "short", 5, 10*time.Second)
	_, _ = l.Check(ctx, "long", 5, time.Hour)

	clock.Advance(11 * time.Second)
	_, _ = l.Check(ctx, "other", 5, 10*time.Second)
	assert.Equal(t, 3, store.Len(), "sweep must not run before the interval elapses")

	clock.Advance(time.Minute)
	_, _ = l.Check(ctx, "fresh", 5, 10*time.Second)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"long", "fresh"}, keys)
}

func TestExplicitSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	l, store := newTestLimiter(clock)

	_, _ = l.Check(ctx, "a", 1, time.Second)
	_, _ = l.Check(ctx, "b", 1, time.Second)
	clock.Advance(2 * time.Second)

	removed, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Zero(t, store.Len())
}

func TestConcurrentChecksNeverOvercount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newTestLimiter(newFakeClock())

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(ctx, "follows:agent-7", 20, time.Hour)
			if err == nil && res.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(20), allowed)
}

type atomicStub struct {
	*MemoryStore
	rec   Record
	calls int
}

func (s *atomicStub) Record(_ context.Context, _ string, _ int, _ time.Duration, _ time.Time) (Record, error) {
	s.calls++
	return s.rec, nil
}

func TestAtomicStoreIsPreferred(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	stub := &atomicStub{MemoryStore: NewMemoryStore(), rec: Record{Allowed: false, Count: 3, Oldest: clock.Now().Add(-50 * time.Second)}}
	l := NewLimiter(stub, WithClock(clock.Now))

	res, err := l.Check(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
	assert.False(t, res.Allowed)
	assert.Equal(t, 10, res.RetryAfter)
	assert.Zero(t, stub.Len())
}
