package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is the state kept per key: the timestamps of allowed calls, oldest
// first, and the window they were recorded under.
type Bucket struct {
	Timestamps []time.Time
	Window     time.Duration
}

// expired reports whether every timestamp has aged out of the bucket's window.
func (b Bucket) expired(now time.Time) bool {
	if len(b.Timestamps) == 0 {
		return true
	}
	newest := b.Timestamps[len(b.Timestamps)-1]
	for _, ts := range b.Timestamps {
		if ts.After(newest) {
			newest = ts
		}
	}
	return !newest.After(now.Add(-b.Window))
}

// Store persists buckets. The limiter serialises access per key, so
// implementations only need to be safe for concurrent use across keys.
type Store interface {
	Get(ctx context.Context, key string) (Bucket, bool, error)
	Set(ctx context.Context, key string, bucket Bucket) error
	Delete(ctx context.Context, key string) error
}

// Lister is implemented by stores that need the limiter to sweep expired keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// AtomicStore performs prune, count and append in one step on its own side,
// which lets several processes share the same limits.
type AtomicStore interface {
	Store
	Record(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Record, error)
}

// Record is the outcome of an AtomicStore check.
type Record struct {
	Allowed bool
	Count   int
	Oldest  time.Time
}

// MemoryStore keeps buckets in a process-local map. Counts reset on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]Bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]Bucket)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Bucket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[key]
	if !ok {
		return Bucket{}, false, nil
	}
	ts := make([]time.Time, len(b.Timestamps))
	copy(ts, b.Timestamps)
	return Bucket{Timestamps: ts, Window: b.Window}, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, bucket Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(bucket.Timestamps) == 0 {
		delete(s.buckets, key)
		return nil
	}
	s.buckets[key] = bucket
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.buckets, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.buckets))
	for k := range s.buckets {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}
