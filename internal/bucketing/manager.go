package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// BucketingManager maps string keys onto a fixed number of buckets with murmur3.
// Hashers are pooled since bucket lookups sit on every rate-limited request.
type BucketingManager struct {
	buckets    int
	hasherPool sync.Pool
}

func NewBucketingManager(buckets int) *BucketingManager {
	if buckets < 1 {
		buckets = 1
	}
	return &BucketingManager{
		buckets: buckets,
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// Bucket returns a stable bucket in [0, Buckets()).
func (bm *BucketingManager) Bucket(key string) int {
	return int(bm.hash(key) % uint64(bm.buckets))
}

func (bm *BucketingManager) Buckets() int {
	return bm.buckets
}

func (bm *BucketingManager) hash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}

// Striper hands out one of a fixed set of mutexes per key, so unrelated keys
// rarely contend while the same key always maps to the same lock.
type Striper struct {
	manager *BucketingManager
	locks   []sync.Mutex
}

func NewStriper(stripes int) *Striper {
	m := NewBucketingManager(stripes)
	return &Striper{
		manager: m,
		locks:   make([]sync.Mutex, m.Buckets()),
	}
}

func (s *Striper) Lock(key string) func() {
	mu := &s.locks[s.manager.Bucket(key)]
	mu.Lock()
	return mu.Unlock
}
