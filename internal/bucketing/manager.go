package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// BucketingManager assigns credentials to stable partition buckets so the
// credential table stays evenly spread across the cluster.
type BucketingManager struct {
	userBuckets int
	hasherPool  sync.Pool
}

func NewBucketingManager(userBuckets int) *BucketingManager {
	bm := &BucketingManager{
		userBuckets: userBuckets,
	}

	// Pool of hash functions to avoid allocation overhead on the hot path
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetUserBucket returns a consistent bucket for an identity (0 to userBuckets-1).
func (bm *BucketingManager) GetUserBucket(identity string) int {
	return int(bm.getHash(identity) % uint64(bm.userBuckets))
}

// GetUserBuckets returns the configured bucket count.
func (bm *BucketingManager) GetUserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
