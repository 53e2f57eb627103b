package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"login-security/internal/config"
)

// BucketingManager assigns consistent partition buckets for Scylla keys so
// hot users and event streams spread across the cluster.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hash functions to avoid allocation overhead on the login path
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetUserBucket returns the consistent bucket for a user (0 to userBuckets-1)
func (bm *BucketingManager) GetUserBucket(userID interface{}) int {
	var idStr string

	switch v := userID.(type) {
	case string:
		idStr = v
	case uuid.UUID:
		idStr = v.String()
	default:
		idStr = ""
	}

	return bm.getBucket(idStr, bm.userBuckets)
}

// GetEventBucket returns the bucket for security events keyed by identifier
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetDateBucket returns the UTC date bucket for event partitioning
func (bm *BucketingManager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(value string, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(value))

	return int(hasher.Sum64() % uint64(buckets))
}
