package deduplication

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

const (
	DefaultLocalCacheSize = 10000
	DefaultTTL            = 24 * time.Hour
)

// Deduplicator provides two-layer replay protection for direct mint requests
type Deduplicator struct {
	redis      *redis.Client
	localCache *lru.Cache[string, bool]
	ttl        time.Duration
	keyPrefix  string
}

// NewDeduplicator creates a new deduplicator with local LRU cache and Redis backend
func NewDeduplicator(redisClient *redis.Client, keyBuilder *redislib.KeyBuilder, localCacheSize int, ttl time.Duration) (*Deduplicator, error) {
	if localCacheSize <= 0 {
		localCacheSize = DefaultLocalCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := lru.New[string, bool](localCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &Deduplicator{
		redis:      redisClient,
		localCache: cache,
		ttl:        ttl,
		keyPrefix:  keyBuilder.DedupPrefix(),
	}, nil
}

// GenerateKey scopes an idempotency key to the operator that sent it
func (d *Deduplicator) GenerateKey(operator, idempotencyKey string) string {
	hash := sha256.Sum256([]byte(operator + ":" + idempotencyKey))
	return hex.EncodeToString(hash[:16]) // Use first 16 bytes for shorter keys
}

// CheckAndMark checks if a key was seen and marks it if not.
// Returns true if this is a NEW request (should be processed)
func (d *Deduplicator) CheckAndMark(ctx context.Context, key string) (bool, error) {
	fullKey := d.keyPrefix + key

	// Fast path: Check local LRU cache
	if d.localCache.Contains(key) {
		log.Debugf("Dedup hit (local cache): %s", key)
		return false, nil
	}

	// Slow path: atomic SetNX in Redis, shared by every replica
	ok, err := d.redis.SetNX(ctx, fullKey, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: dedup SetNX: %v", submissions.ErrStoreUnavailable, err)
	}

	d.localCache.Add(key, true)
	if ok {
		log.Debugf("Dedup miss (new request): %s", key)
		return true, nil
	}

	log.Debugf("Dedup hit (redis): %s", key)
	return false, nil
}

// Release forgets a key so the request can be retried, used when the
// guarded operation failed before taking effect
func (d *Deduplicator) Release(ctx context.Context, key string) error {
	d.localCache.Remove(key)
	if err := d.redis.Del(ctx, d.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: dedup release: %v", submissions.ErrStoreUnavailable, err)
	}
	return nil
}
