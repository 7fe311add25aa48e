package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

const (
	DefaultTTL          = 3 * time.Minute
	DefaultWait         = 10 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker serializes mint-path work on a single project across processes
type Locker interface {
	Lock(ctx context.Context, projectID string) (Unlock, error)
}

// Unlock releases a held lock
type Unlock func()

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release
type RedisLocker struct {
	client       *redis.Client
	keyBuilder   *redislib.KeyBuilder
	ttl          time.Duration
	wait         time.Duration
	pollInterval time.Duration
}

// NewRedisLocker creates a locker. ttl must outlive the longest critical
// section (a mint waiting for confirmation); wait bounds how long Lock polls.
func NewRedisLocker(client *redis.Client, keyBuilder *redislib.KeyBuilder, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &RedisLocker{
		client:       client,
		keyBuilder:   keyBuilder,
		ttl:          ttl,
		wait:         wait,
		pollInterval: defaultPollInterval,
	}
}

// Lock blocks until the project lock is acquired, the wait budget runs out
// (ErrBusy) or ctx is cancelled
func (l *RedisLocker) Lock(ctx context.Context, projectID string) (Unlock, error) {
	key := l.keyBuilder.ProjectLock(projectID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: lock %s: %v", submissions.ErrStoreUnavailable, projectID, err)
		}
		if ok {
			log.WithField("project_id", projectID).Debug("Acquired project lock")
			return l.unlockFunc(key, token, projectID), nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", submissions.ErrBusy, projectID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) unlockFunc(key, token, projectID string) Unlock {
	return func() {
		// release even if the caller's context is already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.WithError(err).WithField("project_id", projectID).Warn("Failed to release project lock, it will expire")
			return
		}
		log.WithField("project_id", projectID).Debug("Released project lock")
	}
}
