package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

const (
	// maxUpdateAttempts bounds optimistic retries when a record changes under WATCH
	maxUpdateAttempts = 16

	// listScanBatch is how many index entries are fetched per round when filtering
	listScanBatch = 100
)

// createScript writes the record and its index entry together, only if the
// project ID is unused
var createScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 1 then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
	return 1
end
return 0
`)

// Store is the durable owner of submission records
type Store interface {
	Create(ctx context.Context, sub *submissions.Submission) error
	Get(ctx context.Context, projectID string) (*submissions.Submission, error)
	Update(ctx context.Context, projectID string, mutate MutateFunc) (*submissions.Submission, error)
	List(ctx context.Context, filter Filter, limit int) ([]*submissions.Submission, error)
	Ping(ctx context.Context) error
}

// MutateFunc edits the current record in place. Returning an error aborts the update.
type MutateFunc func(sub *submissions.Submission) error

// Filter narrows List results. The zero value matches every record.
type Filter struct {
	OnlyUnminted  bool
	MinFraudScore *float64
	Statuses      []submissions.Status

	// IncludeScoreFailed lets records whose scoring failed pass the score
	// filter, as if they had scored the maximum
	IncludeScoreFailed bool
}

func (f Filter) matches(sub *submissions.Submission) bool {
	if f.OnlyUnminted && sub.Minting.OK {
		return false
	}
	if f.MinFraudScore != nil {
		switch {
		case sub.Scoring != nil:
			if sub.Scoring.FraudScorePercent < *f.MinFraudScore {
				return false
			}
		case f.IncludeScoreFailed && sub.ScoreError != "":
		default:
			// otherwise a record without a recorded score never matches
			return false
		}
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if sub.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RedisStore keeps each submission as a JSON string plus a creation-time index
type RedisStore struct {
	client     *redis.Client
	keyBuilder *redislib.KeyBuilder
	now        func() time.Time
}

// NewRedisStore creates a store on top of an existing Redis client
func NewRedisStore(client *redis.Client, keyBuilder *redislib.KeyBuilder) *RedisStore {
	return &RedisStore{
		client:     client,
		keyBuilder: keyBuilder,
		now:        time.Now,
	}
}

// Ping checks the store is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", submissions.ErrStoreUnavailable, err)
	}
	return nil
}

// Create persists a new record. Fails with ErrConflict if the project ID exists.
func (s *RedisStore) Create(ctx context.Context, sub *submissions.Submission) error {
	if sub == nil || sub.ProjectID == "" {
		return submissions.Missing("projectId")
	}

	sub.Version = 1
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.CreatedAt
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal submission %s: %w", sub.ProjectID, err)
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{s.keyBuilder.Submission(sub.ProjectID), s.keyBuilder.SubmissionsByCreated()},
		string(data), strconv.FormatInt(sub.CreatedAt.UnixNano(), 10), sub.ProjectID,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", submissions.ErrStoreUnavailable, sub.ProjectID, err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", submissions.ErrConflict, sub.ProjectID)
	}

	log.WithField("project_id", sub.ProjectID).Debug("Submission record created")
	return nil
}

// Get loads a record by project ID
func (s *RedisStore) Get(ctx context.Context, projectID string) (*submissions.Submission, error) {
	data, err := s.client.Get(ctx, s.keyBuilder.Submission(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", submissions.ErrNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", submissions.ErrStoreUnavailable, projectID, err)
	}
	return decode(projectID, data)
}

// Update applies mutate to the current record atomically. The record is
// watched while being read so a concurrent writer forces a re-read and the
// mutation is replayed on the fresh copy, never on a stale one.
func (s *RedisStore) Update(ctx context.Context, projectID string, mutate MutateFunc) (*submissions.Submission, error) {
	key := s.keyBuilder.Submission(projectID)
	var updated *submissions.Submission

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", submissions.ErrNotFound, projectID)
		}
		if err != nil {
			return fmt.Errorf("%w: get %s: %v", submissions.ErrStoreUnavailable, projectID, err)
		}

		current, err := decode(projectID, data)
		if err != nil {
			return err
		}
		createdAt := current.CreatedAt

		if err := mutate(current); err != nil {
			return &abortError{err: err}
		}

		current.ProjectID = projectID
		current.CreatedAt = createdAt
		current.Version++
		current.UpdatedAt = s.now().UTC()

		out, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("failed to marshal submission %s: %w", projectID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = current
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			log.WithFields(log.Fields{
				"project_id": projectID,
				"attempt":    attempt + 1,
			}).Debug("Concurrent submission update, retrying")
			continue
		}
		var abort *abortError
		if errors.As(err, &abort) {
			return nil, abort.err
		}
		if errors.Is(err, submissions.ErrNotFound) || errors.Is(err, submissions.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: update %s: %v", submissions.ErrStoreUnavailable, projectID, err)
	}

	return nil, fmt.Errorf("%w: update %s: too much contention", submissions.ErrStoreUnavailable, projectID)
}

// List returns records newest first, applying filter until limit matches are found
func (s *RedisStore) List(ctx context.Context, filter Filter, limit int) ([]*submissions.Submission, error) {
	if limit <= 0 {
		return []*submissions.Submission{}, nil
	}

	result := make([]*submissions.Submission, 0, min(limit, listScanBatch))
	indexKey := s.keyBuilder.SubmissionsByCreated()
	// ranks shift when records are added between batches
	seen := make(map[string]struct{})

	for start := int64(0); len(result) < limit; start += listScanBatch {
		ids, err := s.client.ZRevRange(ctx, indexKey, start, start+listScanBatch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: list: %v", submissions.ErrStoreUnavailable, err)
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.keyBuilder.Submission(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: list: %v", submissions.ErrStoreUnavailable, err)
		}

		for i, v := range values {
			if _, dup := seen[ids[i]]; dup {
				continue
			}
			seen[ids[i]] = struct{}{}

			raw, ok := v.(string)
			if !ok {
				// index entry without a record; skip it
				continue
			}
			sub, err := decode(ids[i], []byte(raw))
			if err != nil {
				log.WithError(err).WithField("project_id", ids[i]).Warn("Skipping undecodable submission")
				continue
			}
			if !filter.matches(sub) {
				continue
			}
			result = append(result, sub)
			if len(result) == limit {
				break
			}
		}

		if len(ids) < listScanBatch {
			break
		}
	}

	return result, nil
}

func decode(projectID string, data []byte) (*submissions.Submission, error) {
	var sub submissions.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse submission %s: %w", projectID, err)
	}
	return &sub, nil
}

// abortError carries a mutate failure out of the WATCH callback untouched
type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
