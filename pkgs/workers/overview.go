package workers

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
)

// WorkerInfo is a background worker as last reported in Redis
type WorkerInfo struct {
	Type          string    `json:"type"`
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// PipelineOverview summarizes background state for operators
type PipelineOverview struct {
	StaleCount    int                               `json:"stale_count"`
	StaleStatus   string                            `json:"stale_status"`
	StaleProjects []string                          `json:"stale_projects"`
	Workers       []WorkerInfo                      `json:"workers"`
	Components    map[string]map[string]interface{} `json:"components,omitempty"`
	Timestamp     time.Time                         `json:"timestamp"`
}

// StatsSource reports in-process counters, such as Emitter.GetMetrics
type StatsSource func() map[string]interface{}

// OverviewReader reads the stale set and worker heartbeats the monitors publish
type OverviewReader struct {
	redisClient *redis.Client
	keyBuilder  *redislib.KeyBuilder
	stats       map[string]StatsSource
}

// NewOverviewReader creates an OverviewReader
func NewOverviewReader(redisClient *redis.Client, keyBuilder *redislib.KeyBuilder) *OverviewReader {
	return &OverviewReader{
		redisClient: redisClient,
		keyBuilder:  keyBuilder,
		stats:       make(map[string]StatsSource),
	}
}

// WithStats adds a named in-process component to the overview
func (o *OverviewReader) WithStats(name string, source StatsSource) *OverviewReader {
	o.stats[name] = source
	return o
}

// Overview collects the current pipeline overview
func (o *OverviewReader) Overview(ctx context.Context) (*PipelineOverview, error) {
	stale, err := o.redisClient.SMembers(ctx, o.keyBuilder.StaleSubmissions()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stale set: %w", err)
	}
	sort.Strings(stale)

	workers, err := o.workers(ctx)
	if err != nil {
		return nil, err
	}

	overview := &PipelineOverview{
		StaleCount:    len(stale),
		StaleStatus:   staleStatus(len(stale)),
		StaleProjects: stale,
		Workers:       workers,
		Timestamp:     time.Now().UTC(),
	}
	if len(o.stats) > 0 {
		overview.Components = make(map[string]map[string]interface{}, len(o.stats))
		for name, source := range o.stats {
			overview.Components[name] = source()
		}
	}
	return overview, nil
}

func (o *OverviewReader) workers(ctx context.Context) ([]WorkerInfo, error) {
	workers := []WorkerInfo{}
	iter := o.redisClient.Scan(ctx, 0, o.keyBuilder.WorkerHeartbeatPattern(), 100).Iterator()
	for iter.Next(ctx) {
		workerType, workerID, ok := o.keyBuilder.WorkerFromHeartbeatKey(iter.Val())
		if !ok {
			continue
		}
		info := WorkerInfo{Type: workerType, ID: workerID}

		if beat, err := o.redisClient.Get(ctx, iter.Val()).Result(); err == nil {
			if unix, err := strconv.ParseInt(beat, 10, 64); err == nil {
				info.LastHeartbeat = time.Unix(unix, 0).UTC()
			}
		}
		if status, err := o.redisClient.Get(ctx, o.keyBuilder.WorkerStatus(workerType, workerID)).Result(); err == nil {
			info.Status = status
		}
		workers = append(workers, info)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan worker heartbeats: %w", err)
	}

	sort.Slice(workers, func(i, j int) bool {
		if workers[i].Type != workers[j].Type {
			return workers[i].Type < workers[j].Type
		}
		return workers[i].ID < workers[j].ID
	})
	return workers, nil
}

func staleStatus(count int) string {
	switch {
	case count == 0:
		return "healthy"
	case count < 10:
		return "moderate"
	case count < 100:
		return "high"
	default:
		return "critical"
	}
}
