package workers

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
)

// WorkerType represents the type of worker
type WorkerType string

const (
	WorkerTypeStaleMonitor WorkerType = "stale_monitor"
)

// WorkerStatus represents the current state of a worker
type WorkerStatus string

const (
	WorkerStatusIdle       WorkerStatus = "idle"
	WorkerStatusProcessing WorkerStatus = "processing"
	WorkerStatusFailed     WorkerStatus = "failed"
)

const (
	statusTTL         = 24 * time.Hour
	heartbeatTTL      = 5 * time.Minute
	heartbeatInterval = 30 * time.Second
)

// WorkerMonitor publishes a worker's status and heartbeat to Redis so
// operators can see which replica runs background jobs
type WorkerMonitor struct {
	redisClient *redis.Client
	keyBuilder  *redislib.KeyBuilder
	workerID    string
	workerType  WorkerType
}

// NewWorkerMonitor creates a new worker monitor instance
func NewWorkerMonitor(redisClient *redis.Client, keyBuilder *redislib.KeyBuilder, workerID string, workerType WorkerType) *WorkerMonitor {
	return &WorkerMonitor{
		redisClient: redisClient,
		keyBuilder:  keyBuilder,
		workerID:    workerID,
		workerType:  workerType,
	}
}

// UpdateStatus updates the worker's current status in Redis
func (wm *WorkerMonitor) UpdateStatus(ctx context.Context, status WorkerStatus) error {
	key := wm.keyBuilder.WorkerStatus(string(wm.workerType), wm.workerID)
	if err := wm.redisClient.Set(ctx, key, string(status), statusTTL).Err(); err != nil {
		log.Errorf("Failed to update worker status: %v", err)
		return err
	}

	log.Debugf("Worker %s:%s status updated to %s", wm.workerType, wm.workerID, status)
	return wm.UpdateHeartbeat(ctx)
}

// UpdateHeartbeat updates the worker's last heartbeat timestamp
func (wm *WorkerMonitor) UpdateHeartbeat(ctx context.Context) error {
	key := wm.keyBuilder.WorkerHeartbeat(string(wm.workerType), wm.workerID)
	if err := wm.redisClient.Set(ctx, key, time.Now().Unix(), heartbeatTTL).Err(); err != nil {
		log.Errorf("Failed to update worker heartbeat: %v", err)
		return err
	}
	return nil
}

// HeartbeatLoop maintains the worker heartbeat until ctx is done
func (wm *WorkerMonitor) HeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("Worker %s:%s heartbeat loop stopped", wm.workerType, wm.workerID)
			return
		case <-ticker.C:
			if err := wm.UpdateHeartbeat(ctx); err != nil {
				log.Errorf("Failed to update heartbeat for worker %s:%s: %v",
					wm.workerType, wm.workerID, err)
			}
		}
	}
}

// CleanupWorker removes worker tracking data on shutdown
func (wm *WorkerMonitor) CleanupWorker(ctx context.Context) {
	wm.redisClient.Del(ctx,
		wm.keyBuilder.WorkerStatus(string(wm.workerType), wm.workerID),
		wm.keyBuilder.WorkerHeartbeat(string(wm.workerType), wm.workerID),
	)
	log.Infof("Worker %s:%s monitoring data cleaned up", wm.workerType, wm.workerID)
}
