package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/events"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/metrics"
	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/store"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

const (
	DefaultStaleAfter   = 10 * time.Minute
	DefaultScanInterval = time.Minute
	scanLimit           = 1000
)

// pipelineStatuses are the states a record passes through while a request
// is in flight. A record resting in one of them has lost its pipeline run.
var pipelineStatuses = []submissions.Status{
	submissions.StatusCreated,
	submissions.StatusScoring,
	submissions.StatusScored,
	submissions.StatusMinting,
}

// Notifier receives stale-record events
type Notifier interface {
	Emit(event *events.Event) error
}

// StaleRecord is a submission stuck mid-pipeline
type StaleRecord struct {
	ProjectID string
	Status    submissions.Status
	UpdatedAt time.Time
	Age       time.Duration
}

// StaleMonitor periodically reports submissions stuck in a non-terminal
// state. It only reports: a record stuck in minting may have a transaction
// in flight, so nothing is retried automatically.
type StaleMonitor struct {
	store       store.Store
	redisClient *redis.Client
	keyBuilder  *redislib.KeyBuilder
	monitor     *WorkerMonitor
	notifier    Notifier
	staleAfter  time.Duration
	interval    time.Duration
	now         func() time.Time
}

// NewStaleMonitor creates a monitor; notifier may be nil
func NewStaleMonitor(st store.Store, redisClient *redis.Client, keyBuilder *redislib.KeyBuilder, workerID string, notifier Notifier, staleAfter, interval time.Duration) *StaleMonitor {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &StaleMonitor{
		store:       st,
		redisClient: redisClient,
		keyBuilder:  keyBuilder,
		monitor:     NewWorkerMonitor(redisClient, keyBuilder, workerID, WorkerTypeStaleMonitor),
		notifier:    notifier,
		staleAfter:  staleAfter,
		interval:    interval,
		now:         time.Now,
	}
}

// Scan finds stale records, replaces the stale set in Redis and reports
// records that were not stale on the previous scan
func (m *StaleMonitor) Scan(ctx context.Context) ([]StaleRecord, error) {
	records, err := m.store.List(ctx, store.Filter{Statuses: pipelineStatuses}, scanLimit)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var stale []StaleRecord
	for _, sub := range records {
		if sub.Status.IsTerminal() {
			continue
		}
		age := now.Sub(sub.UpdatedAt)
		if age < m.staleAfter {
			continue
		}
		stale = append(stale, StaleRecord{
			ProjectID: sub.ProjectID,
			Status:    sub.Status,
			UpdatedAt: sub.UpdatedAt,
			Age:       age,
		})
	}

	setKey := m.keyBuilder.StaleSubmissions()
	previous, err := m.redisClient.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read stale set: %v", submissions.ErrStoreUnavailable, err)
	}
	seen := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		seen[id] = struct{}{}
	}

	pipe := m.redisClient.TxPipeline()
	pipe.Del(ctx, setKey)
	if len(stale) > 0 {
		members := make([]interface{}, 0, len(stale))
		for _, r := range stale {
			members = append(members, r.ProjectID)
		}
		pipe.SAdd(ctx, setKey, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: write stale set: %v", submissions.ErrStoreUnavailable, err)
	}

	metrics.StaleSubmissions.Set(float64(len(stale)))

	for _, r := range stale {
		if _, ok := seen[r.ProjectID]; ok {
			continue
		}
		log.WithFields(log.Fields{
			"project_id": r.ProjectID,
			"status":     r.Status,
			"age":        r.Age.Round(time.Second).String(),
		}).Warn("Submission stuck in non-terminal state")
		m.notify(r)
	}

	return stale, nil
}

func (m *StaleMonitor) notify(r StaleRecord) {
	if m.notifier == nil {
		return
	}
	event, err := events.NewEvent(events.EventStaleSubmission, events.SeverityWarning, "stale_monitor", &events.StaleEventPayload{
		ProjectID: r.ProjectID,
		Status:    string(r.Status),
		UpdatedAt: r.UpdatedAt,
		Age:       int64(r.Age.Seconds()),
	})
	if err != nil {
		return
	}
	event.ProjectID = r.ProjectID
	if err := m.notifier.Emit(event); err != nil {
		log.WithError(err).Debug("Failed to emit stale submission event")
	}
}

// Run scans on every interval until ctx is done
func (m *StaleMonitor) Run(ctx context.Context) {
	if err := m.monitor.UpdateStatus(ctx, WorkerStatusIdle); err != nil {
		log.WithError(err).Warn("Failed to register stale monitor")
	}
	go m.monitor.HeartbeatLoop(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"stale_after": m.staleAfter.String(),
		"interval":    m.interval.String(),
	}).Info("Stale submission monitor started")

	for {
		select {
		case <-ctx.Done():
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			m.monitor.CleanupWorker(cleanupCtx)
			cancel()
			return
		case <-ticker.C:
			m.monitor.UpdateStatus(ctx, WorkerStatusProcessing)
			if _, err := m.Scan(ctx); err != nil {
				log.WithError(err).Error("Stale submission scan failed")
				m.monitor.UpdateStatus(ctx, WorkerStatusFailed)
				continue
			}
			m.monitor.UpdateStatus(ctx, WorkerStatusIdle)
		}
	}
}
