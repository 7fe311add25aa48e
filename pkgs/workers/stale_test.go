package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/events"
	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/store"
	"github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/submissions"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*events.Event
}

func (n *recordingNotifier) Emit(event *events.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func TestStaleMonitorScan(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	kb := redislib.NewKeyBuilder("test", "")
	st := store.NewRedisStore(client, kb)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	add := func(id string, status submissions.Status, at time.Time) {
		require.NoError(t, st.Create(ctx, &submissions.Submission{ProjectID: id, Status: status, CreatedAt: at}))
	}
	add("stuck-minting", submissions.StatusMinting, base)
	add("stuck-scoring", submissions.StatusScoring, base)
	add("recent", submissions.StatusScoring, base.Add(9*time.Minute))
	add("done", submissions.StatusMinted, base)
	add("flagged", submissions.StatusFlagged, base)

	notifier := &recordingNotifier{}
	m := NewStaleMonitor(st, client, kb, "w1", notifier, 10*time.Minute, time.Minute)
	m.now = func() time.Time { return base.Add(15 * time.Minute) }

	stale, err := m.Scan(ctx)
	require.NoError(t, err)
	ids := []string{}
	for _, r := range stale {
		ids = append(ids, r.ProjectID)
	}
	assert.ElementsMatch(t, []string{"stuck-minting", "stuck-scoring"}, ids)

	members, err := mr.Members(kb.StaleSubmissions())
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, members)
	assert.Len(t, notifier.events, 2)
	assert.Equal(t, events.EventStaleSubmission, notifier.events[0].Type)

	// a second scan reports nothing new
	_, err = m.Scan(ctx)
	require.NoError(t, err)
	assert.Len(t, notifier.events, 2)

	// records that finish drop out of the set
	_, err = st.Update(ctx, "stuck-scoring", func(sub *submissions.Submission) error {
		sub.Status = submissions.StatusFlagged
		return nil
	})
	require.NoError(t, err)
	stale, err = m.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	members, err = mr.Members(kb.StaleSubmissions())
	require.NoError(t, err)
	assert.Equal(t, []string{"stuck-minting"}, members)
}

func TestWorkerMonitorStatusAndCleanup(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	kb := redislib.NewKeyBuilder("test", "")
	ctx := context.Background()

	wm := NewWorkerMonitor(client, kb, "w1", WorkerTypeStaleMonitor)
	require.NoError(t, wm.UpdateStatus(ctx, WorkerStatusProcessing))

	status, err := mr.Get(kb.WorkerStatus(string(WorkerTypeStaleMonitor), "w1"))
	require.NoError(t, err)
	assert.Equal(t, "processing", status)
	assert.True(t, mr.Exists(kb.WorkerHeartbeat(string(WorkerTypeStaleMonitor), "w1")))

	wm.CleanupWorker(ctx)
	assert.False(t, mr.Exists(kb.WorkerStatus(string(WorkerTypeStaleMonitor), "w1")))
}

func TestStaleMonitorRunStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	kb := redislib.NewKeyBuilder("test", "")

	m := NewStaleMonitor(store.NewRedisStore(client, kb), client, kb, "w1", nil, time.Minute, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
