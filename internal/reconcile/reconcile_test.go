package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/storage/storagetest"
	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []task.Task
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, t task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *recordingQueue) jobIDs(t *testing.T) []string {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for _, tsk := range q.tasks {
		var payload task.ExecuteTransform
		require.NoError(t, tsk.Bind(&payload))
		ids = append(ids, payload.JobID)
	}
	return ids
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	storagetest.Seed(t, store)

	stale := storagetest.NewJob(t, storagetest.NewSession(t, store, nil))
	require.NoError(t, store.CreateJob(ctx, stale))

	running := storagetest.NewJob(t, storagetest.NewSession(t, store, nil))
	require.NoError(t, store.CreateJob(ctx, running))
	_, err := store.ClaimJob(ctx, running.ID, 1, false)
	require.NoError(t, err)

	storagetest.CompletedJob(t, store, storagetest.NewSession(t, store, nil))

	q := &recordingQueue{}
	sweeper := NewSweeper(store, q, logger.NewNop().Logger, 0)
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	t.Run("young jobs are left alone", func(t *testing.T) {
		n, err := sweeper.Sweep(ctx, 2*time.Hour)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, q.jobIDs(t))
	})

	t.Run("only pending jobs are re-enqueued", func(t *testing.T) {
		n, err := sweeper.Sweep(ctx, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{stale.ID}, q.jobIDs(t))
	})

	t.Run("enqueue failures are reported", func(t *testing.T) {
		q.err = errors.New("broker unavailable")
		n, err := sweeper.Sweep(ctx, 30*time.Minute)
		assert.Zero(t, n)
		assert.ErrorContains(t, err, stale.ID)
	})

	job, err := store.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}

func TestSweep_BatchSize(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	storagetest.Seed(t, store)

	for range 3 {
		require.NoError(t, store.CreateJob(ctx, storagetest.NewJob(t, storagetest.NewSession(t, store, nil))))
	}

	q := &recordingQueue{}
	sweeper := NewSweeper(store, q, logger.NewNop().Logger, 2)
	sweeper.now = func() time.Time { return time.Now().Add(time.Minute) }

	n, err := sweeper.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)
	storagetest.Seed(t, store)

	pending := storagetest.NewJob(t, storagetest.NewSession(t, store, nil))
	require.NoError(t, store.CreateJob(ctx, pending))

	stuck := storagetest.NewJob(t, storagetest.NewSession(t, store, nil))
	require.NoError(t, store.CreateJob(ctx, stuck))
	_, err := store.ClaimJob(ctx, stuck.ID, 2, false)
	require.NoError(t, err)

	done := storagetest.CompletedJob(t, store, storagetest.NewSession(t, store, nil))

	sweeper := NewSweeper(store, &recordingQueue{}, logger.NewNop().Logger, 0)
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	tests := []struct {
		name       string
		runningFor time.Duration
		want       int
	}{
		{name: "within the retry budget", runningFor: 2 * time.Hour, want: 0},
		{name: "past the retry budget", runningFor: 30 * time.Minute, want: 1},
		{name: "already failed", runningFor: 30 * time.Minute, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := sweeper.Abandon(ctx, tt.runningFor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	job, err := store.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, domain.ErrorKindTransientExhausted, job.Error.Kind)
	assert.Equal(t, abandonedMessage, job.Error.Message)

	sess, err := store.GetSession(ctx, storagetest.ProjectID, stuck.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, *sess.JobStatus)

	for id, want := range map[string]domain.JobStatus{
		pending.ID: domain.JobStatusPending,
		done.ID:    domain.JobStatusCompleted,
	} {
		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, job.Status)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := storagetest.New(t)
	storagetest.Seed(t, store)
	require.NoError(t, store.CreateJob(context.Background(), storagetest.NewJob(t, storagetest.NewSession(t, store, nil))))

	q := &recordingQueue{}
	sweeper := NewSweeper(store, q, logger.NewNop().Logger, 0)
	sweeper.now = func() time.Time { return time.Now().Add(time.Minute) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx, 10*time.Millisecond, 0, 0)
	}()

	require.Eventually(t, func() bool { return len(q.jobIDs(t)) > 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconcile loop did not stop")
	}
}
