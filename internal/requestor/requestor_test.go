package requestor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/requestor"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
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

func setup(t *testing.T) (*storage.Store, *recordingQueue, *requestor.Service) {
	t.Helper()
	store := storagetest.New(t)
	storagetest.Seed(t, store)
	q := &recordingQueue{}
	return store, q, requestor.NewService(store, q, logger.NewNop().Logger)
}

func TestRequestJob(t *testing.T) {
	ctx := context.Background()
	store, q, svc := setup(t)
	session := storagetest.NewSession(t, store, map[string]any{"style": "noir", "name": "Ada"})

	result, err := svc.RequestJob(ctx, storagetest.ProjectID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, requestor.OutcomeRequested, result.Outcome)
	require.NotEmpty(t, result.JobID)

	job, err := store.GetJob(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, session.ID, job.SessionID)
	assert.Equal(t, storagetest.ExperienceID, job.ExperienceID)
	assert.Equal(t, "Ada", job.Snapshot.Responses["name"])
	assert.Equal(t, 1, job.Snapshot.ConfigVersion)
	assert.Equal(t, storagetest.OverlaySquare, job.Snapshot.OverlayChoice)
	assert.Equal(t, storagetest.Experience().Outcome.Nodes[0].ID, job.Snapshot.Outcome.Nodes[0].ID)

	sess, err := store.GetSession(ctx, storagetest.ProjectID, session.ID)
	require.NoError(t, err)
	require.NotNil(t, sess.JobID)
	assert.Equal(t, result.JobID, *sess.JobID)

	require.Len(t, q.tasks, 1)
	var payload task.ExecuteTransform
	require.NoError(t, q.tasks[0].Bind(&payload))
	assert.Equal(t, result.JobID, payload.JobID)

	t.Run("second request while active", func(t *testing.T) {
		again, err := svc.RequestJob(ctx, storagetest.ProjectID, session.ID)
		require.NoError(t, err)
		assert.Equal(t, requestor.OutcomeAlreadyInProgress, again.Outcome)
		assert.Empty(t, again.JobID)
		assert.Len(t, q.tasks, 1, "no second task is enqueued")
	})
}

func TestRequestJob_ConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	store, q, svc := setup(t)
	session := storagetest.NewSession(t, store, nil)

	const requests = 8
	var requested, inProgress atomic.Int32
	var wg sync.WaitGroup
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.RequestJob(ctx, storagetest.ProjectID, session.ID)
			if !assert.NoError(t, err) {
				return
			}
			switch result.Outcome {
			case requestor.OutcomeRequested:
				requested.Add(1)
			case requestor.OutcomeAlreadyInProgress:
				inProgress.Add(1)
			default:
				t.Errorf("unexpected outcome %q", result.Outcome)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), requested.Load())
	assert.Equal(t, int32(requests-1), inProgress.Load())

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Len(t, q.tasks, 1, "only the winning request enqueues")
}

func TestRequestJob_SnapshotIsFrozen(t *testing.T) {
	ctx := context.Background()
	store, _, svc := setup(t)
	session := storagetest.NewSession(t, store, nil)

	result, err := svc.RequestJob(ctx, storagetest.ProjectID, session.ID)
	require.NoError(t, err)

	edited := storagetest.Experience()
	edited.Outcome.Prompt = "comic book"
	edited.Outcome.Nodes[0].Config["strength"] = 0.1
	edited.ConfigVersion = 2
	require.NoError(t, store.UpsertExperience(ctx, edited))
	require.NoError(t, store.UpdateSessionResponses(ctx, storagetest.ProjectID, session.ID, map[string]any{"style": "pop"}))

	job, err := store.GetJob(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, "studio portrait", job.Snapshot.Outcome.Prompt)
	assert.Equal(t, 0.7, job.Snapshot.Outcome.Nodes[0].Config["strength"])
	assert.Equal(t, 1, job.Snapshot.ConfigVersion)
	assert.Equal(t, "noir", job.Snapshot.Responses["style"])
}

func TestRequestJob_Overlay(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(exp *domain.Experience)
		want    *domain.MediaRef
		wantErr bool
	}{
		{
			name:   "ratio without dedicated overlay uses default",
			mutate: func(exp *domain.Experience) { exp.AspectRatio = domain.AspectRatioPortrait },
			want:   storagetest.OverlayDefault,
		},
		{
			name:   "overlay disabled",
			mutate: func(exp *domain.Experience) { exp.ApplyOverlay = false },
			want:   nil,
		},
		{
			name: "ratio not allowed for video",
			mutate: func(exp *domain.Experience) {
				exp.MediaType = domain.MediaTypeVideo
				exp.AspectRatio = domain.AspectRatio4x5
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, q, svc := setup(t)

			exp := storagetest.Experience()
			tt.mutate(exp)
			require.NoError(t, store.UpsertExperience(ctx, exp))
			session := storagetest.NewSession(t, store, nil)

			result, err := svc.RequestJob(ctx, storagetest.ProjectID, session.ID)
			if tt.wantErr {
				var validationErr *domain.ValidationError
				require.ErrorAs(t, err, &validationErr)
				assert.Equal(t, "aspect_ratio", validationErr.Field)
				assert.Empty(t, q.tasks)

				sess, err := store.GetSession(ctx, storagetest.ProjectID, session.ID)
				require.NoError(t, err)
				assert.Nil(t, sess.JobID, "nothing is persisted on validation failure")
				return
			}

			require.NoError(t, err)
			job, err := store.GetJob(ctx, result.JobID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, job.Snapshot.OverlayChoice)
		})
	}
}

func TestRequestJob_NoTransformConfigured(t *testing.T) {
	ctx := context.Background()
	store, q, svc := setup(t)

	exp := storagetest.Experience()
	exp.Outcome.Nodes = nil
	require.NoError(t, store.UpsertExperience(ctx, exp))
	session := storagetest.NewSession(t, store, nil)

	result, err := svc.RequestJob(ctx, storagetest.ProjectID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, requestor.OutcomeNoOpSkip, result.Outcome)
	assert.Empty(t, result.JobID)
	assert.Empty(t, q.tasks)

	sess, err := store.GetSession(ctx, storagetest.ProjectID, session.ID)
	require.NoError(t, err)
	assert.Nil(t, sess.JobID)
}

func TestRequestJob_UnknownSession(t *testing.T) {
	ctx := context.Background()
	store, _, svc := setup(t)
	session := storagetest.NewSession(t, store, nil)

	_, err := svc.RequestJob(ctx, storagetest.ProjectID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.RequestJob(ctx, "proj-2", session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestJob_EnqueueFailureKeepsJob(t *testing.T) {
	ctx := context.Background()
	store, q, svc := setup(t)
	q.err = errors.New("broker unavailable")
	session := storagetest.NewSession(t, store, nil)

	result, err := svc.RequestJob(ctx, storagetest.ProjectID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, requestor.OutcomeRequested, result.Outcome)

	job, err := store.GetJob(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}
