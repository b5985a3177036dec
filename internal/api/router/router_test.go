package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/api/dto"
	"github.com/cuongbtq/transform-pipeline/internal/api/handler"
	"github.com/cuongbtq/transform-pipeline/internal/api/router"
	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/intake"
	"github.com/cuongbtq/transform-pipeline/internal/notify"
	"github.com/cuongbtq/transform-pipeline/internal/requestor"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/cuongbtq/transform-pipeline/internal/storage/storagetest"
	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardQueue struct{}

func (discardQueue) Enqueue(context.Context, task.Task) error { return nil }

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type brokerState bool

func (b brokerState) IsConnected() bool { return bool(b) }

type server struct {
	store  *storage.Store
	engine *gin.Engine
	sent   []notify.Notification
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop().Logger
	s := &server{store: storagetest.New(t)}
	storagetest.Seed(t, s.store)

	notifier := notify.NewController(s.store, notify.SenderFunc(func(_ context.Context, n notify.Notification) error {
		s.sent = append(s.sent, n)
		return nil
	}), log)

	s.engine = router.SetupRouter(&handler.Dependencies{
		Logger:      log,
		ServiceName: "transform-api",
		Requestor:   requestor.NewService(s.store, discardQueue{}, log),
		Intake:      intake.NewService(s.store, notifier, log),
		Store:       s.store,
	})
	return s
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func sessionPath(sessionID string) string {
	return "/api/v1/projects/" + storagetest.ProjectID + "/sessions/" + sessionID
}

func TestRequestJob(t *testing.T) {
	s := newServer(t)
	session := storagetest.NewSession(t, s.store, nil)

	w := s.do(t, http.MethodPost, sessionPath(session.ID)+"/jobs", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[dto.RequestJobResponse](t, w)
	assert.Equal(t, string(requestor.OutcomeRequested), resp.Result)
	assert.Equal(t, "pending", resp.Status)
	assert.NotEmpty(t, resp.JobID)

	w = s.do(t, http.MethodPost, sessionPath(session.ID)+"/jobs", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_in_progress", decode[dto.ErrorResponse](t, w).Error)

	w = s.do(t, http.MethodPost, sessionPath("missing")+"/jobs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestJob_NoOpAndInvalidConfig(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	exp := storagetest.Experience()
	exp.Outcome.Nodes = nil
	require.NoError(t, s.store.UpsertExperience(ctx, exp))
	session := storagetest.NewSession(t, s.store, nil)

	w := s.do(t, http.MethodPost, sessionPath(session.ID)+"/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "noop_skip", decode[dto.RequestJobResponse](t, w).Result)

	exp = storagetest.Experience()
	exp.MediaType = domain.MediaTypeVideo
	exp.AspectRatio = domain.AspectRatio3x2
	require.NoError(t, s.store.UpsertExperience(ctx, exp))

	w = s.do(t, http.MethodPost, sessionPath(session.ID)+"/jobs", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "aspect_ratio", decode[dto.ErrorResponse](t, w).Field)
}

func TestSubmitRecipient(t *testing.T) {
	s := newServer(t)
	session := storagetest.NewSession(t, s.store, nil)
	storagetest.CompletedJob(t, s.store, session)

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantBody string
	}{
		{name: "missing body field", body: map[string]string{}, wantCode: http.StatusBadRequest, wantBody: "invalid_format"},
		{name: "not an email", body: dto.SubmitRecipientRequest{Address: "nope"}, wantCode: http.StatusBadRequest, wantBody: "invalid_format"},
		{name: "accepted", body: dto.SubmitRecipientRequest{Address: " guest@example.com "}, wantCode: http.StatusOK, wantBody: "ok"},
		{name: "second submission", body: dto.SubmitRecipientRequest{Address: "other@example.com"}, wantCode: http.StatusConflict, wantBody: "already_submitted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, sessionPath(session.ID)+"/recipient", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}

	require.Len(t, s.sent, 1, "completed result is sent as part of the submission")
	assert.Equal(t, "guest@example.com", s.sent[0].Address)

	w := s.do(t, http.MethodPost, sessionPath("missing")+"/recipient", dto.SubmitRecipientRequest{Address: "guest@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSession(t *testing.T) {
	s := newServer(t)
	session := storagetest.NewSession(t, s.store, nil)
	job := storagetest.CompletedJob(t, s.store, session)

	w := s.do(t, http.MethodGet, sessionPath(session.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[dto.SessionDTO](t, w)
	assert.Equal(t, job.ID, got.JobID)
	assert.Equal(t, "completed", got.JobStatus)
	assert.Equal(t, storagetest.ResultMedia, got.ResultMedia)
	assert.False(t, got.RecipientSubmitted)
	assert.NotContains(t, w.Body.String(), "address")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, sessionPath("missing"), nil).Code)
}

func TestGetJob(t *testing.T) {
	s := newServer(t)
	job := storagetest.CompletedJob(t, s.store, storagetest.NewSession(t, s.store, nil))

	w := s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[dto.JobDTO](t, w)
	assert.Equal(t, job.ID, got.JobID)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, storagetest.ResultMedia, got.Output)
	assert.NotEmpty(t, got.CompletedAt)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil).Code)
}

func TestCancelJob(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	pending := storagetest.NewJob(t, storagetest.NewSession(t, s.store, nil))
	require.NoError(t, s.store.CreateJob(ctx, pending))

	w := s.do(t, http.MethodPost, "/api/v1/jobs/"+pending.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode[dto.JobDTO](t, w).Status)

	w = s.do(t, http.MethodPost, "/api/v1/jobs/"+pending.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_cancellable", decode[dto.ErrorResponse](t, w).Error)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/cancel", nil).Code)
}

func TestListJobs(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	var ids []string
	for range 5 {
		job := storagetest.NewJob(t, storagetest.NewSession(t, s.store, nil))
		require.NoError(t, s.store.CreateJob(ctx, job))
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	var seen []string
	path := "/api/v1/jobs?page_size=2&project_id=" + storagetest.ProjectID
	cursor := ""
	for page := 0; page < 5; page++ {
		url := path
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		w := s.do(t, http.MethodGet, url, nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[dto.ListJobsResponse](t, w)
		for _, j := range resp.Jobs {
			seen = append(seen, j.JobID)
		}
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	// Newest first
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	assert.Equal(t, ids, seen)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/jobs?status=exploded", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/jobs?cursor=bm9waXBl", nil).Code)
}

func TestHealth(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "transform-api")

	tests := []struct {
		name     string
		database handler.HealthChecker
		broker   handler.ConnectionChecker
		wantCode int
		wantBody string
	}{
		{
			name:     "database down",
			database: healthFunc(func(context.Context) error { return errors.New("connection refused") }),
			wantCode: http.StatusServiceUnavailable,
			wantBody: `"database":"down"`,
		},
		{
			name:     "broker down",
			database: healthFunc(func(context.Context) error { return nil }),
			broker:   brokerState(false),
			wantCode: http.StatusServiceUnavailable,
			wantBody: `"broker":"down"`,
		},
		{
			name:     "all up",
			database: healthFunc(func(context.Context) error { return nil }),
			broker:   brokerState(true),
			wantCode: http.StatusOK,
			wantBody: `"broker":"up"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			engine := router.SetupRouter(&handler.Dependencies{
				Logger:      logger.NewNop().Logger,
				ServiceName: "transform-api",
				Store:       s.store,
				Database:    tt.database,
				Broker:      tt.broker,
			})
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodOptions, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
