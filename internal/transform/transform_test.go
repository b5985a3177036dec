package transform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		JobID:         "job-1",
		ConfigVersion: 3,
		Outcome: domain.OutcomeConfig{
			Type:  "image",
			Nodes: []domain.TransformNode{{ID: "n1", Type: "stylize"}},
		},
		Overlay:   &domain.MediaRef{URL: "https://cdn.example.com/overlay.png"},
		Responses: map[string]any{"style": "noir"},
	}
}

func TestHTTPClient_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "job-1", req.JobID)
		assert.Equal(t, 3, req.ConfigVersion)
		assert.Equal(t, "https://cdn.example.com/overlay.png", req.Overlay.URL)
		assert.Equal(t, "noir", req.Responses["style"])

		_, _ = w.Write([]byte(`{"output":{"url":"https://cdn.example.com/out/job-1.png","mime_type":"image/png","width":1024,"height":1024}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "secret", time.Second)
	out, err := client.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, &domain.MediaRef{
		URL:      "https://cdn.example.com/out/job-1.png",
		MimeType: "image/png",
		Width:    1024,
		Height:   1024,
	}, out)
}

func TestHTTPClient_ExecuteClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, transient: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: `{}`, transient: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, transient: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"unknown node"}`},
		{name: "rejected in body", status: http.StatusOK, body: `{"error":"unsupported prompt"}`},
		{name: "missing output", status: http.StatusOK, body: `{"output":null}`},
		{name: "garbage", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPClient(server.URL, "", time.Second).Execute(context.Background(), testRequest())
			require.Error(t, err)
			assert.Equal(t, tt.transient, domain.IsTransient(err), err.Error())
		})
	}
}

func TestHTTPClient_ExecuteTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPClient(server.URL, "", time.Second).Execute(ctx, testRequest())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestHTTPClient_UnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewHTTPClient(url, "", time.Second).Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestNewRequest(t *testing.T) {
	job := &domain.Job{
		ID: "job-9",
		Snapshot: domain.Snapshot{
			ConfigVersion: 7,
			Outcome:       domain.OutcomeConfig{Type: "image"},
			OverlayChoice: &domain.MediaRef{URL: "o"},
			Responses:     map[string]any{"a": "b"},
		},
	}

	req := NewRequest(job)
	assert.Equal(t, "job-9", req.JobID)
	assert.Equal(t, 7, req.ConfigVersion)
	assert.Equal(t, job.Snapshot.OverlayChoice, req.Overlay)
	assert.Equal(t, job.Snapshot.Responses, req.Responses)
}
