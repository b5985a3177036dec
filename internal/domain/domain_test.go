package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshot_DetachedFromLiveConfig(t *testing.T) {
	responses := map[string]any{
		"name":   "Ada",
		"styles": []any{"neon", "retro"},
	}
	exp := &Experience{
		ID:            "exp-1",
		ProjectID:     "proj-1",
		Name:          "Booth",
		ConfigVersion: 3,
		Outcome: OutcomeConfig{
			Type:   "image",
			Prompt: "portrait of {{name}}",
			Nodes: []TransformNode{
				{ID: "n1", Type: "stylize", Config: map[string]any{"strength": "high"}},
			},
		},
	}
	overlay := &MediaRef{URL: "https://cdn.example.com/frame.png"}

	snapshot, err := NewSnapshot(responses, exp, overlay)
	require.NoError(t, err)

	// Mutate every live input after capture.
	responses["name"] = "Grace"
	responses["styles"].([]any)[0] = "mono"
	exp.Outcome.Prompt = "changed"
	exp.Outcome.Nodes[0].Config["strength"] = "low"
	exp.Outcome.Nodes = append(exp.Outcome.Nodes, TransformNode{ID: "n2"})
	overlay.URL = "https://cdn.example.com/other.png"

	assert.Equal(t, "Ada", snapshot.Responses["name"])
	assert.Equal(t, []any{"neon", "retro"}, snapshot.Responses["styles"])
	assert.Equal(t, "portrait of {{name}}", snapshot.Outcome.Prompt)
	require.Len(t, snapshot.Outcome.Nodes, 1)
	assert.Equal(t, "high", snapshot.Outcome.Nodes[0].Config["strength"])
	require.NotNil(t, snapshot.OverlayChoice)
	assert.Equal(t, "https://cdn.example.com/frame.png", snapshot.OverlayChoice.URL)
	assert.Equal(t, 3, snapshot.ConfigVersion)
	assert.Equal(t, ExperienceRef{ExperienceID: "exp-1", ProjectID: "proj-1", Name: "Booth"}, snapshot.ExperienceRef)
}

func TestNewSnapshot_NilResponsesAndOverlay(t *testing.T) {
	snapshot, err := NewSnapshot(nil, &Experience{ID: "exp-1"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, snapshot.Responses)
	assert.Nil(t, snapshot.OverlayChoice)

	_, err = NewSnapshot(nil, nil, nil)
	assert.Error(t, err)
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		status   JobStatus
		active   bool
		terminal bool
	}{
		{JobStatusPending, true, false},
		{JobStatusRunning, true, false},
		{JobStatusCompleted, false, true},
		{JobStatusFailed, false, true},
		{JobStatusCancelled, false, true},
		{JobStatus("unknown"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.IsActive())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.active || tt.terminal, tt.status.Valid())
		})
	}
}

func TestSession_ReadyToNotify(t *testing.T) {
	address := "guest@example.com"
	completed := JobStatusCompleted
	running := JobStatusRunning
	media := &MediaRef{URL: "https://cdn.example.com/out.png"}

	ready := &Session{RecipientAddress: &address, JobStatus: &completed, ResultMedia: media}
	assert.True(t, ready.ReadyToNotify())

	assert.False(t, (&Session{JobStatus: &completed, ResultMedia: media}).ReadyToNotify())
	assert.False(t, (&Session{RecipientAddress: &address, JobStatus: &running, ResultMedia: media}).ReadyToNotify())
	assert.False(t, (&Session{RecipientAddress: &address, JobStatus: &completed}).ReadyToNotify())

	sent := *ready
	now := sent.CreatedAt
	sent.NotificationSentAt = &now
	assert.False(t, sent.ReadyToNotify())
}

func TestIsTransient(t *testing.T) {
	base := errors.New("upstream unavailable")

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(NewTransientError(base)))
	assert.True(t, IsTransient(fmt.Errorf("execute: %w", NewTransientError(base))))
	assert.False(t, IsTransient(NewFatalError(base)))
	assert.False(t, IsTransient(NewFatalError(NewTransientError(base))))
	assert.True(t, IsTransient(fmt.Errorf("call: %w", context.DeadlineExceeded)))
}

func TestIsConflict(t *testing.T) {
	err := fmt.Errorf("create job: %w", &ConflictError{Reason: ReasonAlreadyInProgress})

	assert.True(t, IsConflict(err, ReasonAlreadyInProgress))
	assert.True(t, IsConflict(err, ""))
	assert.False(t, IsConflict(err, ReasonAlreadySubmitted))
	assert.False(t, IsConflict(errors.New("other"), ""))
}
