package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a transform job
type JobStatus string

// Job status constants
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether the status still occupies the session's single active slot
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// ErrorKind classifies a terminal job failure
type ErrorKind string

const (
	ErrorKindFatal              ErrorKind = "fatal"
	ErrorKindTransientExhausted ErrorKind = "transient_exhausted"
)

// JobError is recorded on a job that terminated in the failed state
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// MediaRef points at a media asset (result output or overlay layer)
type MediaRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// TransformNode is a single processing step of an outcome pipeline
type TransformNode struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// OutcomeConfig describes what the external transform executor should produce
type OutcomeConfig struct {
	Type    string          `json:"type"`
	Prompt  string          `json:"prompt,omitempty"`
	Nodes   []TransformNode `json:"nodes"`
	Options map[string]any  `json:"options,omitempty"`
}

// HasTransform reports whether the outcome configures any processing node
func (o OutcomeConfig) HasTransform() bool {
	return len(o.Nodes) > 0
}

// ExperienceRef is an audit pointer back to the configuration a snapshot was taken from
type ExperienceRef struct {
	ExperienceID string `json:"experience_id"`
	ProjectID    string `json:"project_id"`
	Name         string `json:"name,omitempty"`
}

// Snapshot is the frozen input of a job. It is captured once at creation and never re-derived.
type Snapshot struct {
	Responses     map[string]any `json:"responses"`
	ConfigVersion int            `json:"config_version"`
	Outcome       OutcomeConfig  `json:"outcome"`
	OverlayChoice *MediaRef      `json:"overlay_choice"`
	ExperienceRef ExperienceRef  `json:"experience_ref"`
}

// NewSnapshot builds a snapshot sharing no references with the live session or experience.
// The copy is a JSON serialize/deserialize round trip so nested maps and slices are detached.
func NewSnapshot(responses map[string]any, exp *Experience, overlayChoice *MediaRef) (*Snapshot, error) {
	if exp == nil {
		return nil, fmt.Errorf("experience is nil")
	}

	draft := Snapshot{
		Responses:     responses,
		ConfigVersion: exp.ConfigVersion,
		Outcome:       exp.Outcome,
		OverlayChoice: overlayChoice,
		ExperienceRef: ExperienceRef{
			ExperienceID: exp.ID,
			ProjectID:    exp.ProjectID,
			Name:         exp.Name,
		},
	}
	if draft.Responses == nil {
		draft.Responses = map[string]any{}
	}

	data, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return DecodeSnapshot(data)
}

// DecodeSnapshot parses a persisted snapshot
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// Job is one asynchronous unit of transform work tied to exactly one session
type Job struct {
	ID           string
	ProjectID    string
	SessionID    string
	ExperienceID string
	Status       JobStatus
	Snapshot     Snapshot
	Output       *MediaRef
	Error        *JobError
	Attempts     int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}
