package domain

import "time"

// Session is the guest-facing record of one interaction. Only the mirror and
// notification fields are written by this service; the rest belongs to the UI layer.
type Session struct {
	ID                 string
	ProjectID          string
	ExperienceID       string
	Responses          map[string]any
	JobID              *string
	JobStatus          *JobStatus
	ResultMedia        *MediaRef
	RecipientAddress   *string
	NotificationSentAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ReadyToNotify reports whether both convergence conditions hold and the fence is still open
func (s *Session) ReadyToNotify() bool {
	return s.RecipientAddress != nil &&
		s.JobStatus != nil && *s.JobStatus == JobStatusCompleted &&
		s.ResultMedia != nil &&
		s.NotificationSentAt == nil
}

// MediaType is the kind of media an experience produces
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// AspectRatio is a canonical output aspect ratio
type AspectRatio string

const (
	AspectRatioSquare    AspectRatio = "1:1"
	AspectRatio3x2       AspectRatio = "3:2"
	AspectRatio2x3       AspectRatio = "2:3"
	AspectRatio4x5       AspectRatio = "4:5"
	AspectRatio5x4       AspectRatio = "5:4"
	AspectRatioPortrait  AspectRatio = "9:16"
	AspectRatioLandscape AspectRatio = "16:9"
)

// Step is one screen of an experience flow
type Step struct {
	ID    string `json:"id" yaml:"id"`
	Type  string `json:"type" yaml:"type"`
	Title string `json:"title,omitempty" yaml:"title"`
}

// Experience is the read-only configuration a session runs through
type Experience struct {
	ID            string
	ProjectID     string
	Name          string
	MediaType     MediaType
	AspectRatio   AspectRatio
	ApplyOverlay  bool
	Steps         []Step
	Outcome       OutcomeConfig
	ConfigVersion int
}

// OverlayDefaultKey is the fallback entry of a project overlay map
const OverlayDefaultKey = "default"

// Project holds project-wide configuration read by the pipeline
type Project struct {
	ID       string
	Name     string
	Overlays map[string]*MediaRef
}
