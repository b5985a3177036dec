package dto

import "github.com/cuongbtq/transform-pipeline/internal/domain"

type SubmitRecipientRequest struct {
	Address string `json:"address" binding:"required"`
}

type SubmitRecipientResponse struct {
	Result string `json:"result"`
}

// SessionDTO exposes the pipeline-owned fields of a session. The address itself
// is never echoed back.
type SessionDTO struct {
	SessionID          string           `json:"session_id"`
	ProjectID          string           `json:"project_id"`
	ExperienceID       string           `json:"experience_id"`
	JobID              string           `json:"job_id,omitempty"`
	JobStatus          string           `json:"job_status,omitempty"`
	ResultMedia        *domain.MediaRef `json:"result_media,omitempty"`
	RecipientSubmitted bool             `json:"recipient_submitted"`
	NotificationSentAt string           `json:"notification_sent_at,omitempty"`
}

// NewSessionDTO converts a session into its API representation
func NewSessionDTO(s *domain.Session) SessionDTO {
	out := SessionDTO{
		SessionID:          s.ID,
		ProjectID:          s.ProjectID,
		ExperienceID:       s.ExperienceID,
		ResultMedia:        s.ResultMedia,
		RecipientSubmitted: s.RecipientAddress != nil,
		NotificationSentAt: formatTime(s.NotificationSentAt),
	}
	if s.JobID != nil {
		out.JobID = *s.JobID
	}
	if s.JobStatus != nil {
		out.JobStatus = string(*s.JobStatus)
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}
