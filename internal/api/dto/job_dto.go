package dto

import (
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
)

type RequestJobResponse struct {
	Result string `json:"result"`
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status,omitempty"`
}

type ListJobsRequest struct {
	ProjectID string `form:"project_id"`
	SessionID string `form:"session_id"`
	Status    string `form:"status"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobErrorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type JobDTO struct {
	JobID         string           `json:"job_id"`
	ProjectID     string           `json:"project_id"`
	SessionID     string           `json:"session_id"`
	ExperienceID  string           `json:"experience_id"`
	Status        string           `json:"status"`
	ConfigVersion int              `json:"config_version"`
	Attempts      int              `json:"attempts"`
	Output        *domain.MediaRef `json:"output,omitempty"`
	Error         *JobErrorDTO     `json:"error,omitempty"`
	CreatedAt     string           `json:"created_at"`
	StartedAt     string           `json:"started_at,omitempty"`
	CompletedAt   string           `json:"completed_at,omitempty"`
}

// NewJobDTO converts a job into its API representation
func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:         job.ID,
		ProjectID:     job.ProjectID,
		SessionID:     job.SessionID,
		ExperienceID:  job.ExperienceID,
		Status:        string(job.Status),
		ConfigVersion: job.Snapshot.ConfigVersion,
		Attempts:      job.Attempts,
		Output:        job.Output,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		StartedAt:     formatTime(job.StartedAt),
		CompletedAt:   formatTime(job.CompletedAt),
	}
	if job.Error != nil {
		out.Error = &JobErrorDTO{Kind: string(job.Error.Kind), Message: job.Error.Message}
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
