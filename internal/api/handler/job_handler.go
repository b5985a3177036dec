package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/transform-pipeline/internal/api/dto"
	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/requestor"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RequestJob handles POST /api/v1/projects/:project_id/sessions/:session_id/jobs
// Snapshots the session and queues its transform
func (h *JobHandler) RequestJob(c *gin.Context) {
	projectID := c.Param("project_id")
	sessionID := c.Param("session_id")

	result, err := h.requestor.RequestJob(c.Request.Context(), projectID, sessionID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	switch result.Outcome {
	case requestor.OutcomeRequested:
		c.JSON(http.StatusAccepted, dto.RequestJobResponse{
			Result: string(result.Outcome),
			JobID:  result.JobID,
			Status: string(domain.JobStatusPending),
		})
	case requestor.OutcomeAlreadyInProgress:
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: string(result.Outcome)})
	default:
		c.JSON(http.StatusOK, dto.RequestJobResponse{Result: string(result.Outcome)})
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_job_id", Message: "job_id must be a valid UUID"})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_query", Message: err.Error()})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	status := domain.JobStatus(req.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_status", Field: "status"})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_cursor", Message: err.Error()})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		ProjectID: req.ProjectID,
		SessionID: req.SessionID,
		Status:    status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// The store returns one extra row when another page exists
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = dto.NewJobDTO(job)
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that has not started running
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_job_id", Message: "job_id must be a valid UUID"})
		return
	}

	job, err := h.store.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job cancelled",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
	)

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}
