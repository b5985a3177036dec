package handler

import (
	"net/http"

	"github.com/cuongbtq/transform-pipeline/internal/api/dto"
	"github.com/cuongbtq/transform-pipeline/internal/intake"
	"github.com/gin-gonic/gin"
)

// GetSession handles GET /api/v1/projects/:project_id/sessions/:session_id
// Reports the job and notification state of a session
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.store.GetSession(c.Request.Context(), c.Param("project_id"), c.Param("session_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSessionDTO(session))
}

// SubmitRecipient handles POST /api/v1/projects/:project_id/sessions/:session_id/recipient
// Stores the address the result notification goes to
func (h *SessionHandler) SubmitRecipient(c *gin.Context) {
	var req dto.SubmitRecipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: string(intake.OutcomeInvalidFormat), Field: "address"})
		return
	}

	outcome, err := h.intake.SubmitRecipientAddress(c.Request.Context(), c.Param("project_id"), c.Param("session_id"), req.Address)
	switch outcome {
	case intake.OutcomeOK:
		c.JSON(http.StatusOK, dto.SubmitRecipientResponse{Result: string(outcome)})
	case intake.OutcomeInvalidFormat:
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: string(outcome), Field: "address"})
	case intake.OutcomeAlreadySubmitted:
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: string(outcome)})
	default:
		respondError(c, h.logger, err)
	}
}
