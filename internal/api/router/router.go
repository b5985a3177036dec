package router

import (
	"github.com/cuongbtq/transform-pipeline/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(deps))

	jobHandler := handler.NewJobHandler(deps)
	sessionHandler := handler.NewSessionHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		sessions := v1.Group("/projects/:project_id/sessions/:session_id")
		{
			// GET /api/v1/projects/:project_id/sessions/:session_id - Job and notification state
			sessions.GET("", sessionHandler.GetSession)

			// POST /api/v1/projects/:project_id/sessions/:session_id/jobs - Request a transform job
			sessions.POST("/jobs", jobHandler.RequestJob)

			// POST /api/v1/projects/:project_id/sessions/:session_id/recipient - Submit recipient address
			sessions.POST("/recipient", sessionHandler.SubmitRecipient)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a pending job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}
	}

	return r
}
