package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health
func Health(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		if deps.Database != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()

			checks["database"] = "up"
			if err := deps.Database.HealthCheck(ctx); err != nil {
				deps.Logger.Warn("Database health check failed", slog.String("error", err.Error()))
				checks["database"] = "down"
				healthy = false
			}
		}

		if deps.Broker != nil {
			checks["broker"] = "up"
			if !deps.Broker.IsConnected() {
				deps.Logger.Warn("Broker health check failed")
				checks["broker"] = "down"
				healthy = false
			}
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": deps.ServiceName,
			"checks":  checks,
		})
	}
}
