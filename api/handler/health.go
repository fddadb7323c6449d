package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/crawlkit/api"
	"github.com/use-agent/crawlkit/models"
)

// Health returns a handler for GET /api/v1/health.
//
// Status degrades to "degraded" when the system's short window is
// overloaded, the same signal the AutoscaledPool uses to stop starting new
// tasks.
func Health(deps *api.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var poolStats models.BrowserPoolStats
		if deps.BrowserPool != nil {
			stats := deps.BrowserPool.Stats()
			poolStats = models.BrowserPoolStats{
				ActiveBrowsers:  stats.ActiveBrowsers,
				RetiredBrowsers: stats.RetiredBrowsers,
				ActivePages:     stats.ActivePages,
				TotalPages:      stats.TotalPages,
				BlockedRequests: stats.BlockedRequests,
			}
		}

		status := "healthy"
		if deps.SystemStatus != nil && deps.SystemStatus.CurrentStatus() {
			status = "degraded"
		}

		activeCrawls := 0
		if deps.Jobs != nil {
			activeCrawls = deps.Jobs.ActiveCount()
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:       status,
			Uptime:       time.Since(deps.StartTime).Round(time.Second).String(),
			Version:      "0.1.0",
			PoolStats:    poolStats,
			ActiveCrawls: activeCrawls,
		})
	}
}
