package api

import (
	"github.com/gin-gonic/gin"

	"github.com/use-agent/crawlkit/api/handler"
	"github.com/use-agent/crawlkit/api/middleware"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(deps *Deps) *gin.Engine {
	gin.SetMode(deps.Config.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(deps))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	protected.Use(middleware.Auth(deps.Config.Auth))
	protected.Use(middleware.RateLimit(deps.Config.RateLimit))

	protected.POST("/crawls", handler.PostCrawl(deps))
	protected.GET("/crawls/:id", handler.GetCrawl(deps))

	return r
}
