package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/use-agent/crawlkit/api"
	"github.com/use-agent/crawlkit/autoscale"
	"github.com/use-agent/crawlkit/crawler"
	"github.com/use-agent/crawlkit/eventbus"
	"github.com/use-agent/crawlkit/models"
	"github.com/use-agent/crawlkit/queue"
	"github.com/use-agent/crawlkit/session"
)

// PostCrawl returns a handler for POST /api/v1/crawls: it seeds a
// RequestQueue from the request's URLs, builds a BasicCrawler or
// BrowserCrawler per UseBrowser, and runs it in the background.
func PostCrawl(deps *api.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.StartCrawlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{Kind: "INVALID_INPUT", Message: err.Error()},
			})
			return
		}
		req.Defaults()

		jobID := "crawl-" + uuid.NewString()
		key := "crawlkit:" + jobID

		q := queue.New(deps.Store, key+":queue")
		ctx := context.Background()
		for _, seed := range req.URLs {
			if _, err := q.AddRequest(ctx, queue.NewRequest(seed), false); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": models.ErrorDetail{Kind: "STORAGE_ERROR", Message: err.Error()},
				})
				return
			}
		}

		cfg := crawler.Config{
			RequestQueue:              q,
			RequestHandler:            crawlRequestHandler(req),
			MaxRequestRetries:         deps.Config.Crawler.MaxRequestRetries,
			MaxRequestsPerCrawl:       req.MaxRequestsPerCrawl,
			NavigationTimeoutSecs:     deps.Config.Crawler.NavigationTimeoutSecs,
			RequestHandlerTimeoutSecs: deps.Config.Crawler.RequestHandlerTimeoutSecs,
			MinConcurrency:            deps.Config.AutoscaledPool.MinConcurrency,
			MaxConcurrency:            req.MaxConcurrency,
			AutoscaledPool: autoscale.Config{
				DesiredConcurrency: deps.Config.AutoscaledPool.DesiredConcurrency,
				ScaleUpStepRatio:   deps.Config.AutoscaledPool.ScaleUpStepRatio,
				ScaleDownStepRatio: deps.Config.AutoscaledPool.ScaleDownStepRatio,
				MaybeRunInterval:   deps.Config.AutoscaledPool.MaybeRunInterval,
				AdjustInterval:     deps.Config.AutoscaledPool.AdjustInterval,
				LoggingInterval:    deps.Config.AutoscaledPool.LoggingInterval,
			},
			SystemStatus: deps.SystemStatus,
			UseSessionPool: deps.Config.Crawler.UseSessionPool,
			SessionPool: session.Config{
				MaxPoolSize:        deps.Config.SessionPool.MaxPoolSize,
				MaxUsageCount:      deps.Config.SessionPool.MaxUsageCount,
				MaxErrorScore:      deps.Config.SessionPool.MaxErrorScore,
				BlockedStatusCodes: deps.Config.SessionPool.BlockedStatusCodes,
				UserAgent:          deps.Config.SessionPool.UserAgent,
			},
			PersistCookiesPerSession: deps.Config.Crawler.PersistCookiesPerSession,
			ProxyConfiguration:       deps.ProxyConf,
			Store:                    deps.Store,
			Key:                      key,
			Bus:                      deps.Bus,
		}

		var runner interface {
			Run(ctx context.Context) error
			HandledCount() int
			FailedCount() int
		}

		if req.UseBrowser != nil && *req.UseBrowser {
			bcr, err := crawler.NewBrowserCrawler(crawler.BrowserCrawlerConfig{
				Config:      cfg,
				BrowserPool: deps.BrowserPool,
			})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": models.ErrorDetail{Kind: "INFRASTRUCTURE_ERROR", Message: err.Error()},
				})
				return
			}
			runner = bcr
		} else {
			bc, err := crawler.NewBasicCrawler(cfg)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": models.ErrorDetail{Kind: "INFRASTRUCTURE_ERROR", Message: err.Error()},
				})
				return
			}
			runner = bc
		}

		runCtx, cancel := context.WithCancel(context.Background())
		job := api.NewCrawlJobFor(jobID, runner, cancel)
		deps.Jobs.Store(job)

		if req.WebhookURL != "" {
			eventbus.NewWebhookSink(deps.Bus, req.WebhookURL, req.WebhookSecret, jobID, eventbus.CrawlFinished)
		}

		job.Launch(runCtx, deps.Bus, len(req.URLs), runner.Run)

		c.JSON(http.StatusOK, models.StartCrawlResponse{ID: jobID, Status: "running"})
	}
}

// crawlRequestHandler builds the RequestHandlerFunc that applies a
// StartCrawlRequest's scope/exclude/depth rules to every handled page:
// follow discovered links within scope, and push a minimal result record.
func crawlRequestHandler(req models.StartCrawlRequest) crawler.RequestHandlerFunc {
	return func(ctx context.Context, cc *crawler.CrawlingContext) error {
		added, err := cc.EnqueueLinks(ctx, crawler.EnqueueLinksOptions{
			Scope:           req.Scope,
			ExcludePatterns: req.ExcludePatterns,
			MaxDepth:        req.MaxDepth,
		})
		if err != nil {
			return fmt.Errorf("enqueue links: %w", err)
		}

		statusCode := 0
		finalURL := cc.Request.URL
		if cc.Response != nil {
			statusCode = cc.Response.StatusCode
			finalURL = cc.Response.FinalURL
		} else if cc.Request.LoadedURL != "" {
			finalURL = cc.Request.LoadedURL
		}

		return cc.PushData(ctx, map[string]any{
			"url":         cc.Request.URL,
			"finalUrl":    finalURL,
			"statusCode":  statusCode,
			"linksFound":  added,
			"depth":       cc.Request.Depth,
		})
	}
}

// GetCrawl returns a handler for GET /api/v1/crawls/:id.
func GetCrawl(deps *api.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := deps.Jobs.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{Kind: "NOT_FOUND", Message: "crawl job not found"},
			})
			return
		}
		c.JSON(http.StatusOK, job.Snapshot())
	}
}
