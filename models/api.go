package models

// StartCrawlRequest is the payload for POST /api/v1/crawls.
type StartCrawlRequest struct {
	// URLs are the seed pages to crawl. Required, at least one.
	URLs []string `json:"urls" binding:"required,min=1,dive,url"`

	// MaxDepth limits the crawl depth from the seed URLs. Default: 3.
	MaxDepth int `json:"max_depth,omitempty" binding:"omitempty,min=0,max=20"`

	// MaxRequestsPerCrawl caps total handled-or-failed requests. Default: 100.
	MaxRequestsPerCrawl int `json:"max_requests_per_crawl,omitempty" binding:"omitempty,min=1,max=100000"`

	// Scope controls which discovered links are followed.
	// "domain" (same host as the current page), "subdomain" (same base domain
	// including subdomains), "page" (no following, single page only).
	// Default: "subdomain".
	Scope string `json:"scope,omitempty" binding:"omitempty,oneof=domain subdomain page"`

	// ExcludePatterns is a list of glob patterns matched against each
	// discovered link's path and against its full URL; a link matching
	// either way is skipped during enqueueLinks.
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`

	// UseBrowser forces BrowserCrawler; false uses BasicCrawler's plain
	// HTTP fetch tier. Default: true.
	UseBrowser *bool `json:"use_browser,omitempty"`

	// MaxConcurrency bounds AutoscaledPool.maxConcurrency for this crawl.
	MaxConcurrency int `json:"max_concurrency,omitempty" binding:"omitempty,min=1,max=200"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *StartCrawlRequest) Defaults() {
	if r.MaxDepth == 0 {
		r.MaxDepth = 3
	}
	if r.MaxRequestsPerCrawl == 0 {
		r.MaxRequestsPerCrawl = 100
	}
	if r.Scope == "" {
		r.Scope = "subdomain"
	}
	if r.UseBrowser == nil {
		t := true
		r.UseBrowser = &t
	}
	if r.MaxConcurrency == 0 {
		r.MaxConcurrency = 10
	}
}

// StartCrawlResponse is the immediate response for POST /api/v1/crawls.
type StartCrawlResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CrawlStatusResponse is the response for GET /api/v1/crawls/:id.
type CrawlStatusResponse struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"` // "running", "completed", "failed"
	Handled   int          `json:"handled"`
	Failed    int          `json:"failed"`
	Total     int          `json:"total"`
	Error     *ErrorDetail `json:"error,omitempty"`
	CreatedAt int64        `json:"created_at"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status      string          `json:"status"` // "healthy" or "degraded"
	Uptime      string          `json:"uptime"`
	Version     string          `json:"version"`
	PoolStats   BrowserPoolStats `json:"browser_pool"`
	ActiveCrawls int             `json:"active_crawls"`
}

// BrowserPoolStats reports the state of the browser pool for the health
// endpoint.
type BrowserPoolStats struct {
	ActiveBrowsers  int `json:"active_browsers"`
	RetiredBrowsers int `json:"retired_browsers"`
	ActivePages     int `json:"active_pages"`
	TotalPages      int `json:"total_pages"`
	BlockedRequests int `json:"blocked_requests"`
}
