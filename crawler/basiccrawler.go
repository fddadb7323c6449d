package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/crawlkit/autoscale"
	"github.com/use-agent/crawlkit/eventbus"
	"github.com/use-agent/crawlkit/models"
	"github.com/use-agent/crawlkit/proxyconf"
	"github.com/use-agent/crawlkit/queue"
	"github.com/use-agent/crawlkit/session"
	"github.com/use-agent/crawlkit/store"
	"github.com/use-agent/crawlkit/sysmon"
)

// RequestHandlerFunc processes one request via its CrawlingContext.
type RequestHandlerFunc func(ctx context.Context, cc *CrawlingContext) error

// FailedRequestHandlerFunc is invoked once maxRequestRetries is exhausted.
type FailedRequestHandlerFunc func(ctx context.Context, cc *CrawlingContext, err error)

// requestSource abstracts over RequestQueue and RequestList so BasicCrawler
// can run against either.
type requestSource interface {
	FetchNextRequest(ctx context.Context) (*queue.Request, error)
	MarkRequestHandled(ctx context.Context, req *queue.Request) error
	ReclaimRequest(ctx context.Context, req *queue.Request, forefront bool) error
	IsEmpty() bool
	IsFinished() bool
}

// listSource adapts *queue.RequestList (which has no ctx/forefront/error in
// its method set, since a static list needs neither durable persistence per
// call nor head-of-line priority) to requestSource.
type listSource struct{ list *queue.RequestList }

func (s listSource) FetchNextRequest(ctx context.Context) (*queue.Request, error) {
	return s.list.FetchNextRequest()
}
func (s listSource) MarkRequestHandled(ctx context.Context, req *queue.Request) error {
	s.list.MarkRequestHandled(req)
	return nil
}
func (s listSource) ReclaimRequest(ctx context.Context, req *queue.Request, forefront bool) error {
	// The list keeps no retry state, so the reclaim is counted on the
	// request here, as RequestQueue.ReclaimRequest does.
	req.RetryCount++
	s.list.ReclaimRequest(req)
	return nil
}
func (s listSource) IsEmpty() bool    { return s.list.IsEmpty() }
func (s listSource) IsFinished() bool { return s.list.IsFinished() }

// Config configures a BasicCrawler. At least one of RequestList/RequestQueue
// must be set to act as the primary iteration source; if both are set, the
// list is drained into the queue once at Run and the queue becomes the
// active source (this is what lets enqueueLinks add to a run that started
// from a static seed list).
type Config struct {
	RequestList  *queue.RequestList
	RequestQueue *queue.RequestQueue

	RequestHandler       RequestHandlerFunc
	FailedRequestHandler FailedRequestHandlerFunc

	MaxRequestRetries   int // default 3
	MaxRequestsPerCrawl int // 0 = unlimited

	NavigationTimeoutSecs    int // default 60
	RequestHandlerTimeoutSecs int // default 60

	MinConcurrency int
	MaxConcurrency int
	AutoscaledPool autoscale.Config
	SystemStatus   *sysmon.SystemStatus

	UseSessionPool           bool
	SessionPool              session.Config
	PersistCookiesPerSession bool

	ProxyConfiguration *proxyconf.Configuration

	Store store.StateStore
	Key   string // persistence/dataset namespace for this crawler instance

	Bus *eventbus.Bus
}

func (c *Config) applyDefaults() {
	if c.MaxRequestRetries <= 0 {
		c.MaxRequestRetries = 3
	}
	if c.NavigationTimeoutSecs <= 0 {
		c.NavigationTimeoutSecs = 60
	}
	if c.RequestHandlerTimeoutSecs <= 0 {
		c.RequestHandlerTimeoutSecs = 60
	}
	if c.Bus == nil {
		c.Bus = eventbus.New()
	}
	if c.Key == "" {
		c.Key = "crawler"
	}
	if c.UseSessionPool {
		c.PersistCookiesPerSession = true
	}
}

// BasicCrawler runs the plain-HTTP-fetch crawling loop: fetchNextRequest,
// acquire session/proxy, fetch, classify, invoke requestHandler, retry or
// mark handled. BrowserCrawler reuses this loop, substituting navigation.
type BasicCrawler struct {
	cfg    Config
	source requestSource

	sessionPool *session.Pool
	proxyConf   *proxyconf.Configuration

	pool *autoscale.Pool
	ds   *store.Dataset

	handledCount atomic.Int64
	failedCount  atomic.Int64

	// navigate performs the fetch/navigation step and populates cc
	// accordingly. BasicCrawler uses httpNavigate; BrowserCrawler supplies
	// its own via embedding and overriding this field after construction.
	navigate func(ctx context.Context, cc *CrawlingContext) error

	// afterRequest runs once per request, regardless of outcome, after the
	// handler and all retry/fail bookkeeping. BrowserCrawler uses this to
	// close the page it opened for the request.
	afterRequest func(cc *CrawlingContext)
}

// NewBasicCrawler builds a BasicCrawler from cfg.
func NewBasicCrawler(cfg Config) (*BasicCrawler, error) {
	cfg.applyDefaults()
	if cfg.RequestQueue == nil && cfg.RequestList == nil {
		return nil, fmt.Errorf("basiccrawler: one of RequestQueue or RequestList is required")
	}

	bc := &BasicCrawler{cfg: cfg}

	switch {
	case cfg.RequestQueue != nil:
		bc.source = cfg.RequestQueue
	default:
		bc.source = listSource{list: cfg.RequestList}
	}

	if cfg.UseSessionPool {
		bc.sessionPool = session.NewPool(cfg.SessionPool, cfg.Bus, cfg.Store, cfg.Key+":sessions")
		cfg.Bus.On(eventbus.SessionRetired, bc.onSessionRetired)
	}
	bc.proxyConf = cfg.ProxyConfiguration
	bc.ds = store.NewDataset(cfg.Store, cfg.Key+":dataset")

	autoscaleCfg := cfg.AutoscaledPool
	autoscaleCfg.MinConcurrency = cfg.MinConcurrency
	autoscaleCfg.MaxConcurrency = cfg.MaxConcurrency
	bc.pool = autoscale.New(autoscaleCfg, cfg.SystemStatus, bc.runOneTask, bc.isTaskReady, bc.isFinished)
	bc.navigate = bc.httpNavigate
	return bc, nil
}

// onSessionRetired is the session-retirement cascade hook (property 7): a
// BrowserCrawler overrides/extends this via its own bus subscription to
// also retire the bound browser controller.
func (bc *BasicCrawler) onSessionRetired(payload any) {
	slog.Debug("basic crawler: session retired", "session", payload)
}

// Run drains RequestList into RequestQueue if both are configured, then
// runs the autoscaled pool until the source is exhausted or ctx is
// cancelled.
func (bc *BasicCrawler) Run(ctx context.Context) error {
	if bc.cfg.RequestList != nil && bc.cfg.RequestQueue != nil {
		if err := bc.drainListIntoQueue(ctx); err != nil {
			return err
		}
		bc.source = bc.cfg.RequestQueue
	}
	return bc.pool.Run(ctx)
}

func (bc *BasicCrawler) drainListIntoQueue(ctx context.Context) error {
	for {
		req, err := bc.cfg.RequestList.FetchNextRequest()
		if err != nil {
			return fmt.Errorf("basiccrawler: drain request list: %w", err)
		}
		if req == nil {
			return nil
		}
		if _, err := bc.cfg.RequestQueue.AddRequest(ctx, req, false); err != nil {
			return fmt.Errorf("basiccrawler: drain request list: %w", err)
		}
		bc.cfg.RequestList.MarkRequestHandled(req)
	}
}

func (bc *BasicCrawler) isTaskReady() bool {
	if bc.cfg.MaxRequestsPerCrawl > 0 && int(bc.handledCount.Load()+bc.failedCount.Load()) >= bc.cfg.MaxRequestsPerCrawl {
		return false
	}
	return !bc.source.IsEmpty()
}

func (bc *BasicCrawler) isFinished() bool {
	if bc.cfg.MaxRequestsPerCrawl > 0 && int(bc.handledCount.Load()+bc.failedCount.Load()) >= bc.cfg.MaxRequestsPerCrawl {
		return true
	}
	return bc.source.IsFinished()
}

// runOneTask is one AutoscaledPool task slot: fetch a request and handle
// it. A nil request (the documented stale-cache case) ends the task
// immediately, freeing the slot for the next tick.
func (bc *BasicCrawler) runOneTask(ctx context.Context) error {
	req, err := bc.source.FetchNextRequest(ctx)
	if err != nil {
		return fmt.Errorf("basiccrawler: fetch next request: %w", err)
	}
	if req == nil {
		return nil
	}
	bc.handleRequest(ctx, req)
	return nil
}

// handleRequest runs the full per-request lifecycle: acquire identity,
// navigate, invoke the handler, then commit success or retry/fail.
func (bc *BasicCrawler) handleRequest(ctx context.Context, req *queue.Request) {
	cc := &CrawlingContext{
		ID:      uuid.NewString(),
		Request: req,
		Log:     slog.With("requestId", req.ID, "url", req.URL),
		crawler: bc,
	}
	if bc.afterRequest != nil {
		defer bc.afterRequest(cc)
	}

	var sess *session.Session
	if bc.cfg.UseSessionPool {
		var err error
		sess, err = bc.sessionPool.GetSession("")
		if err != nil {
			bc.reclaimOrFail(ctx, cc, models.NewCrawlError(models.ErrKindInfrastructure, "acquire session", err))
			return
		}
		cc.Session = sess
	}

	if bc.proxyConf != nil {
		sessionID := ""
		if sess != nil {
			sessionID = sess.ID
		}
		info, err := bc.proxyConf.NewProxyInfo(sessionID)
		if err != nil {
			bc.reclaimOrFail(ctx, cc, models.NewCrawlError(models.ErrKindInfrastructure, "acquire proxy", err))
			return
		}
		cc.ProxyInfo = info
	}

	req.State = queue.StateBeforeNav
	navCtx, cancel := context.WithTimeout(ctx, time.Duration(bc.cfg.NavigationTimeoutSecs)*time.Second)
	navErr := bc.navigate(navCtx, cc)
	cancel()
	if navErr != nil {
		if sess != nil {
			bc.sessionPool.MarkBad(sess, bc.responseStatusCode(cc))
		}
		bc.reclaimOrFail(ctx, cc, navErr)
		return
	}
	req.State = queue.StateAfterNav

	if bc.blockedByResponse(cc) {
		if sess != nil {
			// Retire emits eventbus.SessionRetired; a BrowserCrawler's
			// listener cascades this into retiring the bound controller.
			bc.sessionPool.Retire(sess)
		}
		bc.reclaimOrFail(ctx, cc, models.NewCrawlError(models.ErrKindBlocked, "response status in blocked set", nil))
		return
	}

	req.State = queue.StateRequestHandler
	handlerCtx, hcancel := context.WithTimeout(ctx, time.Duration(bc.cfg.RequestHandlerTimeoutSecs)*time.Second)
	handlerErr := bc.runHandler(handlerCtx, cc)
	hcancel()

	if handlerErr != nil {
		if sess != nil {
			bc.sessionPool.MarkBad(sess, bc.responseStatusCode(cc))
		}
		bc.reclaimOrFail(ctx, cc, models.NewCrawlError(models.ErrKindUserHandler, "request handler failed", handlerErr))
		return
	}

	if sess != nil {
		// Cookies are already folded into sess.CookieJar by httpNavigate
		// (or, for BrowserCrawler, by its own navigate step) as soon as the
		// response lands; nothing further to persist here.
		bc.sessionPool.MarkGood(sess)
	}

	if err := bc.source.MarkRequestHandled(ctx, req); err != nil {
		slog.Error("basiccrawler: mark request handled failed", "error", err, "requestId", req.ID)
	}
	bc.handledCount.Add(1)
}

func (bc *BasicCrawler) runHandler(ctx context.Context, cc *CrawlingContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request handler panic: %v", r)
		}
	}()
	if bc.cfg.RequestHandler == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- bc.cfg.RequestHandler(ctx, cc) }()
	select {
	case e := <-done:
		return e
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reclaimOrFail classifies crawlErr's kind and either reclaims req for
// retry or, once maxRequestRetries is exhausted (or the error is
// non-retryable), invokes failedRequestHandler and marks it terminal.
func (bc *BasicCrawler) reclaimOrFail(ctx context.Context, cc *CrawlingContext, crawlErr error) {
	req := cc.Request
	req.ErrorMessages = append(req.ErrorMessages, crawlErr.Error())

	kind, _ := models.KindOf(crawlErr)

	// Blocked-by-target: reclaim once without consuming the retry budget,
	// per §7. A repeat block takes the normal retry path below.
	const blockedReclaimedKey = "crawlkit.blockedReclaimed"
	if kind == models.ErrKindBlocked && req.UserData[blockedReclaimedKey] == nil {
		if req.UserData == nil {
			req.UserData = make(map[string]any)
		}
		req.UserData[blockedReclaimedKey] = true
		req.State = queue.StateError
		// ReclaimRequest counts one retry; take it back so this one is free.
		req.RetryCount--
		if err := bc.source.ReclaimRequest(ctx, req, true); err != nil {
			slog.Error("basiccrawler: reclaim blocked request failed", "error", err)
		}
		return
	}

	if req.NoRetry || req.RetryCount+1 > bc.cfg.MaxRequestRetries {
		bc.fail(ctx, cc, crawlErr)
		return
	}

	req.State = queue.StateError
	if err := bc.source.ReclaimRequest(ctx, req, false); err != nil {
		slog.Error("basiccrawler: reclaim request failed", "error", err)
	}
}

func (bc *BasicCrawler) fail(ctx context.Context, cc *CrawlingContext, crawlErr error) {
	if bc.cfg.FailedRequestHandler != nil {
		bc.cfg.FailedRequestHandler(ctx, cc, crawlErr)
	}
	if err := bc.source.MarkRequestHandled(ctx, cc.Request); err != nil {
		slog.Error("basiccrawler: mark failed request handled failed", "error", err)
	}
	bc.failedCount.Add(1)
}

// blockedByResponse reports whether the navigated response's status is in
// the active session's blocked set.
func (bc *BasicCrawler) blockedByResponse(cc *CrawlingContext) bool {
	if cc.Session == nil {
		return false
	}
	code := bc.responseStatusCode(cc)
	return code != 0 && cc.Session.IsBlockedStatus(code)
}

func (bc *BasicCrawler) responseStatusCode(cc *CrawlingContext) int {
	if cc.Response != nil {
		return cc.Response.StatusCode
	}
	return 0
}

// httpNavigate is BasicCrawler's default navigate step: a plain HTTP fetch
// through the Chrome-fingerprinted tier, no browser involved.
func (bc *BasicCrawler) httpNavigate(ctx context.Context, cc *CrawlingContext) error {
	proxyURL := ""
	if cc.ProxyInfo != nil {
		proxyURL = cc.ProxyInfo.URL
	}
	fetcher, err := NewHTTPFetcher(proxyURL, time.Duration(bc.cfg.NavigationTimeoutSecs)*time.Second)
	if err != nil {
		return models.NewCrawlError(models.ErrKindInfrastructure, "build http fetcher", err)
	}

	var reqCookies []*http.Cookie
	if cc.Session != nil {
		reqCookies = cc.Session.Cookies(cc.Request.URL)
	}
	resp, err := fetcher.Fetch(ctx, cc.Request, reqCookies)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.NewCrawlError(models.ErrKindNavigation, "navigation timed out", err)
		}
		return models.NewCrawlError(models.ErrKindNavigation, "fetch failed", err)
	}

	if cc.Session != nil && bc.cfg.PersistCookiesPerSession {
		respCookies := (&http.Response{Header: resp.Headers}).Cookies()
		_ = cc.Session.SetCookies(resp.FinalURL, respCookies)
	}

	cc.Response = resp
	cc.Request.LoadedURL = resp.FinalURL
	return nil
}

// crawlerHost implementation, used by CrawlingContext.

func (bc *BasicCrawler) enqueue(ctx context.Context, req *queue.Request, forefront bool) error {
	if bc.cfg.RequestQueue == nil {
		return fmt.Errorf("basiccrawler: enqueueLinks/addRequests require a RequestQueue")
	}
	_, err := bc.cfg.RequestQueue.AddRequest(ctx, req, forefront)
	return err
}

func (bc *BasicCrawler) dataset() *store.Dataset {
	return bc.ds
}

func (bc *BasicCrawler) keyValueStore(id string) *store.KeyValueStore {
	return store.GetKeyValueStore(bc.cfg.Store, bc.cfg.Key, id)
}

func (bc *BasicCrawler) fetchAncillary(ctx context.Context, req *queue.Request) (*FetchResponse, error) {
	fetcher, err := NewHTTPFetcher("", time.Duration(bc.cfg.NavigationTimeoutSecs)*time.Second)
	if err != nil {
		return nil, err
	}
	return fetcher.Fetch(ctx, req, nil)
}

// HandledCount reports requests successfully marked handled.
func (bc *BasicCrawler) HandledCount() int { return int(bc.handledCount.Load()) }

// FailedCount reports requests that exhausted retries.
func (bc *BasicCrawler) FailedCount() int { return int(bc.failedCount.Load()) }

// Dataset exposes the crawler's result sink, e.g. for the control plane to
// read results back out after a run.
func (bc *BasicCrawler) Dataset() *store.Dataset { return bc.ds }
