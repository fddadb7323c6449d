package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/use-agent/crawlkit/browserpool"
	"github.com/use-agent/crawlkit/proxyconf"
	"github.com/use-agent/crawlkit/queue"
	"github.com/use-agent/crawlkit/session"
	"github.com/use-agent/crawlkit/store"
)

// CrawlingContext is the one object passed to requestHandler and every
// lifecycle hook for a given request; its identity is stable across all of
// them. Which fields are populated depends on the crawler variant and the
// point in the request's lifecycle:
//
//	field              | BasicCrawler       | BrowserCrawler
//	-------------------|--------------------|--------------------------
//	Session            | set if useSessionPool | set if useSessionPool
//	ProxyInfo          | set if proxy configured | set if proxy configured
//	Page               | always nil         | set from before-navigation on
//	BrowserController  | always nil         | set from before-navigation on
//	Response           | set after fetch    | set after navigation (status and final URL; no body)
//
// There is no untyped "extra data" bag; a field a handler needs that isn't
// here belongs on Request.UserData instead.
type CrawlingContext struct {
	ID                string
	Request           *queue.Request
	Session           *session.Session
	ProxyInfo         *proxyconf.Info
	Page              *browserpool.Page
	BrowserController *browserpool.BrowserController
	Response          *FetchResponse
	Log               *slog.Logger

	crawler crawlerHost
}

// crawlerHost is the subset of BasicCrawler/BrowserCrawler that a
// CrawlingContext needs to enqueue work, persist results, and issue
// ancillary requests. Both crawler variants implement it.
type crawlerHost interface {
	enqueue(ctx context.Context, req *queue.Request, forefront bool) error
	dataset() *store.Dataset
	keyValueStore(id string) *store.KeyValueStore
	fetchAncillary(ctx context.Context, req *queue.Request) (*FetchResponse, error)
}

// htmlBody returns the HTML this context has available for link discovery:
// the fetched response body when there is one, else the live DOM of the
// browser page (BrowserCrawler's navigate step records no body).
func (c *CrawlingContext) htmlBody() ([]byte, error) {
	if c.Response != nil && (len(c.Response.Body) > 0 || c.Page == nil) {
		return c.Response.Body, nil
	}
	if c.Page != nil {
		html, err := c.Page.Rod.HTML()
		if err != nil {
			return nil, fmt.Errorf("crawling context: read page html: %w", err)
		}
		return []byte(html), nil
	}
	return nil, fmt.Errorf("crawling context: no response body available for link discovery")
}

// currentURL is the base link-resolution URL: the page's loaded URL if
// navigation happened, else the request's own URL.
func (c *CrawlingContext) currentURL() string {
	if c.Request.LoadedURL != "" {
		return c.Request.LoadedURL
	}
	return c.Request.URL
}

// EnqueueLinks discovers <a href> targets in the current page/response body,
// filters them by opts.Scope/ExcludePatterns/MaxDepth, and adds the
// survivors to the crawler's request source.
func (c *CrawlingContext) EnqueueLinks(ctx context.Context, opts EnqueueLinksOptions) (int, error) {
	if opts.MaxDepth > 0 && c.Request.Depth >= opts.MaxDepth {
		return 0, nil
	}
	body, err := c.htmlBody()
	if err != nil {
		return 0, err
	}
	base, err := url.Parse(c.currentURL())
	if err != nil {
		return 0, fmt.Errorf("crawling context: parse current url: %w", err)
	}

	discovered := extractLinks(body, base)
	filtered := FilterLinks(discovered, base, opts)

	added := 0
	for _, link := range filtered {
		req := queue.NewRequest(link)
		req.Depth = c.Request.Depth + 1
		if err := c.crawler.enqueue(ctx, req, false); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// AddRequests enqueues urls directly, bypassing scope/exclude filtering —
// the caller is explicitly choosing these, not following discovered links.
func (c *CrawlingContext) AddRequests(ctx context.Context, urls []string) error {
	for _, u := range urls {
		req := queue.NewRequest(u)
		req.Depth = c.Request.Depth + 1
		if err := c.crawler.enqueue(ctx, req, false); err != nil {
			return err
		}
	}
	return nil
}

// PushData appends one result record to the crawler's dataset.
func (c *CrawlingContext) PushData(ctx context.Context, data any) error {
	return c.crawler.dataset().PushData(ctx, data)
}

// SendRequest issues an ancillary HTTP request (e.g. a same-origin API call
// a handler needs alongside the main navigation) through the plain HTTP
// fetch tier, without touching the queue. The request goes out directly:
// the current request's proxy and session cookies are not applied.
func (c *CrawlingContext) SendRequest(ctx context.Context, req *queue.Request) (*FetchResponse, error) {
	return c.crawler.fetchAncillary(ctx, req)
}

// GetKeyValueStore opens the named key-value store ("" selects the
// crawler's default store).
func (c *CrawlingContext) GetKeyValueStore(id string) *store.KeyValueStore {
	return c.crawler.keyValueStore(id)
}
