package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/crawlkit/browserpool"
	"github.com/use-agent/crawlkit/eventbus"
	"github.com/use-agent/crawlkit/models"
	"github.com/use-agent/crawlkit/session"
)

func requestHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// NavigationHookFunc runs before or after navigation, with the same
// sequential-fail-fast-abortable contract as browserpool's launch/page
// hooks.
type NavigationHookFunc func(ctx context.Context, cc *CrawlingContext) error

// BrowserCrawlerConfig adds the browser-variant-only options to Config.
type BrowserCrawlerConfig struct {
	Config

	BrowserPool *browserpool.Pool

	PreNavigationHooks  []NavigationHookFunc
	PostNavigationHooks []NavigationHookFunc
}

// BrowserCrawler is a BasicCrawler whose navigate step drives a pooled
// browser page instead of the plain HTTP fetch tier.
type BrowserCrawler struct {
	*BasicCrawler
	browsers *browserpool.Pool

	preNavigationHooks  []NavigationHookFunc
	postNavigationHooks []NavigationHookFunc

	pagesMu        sync.Mutex
	pagesBySession map[string]*browserpool.Page // sessionID -> its currently open page
}

// NewBrowserCrawler builds a BrowserCrawler from cfg.
func NewBrowserCrawler(cfg BrowserCrawlerConfig) (*BrowserCrawler, error) {
	if cfg.BrowserPool == nil {
		return nil, fmt.Errorf("browsercrawler: BrowserPool is required")
	}
	base, err := NewBasicCrawler(cfg.Config)
	if err != nil {
		return nil, err
	}

	bcr := &BrowserCrawler{
		BasicCrawler:        base,
		browsers:            cfg.BrowserPool,
		preNavigationHooks:  cfg.PreNavigationHooks,
		postNavigationHooks: cfg.PostNavigationHooks,
		pagesBySession:      make(map[string]*browserpool.Page),
	}
	bcr.navigate = bcr.browserNavigate
	bcr.afterRequest = bcr.closePage

	if bcr.cfg.UseSessionPool {
		bcr.cfg.Bus.On(eventbus.SessionRetired, bcr.onSessionRetiredCascade)
	}
	return bcr, nil
}

// onSessionRetiredCascade is property 7: retiring a session bound to a
// controller retires the controller too, within the same event-loop turn
// (here: synchronously, inside the Emit call that triggered this listener).
func (bcr *BrowserCrawler) onSessionRetiredCascade(payload any) {
	sess, ok := payload.(*session.Session)
	if !ok {
		return
	}
	bcr.pagesMu.Lock()
	page, ok := bcr.pagesBySession[sess.ID]
	bcr.pagesMu.Unlock()
	if !ok {
		return
	}
	bcr.browsers.RetireBrowserByPage(page.ID)
}

// browserNavigate opens a pooled page (bound to cc.ProxyInfo/cc.Session),
// navigates, captures the HTTP status via the Navigation Timing API (CDP
// network events conflict with HijackRequests-based resource blocking, so
// this avoids that entirely), and leaves cc.Page/cc.BrowserController set
// for the rest of the request's lifecycle.
func (bcr *BrowserCrawler) browserNavigate(ctx context.Context, cc *CrawlingContext) error {
	opts := browserpool.PageOptions{}
	if cc.ProxyInfo != nil {
		opts.ProxyURL = cc.ProxyInfo.URL
	}
	if cc.Session != nil {
		opts.SessionID = cc.Session.ID
	}

	page, err := bcr.browsers.NewPage(ctx, opts)
	if err != nil {
		return models.NewCrawlError(models.ErrKindInfrastructure, "open browser page", err)
	}
	cc.Page = page
	cc.BrowserController = page.Controller
	if cc.Session != nil {
		bcr.pagesMu.Lock()
		bcr.pagesBySession[cc.Session.ID] = page
		bcr.pagesMu.Unlock()
	}

	for _, hook := range bcr.preNavigationHooks {
		if err := hook(ctx, cc); err != nil {
			return models.NewCrawlError(models.ErrKindInfrastructure, "pre-navigation hook", err)
		}
	}

	if cc.Session != nil {
		if host := requestHost(cc.Request.URL); host != "" {
			for _, ck := range cc.Session.Cookies(cc.Request.URL) {
				_, _ = proto.NetworkSetCookie{
					Name:   ck.Name,
					Value:  ck.Value,
					Domain: host,
					Path:   "/",
				}.Call(page.Rod)
			}
		}
	}

	if err := page.Rod.Navigate(cc.Request.URL); err != nil {
		return models.NewCrawlError(models.ErrKindNavigation, "navigate", err)
	}
	if err := page.Rod.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		cc.Log.Debug("wait dom stable did not converge", "error", err)
	}

	statusCode := readNavigationStatus(page)
	finalURL := cc.Request.URL
	if res, err := page.Rod.Eval(`() => window.location.href`); err == nil {
		if s := res.Value.Str(); s != "" {
			finalURL = s
		}
	}

	cc.Request.LoadedURL = finalURL
	cc.Response = &FetchResponse{StatusCode: statusCode, FinalURL: finalURL, Headers: http.Header{}}

	for _, hook := range bcr.postNavigationHooks {
		if err := hook(ctx, cc); err != nil {
			return models.NewCrawlError(models.ErrKindInfrastructure, "post-navigation hook", err)
		}
	}

	if cc.Session != nil && bcr.cfg.PersistCookiesPerSession {
		bcr.persistBrowserCookies(cc, page)
	}
	return nil
}

// readNavigationStatus reads the HTTP status of the main document via
// performance.getEntriesByType, a CDP-event-free technique that doesn't
// collide with the resource-blocking hijack router.
func readNavigationStatus(page *browserpool.Page) int {
	res, err := page.Rod.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func (bcr *BrowserCrawler) persistBrowserCookies(cc *CrawlingContext, page *browserpool.Page) {
	cookies, err := page.Rod.Cookies(nil)
	if err != nil {
		return
	}
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	_ = cc.Session.SetCookies(cc.Request.LoadedURL, httpCookies)
}

// closePage is BrowserCrawler's afterRequest hook: it always runs once per
// request, whether navigation, the handler, or neither failed.
func (bcr *BrowserCrawler) closePage(cc *CrawlingContext) {
	if cc.Session != nil {
		bcr.pagesMu.Lock()
		delete(bcr.pagesBySession, cc.Session.ID)
		bcr.pagesMu.Unlock()
	}
	if cc.Page != nil {
		_ = bcr.browsers.ClosePage(cc.Page)
	}
}
