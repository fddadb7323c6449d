package browserpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/use-agent/crawlkit/eventbus"
)

// Config tunes a Pool.
type Config struct {
	Headless                     bool
	NoSandbox                    bool
	BrowserBin                   string
	MaxOpenPagesPerBrowser       int // default 20
	RetireBrowserAfterPageCount  int // default 100
	CloseInactiveBrowserAfterSecs int // default 300
	InactivitySweepInterval      time.Duration // default 10s
	EnableFingerprinting         bool
	FingerprintCacheSize         int
	BlockedResourceTypes         []string
}

// Plugin names one configured browser flavor (e.g. "chromium", "chromium-stealth").
// newPageWithEachPlugin opens one page per plugin in declaration order.
type Plugin struct {
	Name    string
	Stealth bool
}

// PageOptions customizes one newPage call.
type PageOptions struct {
	ID        string
	ProxyURL  string
	SessionID string
	Plugin    string // plugin name; "" selects the default plugin
	Incognito bool
}

// Page is a pool-managed page handle: the rod.Page plus bookkeeping the
// pool needs to run the close wrapper exactly once.
type Page struct {
	ID         string
	Rod        *rod.Page
	Controller *BrowserController
	plugin     string

	closeOnce sync.Once
}

// Close runs prePageClose -> original close -> postPageClose, decrements
// bookkeeping, and fires PageClosed exactly once even under a double close.
func (p *Page) Close(pool *Pool) error {
	var closeErr error
	p.closeOnce.Do(func() {
		runPrePageClose(pool.hooks.PrePageClose, p.Rod, p.Controller)
		closeErr = p.Rod.Close()
		p.Controller.closePage(p.ID)
		runPostPageClose(pool.hooks.PostPageClose, p.ID, p.Controller)
		pool.bus.Emit(eventbus.PageClosed, p)
		pool.maybeCloseRetired(p.Controller)
	})
	return closeErr
}

// Pool is the set of active and retired BrowserControllers, the mapping
// pageId -> page -> controller, and the fingerprint cache.
type Pool struct {
	cfg    Config
	hooks  Hooks
	bus    *eventbus.Bus
	plugins []Plugin

	mu        sync.Mutex
	active    map[string]*BrowserController
	retired   map[string]*BrowserController
	pages     map[string]*Page // pageId -> Page

	launchSlot chan struct{} // single-slot limiter around newPage/launch

	fingerprints *fingerprintCache
	anonProxies  map[string]*anonymizingProxy // controllerID -> local proxy

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// New creates a Pool. plugins must have at least one entry; the first is
// the default used when PageOptions.Plugin is empty.
func New(cfg Config, hooks Hooks, bus *eventbus.Bus, plugins []Plugin) *Pool {
	if cfg.MaxOpenPagesPerBrowser <= 0 {
		cfg.MaxOpenPagesPerBrowser = 20
	}
	if cfg.RetireBrowserAfterPageCount <= 0 {
		cfg.RetireBrowserAfterPageCount = 100
	}
	if cfg.CloseInactiveBrowserAfterSecs <= 0 {
		cfg.CloseInactiveBrowserAfterSecs = 300
	}
	if cfg.InactivitySweepInterval <= 0 {
		cfg.InactivitySweepInterval = 10 * time.Second
	}
	if len(plugins) == 0 {
		plugins = []Plugin{{Name: "chromium"}}
	}
	if bus == nil {
		bus = eventbus.New()
	}
	p := &Pool{
		cfg:          cfg,
		hooks:        hooks,
		bus:          bus,
		plugins:      plugins,
		active:       make(map[string]*BrowserController),
		retired:      make(map[string]*BrowserController),
		pages:        make(map[string]*Page),
		launchSlot:   make(chan struct{}, 1),
		fingerprints: newFingerprintCache(cfg.FingerprintCacheSize),
		anonProxies:  make(map[string]*anonymizingProxy),
		sweepStop:    make(chan struct{}),
	}
	p.launchSlot <- struct{}{}
	p.sweepWG.Add(1)
	go p.inactivitySweep()
	return p
}

// NewPage opens a page, reusing an active controller with free capacity for
// the requested plugin if one exists, otherwise launching a new browser.
// Opens are globally serialized by a single-slot limiter to avoid racing
// browser launches.
func (p *Pool) NewPage(ctx context.Context, opts PageOptions) (*Page, error) {
	select {
	case <-p.launchSlot:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.launchSlot <- struct{}{} }()

	plugin := p.resolvePlugin(opts.Plugin)

	if c := p.findReusableController(plugin.Name, opts); c != nil {
		return p.createPageOn(ctx, c, opts)
	}
	return p.newPageInNewBrowserLocked(ctx, opts, plugin)
}

// NewPageInNewBrowser forces a fresh browser regardless of reuse candidates.
func (p *Pool) NewPageInNewBrowser(ctx context.Context, opts PageOptions) (*Page, error) {
	select {
	case <-p.launchSlot:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.launchSlot <- struct{}{} }()

	plugin := p.resolvePlugin(opts.Plugin)
	return p.newPageInNewBrowserLocked(ctx, opts, plugin)
}

// NewPageWithEachPlugin opens one page per configured plugin, in
// declaration order.
func (p *Pool) NewPageWithEachPlugin(ctx context.Context, optsList []PageOptions) ([]*Page, error) {
	pages := make([]*Page, 0, len(p.plugins))
	for i, plugin := range p.plugins {
		opts := PageOptions{Plugin: plugin.Name}
		if i < len(optsList) {
			opts = optsList[i]
			opts.Plugin = plugin.Name
		}
		page, err := p.NewPage(ctx, opts)
		if err != nil {
			return pages, fmt.Errorf("browserpool: plugin %q: %w", plugin.Name, err)
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (p *Pool) resolvePlugin(name string) Plugin {
	if name == "" {
		return p.plugins[0]
	}
	for _, pl := range p.plugins {
		if pl.Name == name {
			return pl
		}
	}
	return p.plugins[0]
}

func (p *Pool) findReusableController(pluginName string, opts PageOptions) *BrowserController {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.active {
		if !c.HasCapacity() {
			continue
		}
		if c.ActivePages() >= p.cfg.MaxOpenPagesPerBrowser {
			continue
		}
		if v, ok := c.LaunchContext.Extra("plugin"); ok && v != pluginName {
			continue
		}
		return c
	}
	return nil
}

func (p *Pool) newPageInNewBrowserLocked(ctx context.Context, opts PageOptions, plugin Plugin) (*Page, error) {
	lc := &LaunchContext{
		ProxyURL:          opts.ProxyURL,
		SessionID:         opts.SessionID,
		UseIncognitoPages: opts.Incognito,
		BrowserBin:        p.cfg.BrowserBin,
		Headless:          p.cfg.Headless,
		NoSandbox:         p.cfg.NoSandbox,
	}
	_ = lc.Extend("plugin", plugin.Name)

	pageID := opts.ID
	if pageID == "" {
		pageID = uuid.NewString()
	}

	if err := runPreLaunch(p.hooks.PreLaunch, pageID, lc); err != nil {
		return nil, err
	}

	proxyURL := lc.ProxyURL
	var anon *anonymizingProxy
	if needsAnonymization(lc.ProxyURL) {
		var err error
		anon, err = newAnonymizingProxy(lc.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("browserpool: anonymizing proxy: %w", err)
		}
		proxyURL = anon.LocalURL()
	}

	browser, err := launchBrowser(lc, proxyURL, plugin.Stealth)
	if err != nil {
		if anon != nil {
			anon.Close()
		}
		return nil, fmt.Errorf("browserpool: launch: %w", err)
	}

	controller := newController(lc, browser, p.cfg.RetireBrowserAfterPageCount)
	if err := runPostLaunch(p.hooks.PostLaunch, pageID, controller); err != nil {
		browser.Close()
		if anon != nil {
			anon.Close()
		}
		return nil, err
	}
	controller.Activate()

	p.mu.Lock()
	p.active[controller.ID] = controller
	if anon != nil {
		p.anonProxies[controller.ID] = anon
	}
	p.mu.Unlock()

	return p.createPageOn(ctx, controller, opts)
}

func (p *Pool) createPageOn(ctx context.Context, c *BrowserController, opts PageOptions) (*Page, error) {
	pageID := opts.ID
	if pageID == "" {
		pageID = uuid.NewString()
	}
	if err := runPrePageCreate(p.hooks.PrePageCreate, pageID, c); err != nil {
		return nil, err
	}

	var rodPage *rod.Page
	var err error
	if c.LaunchContext.UseIncognitoPages || opts.Incognito {
		var incognito *rod.Browser
		incognito, err = c.Browser.Incognito()
		if err == nil {
			rodPage, err = incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
		}
	} else {
		rodPage, err = c.Browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, fmt.Errorf("browserpool: open page: %w", err)
	}

	if p.cfg.EnableFingerprinting {
		key, keyErr := fingerprintCacheKey(c.LaunchContext.SessionID, c.LaunchContext.ProxyURL)
		if keyErr == nil {
			fp := p.fingerprints.Get(key)
			_ = rodPage.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: fp.UserAgent})
			_ = rodPage.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
				Width: fp.ViewportWidth, Height: fp.ViewportHeight,
			})
			c.LaunchContext.Fingerprint = fp
		}
		_, _ = rodPage.EvalOnNewDocument(stealth.JS)
	}

	setupResourceBlocking(rodPage, c, p.cfg.BlockedResourceTypes)

	if err := runPostPageCreate(p.hooks.PostPageCreate, rodPage, c); err != nil {
		rodPage.Close()
		return nil, err
	}

	id, retireNow, err := c.openPage(rodPage)
	if err != nil {
		rodPage.Close()
		return nil, err
	}

	page := &Page{ID: id, Rod: rodPage, Controller: c, plugin: opts.Plugin}
	p.mu.Lock()
	p.pages[id] = page
	p.mu.Unlock()

	p.bus.Emit(eventbus.PageCreated, page)

	if retireNow {
		p.RetireBrowserController(c)
	}
	return page, nil
}

// RetireBrowserController moves c to the retired set; existing pages
// continue, no new pages may be opened on it.
func (p *Pool) RetireBrowserController(c *BrowserController) {
	if !c.Retire() {
		return
	}
	p.mu.Lock()
	delete(p.active, c.ID)
	p.retired[c.ID] = c
	p.mu.Unlock()
	p.bus.Emit(eventbus.BrowserRetired, c)
	p.maybeCloseRetired(c)
}

// RetireBrowserByPage retires the controller backing the given pageID.
func (p *Pool) RetireBrowserByPage(pageID string) {
	p.mu.Lock()
	page, ok := p.pages[pageID]
	p.mu.Unlock()
	if !ok {
		return
	}
	p.RetireBrowserController(page.Controller)
}

// RetireAllBrowsers retires every currently active controller.
func (p *Pool) RetireAllBrowsers() {
	p.mu.Lock()
	all := make([]*BrowserController, 0, len(p.active))
	for _, c := range p.active {
		all = append(all, c)
	}
	p.mu.Unlock()
	for _, c := range all {
		p.RetireBrowserController(c)
	}
}

// ClosePage closes the page and runs the close wrapper, idempotently.
func (p *Pool) ClosePage(page *Page) error {
	return page.Close(p)
}

// CloseAllBrowsers force-closes every controller without waiting for pages.
func (p *Pool) CloseAllBrowsers() {
	p.mu.Lock()
	all := make([]*BrowserController, 0, len(p.active)+len(p.retired))
	for _, c := range p.active {
		all = append(all, c)
	}
	for _, c := range p.retired {
		all = append(all, c)
	}
	p.active = make(map[string]*BrowserController)
	p.retired = make(map[string]*BrowserController)
	anons := p.anonProxies
	p.anonProxies = make(map[string]*anonymizingProxy)
	p.mu.Unlock()

	for _, c := range all {
		_ = c.Close()
	}
	for _, a := range anons {
		a.Close()
	}
}

// Destroy cancels the inactivity sweep timer, force-closes everything, and
// clears all sets.
func (p *Pool) Destroy() {
	select {
	case <-p.sweepStop:
	default:
		close(p.sweepStop)
	}
	p.sweepWG.Wait()
	p.CloseAllBrowsers()
}

// Stats reports current pool-wide counters for the health endpoint.
type Stats struct {
	ActiveBrowsers  int
	RetiredBrowsers int
	ActivePages     int
	TotalPages      int
	BlockedRequests int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Stats
	s.ActiveBrowsers = len(p.active)
	s.RetiredBrowsers = len(p.retired)
	for _, c := range p.active {
		s.ActivePages += c.ActivePages()
		s.TotalPages += c.TotalPages()
		s.BlockedRequests += c.BlockedRequests()
	}
	for _, c := range p.retired {
		s.ActivePages += c.ActivePages()
		s.TotalPages += c.TotalPages()
		s.BlockedRequests += c.BlockedRequests()
	}
	return s
}

// maybeCloseRetired closes a retired controller with no active pages,
// tearing down its anonymizing proxy if any.
func (p *Pool) maybeCloseRetired(c *BrowserController) {
	if c.State() != StateRetired || c.ActivePages() > 0 {
		return
	}
	p.mu.Lock()
	delete(p.retired, c.ID)
	anon := p.anonProxies[c.ID]
	delete(p.anonProxies, c.ID)
	p.mu.Unlock()
	_ = c.Close()
	if anon != nil {
		anon.Close()
	}
}

// inactivitySweep periodically closes retired controllers that are idle:
// no active pages, or last page opened longer than
// closeInactiveBrowserAfterSecs ago.
func (p *Pool) inactivitySweep() {
	defer p.sweepWG.Done()
	ticker := time.NewTicker(p.cfg.InactivitySweepInterval)
	defer ticker.Stop()
	idleCutoff := time.Duration(p.cfg.CloseInactiveBrowserAfterSecs) * time.Second

	for {
		select {
		case <-p.sweepStop:
			return
		case <-ticker.C:
			p.mu.Lock()
			var toClose []*BrowserController
			for _, c := range p.retired {
				if c.ActivePages() == 0 || time.Since(c.LastPageOpenedAt()) > idleCutoff {
					toClose = append(toClose, c)
				}
			}
			p.mu.Unlock()
			for _, c := range toClose {
				p.maybeCloseRetired(c)
			}
		}
	}
}

func launchBrowser(lc *LaunchContext, proxyURL string, forceStealth bool) (*rod.Browser, error) {
	l := launcher.New().Headless(lc.Headless)
	if lc.NoSandbox {
		l = l.NoSandbox(true)
	}
	if lc.BrowserBin != "" {
		l = l.Bin(lc.BrowserBin)
	}
	if proxyURL != "" {
		l = l.Proxy(proxyURL)
	}
	// Stealth launch flags: match a real Chrome profile closely enough to
	// defeat naive automation fingerprinting checks.
	l = l.Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation").
		Set("disable-infobars")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, err
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	return browser, nil
}
