package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// navigateFunc matches the signature BasicCrawler.navigate and
// BrowserCrawler.browserNavigate both already have.
type navigateFunc func(ctx context.Context, cc *CrawlingContext) error

const (
	tierHTTP    = "http"
	tierBrowser = "browser"
)

// tierMemory remembers which tier last won for a domain, so repeat
// requests to an already-settled site skip the race and go straight to
// the proven tier. Entries expire after ttl so a site that starts
// blocking plain HTTP later eventually gets re-raced.
type tierMemory struct {
	mu      sync.Mutex
	winners map[string]tierEntry
	ttl     time.Duration
}

type tierEntry struct {
	tier      string
	expiresAt time.Time
}

func newTierMemory(ttl time.Duration) *tierMemory {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &tierMemory{winners: make(map[string]tierEntry), ttl: ttl}
}

func (m *tierMemory) get(domain string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.winners[domain]
	if !ok || time.Now().After(e.expiresAt) {
		return ""
	}
	return e.tier
}

func (m *tierMemory) set(domain, tier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.winners[domain] = tierEntry{tier: tier, expiresAt: time.Now().Add(m.ttl)}
}

func (m *tierMemory) forget(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.winners, domain)
}

// FetchTierConfig configures FetchTier.
type FetchTierConfig struct {
	// BrowserDelay gives the HTTP tier a head start before the browser tier
	// starts, on any domain the memory hasn't already settled. Zero means
	// both tiers start at once.
	BrowserDelay time.Duration
	// MemoryTTL is how long a domain's winning tier is remembered before
	// the next request to it re-races. Default 30 minutes.
	MemoryTTL time.Duration
}

// FetchTier races BasicCrawler's plain HTTP navigate step against
// BrowserCrawler's browser navigate step and adopts whichever finishes
// first without error, remembering the winner per domain so most requests
// to a settled site never pay for both tiers. Grounded on the same
// staged-escalation-plus-domain-memory shape the teacher's dispatcher used
// for its own multi-engine race.
type FetchTier struct {
	httpNavigate    navigateFunc
	browserNavigate navigateFunc
	memory          *tierMemory
	browserDelay    time.Duration
}

// NewFetchTier builds a FetchTier from the two underlying navigate steps.
// Typically httpNavigate is a BasicCrawler's httpNavigate and
// browserNavigate is a BrowserCrawler's browserNavigate sharing the same
// cfg, so whichever tier wins still records its cookies/session the way it
// normally would.
func NewFetchTier(httpNavigate, browserNavigate navigateFunc, cfg FetchTierConfig) *FetchTier {
	return &FetchTier{
		httpNavigate:    httpNavigate,
		browserNavigate: browserNavigate,
		memory:          newTierMemory(cfg.MemoryTTL),
		browserDelay:    cfg.BrowserDelay,
	}
}

// Navigate is a navigateFunc; assign it to BasicCrawler.navigate (via its
// embedding BrowserCrawler) to enable staged escalation instead of always
// opening a browser page.
func (ft *FetchTier) Navigate(ctx context.Context, cc *CrawlingContext) error {
	domain := requestHost(cc.Request.URL)

	if tier := ft.memory.get(domain); tier != "" {
		navigate := ft.httpNavigate
		if tier == tierBrowser {
			navigate = ft.browserNavigate
		}
		if err := navigate(ctx, cc); err == nil {
			return nil
		}
		ft.memory.forget(domain)
	}

	return ft.race(ctx, cc, domain)
}

type tierResult struct {
	tier  string
	err   error
	clone *CrawlingContext
}

// race runs both tiers concurrently against independent shallow clones of
// cc (each with its own *queue.Request copy), so the two navigate steps
// never write the same memory concurrently. The first clean result wins,
// cancels the other, and is merged back onto the real cc. A browser-tier
// page opened by a goroutine that loses the race (succeeds just after the
// HTTP tier already won) is not closed here; it stays open on its
// controller until browserpool's inactivity sweep closes that controller,
// which the sweep does only once the controller is retired.
func (ft *FetchTier) race(ctx context.Context, cc *CrawlingContext, domain string) error {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan tierResult, 2)
	var wg sync.WaitGroup

	run := func(tier string, navigate navigateFunc, delay time.Duration) {
		defer wg.Done()
		if delay > 0 {
			select {
			case <-raceCtx.Done():
				return
			case <-time.After(delay):
			}
		}
		select {
		case <-raceCtx.Done():
			return
		default:
		}
		clone := cloneCrawlingContext(cc)
		err := navigate(raceCtx, clone)
		results <- tierResult{tier: tier, err: err, clone: clone}
	}

	wg.Add(2)
	go run(tierHTTP, ft.httpNavigate, 0)
	go run(tierBrowser, ft.browserNavigate, ft.browserDelay)

	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error
	for r := range results {
		if r.err != nil {
			lastErr = r.err
			continue
		}
		cancel()
		ft.memory.set(domain, r.tier)
		mergeCrawlingContext(cc, r.clone)
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("fetchtier: no tier produced a result")
	}
	return lastErr
}

// cloneCrawlingContext makes a shallow copy of cc with its own
// *queue.Request, so a navigate step can record LoadedURL without racing
// the other tier's goroutine.
func cloneCrawlingContext(cc *CrawlingContext) *CrawlingContext {
	clone := *cc
	reqCopy := *cc.Request
	clone.Request = &reqCopy
	return &clone
}

// mergeCrawlingContext copies the winning clone's navigate-populated
// fields back onto the real, shared cc (whose *queue.Request pointer must
// stay the one the request source is tracking).
func mergeCrawlingContext(cc *CrawlingContext, winner *CrawlingContext) {
	cc.Response = winner.Response
	cc.Page = winner.Page
	cc.BrowserController = winner.BrowserController
	cc.Request.LoadedURL = winner.Request.LoadedURL
}
