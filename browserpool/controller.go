package browserpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
)

// ControllerState is a BrowserController's lifecycle stage.
type ControllerState int32

const (
	StateLaunching ControllerState = iota
	StateActive
	StateRetired
	StateClosed
)

// BrowserController wraps one launched rod.Browser. TotalPages only
// increases; ActivePages equals the count of open pages; once retired, no
// new page may be opened.
type BrowserController struct {
	ID            string
	LaunchContext *LaunchContext
	Browser       *rod.Browser

	lastPageOpenedAt atomic.Int64 // unix nano
	totalPages       atomic.Int64
	activePages      atomic.Int64
	blockedRequests  atomic.Int64
	state            atomic.Int32

	retireAfterPageCount int

	mu     sync.Mutex
	pages  map[string]*rod.Page // pageId -> page, for retireByPage lookups
}

func newController(lc *LaunchContext, browser *rod.Browser, retireAfterPageCount int) *BrowserController {
	c := &BrowserController{
		ID:                   uuid.NewString(),
		LaunchContext:        lc,
		Browser:              browser,
		retireAfterPageCount: retireAfterPageCount,
		pages:                make(map[string]*rod.Page),
	}
	c.state.Store(int32(StateLaunching))
	return c
}

// Activate transitions launching -> active. The pool guarantees this is
// called only after post-launch hooks complete.
func (c *BrowserController) Activate() {
	c.state.CompareAndSwap(int32(StateLaunching), int32(StateActive))
}

// State returns the controller's current lifecycle stage.
func (c *BrowserController) State() ControllerState {
	return ControllerState(c.state.Load())
}

// IsActive reports whether new pages may still be opened.
func (c *BrowserController) IsActive() bool {
	return c.State() == StateActive
}

// TotalPages returns the lifetime count of pages opened on this controller.
func (c *BrowserController) TotalPages() int {
	return int(c.totalPages.Load())
}

// ActivePages returns the current count of open pages.
func (c *BrowserController) ActivePages() int {
	return int(c.activePages.Load())
}

// BlockedRequests returns the lifetime count of resource requests the
// hijack router refused on this controller's pages.
func (c *BrowserController) BlockedRequests() int {
	return int(c.blockedRequests.Load())
}

// LastPageOpenedAt returns the time of the most recent newPage call.
func (c *BrowserController) LastPageOpenedAt() time.Time {
	ns := c.lastPageOpenedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// HasCapacity reports whether the controller is active and its TotalPages
// is still below retireAfterPageCount (always, when that is 0). The page
// that reaches the threshold is still opened; openPage then signals
// retirement.
func (c *BrowserController) HasCapacity() bool {
	return c.IsActive() && (c.retireAfterPageCount <= 0 || c.TotalPages() < c.retireAfterPageCount)
}

// openPage registers a newly created page and returns its pageId. It
// returns an error once the controller is retired or closed.
func (c *BrowserController) openPage(page *rod.Page) (pageID string, retireNow bool, err error) {
	if !c.IsActive() && c.State() != StateLaunching {
		return "", false, fmt.Errorf("browserpool: controller %s is not active", c.ID)
	}
	pageID = uuid.NewString()
	c.mu.Lock()
	c.pages[pageID] = page
	c.mu.Unlock()
	c.totalPages.Add(1)
	c.activePages.Add(1)
	c.lastPageOpenedAt.Store(time.Now().UnixNano())

	if c.retireAfterPageCount > 0 && c.TotalPages() >= c.retireAfterPageCount {
		retireNow = true
	}
	return pageID, retireNow, nil
}

// closePage decrements ActivePages exactly once for pageID. Calling it
// twice for the same pageID is a no-op on the second call.
func (c *BrowserController) closePage(pageID string) {
	c.mu.Lock()
	_, existed := c.pages[pageID]
	delete(c.pages, pageID)
	c.mu.Unlock()
	if existed {
		c.activePages.Add(-1)
	}
}

// Retire moves the controller to the retired state; existing pages continue
// but no new page may be opened. Returns true if this call performed the
// transition.
func (c *BrowserController) Retire() bool {
	for {
		cur := c.state.Load()
		if ControllerState(cur) == StateRetired || ControllerState(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateRetired)) {
			return true
		}
	}
}

// Close force-closes the underlying browser. Idempotent.
func (c *BrowserController) Close() error {
	prev := c.state.Swap(int32(StateClosed))
	if ControllerState(prev) == StateClosed {
		return nil
	}
	return c.Browser.Close()
}
