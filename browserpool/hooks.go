package browserpool

import (
	"fmt"

	"github.com/go-rod/rod"
)

// Hooks are ordered arrays invoked sequentially: preLaunch -> postLaunch ->
// prePageCreate -> postPageCreate -> ... -> prePageClose -> postPageClose.
// The launch and create phases stop on the first error; the close-phase
// hooks all run and their errors are ignored. Post-launch hooks must not call
// controller methods that require the browser to be fully active; the pool
// guarantees Activate() runs only after PostLaunch completes.
type Hooks struct {
	PreLaunch      []func(pageID string, lc *LaunchContext) error
	PostLaunch     []func(pageID string, c *BrowserController) error
	PrePageCreate  []func(pageID string, c *BrowserController) error
	PostPageCreate []func(page *rod.Page, c *BrowserController) error
	PrePageClose   []func(page *rod.Page, c *BrowserController) error
	PostPageClose  []func(pageID string, c *BrowserController) error
}

func runPreLaunch(hooks []func(string, *LaunchContext) error, pageID string, lc *LaunchContext) error {
	for i, h := range hooks {
		if err := h(pageID, lc); err != nil {
			return fmt.Errorf("browserpool: preLaunch hook %d: %w", i, err)
		}
	}
	return nil
}

func runPostLaunch(hooks []func(string, *BrowserController) error, pageID string, c *BrowserController) error {
	for i, h := range hooks {
		if err := h(pageID, c); err != nil {
			return fmt.Errorf("browserpool: postLaunch hook %d: %w", i, err)
		}
	}
	return nil
}

func runPrePageCreate(hooks []func(string, *BrowserController) error, pageID string, c *BrowserController) error {
	for i, h := range hooks {
		if err := h(pageID, c); err != nil {
			return fmt.Errorf("browserpool: prePageCreate hook %d: %w", i, err)
		}
	}
	return nil
}

func runPostPageCreate(hooks []func(*rod.Page, *BrowserController) error, page *rod.Page, c *BrowserController) error {
	for i, h := range hooks {
		if err := h(page, c); err != nil {
			return fmt.Errorf("browserpool: postPageCreate hook %d: %w", i, err)
		}
	}
	return nil
}

func runPrePageClose(hooks []func(*rod.Page, *BrowserController) error, page *rod.Page, c *BrowserController) {
	for _, h := range hooks {
		_ = h(page, c) // close-path hooks are best-effort; close must still proceed
	}
}

func runPostPageClose(hooks []func(string, *BrowserController) error, pageID string, c *BrowserController) {
	for _, h := range hooks {
		_ = h(pageID, c)
	}
}
