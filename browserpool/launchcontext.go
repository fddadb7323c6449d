// Package browserpool implements BrowserController and BrowserPool: managed
// launched browsers, their pages, lifecycle hooks, fingerprint/proxy
// injection, and retirement.
package browserpool

import "fmt"

// reservedExtendKeys cannot be overwritten via LaunchContext.Extend.
var reservedExtendKeys = map[string]bool{
	"proxyUrl":  true,
	"sessionId": true,
	"userDataDir": true,
}

// LaunchContext is the immutable-after-launch record describing how a
// browser was started.
type LaunchContext struct {
	ProxyURL        string
	SessionID       string
	UserDataDir     string
	UseIncognitoPages bool
	Fingerprint     *Fingerprint
	BrowserBin      string
	Headless        bool
	NoSandbox       bool

	extra map[string]any
}

// Extend adds a launcher-specific option, refusing reserved keys.
func (lc *LaunchContext) Extend(key string, value any) error {
	if reservedExtendKeys[key] {
		return fmt.Errorf("browserpool: launch context key %q is reserved", key)
	}
	if lc.extra == nil {
		lc.extra = make(map[string]any)
	}
	lc.extra[key] = value
	return nil
}

// Extra returns a launcher-specific option set via Extend.
func (lc *LaunchContext) Extra(key string) (any, bool) {
	v, ok := lc.extra[key]
	return v, ok
}
