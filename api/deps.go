package api

import (
	"time"

	"github.com/use-agent/crawlkit/browserpool"
	"github.com/use-agent/crawlkit/config"
	"github.com/use-agent/crawlkit/eventbus"
	"github.com/use-agent/crawlkit/proxyconf"
	"github.com/use-agent/crawlkit/store"
	"github.com/use-agent/crawlkit/sysmon"
)

// Deps bundles every shared component a crawl job is built from. One Deps
// is constructed once at process startup and passed to every handler.
type Deps struct {
	Config       *config.Config
	Store        store.StateStore
	Bus          *eventbus.Bus
	SystemStatus *sysmon.SystemStatus
	BrowserPool  *browserpool.Pool // launches browsers lazily; unused unless a crawl sets UseBrowser
	ProxyConf    *proxyconf.Configuration
	Jobs         *JobStore
	StartTime    time.Time
}
