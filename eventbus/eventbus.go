// Package eventbus is the small typed dispatcher the crawling core uses in
// place of an event-emitter. Listeners for a given event name run
// synchronously, in registration order; the cross-component events are
// SessionRetired, BrowserRetired, PageCreated, PageClosed, PersistState,
// Migrating, and CrawlFinished.
package eventbus

import "sync"

// Name identifies an event kind.
type Name string

const (
	SessionRetired Name = "sessionRetired"
	BrowserRetired Name = "browserRetired"
	PageCreated    Name = "pageCreated"
	PageClosed     Name = "pageClosed"
	PersistState   Name = "persistState"
	Migrating      Name = "migrating"
	// CrawlFinished fires once a control-plane crawl job's Run returns,
	// payload *CrawlFinishedPayload. The natural hook for a WebhookSink
	// delivering crawl-lifecycle notifications.
	CrawlFinished Name = "crawlFinished"
)

// CrawlFinishedPayload is the CrawlFinished event's payload.
type CrawlFinishedPayload struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Handled int    `json:"handled"`
	Failed  int    `json:"failed"`
}

// Listener receives the payload for one event firing. Payload types are
// documented per Name by the emitting package.
type Listener func(payload any)

// Bus is a process-wide (or crawler-scoped) synchronous dispatcher.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Name][]Listener
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{listeners: make(map[Name][]Listener)}
}

// On registers a listener for name. Listeners for the same name fire in the
// order they were registered.
func (b *Bus) On(name Name, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], l)
}

// Emit invokes every listener registered for name, synchronously, in
// registration order. Emit does not recover from a listener panic: a
// misbehaving listener is a programming error, not a runtime condition to
// paper over.
func (b *Bus) Emit(name Name, payload any) {
	b.mu.RLock()
	ls := make([]Listener, len(b.listeners[name]))
	copy(ls, b.listeners[name])
	b.mu.RUnlock()
	for _, l := range ls {
		l(payload)
	}
}
