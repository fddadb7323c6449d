// Package queue implements RequestQueue and RequestList: persistent sources
// of crawl work with uniqueness, ordering, and retry semantics.
package queue

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// State is the lifecycle stage of a Request.
type State string

const (
	StateUnprocessed    State = "UNPROCESSED"
	StateBeforeNav      State = "BEFORE_NAV"
	StateAfterNav       State = "AFTER_NAV"
	StateRequestHandler State = "REQUEST_HANDLER"
	StateDone           State = "DONE"
	StateError          State = "ERROR"
)

// Request is one unit of crawl work. UniqueKey is stable and dedups two
// requests that refer to the same work item; RetryCount only increases.
type Request struct {
	ID        string
	URL       string
	UniqueKey string
	Method    string
	Headers   map[string]string
	Payload   []byte
	UserData  map[string]any
	Label     string

	RetryCount    int
	ErrorMessages []string
	LoadedURL     string
	State         State

	SkipNavigation bool
	NoRetry        bool

	// Depth is the enqueueLinks depth at which this request was
	// discovered; the seed requests start at depth 0.
	Depth int

	// ForEachPlugin, when set by BrowserCrawler, requests a page from
	// every configured browser plugin rather than just one.
	ForEachPlugin bool
}

// NewRequest builds a Request with a generated ID, GET method, and a
// uniqueKey normalized from the URL.
func NewRequest(rawURL string) *Request {
	return &Request{
		ID:        uuid.NewString(),
		URL:       rawURL,
		UniqueKey: NormalizeURL(rawURL),
		Method:    "GET",
		UserData:  make(map[string]any),
		State:     StateUnprocessed,
	}
}

// NormalizeURL produces a stable dedup key for a URL: lowercases scheme and
// host, strips a trailing slash on a bare path, strips the fragment, and
// drops a default port.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}
