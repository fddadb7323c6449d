// Package proxyconf implements ProxyConfiguration: selecting an upstream
// proxy URL per session/request.
package proxyconf

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"sync/atomic"
)

// Info is the resolved proxy selection for one request.
type Info struct {
	URL              string
	Hostname         string
	Port             string
	Username         string
	Password         string
	SessionID        string
	IsManInTheMiddle bool
}

// Func lets a caller fully delegate proxy selection instead of the
// round-robin list.
type Func func(sessionID string) (*Info, error)

// Configuration selects an upstream proxy per session/request. Selection is
// deterministic per sessionID when one is supplied — the same session keeps
// the same proxy tier — otherwise it round-robins over URLs.
type Configuration struct {
	urls                []*url.URL
	isManInTheMiddle    bool
	delegate            Func
	roundRobinCounter   uint64
	stickiness          *stickyCache
}

// New builds a Configuration that round-robins over urls. isMITM marks every
// selection as requiring TLS-verification bypass.
func New(urls []string, isMITM bool) (*Configuration, error) {
	parsed := make([]*url.URL, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("proxyconf: invalid proxy url %q: %w", raw, err)
		}
		parsed = append(parsed, u)
	}
	return &Configuration{
		urls:             parsed,
		isManInTheMiddle: isMITM,
		stickiness:       newStickyCache(defaultStickyTTL),
	}, nil
}

// NewDelegated builds a Configuration that defers every selection to fn.
func NewDelegated(fn Func) *Configuration {
	return &Configuration{delegate: fn, stickiness: newStickyCache(defaultStickyTTL)}
}

// NewProxyInfo resolves a proxy for sessionID (may be empty). When sessionID
// is non-empty the same session always receives a stable proxy tier for the
// lifetime of the stickiness TTL — a retired session must not force proxy
// re-rotation of still-usable sessions, since stickiness is keyed on session
// identity, not session liveness.
func (c *Configuration) NewProxyInfo(sessionID string) (*Info, error) {
	if c.delegate != nil {
		return c.delegate(sessionID)
	}
	if len(c.urls) == 0 {
		return nil, fmt.Errorf("proxyconf: no proxy URLs configured")
	}

	var idx int
	if sessionID != "" {
		if cached, ok := c.stickiness.get(sessionID); ok {
			idx = cached % len(c.urls)
		} else {
			idx = stableHash(sessionID) % len(c.urls)
			c.stickiness.set(sessionID, idx)
		}
	} else {
		idx = int(atomic.AddUint64(&c.roundRobinCounter, 1)-1) % len(c.urls)
	}

	u := c.urls[idx]
	info := &Info{
		URL:              u.String(),
		Hostname:         u.Hostname(),
		Port:             u.Port(),
		SessionID:        sessionID,
		IsManInTheMiddle: c.isManInTheMiddle,
	}
	if u.User != nil {
		info.Username = u.User.Username()
		info.Password, _ = u.User.Password()
	}
	return info, nil
}

// NewURL is shorthand for NewProxyInfo(sessionID).URL.
func (c *Configuration) NewURL(sessionID string) (string, error) {
	info, err := c.NewProxyInfo(sessionID)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func stableHash(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	v := h.Sum32()
	if v > 1<<31 {
		v -= 1 << 31
	}
	return int(v)
}
