// Package session implements SessionPool: a bounded set of reusable identity
// contexts (cookies, user-agent, blocked-signal counter) handed to requests
// so a crawler appears consistent to a target site across retries.
package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is a Session's lifecycle stage.
type State int32

const (
	StateUsable State = iota
	StateRetired
)

// Session is a reusable identity context. A session is retired when
// UsageCount reaches MaxUsageCount, ErrorScore reaches MaxErrorScore, or it
// is explicitly marked blocked; retired sessions are never handed out again.
type Session struct {
	ID        string
	CookieJar *cookiejar.Jar
	UserAgent string

	MaxUsageCount int
	MaxErrorScore float64
	BlockedStatusCodes map[int]bool

	usageCount int64  // atomic
	errorScore int64  // atomic, fixed-point *1000
	state      int32  // atomic, State
}

// New creates a usable Session with the given id and user agent.
func New(id, userAgent string, maxUsageCount int, maxErrorScore float64, blockedStatusCodes []int) *Session {
	jar, _ := cookiejar.New(nil)
	blocked := make(map[int]bool, len(blockedStatusCodes))
	for _, c := range blockedStatusCodes {
		blocked[c] = true
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:                 id,
		CookieJar:          jar,
		UserAgent:          userAgent,
		MaxUsageCount:      maxUsageCount,
		MaxErrorScore:      maxErrorScore,
		BlockedStatusCodes: blocked,
	}
}

// IsUsable reports whether the session can still be handed out.
func (s *Session) IsUsable() bool {
	return State(atomic.LoadInt32(&s.state)) == StateUsable
}

// UsageCount returns the number of handler invocations charged to this
// session so far.
func (s *Session) UsageCount() int {
	return int(atomic.LoadInt64(&s.usageCount))
}

// ErrorScore returns the current error score.
func (s *Session) ErrorScore() float64 {
	return float64(atomic.LoadInt64(&s.errorScore)) / 1000
}

// MarkGood decrements the error score toward zero and counts one usage.
// Exactly one of MarkGood/MarkBad is called per handler invocation.
func (s *Session) MarkGood() (retiredNow bool) {
	atomic.AddInt64(&s.usageCount, 1)
	for {
		cur := atomic.LoadInt64(&s.errorScore)
		next := cur - 500
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(&s.errorScore, cur, next) {
			break
		}
	}
	return s.checkRetire()
}

// MarkBad increments the error score by one full point.
func (s *Session) MarkBad() (retiredNow bool) {
	atomic.AddInt64(&s.usageCount, 1)
	atomic.AddInt64(&s.errorScore, 1000)
	return s.checkRetire()
}

// IsBlockedStatus reports whether statusCode is in this session's blocked
// set; such a response is an automatic bad mark and triggers retirement.
func (s *Session) IsBlockedStatus(statusCode int) bool {
	return s.BlockedStatusCodes[statusCode]
}

// Retire forces retirement regardless of usage/error thresholds.
func (s *Session) Retire() (retiredNow bool) {
	return atomic.CompareAndSwapInt32(&s.state, int32(StateUsable), int32(StateRetired))
}

// restoreScoring sets usage/error counters directly from a persisted
// snapshot, bypassing the mark-good/mark-bad increments.
func (s *Session) restoreScoring(usageCount int, errorScore float64) {
	atomic.StoreInt64(&s.usageCount, int64(usageCount))
	atomic.StoreInt64(&s.errorScore, int64(errorScore*1000))
}

func (s *Session) checkRetire() bool {
	if s.UsageCount() >= s.MaxUsageCount || s.ErrorScore() >= s.MaxErrorScore {
		return s.Retire()
	}
	return false
}

// SetCookies scopes cookies to the URL origin at the moment of the call, as
// the spec requires.
func (s *Session) SetCookies(rawURL string, cookies []*http.Cookie) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	s.CookieJar.SetCookies(u, cookies)
	return nil
}

// Cookies returns the cookies scoped to rawURL's origin.
func (s *Session) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return s.CookieJar.Cookies(u)
}
