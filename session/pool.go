package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/use-agent/crawlkit/eventbus"
	"github.com/use-agent/crawlkit/store"
)

// Config tunes a Pool.
type Config struct {
	MaxPoolSize        int
	MaxUsageCount      int
	MaxErrorScore      float64
	BlockedStatusCodes []int
	UserAgent          string
}

// Pool is a bounded set of sessions with lazy creation up to MaxPoolSize and
// random-selection draw. Sessions persist across restarts under a stable
// key.
type Pool struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
	order    []string // insertion order, for random draw without map iteration bias concerns
	bus      *eventbus.Bus
	store    store.StateStore
	key      string
}

// NewPool creates a Pool. bus may be nil if retirement notification isn't
// needed.
func NewPool(cfg Config, bus *eventbus.Bus, st store.StateStore, key string) *Pool {
	if bus == nil {
		bus = eventbus.New()
	}
	return &Pool{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		bus:      bus,
		store:    st,
		key:      key,
	}
}

// GetSession returns the named session if sessionID is non-empty, or draws
// a random usable one, creating one if below MaxPoolSize.
func (p *Pool) GetSession(sessionID string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sessionID != "" {
		s, ok := p.sessions[sessionID]
		if !ok {
			return nil, fmt.Errorf("session pool: no session %q", sessionID)
		}
		return s, nil
	}

	usable := make([]*Session, 0, len(p.order))
	for _, id := range p.order {
		if s := p.sessions[id]; s != nil && s.IsUsable() {
			usable = append(usable, s)
		}
	}
	if len(usable) > 0 {
		return usable[rand.Intn(len(usable))], nil
	}
	if len(p.sessions) >= p.cfg.MaxPoolSize {
		return nil, fmt.Errorf("session pool: at capacity (%d) with no usable session", p.cfg.MaxPoolSize)
	}
	s := New("", p.cfg.UserAgent, p.cfg.MaxUsageCount, p.cfg.MaxErrorScore, p.cfg.BlockedStatusCodes)
	p.sessions[s.ID] = s
	p.order = append(p.order, s.ID)
	return s, nil
}

// MarkBad increments the session's error score; a status in the session's
// blocked set forces retirement directly.
func (p *Pool) MarkBad(s *Session, blockedByStatus int) {
	var retired bool
	if blockedByStatus != 0 && s.IsBlockedStatus(blockedByStatus) {
		retired = s.Retire()
	} else {
		retired = s.MarkBad()
	}
	if retired {
		p.bus.Emit(eventbus.SessionRetired, s)
	}
}

// MarkGood decrements the session's error score.
func (p *Pool) MarkGood(s *Session) {
	if s.MarkGood() {
		p.bus.Emit(eventbus.SessionRetired, s)
	}
}

// Retire forces s to retire, emitting SessionRetired if this call is the one
// that transitions it.
func (p *Pool) Retire(s *Session) {
	if s.Retire() {
		p.bus.Emit(eventbus.SessionRetired, s)
	}
}

// snapshotSession is the durable shape of a Session (cookie jars aren't
// serializable as-is; only scoring state survives a restart by design —
// cookies are cheap to reacquire and go stale quickly anyway).
type snapshotSession struct {
	ID         string
	UserAgent  string
	UsageCount int
	ErrorScore float64
	Retired    bool
}

// PersistState snapshots all sessions to the pool's stable key.
func (p *Pool) PersistState(ctx context.Context) error {
	p.mu.Lock()
	snaps := make([]snapshotSession, 0, len(p.sessions))
	for _, id := range p.order {
		s := p.sessions[id]
		snaps = append(snaps, snapshotSession{
			ID:         s.ID,
			UserAgent:  s.UserAgent,
			UsageCount: s.UsageCount(),
			ErrorScore: s.ErrorScore(),
			Retired:    !s.IsUsable(),
		})
	}
	p.mu.Unlock()
	if err := p.store.Save(ctx, p.key, snaps); err != nil {
		return fmt.Errorf("session pool: persist state: %w", err)
	}
	return nil
}

// Restore reloads a prior snapshot, recreating non-retired sessions with
// their scoring state intact.
func (p *Pool) Restore(ctx context.Context) error {
	var snaps []snapshotSession
	ok, err := p.store.Load(ctx, p.key, &snaps)
	if err != nil {
		return fmt.Errorf("session pool: restore: %w", err)
	}
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, snap := range snaps {
		if snap.Retired {
			continue
		}
		s := New(snap.ID, snap.UserAgent, p.cfg.MaxUsageCount, p.cfg.MaxErrorScore, p.cfg.BlockedStatusCodes)
		s.restoreScoring(snap.UsageCount, snap.ErrorScore)
		p.sessions[s.ID] = s
		p.order = append(p.order, s.ID)
	}
	return nil
}
