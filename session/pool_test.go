package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/crawlkit/eventbus"
	"github.com/use-agent/crawlkit/store"
)

func testConfig() Config {
	return Config{MaxPoolSize: 2, MaxUsageCount: 100, MaxErrorScore: 3, UserAgent: "test-agent"}
}

func TestGetSession_CreatesUpToMaxPoolSize(t *testing.T) {
	p := NewPool(testConfig(), nil, store.NewMemoryStore(0), "key")

	s1, err := p.GetSession("")
	require.NoError(t, err)
	s2, err := p.GetSession("")
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)

	_, err = p.GetSession("")
	assert.NoError(t, err, "random draw over two usable sessions must succeed")
}

func TestGetSession_ErrorsAtCapacityWithNoUsableSession(t *testing.T) {
	cfg := Config{MaxPoolSize: 1, MaxUsageCount: 1, MaxErrorScore: 3, UserAgent: "test-agent"}
	p := NewPool(cfg, nil, store.NewMemoryStore(0), "key")

	s, err := p.GetSession("")
	require.NoError(t, err)
	p.MarkGood(s) // crosses MaxUsageCount=1, retires the only session

	_, err = p.GetSession("")
	assert.Error(t, err)
}

func TestGetSession_ByIDReturnsExactSession(t *testing.T) {
	p := NewPool(testConfig(), nil, store.NewMemoryStore(0), "key")
	s, err := p.GetSession("")
	require.NoError(t, err)

	found, err := p.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, found.ID)

	_, err = p.GetSession("does-not-exist")
	assert.Error(t, err)
}

func TestMarkBad_BlockedStatusEmitsSessionRetired(t *testing.T) {
	cfg := Config{MaxPoolSize: 2, MaxUsageCount: 100, MaxErrorScore: 10, BlockedStatusCodes: []int{403}, UserAgent: "test-agent"}
	bus := eventbus.New()
	var retired *Session
	bus.On(eventbus.SessionRetired, func(payload any) { retired = payload.(*Session) })

	p := NewPool(cfg, bus, store.NewMemoryStore(0), "key")
	s, err := p.GetSession("")
	require.NoError(t, err)

	p.MarkBad(s, 403)
	assert.False(t, s.IsUsable())
	require.NotNil(t, retired)
	assert.Equal(t, s.ID, retired.ID)
}

func TestPersistAndRestore_SkipsRetiredSessions(t *testing.T) {
	st := store.NewMemoryStore(0)
	ctx := context.Background()
	cfg := Config{MaxPoolSize: 3, MaxUsageCount: 100, MaxErrorScore: 3, UserAgent: "test-agent"}

	p := NewPool(cfg, nil, st, "pool-key")
	keep, err := p.GetSession("")
	require.NoError(t, err)
	p.MarkGood(keep)

	drop, err := p.GetSession("")
	require.NoError(t, err)
	p.Retire(drop)

	require.NoError(t, p.PersistState(ctx))

	restored := NewPool(cfg, nil, st, "pool-key")
	require.NoError(t, restored.Restore(ctx))

	kept, err := restored.GetSession(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, kept.UsageCount(), "usage count must survive a restore")

	_, err = restored.GetSession(drop.ID)
	assert.Error(t, err, "a retired session must not be recreated on restore")
}
