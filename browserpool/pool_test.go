package browserpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppliesDefaultsForZeroValuedFields(t *testing.T) {
	p := New(Config{}, Hooks{}, nil, nil)
	defer close(p.sweepStop)

	assert.Equal(t, 20, p.cfg.MaxOpenPagesPerBrowser)
	assert.Equal(t, 100, p.cfg.RetireBrowserAfterPageCount)
	assert.Equal(t, 300, p.cfg.CloseInactiveBrowserAfterSecs)
	assert.Equal(t, 10*time.Second, p.cfg.InactivitySweepInterval)
	require.Len(t, p.plugins, 1)
	assert.Equal(t, "chromium", p.plugins[0].Name)
	assert.NotNil(t, p.bus, "New must supply a default bus when none is given")
}

func TestNew_KeepsExplicitlyConfiguredValues(t *testing.T) {
	p := New(Config{MaxOpenPagesPerBrowser: 5}, Hooks{}, nil, []Plugin{{Name: "stealth", Stealth: true}})
	defer close(p.sweepStop)

	assert.Equal(t, 5, p.cfg.MaxOpenPagesPerBrowser)
	require.Len(t, p.plugins, 1)
	assert.Equal(t, "stealth", p.plugins[0].Name)
}

func TestResolvePlugin_EmptyNameReturnsTheFirstPlugin(t *testing.T) {
	p := New(Config{}, Hooks{}, nil, []Plugin{{Name: "a"}, {Name: "b"}})
	defer close(p.sweepStop)

	assert.Equal(t, "a", p.resolvePlugin("").Name)
	assert.Equal(t, "b", p.resolvePlugin("b").Name)
	assert.Equal(t, "a", p.resolvePlugin("unknown").Name, "an unknown plugin name must fall back to the default")
}

func TestFindReusableController_SkipsControllersAtCapacityOrInactive(t *testing.T) {
	p := New(Config{MaxOpenPagesPerBrowser: 1}, Hooks{}, nil, nil)
	defer close(p.sweepStop)

	launching := newController(&LaunchContext{}, nil, 0)
	p.active[launching.ID] = launching
	assert.Nil(t, p.findReusableController("chromium", PageOptions{}), "a launching controller has no capacity yet")

	active := newController(&LaunchContext{}, nil, 0)
	active.Activate()
	p.active[active.ID] = active
	got := p.findReusableController("chromium", PageOptions{})
	require.NotNil(t, got)
	assert.Equal(t, active.ID, got.ID)

	active.openPage(nil) // now at MaxOpenPagesPerBrowser capacity
	assert.Nil(t, p.findReusableController("chromium", PageOptions{}))
}

func TestStats_CountsAcrossActiveAndRetiredControllers(t *testing.T) {
	p := New(Config{}, Hooks{}, nil, nil)
	defer close(p.sweepStop)

	active := newController(&LaunchContext{}, nil, 0)
	active.Activate()
	active.openPage(nil)
	p.active[active.ID] = active

	retired := newController(&LaunchContext{}, nil, 0)
	retired.Activate()
	retired.openPage(nil)
	retired.openPage(nil)
	retired.Retire()
	p.retired[retired.ID] = retired

	s := p.Stats()
	assert.Equal(t, 1, s.ActiveBrowsers)
	assert.Equal(t, 1, s.RetiredBrowsers)
	assert.Equal(t, 3, s.ActivePages)
	assert.Equal(t, 3, s.TotalPages)
}

func TestRetireBrowserController_MovesFromActiveToRetiredWithPagesStillOpen(t *testing.T) {
	p := New(Config{}, Hooks{}, nil, nil)
	defer close(p.sweepStop)

	c := newController(&LaunchContext{}, nil, 0)
	c.Activate()
	c.openPage(nil) // keep ActivePages > 0 so maybeCloseRetired does not force-close it
	p.active[c.ID] = c

	p.RetireBrowserController(c)

	_, stillActive := p.active[c.ID]
	_, nowRetired := p.retired[c.ID]
	assert.False(t, stillActive)
	assert.True(t, nowRetired)
	assert.Equal(t, StateRetired, c.State())
}

func TestRetireBrowserController_SecondCallIsANoOp(t *testing.T) {
	p := New(Config{}, Hooks{}, nil, nil)
	defer close(p.sweepStop)

	c := newController(&LaunchContext{}, nil, 0)
	c.Activate()
	c.openPage(nil)
	p.active[c.ID] = c

	p.RetireBrowserController(c)
	p.RetireBrowserController(c) // must not panic or double-emit

	assert.Equal(t, StateRetired, c.State())
}
