package browserpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBrowserController_Activate_TransitionsLaunchingToActive(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 0)
	assert.Equal(t, StateLaunching, c.State())
	c.Activate()
	assert.Equal(t, StateActive, c.State())
	assert.True(t, c.IsActive())
}

func TestBrowserController_Activate_IsANoOpOnceRetired(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 0)
	c.Activate()
	assert.True(t, c.Retire())
	c.Activate()
	assert.Equal(t, StateRetired, c.State(), "Activate must not resurrect a retired controller")
}

func TestBrowserController_Retire_OnlyTheFirstCallerTransitions(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 0)
	c.Activate()
	assert.True(t, c.Retire())
	assert.False(t, c.Retire(), "a second Retire call must report no transition occurred")
}

func TestBrowserController_HasCapacity_FalseWhenInactiveOrAtLimit(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 2)
	assert.False(t, c.HasCapacity(), "launching controllers aren't active yet")

	c.Activate()
	assert.True(t, c.HasCapacity())

	_, retireNow, err := c.openPage(nil)
	assert.NoError(t, err)
	assert.False(t, retireNow)
	assert.True(t, c.HasCapacity())

	_, retireNow, err = c.openPage(nil)
	assert.NoError(t, err)
	assert.True(t, retireNow, "opening the 2nd page with a limit of 2 must signal retirement")
	assert.False(t, c.HasCapacity())
}

func TestBrowserController_HasCapacity_UnlimitedWhenRetireAfterPageCountIsZero(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 0)
	c.Activate()
	for i := 0; i < 5; i++ {
		_, retireNow, err := c.openPage(nil)
		assert.NoError(t, err)
		assert.False(t, retireNow)
	}
	assert.True(t, c.HasCapacity())
}

func TestBrowserController_OpenPage_ErrorsOnceRetired(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 0)
	c.Activate()
	c.Retire()
	_, _, err := c.openPage(nil)
	assert.Error(t, err)
}

func TestBrowserController_ClosePage_DecrementsActivePagesOnce(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 0)
	c.Activate()
	pageID, _, err := c.openPage(nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, c.ActivePages())

	c.closePage(pageID)
	assert.Equal(t, 0, c.ActivePages())

	c.closePage(pageID)
	assert.Equal(t, 0, c.ActivePages(), "closing an already-closed pageID must not double-decrement")
}

func TestBrowserController_TotalPages_NeverDecreases(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 0)
	c.Activate()
	pageID, _, _ := c.openPage(nil)
	c.closePage(pageID)
	assert.Equal(t, 1, c.TotalPages())
}

func TestBrowserController_LastPageOpenedAt_ZeroBeforeAnyPage(t *testing.T) {
	c := newController(&LaunchContext{}, nil, 0)
	assert.True(t, c.LastPageOpenedAt().IsZero())

	c.Activate()
	c.openPage(nil)
	assert.WithinDuration(t, time.Now(), c.LastPageOpenedAt(), time.Second)
}
