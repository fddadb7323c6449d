package browserpool

import (
	"errors"
	"testing"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
)

func TestRunPreLaunch_StopsOnFirstError(t *testing.T) {
	var ran []int
	hooks := []func(string, *LaunchContext) error{
		func(string, *LaunchContext) error { ran = append(ran, 0); return nil },
		func(string, *LaunchContext) error { ran = append(ran, 1); return errors.New("boom") },
		func(string, *LaunchContext) error { ran = append(ran, 2); return nil },
	}

	err := runPreLaunch(hooks, "page-1", &LaunchContext{})
	assert.Error(t, err)
	assert.Equal(t, []int{0, 1}, ran, "the hook after the failing one must not run")
}

func TestRunPostLaunch_AllSucceed(t *testing.T) {
	var ran []int
	hooks := []func(string, *BrowserController) error{
		func(string, *BrowserController) error { ran = append(ran, 0); return nil },
		func(string, *BrowserController) error { ran = append(ran, 1); return nil },
	}

	err := runPostLaunch(hooks, "page-1", nil)
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ran)
}

func TestRunPrePageClose_RunsEveryHookEvenOnError(t *testing.T) {
	var calls int
	hooks := []func(*rod.Page, *BrowserController) error{
		func(*rod.Page, *BrowserController) error { calls++; return errors.New("ignored") },
		func(*rod.Page, *BrowserController) error { calls++; return nil },
	}

	runPrePageClose(hooks, nil, nil)
	assert.Equal(t, 2, calls, "best-effort close hooks must all run regardless of error")
}

func TestRunPostPageClose_RunsEveryHook(t *testing.T) {
	var calls int
	hooks := []func(string, *BrowserController) error{
		func(string, *BrowserController) error { calls++; return errors.New("ignored") },
		func(string, *BrowserController) error { calls++; return nil },
	}

	runPostPageClose(hooks, "page-1", nil)
	assert.Equal(t, 2, calls)
}
