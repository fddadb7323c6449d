package crawler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/crawlkit/queue"
)

func newCC(rawURL string) *CrawlingContext {
	return &CrawlingContext{Request: queue.NewRequest(rawURL)}
}

func TestTierMemory_SetThenGet_ReturnsRememberedTier(t *testing.T) {
	m := newTierMemory(time.Minute)
	m.set("example.com", tierHTTP)
	assert.Equal(t, tierHTTP, m.get("example.com"))
}

func TestTierMemory_Get_EmptyForUnknownDomain(t *testing.T) {
	m := newTierMemory(time.Minute)
	assert.Equal(t, "", m.get("never-seen.test"))
}

func TestTierMemory_Get_ExpiresAfterTTL(t *testing.T) {
	m := newTierMemory(10 * time.Millisecond)
	m.set("example.com", tierBrowser)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "", m.get("example.com"), "an expired tier entry must re-race, not be trusted forever")
}

func TestTierMemory_Forget_ClearsEntry(t *testing.T) {
	m := newTierMemory(time.Minute)
	m.set("example.com", tierHTTP)
	m.forget("example.com")
	assert.Equal(t, "", m.get("example.com"))
}

func TestFetchTier_Navigate_RemembersFasterWinningTier(t *testing.T) {
	var httpCalls, browserCalls atomic.Int64
	httpNav := func(ctx context.Context, cc *CrawlingContext) error {
		httpCalls.Add(1)
		cc.Request.LoadedURL = cc.Request.URL
		return nil
	}
	browserNav := func(ctx context.Context, cc *CrawlingContext) error {
		browserCalls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return nil
	}

	ft := NewFetchTier(httpNav, browserNav, FetchTierConfig{})
	cc := newCC("https://example.com/page")
	require.NoError(t, ft.Navigate(context.Background(), cc))

	assert.Equal(t, tierHTTP, ft.memory.get("example.com"), "the faster error-free tier must be remembered as the winner")

	cc2 := newCC("https://example.com/other")
	require.NoError(t, ft.Navigate(context.Background(), cc2))
	assert.Equal(t, int64(2), httpCalls.Load(), "a remembered domain should go straight to its winning tier, not re-race")
}

func TestFetchTier_Navigate_ReRacesWhenRememberedTierFails(t *testing.T) {
	var httpShouldFail atomic.Bool
	httpShouldFail.Store(true)

	httpNav := func(ctx context.Context, cc *CrawlingContext) error {
		if httpShouldFail.Load() {
			return errors.New("http blocked")
		}
		return nil
	}
	browserNav := func(ctx context.Context, cc *CrawlingContext) error {
		return nil
	}

	ft := NewFetchTier(httpNav, browserNav, FetchTierConfig{})
	ft.memory.set("example.com", tierHTTP)

	cc := newCC("https://example.com/page")
	require.NoError(t, ft.Navigate(context.Background(), cc))

	assert.Equal(t, tierBrowser, ft.memory.get("example.com"), "a failing remembered tier must be forgotten and re-raced")
}

func TestFetchTier_Navigate_ErrorsWhenBothTiersFail(t *testing.T) {
	failing := func(ctx context.Context, cc *CrawlingContext) error {
		return errors.New("blocked")
	}
	ft := NewFetchTier(failing, failing, FetchTierConfig{})
	err := ft.Navigate(context.Background(), newCC("https://example.com/page"))
	assert.Error(t, err)
}

func TestRequestHost_ParsesHostnameWithoutPort(t *testing.T) {
	assert.Equal(t, "example.com", requestHost("https://example.com:8443/path"))
	assert.Equal(t, "", requestHost("://not-a-url"))
}
