package crawler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/crawlkit/queue"
	"github.com/use-agent/crawlkit/store"
)

func TestNewBrowserCrawler_RequiresABrowserPool(t *testing.T) {
	st := store.NewMemoryStore(0)
	q := queue.New(st, "browsercrawl1:queue")
	_, err := NewBrowserCrawler(BrowserCrawlerConfig{
		Config: Config{
			RequestQueue:   q,
			RequestHandler: func(ctx context.Context, cc *CrawlingContext) error { return nil },
			Store:          st,
			Key:            "browsercrawl1",
			AutoscaledPool: testAutoscaleConfig(),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BrowserPool")
}

func TestRequestHost_ParsesHostnameFromURL(t *testing.T) {
	assert.Equal(t, "example.test", requestHost("https://example.test/path?x=1"))
	assert.Equal(t, "example.test", requestHost("https://example.test:8443/path"))
}

func TestRequestHost_EmptyForUnparsableURL(t *testing.T) {
	assert.Equal(t, "", requestHost("://not-a-url"))
}
