package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCrawlRequest_Defaults_FillsInZeroValuedFields(t *testing.T) {
	req := &StartCrawlRequest{URLs: []string{"https://example.test/"}}
	req.Defaults()

	assert.Equal(t, 3, req.MaxDepth)
	assert.Equal(t, 100, req.MaxRequestsPerCrawl)
	assert.Equal(t, "subdomain", req.Scope)
	require.NotNil(t, req.UseBrowser)
	assert.True(t, *req.UseBrowser)
	assert.Equal(t, 10, req.MaxConcurrency)
}

func TestStartCrawlRequest_Defaults_DoesNotOverrideExplicitValues(t *testing.T) {
	falseVal := false
	req := &StartCrawlRequest{
		URLs:           []string{"https://example.test/"},
		MaxDepth:       7,
		Scope:          "page",
		UseBrowser:     &falseVal,
		MaxConcurrency: 25,
	}
	req.Defaults()

	assert.Equal(t, 7, req.MaxDepth)
	assert.Equal(t, "page", req.Scope)
	require.NotNil(t, req.UseBrowser)
	assert.False(t, *req.UseBrowser)
	assert.Equal(t, 25, req.MaxConcurrency)
	assert.Equal(t, 100, req.MaxRequestsPerCrawl, "a field left at its zero value must still pick up the default")
}
