package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestExtractLinks_ResolvesRelativeAndSkipsNonNavigable(t *testing.T) {
	body := []byte(`
		<html><body>
			<a href="/about">about</a>
			<a href="https://other.test/x">external</a>
			<a href="#section">fragment only</a>
			<a href="mailto:a@b.com">mail</a>
			<a href="javascript:void(0)">js</a>
			<a>no href</a>
		</body></html>
	`)
	base := mustParseURL(t, "https://example.com/page")
	links := extractLinks(body, base)

	assert.Contains(t, links, "https://example.com/about")
	assert.Contains(t, links, "https://other.test/x")
	assert.Len(t, links, 2, "fragment-only, mailto, javascript, and href-less anchors must all be skipped")
}

func TestResolveLink_StripsFragment(t *testing.T) {
	base := mustParseURL(t, "https://example.com/page")
	assert.Equal(t, "https://example.com/page2", resolveLink("/page2#frag", base))
}

func TestIsInScope_Domain_RequiresExactHostMatch(t *testing.T) {
	base := mustParseURL(t, "https://www.example.com/")
	assert.True(t, isInScope("https://www.example.com/x", base, "domain"))
	assert.False(t, isInScope("https://docs.example.com/x", base, "domain"))
}

func TestIsInScope_Subdomain_MatchesSharedBaseDomain(t *testing.T) {
	base := mustParseURL(t, "https://www.example.com/")
	assert.True(t, isInScope("https://docs.example.com/x", base, "subdomain"))
	assert.False(t, isInScope("https://other.test/x", base, "subdomain"))
}

func TestIsInScope_Page_FollowsNothing(t *testing.T) {
	base := mustParseURL(t, "https://example.com/")
	assert.False(t, isInScope("https://example.com/x", base, "page"))
}

func TestIsInScope_RejectsNonHTTPSchemes(t *testing.T) {
	base := mustParseURL(t, "https://example.com/")
	assert.False(t, isInScope("ftp://example.com/x", base, "domain"))
}

func TestBaseDomain_StripsPortAndSubdomains(t *testing.T) {
	assert.Equal(t, "example.com", baseDomain("docs.example.com:8080"))
	assert.Equal(t, "example.com", baseDomain("example.com"))
}

func TestIsExcluded_MatchesPathOrFullURLGlob(t *testing.T) {
	assert.True(t, isExcluded("https://example.com/admin/login", []string{"/admin/*"}))
	assert.False(t, isExcluded("https://example.com/public", []string{"/admin/*"}))
}

func TestFilterLinks_CombinesScopeAndExcludeRules(t *testing.T) {
	base := mustParseURL(t, "https://example.com/")
	links := []string{
		"https://example.com/public",
		"https://example.com/admin/login",
		"https://other.test/x",
	}
	out := FilterLinks(links, base, EnqueueLinksOptions{Scope: "domain", ExcludePatterns: []string{"/admin/*"}})
	assert.Equal(t, []string{"https://example.com/public"}, out)
}
