package crawler

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// EnqueueLinksOptions controls which links discovered on a page are
// followed, ported from the teacher's crawl-scope rules.
type EnqueueLinksOptions struct {
	// Scope is "domain" (same exact host), "subdomain" (same base
	// domain), or "page" (follow nothing).
	Scope string

	// ExcludePatterns are glob patterns matched against both the link's
	// path and its full URL.
	ExcludePatterns []string

	// MaxDepth bounds enqueueLinks recursion; depth is carried on
	// queue.Request.Depth.
	MaxDepth int
}

// extractLinks tokenizes html for <a href> targets and resolves them
// against base. This is structural link discovery only — not content
// cleaning or DOM parsing, which are out of scope.
func extractLinks(htmlBody []byte, base *url.URL) []string {
	tokenizer := html.NewTokenizer(strings.NewReader(string(htmlBody)))
	var links []string
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			if string(tn) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := tokenizer.TagAttr()
				if string(key) == "href" {
					if resolved := resolveLink(string(val), base); resolved != "" {
						links = append(links, resolved)
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

func resolveLink(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String()
}

// isInScope reports whether linkURL should be followed given base and
// scope.
func isInScope(linkURL string, base *url.URL, scope string) bool {
	parsed, err := url.Parse(linkURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	switch scope {
	case "page":
		return false
	case "domain":
		return strings.EqualFold(parsed.Host, base.Host)
	case "subdomain":
		return sameBaseDomain(parsed.Host, base.Host)
	default:
		return strings.EqualFold(parsed.Host, base.Host)
	}
}

// sameBaseDomain reports whether two hosts share a base domain, e.g.
// "docs.example.com" and "www.example.com" both resolve to "example.com".
func sameBaseDomain(host1, host2 string) bool {
	return strings.EqualFold(baseDomain(host1), baseDomain(host2))
}

func baseDomain(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// isExcluded reports whether rawURL matches any glob in patterns, against
// either its path or the full URL.
func isExcluded(rawURL string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, pattern := range patterns {
		if matched, _ := path.Match(pattern, parsed.Path); matched {
			return true
		}
		if matched, _ := path.Match(pattern, rawURL); matched {
			return true
		}
	}
	return false
}

// FilterLinks applies scope and exclude-pattern rules to a raw link list
// discovered on base, returning only links eligible for enqueueLinks.
func FilterLinks(links []string, base *url.URL, opts EnqueueLinksOptions) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		if isExcluded(l, opts.ExcludePatterns) {
			continue
		}
		if !isInScope(l, base, opts.Scope) {
			continue
		}
		out = append(out, l)
	}
	return out
}
