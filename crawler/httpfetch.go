// Package crawler implements BasicCrawler and BrowserCrawler: the
// orchestrators tying RequestQueue/RequestList, SessionPool,
// ProxyConfiguration, AutoscaledPool, and BrowserPool to a user-supplied
// request handler.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"

	"github.com/use-agent/crawlkit/queue"
)

// FetchResponse is the result of the plain HTTP fetch tier.
type FetchResponse struct {
	Body       []byte
	StatusCode int
	FinalURL   string
	Headers    http.Header
}

// httpChromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 so Go's http.Transport (which cannot speak HTTP/2 over a uTLS
// connection) never has to negotiate h2. Computed once and reused for every
// connection.
var httpChromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	httpChromeH1Spec = spec
}

// HTTPFetcher is the thin, non-browser fetch tier: BasicCrawler's default
// navigate step and CrawlingContext.SendRequest both fetch through it. It
// supplies a Chrome-like TLS fingerprint; it does not
// parse or clean the response body — that's out of scope here.
type HTTPFetcher struct {
	client      *http.Client
	maxBodyBytes int64
}

// NewHTTPFetcher builds an HTTPFetcher. proxyURL, when non-empty, is used
// for every request issued by this fetcher (callers construct one fetcher
// per proxy/session pairing when proxies rotate per-session).
func NewHTTPFetcher(proxyURL string, timeout time.Duration) (*HTTPFetcher, error) {
	var proxyFunc func(*http.Request) (*url.URL, error)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("httpfetch: invalid proxy url: %w", err)
		}
		proxyFunc = http.ProxyURL(u)
	}

	transport := &http.Transport{
		Proxy: proxyFunc,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&httpChromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("httpfetch: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("httpfetch: too many redirects")
				}
				return nil
			},
		},
		maxBodyBytes: 10 << 20,
	}, nil
}

// Fetch issues req.Method against req.URL with req.Headers and cookies,
// returning the raw body for the caller's own link discovery / user
// handler — no content parsing happens here.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *queue.Request, cookies []*http.Cookie) (*FetchResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var bodyReader io.Reader
	if len(req.Payload) > 0 {
		bodyReader = strings.NewReader(string(req.Payload))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: build request: %w", err)
	}

	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36")
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "identity")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for _, c := range cookies {
		httpReq.AddCookie(c)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read body: %w", err)
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &FetchResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		FinalURL:   finalURL,
		Headers:    resp.Header,
	}, nil
}
