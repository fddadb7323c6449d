package browserpool

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
)

// needsAnonymization reports whether proxyURL carries credentials that a
// browser's proxy configuration can't express directly — Chrome has no way
// to supply a Proxy-Authorization header up front, so a credentialed
// upstream proxy needs a local hop that injects it.
func needsAnonymization(proxyURL string) bool {
	if proxyURL == "" {
		return false
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return false
	}
	return u.User != nil
}

// anonymizingProxy is a local, credential-free proxy that forwards CONNECT
// and plain HTTP requests to an upstream proxy, injecting the
// Proxy-Authorization header itself. It is 1:1 with the browser it serves
// and torn down on Close. No forward/anonymizing proxy library appears
// anywhere in the retrieved example pack, so this is built on net/http by
// necessity.
type anonymizingProxy struct {
	upstream *url.URL
	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

func newAnonymizingProxy(upstreamURL string) (*anonymizingProxy, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("anonproxy: invalid upstream url: %w", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("anonproxy: listen: %w", err)
	}

	p := &anonymizingProxy{upstream: u, listener: ln}
	p.server = &http.Server{Handler: http.HandlerFunc(p.handle)}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.server.Serve(ln)
	}()
	return p, nil
}

// LocalURL is the proxy URL to hand to the browser: credential-free,
// 127.0.0.1-bound.
func (p *anonymizingProxy) LocalURL() string {
	return "http://" + p.listener.Addr().String()
}

func (p *anonymizingProxy) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleForward(w, r)
}

// handleConnect dials the upstream proxy's own CONNECT tunnel, authenticating
// with the credentials this local hop was configured with.
func (p *anonymizingProxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	upstreamConn, err := net.Dial("tcp", p.upstream.Host)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer upstreamConn.Close()

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: r.Host},
		Host:   r.Host,
		Header: make(http.Header),
	}
	if p.upstream.User != nil {
		pass, _ := p.upstream.User.Password()
		connectReq.SetBasicAuth(p.upstream.User.Username(), pass)
	}
	if err := connectReq.Write(upstreamConn); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()

	pipe(clientConn, upstreamConn)
}

func (p *anonymizingProxy) handleForward(w http.ResponseWriter, r *http.Request) {
	outReq := r.Clone(r.Context())
	if p.upstream.User != nil {
		pass, _ := p.upstream.User.Password()
		outReq.SetBasicAuth(p.upstream.User.Username(), pass)
	}
	outReq.URL.Scheme = p.upstream.Scheme
	outReq.URL.Host = p.upstream.Host
	outReq.RequestURI = ""

	resp, err := http.DefaultClient.Do(outReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
}

func pipe(a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		_, _ = copyBuf(dst, src)
		done <- struct{}{}
	}
	go cp(a, b)
	go cp(b, a)
	<-done
}

func copyBuf(dst, src net.Conn) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			return total, err
		}
	}
}

// Close tears down the local proxy. Safe to call once; called when the
// browser it serves disconnects.
func (p *anonymizingProxy) Close() {
	_ = p.server.Close()
	p.wg.Wait()
}
