package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/axonhttp/axon/lib/web"
)

// BackendResponseKey is the context state key holding the *http.Response when
// SelfHandleResponse is on.
const BackendResponseKey = "proxy.response"

// ErrClientGone reports the inbound connection dropped while the backend
// exchange was in flight. It is a hangup signal, not a backend failure.
var ErrClientGone = errors.New("proxy: client connection gone")

// hop-by-hop headers never forwarded in either direction, RFC 7230 section 6.1
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Proxy relays matched requests to a backend, streaming both bodies without
// buffering. One Proxy value serves concurrent requests, all mutable state is
// per request.
type Proxy struct {
	opts      Options
	transport http.RoundTripper
}

// New makes a proxy for the given destination options.
func New(opts Options) (*Proxy, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	dialTimeout := opts.Timeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	return &Proxy{
		opts: opts,
		transport: &http.Transport{
			ResponseHeaderTimeout: opts.ProxyTimeout,
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: !opts.Secure}, //nolint:gosec // disabled only when asked to
			DisableKeepAlives:     !opts.KeepAlive,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}, nil
}

// Handler returns the terminal middleware performing the relay.
func (p *Proxy) Handler() web.Handler {
	return func(c *web.Context, next web.Next) error {
		if p.opts.WS && isUpgradeRequest(c.Request.Request) {
			return p.serveWebSocket(c)
		}
		return p.serveHTTP(c)
	}
}

func (p *Proxy) serveHTTP(c *web.Context) error {
	fail := failOnce(c, p.opts.ErrorHandler)

	body := io.Reader(c.Request.Body)
	if p.opts.Forward != nil {
		if p.opts.Target == nil {
			// forward-only mode: mirror the request, then end the response
			p.forward(c, c.Request.Body)
			c.SetStatus(http.StatusOK)
			c.SetBody(nil)
			return nil
		}
		mb := newMirrorBuffer()
		body = io.TeeReader(c.Request.Body, mb)
		go p.forward(c, mb)
		defer func() { _ = mb.Close() }()
	}

	out, err := p.outgoing(c, p.opts.Target, body)
	if err != nil {
		return fail(web.WrapError(http.StatusBadGateway, err, "cannot build backend request"))
	}

	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		// the inbound context dies when the client hangs up mid-flight and
		// the transport cancels the backend exchange with it. report the
		// hangup as its own condition, it is not a backend failure.
		if c.Request.Context().Err() != nil {
			return fail(ErrClientGone)
		}
		return fail(web.WrapError(http.StatusBadGateway, err, "backend request failed"))
	}

	for _, pass := range responsePasses {
		pass(p, c, resp)
	}

	if p.opts.SelfHandleResponse {
		c.State[BackendResponseKey] = resp
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	// from here the proxy owns the transport, skip body finalization
	c.Respond = false
	w := c.Writer()
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err = io.Copy(&flushWriter{w: w}, resp.Body); err != nil {
		if c.Request.Context().Err() != nil {
			return fail(ErrClientGone)
		}
		return fail(web.WrapError(http.StatusBadGateway, err, "backend body relay failed"))
	}
	return nil
}

// outgoing builds the backend request: joined path, preserved query, filtered
// headers, origin and forwarding rewrites. The inbound request context rides
// along so a client disconnect cancels the backend exchange.
func (p *Proxy) outgoing(c *web.Context, target *url.URL, body io.Reader) (*http.Request, error) {
	r := c.Request.Request

	u := *target
	u.Path = singleJoiningSlash(target.Path, c.Path())
	u.RawQuery = r.URL.RawQuery

	if r.ContentLength == 0 {
		body = http.NoBody
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = r.ContentLength

	copyHeader(out.Header, r.Header)
	out.Close = !p.opts.KeepAlive && !isUpgradeRequest(r)

	out.Host = r.Host // default keeps the inbound origin
	if p.opts.ChangeOrigin {
		out.Host = hostWithoutDefaultPort(target)
	}

	if p.opts.XFwd {
		if ip, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
			prior := r.Header.Get("X-Forwarded-For")
			if prior != "" {
				ip = prior + ", " + ip
			}
			out.Header.Set("X-Forwarded-For", ip)
		}
		out.Header.Set("X-Forwarded-Proto", c.Request.Scheme())
		out.Header.Set("X-Forwarded-Host", r.Host)
	}
	return out, nil
}

// forward issues the mirror request and disposes of the outcome locally,
// mirror failures never reach the primary response.
func (p *Proxy) forward(c *web.Context, body io.Reader) {
	out, err := p.outgoing(c, p.opts.Forward, body)
	if err != nil {
		log.Printf("[WARN] forward request build failed: %v", err)
		return
	}
	// the mirror must outlive the primary exchange, detach it from the
	// inbound request lifetime
	out = out.WithContext(context.WithoutCancel(out.Context()))
	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		log.Printf("[WARN] forward to %s failed: %v", p.opts.Forward, err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// failOnce makes the per-request error sink. Every failure path funnels
// through it, repeated invocations after the first are swallowed.
func failOnce(c *web.Context, custom func(*web.Context, error)) func(error) error {
	var once sync.Once
	return func(err error) error {
		var out error
		once.Do(func() {
			if errors.Is(err, ErrClientGone) {
				log.Printf("[DEBUG] %v during %s %s", err, c.Method(), c.Request.OriginalURL)
				return // nothing to write, nobody is listening
			}
			if custom != nil {
				custom(c, err)
				return
			}
			out = err
		})
		return out
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(name) == h {
			return true
		}
	}
	return false
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") ||
		r.Header.Get("Upgrade") != ""
}

func hostWithoutDefaultPort(u *url.URL) string {
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return u.Host
	}
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		return host
	}
	return u.Host
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// flushWriter pushes every chunk to the client right away, the backend
// controls the pacing.
type flushWriter struct {
	w io.Writer
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
