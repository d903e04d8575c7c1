package web

import (
	"net/http"
	"net/url"
	"strings"
)

// Request is the inbound side of the context. It owns a mutable working URL
// while OriginalURL keeps the method/URL captured at creation time, immutable
// for the context's lifetime even when Path or URL mutate later.
type Request struct {
	*http.Request

	// OriginalURL is the origin-form request URI (path plus query), recorded
	// once at creation
	OriginalURL string
}

func newRequest(r *http.Request) *Request {
	// r.RequestURI keeps the client's wire form, which is the full absolute
	// URL for proxy-style requests; normalize to origin form
	return &Request{Request: r, OriginalURL: r.URL.RequestURI()}
}

// Path returns the working request path.
func (r *Request) Path() string { return r.URL.Path }

// SetPath rewrites the working path, OriginalURL is not affected.
func (r *Request) SetPath(p string) { r.URL.Path = p }

// Query returns parsed query values of the working URL.
func (r *Request) Query() url.Values { return r.URL.Query() }

// Get returns a request header value.
func (r *Request) Get(key string) string { return r.Header.Get(key) }

// Protocol reports the major http version of the inbound request.
func (r *Request) Protocol() int { return r.ProtoMajor }

// Secure reports whether the inbound connection is TLS.
func (r *Request) Secure() bool { return r.TLS != nil }

// Scheme returns http or https based on the inbound connection.
func (r *Request) Scheme() string {
	if r.Secure() {
		return "https"
	}
	return "http"
}

// Hostname returns the host without port.
func (r *Request) Hostname() string {
	host := r.Host
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.HasSuffix(host, "]") {
		return host[:i]
	}
	return host
}
