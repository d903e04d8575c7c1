package proxy

import (
	"fmt"
	"net/url"
	"time"

	"github.com/axonhttp/axon/lib/web"
)

// Options defines a single proxy destination and the rewrite behavior applied
// on the way there and back.
type Options struct {
	Target  *url.URL // primary destination, nil allowed when Forward is set
	Forward *url.URL // fire-and-forget mirror destination

	ChangeOrigin bool // rewrite the outgoing Host header to the target host
	XFwd         bool // add X-Forwarded-* headers
	Secure       bool // verify the backend TLS certificate
	KeepAlive    bool // reuse backend connections instead of closing per request
	WS           bool // take over websocket upgrade requests

	// redirect rewrite, applied to Location on 201/301/302/307/308 responses
	// whose redirect host matches the target host
	HostRewrite     string // explicit replacement host, wins over AutoRewrite
	AutoRewrite     bool   // replace with the inbound Host header
	ProtocolRewrite string // replacement scheme, i.e. "https"

	// Set-Cookie attribute rewrites keyed by the attribute value, "*" matches
	// anything not matched by a specific key, empty replacement strips the
	// attribute entirely
	CookieDomainRewrite map[string]string
	CookiePathRewrite   map[string]string

	ProxyTimeout time.Duration // max wait for backend response headers
	Timeout      time.Duration // backend dial timeout

	// SelfHandleResponse leaves the backend response on the context under
	// BackendResponseKey instead of relaying it, the caller owns the body
	SelfHandleResponse bool

	// ErrorHandler overrides the default backend failure translation. Called
	// at most once per request.
	ErrorHandler func(c *web.Context, err error)
}

func (o Options) validate() error {
	if o.Target == nil && o.Forward == nil {
		return fmt.Errorf("proxy: neither target nor forward configured")
	}
	for _, u := range []*url.URL{o.Target, o.Forward} {
		if u == nil {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("proxy: unsupported scheme %q in %s", u.Scheme, u)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy: no host in %s", u)
		}
	}
	return nil
}
