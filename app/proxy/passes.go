package proxy

import (
	"net/http"
	"net/url"

	"github.com/axonhttp/axon/lib/web"
)

// responsePass transforms the backend response before it is relayed. Passes
// run strictly in this order for every response.
type responsePass func(p *Proxy, c *web.Context, resp *http.Response)

var responsePasses = []responsePass{
	removeChunked,
	setConnection,
	rewriteRedirect,
	rewriteCookies,
}

// removeChunked drops chunked framing for HTTP/1.0 clients that cannot
// consume it, the relayed body gets re-framed by the transport.
func removeChunked(p *Proxy, c *web.Context, resp *http.Response) {
	if c.Request.ProtoMajor == 1 && c.Request.ProtoMinor == 0 {
		resp.Header.Del("Transfer-Encoding")
		resp.TransferEncoding = nil
	}
}

// setConnection normalizes the Connection header per the inbound protocol
// version: 1.0 clients default to close, 1.1 to keep-alive, 2 and up carry
// no Connection header at all.
func setConnection(p *Proxy, c *web.Context, resp *http.Response) {
	r := c.Request
	switch {
	case r.ProtoMajor >= 2:
		resp.Header.Del("Connection")
	case r.ProtoMajor == 1 && r.ProtoMinor == 0:
		v := r.Header.Get("Connection")
		if v == "" {
			v = "close"
		}
		resp.Header.Set("Connection", v)
	default:
		if resp.Header.Get("Connection") == "" {
			v := r.Header.Get("Connection")
			if v == "" {
				v = "keep-alive"
			}
			resp.Header.Set("Connection", v)
		}
	}
}

// redirect statuses subject to Location rewriting
func redirectStatus(code int) bool {
	switch code {
	case http.StatusCreated, http.StatusMovedPermanently, http.StatusFound,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// rewriteRedirect rewrites Location on redirect responses pointing back at
// the target host. HostRewrite wins over AutoRewrite, ProtocolRewrite applies
// independently. A Location pointing elsewhere passes through untouched.
func rewriteRedirect(p *Proxy, c *web.Context, resp *http.Response) {
	if !redirectStatus(resp.StatusCode) || p.opts.Target == nil {
		return
	}
	if p.opts.HostRewrite == "" && !p.opts.AutoRewrite && p.opts.ProtocolRewrite == "" {
		return
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return
	}
	u, err := url.Parse(location)
	if err != nil || u.Host != p.opts.Target.Host {
		return
	}
	switch {
	case p.opts.HostRewrite != "":
		u.Host = p.opts.HostRewrite
	case p.opts.AutoRewrite:
		u.Host = c.Request.Host
	}
	if p.opts.ProtocolRewrite != "" {
		u.Scheme = p.opts.ProtocolRewrite
	}
	resp.Header.Set("Location", u.String())
}

// rewriteCookies applies the configured Set-Cookie domain and path rewrites.
func rewriteCookies(p *Proxy, c *web.Context, resp *http.Response) {
	if len(p.opts.CookieDomainRewrite) == 0 && len(p.opts.CookiePathRewrite) == 0 {
		return
	}
	cookies := resp.Header.Values("Set-Cookie")
	if len(cookies) == 0 {
		return
	}
	rewritten := make([]string, 0, len(cookies))
	for _, raw := range cookies {
		v := rewriteCookieAttr(raw, "Domain", p.opts.CookieDomainRewrite)
		v = rewriteCookieAttr(v, "Path", p.opts.CookiePathRewrite)
		rewritten = append(rewritten, v)
	}
	resp.Header.Del("Set-Cookie")
	for _, v := range rewritten {
		resp.Header.Add("Set-Cookie", v)
	}
}
