package web

import (
	"net/http"
)

// Context is the per-request mutable aggregate threaded through the pipeline.
// One instance per inbound request, never reused. It owns Request and
// Response values and delegates the frequently used accessors explicitly
// instead of relying on any dynamic lookup.
type Context struct {
	Request  *Request
	Response *Response

	// State is an opaque bag for middleware-to-middleware communication.
	State map[string]interface{}

	// Params holds named captures produced by the route matcher. Later, more
	// specific layers may overwrite earlier keys.
	Params map[string]string

	// Respond set to false hands full ownership of the transport to the
	// middleware, the application skips response finalization entirely.
	Respond bool
}

// NewContext makes a standalone context over the given transport pair. The
// application does this per request, tests and embedders may do it directly.
func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{
		Request:  newRequest(r),
		Response: newResponse(w),
		State:    map[string]interface{}{},
		Params:   map[string]string{},
		Respond:  true,
	}
}

// Method returns the request method.
func (c *Context) Method() string { return c.Request.Method }

// Path returns the working request path.
func (c *Context) Path() string { return c.Request.Path() }

// Status returns the response status.
func (c *Context) Status() int { return c.Response.Status() }

// SetStatus sets the response status.
func (c *Context) SetStatus(code int) { c.Response.SetStatus(code) }

// Body returns the response body value.
func (c *Context) Body() interface{} { return c.Response.Body() }

// SetBody sets the response body.
func (c *Context) SetBody(v interface{}) { c.Response.SetBody(v) }

// Get returns a request header value.
func (c *Context) Get(key string) string { return c.Request.Get(key) }

// Set sets an outgoing header value.
func (c *Context) Set(key, value string) { c.Response.Set(key, value) }

// Throw makes an exposable-by-default http error to return from middleware,
// i.e. return c.Throw(404, "no such user").
func (c *Context) Throw(code int, format string, args ...interface{}) error {
	return NewError(code, format, args...)
}

// Cookie returns the named request cookie.
func (c *Context) Cookie(name string) (*http.Cookie, error) {
	return c.Request.Request.Cookie(name)
}

// SetCookie appends Set-Cookie to the outgoing headers.
func (c *Context) SetCookie(cookie *http.Cookie) {
	if c.Response.headerWritten {
		return
	}
	http.SetCookie(c.Response.w, cookie)
}

// Writer exposes the underlying transport for terminal handlers (the proxy)
// that stream directly and bypass body finalization.
func (c *Context) Writer() http.ResponseWriter { return c.Response.w }
