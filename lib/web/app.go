package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	log "github.com/go-pkgz/lgr"
)

// App owns the global middleware list, composes it once and drives a fresh
// Context per inbound request through the pipeline, finalizing the response
// from the context state on unwind. Middleware registration must complete
// before serving starts, the list is read-only during traffic.
type App struct {
	middlewares []Handler
	onError     func(err error, c *Context)

	composeOnce sync.Once
	composed    Handler
}

// New makes an application with default error reporting to the log.
func New() *App {
	return &App{
		onError: func(err error, c *Context) {
			var pe *PipelineError
			if errors.As(err, &pe) {
				log.Printf("[ERROR] %v", err)
				return
			}
			log.Printf("[WARN] request failed: %v", err)
		},
	}
}

// Use appends middleware to the global pipeline. Nil handlers fail fast.
func (a *App) Use(h Handler) *App {
	if h == nil {
		panic("web: use of nil middleware")
	}
	a.middlewares = append(a.middlewares, h)
	return a
}

// OnError installs the application error hook. It fires for every unhandled
// pipeline failure, including ones detected after output was finalized.
func (a *App) OnError(fn func(err error, c *Context)) {
	if fn == nil {
		panic("web: nil error hook")
	}
	a.onError = fn
}

// Handler returns the http.Handler entry point, composing the pipeline once.
func (a *App) Handler() http.Handler { return a }

// ServeHTTP implements the transport boundary: one context per request, run
// the composed pipeline, finalize or route the failure to the error hook.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.composeOnce.Do(func() { a.composed = Compose(a.middlewares) })

	c := NewContext(w, r)
	if err := a.composed(c, nil); err != nil {
		a.handleError(c, err)
		return
	}
	a.respond(c)
}

// respond runs the response finalization algorithm over the context state.
func (a *App) respond(c *Context) {
	if !c.Respond {
		return // middleware owns the transport
	}
	res := c.Response
	if res.headerWritten {
		return
	}
	if c.Request.Context().Err() != nil {
		return // client is gone, transport not writable
	}

	// no-body statuses end right away
	if statusEmpty(res.status) {
		if closer, ok := res.body.(io.Closer); ok {
			_ = closer.Close()
		}
		res.body = nil
		res.Remove("Content-Length")
		res.Remove("Transfer-Encoding")
		res.end(nil)
		return
	}

	// HEAD carries headers and length only
	if c.Method() == http.MethodHead {
		if res.Get("Content-Length") == "" {
			if n, ok := res.Length(); ok {
				res.setLength(n)
			}
		}
		if closer, ok := res.body.(io.Closer); ok {
			_ = closer.Close()
		}
		res.end(nil)
		return
	}

	if res.body == nil {
		if res.explicitNull {
			res.Remove("Content-Type")
			res.Remove("Transfer-Encoding")
			res.setLength(0)
			res.end(nil)
			return
		}
		// synthesize a textual body for the unset case
		msg := http.StatusText(res.status)
		if c.Request.Protocol() >= 2 || msg == "" {
			msg = strconv.Itoa(res.status)
		}
		res.Set("Content-Type", "text/plain; charset=utf-8")
		res.setLength(len(msg))
		res.end([]byte(msg))
		return
	}

	switch body := res.body.(type) {
	case []byte:
		if res.Get("Content-Length") == "" && res.Get("Transfer-Encoding") == "" {
			res.setLength(len(body))
		}
		res.end(body)
	case string:
		if res.Get("Content-Length") == "" && res.Get("Transfer-Encoding") == "" {
			res.setLength(len(body))
		}
		res.end([]byte(body))
	case io.Reader:
		res.writeHeader()
		_, err := io.Copy(res.w, body)
		if closer, ok := body.(io.Closer); ok {
			_ = closer.Close()
		}
		if err != nil {
			a.onError(err, c) // stream errors are reported, never thrown
		}
	default:
		payload, err := json.Marshal(body)
		if err != nil {
			a.handleError(c, err)
			return
		}
		if !res.headerWritten {
			res.setLength(len(payload))
		}
		res.end(payload)
	}
}

// handleError routes a pipeline failure: emit the app-level error event, then
// write the error response unless headers are out already.
func (a *App) handleError(c *Context, err error) {
	if err == nil {
		return
	}
	a.onError(err, c)

	res := c.Response
	if res.headerWritten || c.Request.Context().Err() != nil {
		return // can't touch the transport anymore, event is all we do
	}

	// drop everything set so far, the error response starts clean
	hdr := res.Header()
	for k := range hdr {
		hdr.Del(k)
	}

	var he *Error
	shaped := errors.As(err, &he)
	if shaped {
		for k, vv := range he.Header {
			for _, v := range vv {
				hdr.Add(k, v)
			}
		}
	}

	code := errorStatus(err)
	msg := http.StatusText(code)
	if shaped && he.Exposable {
		msg = he.Message
	}

	res.status = code
	res.Set("Content-Type", "text/plain; charset=utf-8")
	res.setLength(len(msg))
	res.end([]byte(msg))
}
