package router

import (
	"net/http"
	"strings"

	"github.com/axonhttp/axon/lib/web"
)

// state keys used to share match results with downstream middleware
const (
	MatchedKey = "router.matched" // MatchResult of the current request
	RouteKey   = "router.route"   // most specific matched *Layer
)

// Options configure a router instance.
type Options struct {
	Prefix    string
	Exclusive bool     // only the most specific match runs, default runs all
	Sensitive bool
	Strict    bool
	Methods   []string // implemented method table, defaults to standardMethods
}

var standardMethods = []string{
	http.MethodHead, http.MethodOptions, http.MethodGet, http.MethodPut,
	http.MethodPatch, http.MethodPost, http.MethodDelete,
}

// Router is an ordered list of layers matched against method and path,
// producing a per-request sub-pipeline. Configuration happens before serving
// begins, the layer list is read-only during traffic.
type Router struct {
	opts   Options
	layers []*Layer
}

// MatchResult carries both the matched-by-path set (used for the Allow
// header) and the matched-by-path-and-method subset that actually executes.
type MatchResult struct {
	Path       []*Layer
	PathMethod []*Layer
	Route      bool // true when any method-specific layer matched
}

// New makes a router.
func New(opts ...Options) *Router {
	r := &Router{}
	if len(opts) > 0 {
		r.opts = opts[0]
	}
	if len(r.opts.Methods) == 0 {
		r.opts.Methods = append([]string(nil), standardMethods...)
	}
	return r
}

// Use registers method-agnostic middleware matching every path.
func (r *Router) Use(h ...web.Handler) *Router { return r.UseAt("/", h...) }

// UseAt registers method-agnostic middleware under a path prefix.
func (r *Router) UseAt(path string, h ...web.Handler) *Router {
	l := newLayer(path, nil, h, PatternOptions{Sensitive: r.opts.Sensitive, Strict: false, End: false})
	if r.opts.Prefix != "" {
		l = l.withPrefix(r.opts.Prefix)
	}
	r.layers = append(r.layers, l)
	return r
}

// Register adds a route for the given methods, returns the layer for naming.
func (r *Router) Register(path string, methods []string, h ...web.Handler) *Layer {
	l := newLayer(path, methods, h, PatternOptions{Sensitive: r.opts.Sensitive, Strict: r.opts.Strict, End: true})
	if r.opts.Prefix != "" {
		l = l.withPrefix(r.opts.Prefix)
	}
	r.layers = append(r.layers, l)
	return l
}

// Get registers a GET (and implicit HEAD) route.
func (r *Router) Get(path string, h ...web.Handler) *Layer {
	return r.Register(path, []string{http.MethodGet}, h...)
}

// Post registers a POST route.
func (r *Router) Post(path string, h ...web.Handler) *Layer {
	return r.Register(path, []string{http.MethodPost}, h...)
}

// Put registers a PUT route.
func (r *Router) Put(path string, h ...web.Handler) *Layer {
	return r.Register(path, []string{http.MethodPut}, h...)
}

// Delete registers a DELETE route.
func (r *Router) Delete(path string, h ...web.Handler) *Layer {
	return r.Register(path, []string{http.MethodDelete}, h...)
}

// Patch registers a PATCH route.
func (r *Router) Patch(path string, h ...web.Handler) *Layer {
	return r.Register(path, []string{http.MethodPatch}, h...)
}

// All registers a route answering every implemented method.
func (r *Router) All(path string, h ...web.Handler) *Layer {
	return r.Register(path, r.opts.Methods, h...)
}

// Mount clones every layer of a sub-router with the prefix applied and adds
// the clones to this router. Mounting the same sub-router twice at different
// prefixes produces independent layer sets.
func (r *Router) Mount(prefix string, sub *Router) *Router {
	for _, l := range sub.layers {
		r.layers = append(r.layers, l.withPrefix(prefix))
	}
	return r
}

// Match tests the path against every layer in registration order regardless
// of method, then narrows by method.
func (r *Router) Match(path, method string) MatchResult {
	var res MatchResult
	for _, l := range r.layers {
		if !l.Matches(path) {
			continue
		}
		res.Path = append(res.Path, l)
		if l.methodAllowed(method) {
			res.PathMethod = append(res.PathMethod, l)
			if len(l.methods) > 0 {
				res.Route = true
			}
		}
	}
	return res
}

// Routes returns the dispatch middleware: all path+method matches execute as
// nested middleware in registration order; Exclusive mode keeps only the
// last, most specific one. Params from all matched layers merge, later
// layers override earlier keys.
func (r *Router) Routes() web.Handler {
	return func(c *web.Context, next web.Next) error {
		m := r.Match(c.Path(), c.Method())
		c.State[MatchedKey] = m
		if !m.Route {
			return next()
		}

		layers := m.PathMethod
		if r.opts.Exclusive {
			layers = layers[len(layers)-1:]
		}

		chain := make([]web.Handler, 0, len(layers)*2)
		for _, matched := range layers {
			layer := matched
			chain = append(chain, func(c *web.Context, next web.Next) error {
				for k, v := range layer.Params(c.Path()) {
					c.Params[k] = v
				}
				c.State[RouteKey] = layer
				return next()
			})
			chain = append(chain, layer.stack...)
		}
		return web.Compose(chain)(c, next)
	}
}

// AllowedOptions configure the AllowedMethods middleware.
type AllowedOptions struct {
	Throw bool // throw typed errors instead of writing status and headers
}

// AllowedMethods responds to requests the routed pipeline left unhandled:
// OPTIONS gets the Allow list, unimplemented methods get 501, implemented
// but not allowed ones get 405.
func (r *Router) AllowedMethods(opts AllowedOptions) web.Handler {
	return func(c *web.Context, next web.Next) error {
		if err := next(); err != nil {
			return err
		}
		if c.Status() != http.StatusNotFound {
			return nil
		}

		m, _ := c.State[MatchedKey].(MatchResult)
		allowed := allowedList(m.Path)
		method := strings.ToUpper(c.Method())

		if method == http.MethodOptions {
			if len(allowed) == 0 {
				return nil
			}
			c.SetStatus(http.StatusOK)
			c.SetBody("")
			c.Set("Allow", strings.Join(allowed, ", "))
			c.Set("Content-Length", "0")
			return nil
		}

		if !contains(r.opts.Methods, method) {
			if opts.Throw {
				return notImplementedError(allowed)
			}
			c.SetStatus(http.StatusNotImplemented)
			c.Set("Allow", strings.Join(allowed, ", "))
			c.SetBody("")
			return nil
		}

		if len(allowed) > 0 && !contains(allowed, method) {
			if opts.Throw {
				return methodNotAllowedError(allowed)
			}
			c.SetStatus(http.StatusMethodNotAllowed)
			c.Set("Allow", strings.Join(allowed, ", "))
			c.SetBody("")
			return nil
		}
		return nil
	}
}

// allowedList computes the Allow header values from path-matched layers,
// preserving first-seen order.
func allowedList(layers []*Layer) []string {
	var res []string
	for _, l := range layers {
		for _, m := range l.methods {
			if !contains(res, m) {
				res = append(res, m)
			}
		}
	}
	return res
}

func methodNotAllowedError(allowed []string) error {
	e := web.NewError(http.StatusMethodNotAllowed, "Method Not Allowed")
	e.Header = http.Header{"Allow": []string{strings.Join(allowed, ", ")}}
	return e
}

func notImplementedError(allowed []string) error {
	e := web.NewError(http.StatusNotImplemented, "Not Implemented")
	e.Header = http.Header{"Allow": []string{strings.Join(allowed, ", ")}}
	return e
}
