package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/axonhttp/axon/lib/web"
)

// Layer is one registered route: compiled pattern, allowed methods and the
// ordered middleware stack. Immutable after construction; mounting a
// sub-router produces fresh clones with a recomputed prefix, it never shares
// mutable structure between mount points.
type Layer struct {
	Name string

	path    string
	prefix  string
	methods []string
	stack   []web.Handler
	pattern *Pattern
	opts    PatternOptions
}

// newLayer compiles a layer; a route registered without a path or with a bad
// pattern is a setup bug and fails immediately.
func newLayer(path string, methods []string, stack []web.Handler, opts PatternOptions) *Layer {
	if path == "" {
		panic("router: route registered without a path")
	}
	for i, h := range stack {
		if h == nil {
			panic(fmt.Sprintf("router: route %s has nil middleware #%d", path, i))
		}
	}

	// GET routes answer HEAD too
	normalized := make([]string, 0, len(methods)+1)
	for _, m := range methods {
		m = strings.ToUpper(m)
		if m == http.MethodGet && !contains(normalized, http.MethodHead) {
			normalized = append(normalized, http.MethodHead)
		}
		if !contains(normalized, m) {
			normalized = append(normalized, m)
		}
	}

	l := &Layer{
		path:    path,
		methods: normalized,
		stack:   append([]web.Handler(nil), stack...),
		opts:    opts,
	}
	l.compile()
	return l
}

func (l *Layer) compile() {
	path := l.path
	if l.prefix != "" {
		if path == "/" && !l.opts.Strict {
			// root path mounted under a prefix must not become a double slash
			path = l.prefix
		} else {
			path = l.prefix + path
		}
	}
	p, err := CompilePattern(path, l.opts)
	if err != nil {
		panic("router: " + err.Error())
	}
	l.pattern = p
}

// Path returns the full layer path including prefix.
func (l *Layer) Path() string { return l.pattern.raw }

// Methods returns the allowed methods, empty for method-agnostic layers.
func (l *Layer) Methods() []string { return l.methods }

// Matches tests the layer pattern against a request path.
func (l *Layer) Matches(path string) bool { return l.pattern.Matches(path) }

// Params extracts the layer's named captures from a path.
func (l *Layer) Params(path string) map[string]string { return l.pattern.Params(path) }

// methodAllowed reports whether the layer accepts the method. Layers with no
// method list (use-registered) are method-agnostic.
func (l *Layer) methodAllowed(method string) bool {
	if len(l.methods) == 0 {
		return true
	}
	return contains(l.methods, strings.ToUpper(method))
}

// withPrefix returns a value copy of the layer with the prefix prepended and
// the pattern recompiled. The middleware stack slice is copied so the two
// layers never alias one list.
func (l *Layer) withPrefix(prefix string) *Layer {
	clone := &Layer{
		Name:    l.Name,
		path:    l.path,
		prefix:  strings.TrimSuffix(prefix, "/") + l.prefix,
		methods: append([]string(nil), l.methods...),
		stack:   append([]web.Handler(nil), l.stack...),
		opts:    l.opts,
	}
	clone.compile()
	return clone
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
