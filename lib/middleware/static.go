package middleware

import (
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/axonhttp/axon/lib/web"
)

// StaticOptions configures file serving.
type StaticOptions struct {
	Root   string // directory to serve from, required
	Index  string // file served for directory requests, default index.html
	MaxAge int    // Cache-Control max-age in seconds, 0 disables the header
}

// Static serves files under the root for GET and HEAD requests. Requests
// resolving outside the root are refused with 403, missing files fall through
// to the rest of the pipeline.
func Static(opts StaticOptions) web.Handler {
	if opts.Root == "" {
		panic("middleware: static root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		panic("middleware: static root: " + err.Error())
	}
	index := opts.Index
	if index == "" {
		index = "index.html"
	}

	return func(c *web.Context, next web.Next) error {
		if c.Method() != http.MethodGet && c.Method() != http.MethodHead {
			return next()
		}
		if c.Body() != nil || c.Response.Status() != http.StatusNotFound {
			return next()
		}

		if containsDotDot(c.Path()) {
			return web.NewError(http.StatusForbidden, "access denied")
		}
		reqPath := path.Clean("/" + c.Path())
		target := filepath.Join(root, filepath.FromSlash(reqPath))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return web.NewError(http.StatusForbidden, "access denied")
		}

		fi, err := os.Stat(target)
		if err == nil && fi.IsDir() {
			target = filepath.Join(target, index)
			fi, err = os.Stat(target)
		}
		if err != nil || fi.IsDir() {
			return next()
		}

		fh, err := os.Open(target) //nolint:gosec // confined to root above
		if err != nil {
			return next()
		}

		if ct := mime.TypeByExtension(filepath.Ext(target)); ct != "" {
			c.Response.Set("Content-Type", ct)
		}
		c.Response.Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
		c.Response.Set("Last-Modified", fi.ModTime().UTC().Format(http.TimeFormat))
		if opts.MaxAge > 0 {
			c.Response.Set("Cache-Control", "max-age="+strconv.Itoa(opts.MaxAge))
		}
		c.SetBody(fh)
		return nil
	}
}

// containsDotDot reports whether any slash-separated element is "..",
// checked before normalization so escapes are refused, not silently fixed.
func containsDotDot(p string) bool {
	for _, el := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if el == ".." {
			return true
		}
	}
	return false
}
