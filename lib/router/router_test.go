package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonhttp/axon/lib/web"
)

func serve(t *testing.T, app *web.App, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	wr := httptest.NewRecorder()
	app.ServeHTTP(wr, httptest.NewRequest(method, target, nil))
	return wr
}

func TestRouter_ParamsAndStatus(t *testing.T) {
	r := New()
	r.Get("/:category/:title", func(c *web.Context, _ web.Next) error {
		c.SetBody(nil)
		return nil
	})
	r.Post("/:category", func(c *web.Context, _ web.Next) error {
		c.SetBody(nil)
		return nil
	})

	app := web.New()
	var params map[string]string
	app.Use(func(c *web.Context, next web.Next) error {
		err := next()
		params = c.Params
		return err
	})
	app.Use(r.Routes())

	wr := serve(t, app, "GET", "http://example.com/programming/how-to-node")
	assert.Equal(t, http.StatusNoContent, wr.Code)
	assert.Equal(t, map[string]string{"category": "programming", "title": "how-to-node"}, params)

	wr = serve(t, app, "POST", "http://example.com/programming")
	assert.Equal(t, http.StatusNoContent, wr.Code)
	assert.Equal(t, map[string]string{"category": "programming"}, params)
}

func TestRouter_AllMatchesRun(t *testing.T) {
	var seq []string
	mk := func(name string) web.Handler {
		return func(_ *web.Context, next web.Next) error {
			seq = append(seq, name)
			return next()
		}
	}

	r := New()
	r.Get("/users/:id", mk("generic"), func(c *web.Context, next web.Next) error {
		return next()
	})
	r.Get("/users/admin", mk("specific"), func(c *web.Context, _ web.Next) error {
		c.SetBody("admin")
		return nil
	})

	app := web.New()
	app.Use(r.Routes())

	wr := serve(t, app, "GET", "http://example.com/users/admin")
	assert.Equal(t, http.StatusOK, wr.Code)
	assert.Equal(t, "admin", wr.Body.String())
	assert.Equal(t, []string{"generic", "specific"}, seq, "all path+method matches execute in order")
}

func TestRouter_ExclusiveMode(t *testing.T) {
	var seq []string
	mk := func(name string) web.Handler {
		return func(c *web.Context, next web.Next) error {
			seq = append(seq, name)
			c.SetBody(name)
			return nil
		}
	}

	r := New(Options{Exclusive: true})
	r.Get("/users/:id", mk("generic"))
	r.Get("/users/admin", mk("specific"))

	app := web.New()
	app.Use(r.Routes())

	wr := serve(t, app, "GET", "http://example.com/users/admin")
	assert.Equal(t, "specific", wr.Body.String())
	assert.Equal(t, []string{"specific"}, seq, "only the last match runs")
}

func TestRouter_ParamOverride(t *testing.T) {
	r := New()
	r.Get("/:kind/:id", func(c *web.Context, next web.Next) error { return next() })
	r.Get("/posts/:id", func(c *web.Context, _ web.Next) error {
		c.SetBody(c.Params["kind"] + "/" + c.Params["id"])
		return nil
	})

	app := web.New()
	app.Use(r.Routes())

	wr := serve(t, app, "GET", "http://example.com/posts/42")
	assert.Equal(t, "posts/42", wr.Body.String(), "params merge across matched layers")
}

func TestRouter_AllowedMethods(t *testing.T) {
	r := New()
	noop := func(c *web.Context, _ web.Next) error { c.SetBody("ok"); return nil }
	r.Get("/users", noop)
	r.Put("/users", noop)

	app := web.New()
	app.Use(r.AllowedMethods(AllowedOptions{}))
	app.Use(r.Routes())

	{
		wr := serve(t, app, "OPTIONS", "http://example.com/users")
		assert.Equal(t, http.StatusOK, wr.Code)
		assert.Equal(t, "HEAD, GET, PUT", wr.Result().Header.Get("Allow"))
		assert.Empty(t, wr.Body.String())
	}
	{
		wr := serve(t, app, "POST", "http://example.com/users")
		assert.Equal(t, http.StatusMethodNotAllowed, wr.Code)
		assert.Equal(t, "HEAD, GET, PUT", wr.Result().Header.Get("Allow"))
	}
	{
		wr := serve(t, app, "PURGE", "http://example.com/users")
		assert.Equal(t, http.StatusNotImplemented, wr.Code)
	}
	{
		wr := serve(t, app, "GET", "http://example.com/users")
		assert.Equal(t, http.StatusOK, wr.Code)
		assert.Equal(t, "ok", wr.Body.String())
	}
}

func TestRouter_AllowedMethodsThrow(t *testing.T) {
	r := New()
	r.Get("/users", func(c *web.Context, _ web.Next) error { c.SetBody("ok"); return nil })

	app := web.New()
	var captured error
	app.Use(func(c *web.Context, next web.Next) error {
		captured = next()
		return captured
	})
	app.Use(r.AllowedMethods(AllowedOptions{Throw: true}))
	app.Use(r.Routes())

	wr := serve(t, app, "POST", "http://example.com/users")
	assert.Equal(t, http.StatusMethodNotAllowed, wr.Code)
	var he *web.Error
	require.ErrorAs(t, captured, &he)
	assert.Equal(t, http.StatusMethodNotAllowed, he.Code)
	assert.Equal(t, "HEAD, GET", he.Header.Get("Allow"))
}

func TestRouter_GetImpliesHead(t *testing.T) {
	r := New()
	r.Get("/doc", func(c *web.Context, _ web.Next) error {
		c.SetBody("0123456789")
		return nil
	})

	app := web.New()
	app.Use(r.Routes())

	wr := serve(t, app, "HEAD", "http://example.com/doc")
	assert.Equal(t, http.StatusOK, wr.Code)
	assert.Empty(t, wr.Body.String())
	assert.Equal(t, "10", wr.Result().Header.Get("Content-Length"))
}

func TestRouter_Mount(t *testing.T) {
	sub := New()
	sub.Get("/users/:id", func(c *web.Context, _ web.Next) error {
		c.SetBody("user " + c.Params["id"])
		return nil
	})
	sub.Get("/", func(c *web.Context, _ web.Next) error {
		c.SetBody("index")
		return nil
	})

	parent := New()
	parent.Mount("/v1", sub)
	parent.Mount("/v2", sub)

	app := web.New()
	app.Use(parent.Routes())

	assert.Equal(t, "user 7", serve(t, app, "GET", "http://example.com/v1/users/7").Body.String())
	assert.Equal(t, "user 9", serve(t, app, "GET", "http://example.com/v2/users/9").Body.String())
	assert.Equal(t, "index", serve(t, app, "GET", "http://example.com/v1").Body.String())
	assert.Equal(t, "index", serve(t, app, "GET", "http://example.com/v1/").Body.String(), "prefix tolerates trailing slash")
	assert.Equal(t, http.StatusNotFound, serve(t, app, "GET", "http://example.com/users/7").Code)
}

func TestRouter_MountNoCrossTalk(t *testing.T) {
	hits := 0
	sub := New()
	sub.Get("/ping", func(c *web.Context, _ web.Next) error {
		hits++
		c.SetBody("pong")
		return nil
	})

	parent := New()
	parent.Mount("/a", sub)
	parent.Mount("/b", sub)

	app := web.New()
	app.Use(parent.Routes())

	wr := serve(t, app, "GET", "http://example.com/a/ping")
	assert.Equal(t, "pong", wr.Body.String())
	assert.Equal(t, 1, hits, "one mount point must not run the handler twice")
}

func TestRouter_NoRouteDelegates(t *testing.T) {
	r := New()
	r.Get("/known", func(c *web.Context, _ web.Next) error { c.SetBody("ok"); return nil })

	app := web.New()
	app.Use(r.Routes())
	app.Use(func(c *web.Context, _ web.Next) error {
		c.SetBody("fallback")
		return nil
	})

	wr := serve(t, app, "GET", "http://example.com/unknown")
	assert.Equal(t, "fallback", wr.Body.String())
}

func TestRouter_SetupFailsFast(t *testing.T) {
	assert.Panics(t, func() { New().Get("") }, "route without a path")
	assert.Panics(t, func() { New().Get("/x", nil) }, "nil middleware")
}
