package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonhttp/axon/lib/web"
)

func staticApp(t *testing.T) (*web.App, string) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>home</html>"), 0o600))

	app := web.New()
	app.Use(Static(StaticOptions{Root: dir, MaxAge: 60}))
	app.Use(func(c *web.Context, next web.Next) error {
		c.SetStatus(http.StatusNotFound)
		c.SetBody("fallthrough")
		return nil
	})
	return app, dir
}

func TestStatic_ServesFile(t *testing.T) {
	app, _ := staticApp(t)

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest("GET", "/hello.txt", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "max-age=60", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
}

func TestStatic_DirectoryIndex(t *testing.T) {
	app, _ := staticApp(t)

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest("GET", "/", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>home</html>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestStatic_MissingFallsThrough(t *testing.T) {
	app, _ := staticApp(t)

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest("GET", "/nope.txt", http.NoBody))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "fallthrough", rec.Body.String())
}

func TestStatic_TraversalRefused(t *testing.T) {
	dir := t.TempDir()
	app := web.New()
	app.Use(Static(StaticOptions{Root: filepath.Join(dir, "public")}))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "public"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("secret"), 0o600))

	req := httptest.NewRequest("GET", "/x", http.NoBody)
	req.URL.Path = "/../secret.txt" // bypass the client-side normalization
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestStatic_PostSkipped(t *testing.T) {
	app, _ := staticApp(t)

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest("POST", "/hello.txt", http.NoBody))

	assert.Equal(t, "fallthrough", rec.Body.String())
}

func TestStatic_HeadNoBody(t *testing.T) {
	app, _ := staticApp(t)

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest("HEAD", "/hello.txt", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
}
