package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonhttp/axon/lib/web"
)

func proxyApp(t *testing.T, opts Options) *httptest.Server {
	p, err := New(opts)
	require.NoError(t, err)
	app := web.New()
	app.OnError(func(err error, c *web.Context) {})
	app.Use(p.Handler())
	ts := httptest.NewServer(app)
	t.Cleanup(ts.Close)
	return ts
}

func mustParse(t *testing.T, s string) *url.URL {
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestProxy_Relay(t *testing.T) {
	var gotPath, gotHost, gotXfwdHost, gotXfwdProto string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotHost = r.Host
		gotXfwdHost = r.Header.Get("X-Forwarded-Host")
		gotXfwdProto = r.Header.Get("X-Forwarded-Proto")
		w.Header().Set("App-Header", "v1")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("backend says hi"))
	}))
	defer backend.Close()

	ts := proxyApp(t, Options{
		Target: mustParse(t, backend.URL+"/base"),
		XFwd:   true,
	})

	resp, err := http.Get(ts.URL + "/it/works?q=1&x=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "backend says hi", string(body))
	assert.Equal(t, "v1", resp.Header.Get("App-Header"))
	assert.Equal(t, "/base/it/works?q=1&x=2", gotPath)
	assert.Equal(t, strings.TrimPrefix(ts.URL, "http://"), gotHost, "inbound host preserved by default")
	assert.Equal(t, strings.TrimPrefix(ts.URL, "http://"), gotXfwdHost)
	assert.Equal(t, "http", gotXfwdProto)
}

func TestProxy_ChangeOrigin(t *testing.T) {
	var gotHost string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	ts := proxyApp(t, Options{
		Target:       mustParse(t, backend.URL),
		ChangeOrigin: true,
	})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()

	// httptest listens on a random port, never the scheme default, so the
	// rewritten host keeps it
	assert.Equal(t, strings.TrimPrefix(backend.URL, "http://"), gotHost)
}

func TestProxy_RequestBodyStreamed(t *testing.T) {
	var got []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	ts := proxyApp(t, Options{Target: mustParse(t, backend.URL)})

	resp, err := http.Post(ts.URL+"/submit", "text/plain", strings.NewReader("payload body"))
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "payload body", string(got))
}

func TestProxy_BackendDown(t *testing.T) {
	ts := proxyApp(t, Options{Target: mustParse(t, "http://127.0.0.1:1")})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "127.0.0.1:1", "internal detail must not leak")
}

func TestProxy_CustomErrorHandler(t *testing.T) {
	ts := proxyApp(t, Options{
		Target: mustParse(t, "http://127.0.0.1:1"),
		ErrorHandler: func(c *web.Context, err error) {
			c.SetStatus(http.StatusServiceUnavailable)
			c.SetBody("backend nap time")
		},
	})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "backend nap time", string(body))
}

func TestProxy_ClientDisconnectCancelsBackend(t *testing.T) {
	canceled := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(canceled)
		case <-time.After(5 * time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer backend.Close()

	ts := proxyApp(t, Options{Target: mustParse(t, backend.URL)})

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/slow", http.NoBody)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		resp, reqErr := http.DefaultClient.Do(req)
		if reqErr == nil {
			_ = resp.Body.Close()
		}
		close(done)
	}()

	time.Sleep(100 * time.Millisecond) // let the exchange reach the backend
	cancel()
	<-done

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("backend request was not canceled after client hangup")
	}
}

func TestProxy_ForwardMirror(t *testing.T) {
	mirrored := make(chan string, 1)
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mirrored <- r.URL.Path + ":" + string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer mirror.Close()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte("primary"))
	}))
	defer backend.Close()

	ts := proxyApp(t, Options{
		Target:  mustParse(t, backend.URL),
		Forward: mustParse(t, mirror.URL),
	})

	resp, err := http.Post(ts.URL+"/mirrored", "text/plain", strings.NewReader("twice"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "primary", string(body))

	select {
	case got := <-mirrored:
		assert.Equal(t, "/mirrored:twice", got)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror never saw the request")
	}
}

func TestProxy_ForwardOnly(t *testing.T) {
	mirrored := make(chan struct{}, 1)
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mirrored <- struct{}{}
	}))
	defer mirror.Close()

	ts := proxyApp(t, Options{Forward: mustParse(t, mirror.URL)})

	resp, err := http.Get(ts.URL + "/fire-and-forget")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	select {
	case <-mirrored:
	case <-time.After(2 * time.Second):
		t.Fatal("mirror never saw the request")
	}
}

func TestProxy_SelfHandleResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("raw backend body"))
	}))
	defer backend.Close()

	p, err := New(Options{
		Target:             mustParse(t, backend.URL),
		SelfHandleResponse: true,
	})
	require.NoError(t, err)

	app := web.New()
	app.Use(func(c *web.Context, next web.Next) error {
		if err := next(); err != nil {
			return err
		}
		resp := c.State[BackendResponseKey].(*http.Response)
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		c.SetStatus(resp.StatusCode)
		c.SetBody("wrapped: " + string(b))
		return nil
	})
	app.Use(p.Handler())

	ts := httptest.NewServer(app)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "wrapped: raw backend body", string(b))
}

func TestSingleJoiningSlash(t *testing.T) {
	tbl := []struct{ a, b, want string }{
		{"", "/x", "/x"},
		{"/base", "/x", "/base/x"},
		{"/base/", "/x", "/base/x"},
		{"/base", "x", "/base/x"},
	}
	for _, tt := range tbl {
		assert.Equal(t, tt.want, singleJoiningSlash(tt.a, tt.b), "%q + %q", tt.a, tt.b)
	}
}

func TestOptions_Validate(t *testing.T) {
	assert.Error(t, Options{}.validate())
	assert.Error(t, Options{Target: &url.URL{Scheme: "ftp", Host: "x"}}.validate())
	assert.Error(t, Options{Target: &url.URL{Scheme: "http"}}.validate())
	assert.NoError(t, Options{Target: &url.URL{Scheme: "http", Host: "x"}}.validate())
}

func TestProxy_SlowMirrorDoesNotStallUpload(t *testing.T) {
	release := make(chan struct{})
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release // never reads the body while the primary upload runs
	}))
	defer mirror.Close()
	defer close(release) // unblock the handler before the server closes

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		fmt.Fprintf(w, "got %d", n)
	}))
	defer backend.Close()

	ts := proxyApp(t, Options{
		Target:  mustParse(t, backend.URL),
		Forward: mustParse(t, mirror.URL),
	})

	payload := strings.Repeat("x", 4*1024*1024)
	client := http.Client{Timeout: 5 * time.Second}
	st := time.Now()
	resp, err := client.Post(ts.URL+"/upload", "text/plain", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("got %d", len(payload)), string(body))
	assert.Less(t, time.Since(st), 5*time.Second)
}

func TestMirrorBuffer_DropsWhenFull(t *testing.T) {
	mb := newMirrorBuffer()

	// no reader attached, writes past the backlog must not block
	for i := 0; i < mirrorBacklog*2; i++ {
		n, err := mb.Write([]byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	require.NoError(t, mb.Close())

	got, err := io.ReadAll(mb)
	require.NoError(t, err)
	assert.Len(t, got, mirrorBacklog) // the overflow was dropped
	assert.Equal(t, byte(0), got[0])
	assert.Equal(t, byte(mirrorBacklog-1), got[len(got)-1])
}
