// Package server assembles the outer http surface: recovery, signature,
// ping/health, throttling, access logging, size limits and gzip around the
// application pipeline, plus the listener lifecycle.
package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	R "github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/gorilla/handlers"
)

// Http is the public proxy server
type Http struct { // nolint golint
	Address       string
	MaxBodySize   int64
	GzEnabled     bool
	ProxyHeaders  []string
	Version       string
	Signature     bool
	AccessLog     io.Writer
	StdOutEnabled bool
	Timeouts      Timeouts

	Handler   http.Handler // the application pipeline
	Health    HealthChecker
	Throttler Throttler
	Reporter  *ErrorReporter
}

// HealthChecker reports per-backend ping failures, healthy entries map to nil.
type HealthChecker interface {
	CheckHealth(ctx context.Context) map[string]error
}

// Throttler wraps middleware limiting request rates
type Throttler interface {
	Middleware(next http.Handler) http.Handler
}

// Timeouts consolidate server-side timeouts
type Timeouts struct {
	ReadHeader time.Duration
	Write      time.Duration
	Idle       time.Duration
}

// Run activates the server and blocks until the context dies or the listener
// fails.
func (h *Http) Run(ctx context.Context) error {
	var httpServer *http.Server

	go func() {
		<-ctx.Done()
		if httpServer != nil {
			if err := httpServer.Close(); err != nil {
				log.Printf("[ERROR] failed to close proxy server, %v", err)
			}
		}
	}()

	handler := R.Wrap(h.appHandler(),
		R.Recoverer(log.Default()),
		h.signatureHandler(),
		R.Ping,
		h.healthMiddleware,
		h.throttleHandler(),
		h.headersHandler(h.ProxyHeaders),
		h.accessLogHandler(h.AccessLog),
		h.stdoutLogHandler(h.StdOutEnabled, logger.New(logger.Log(log.Default()), logger.Prefix("[INFO]")).Handler),
		R.SizeLimit(h.MaxBodySize),
		h.gzipHandler(),
	)

	log.Printf("[INFO] activate http proxy server on %s", h.Address)
	httpServer = &http.Server{
		Addr:              h.Address,
		Handler:           handler,
		ReadHeaderTimeout: h.Timeouts.ReadHeader,
		WriteTimeout:      h.Timeouts.Write,
		IdleTimeout:       h.Timeouts.Idle,
	}
	httpServer.ErrorLog = log.ToStdLogger(log.Default(), "WARN")
	return httpServer.ListenAndServe()
}

func (h *Http) appHandler() http.Handler {
	if h.Handler != nil {
		return h.Handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[WARN] no application handler for %s", r.URL)
		h.reporter().Report(w, http.StatusBadGateway)
	})
}

func (h *Http) reporter() *ErrorReporter {
	if h.Reporter != nil {
		return h.Reporter
	}
	return &ErrorReporter{}
}

func (h *Http) gzipHandler() func(next http.Handler) http.Handler {
	if h.GzEnabled {
		return handlers.CompressHandler
	}
	return passThroughHandler
}

func (h *Http) signatureHandler() func(next http.Handler) http.Handler {
	if h.Signature {
		return R.AppInfo("axon", "axonhttp", h.Version)
	}
	return passThroughHandler
}

func (h *Http) throttleHandler() func(next http.Handler) http.Handler {
	if h.Throttler != nil {
		return h.Throttler.Middleware
	}
	return passThroughHandler
}

func (h *Http) headersHandler(headers []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, hdr := range headers {
				elems := strings.SplitN(hdr, ":", 2)
				if len(elems) != 2 {
					continue
				}
				w.Header().Set(strings.TrimSpace(elems[0]), strings.TrimSpace(elems[1]))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Http) accessLogHandler(wr io.Writer) func(next http.Handler) http.Handler {
	if wr == nil {
		return passThroughHandler
	}
	return func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(wr, next)
	}
}

func (h *Http) stdoutLogHandler(enable bool, lh func(next http.Handler) http.Handler) func(next http.Handler) http.Handler {
	if !enable {
		return passThroughHandler
	}
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			// don't log health probes to stdout
			if r.Method == "GET" && (strings.HasSuffix(r.URL.Path, "/ping") || r.URL.Path == "/health") {
				next.ServeHTTP(w, r)
				return
			}
			lh(next).ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

func passThroughHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
	})
}
