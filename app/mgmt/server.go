// Package mgmt provides the management server with routes info, health
// summary and the prometheus scrape endpoint.
package mgmt

import (
	"context"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/axonhttp/axon/app/rules"
)

// Server represents management server
type Server struct {
	Listen   string
	Informer Informer
	Version  string
	Metrics  *Metrics
}

// Informer wraps interface to get info about the active routing rules
type Informer interface {
	Rules() []rules.Rule
}

// Run starts the management router and serves until the context dies.
func (s *Server) Run(ctx context.Context) error {
	log.Printf("[INFO] start management server on %s", s.Listen)

	handler := http.NewServeMux()
	handler.HandleFunc("/routes", s.routesCtrl())
	if s.Metrics != nil {
		handler.Handle("/metrics", s.Metrics.Handler())
	}
	h := rest.Wrap(handler,
		rest.Recoverer(log.Default()),
		rest.AppInfo("axon-mgmt", "axonhttp", s.Version),
		rest.Ping,
	)

	httpServer := http.Server{
		Addr:              s.Listen,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		err := httpServer.Shutdown(context.Background())
		log.Printf("[WARN] mgmt server terminated, %v", err)
	}()

	return httpServer.ListenAndServe()
}

// routesCtrl - GET /routes, returns the list of active rules
func (s *Server) routesCtrl() func(w http.ResponseWriter, r *http.Request) {
	type resp struct {
		Route       string `json:"route"`
		Destination string `json:"destination"`
		Ping        string `json:"ping,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		res := []resp{}
		for _, rl := range s.Informer.Rules() {
			res = append(res, resp{Route: rl.SrcMatch.String(), Destination: rl.Dst, Ping: rl.PingURL})
		}
		rest.RenderJSON(w, res)
	}
}
