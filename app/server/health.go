package server

import (
	"fmt"
	"net/http"
	"sort"

	log "github.com/go-pkgz/lgr"
	R "github.com/go-pkgz/rest"
)

func (h *Http) healthMiddleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" && r.Method == "GET" {
			h.healthHandler(w, r)
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func (h *Http) healthHandler(w http.ResponseWriter, r *http.Request) {
	if h.Health == nil {
		R.RenderJSON(w, R.JSON{"status": "ok"})
		return
	}

	results := h.Health.CheckHealth(r.Context())

	var errs []string
	passed, failed := 0, 0
	for dest, err := range results {
		if err != nil {
			failed++
			errs = append(errs, fmt.Sprintf("%s: %v", dest, err))
			continue
		}
		passed++
	}
	sort.Strings(errs)

	if failed > 0 {
		log.Printf("[WARN] health check failed for %d of %d destinations", failed, passed+failed)
		w.WriteHeader(http.StatusExpectationFailed)
		R.RenderJSON(w, R.JSON{"status": "failed", "passed": passed, "failed": failed, "errors": errs})
		return
	}

	R.RenderJSON(w, R.JSON{"status": "ok", "passed": passed})
}
