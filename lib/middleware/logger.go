package middleware

import (
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/axonhttp/axon/lib/web"
)

// Logger reports each request with method, path, status and elapsed time.
// Failures are logged and re-thrown so the usual error handling still runs.
func Logger() web.Handler { return LoggerWith(log.Default()) }

// LoggerWith logs through the given destination, logging.New adapts an
// external leveled logger into it.
func LoggerWith(l log.L) web.Handler {
	return func(c *web.Context, next web.Next) error {
		st := time.Now()
		err := next()
		if err != nil {
			l.Logf("[WARN] %s %s failed in %v, %v", c.Method(), c.Request.OriginalURL, time.Since(st), err)
			return err
		}
		l.Logf("[INFO] %s %s %d %v", c.Method(), c.Request.OriginalURL, c.Status(), time.Since(st))
		return nil
	}
}
