package mgmt

import (
	"net/http"
	"strings"

	tollbooth "github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
)

// ThrottleConfig holds the global and per-host rate limits.
type ThrottleConfig struct {
	StatusCode int // status served on limit, default 429
	Global     LimitConfig
	PerHost    map[string]LimitConfig
}

// LimitConfig is one rate limit: requests per second plus burst.
type LimitConfig struct {
	Enabled bool
	Rate    int
	Burst   int
}

// Throttler limits the overall request rate and, separately, the rate per
// virtual host.
type Throttler struct {
	globalLimiter  *limiter.Limiter
	perHostLimiter map[string]*limiter.Limiter
	statusCode     int
}

// NewThrottler builds a throttler from the config, disabled limits are nil
// and free of charge at request time.
func NewThrottler(cfg ThrottleConfig) *Throttler {
	statusCode := cfg.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusTooManyRequests
	}
	perHost := make(map[string]*limiter.Limiter)
	for host, lc := range cfg.PerHost {
		perHost[strings.ToLower(host)] = makeLimiter(lc, statusCode)
	}
	return &Throttler{
		globalLimiter:  makeLimiter(cfg.Global, statusCode),
		perHostLimiter: perHost,
		statusCode:     statusCode,
	}
}

// Middleware enforces both limits. A request throttled globally is still
// counted against its host so per-host counts stay truthful.
func (t *Throttler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		globallyThrottled := t.limited(t.globalLimiter, w, r, false)

		hostLimiter := t.perHostLimiter[requestHost(r)]
		hostThrottled := t.limited(hostLimiter, w, r, globallyThrottled)

		if globallyThrottled || hostThrottled {
			return // the throttled response was written already
		}
		next.ServeHTTP(w, r)
	})
}

// limited counts a request against the limiter, writing the refusal unless
// another stage replied already.
func (t *Throttler) limited(lmt *limiter.Limiter, w http.ResponseWriter, r *http.Request, alreadyReplied bool) bool {
	if lmt == nil {
		return false
	}
	httpError := tollbooth.LimitByRequest(lmt, w, r)
	if httpError == nil {
		return false
	}
	lmt.ExecOnLimitReached(w, r)
	if !alreadyReplied {
		w.Header().Add("Content-Type", lmt.GetMessageContentType())
		w.WriteHeader(httpError.StatusCode)
		_, _ = w.Write([]byte(httpError.Message))
	}
	return true
}

func requestHost(r *http.Request) string {
	host := r.URL.Hostname()
	if host == "" {
		host = strings.Split(r.Host, ":")[0]
	}
	// host names are case-insensitive, at least for throttling purposes
	return strings.ToLower(host)
}

func makeLimiter(cfg LimitConfig, statusCode int) *limiter.Limiter {
	if !cfg.Enabled {
		return nil
	}
	lmt := tollbooth.NewLimiter(float64(cfg.Rate), nil).
		SetBurst(cfg.Burst).
		SetStatusCode(statusCode).
		SetMessage("Request rate limit exceeded, please retry later").
		SetMessageContentType("text/plain")
	return lmt
}
