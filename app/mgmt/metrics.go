package mgmt

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/axonhttp/axon/lib/router"
	"github.com/axonhttp/axon/lib/web"
)

// MetricsConfig holds configuration for metrics collection
type MetricsConfig struct {
	LowCardinality bool // use route pattern instead of raw path for metrics labels
}

// Metrics provides registration and middleware for prometheus. Each instance
// owns its registry, concurrent instances never fight over collectors.
type Metrics struct {
	registry       *prometheus.Registry
	totalRequests  *prometheus.CounterVec
	responseStatus *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	lowCardinality bool
}

// NewMetrics creates metrics object with all counters registered
func NewMetrics(cfg MetricsConfig) *Metrics {
	res := &Metrics{
		registry:       prometheus.NewRegistry(),
		lowCardinality: cfg.LowCardinality,
	}

	res.totalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Number of served requests.",
		},
		[]string{"host"},
	)

	res.responseStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_status",
			Help: "Status of HTTP responses.",
		},
		[]string{"status"},
	)

	res.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_time_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 3, 5},
	}, []string{"path"})

	res.registry.MustRegister(res.totalRequests, res.responseStatus, res.httpDuration)
	return res
}

// Handler exposes the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware observes every request passing through the pipeline: count by
// host, count by resulting status, time by path.
func (m *Metrics) Middleware() web.Handler {
	return func(c *web.Context, next web.Next) error {
		host := c.Request.Hostname()
		if host == "" {
			host = strings.Split(c.Request.Host, ":")[0]
		}

		st := time.Now()
		err := next()
		// the route label exists only after the match ran downstream
		m.httpDuration.WithLabelValues(m.pathLabel(c)).Observe(time.Since(st).Seconds())

		status := c.Status()
		if err != nil {
			status = http.StatusInternalServerError
			var he *web.Error
			if errors.As(err, &he) {
				status = he.Code
			}
		}
		m.responseStatus.WithLabelValues(strconv.Itoa(status)).Inc()
		m.totalRequests.WithLabelValues(host).Inc()
		return err
	}
}

// pathLabel swaps the raw path for the matched route pattern in low
// cardinality mode, unmatched requests collapse into one label.
func (m *Metrics) pathLabel(c *web.Context) string {
	if !m.lowCardinality {
		return c.Path()
	}
	if layer, ok := c.State[router.RouteKey].(*router.Layer); ok {
		return layer.Path()
	}
	return "[unmatched]"
}
