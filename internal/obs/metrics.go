package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afiliados_auth_outcomes_total",
			Help: "Auth operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	denylistChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afiliados_denylist_checks_total",
			Help: "Denylist lookups by result (hit, miss, cache_hit, error).",
		},
		[]string{"result"},
	)

	janitorPurged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afiliados_janitor_purged_total",
			Help: "Expired rows removed by the janitor.",
		},
		[]string{"kind"},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			authOutcomes, denylistChecks, janitorPurged)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuth counts one auth operation outcome.
func ObserveAuth(op, outcome string) {
	authOutcomes.WithLabelValues(op, outcome).Inc()
}

// ObserveDenylist counts one denylist lookup.
func ObserveDenylist(result string) {
	denylistChecks.WithLabelValues(result).Inc()
}

// ObservePurge adds n purged rows of kind.
func ObservePurge(kind string, n int64) {
	if n > 0 {
		janitorPurged.WithLabelValues(kind).Add(float64(n))
	}
}

// Instrument records in-flight, count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses ids in known routes so label cardinality stays
// bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "accounts" && parts[4] == "revoke-sessions":
		return "/v1/admin/accounts/:id/revoke-sessions"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "tokens" && parts[3] != "revoke":
		return "/v1/admin/tokens/:jti"
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
