// Package metrics exposes Prometheus collectors for the watcher service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

var (
	watcherTicksTotal          *prometheus.CounterVec
	watcherTickDurationSeconds *prometheus.HistogramVec
	watcherFetchBytesTotal     *prometheus.CounterVec
	watcherAlertsTotal         *prometheus.CounterVec
	watcherActiveSchedules     prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		watcherTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watcher_ticks_total",
				Help: "Total number of watcher ticks, labeled by outcome and reason.",
			},
			[]string{"outcome", "reason"},
		)

		watcherTickDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watcher_tick_duration_seconds",
				Help:    "Histogram of tick durations, labeled by outcome.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		watcherFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watcher_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		watcherAlertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watcher_alerts_total",
				Help: "Total number of alert deliveries, labeled by channel and status.",
			},
			[]string{"channel", "status"},
		)

		watcherActiveSchedules = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "watcher_active_schedules",
				Help: "Number of periodic schedules currently armed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTick records a tick outcome and its duration.
func ObserveTick(outcome, reason string, duration time.Duration) {
	watcherTicksTotal.WithLabelValues(outcome, reason).Inc()
	watcherTickDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveFetch adds fetched bytes for a site.
func ObserveFetch(site string, bytesFetched int) {
	if bytesFetched > 0 {
		watcherFetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveAlert counts one delivery attempt on a channel.
func ObserveAlert(channel string, err error) {
	status := "sent"
	if err != nil {
		status = "error"
	}
	watcherAlertsTotal.WithLabelValues(channel, status).Inc()
}

// SetActiveSchedules sets the armed schedule gauge.
func SetActiveSchedules(n int) {
	watcherActiveSchedules.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TickObserver feeds tick results into the collectors.
type TickObserver struct{}

// NewTickObserver initializes collectors and returns the observer.
func NewTickObserver() TickObserver {
	Init()
	return TickObserver{}
}

// ObserveTick implements watch.Observer.
func (TickObserver) ObserveTick(result watch.TickResult) {
	ObserveTick(string(result.Outcome), result.Reason, result.Duration)
}
