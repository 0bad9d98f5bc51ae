// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal           *prometheus.CounterVec
	bytesTotal           *prometheus.CounterVec
	retriesTotal         *prometheus.CounterVec
	activeTasks          prometheus.Gauge
	frontierSize         prometheus.Gauge
	linksDiscoveredTotal prometheus.Counter
	taskDurationSeconds  *prometheus.HistogramVec
	proxyPoolSize        *prometheus.GaugeVec
	proxySelectionsTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlengine_tasks_total",
				Help: "Total number of dispatched tasks, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlengine_bytes_total",
				Help: "Total number of bytes fetched, labeled by domain.",
			},
			[]string{"domain"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlengine_retries_total",
				Help: "Total retried tasks, labeled by error class.",
			},
			[]string{"error_class"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlengine_active_tasks",
				Help: "Number of tasks currently in flight.",
			},
		)

		frontierSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlengine_frontier_size",
				Help: "Number of pending tasks in the priority frontier.",
			},
		)

		linksDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawlengine_links_discovered_total",
				Help: "Total newly enqueued tasks produced by link discovery.",
			},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawlengine_task_duration_seconds",
				Help:    "Histogram of end-to-end task latencies, labeled by agent.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent"},
		)

		proxyPoolSize = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawlengine_proxy_pool_size",
				Help: "Number of proxies in the pool, labeled by status.",
			},
			[]string{"status"},
		)

		proxySelectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlengine_proxy_selections_total",
				Help: "Proxy selection outcomes, labeled by decision.",
			},
			[]string{"decision"},
		)
	})
}

// SanitizeDomain extracts a lowercase hostname from a URL or host string.
// It returns "unknown" if the input is invalid.
func SanitizeDomain(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records a completed task outcome.
func ObserveTask(domain, outcome string, bytesFetched int) {
	d := SanitizeDomain(domain)
	tasksTotal.WithLabelValues(d, outcome).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(d).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts a scheduled retry for the given error class.
func ObserveRetry(errorClass string) {
	retriesTotal.WithLabelValues(errorClass).Inc()
}

// IncActiveTasks increments the in-flight task gauge.
func IncActiveTasks() { activeTasks.Inc() }

// DecActiveTasks decrements the in-flight task gauge.
func DecActiveTasks() { activeTasks.Dec() }

// SetFrontierSize records the current pending-task count.
func SetFrontierSize(n int) { frontierSize.Set(float64(n)) }

// AddLinksDiscovered counts newly enqueued discovered links.
func AddLinksDiscovered(n int) { linksDiscoveredTotal.Add(float64(n)) }

// ObserveTaskDuration records an end-to-end task latency.
func ObserveTaskDuration(agent string, d time.Duration) {
	taskDurationSeconds.WithLabelValues(agent).Observe(d.Seconds())
}

// SetProxyPoolSize records the pool size for a status bucket.
func SetProxyPoolSize(status string, n int) {
	proxyPoolSize.WithLabelValues(status).Set(float64(n))
}

// ObserveProxySelection counts a proxy selection decision
// (selected, skipped, exploration, none).
func ObserveProxySelection(decision string) {
	proxySelectionsTotal.WithLabelValues(decision).Inc()
}
