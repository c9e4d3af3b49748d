// Package metrics registers the Prometheus collectors of the sync service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FeedHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_feed_healthy",
			Help: "1 while the change feed transport is connected, 0 otherwise.",
		},
	)
	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_feed_reconnects_total",
			Help: "Total number of change feed reconnect attempts.",
		},
	)
	FeedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_feed_events_total",
			Help: "Change feed events dispatched, by table and type.",
		},
		[]string{"table", "type"},
	)
	FeedDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_feed_dropped_total",
			Help: "Change feed events dropped by consumers, by reason.",
		},
		[]string{"reason"},
	)
	TimelineMerges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_timeline_merges_total",
			Help: "Timeline merges by kind and outcome (applied, duplicate, stale).",
		},
		[]string{"kind", "outcome"},
	)
	DirectoryReloads = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_directory_reload_seconds",
			Help:    "Chat directory snapshot load latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	WriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_write_errors_total",
			Help: "Store writes rejected, by operation.",
		},
		[]string{"op"},
	)
	Sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_sessions_active",
			Help: "Number of open UI sessions.",
		},
	)
	PushSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_sent_total",
			Help: "Web push deliveries by outcome.",
		},
		[]string{"outcome"},
	)
	AMQPPublishErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		FeedHealthy,
		FeedReconnects,
		FeedEvents,
		FeedDropped,
		TimelineMerges,
		DirectoryReloads,
		WriteErrors,
		Sessions,
		PushSent,
		AMQPPublishErrors,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// SetFeedHealthy mirrors the feed connection state into the gauge.
func SetFeedHealthy(ok bool) {
	if ok {
		FeedHealthy.Set(1)
		return
	}
	FeedHealthy.Set(0)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTP records request counts and latencies. Websocket upgrades pass through
// unwrapped because the hijacker must stay reachable.
func HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
