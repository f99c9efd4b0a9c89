// Package metrics provides Prometheus metrics for the fitsync daemon.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Read path
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsync_fetches_total",
			Help: "Cached reads by outcome state",
		},
		[]string{"state"},
	)

	// Write path
	mutationsQueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fitsync_mutations_queued_total",
			Help: "Mutations stored for later replay",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fitsync_queue_depth",
			Help: "Pending mutations awaiting replay",
		},
	)

	replaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsync_replays_total",
			Help: "Replayed mutations by result",
		},
		[]string{"result"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitsync_sync_duration_seconds",
			Help:    "Queue drain duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// Connectivity
	online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fitsync_online",
			Help: "1 when the runtime reports connectivity, else 0",
		},
	)

	connectivityTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsync_connectivity_transitions_total",
			Help: "Reported connectivity transitions",
		},
		[]string{"to"},
	)

	// Portal backend
	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitsync_upstream_request_duration_seconds",
			Help:    "Portal request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fitsync_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordUpstream records a call to the portal. status is 0 for transport failures.
func RecordUpstream(method string, status int, duration time.Duration) {
	upstreamDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordRateLimitHit records a 429 from the local API.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// Recorder satisfies the offline service's metrics hook with the package collectors.
type Recorder struct{}

// FetchCompleted counts a read by its final state.
func (Recorder) FetchCompleted(state string) {
	fetchesTotal.WithLabelValues(state).Inc()
}

// MutationQueued counts an enqueue.
func (Recorder) MutationQueued() {
	mutationsQueuedTotal.Inc()
}

// QueueDepth sets the pending gauge.
func (Recorder) QueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// ReplayCompleted counts one replayed mutation.
func (Recorder) ReplayCompleted(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	replaysTotal.WithLabelValues(result).Inc()
}

// SyncCompleted observes a drain. result is "complete", "halted" or "skipped".
func (Recorder) SyncCompleted(result string, duration time.Duration) {
	syncDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// Online sets the online gauge without counting a transition.
func (Recorder) Online(isOnline bool) {
	v := 0.0
	if isOnline {
		v = 1
	}
	online.Set(v)
}

// ConnectivityChanged records a transition and updates the online gauge.
func (r Recorder) ConnectivityChanged(isOnline bool) {
	to := "offline"
	if isOnline {
		to = "online"
	}
	r.Online(isOnline)
	connectivityTransitionsTotal.WithLabelValues(to).Inc()
}
