package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Discard reasons recorded by IncDiscarded.
const (
	DiscardDuplicate = "duplicate"
	DiscardAhead     = "ahead"
)

// Metrics holds Prometheus counters and gauges for replay merges and the
// monitor HTTP surface.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
	mergesStartedTotal  prometheus.Counter
	mergesCaughtUpTotal prometheus.Counter
	mergesFailedTotal   prometheus.Counter
	deliveredTotal      prometheus.Counter
	discardedTotal      *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	activeMerges        prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_merge_http_requests_total",
		Help: "Total number of HTTP requests received by route",
	}, []string{"route"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_merge_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx) by route",
	}, []string{"route"})
	mergesStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replay_merge_started_total",
		Help: "Total number of merge controllers constructed",
	})
	mergesCaughtUpTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replay_merge_caught_up_total",
		Help: "Total number of merges that reached the live stream",
	})
	mergesFailedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replay_merge_failed_total",
		Help: "Total number of merges that failed",
	})
	deliveredTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replay_merge_fragments_delivered_total",
		Help: "Total number of fragments delivered to merge handlers",
	})
	discardedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_merge_fragments_discarded_total",
		Help: "Total number of fragments discarded by the position filter",
	}, []string{"reason"})
	transitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_merge_state_transitions_total",
		Help: "Total number of merge state transitions by target state",
	}, []string{"state"})
	activeMerges := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "replay_merge_active",
		Help: "Number of merges that have not reached a terminal state",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		mergesStartedTotal,
		mergesCaughtUpTotal,
		mergesFailedTotal,
		deliveredTotal,
		discardedTotal,
		transitionsTotal,
		activeMerges,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		mergesStartedTotal:  mergesStartedTotal,
		mergesCaughtUpTotal: mergesCaughtUpTotal,
		mergesFailedTotal:   mergesFailedTotal,
		deliveredTotal:      deliveredTotal,
		discardedTotal:      discardedTotal,
		transitionsTotal:    transitionsTotal,
		activeMerges:        activeMerges,
	}
}

// IncRequests increments the request counter for route.
func (m *Metrics) IncRequests(route string) {
	m.requestsTotal.WithLabelValues(route).Inc()
}

// IncErrors increments the error counter for route.
func (m *Metrics) IncErrors(route string) {
	m.errorsTotal.WithLabelValues(route).Inc()
}

// MergeStarted counts a new merge and marks it active.
func (m *Metrics) MergeStarted() {
	m.mergesStartedTotal.Inc()
	m.activeMerges.Inc()
}

// MergeCaughtUp counts a merge reaching the live stream.
func (m *Metrics) MergeCaughtUp() {
	m.mergesCaughtUpTotal.Inc()
}

// MergeFailed counts a failed merge.
func (m *Metrics) MergeFailed() {
	m.mergesFailedTotal.Inc()
}

// MergeFinished marks a merge as no longer active.
func (m *Metrics) MergeFinished() {
	m.activeMerges.Dec()
}

// IncDelivered increments the delivered fragments counter.
func (m *Metrics) IncDelivered() {
	m.deliveredTotal.Inc()
}

// IncDiscarded increments the discarded fragments counter for reason.
func (m *Metrics) IncDiscarded(reason string) {
	m.discardedTotal.WithLabelValues(reason).Inc()
}

// IncTransition counts a transition into state.
func (m *Metrics) IncTransition(state string) {
	m.transitionsTotal.WithLabelValues(state).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
