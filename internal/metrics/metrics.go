package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bfxsync"

// Metrics holds every collector exported by the process.
type Metrics struct {
	streamFrames   *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	authFailures   prometheus.Counter
	reconnects     prometheus.Counter
	commits        *prometheus.CounterVec
	backfill       *prometheus.CounterVec
	orderActions   *prometheus.CounterVec
	restRequests   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	bufferOverflow prometheus.Counter
}

// New constructs the collectors and registers them against reg.
// A nil registerer uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		streamFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "frames_total",
				Help:      "Stream frames received, by decoded kind.",
			},
			[]string{"kind"},
		),
		decodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Frames or records dropped because they could not be decoded.",
			},
			[]string{"source"},
		),
		authFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "auth_failures_total",
				Help:      "Account channel authentication failures.",
			},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "reconnects_total",
				Help:      "Stream connections established after the first.",
			},
		),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "frames_total",
				Help:      "Frames applied by the reconciler, by result (committed, noop, failed).",
			},
			[]string{"result"},
		),
		backfill: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backfill",
				Name:      "records_total",
				Help:      "History records seen by the backfill engine, by kind and result (inserted, skipped).",
			},
			[]string{"kind", "result"},
		),
		orderActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "actions_total",
				Help:      "Order lifecycle actions, by action and result.",
			},
			[]string{"action", "result"},
		),
		restRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rest",
				Name:      "requests_total",
				Help:      "REST calls, by endpoint and result.",
			},
			[]string{"endpoint", "result"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "poller",
				Name:      "job_seconds",
				Help:      "Scheduled job run durations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job", "result"},
		),
		bufferOverflow: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "buffer_grows_total",
				Help:      "Times the router event queue had to grow.",
			},
		),
	}
	reg.MustRegister(
		m.streamFrames, m.decodeErrors, m.authFailures, m.reconnects, m.commits,
		m.backfill, m.orderActions, m.restRequests, m.jobDuration, m.bufferOverflow,
	)
	return m
}

// ObserveFrame counts one received stream frame.
func (m *Metrics) ObserveFrame(kind string) {
	if m == nil {
		return
	}
	m.streamFrames.WithLabelValues(kind).Inc()
}

// ObserveDecodeError counts a dropped frame or record.
func (m *Metrics) ObserveDecodeError(source string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(source).Inc()
}

// ObserveAuthFailure counts a rejected account channel authentication.
func (m *Metrics) ObserveAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// ObserveReconnect counts a stream reconnect.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ObserveCommit counts one reconciled frame.
func (m *Metrics) ObserveCommit(result string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
}

// ObserveBackfill adds n records to the backfill counter.
func (m *Metrics) ObserveBackfill(kind, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.backfill.WithLabelValues(kind, result).Add(float64(n))
}

// ObserveOrderAction counts one order lifecycle action.
func (m *Metrics) ObserveOrderAction(action, result string) {
	if m == nil {
		return
	}
	m.orderActions.WithLabelValues(action, result).Inc()
}

// ObserveREST counts one REST call.
func (m *Metrics) ObserveREST(endpoint, result string) {
	if m == nil {
		return
	}
	m.restRequests.WithLabelValues(endpoint, result).Inc()
}

// ObserveJob records a scheduled job run.
func (m *Metrics) ObserveJob(job, result string, d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.jobDuration.WithLabelValues(job, result).Observe(d.Seconds())
}

// ObserveBufferGrow counts a router event queue resize.
func (m *Metrics) ObserveBufferGrow() {
	if m == nil {
		return
	}
	m.bufferOverflow.Inc()
}

// FrameCounter exposes the frame counter for testing and diagnostics.
func (m *Metrics) FrameCounter(kind string) prometheus.Counter {
	return m.streamFrames.WithLabelValues(kind)
}

// CommitCounter exposes the reconciler counter for testing and diagnostics.
func (m *Metrics) CommitCounter(result string) prometheus.Counter {
	return m.commits.WithLabelValues(result)
}

// RESTCounter exposes the REST counter for testing and diagnostics.
func (m *Metrics) RESTCounter(endpoint, result string) prometheus.Counter {
	return m.restRequests.WithLabelValues(endpoint, result)
}
