// Package telemetry exposes the Prometheus metrics spec.md §5 calls out
// for concurrency observability (call volume, dial attempts, LLM race
// latency), grounded on the teacher's internal/observability/metrics
// package: CounterVec/HistogramVec built around a prometheus.Registerer,
// nil-receiver-safe Observe* methods so metrics stay optional in tests.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the full set of counters and histograms the call center
// exposes on /metrics.
type Metrics struct {
	callsTotal        *prometheus.CounterVec
	dialAttemptsTotal *prometheus.CounterVec
	raceLatency       *prometheus.HistogramVec
	geocodeLatency    prometheus.Histogram
	queueDepth        *prometheus.GaugeVec
}

// New builds and registers the call center's metrics. A nil reg registers
// against prometheus.DefaultRegisterer, matching the teacher's pattern.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "calls",
			Name:      "total",
			Help:      "Total inbound calls by terminal state.",
		}, []string{"service", "outcome"}),
		dialAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "transfer",
			Name:      "dial_attempts_total",
			Help:      "Total dial attempts against the transfer queue.",
		}, []string{"service", "result"}),
		raceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Subsystem: "llm",
			Name:      "race_latency_seconds",
			Help:      "Latency of the two-provider LLM race, by winning provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"winner", "cache_hit"}),
		geocodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Subsystem: "geocode",
			Name:      "lookup_latency_seconds",
			Help:      "Latency of geocode+pricing pipeline lookups.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "transfer",
			Name:      "queue_depth",
			Help:      "Remaining contacts in a call's transfer queue.",
		}, []string{"service"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal, m.dialAttemptsTotal, m.raceLatency, m.geocodeLatency, m.queueDepth)
	return m
}

// ObserveCallOutcome records a call reaching a terminal state, e.g.
// "connected", "voicemail", "abandoned".
func (m *Metrics) ObserveCallOutcome(service, outcome string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(service, outcome).Inc()
}

// ObserveDialAttempt records one dial against the transfer queue.
func (m *Metrics) ObserveDialAttempt(service, result string) {
	if m == nil {
		return
	}
	m.dialAttemptsTotal.WithLabelValues(service, result).Inc()
}

// ObserveRaceLatency records how long the LLM race took to settle.
func (m *Metrics) ObserveRaceLatency(winner string, cacheHit bool, seconds float64) {
	if m == nil {
		return
	}
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	m.raceLatency.WithLabelValues(winner, hit).Observe(seconds)
}

// ObserveGeocodeLatency records one geocode+pricing pipeline run.
func (m *Metrics) ObserveGeocodeLatency(seconds float64) {
	if m == nil {
		return
	}
	m.geocodeLatency.Observe(seconds)
}

// SetQueueDepth reports the remaining contact count in a call's transfer
// queue, sampled after each PopulateQueue/AdvanceQueue.
func (m *Metrics) SetQueueDepth(service string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(service).Set(float64(depth))
}
