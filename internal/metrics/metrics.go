// Package metrics provides Prometheus metrics for scheddb
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for scheddb
type Metrics struct {
	// Query metrics
	QueriesTotal  prometheus.Counter
	QueryDuration prometheus.Histogram
	QueryResults  prometheus.Counter

	// Change stream metrics
	ChangesAppliedTotal   *prometheus.CounterVec
	ChangeRejectionsTotal prometheus.Counter

	// Rectification metrics
	GapsOpenGauge           prometheus.Gauge
	RetransmitRequestsTotal prometheus.Counter

	// Schedule metrics
	ParticipantsGauge    prometheus.Gauge
	ScheduleVersionGauge prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// Query metrics
	m.QueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheddb_queries_total",
			Help: "Total number of schedule queries evaluated",
		},
	)

	m.QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheddb_query_duration_seconds",
			Help:    "Duration of schedule query evaluation in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	m.QueryResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheddb_query_results_total",
			Help: "Total number of routes returned by queries",
		},
	)

	// Change stream metrics
	m.ChangesAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheddb_changes_applied_total",
			Help: "Total number of itinerary changes consumed from the bus",
		},
		[]string{"mode"},
	)

	m.ChangeRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheddb_change_rejections_total",
			Help: "Total number of change submissions rejected",
		},
	)

	// Rectification metrics
	m.GapsOpenGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheddb_gaps_open",
			Help: "Number of itinerary version ranges currently missing",
		},
	)

	m.RetransmitRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheddb_retransmit_requests_total",
			Help: "Total number of retransmit requests published",
		},
	)

	// Schedule metrics
	m.ParticipantsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheddb_participants",
			Help: "Number of registered participants",
		},
	)

	m.ScheduleVersionGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheddb_schedule_version",
			Help: "Current schedule-global version",
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheddb_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordQuery records one evaluated query
func (m *Metrics) RecordQuery(duration time.Duration, results int) {
	m.QueriesTotal.Inc()
	m.QueryDuration.Observe(duration.Seconds())
	m.QueryResults.Add(float64(results))
}

// RecordChangeApplied records one consumed change submission
func (m *Metrics) RecordChangeApplied(mode string) {
	m.ChangesAppliedTotal.WithLabelValues(mode).Inc()
}

// RecordChangeRejected records one rejected change submission
func (m *Metrics) RecordChangeRejected() {
	m.ChangeRejectionsTotal.Inc()
}

// RecordRetransmitRequests records retransmit requests published in one
// detection cycle
func (m *Metrics) RecordRetransmitRequests(requests int) {
	m.RetransmitRequestsTotal.Add(float64(requests))
}

// UpdateScheduleStats updates schedule-level gauges
func (m *Metrics) UpdateScheduleStats(participants int, version uint64, openGaps int) {
	m.ParticipantsGauge.Set(float64(participants))
	m.ScheduleVersionGauge.Set(float64(version))
	m.GapsOpenGauge.Set(float64(openGaps))
}
