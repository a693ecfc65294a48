package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Recorder = (*Collector)(nil)

// Collector records outcomes as Prometheus series.
type Collector struct {
	reminders     *prometheus.CounterVec
	digests       *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	candidates    prometheus.Gauge
	legacyMode    prometheus.Gauge
}

// NewCollector creates a Collector and registers its series with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_reminder_attempts_total",
			Help: "Reminder attempts by result.",
		}, []string{"result"}),
		digests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_digest_attempts_total",
			Help: "Digest attempts by result.",
		}, []string{"result"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_cycles_total",
			Help: "Reminder cycles by status.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadflow_cycle_duration_seconds",
			Help:    "Wall time of a reminder cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadflow_cycle_candidates",
			Help: "Candidates considered by the most recent cycle.",
		}),
		legacyMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadflow_claim_legacy_mode",
			Help: "1 when claims are bypassed.",
		}),
	}

	reg.MustRegister(
		c.reminders,
		c.digests,
		c.cycles,
		c.cycleDuration,
		c.candidates,
		c.legacyMode,
	)
	return c
}

func (c *Collector) RecordReminder(_ context.Context, result Result) {
	c.reminders.WithLabelValues(string(result)).Inc()
}

func (c *Collector) RecordDigest(_ context.Context, result Result) {
	c.digests.WithLabelValues(string(result)).Inc()
}

func (c *Collector) RecordCycle(_ context.Context, stats CycleStats) {
	status := "success"
	if stats.Aborted {
		status = "aborted"
	}
	c.cycles.WithLabelValues(status).Inc()
	c.cycleDuration.Observe(stats.Duration.Seconds())
	c.candidates.Set(float64(stats.Candidates))
	if stats.LegacyMode {
		c.legacyMode.Set(1)
	} else {
		c.legacyMode.Set(0)
	}
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
