// Package metrics exposes reconciliation counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snipe"

// Collector records the outcome of every tick. It implements
// service.TickRecorder.
type Collector struct {
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	errors       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	launched     prometheus.Counter
	terminated   prometheus.Counter
	filesRemoved prometheus.Counter
	lastTick     prometheus.Gauge
}

// NewCollector registers the collector's metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Reconciliation passes by result (ok, failed).",
		}, []string{"result"}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a reconciliation pass.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_errors_total",
			Help:      "Per-auction failures isolated during a tick, by stage.",
		}, []string{"stage"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_changes_total",
			Help:      "Auction status transitions applied by ticks, by new status.",
		}, []string{"status"}),
		launched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_launched_total",
			Help:      "Workers started by reconciliation.",
		}),
		terminated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_terminated_total",
			Help:      "Workers stopped by reconciliation.",
		}),
		filesRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_removed_total",
			Help:      "Orphaned task and log files deleted.",
		}),
		lastTick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time at which the last successful tick started.",
		}),
	}
}

// ObserveTick records one finished tick.
func (c *Collector) ObserveTick(report *domain.TickReport, err error) {
	if err != nil {
		c.ticks.WithLabelValues("failed").Inc()
	} else {
		c.ticks.WithLabelValues("ok").Inc()
	}
	if report == nil {
		return
	}
	c.tickDuration.Observe(report.Duration.Seconds())
	if err != nil {
		return
	}
	c.lastTick.Set(float64(report.StartedAt.Unix()))
	c.launched.Add(float64(report.Launched))
	c.terminated.Add(float64(report.Terminated))
	c.filesRemoved.Add(float64(report.FilesRemoved))
	for _, e := range report.Errors {
		c.errors.WithLabelValues(string(e.Stage)).Inc()
	}
	for _, ch := range report.Changes {
		c.transitions.WithLabelValues(string(ch.To)).Inc()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
