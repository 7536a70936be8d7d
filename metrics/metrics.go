package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick results.
const (
	TickAdvanced  = "advanced"
	TickSkipped   = "skipped"
	TickFailed    = "failed"
	TickCompleted = "completed"
)

type Metrics struct {
	Ticks            *prometheus.CounterVec
	WindFetchSeconds prometheus.Histogram
	ActiveRuns       prometheus.Gauge
	WaypointsReached prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Ticks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "navsim_ticks_total",
			Help: "Total number of simulation ticks by result.",
		}, []string{"result"}),
		WindFetchSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "navsim_wind_fetch_duration_seconds",
			Help:    "Duration of wind lookups made by the simulation.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveRuns: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "navsim_active_runs",
			Help: "Current number of running simulations.",
		}),
		WaypointsReached: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "navsim_waypoints_reached_total",
			Help: "Total number of route waypoints reached by simulated boats.",
		}),
	}
}
