package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tennis_refresh_cycles_total",
		Help: "Refresh cycles by outcome (ok, crawl_failed, persistence_failed).",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tennis_refresh_cycle_duration_seconds",
		Help:    "Wall time of one refresh cycle.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tennis_fetch_failures_total",
		Help: "Upstream fetches that failed and were degraded to empty.",
	}, []string{"kind"})

	ParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tennis_listing_parse_failures_total",
		Help: "Listing items skipped because they could not be parsed.",
	})

	Facilities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tennis_facilities",
		Help: "Facilities in the latest catalog.",
	})

	OpenSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tennis_open_slots",
		Help: "Open slots in the latest crawl.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tennis_notifications_total",
		Help: "Alarm decisions by result (sent, failed, suppressed, seeded).",
	}, []string{"result"})
)

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
