package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModulesTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "code_api_modules_tracked",
		Help: "Number of authoritative modules currently tracked.",
	})
	ModulesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "code_api_modules_by_status",
		Help: "Number of tracked modules per status.",
	}, []string{"status"})
	CheckerSteps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "code_api_checker_steps_total",
		Help: "Total number of reconciliation passes performed.",
	})
	CheckerStepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "code_api_checker_step_duration_seconds",
		Help:    "Duration of checker reconciliation passes.",
		Buckets: prometheus.DefBuckets,
	})
	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "code_api_updates_total",
		Help: "Total number of module update jobs by outcome.",
	}, []string{"outcome"})
	UpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "code_api_update_duration_seconds",
		Help:    "Duration of module update jobs.",
		Buckets: prometheus.DefBuckets,
	})
	RemoteFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "code_api_remote_fetch_errors_total",
		Help: "Total number of failed remote index fetches.",
	})
	ContainersRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "code_api_containers_run_total",
		Help: "Total number of containers launched by the run worker.",
	})
)

// SetStatusCounts replaces the per-status gauge values with a fresh count.
// Series of statuses absent from the map are deleted so they don't linger.
func SetStatusCounts(counts map[string]int) {
	ModulesByStatus.Reset()
	for status, n := range counts {
		ModulesByStatus.WithLabelValues(status).Set(float64(n))
	}
}
