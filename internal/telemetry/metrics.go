package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farm_jobs_enqueued_total", Help: "Jobs and schedules accepted from producers"}, []string{"kind"})
	JobsCompleted   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farm_jobs_completed_total", Help: "Jobs completed successfully"}, []string{"kind"})
	JobsFailed      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farm_jobs_failed_total", Help: "Handler failures, including ones that will retry"}, []string{"kind"})
	JobsDeadLetter  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farm_jobs_dead_letter_total", Help: "Jobs that exhausted their attempts"}, []string{"kind"})
	InFlightGauge   = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "farm_jobs_inflight", Help: "Jobs currently executing"}, []string{"kind"})
	QueueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "farm_queue_depth", Help: "Ready jobs waiting for a worker"}, []string{"kind"})

	WeatherAssessments = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farm_weather_assessments_total", Help: "Weather risk evaluations by outcome"}, []string{"severity", "dangerous"})
	LowStockAlerts     = prometheus.NewCounter(prometheus.CounterOpts{Name: "farm_low_stock_alerts_total", Help: "Low-stock notifications emitted"})
	GenerationSeconds  = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "farm_generation_seconds",
		Help:    "Latency of inventory summary generation calls",
		Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsFailed,
			JobsDeadLetter,
			InFlightGauge,
			QueueDepthGauge,
			WeatherAssessments,
			LowStockAlerts,
			GenerationSeconds,
		)
	})
	return promhttp.Handler()
}
