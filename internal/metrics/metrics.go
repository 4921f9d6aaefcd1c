package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	SlotQueryDuration *prometheus.HistogramVec
	SlotsReturned     prometheus.Histogram

	QueueOperationsTotal   *prometheus.CounterVec
	QueueOperationDuration *prometheus.HistogramVec
	QueueMembers           prometheus.Histogram

	EventPublishFailures prometheus.Counter
	RenormalizeRunsTotal *prometheus.CounterVec
}

// NewCollector registers every collector with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewCollector(serviceName string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		SlotQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "availability",
			Name:      "slot_query_duration_seconds",
			Help:      "Time spent loading bookings and generating slots.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"kind"}),

		SlotsReturned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "availability",
			Name:      "slots_returned",
			Help:      "Number of free slots returned per query.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),

		QueueOperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Queue write operations by operation and outcome.",
		}, []string{"operation", "outcome"}),

		QueueOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "queue",
			Name:      "operation_duration_seconds",
			Help:      "Queue write latency including lock wait and commit.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"}),

		QueueMembers: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "queue",
			Name:      "members",
			Help:      "Queue size observed after each reorder.",
			Buckets:   prometheus.LinearBuckets(0, 10, 10),
		}),

		EventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Queue events that could not be published after commit.",
		}),

		RenormalizeRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "worker",
			Name:      "renormalize_runs_total",
			Help:      "Per-queue results of the periodic renormalization job.",
		}, []string{"outcome"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves only the collectors registered in g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
