package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// BackendRequestDuration times every call to the invasion backend.
	BackendRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "invasion",
		Subsystem: "viewer",
		Name:      "backend_request_duration_seconds",
		Help:      "Duration of invasion backend calls, labeled by operation and result kind.",
		// Layer and simulation generation can take minutes.
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"op", "result"})

	// StaleResponsesDropped counts responses discarded because a newer request
	// for the same resource superseded them.
	StaleResponsesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invasion",
		Subsystem: "viewer",
		Name:      "stale_responses_dropped_total",
		Help:      "Responses dropped because their region or generation was superseded.",
	}, []string{"resource"})

	RegionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invasion",
		Subsystem: "viewer",
		Name:      "regions_created_total",
		Help:      "Region creation attempts, labeled by result.",
	}, []string{"result"})

	LayerGenerationWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "invasion",
		Subsystem: "viewer",
		Name:      "layer_generation_warnings_total",
		Help:      "Best-effort layer generations that failed or completed with errors.",
	})

	SimulationPolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "invasion",
		Subsystem: "viewer",
		Name:      "simulation_polls_total",
		Help:      "Simulation status polls, labeled by result.",
	}, []string{"result"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "invasion",
		Subsystem: "viewer",
		Name:      "active_sessions",
		Help:      "Number of open map sessions.",
	})

	WebsocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "invasion",
		Subsystem: "viewer",
		Name:      "websocket_clients",
		Help:      "Number of connected websocket clients.",
	})

	EventPublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "invasion",
		Subsystem: "viewer",
		Name:      "event_publish_errors_total",
		Help:      "Total number of RabbitMQ event publish errors.",
	})
)

// Register registers viewer metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			BackendRequestDuration,
			StaleResponsesDropped,
			RegionsCreated,
			LayerGenerationWarnings,
			SimulationPolls,
			ActiveSessions,
			WebsocketClients,
			EventPublishErrors,
		)
	})
}
